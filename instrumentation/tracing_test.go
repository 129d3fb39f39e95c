package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

// All tracing helpers must be nil-safe; callers pass whatever span the
// context carried, which may be a no-op or nil.
func TestTracingHelpersNilSafe(t *testing.T) {
	RecordError(nil, errors.New("boom"))
	SetSpanSuccess(nil)
	SetSpanAttributes(nil, attribute.String("k", "v"))
	AddFlowAttributes(nil, "client-1", "user-1", "openid")
	AddStorageAttributes(nil, "get_client", "memory")
}

func TestTracingHelpersOnLiveSpan(t *testing.T) {
	inst, err := New(Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, span := inst.Tracer("server").Start(context.Background(), "test.operation")
	defer span.End()

	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	SetSpanSuccess(span)
	AddFlowAttributes(span, "client-1", "", "openid")
	AddFlowAttributes(span, "", "", "")
	AddStorageAttributes(span, "save_refresh_token", "valkey")
}
