package instrumentation

import (
	"context"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "default config",
			config:  Config{},
			wantErr: false,
		},
		{
			name: "with service name and version",
			config: Config{
				Enabled:        true,
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
			},
			wantErr: false,
		},
		{
			name: "empty service name gets default",
			config: Config{
				Enabled: true,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}

			if inst.Meter("server") == nil {
				t.Error("Meter('server') returned nil")
			}
			if inst.Tracer("storage") == nil {
				t.Error("Tracer('storage') returned nil")
			}
			if inst.Metrics() == nil {
				t.Error("Metrics() returned nil")
			}
			if inst.MeterProvider() == nil || inst.TracerProvider() == nil {
				t.Error("providers must never be nil")
			}
		})
	}
}

func TestShutdownIdempotent(t *testing.T) {
	inst, err := New(Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown must be a no-op: %v", err)
	}
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	inst, err := New(Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 1 },
		func() int64 { return 2 },
		func() int64 { return 3 },
		func() int64 { return 4 },
	)
	if err != nil {
		t.Errorf("RegisterStorageSizeCallbacks: %v", err)
	}

	// Nil callbacks are allowed; the observer skips them.
	if err := inst.RegisterStorageSizeCallbacks(nil, nil, nil, nil); err != nil {
		t.Errorf("RegisterStorageSizeCallbacks with nil callbacks: %v", err)
	}
}
