// Package instrumentation provides OpenTelemetry metrics and tracing for
// the authorization core: counters for issued codes, exchanges, refresh
// rotations, revocations, and security events, plus storage operation
// histograms and size gauges.
//
// When disabled, no-op providers are used so instrumented call sites
// carry zero overhead.
package instrumentation
