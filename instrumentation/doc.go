// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server core. Instrumentation is optional: when disabled,
// no-op providers keep the overhead at zero and callers need no nil checks.
package instrumentation
