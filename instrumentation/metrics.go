package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server core.
type Metrics struct {
	// Flow metrics
	CodeIssued     metric.Int64Counter
	CodeExchanged  metric.Int64Counter
	TokenRefreshed metric.Int64Counter
	TokenRevoked   metric.Int64Counter
	TokenValidated metric.Int64Counter

	// Registry metrics
	ApplicationCreated metric.Int64Counter
	SecretRotated      metric.Int64Counter

	// Security metrics
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter

	// Audit metrics
	AuditEventsDropped metric.Int64Counter
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	meter := inst.Meter("server")

	var err error

	m.CodeIssued, err = meter.Int64Counter(
		"oauth.code.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.issued counter: %w", err)
	}

	m.CodeExchanged, err = meter.Int64Counter(
		"oauth.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.TokenRefreshed, err = meter.Int64Counter(
		"oauth.token.refreshed",
		metric.WithDescription("Number of tokens refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.TokenRevoked, err = meter.Int64Counter(
		"oauth.token.revoked",
		metric.WithDescription("Number of tokens revoked"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.revoked counter: %w", err)
	}

	m.TokenValidated, err = meter.Int64Counter(
		"oauth.token.validated",
		metric.WithDescription("Number of access token validations"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.validated counter: %w", err)
	}

	m.ApplicationCreated, err = meter.Int64Counter(
		"oauth.application.created",
		metric.WithDescription("Number of applications registered"),
		metric.WithUnit("{application}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create application.created counter: %w", err)
	}

	m.SecretRotated, err = meter.Int64Counter(
		"oauth.secret.rotated",
		metric.WithDescription("Number of client secret rotations"),
		metric.WithUnit("{rotation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret.rotated counter: %w", err)
	}

	securityMeter := inst.Meter("security")

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oauth.ratelimit.exceeded",
		metric.WithDescription("Number of requests rejected by the sliding-window limiter"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	m.PKCEValidationFailed, err = securityMeter.Int64Counter(
		"oauth.pkce.validation.failed",
		metric.WithDescription("Number of failed PKCE validations"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pkce.validation.failed counter: %w", err)
	}

	m.AuditEventsDropped, err = securityMeter.Int64Counter(
		"oauth.audit.events.dropped",
		metric.WithDescription("Number of audit events dropped by the requeue cap"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.dropped counter: %w", err)
	}

	return m, nil
}

// RecordResult increments a counter with a success/error result attribute.
func RecordResult(ctx context.Context, counter metric.Int64Counter, err error) {
	if counter == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
