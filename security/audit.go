package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Audit pipeline defaults.
const (
	// DefaultAuditBatchSize is the queue depth that triggers a flush.
	DefaultAuditBatchSize = 100

	// DefaultAuditFlushInterval is the longest an event waits in the queue.
	DefaultAuditFlushInterval = 30 * time.Second

	// DefaultAuditMaxQueue bounds requeued events after a flush failure.
	// Beyond it the oldest events are dropped and counted.
	DefaultAuditMaxQueue = 1000

	// DefaultAuditFlushTimeout bounds a single sink write.
	DefaultAuditFlushTimeout = 5 * time.Second
)

// Event is an append-only security audit record. Events are never mutated
// after creation.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Severity  Severity       `json:"severity"`
	UserID    string         `json:"user_id,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink persists flushed audit event batches. The Valkey store implements it
// for immediate queryability; tests use an in-memory sink.
type Sink interface {
	WriteEvents(ctx context.Context, events []*Event) error
}

// AuditConfig configures an AuditLogger. Zero values take the defaults above.
type AuditConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxQueue      int
	FlushTimeout  time.Duration

	// Production suppresses the human-readable slog mirror of flushed
	// events.
	Production bool

	// Logger receives operational messages and, outside production, the
	// event mirror.
	Logger *slog.Logger

	// OnDrop is invoked with the number of events dropped when the requeue
	// cap overflows. Used to feed metrics.
	OnDrop func(n int)
}

// AuditLogger batches security events in memory and flushes them to a Sink.
// Submission never blocks the request path: events go into a lock-guarded
// buffer and a background loop flushes at BatchSize or FlushInterval,
// whichever comes first. Critical events flush synchronously.
//
// A flush takes ownership of the current buffer before iterating it
// (swap-and-flush), so concurrent appends never race a flush in flight.
type AuditLogger struct {
	mu     sync.Mutex
	queue  []*Event
	closed bool

	sink   Sink
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration
	maxQueue      int
	flushTimeout  time.Duration
	production    bool
	onDrop        func(int)

	dropped atomic.Int64

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewAuditLogger creates an audit logger and starts its flush loop. Call
// Close on shutdown to flush remaining events.
func NewAuditLogger(sink Sink, cfg AuditConfig) *AuditLogger {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultAuditBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultAuditFlushInterval
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = DefaultAuditMaxQueue
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultAuditFlushTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	a := &AuditLogger{
		sink:          sink,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		maxQueue:      cfg.MaxQueue,
		flushTimeout:  cfg.FlushTimeout,
		production:    cfg.Production,
		onDrop:        cfg.OnDrop,
		kick:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	go a.flushLoop()
	return a
}

// Record enqueues an event. Fire-and-forget for everything below critical;
// critical events are flushed synchronously before Record returns.
func (a *AuditLogger) Record(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = SeverityLow
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.logger.Warn("Audit event recorded after close, dropping",
			"event_type", event.Type)
		return
	}
	a.queue = append(a.queue, &event)
	depth := len(a.queue)
	a.mu.Unlock()

	if event.Severity == SeverityCritical {
		ctx, cancel := context.WithTimeout(context.Background(), a.flushTimeout)
		defer cancel()
		if err := a.Flush(ctx); err != nil {
			a.logger.Error("Synchronous flush of critical audit event failed",
				"event_type", event.Type, "error", err)
		}
		return
	}

	if depth >= a.batchSize {
		select {
		case a.kick <- struct{}{}:
		default:
		}
	}
}

// Flush writes all queued events to the sink. On failure the batch is
// requeued at the front, capped at MaxQueue with the oldest events dropped.
func (a *AuditLogger) Flush(ctx context.Context) error {
	a.mu.Lock()
	batch := a.queue
	a.queue = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := a.sink.WriteEvents(ctx, batch); err != nil {
		a.requeue(batch)
		return err
	}

	if !a.production {
		for _, e := range batch {
			a.logger.Info("security_audit",
				"event_id", e.ID,
				"event_type", e.Type,
				"severity", e.Severity,
				"user_id_hash", hashForLogging(e.UserID),
				"client_id", e.ClientID,
				"ip_address", e.IPAddress,
				"request_id", e.RequestID,
				"details", e.Details,
				"timestamp", e.Timestamp,
			)
		}
	}

	return nil
}

// requeue puts a failed batch back in front of anything recorded since,
// enforcing the queue cap.
func (a *AuditLogger) requeue(batch []*Event) {
	a.mu.Lock()
	a.queue = append(batch, a.queue...)
	overflow := len(a.queue) - a.maxQueue
	if overflow > 0 {
		a.queue = a.queue[overflow:]
		a.dropped.Add(int64(overflow))
		if a.onDrop != nil {
			a.onDrop(overflow)
		}
	}
	a.mu.Unlock()

	if overflow > 0 {
		a.logger.Warn("Audit queue overflow, dropped oldest events",
			"dropped", overflow,
			"total_dropped", a.dropped.Load())
	}
}

// Dropped returns the total number of events dropped due to queue overflow.
func (a *AuditLogger) Dropped() int64 {
	return a.dropped.Load()
}

// QueueDepth returns the current number of buffered events.
func (a *AuditLogger) QueueDepth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// Close stops the flush loop and flushes remaining events.
func (a *AuditLogger) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.stop)
	<-a.done
	return a.Flush(ctx)
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-a.kick:
		case <-a.stop:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), a.flushTimeout)
		if err := a.Flush(ctx); err != nil {
			a.logger.Warn("Audit flush failed, batch requeued", "error", err)
		}
		cancel()
	}
}

// ==================== Event helpers ====================
//
// Each helper assigns the default severity for its case so call sites stay
// consistent.

// LogAuthorizationSuccess records an approved authorization request.
func (a *AuditLogger) LogAuthorizationSuccess(userID, clientID, ipAddress string) {
	a.Record(Event{
		Type:      EventAuthorizationSuccess,
		Severity:  SeverityLow,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogAuthorizationFailure records a rejected authorization request.
func (a *AuditLogger) LogAuthorizationFailure(userID, clientID, ipAddress, reason string) {
	a.Record(Event{
		Type:      EventAuthorizationFailure,
		Severity:  SeverityMedium,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogTokenExchangeSuccess records a successful code-for-token exchange.
func (a *AuditLogger) LogTokenExchangeSuccess(userID, clientID string, scopes []string) {
	a.Record(Event{
		Type:     EventTokenExchangeSuccess,
		Severity: SeverityLow,
		UserID:   userID,
		ClientID: clientID,
		Details:  map[string]any{"scopes": scopes},
	})
}

// LogTokenExchangeFailure records a rejected token exchange. Failures of the
// client-credential check itself are high severity; everything else medium.
func (a *AuditLogger) LogTokenExchangeFailure(userID, clientID, ipAddress, reason string, credentialFailure bool) {
	severity := SeverityMedium
	if credentialFailure {
		severity = SeverityHigh
	}
	a.Record(Event{
		Type:      EventTokenExchangeFailure,
		Severity:  severity,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogTokenRevoked records a token revocation.
func (a *AuditLogger) LogTokenRevoked(userID, clientID string, kind string) {
	a.Record(Event{
		Type:     EventTokenRevoked,
		Severity: SeverityLow,
		UserID:   userID,
		ClientID: clientID,
		Details:  map[string]any{"token_kind": kind},
	})
}

// LogCSRFViolation records a state validation failure. Always high severity.
func (a *AuditLogger) LogCSRFViolation(clientID, ipAddress string) {
	a.Record(Event{
		Type:      EventCSRFViolation,
		Severity:  SeverityHigh,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogPKCEViolation records a PKCE validation failure. Always high severity.
func (a *AuditLogger) LogPKCEViolation(userID, clientID, reason string) {
	a.Record(Event{
		Type:     EventPKCEViolation,
		Severity: SeverityHigh,
		UserID:   userID,
		ClientID: clientID,
		Details:  map[string]any{"reason": reason},
	})
}

// LogSuspiciousPattern records a heuristic detection such as a weak PKCE
// verifier or anomalous usage.
func (a *AuditLogger) LogSuspiciousPattern(userID, clientID, pattern string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["pattern"] = pattern
	a.Record(Event{
		Type:     EventSuspiciousPattern,
		Severity: SeverityMedium,
		UserID:   userID,
		ClientID: clientID,
		Details:  details,
	})
}

// LogRateLimitExceeded records a sliding-window limit breach.
func (a *AuditLogger) LogRateLimitExceeded(identifier, ipAddress string) {
	a.Record(Event{
		Type:      EventRateLimitExceeded,
		Severity:  SeverityMedium,
		IPAddress: ipAddress,
		Details:   map[string]any{"identifier": hashForLogging(identifier)},
	})
}

// hashForLogging reduces sensitive values to a short SHA-256 prefix so logs
// stay correlatable without holding PII or secrets.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
