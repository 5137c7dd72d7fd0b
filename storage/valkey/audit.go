package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ledgerline/oauth-core/security"
)

const (
	// maxAuditEvents caps the audit event list. Older events are trimmed
	// away; long-term retention belongs to the repository, not the cache.
	maxAuditEvents = 10000

	// auditEventTTL expires the whole list once no events have been written
	// for this long.
	auditEventTTL = 30 * 24 * time.Hour
)

// Compile-time check: the store doubles as the audit sink.
var _ security.Sink = (*Store)(nil)

// WriteEvents persists a batch of audit events to a capped Valkey list,
// newest first. Implements security.Sink.
func (s *Store) WriteEvents(ctx context.Context, events []*security.Event) error {
	if len(events) == 0 {
		return nil
	}

	key := s.auditKey()

	payloads := make([]string, 0, len(events))
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal audit event: %w", err)
		}
		payloads = append(payloads, string(data))
	}

	if err := s.client.Do(ctx,
		s.client.B().Lpush().Key(key).Element(payloads...).Build(),
	).Error(); err != nil {
		return unavailable("write audit events", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Ltrim().Key(key).Start(0).Stop(maxAuditEvents-1).Build(),
	).Error(); err != nil {
		s.logger.Warn("Failed to trim audit event list", "error", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Expire().Key(key).Seconds(int64(auditEventTTL.Seconds())).Build(),
	).Error(); err != nil {
		s.logger.Warn("Failed to set TTL on audit event list", "error", err)
	}

	s.logger.Debug("Wrote audit events", "count", len(events))
	return nil
}

// RecentAuditEvents returns up to limit of the most recent audit events,
// newest first.
func (s *Store) RecentAuditEvents(ctx context.Context, limit int) ([]*security.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	payloads, err := s.client.Do(ctx,
		s.client.B().Lrange().Key(s.auditKey()).Start(0).Stop(int64(limit-1)).Build(),
	).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, unavailable("read audit events", err)
	}

	events := make([]*security.Event, 0, len(payloads))
	for _, data := range payloads {
		var event security.Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			s.logger.Warn("Skipping malformed audit event", "error", err)
			continue
		}
		events = append(events, &event)
	}

	return events, nil
}
