package server

import (
	"context"
	"fmt"
)

// CheckRateLimit applies the sliding-window limit to an identifier (client
// id, user id, or IP address). The window key is derived from
// floor(now/window), so counters roll over without cleanup.
//
// Fail-open: when the store is unavailable the request is allowed. A cache
// outage must not become a full service outage; the breach is logged so the
// degradation is visible.
func (s *Server) CheckRateLimit(ctx context.Context, identifier string) (bool, error) {
	if s.cfg.RateLimit.Disabled {
		return true, nil
	}

	window := s.cfg.RateLimit.Window
	bucket := now().UnixMilli() / window.Milliseconds()
	key := fmt.Sprintf("%s:%d", identifier, bucket)

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	count, err := s.store.IncrementWindow(opCtx, key, window)
	if err != nil {
		s.logger.Warn("Rate limit check failed open",
			"error", err)
		return true, nil
	}

	if count > s.cfg.RateLimit.Limit {
		if s.metrics != nil {
			s.metrics.RateLimitExceeded.Add(ctx, 1)
		}
		// Only the first breach in a window is worth an audit event;
		// past that the counter tells the story.
		if count == s.cfg.RateLimit.Limit+1 {
			s.audit.LogRateLimitExceeded(identifier, "")
		}
		return false, nil
	}

	return true, nil
}

// RecordSuspiciousPattern lets the embedding application feed heuristic
// detections (repeated failures from one identifier, anomalous scope
// requests) into the shared audit trail.
func (s *Server) RecordSuspiciousPattern(userID, clientID, pattern string, details map[string]any) {
	s.audit.LogSuspiciousPattern(userID, clientID, pattern, details)
}
