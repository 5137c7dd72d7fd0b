package security

import "time"

// DefaultClockSkewGracePeriod absorbs NTP drift between the issuing and
// validating hosts. A token is treated as expired only once it has been past
// its expiry for longer than this grace period.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsTokenExpired checks expiry with the default clock-skew grace period.
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod checks expiry with a custom grace period.
// A zero expiry means no expiration.
func IsTokenExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	return IsTokenExpiredAt(time.Now(), expiresAt, gracePeriod)
}

// IsTokenExpiredAt is the explicit-clock form, for callers that carry their
// own notion of now.
func IsTokenExpiredAt(now, expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}
