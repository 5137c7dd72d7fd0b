package valkey

import (
	"context"
	"fmt"
	"time"
)

// luaIncrementWindow atomically increments a window counter and assigns the
// window TTL when the counter is created. Without the script a crash between
// INCR and EXPIRE would leave a counter that never expires and throttles its
// identifier forever.
//
// KEYS[1] = counter key
// ARGV[1] = window length in milliseconds
//
// Returns the post-increment count.
const luaIncrementWindow = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`

// IncrementWindow atomically increments the counter at key and returns the
// post-increment count. The TTL is set on first increment only, so the window
// expires relative to its first event. Callers derive key from
// floor(now/window); counters roll over naturally as the bucket index
// advances.
func (s *Store) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("rate limit key cannot be empty")
	}

	count, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaIncrementWindow).
			Numkeys(1).
			Key(s.rateKey(key)).
			Arg(fmt.Sprintf("%d", window.Milliseconds())).
			Build(),
	).AsInt64()
	if err != nil {
		return 0, unavailable("increment window", err)
	}

	return count, nil
}
