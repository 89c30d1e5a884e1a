package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Action namespaces limiter keys so unrelated flows never share a budget.
type Action string

const (
	ActionLogin         Action = "login"
	ActionMFAChallenge  Action = "mfa_challenge"
	ActionPasswordReset Action = "password_reset"
	ActionRegister      Action = "register"
)

var (
	// ErrLimited is returned when the sliding window is full.
	ErrLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport-level failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// allowScript implements atomic check-and-increment over a sliding window:
// prune entries older than the window, admit only if a slot remains, and
// record the new attempt in the same script so two concurrent callers can
// never both take the last slot.
const allowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
if count >= limit then
  local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
  local retry = window
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, retry}
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return {1, limit - count - 1}
`

var allowLua = redis.NewScript(allowScript)

// Limiter is the shared sliding-window counter store. Keys are
// (action, identity-or-IP); correctness holds across service instances
// because the window lives in Redis, not in-process.
type Limiter struct {
	redis    redis.UniversalClient
	prefix   string
	fallback *localFallback
	seq      atomic.Uint64
	now      func() time.Time
}

func New(client redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "ias"
	}
	return &Limiter{
		redis:    client,
		prefix:   prefix,
		fallback: newLocalFallback(),
		now:      time.Now,
	}
}

func (l *Limiter) key(action Action, key string) string {
	return l.prefix + ":rl:" + string(action) + ":" + key
}

// Allow consumes one slot if the window has room. On Redis failure it falls
// back to a conservative in-process limiter so brute-force protection
// degrades rather than disappearing during an outage.
func (l *Limiter) Allow(ctx context.Context, action Action, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	member := strconv.FormatInt(now.UnixNano(), 36) + "-" + strconv.FormatUint(l.seq.Add(1), 36)

	res, err := allowLua.Run(ctx, l.redis,
		[]string{l.key(action, key)},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		member,
	).Result()
	if err != nil {
		return l.fallback.allow(action, key, limit, window), nil
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected limiter reply", ErrRedisUnavailable)
	}

	allowed, _ := reply[0].(int64)
	n, _ := reply[1].(int64)

	if allowed == 1 {
		return Decision{Allowed: true, Remaining: int(n)}, nil
	}

	retry := time.Duration(n) * time.Millisecond
	if retry <= 0 {
		retry = window
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// Reset clears the window for a key, e.g. after a successful login.
func (l *Limiter) Reset(ctx context.Context, action Action, key string) error {
	if err := l.redis.Del(ctx, l.key(action, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	l.fallback.reset(action, key)
	return nil
}
