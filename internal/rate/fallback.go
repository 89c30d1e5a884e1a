package rate

import (
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

// localFallback approximates the shared window in-process while Redis is
// unreachable. It is stricter than the shared window on purpose: each
// instance enforces the full limit locally, so an outage can only reduce
// the global budget, never widen it.
type localFallback struct {
	mu       sync.Mutex
	limiters map[string]*xrate.Limiter
}

func newLocalFallback() *localFallback {
	return &localFallback{limiters: make(map[string]*xrate.Limiter)}
}

func (f *localFallback) allow(action Action, key string, limit int, window time.Duration) Decision {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := string(action) + ":" + key
	lim, ok := f.limiters[id]
	if !ok {
		lim = xrate.NewLimiter(xrate.Every(window/time.Duration(limit)), limit)
		f.limiters[id] = lim
	}

	if lim.Allow() {
		return Decision{Allowed: true, Remaining: int(lim.Tokens())}
	}

	return Decision{Allowed: false, RetryAfter: window / time.Duration(limit)}
}

func (f *localFallback) reset(action Action, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.limiters, string(action)+":"+key)
}
