package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, "ias"), mr
}

func TestAllowWithinLimit(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t)

	for i := 0; i < 5; i++ {
		d, err := limiter.Allow(ctx, ActionLogin, "alice", 5, time.Minute)
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("Allow #%d denied within limit", i)
		}
		if d.Remaining != 5-i-1 {
			t.Fatalf("Allow #%d remaining = %d, want %d", i, d.Remaining, 5-i-1)
		}
	}

	d, err := limiter.Allow(ctx, ActionLogin, "alice", 5, time.Minute)
	if err != nil {
		t.Fatalf("Allow over limit: %v", err)
	}
	if d.Allowed {
		t.Fatal("sixth attempt allowed with limit 5")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("denied decision carries no retry-after: %+v", d)
	}
}

func TestAllowConcurrentExactBudget(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t)

	const limit = 5
	const callers = 20

	start := make(chan struct{})
	decisions := make(chan Decision, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			<-start
			d, err := limiter.Allow(ctx, ActionLogin, "bob", limit, time.Minute)
			if err != nil {
				t.Errorf("Allow: %v", err)
				return
			}
			decisions <- d
		}()
	}

	close(start)
	wg.Wait()
	close(decisions)

	allowed := 0
	for d := range decisions {
		if d.Allowed {
			allowed++
		}
	}
	if allowed != limit {
		t.Fatalf("concurrent callers got %d allows, want exactly %d", allowed, limit)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t)

	for i := 0; i < 3; i++ {
		if d, _ := limiter.Allow(ctx, ActionLogin, "carol", 3, time.Minute); !d.Allowed {
			t.Fatal("carol denied within her own budget")
		}
	}
	if d, _ := limiter.Allow(ctx, ActionLogin, "carol", 3, time.Minute); d.Allowed {
		t.Fatal("carol allowed past her budget")
	}

	// A different identity and a different action are untouched.
	if d, _ := limiter.Allow(ctx, ActionLogin, "dave", 3, time.Minute); !d.Allowed {
		t.Fatal("dave affected by carol's budget")
	}
	if d, _ := limiter.Allow(ctx, ActionMFAChallenge, "carol", 3, time.Minute); !d.Allowed {
		t.Fatal("carol's mfa budget affected by login budget")
	}
}

func TestWindowSlides(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t)

	clock := time.Now()
	limiter.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		if d, _ := limiter.Allow(ctx, ActionPasswordReset, "erin", 2, time.Minute); !d.Allowed {
			t.Fatal("denied within budget")
		}
	}
	if d, _ := limiter.Allow(ctx, ActionPasswordReset, "erin", 2, time.Minute); d.Allowed {
		t.Fatal("allowed past budget")
	}

	// Past the window the old attempts no longer count.
	clock = clock.Add(2 * time.Minute)

	if d, _ := limiter.Allow(ctx, ActionPasswordReset, "erin", 2, time.Minute); !d.Allowed {
		t.Fatal("denied after the window slid past old attempts")
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t)

	for i := 0; i < 2; i++ {
		_, _ = limiter.Allow(ctx, ActionLogin, "frank", 2, time.Minute)
	}
	if d, _ := limiter.Allow(ctx, ActionLogin, "frank", 2, time.Minute); d.Allowed {
		t.Fatal("allowed past budget")
	}

	if err := limiter.Reset(ctx, ActionLogin, "frank"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if d, _ := limiter.Allow(ctx, ActionLogin, "frank", 2, time.Minute); !d.Allowed {
		t.Fatal("denied after reset")
	}
}

func TestFallbackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	limiter, mr := newTestLimiter(t)
	mr.Close()

	allowed := 0
	for i := 0; i < 10; i++ {
		d, err := limiter.Allow(ctx, ActionLogin, "grace", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow with redis down: %v", err)
		}
		if d.Allowed {
			allowed++
		}
	}

	// The local fallback still enforces the budget.
	if allowed > 3 {
		t.Fatalf("fallback allowed %d attempts, budget is 3", allowed)
	}
	if allowed == 0 {
		t.Fatal("fallback denied everything")
	}
}
