package chat

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"cragcoach/internal/climbing"
)

const quotaTrackedUsers = 10_000

// QuotaConfig limits chat requests per user. PerMinute <= 0 disables the quota.
type QuotaConfig struct {
	PerMinute int
	Burst     int
}

// quota hands out one token bucket per user. Least recently seen users are
// evicted once quotaTrackedUsers is reached.
type quota struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *lru.Cache[climbing.UserID, *rate.Limiter]
}

func newQuota(cfg QuotaConfig) *quota {
	if cfg.PerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.PerMinute
	}
	limiters, err := lru.New[climbing.UserID, *rate.Limiter](quotaTrackedUsers)
	if err != nil {
		panic(err)
	}
	return &quota{
		limit:    rate.Every(time.Minute / time.Duration(cfg.PerMinute)),
		burst:    burst,
		limiters: limiters,
	}
}

// allow consumes one request for userID. A nil quota allows everything.
func (q *quota) allow(userID climbing.UserID, now time.Time) bool {
	if q == nil {
		return true
	}
	q.mu.Lock()
	limiter, ok := q.limiters.Get(userID)
	if !ok {
		limiter = rate.NewLimiter(q.limit, q.burst)
		q.limiters.Add(userID, limiter)
	}
	q.mu.Unlock()
	return limiter.AllowN(now, 1)
}
