package httpapi

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"alyanspace.org/adminauth/internal/obs"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter counts hits per key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Policy is one named limit. A zero Limit disables it.
type Policy struct {
	Name    string
	Limit   int
	Window  time.Duration
	Message string
	Skip    func(*http.Request) bool
}

// Policies groups the limits applied to the API surface.
type Policies struct {
	API   Policy
	Auth  Policy
	Login Policy
}

// DefaultPolicies returns the stock limits. Development disables the auth
// and login limits.
func DefaultPolicies(development bool) Policies {
	skipDev := func(*http.Request) bool { return development }
	return Policies{
		API: Policy{
			Name:    "api",
			Limit:   1000,
			Window:  15 * time.Minute,
			Message: "Too many API requests from this IP, please try again later.",
		},
		Auth: Policy{
			Name:    "auth",
			Limit:   50,
			Window:  2 * time.Minute,
			Message: "Too many login attempts, please try again later.",
			Skip: func(r *http.Request) bool {
				return development || r.URL.Path == "/api/health"
			},
		},
		Login: Policy{
			Name:    "login",
			Limit:   10,
			Window:  5 * time.Minute,
			Message: "Too many login attempts from this IP, please try again in 5 minutes.",
			Skip:    skipDev,
		},
	}
}

// RateLimit enforces p per client IP. Limiter errors fail open.
func RateLimit(next http.Handler, limiter Limiter, p Policy) http.Handler {
	if limiter == nil || p.Limit <= 0 || p.Window <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.Skip != nil && p.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if ip == "" {
			ip = "unknown"
		}
		d, err := limiter.Allow(r.Context(), p.Name+":"+ip, p.Limit, p.Window)
		if err != nil {
			obs.Logger().ErrorContext(r.Context(), "rate limiter unavailable", "policy", p.Name, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Round(time.Millisecond).Seconds()))
			if retry < 1 {
				retry = 1
			}
			obs.ObserveRateLimited(p.Name)
			obs.Logger().WarnContext(r.Context(), "rate limit exceeded",
				"policy", p.Name, "ip", ip, "path", r.URL.Path, "user_agent", r.UserAgent())
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			msg := p.Message
			if msg == "" {
				msg = "Too many requests. Please try again later."
			}
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"success":    false,
				"error":      msg,
				"retryAfter": retry,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MemoryLimiter keeps one token bucket per key, refilled at limit/window.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	ttl     time.Duration
	now     func() time.Time
	swept   time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		ttl:     30 * time.Minute,
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.swept) > time.Minute {
		for k, b := range m.buckets {
			if now.Sub(b.seen) > m.ttl && now.Sub(b.seen) > window {
				delete(m.buckets, k)
			}
		}
		m.swept = now
	}

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
		m.buckets[key] = b
	}
	b.seen = now

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return Decision{RetryAfter: window}, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{RetryAfter: delay.Round(time.Millisecond)}, nil
	}
	return Decision{Allowed: true}, nil
}

// fixedWindowScript increments KEYS[1], starting its expiry on the first
// hit, and returns the count and the remaining window in milliseconds.
var fixedWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// RedisLimiter counts hits in fixed windows shared by every instance.
type RedisLimiter struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisLimiter(rdb redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "adminauth"
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, l.rdb,
		[]string{l.prefix + ":ratelimit:" + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit: unexpected reply %v", res)
	}
	if res[0] <= int64(limit) {
		return Decision{Allowed: true}, nil
	}
	retry := time.Duration(res[1]) * time.Millisecond
	if retry <= 0 {
		retry = window
	}
	return Decision{RetryAfter: retry}, nil
}
