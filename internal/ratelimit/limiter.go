package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"brand-asset-orchestrator/internal/auth"
	"brand-asset-orchestrator/internal/logger"
	"brand-asset-orchestrator/internal/telemetry"
)

// Limiter is a per-user token bucket kept in Redis so every API replica
// shares the same budget.
type Limiter struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// Options configures a Limiter.
type Options struct {
	Prefix          string
	Capacity        int
	RefillPerSecond float64
	// TTL bounds how long an idle bucket is kept; zero derives it from
	// the time needed to refill completely.
	TTL    time.Duration
	Now    func() time.Time
	Logger *logger.Logger
}

// New constructs a Limiter.
func New(client *redis.Client, opts Options) *Limiter {
	l := &Limiter{
		client:   client,
		prefix:   opts.Prefix,
		capacity: opts.Capacity,
		refill:   opts.RefillPerSecond,
		ttl:      opts.TTL,
		now:      opts.Now,
		log:      logger.OrNop(opts.Logger).With("component", "ratelimit"),
	}
	if l.prefix == "" {
		l.prefix = "rl:submit"
	}
	if l.capacity <= 0 {
		l.capacity = 20
	}
	if l.refill <= 0 {
		l.refill = 0.5
	}
	if l.ttl <= 0 {
		l.ttl = time.Duration(float64(l.capacity)/l.refill*float64(time.Second)) + time.Minute
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Key returns the bucket key for a user.
func (l *Limiter) Key(userID string) string {
	return fmt.Sprintf("%s:%s", l.prefix, userID)
}

// Allow consumes one token for userID if available and reports the
// remaining token count.
func (l *Limiter) Allow(ctx context.Context, userID string) (bool, float64, error) {
	now := l.now().UnixMilli()
	res, err := bucketScript.Run(ctx, l.client, []string{l.Key(userID)}, l.capacity, l.refill, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected bucket reply %T", res)
	}
	allowed, _ := arr[0].(int64)
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	return allowed == 1, tokens, nil
}

// Middleware rejects submissions over budget with 429. Anonymous requests
// pass through so the handler can answer 401, and Redis failures fail open.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserFrom(r.Context())
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		allowed, remaining, err := l.Allow(r.Context(), userID)
		if err != nil {
			l.log.Warn("rate limit check failed", "user_id", userID, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(remaining)))
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(1/l.refill)+1))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"error":"Too many submissions, slow down"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

tokens = math.min(capacity, tokens + math.max(0, now - last) / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
