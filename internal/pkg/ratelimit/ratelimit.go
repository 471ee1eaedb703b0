package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/auth"
)

//Limiter decides whether a key may perform one more action within the current window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

//RedisLimiter counts actions per key in redis so that all instances share the same budget
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

//NewRedisLimiter creates a limiter allowing limit actions per window and key
func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, limit: int64(limit), window: window}
}

//Allow increments the counter of the key and sets its expiry on the first hit of a window
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	userKey := l.prefix + ":" + key

	count, err := l.client.Incr(ctx, userKey).Result()
	if err != nil {
		return false, 0, err
	}

	if count == 1 {
		if err = l.client.Expire(ctx, userKey, l.window).Err(); err != nil {
			return false, 0, err
		}
	}

	if count > l.limit {
		retryAfter, err := l.client.TTL(ctx, userKey).Result()
		if err != nil {
			return false, 0, err
		}
		return false, retryAfter, nil
	}

	return true, 0, nil
}

//MemoryLimiter implements per-key fixed-window rate limiting within a single instance
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

type bucket struct {
	count    int
	windowAt time.Time
}

//NewMemoryLimiter creates a limiter allowing limit actions per window and key
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: map[string]*bucket{},
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

//Allow checks if the key is within the rate limit
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowAt) >= l.window {
		l.cleanup(now)
		l.buckets[key] = &bucket{count: 1, windowAt: now}
		return true, 0, nil
	}

	if b.count >= l.limit {
		return false, b.windowAt.Add(l.window).Sub(now), nil
	}

	b.count++
	return true, 0, nil
}

//cleanup drops expired buckets, must be called with mu held
func (l *MemoryLimiter) cleanup(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.windowAt) >= l.window {
			delete(l.buckets, k)
		}
	}
}

//Middleware limits signed in users. It must be mounted after auth.Middleware.
//Requests are let through when the limiter itself fails.
func Middleware(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.IdentityFromContext(r.Context())
			if identity == nil {
				next.ServeHTTP(w, r)
				return
			}

			allowed, retryAfter, err := limiter.Allow(r.Context(), identity.ID)
			if err != nil {
				log.Errorf("Rate limiter failed: %s", err.Error())
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error":       "rate limit exceeded",
					"retry_after": math.Ceil(retryAfter.Seconds()),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
