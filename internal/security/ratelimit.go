package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// Rate limit kinds.
const (
	KindToolCall = "tool_call"
	KindAuth     = "auth"
)

// RateLimitConfig holds configurable rate limits. A zero value disables the
// corresponding limit.
type RateLimitConfig struct {
	ToolCallsPerMin int `yaml:"tool_calls_per_min"`
	AuthPerMin      int `yaml:"auth_per_min"`
}

// RateLimiter keeps one token bucket per (kind, key) pair. Keys are usually
// session IDs for tool calls and remote addresses for auth attempts.
// A nil *RateLimiter allows everything.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]int
	buckets map[string]*rate.Limiter
}

// NewRateLimiter creates a rate limiter with the given config.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limits: map[string]int{
			KindToolCall: cfg.ToolCallsPerMin,
			KindAuth:     cfg.AuthPerMin,
		},
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether an event of kind for key may happen now.
// Returns nil if allowed, ErrRateLimited if the limit is exceeded.
func (rl *RateLimiter) Allow(kind, key string) error {
	l := rl.limiter(kind, key)
	if l == nil || l.Allow() {
		return nil
	}
	return fmt.Errorf("%w: %s for %s", ErrRateLimited, kind, key)
}

// Wait blocks until an event of kind for key is permitted or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context, kind, key string) error {
	l := rl.limiter(kind, key)
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// The wait would outlast the context deadline.
		return fmt.Errorf("%w: %s for %s", ErrRateLimited, kind, key)
	}
	return nil
}

// Forget drops every bucket held for key.
func (rl *RateLimiter) Forget(key string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for kind := range rl.limits {
		delete(rl.buckets, bucketKey(kind, key))
	}
}

// Len returns the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) limiter(kind, key string) *rate.Limiter {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	perMin, ok := rl.limits[kind]
	if !ok || perMin <= 0 {
		return nil
	}
	bk := bucketKey(kind, key)
	l, ok := rl.buckets[bk]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin)
		rl.buckets[bk] = l
	}
	return l
}

func bucketKey(kind, key string) string {
	return kind + "\x00" + key
}
