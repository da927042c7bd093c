// Package ratelimit throttles repeated authentication failures per key.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/models"
	"golang.org/x/time/rate"
)

// Config holds the failure budget for one key
type Config struct {
	MaxFailures int           // burst of failures allowed
	Window      time.Duration // time to fully refill the budget
}

// DefaultConfig allows 8 failures per 15 minutes
func DefaultConfig() Config {
	return Config{MaxFailures: 8, Window: 15 * time.Minute}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter is a token bucket per key: failures spend tokens, success resets the key
type KeyedLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	config    Config
	clock     clock.Clock
	lastSweep time.Time
}

// NewKeyedLimiter creates a new KeyedLimiter
func NewKeyedLimiter(config Config, clk clock.Clock) *KeyedLimiter {
	return &KeyedLimiter{
		buckets: make(map[string]*bucket),
		config:  config,
		clock:   clk,
	}
}

func (l *KeyedLimiter) bucketLocked(key string, now time.Time) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		every := l.config.Window / time.Duration(l.config.MaxFailures)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), l.config.MaxFailures)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

// Allow returns a RateLimited error with a retry-after hint when key has no budget left
func (l *KeyedLimiter) Allow(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b := l.bucketLocked(key, now)
	if b.limiter.TokensAt(now) >= 1 {
		return nil
	}

	r := b.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)

	if delay < time.Second {
		delay = time.Second
	}
	return models.NewRateLimitedError(delay.Round(time.Second))
}

// Failure spends one token for key
func (l *KeyedLimiter) Failure(ctx context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.bucketLocked(key, now).limiter.AllowN(now, 1)
	l.sweepLocked(now)
}

// Success forgets key
func (l *KeyedLimiter) Success(ctx context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.buckets, key)
}

// sweepLocked drops buckets that have been idle long enough to be full again.
// It walks the map at most once per window.
func (l *KeyedLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.config.Window {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.config.Window {
			delete(l.buckets, key)
		}
	}
}

// EmailKey returns the limiter key for an email address; the address itself is never stored
func EmailKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "email:" + hex.EncodeToString(sum[:])
}
