package http

import (
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens  float64
	updated time.Time
}

// RateLimiter is a per-client token bucket. Buckets idle for longer than the
// client TTL are dropped by a background pruner until Stop is called.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	settings RateLimiterSettings
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter builds a limiter from validated settings.
func NewRateLimiter(settings RateLimiterSettings) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		settings: settings,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	if settings.ClientTTL > 0 {
		go rl.pruneEvery(settings.ClientTTL)
	}

	return rl
}

// Allow takes one token from client's bucket. When the bucket is empty it
// reports how long until the next token is available.
func (rl *RateLimiter) Allow(client string) (bool, time.Duration) {
	if client == "" {
		client = "unknown"
	}

	now := rl.now()
	capacity := float64(rl.settings.Burst)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[client]
	if !ok {
		b = &bucket{tokens: capacity, updated: now}
		rl.buckets[client] = b
	}

	if elapsed := now.Sub(b.updated).Seconds(); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*rl.settings.RequestsPerSecond)
	}
	b.updated = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	missing := 1 - b.tokens
	wait := time.Duration(missing / rl.settings.RequestsPerSecond * float64(time.Second))
	return false, wait
}

// Stop ends background pruning. It may be called more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) pruneEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.prune()
		}
	}
}

func (rl *RateLimiter) prune() {
	cutoff := rl.now().Add(-rl.settings.ClientTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for client, b := range rl.buckets {
		if b.updated.Before(cutoff) {
			delete(rl.buckets, client)
		}
	}
}

func (rl *RateLimiter) clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// retryAfterSeconds rounds wait up to whole seconds for the Retry-After header.
func retryAfterSeconds(wait time.Duration) int {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
