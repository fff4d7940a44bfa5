// Package ratelimit throttles HTTP clients with per-client token buckets.
package ratelimit

import (
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the limiter.
type Config struct {
	// RequestsPerMinute is the sustained per-client rate. Zero disables
	// limiting.
	RequestsPerMinute int
	// Burst is the number of requests a client may issue back-to-back.
	Burst int
	// IdleTTL is how long an idle client's bucket is kept before cleanup.
	IdleTTL time.Duration
}

// LoadConfig reads limiter settings from the environment:
// RATE_LIMIT_RPM (default 60) and RATE_LIMIT_BURST (default 10).
// RATE_LIMIT_RPM=0 disables limiting.
func LoadConfig() Config {
	cfg := Config{
		RequestsPerMinute: 60,
		Burst:             10,
		IdleTTL:           10 * time.Minute,
	}
	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Burst = n
		}
	}
	return cfg
}

// Info describes the limiter state returned with each decision.
type Info struct {
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter applies a per-client token bucket.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*client
	done    chan struct{}
}

// NewLimiter creates a limiter and starts its idle-bucket cleanup loop.
func NewLimiter(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*client),
		done:    make(chan struct{}),
	}
	if cfg.RequestsPerMinute > 0 {
		go l.cleanupLoop()
	}
	return l
}

// Allow reports whether the client may proceed and returns limiter state
// for response headers.
func (l *Limiter) Allow(clientID string) (bool, Info) {
	if l.cfg.RequestsPerMinute <= 0 {
		return true, Info{}
	}

	l.mu.Lock()
	c, ok := l.clients[clientID]
	if !ok {
		c = &client{
			limiter: rate.NewLimiter(rate.Limit(float64(l.cfg.RequestsPerMinute)/60.0), l.cfg.Burst),
		}
		l.clients[clientID] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	info := Info{Limit: l.cfg.RequestsPerMinute}
	if c.limiter.Allow() {
		info.Remaining = int(c.limiter.Tokens())
		return true, info
	}
	reservation := c.limiter.Reserve()
	info.RetryAfter = reservation.Delay()
	reservation.Cancel()
	return false, info
}

// Stop terminates the cleanup loop.
func (l *Limiter) Stop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.cfg.IdleTTL)
			l.mu.Lock()
			for id, c := range l.clients {
				if c.lastSeen.Before(cutoff) {
					delete(l.clients, id)
				}
			}
			l.mu.Unlock()
		}
	}
}
