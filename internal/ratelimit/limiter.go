// Package ratelimit provides per-IP sliding-window admission control for
// abuse-prone endpoints such as identity creation and submissions.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// sweepEvery is how many IsAllowed calls pass between full sweeps of idle IPs.
const sweepEvery = 100

// Config holds the budget of a limiter.
type Config struct {
	// Name identifies the limiter in logs and metrics.
	Name string
	// Limit is the maximum number of requests per IP within Window.
	Limit int
	// Window is the trailing time window.
	Window time.Duration
}

// Limiter is a sliding-window limiter keyed by client IP.
//
// Each IP keeps the timestamps of its admitted requests within the window.
// Stale timestamps are pruned on every access to that IP, and every
// sweepEvery checks the whole table is swept so IPs that went quiet are
// dropped. Memory is therefore bounded by recently active IPs.
type Limiter struct {
	mu sync.Mutex

	name   string
	limit  int
	window time.Duration

	windows map[string][]time.Time
	calls   uint64

	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New creates a Limiter. Non-positive budgets fall back to 10 per minute.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	l := &Limiter{
		name:    cfg.Name,
		limit:   cfg.Limit,
		window:  cfg.Window,
		windows: make(map[string][]time.Time),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the configured limiter name.
func (l *Limiter) Name() string {
	return l.name
}

// Window returns the configured window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// IsAllowed checks ip against the budget. An admitted request is recorded;
// a denied one is not.
func (l *Limiter) IsAllowed(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweepLocked(cutoff)
	}

	recent := prune(l.windows[ip], cutoff)
	if len(recent) >= l.limit {
		l.windows[ip] = recent
		l.logger.Warn("rate limit exceeded",
			zap.String("limiter", l.name),
			zap.String("ip", ip),
			zap.Int("requests", len(recent)),
			zap.Duration("window", l.window))
		return false
	}

	l.windows[ip] = append(recent, now)
	return true
}

// Remaining returns how many more requests ip may make in the current window.
func (l *Limiter) Remaining(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.windows[ip], l.now().Add(-l.window))
	if len(recent) == 0 {
		delete(l.windows, ip)
	} else {
		l.windows[ip] = recent
	}

	remaining := l.limit - len(recent)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// RetryAfter returns how long until ip regains one unit of budget.
// It is zero when ip is currently under budget.
func (l *Limiter) RetryAfter(ip string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := prune(l.windows[ip], now.Add(-l.window))
	if len(recent) < l.limit {
		return 0
	}
	return recent[0].Add(l.window).Sub(now)
}

// Reset forgets all recorded requests for ip.
func (l *Limiter) Reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, ip)
}

// Len returns the number of tracked IPs.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *Limiter) sweepLocked(cutoff time.Time) {
	for ip, stamps := range l.windows {
		recent := prune(stamps, cutoff)
		if len(recent) == 0 {
			delete(l.windows, ip)
		} else {
			l.windows[ip] = recent
		}
	}
}

// prune drops timestamps at or before cutoff. Timestamps are appended in
// order, so the live ones are a suffix.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[i:]...)
}
