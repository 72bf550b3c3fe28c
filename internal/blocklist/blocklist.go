// Package blocklist tracks revoked token identifiers until the tokens would
// have expired on their own. Entries never outlive the token they block, so
// memory is bounded by the number of revoked-but-still-valid tokens.
package blocklist

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Blocklist is safe for concurrent use.
type Blocklist struct {
	mu      sync.Mutex
	entries map[string]time.Time // jti -> natural expiry
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Blocklist.
type Option func(*Blocklist)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Blocklist) {
		b.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Blocklist) {
		b.logger = logger
	}
}

// New creates an empty Blocklist.
func New(opts ...Option) *Blocklist {
	b := &Blocklist{
		entries: make(map[string]time.Time),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add blocks tokenID until naturalExpiry and sweeps entries that are already
// past their own expiry. Tokens that have already expired are not recorded.
func (b *Blocklist) Add(tokenID string, naturalExpiry time.Time) {
	if tokenID == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := b.sweepLocked(now)
	if removed > 0 {
		b.logger.Debug("blocklist swept expired entries", zap.Int("removed", removed))
	}

	if !naturalExpiry.After(now) {
		return
	}
	if existing, ok := b.entries[tokenID]; ok && existing.After(naturalExpiry) {
		return
	}
	b.entries[tokenID] = naturalExpiry
}

// IsBlocked reports whether tokenID is revoked and not yet past its expiry.
// An expired entry found on lookup is deleted.
func (b *Blocklist) IsBlocked(tokenID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	expiry, ok := b.entries[tokenID]
	if !ok {
		return false
	}
	if !expiry.After(b.now()) {
		delete(b.entries, tokenID)
		return false
	}
	return true
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (b *Blocklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Sweep removes every expired entry and returns how many were removed.
func (b *Blocklist) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sweepLocked(b.now())
}

func (b *Blocklist) sweepLocked(now time.Time) int {
	removed := 0
	for id, expiry := range b.entries {
		if !expiry.After(now) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}
