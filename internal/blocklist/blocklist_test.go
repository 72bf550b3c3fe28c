package blocklist

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestBlocklist_AddAndIsBlocked(t *testing.T) {
	clock := newClock()
	b := New(WithClock(clock.Now))

	b.Add("jti-1", clock.Now().Add(time.Minute))

	assert.True(t, b.IsBlocked("jti-1"))
	assert.False(t, b.IsBlocked("jti-2"), "a never-revoked token must not be blocked")
}

func TestBlocklist_IgnoresEmptyAndExpired(t *testing.T) {
	clock := newClock()
	b := New(WithClock(clock.Now))

	b.Add("", clock.Now().Add(time.Minute))
	b.Add("old", clock.Now().Add(-time.Second))

	assert.Equal(t, 0, b.Len())
	assert.False(t, b.IsBlocked("old"))
}

func TestBlocklist_KeepsLongerExpiry(t *testing.T) {
	clock := newClock()
	b := New(WithClock(clock.Now))

	b.Add("jti", clock.Now().Add(time.Hour))
	b.Add("jti", clock.Now().Add(time.Minute))

	clock.Advance(30 * time.Minute)
	assert.True(t, b.IsBlocked("jti"))
}

func TestBlocklist_LazyDeleteOnRead(t *testing.T) {
	clock := newClock()
	b := New(WithClock(clock.Now))

	b.Add("jti", clock.Now().Add(time.Minute))
	require.Equal(t, 1, b.Len())

	clock.Advance(time.Minute)
	assert.False(t, b.IsBlocked("jti"))
	assert.Equal(t, 0, b.Len(), "expired entry should be removed on read")
}

func TestBlocklist_NoUnboundedGrowth(t *testing.T) {
	clock := newClock()
	b := New(WithClock(clock.Now))

	const n = 500
	for i := 0; i < n; i++ {
		b.Add(fmt.Sprintf("jti-%d", i), clock.Now().Add(time.Duration(i%10+1)*time.Second))
	}
	require.Equal(t, n, b.Len())

	clock.Advance(11 * time.Second)
	for i := 0; i < n; i++ {
		assert.False(t, b.IsBlocked(fmt.Sprintf("jti-%d", i)))
	}
	assert.Equal(t, 0, b.Len())
}

func TestBlocklist_AddSweepsExpired(t *testing.T) {
	clock := newClock()
	b := New(WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		b.Add(fmt.Sprintf("jti-%d", i), clock.Now().Add(time.Second))
	}
	clock.Advance(2 * time.Second)

	b.Add("fresh", clock.Now().Add(time.Hour))
	assert.Equal(t, 1, b.Len())
}

func TestBlocklist_Sweep(t *testing.T) {
	clock := newClock()
	b := New(WithClock(clock.Now))

	b.Add("short", clock.Now().Add(time.Second))
	b.Add("long", clock.Now().Add(time.Hour))
	clock.Advance(time.Minute)

	assert.Equal(t, 1, b.Sweep())
	assert.True(t, b.IsBlocked("long"))
}

func TestBlocklist_Concurrent(t *testing.T) {
	b := New()
	expiry := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("jti-%d", i)
			b.Add(id, expiry)
			assert.True(t, b.IsBlocked(id))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, b.Len())
}
