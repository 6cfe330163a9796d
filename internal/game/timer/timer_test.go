package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 5 * time.Millisecond

func TestTimer_TicksDownAndExpiresOnce(t *testing.T) {
	tm := New(tick)

	var mu sync.Mutex
	var ticks []int
	var expired atomic.Int32

	tm.Start(3, func(left int) {
		mu.Lock()
		ticks = append(ticks, left)
		mu.Unlock()
	}, func() { expired.Add(1) })

	require.Eventually(t, func() bool { return expired.Load() == 1 }, time.Second, tick)
	assert.Eventually(t, func() bool { return tm.Active() == 0 }, time.Second, tick)

	time.Sleep(5 * tick)
	assert.Equal(t, int32(1), expired.Load())
	mu.Lock()
	assert.Equal(t, []int{2, 1, 0}, ticks)
	mu.Unlock()
	assert.False(t, tm.Running())
	assert.Equal(t, 0, tm.Remaining())
}

func TestTimer_StopSuppressesExpiry(t *testing.T) {
	tm := New(tick)
	var expired atomic.Int32

	tm.Start(2, nil, func() { expired.Add(1) })
	tm.Stop()

	assert.Eventually(t, func() bool { return tm.Active() == 0 }, time.Second, tick)
	time.Sleep(5 * tick)
	assert.Zero(t, expired.Load())
	assert.False(t, tm.Running())
}

func TestTimer_RestartLeavesSingleCountdown(t *testing.T) {
	tm := New(tick)
	var first, second atomic.Int32

	tm.Start(50, nil, func() { first.Add(1) })
	tm.Start(50, nil, func() { first.Add(1) })
	tm.Start(2, nil, func() { second.Add(1) })

	assert.Eventually(t, func() bool { return tm.Active() <= 1 }, time.Second, tick)
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, tick)
	assert.Eventually(t, func() bool { return tm.Active() == 0 }, time.Second, tick)
	assert.Zero(t, first.Load())
}

func TestTimer_StopFromCallback(t *testing.T) {
	tm := New(tick)
	var ticks atomic.Int32

	tm.Start(10, func(int) {
		ticks.Add(1)
		tm.Stop()
	}, nil)

	assert.Eventually(t, func() bool { return tm.Active() == 0 }, time.Second, tick)
	assert.Equal(t, int32(1), ticks.Load())
}

func TestTimer_ZeroTotalExpiresImmediately(t *testing.T) {
	tm := New(tick)
	done := make(chan struct{})

	tm.Start(0, nil, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expiry not delivered")
	}
}

func TestTimer_DefaultInterval(t *testing.T) {
	tm := New(0)
	assert.Equal(t, time.Second, tm.interval)
}
