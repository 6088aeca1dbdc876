package timerheap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRunsAfterDelay(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	done := make(chan struct{})
	start := time.Now()
	svc.Schedule(20*time.Millisecond, func() { close(done) })

	select {
	case <-done:
		assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("callback did not run in time")
	}
}

func TestCancelPreventsCallback(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	var mu sync.Mutex
	fired := false
	e := svc.Schedule(30*time.Millisecond, func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	svc.Cancel(e)

	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired)
}

func TestZeroDelayDefersToNextTick(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	var ran bool
	done := make(chan struct{})
	svc.Schedule(0, func() {
		ran = true
		close(done)
	})
	// The call to Schedule must not have run the callback inline.
	assert.False(t, ran)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero-delay callback never ran")
	}
}

func TestOrderingByDueTime(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	var mu sync.Mutex
	var order []int
	record := func(n int) func() {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}
	}

	svc.Schedule(60*time.Millisecond, record(3))
	svc.Schedule(10*time.Millisecond, record(1))
	svc.Schedule(30*time.Millisecond, record(2))

	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Equal(t, []int{1, 2, 3}, order)
}
