package timer_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/JulianoL13/doc-queue/internal/common/timer"
	"github.com/stretchr/testify/assert"
)

func TestTimer_Set(t *testing.T) {
	t.Run("fires once after delay", func(t *testing.T) {
		var calls atomic.Int32
		tm := timer.New(func() { calls.Add(1) })

		tm.Set(10*time.Millisecond, 20*time.Millisecond)
		assert.True(t, tm.IsSet())

		assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		assert.False(t, tm.IsSet())

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("rearming replaces pending firing", func(t *testing.T) {
		var calls atomic.Int32
		tm := timer.New(func() { calls.Add(1) })

		tm.Set(20*time.Millisecond, 0)
		tm.Set(40*time.Millisecond, 0)

		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("reports unset inside callback", func(t *testing.T) {
		var setInside atomic.Bool
		var tm *timer.Timer
		done := make(chan struct{})
		tm = timer.New(func() {
			setInside.Store(tm.IsSet())
			close(done)
		})

		tm.Set(0, 0)
		<-done
		assert.False(t, setInside.Load())
	})
}

func TestTimer_Clear(t *testing.T) {
	var calls atomic.Int32
	tm := timer.New(func() { calls.Add(1) })

	tm.Set(20*time.Millisecond, 30*time.Millisecond)
	tm.Clear()
	assert.False(t, tm.IsSet())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := timer.Jitter(10*time.Millisecond, 15*time.Millisecond)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 15*time.Millisecond)
	}

	assert.Equal(t, 7*time.Millisecond, timer.Jitter(7*time.Millisecond, 7*time.Millisecond))
	assert.Equal(t, 7*time.Millisecond, timer.Jitter(7*time.Millisecond, 0))
}
