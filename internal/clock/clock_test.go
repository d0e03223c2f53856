package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_New(t *testing.T) {
	c := New()
	assert.Equal(t, int64(1), c.Now(), "fresh clock should start at 1")
}

func TestClock_NewAt(t *testing.T) {
	c := NewAt(42)
	assert.Equal(t, int64(42), c.Now())
}

func TestClock_Tick_Incrementing(t *testing.T) {
	c := New()

	assert.Equal(t, int64(2), c.Tick())
	assert.Equal(t, int64(3), c.Tick())
	assert.Equal(t, int64(4), c.Tick())
	assert.Equal(t, int64(4), c.Now(), "Now should reflect ticks")
}

func TestClock_Observe_ReceiveRule(t *testing.T) {
	tests := []struct {
		name  string
		local int64
		peer  int64
		want  int64
	}{
		{"peer ahead", 1, 5, 6},
		{"peer behind", 10, 3, 11},
		{"peer equal", 7, 7, 8},
		{"peer zero", 4, 0, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAt(tt.local)
			got := c.Observe(tt.peer)
			assert.Equal(t, tt.want, got, "max(%d, %d)+1", tt.local, tt.peer)
			assert.Equal(t, tt.want, c.Now())
		})
	}
}

func TestClock_NeverDecreases(t *testing.T) {
	c := New()

	prev := c.Now()
	ops := []func() int64{
		c.Tick,
		func() int64 { return c.Observe(100) },
		c.Tick,
		func() int64 { return c.Observe(1) }, // stale peer value
		c.Tick,
	}

	for i, op := range ops {
		got := op()
		assert.Greater(t, got, prev, "op %d must strictly advance the clock", i)
		prev = got
	}
}

func TestClock_ThreadSafe(t *testing.T) {
	c := New()
	const goroutines = 50
	const ticksPerGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < ticksPerGoroutine; j++ {
				c.Tick()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1+goroutines*ticksPerGoroutine), c.Now())
}
