package fakeclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClock(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("fire in deadline order", func(t *testing.T) {
		clock := New(start)
		var fired []string

		clock.AfterFunc(3*time.Second, func() { fired = append(fired, "third") })
		clock.AfterFunc(time.Second, func() { fired = append(fired, "first") })
		clock.AfterFunc(2*time.Second, func() { fired = append(fired, "second") })
		clock.AfterFunc(time.Minute, func() { fired = append(fired, "late") })

		clock.Advance(5 * time.Second)

		require.Equal(t, []string{"first", "second", "third"}, fired)
		require.Equal(t, 1, clock.Pending())
		require.Equal(t, start.Add(5*time.Second), clock.Now())
	})

	t.Run("now at deadline inside callback", func(t *testing.T) {
		clock := New(start)
		var seen time.Time

		clock.AfterFunc(2*time.Second, func() { seen = clock.Now() })
		clock.Advance(time.Minute)

		require.Equal(t, start.Add(2*time.Second), seen)
	})

	t.Run("timer armed by callback", func(t *testing.T) {
		clock := New(start)
		count := 0

		var tick func()
		tick = func() {
			count++
			clock.AfterFunc(time.Second, tick)
		}
		clock.AfterFunc(time.Second, tick)

		clock.Advance(3 * time.Second)

		require.Equal(t, 3, count)
	})

	t.Run("stop", func(t *testing.T) {
		clock := New(start)
		fired := false

		timer := clock.AfterFunc(time.Second, func() { fired = true })

		require.True(t, timer.Stop())
		require.False(t, timer.Stop(), "second stop must report timer already stopped")

		clock.Advance(time.Minute)
		require.False(t, fired)
	})
}
