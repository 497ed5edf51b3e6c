package tokenstore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Collects changes delivered to subscriber
type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) record(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) get() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func TestDispatcher(t *testing.T) {
	t.Run("deliver in order", func(t *testing.T) {
		d := NewDispatcher("tab-a")
		t.Cleanup(d.Close)

		rec := &recorder{}
		d.Subscribe("lastLogin", rec.record)

		for _, v := range []string{"1", "2", "3"} {
			d.Publish(Change{Key: "lastLogin", Value: v, Origin: "tab-b"})
		}

		require.Eventually(t, func() bool { return len(rec.get()) == 3 }, time.Second, 5*time.Millisecond)
		got := rec.get()
		require.Equal(t, "1", got[0].Value)
		require.Equal(t, "2", got[1].Value)
		require.Equal(t, "3", got[2].Value)
	})

	t.Run("skip own changes and other keys", func(t *testing.T) {
		d := NewDispatcher("tab-a")
		t.Cleanup(d.Close)

		rec := &recorder{}
		d.Subscribe("lastLogin", rec.record)

		d.Publish(Change{Key: "lastLogin", Value: "own", Origin: "tab-a"})
		d.Publish(Change{Key: "access_token", Value: "other-key", Origin: "tab-b"})
		d.Publish(Change{Key: "lastLogin", Value: "marker", Origin: "tab-b"})

		require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, 5*time.Millisecond)
		require.Never(t, func() bool { return len(rec.get()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
		require.Equal(t, "marker", rec.get()[0].Value)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		d := NewDispatcher("tab-a")
		t.Cleanup(d.Close)

		rec := &recorder{}
		unsubscribe := d.Subscribe("lastLogin", rec.record)
		unsubscribe()
		unsubscribe() // idempotent

		d.Publish(Change{Key: "lastLogin", Value: "1", Origin: "tab-b"})

		require.Never(t, func() bool { return len(rec.get()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	})

	t.Run("publish after close is dropped", func(t *testing.T) {
		d := NewDispatcher("tab-a")
		rec := &recorder{}
		d.Subscribe("lastLogin", rec.record)

		d.Close()
		d.Close()

		require.NotPanics(t, func() {
			d.Publish(Change{Key: "lastLogin", Value: "1", Origin: "tab-b"})
		})
		require.Empty(t, rec.get())
	})
}
