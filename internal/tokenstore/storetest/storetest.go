// Package storetest holds behaviour every tokenstore.Store implementation must satisfy
package storetest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/stocksim/internal/tokenstore"
)

// Return two handles attached to the same fresh backend
type NewPairFunc func(t *testing.T) (a tokenstore.Store, b tokenstore.Store)

type changes struct {
	mu   sync.Mutex
	list []tokenstore.Change
}

func (c *changes) add(ch tokenstore.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = append(c.list, ch)
}

func (c *changes) get() []tokenstore.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tokenstore.Change(nil), c.list...)
}

const waitFor = 5 * time.Second

func Run(t *testing.T, newPair NewPairFunc) {
	t.Run("set then get returns value", func(t *testing.T) {
		a, _ := newPair(t)

		err := a.Set(t.Context(), "access_token", "T")
		require.NoError(t, err)

		got, ok := a.Get(t.Context(), "access_token")
		require.True(t, ok, "value must be visible right after set")
		require.Equal(t, "T", got)
	})

	t.Run("get absent", func(t *testing.T) {
		a, _ := newPair(t)

		got, ok := a.Get(t.Context(), "access_token")

		require.False(t, ok)
		require.Empty(t, got)
	})

	t.Run("overwrite", func(t *testing.T) {
		a, b := newPair(t)
		require.NoError(t, a.Set(t.Context(), "access_token", "first"))

		require.NoError(t, b.Set(t.Context(), "access_token", "second"))

		got, ok := a.Get(t.Context(), "access_token")
		require.True(t, ok)
		require.Equal(t, "second", got, "handles share one backend")
	})

	t.Run("clear", func(t *testing.T) {
		a, _ := newPair(t)
		require.NoError(t, a.Set(t.Context(), "access_token", "T"))
		require.NoError(t, a.Set(t.Context(), "refresh_token", "R"))
		require.NoError(t, a.Set(t.Context(), "username", "abebe"))

		err := a.Clear(t.Context(), "access_token", "refresh_token", "not-existed")
		require.NoError(t, err)

		_, ok := a.Get(t.Context(), "access_token")
		require.False(t, ok)
		_, ok = a.Get(t.Context(), "refresh_token")
		require.False(t, ok)
		_, ok = a.Get(t.Context(), "username")
		require.True(t, ok, "keys not listed must stay")
	})

	t.Run("other handle observes change", func(t *testing.T) {
		a, b := newPair(t)

		got := &changes{}
		a.Subscribe("lastLogin", got.add)

		require.NoError(t, b.Set(t.Context(), "lastLogin", "1700000000000"))

		require.Eventually(t, func() bool { return len(got.get()) == 1 }, waitFor, 10*time.Millisecond)
		change := got.get()[0]
		require.Equal(t, "lastLogin", change.Key)
		require.Equal(t, "1700000000000", change.Value)
		require.Equal(t, b.Origin(), change.Origin)
		require.False(t, change.Deleted)
	})

	t.Run("own change not observed", func(t *testing.T) {
		a, b := newPair(t)

		own := &changes{}
		a.Subscribe("lastLogin", own.add)
		other := &changes{}
		b.Subscribe("lastLogin", other.add)

		require.NoError(t, a.Set(t.Context(), "lastLogin", "1"))

		require.Eventually(t, func() bool { return len(other.get()) == 1 }, waitFor, 10*time.Millisecond)
		require.Empty(t, own.get(), "handle must not observe its own writes")
	})

	t.Run("deletion observed", func(t *testing.T) {
		a, b := newPair(t)
		require.NoError(t, b.Set(t.Context(), "access_token", "T"))

		got := &changes{}
		a.Subscribe("access_token", got.add)

		require.NoError(t, b.Clear(t.Context(), "access_token"))

		require.Eventually(t, func() bool { return len(got.get()) == 1 }, waitFor, 10*time.Millisecond)
		require.True(t, got.get()[0].Deleted)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		a, b := newPair(t)

		got := &changes{}
		unsubscribe := a.Subscribe("lastLogin", got.add)
		unsubscribe()

		// Use second key as a barrier: once it arrives the first one would have arrived too
		barrier := &changes{}
		a.Subscribe("barrier", barrier.add)

		require.NoError(t, b.Set(t.Context(), "lastLogin", "1"))
		require.NoError(t, b.Set(t.Context(), "barrier", "1"))

		require.Eventually(t, func() bool { return len(barrier.get()) == 1 }, waitFor, 10*time.Millisecond)
		require.Empty(t, got.get())
	})
}
