package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/stocksim/internal/models"
	"github.com/nkiryanov/stocksim/internal/tokenstore/memory"
)

// Allow to use a function as rejector
type rejectorFunc func(ctx context.Context, usedToken string)

func (f rejectorFunc) HandleUnauthorized(ctx context.Context, usedToken string) {
	f(ctx, usedToken)
}

func TestAuth(t *testing.T) {
	var (
		mu         sync.Mutex
		gotAuth    string
		respStatus = http.StatusOK
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(respStatus)
	}))
	defer srv.Close()

	lastAuth := func() string {
		mu.Lock()
		defer mu.Unlock()
		return gotAuth
	}

	setup := func(t *testing.T, status int) (*memory.Store, *[]string) {
		mu.Lock()
		respStatus = status
		gotAuth = ""
		mu.Unlock()

		store := memory.New(memory.NewBackend())
		t.Cleanup(func() { store.Close() }) // nolint:errcheck

		rejected := &[]string{}
		return store, rejected
	}

	do := func(t *testing.T, store *memory.Store, rejected *[]string) *http.Response {
		rejector := rejectorFunc(func(ctx context.Context, usedToken string) {
			require.NoError(t, ctx.Err(), "rejector context must not be cancelled")
			*rejected = append(*rejected, usedToken)
		})
		client := &http.Client{Transport: Chain(nil, Auth(store, rejector))}

		resp, err := client.Get(srv.URL + "/api/stocks/stocks/")
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() }) // nolint:errcheck
		return resp
	}

	t.Run("attach stored token", func(t *testing.T) {
		store, rejected := setup(t, http.StatusOK)
		require.NoError(t, store.Set(t.Context(), models.KeyAccessToken, "access-1"))

		resp := do(t, store, rejected)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "Bearer access-1", lastAuth())
		require.Empty(t, *rejected)
	})

	t.Run("no token no header", func(t *testing.T) {
		store, rejected := setup(t, http.StatusOK)

		resp := do(t, store, rejected)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Empty(t, lastAuth())
	})

	t.Run("reject on 401 and 403", func(t *testing.T) {
		for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
			store, rejected := setup(t, status)
			require.NoError(t, store.Set(t.Context(), models.KeyAccessToken, "access-1"))

			resp := do(t, store, rejected)

			require.Equal(t, status, resp.StatusCode, "original status must reach caller")
			require.Equal(t, []string{"access-1"}, *rejected, "rejector called once with the token used")
		}
	})

	t.Run("other errors ignored", func(t *testing.T) {
		for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError} {
			store, rejected := setup(t, status)
			require.NoError(t, store.Set(t.Context(), models.KeyAccessToken, "access-1"))

			resp := do(t, store, rejected)

			require.Equal(t, status, resp.StatusCode)
			require.Empty(t, *rejected)
		}
	})

	t.Run("no retry", func(t *testing.T) {
		var calls atomic.Int32
		counting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer counting.Close()

		store, rejected := setup(t, http.StatusOK)
		rejector := rejectorFunc(func(ctx context.Context, usedToken string) {
			*rejected = append(*rejected, usedToken)
		})
		client := &http.Client{Transport: Chain(nil, Auth(store, rejector))}

		resp, err := client.Get(counting.URL)
		require.NoError(t, err)
		defer resp.Body.Close() // nolint:errcheck

		require.Equal(t, int32(1), calls.Load(), "request must not be retried")
		require.Len(t, *rejected, 1)
	})

	t.Run("transport error not rejected", func(t *testing.T) {
		store, rejected := setup(t, http.StatusOK)
		require.NoError(t, store.Set(t.Context(), models.KeyAccessToken, "access-1"))

		rejector := rejectorFunc(func(ctx context.Context, usedToken string) {
			*rejected = append(*rejected, usedToken)
		})
		client := &http.Client{Transport: Chain(nil, Auth(store, rejector))}

		_, err := client.Get("http://127.0.0.1:1/unreachable") // nolint:bodyclose

		require.Error(t, err)
		require.Empty(t, *rejected, "network failure must not log user out")
	})
}
