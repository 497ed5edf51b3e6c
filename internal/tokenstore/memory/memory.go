package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nkiryanov/stocksim/internal/tokenstore"
)

// Backend is in-process storage shared by store handles
// It plays the role of browser local storage for contexts living in one process
type Backend struct {
	mu      sync.Mutex
	values  map[string]string
	handles map[*Store]struct{}
}

func NewBackend() *Backend {
	return &Backend{
		values:  make(map[string]string),
		handles: make(map[*Store]struct{}),
	}
}

// Publish change to every handle; must be called with b.mu held
func (b *Backend) broadcast(c tokenstore.Change) {
	for h := range b.handles {
		h.dispatcher.Publish(c)
	}
}

type Store struct {
	backend    *Backend
	origin     string
	dispatcher *tokenstore.Dispatcher
}

var _ tokenstore.Store = (*Store)(nil)

// New attaches new handle to the backend
func New(backend *Backend) *Store {
	s := &Store{
		backend: backend,
		origin:  uuid.NewString(),
	}
	s.dispatcher = tokenstore.NewDispatcher(s.origin)

	backend.mu.Lock()
	backend.handles[s] = struct{}{}
	backend.mu.Unlock()

	return s
}

func (s *Store) Origin() string {
	return s.origin
}

func (s *Store) Get(_ context.Context, key string) (string, bool) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	v, ok := s.backend.values[key]
	return v, ok
}

func (s *Store) Set(_ context.Context, key string, value string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	s.backend.values[key] = value
	s.backend.broadcast(tokenstore.Change{Key: key, Value: value, Origin: s.origin})

	return nil
}

func (s *Store) Clear(_ context.Context, keys ...string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	for _, key := range keys {
		if _, ok := s.backend.values[key]; !ok {
			continue
		}
		delete(s.backend.values, key)
		s.backend.broadcast(tokenstore.Change{Key: key, Deleted: true, Origin: s.origin})
	}

	return nil
}

func (s *Store) Subscribe(key string, fn func(tokenstore.Change)) func() {
	return s.dispatcher.Subscribe(key, fn)
}

func (s *Store) Close() error {
	s.backend.mu.Lock()
	delete(s.backend.handles, s)
	s.backend.mu.Unlock()

	s.dispatcher.Close()
	return nil
}
