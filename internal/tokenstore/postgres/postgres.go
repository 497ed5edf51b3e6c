package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/stocksim/internal/apperrors"
	"github.com/nkiryanov/stocksim/internal/logger"
	"github.com/nkiryanov/stocksim/internal/tokenstore"
)

const (
	notifyChannel = "client_storage"

	// Pause before listener reconnects after lost connection
	relistenDelay = time.Second
)

// Store keeps values in 'client_storage' table and spreads changes with LISTEN/NOTIFY
type Store struct {
	pool   *pgxpool.Pool
	origin string

	dispatcher *tokenstore.Dispatcher
	cancel     context.CancelFunc
	done       chan struct{}

	logger logger.Logger
}

var _ tokenstore.Store = (*Store)(nil)

// New creates handle and starts listening for changes
// Returns only after LISTEN is issued, so no change made afterwards is missed
func New(ctx context.Context, pool *pgxpool.Pool, l logger.Logger) (*Store, error) {
	s := &Store{
		pool:   pool,
		origin: uuid.NewString(),
		done:   make(chan struct{}),
		logger: l.With("component", "postgres_store"),
	}

	conn, err := s.acquireListener(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't listen for changes. Err: %w", err)
	}

	s.dispatcher = tokenstore.NewDispatcher(s.origin)

	listenCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.listen(listenCtx, conn)

	return s, nil
}

func (s *Store) Origin() string {
	return s.origin
}

const getValue = `-- name: GetValue
SELECT value FROM client_storage
WHERE key = $1
`

func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	rows, _ := s.pool.Query(ctx, getValue, key)
	value, err := pgx.CollectOneRow(rows, pgx.RowTo[string])

	switch {
	case err == nil:
		return value, true
	case errors.Is(err, pgx.ErrNoRows):
		return "", false
	default:
		s.logger.Warn("Failed to read key, treat as absent", "key", key, "error", err)
		return "", false
	}
}

const setValue = `-- name: SetValue
INSERT INTO client_storage (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`

const notify = `SELECT pg_notify($1, $2)`

// Set writes value and notification in one transaction
// Listeners get notified on commit only
func (s *Store) Set(ctx context.Context, key string, value string) error {
	payload, err := json.Marshal(tokenstore.Change{Key: key, Value: value, Origin: s.origin})
	if err != nil {
		return fmt.Errorf("can't encode change. Err: %w", err)
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, setValue, key, value); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, notify, notifyChannel, string(payload))
		return err
	})
	if err != nil {
		return fmt.Errorf("db error: %w", wrapErr(err))
	}

	return nil
}

const deleteValues = `-- name: DeleteValues
DELETE FROM client_storage
WHERE key = ANY($1)
RETURNING key
`

func (s *Store) Clear(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, _ := tx.Query(ctx, deleteValues, keys)
		removed, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}

		for _, key := range removed {
			payload, err := json.Marshal(tokenstore.Change{Key: key, Deleted: true, Origin: s.origin})
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, notify, notifyChannel, string(payload)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("db error: %w", wrapErr(err))
	}

	return nil
}

func (s *Store) Subscribe(key string, fn func(tokenstore.Change)) func() {
	return s.dispatcher.Subscribe(key, fn)
}

// Close stops listening; the pool stays open and belongs to the caller
func (s *Store) Close() error {
	s.cancel()
	<-s.done
	s.dispatcher.Close()
	return nil
}

func (s *Store) acquireListener(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, wrapErr(err)
	}

	return conn, nil
}

func (s *Store) listen(ctx context.Context, conn *pgxpool.Conn) {
	defer close(s.done)

	for {
		err := s.receive(ctx, conn)

		// Connection with LISTEN must not get back to the pool: close it, so pool drops it
		_ = conn.Conn().Close(context.Background())
		conn.Release()

		if ctx.Err() != nil {
			s.logger.Debug("Change listener stopped")
			return
		}
		s.logger.Warn("Change listener lost connection, reconnecting", "error", err)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(relistenDelay):
			}

			conn, err = s.acquireListener(ctx)
			if err == nil {
				break
			}
			s.logger.Warn("Failed to restore change listener", "error", err)
		}
	}
}

func (s *Store) receive(ctx context.Context, conn *pgxpool.Conn) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var c tokenstore.Change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
			s.logger.Warn("Skip malformed change", "payload", n.Payload, "error", err)
			continue
		}
		s.dispatcher.Publish(c)
	}
}

// Connection exceptions are transient: caller may retry
func wrapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgerrcode.IsConnectionException(pgErr.Code) {
		return fmt.Errorf("%w: %w", apperrors.ErrTransientNetwork, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", apperrors.ErrTransientNetwork, err)
	}

	return err
}
