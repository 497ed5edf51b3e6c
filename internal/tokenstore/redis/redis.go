package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/stocksim/internal/apperrors"
	"github.com/nkiryanov/stocksim/internal/logger"
	"github.com/nkiryanov/stocksim/internal/tokenstore"
)

const defaultPrefix = "stocksim"

// Delete keys and return those that really existed
var clearScript = redis.NewScript(`
local removed = {}
for _, key in ipairs(KEYS) do
	if redis.call('DEL', key) == 1 then
		table.insert(removed, key)
	end
end
return removed
`)

// Store keeps values in redis and spreads changes through redis pub/sub
type Store struct {
	client *redis.Client
	prefix string
	origin string

	dispatcher *tokenstore.Dispatcher
	pubsub     *redis.PubSub
	done       chan struct{}

	logger logger.Logger
}

var _ tokenstore.Store = (*Store)(nil)

// New creates handle and subscribes to the change channel
// Returns only after the subscription is confirmed, so no change made afterwards is missed
func New(ctx context.Context, client *redis.Client, prefix string, l logger.Logger) (*Store, error) {
	if prefix == "" {
		prefix = defaultPrefix
	}

	s := &Store{
		client: client,
		prefix: prefix,
		origin: uuid.NewString(),
		done:   make(chan struct{}),
		logger: l.With("component", "redis_store"),
	}
	s.dispatcher = tokenstore.NewDispatcher(s.origin)

	s.pubsub = client.Subscribe(ctx, s.channel())
	if _, err := s.pubsub.Receive(ctx); err != nil {
		_ = s.pubsub.Close()
		s.dispatcher.Close()
		return nil, fmt.Errorf("can't subscribe to changes. Err: %w", wrapErr(err))
	}

	go s.listen()

	return s, nil
}

func (s *Store) key(key string) string {
	return s.prefix + ":" + key
}

func (s *Store) channel() string {
	return s.prefix + ":changes"
}

func (s *Store) Origin() string {
	return s.origin
}

func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	v, err := s.client.Get(ctx, s.key(key)).Result()

	switch {
	case err == nil:
		return v, true
	case errors.Is(err, redis.Nil):
		return "", false
	default:
		s.logger.Warn("Failed to read key, treat as absent", "key", key, "error", err)
		return "", false
	}
}

func (s *Store) Set(ctx context.Context, key string, value string) error {
	payload, err := json.Marshal(tokenstore.Change{Key: key, Value: value, Origin: s.origin})
	if err != nil {
		return fmt.Errorf("can't encode change. Err: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(key), value, 0)
		pipe.Publish(ctx, s.channel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis error: %w", wrapErr(err))
	}

	return nil
}

func (s *Store) Clear(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, 0, len(keys))
	for _, key := range keys {
		full = append(full, s.key(key))
	}

	removed, err := clearScript.Run(ctx, s.client, full).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis error: %w", wrapErr(err))
	}

	if len(removed) == 0 {
		return nil
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range removed {
			payload, err := json.Marshal(tokenstore.Change{
				Key:     strings.TrimPrefix(k, s.prefix+":"),
				Deleted: true,
				Origin:  s.origin,
			})
			if err != nil {
				return err
			}
			pipe.Publish(ctx, s.channel(), payload)
		}
		return nil
	})
	if err != nil {
		// Keys are removed already, only other handles stay uninformed
		s.logger.Warn("Failed to publish cleared keys", "keys", removed, "error", err)
	}

	return nil
}

func (s *Store) Subscribe(key string, fn func(tokenstore.Change)) func() {
	return s.dispatcher.Subscribe(key, fn)
}

// Close stops listening; the redis client stays open and belongs to the caller
func (s *Store) Close() error {
	err := s.pubsub.Close()
	<-s.done
	s.dispatcher.Close()

	if err != nil {
		return fmt.Errorf("can't close subscription. Err: %w", err)
	}
	return nil
}

func (s *Store) listen() {
	defer close(s.done)

	for msg := range s.pubsub.Channel() {
		var c tokenstore.Change
		if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
			s.logger.Warn("Skip malformed change", "payload", msg.Payload, "error", err)
			continue
		}
		s.dispatcher.Publish(c)
	}

	s.logger.Debug("Change listener stopped")
}

// Network failures are transient: caller may retry
func wrapErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", apperrors.ErrTransientNetwork, err)
	}
	return err
}
