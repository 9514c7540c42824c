// Package redis provides a splice.Source for a Redis key using keyspace
// notifications.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Source emits the value of a Redis string key each time it is written.
// Deleting or expiring the key emits an empty document, which clears the
// mirrored location.
//
// Requires keyspace notifications for generic and string commands:
//
//	CONFIG SET notify-keyspace-events K$g
type Source struct {
	client redis.UniversalClient
	key    string
	db     int
}

// Option configures a Source.
type Option func(*Source)

// WithDB sets the database number the key lives in. Defaults to 0.
func WithDB(db int) Option {
	return func(s *Source) {
		s.db = db
	}
}

// New returns a Source for key.
func New(client redis.UniversalClient, key string, opts ...Option) *Source {
	s := &Source{client: client, key: key}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Channel is the keyspace notification channel of the watched key.
func (s *Source) Channel() string {
	return fmt.Sprintf("__keyspace@%d__:%s", s.db, s.key)
}

// Watch subscribes before reading the current value so no write between the
// two is lost. A missing key emits an empty document first.
func (s *Source) Watch(ctx context.Context) (<-chan []byte, error) {
	pubsub := s.client.Subscribe(ctx, s.Channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace notifications: %w", err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer pubsub.Close()

		emit := func(val []byte) bool {
			select {
			case out <- val:
				return true
			case <-ctx.Done():
				return false
			}
		}

		val, err := s.read(ctx)
		if err != nil || !emit(val) {
			return
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				switch msg.Payload {
				case "set", "setex", "psetex", "setrange", "append", "rename_to", "restore":
					val, err := s.read(ctx)
					if err != nil {
						continue
					}
					if !emit(val) {
						return
					}
				case "del", "expired", "evicted", "rename_from":
					if !emit([]byte{}) {
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func (s *Source) read(ctx context.Context) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []byte{}, nil
	}
	return val, err
}
