package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Redis operation timeout for roster reads and writes.
const redisOpTimeout = 5 * time.Second

// RedisBroker keeps the roster in a redis hash and signals changes over a
// pub/sub channel. Keys are namespaced so multiple deployments can share
// one redis.
type RedisBroker struct {
	client    *redis.Client
	rosterKey string
	syncChan  string
}

// NewRedisClient builds a redis client from a redis:// or rediss:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("presence: parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	return redis.NewClient(opts), nil
}

// NewRedisBroker constructs a broker under the given namespace.
func NewRedisBroker(client *redis.Client, namespace string) *RedisBroker {
	return &RedisBroker{
		client:    client,
		rosterKey: namespace + ":presence:roster",
		syncChan:  namespace + ":presence:sync",
	}
}

// Track implements Broker.
func (b *RedisBroker) Track(ctx context.Context, key string, payload []byte) error {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	pipe := b.client.Pipeline()
	pipe.HSet(opCtx, b.rosterKey, key, payload)
	pipe.Publish(opCtx, b.syncChan, "sync")
	if _, err := pipe.Exec(opCtx); err != nil {
		return fmt.Errorf("presence: track %s: %w", key, err)
	}
	return nil
}

// Untrack implements Broker.
func (b *RedisBroker) Untrack(ctx context.Context, key string) error {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	pipe := b.client.Pipeline()
	pipe.HDel(opCtx, b.rosterKey, key)
	pipe.Publish(opCtx, b.syncChan, "sync")
	if _, err := pipe.Exec(opCtx); err != nil {
		return fmt.Errorf("presence: untrack %s: %w", key, err)
	}
	return nil
}

// Roster implements Broker.
func (b *RedisBroker) Roster(ctx context.Context) (map[string][]byte, error) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	raw, err := b.client.HGetAll(opCtx, b.rosterKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: roster read: %w", err)
	}
	out := make(map[string][]byte, len(raw))
	for key, value := range raw {
		out[key] = []byte(value)
	}
	return out, nil
}

// Subscribe implements Broker. The returned channel carries one signal per
// published sync; slow consumers coalesce because signals carry no data.
func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan struct{}, func(), error) {
	sub := b.client.Subscribe(ctx, b.syncChan)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("presence: subscribe: %w", err)
	}

	signals := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(signals)
		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case signals <- struct{}{}:
				default:
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			if errClose := sub.Close(); errClose != nil {
				log.WithError(errClose).Debug("presence subscription close failed")
			}
		})
	}
	return signals, stop, nil
}
