package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/obs"
	"med-delivery-routing/internal/ports"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "medroute:stability:"
	// DefaultTTL bounds how long an abandoned monitor lingers.
	DefaultTTL = 48 * time.Hour

	// maxTxAttempts bounds optimistic retries when another instance writes the same order.
	maxTxAttempts = 16
)

// RedisStore keeps monitor state in Redis as JSON so that every service
// instance sees the same timer. Update is a WATCH/MULTI transaction, so
// writers on different instances never overwrite each other.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ ports.StabilityStore = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key(orderID string) string { return s.prefix + orderID }

func (s *RedisStore) Get(ctx context.Context, orderID string) (_ domain.StabilityState, err error) {
	defer obs.Time(ctx, "redis.Get")(&err)

	raw, err := s.client.Get(ctx, s.key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.StabilityState{}, fmt.Errorf("stability state %q: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.StabilityState{}, fmt.Errorf("stability state %q: %w", orderID, err)
	}

	var st domain.StabilityState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.StabilityState{}, fmt.Errorf("stability state %q: decode: %w", orderID, err)
	}
	return st, nil
}

func (s *RedisStore) Put(ctx context.Context, state domain.StabilityState) (err error) {
	defer obs.Time(ctx, "redis.Put")(&err)

	if state.OrderID == "" {
		return errors.New("put stability state: empty order id")
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("put stability state %q: encode: %w", state.OrderID, err)
	}
	if err := s.client.Set(ctx, s.key(state.OrderID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("put stability state %q: %w", state.OrderID, err)
	}
	return nil
}

func (s *RedisStore) Update(
	ctx context.Context,
	orderID string,
	fn func(*domain.StabilityState) error,
) (_ domain.StabilityState, err error) {
	defer obs.Time(ctx, "redis.Update")(&err)

	key := s.key(orderID)
	var saved domain.StabilityState

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("stability state %q: %w", orderID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("stability state %q: %w", orderID, err)
		}

		var st domain.StabilityState
		if err := json.Unmarshal(raw, &st); err != nil {
			return fmt.Errorf("stability state %q: decode: %w", orderID, err)
		}
		if err := fn(&st); err != nil {
			return err
		}
		st.OrderID = orderID

		enc, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("stability state %q: encode: %w", orderID, err)
		}

		// EXEC fails with redis.TxFailedErr if the key changed after WATCH.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, enc, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		saved = st
		return nil
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.StabilityState{}, err
		}
		return saved, nil
	}
	return domain.StabilityState{}, fmt.Errorf("update stability state %q: %w", orderID, domain.ErrStateConflict)
}

func (s *RedisStore) Delete(ctx context.Context, orderID string) error {
	if err := s.client.Del(ctx, s.key(orderID)).Err(); err != nil {
		return fmt.Errorf("delete stability state %q: %w", orderID, err)
	}
	return nil
}
