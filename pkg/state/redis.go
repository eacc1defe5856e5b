package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kubeheal/kubeheal/pkg/workload"
)

// RedisStore keeps healing state in a Redis keyspace for platforms where
// annotating the workload is not an option. Optimistic concurrency uses
// WATCH: the transaction fails if the key changed between Load and Save,
// and a uuid token guards against ABA within the same connection.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(url, password string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{rdb: rdb}, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func stateKey(ref workload.Ref) string {
	return fmt.Sprintf("kubeheal:state:%s:%s", ref.Namespace, ref.Name)
}

// stored is the wire form of Healing in Redis; the token travels inside
// the value since Redis has no native resource version.
type stored struct {
	Attempt     int       `json:"attempt"`
	LastAction  Action    `json:"last_action"`
	LastUpdated time.Time `json:"last_updated"`
	Token       string    `json:"token"`
}

// Load reads the healing record, defaulting to a fresh attempt=0 record
// with an empty token for workloads never seen before.
func (s *RedisStore) Load(ctx context.Context, ref workload.Ref) (Healing, error) {
	val, err := s.rdb.Get(ctx, stateKey(ref)).Result()
	if errors.Is(err, redis.Nil) {
		return Healing{Ref: ref, LastAction: ActionNone}, nil
	}
	if err != nil {
		return Healing{}, fmt.Errorf("failed to read healing state for %s: %w", ref, err)
	}

	var st stored
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return Healing{}, fmt.Errorf("corrupt healing state for %s: %w", ref, err)
	}
	return Healing{
		Ref:         ref,
		Attempt:     st.Attempt,
		LastAction:  st.LastAction,
		LastUpdated: st.LastUpdated,
		Token:       st.Token,
	}, nil
}

// Save conditionally writes h inside a WATCH transaction. The write is
// rejected when the stored token differs from h.Token or when the key was
// touched concurrently.
func (s *RedisStore) Save(ctx context.Context, h Healing) error {
	key := stateKey(h.Ref)

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if h.Token != "" {
				return ErrConflict
			}
		case err != nil:
			return fmt.Errorf("failed to read healing state for %s: %w", h.Ref, err)
		default:
			var st stored
			if err := json.Unmarshal([]byte(cur), &st); err != nil {
				return fmt.Errorf("corrupt healing state for %s: %w", h.Ref, err)
			}
			if st.Token != h.Token {
				return ErrConflict
			}
		}

		next := stored{
			Attempt:     h.Attempt,
			LastAction:  h.LastAction,
			LastUpdated: h.LastUpdated.UTC(),
			Token:       uuid.New().String(),
		}
		val, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode healing state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, val, 0)
			return nil
		})
		return err
	}

	err := s.rdb.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("updating %s: %w", h.Ref, ErrConflict)
	}
	if errors.Is(err, ErrConflict) {
		return fmt.Errorf("updating %s: %w", h.Ref, ErrConflict)
	}
	return err
}

var _ Store = (*RedisStore)(nil)
