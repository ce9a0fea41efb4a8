package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each player as a JSON document under player:{id}.
// A player is ready once the document exists.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func recordKey(player string) string {
	return fmt.Sprintf("player:%s", player)
}

// Save writes rec, making the player ready.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, recordKey(rec.ID), b, 0).Err(); err != nil {
		return fmt.Errorf("save player: %w", err)
	}
	return nil
}

func (s *RedisStore) Ready(ctx context.Context, player string) bool {
	n, err := s.client.Exists(ctx, recordKey(player)).Result()
	return err == nil && n == 1
}

func (s *RedisStore) Record(ctx context.Context, player string) (Record, error) {
	b, err := s.client.Get(ctx, recordKey(player)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotReady
	}
	if err != nil {
		return Record{}, fmt.Errorf("read player: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("decode player: %w", err)
	}
	return rec, nil
}

// SetPath rewrites the document under WATCH; a concurrent writer makes the
// transaction fail and it is retried a few times.
func (s *RedisStore) SetPath(ctx context.Context, player string, path []string, value any) error {
	generic, err := toGeneric(value)
	if err != nil {
		return err
	}
	k := recordKey(player)
	for attempt := 0; attempt < 3; attempt++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			b, err := tx.Get(ctx, k).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotReady
			}
			if err != nil {
				return err
			}
			var rec Record
			if err := json.Unmarshal(b, &rec); err != nil {
				return fmt.Errorf("decode player: %w", err)
			}
			if rec.Data == nil {
				rec.Data = make(map[string]any)
			}
			if err := setPath(rec.Data, path, generic); err != nil {
				return err
			}
			out, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, out, 0)
				return nil
			})
			return err
		}, k)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil && !errors.Is(err, ErrNotReady) {
		return fmt.Errorf("set player path: %w", err)
	}
	return err
}

// toGeneric round-trips value through JSON so the stored document only
// holds plain maps, slices and scalars.
func toGeneric(value any) (any, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

// RedisDiscovery keeps discovered items in sets discovered:{player}:{crate}.
type RedisDiscovery struct {
	client redis.UniversalClient
}

func NewRedisDiscovery(client redis.UniversalClient) *RedisDiscovery {
	return &RedisDiscovery{client: client}
}

func (d *RedisDiscovery) MarkDiscovered(ctx context.Context, player, crate, item string) error {
	if err := d.client.SAdd(ctx, fmt.Sprintf("discovered:%s:%s", player, crate), item).Err(); err != nil {
		return fmt.Errorf("mark discovered: %w", err)
	}
	return nil
}

// countersKey is the hash holding every global item counter.
const countersKey = "counters"

// RedisCounters keeps global item counters in one hash.
type RedisCounters struct {
	client redis.UniversalClient
}

func NewRedisCounters(client redis.UniversalClient) *RedisCounters {
	return &RedisCounters{client: client}
}

func (c *RedisCounters) Increment(ctx context.Context, item string, delta int64) error {
	if err := c.client.HIncrBy(ctx, countersKey, item, delta).Err(); err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	return nil
}
