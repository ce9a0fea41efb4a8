package progression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/xtding233/loot-roller/internal/gacha"
)

const versionField = "v"

// RedisStore keeps each (player, crate) snapshot in a hash
// pity:{player}:{crate} with one field per tracked rank ("r:<rank>") and a
// version field. Commits run under WATCH so concurrent writers on any node
// cannot lose an update.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func pityKey(player, crate string) string {
	return fmt.Sprintf("pity:%s:%s", player, crate)
}

func historyKey(player string) string {
	return fmt.Sprintf("rolls:%s", player)
}

func rankField(rank int) string {
	return "r:" + strconv.Itoa(rank)
}

func (s *RedisStore) Ensure(ctx context.Context, player, crate string) error {
	if err := s.client.HSetNX(ctx, pityKey(player, crate), versionField, 0).Err(); err != nil {
		return fmt.Errorf("ensure pity: %w", err)
	}
	return nil
}

func (s *RedisStore) Snapshot(ctx context.Context, player, crate string) (State, error) {
	fields, err := s.client.HGetAll(ctx, pityKey(player, crate)).Result()
	if err != nil {
		return State{}, fmt.Errorf("read pity: %w", err)
	}
	return decodeState(fields)
}

func decodeState(fields map[string]string) (State, error) {
	st := State{Snapshot: gacha.Snapshot{}}
	for f, v := range fields {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return State{}, fmt.Errorf("decode pity field %s: %w", f, err)
		}
		switch {
		case f == versionField:
			st.Version = n
		case strings.HasPrefix(f, "r:"):
			rank, err := strconv.Atoi(strings.TrimPrefix(f, "r:"))
			if err != nil {
				return State{}, fmt.Errorf("decode pity field %s: %w", f, err)
			}
			st.Snapshot[rank] = int(n)
		}
	}
	return st, nil
}

func (s *RedisStore) RecordRoll(ctx context.Context, player string, roll Roll) error {
	b, err := json.Marshal(roll)
	if err != nil {
		return err
	}
	k := historyKey(player)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, k, b)
		pipe.LTrim(ctx, k, 0, HistoryLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record roll: %w", err)
	}
	return nil
}

func (s *RedisStore) Commit(ctx context.Context, player, crate string, baseVersion int64, next gacha.Snapshot) (int64, error) {
	k := pityKey(player, crate)
	version := baseVersion
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, k, versionField).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != baseVersion {
			version = cur
			return ErrConflict
		}

		fields := make(map[string]any, len(next)+1)
		for rank, count := range next {
			fields[rankField(rank)] = count
		}
		fields[versionField] = baseVersion + 1

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			pipe.HSet(ctx, k, fields)
			return nil
		})
		return err
	}, k)

	switch {
	case err == nil:
		return baseVersion + 1, nil
	case errors.Is(err, ErrConflict):
		return version, ErrConflict
	case errors.Is(err, redis.TxFailedErr):
		return baseVersion, ErrConflict
	default:
		return baseVersion, fmt.Errorf("commit pity: %w", err)
	}
}
