package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps tokens as JSON under token:{player}:{requestId}.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func tokenKeyOf(player, requestID string) string {
	return fmt.Sprintf("token:%s:%s", player, requestID)
}

func (s *RedisStore) Issue(ctx context.Context, player, requestID string, md Metadata, ttl time.Duration) error {
	b, err := json.Marshal(md)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, tokenKeyOf(player, requestID), b, ttl).Err(); err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	return nil
}

// Consume reads and deletes the token in one GETDEL, so two concurrent
// consumers can never both see it.
func (s *RedisStore) Consume(ctx context.Context, player, requestID string) (Metadata, error) {
	b, err := s.client.GetDel(ctx, tokenKeyOf(player, requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("consume token: %w", err)
	}
	var md Metadata
	if err := json.Unmarshal(b, &md); err != nil {
		return Metadata{}, fmt.Errorf("decode token: %w", err)
	}
	return md, nil
}

// releaseScript deletes the slot only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSlots keeps the active request of a player under active:{player}.
// The TTL only guards against a crashed node never releasing the slot.
type RedisSlots struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisSlots(client redis.UniversalClient, ttl time.Duration) *RedisSlots {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisSlots{client: client, ttl: ttl}
}

func slotKey(player string) string {
	return fmt.Sprintf("active:%s", player)
}

func (s *RedisSlots) Begin(ctx context.Context, player, requestID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, slotKey(player), requestID, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("begin slot: %w", err)
	}
	return ok, nil
}

func (s *RedisSlots) Finish(ctx context.Context, player, requestID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{slotKey(player)}, requestID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("finish slot: %w", err)
	}
	return nil
}
