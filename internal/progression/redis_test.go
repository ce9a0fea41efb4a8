package progression

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xtding233/loot-roller/internal/gacha"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("LOOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LOOT_TEST_REDIS_ADDR not set")
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	if err := c.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisStoreCommit(t *testing.T) {
	ctx := context.Background()
	s := NewRedisStore(testRedis(t))
	player := "test-" + uuid.NewString()

	if err := s.Ensure(ctx, player, "Default"); err != nil {
		t.Fatal(err)
	}
	st, err := s.Snapshot(ctx, player, "Default")
	if err != nil || st.Version != 0 {
		t.Fatalf("snapshot: %+v %v", st, err)
	}
	v, err := s.Commit(ctx, player, "Default", 0, gacha.Snapshot{5: 3, 10: 8})
	if err != nil || v != 1 {
		t.Fatalf("commit: %d %v", v, err)
	}
	if _, err := s.Commit(ctx, player, "Default", 0, gacha.Snapshot{5: 0}); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale commit must conflict, got %v", err)
	}
	st, _ = s.Snapshot(ctx, player, "Default")
	if st.Version != 1 || st.Snapshot[5] != 3 || st.Snapshot[10] != 8 {
		t.Fatalf("unexpected state %+v", st)
	}
	if err := s.RecordRoll(ctx, player, Roll{RequestID: "r1", Item: "x", Rank: 1}); err != nil {
		t.Fatal(err)
	}
}
