package progression

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xtding233/loot-roller/internal/gacha"
)

func TestMemoryStoreCommitVersioning(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Ensure(ctx, "p1", "Default"); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Snapshot(ctx, "p1", "Default")
	if st.Version != 0 || len(st.Snapshot) != 0 {
		t.Fatalf("unexpected initial state %+v", st)
	}

	v, err := s.Commit(ctx, "p1", "Default", 0, gacha.Snapshot{5: 1})
	if err != nil || v != 1 {
		t.Fatalf("commit: v=%d err=%v", v, err)
	}
	if _, err := s.Commit(ctx, "p1", "Default", 0, gacha.Snapshot{5: 99}); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale commit must conflict, got %v", err)
	}
	st, _ = s.Snapshot(ctx, "p1", "Default")
	if st.Snapshot[5] != 1 || st.Version != 1 {
		t.Fatalf("stale commit leaked: %+v", st)
	}

	// snapshots are copies
	st.Snapshot[5] = 42
	again, _ := s.Snapshot(ctx, "p1", "Default")
	if again.Snapshot[5] != 1 {
		t.Fatal("snapshot must not alias stored state")
	}
}

func TestMemoryStoreNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Ensure(ctx, "p", "c")

	const writers = 16
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				for {
					st, _ := s.Snapshot(ctx, "p", "c")
					next := st.Snapshot.Clone()
					next[1]++
					if _, err := s.Commit(ctx, "p", "c", st.Version, next); err == nil {
						break
					}
				}
			}
		}()
	}
	wg.Wait()
	st, _ := s.Snapshot(ctx, "p", "c")
	if st.Snapshot[1] != writers*perWriter {
		t.Fatalf("lost updates: counter=%d want %d", st.Snapshot[1], writers*perWriter)
	}
}

func TestMemoryStoreHistoryBounded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < HistoryLimit+10; i++ {
		_ = s.RecordRoll(ctx, "p", Roll{RequestID: "r", Rank: i})
	}
	h := s.History("p")
	if len(h) != HistoryLimit || h[0].Rank != 10 {
		t.Fatalf("history not trimmed: len=%d first=%d", len(h), h[0].Rank)
	}
}

func TestDecodeState(t *testing.T) {
	st, err := decodeState(map[string]string{"v": "7", "r:5": "12", "r:10": "0"})
	if err != nil {
		t.Fatal(err)
	}
	if st.Version != 7 || st.Snapshot[5] != 12 || st.Snapshot[10] != 0 || len(st.Snapshot) != 2 {
		t.Fatalf("unexpected state %+v", st)
	}
	if _, err := decodeState(map[string]string{"r:x": "1"}); err == nil {
		t.Fatal("bad rank field must error")
	}
}
