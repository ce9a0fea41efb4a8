package rare

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/xtding233/loot-roller/internal/jobs"
)

type recorder struct {
	mu        sync.Mutex
	presented []string
	announced []string
}

func (r *recorder) Present(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presented = append(r.presented, e.EventID)
}

func (r *recorder) Announce(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.announced = append(r.announced, e.EventID)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.presented), len(r.announced)
}

func newTestBroadcaster(t *testing.T, rec *recorder, store Store, topic Topic) (*Broadcaster, *jobs.Pool) {
	t.Helper()
	pool := jobs.New(context.Background(), 4, time.Second, zerolog.Nop())
	b := NewBroadcaster(Options{
		Store:     store,
		Topic:     topic,
		Presenter: rec,
		Announcer: rec,
		Jobs:      pool,
		Logger:    zerolog.Nop(),
	})
	return b, pool
}

func testEvent(id string) Event {
	return Event{EventID: id, ItemName: "B", DisplayName: "Bee", Rarity: "mythic", PullerName: "Alice", OddsDenominator: 11, Timestamp: 1}
}

func payloadOf(t *testing.T, e Event) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestOnReceiveDedup(t *testing.T) {
	rec := &recorder{}
	b, _ := newTestBroadcaster(t, rec, nil, nil)
	p := payloadOf(t, testEvent("e1"))

	if !b.OnReceive(context.Background(), p, false) {
		t.Fatalf("first delivery must be presented")
	}
	if b.OnReceive(context.Background(), p, false) {
		t.Fatalf("second delivery must be dropped")
	}
	if pr, an := rec.counts(); pr != 1 || an != 1 {
		t.Fatalf("presented=%d announced=%d, want 1 and 1", pr, an)
	}
}

func TestOnReceiveSilentAndInvalid(t *testing.T) {
	rec := &recorder{}
	b, _ := newTestBroadcaster(t, rec, nil, nil)
	ctx := context.Background()

	if b.OnReceive(ctx, []byte("not json"), false) {
		t.Fatalf("malformed payload must be dropped")
	}
	if b.OnReceive(ctx, payloadOf(t, Event{ItemName: "B"}), false) {
		t.Fatalf("payload without id must be dropped")
	}
	if !b.OnReceive(ctx, payloadOf(t, testEvent("s1")), true) {
		t.Fatalf("silent delivery must still be presented")
	}
	if pr, an := rec.counts(); pr != 1 || an != 0 {
		t.Fatalf("presented=%d announced=%d, want 1 and 0", pr, an)
	}
}

func TestPublishPersistsAndIgnoresOwnEcho(t *testing.T) {
	rec := &recorder{}
	store := NewMemoryStore()
	b, pool := newTestBroadcaster(t, rec, store, nil)
	ctx := context.Background()

	e := testEvent("p1")
	b.MarkSeen(e.EventID)
	if !b.Publish(ctx, e) {
		t.Fatalf("publish rejected")
	}
	pool.Wait()

	got, err := store.GetLatest(ctx)
	if err != nil {
		t.Fatalf("latest not stored: %v", err)
	}
	if b.OnReceive(ctx, got, false) {
		t.Fatalf("own echo must be ignored")
	}
	if pr, an := rec.counts(); pr != 1 || an != 1 {
		t.Fatalf("presented=%d announced=%d, want 1 and 1", pr, an)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestPublishThrottleFixedWindow(t *testing.T) {
	rec := &recorder{}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	pool := jobs.New(context.Background(), 4, time.Second, zerolog.Nop())
	b := NewBroadcaster(Options{
		Presenter: rec,
		Announcer: rec,
		Jobs:      pool,
		Now:       clock.Now,
		Logger:    zerolog.Nop(),
	})
	ctx := context.Background()

	burst := func() int {
		n := 0
		for i := 0; i < 10; i++ {
			if b.Publish(ctx, testEvent(NewEventID())) {
				n++
			}
		}
		return n
	}

	if got := burst(); got != DefaultPublishLimit {
		t.Fatalf("first window accepted %d, want %d", got, DefaultPublishLimit)
	}
	clock.Set(time.Unix(1000, 0).Add(990 * time.Millisecond))
	if got := burst(); got != 0 {
		t.Fatalf("same window accepted %d more", got)
	}
	clock.Set(time.Unix(1001, 0))
	if got := burst(); got != DefaultPublishLimit {
		t.Fatalf("second window accepted %d, want %d", got, DefaultPublishLimit)
	}
	clock.Set(time.Unix(1001, 0).Add(500 * time.Millisecond))
	if got := burst(); got != 0 {
		t.Fatalf("second window accepted %d extra", got)
	}
	pool.Wait()
	if pr, _ := rec.counts(); pr != 2*DefaultPublishLimit {
		t.Fatalf("presented %d, want %d", pr, 2*DefaultPublishLimit)
	}
}

// flakyTopic fails its first failures subscriptions, then delegates.
type flakyTopic struct {
	*MemoryTopic
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyTopic) Subscribe(ctx context.Context, handle func(payload []byte)) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("connection refused")
	}
	return f.MemoryTopic.Subscribe(ctx, handle)
}

func (f *flakyTopic) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestStartResubscribesAfterFailure(t *testing.T) {
	rec := &recorder{}
	topic := &flakyTopic{MemoryTopic: NewMemoryTopic(), failures: 2}
	pool := jobs.New(context.Background(), 4, time.Second, zerolog.Nop())
	b := NewBroadcaster(Options{
		Topic:       topic,
		Presenter:   rec,
		Announcer:   rec,
		Jobs:        pool,
		Resubscribe: 5 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for topic.Subscribers() == 0 {
		select {
		case err := <-done:
			t.Fatalf("start returned %v after a failed subscription", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("never resubscribed, calls=%d", topic.Calls())
		}
		time.Sleep(time.Millisecond)
	}
	if c := topic.Calls(); c != 3 {
		t.Fatalf("subscribe calls = %d, want 3", c)
	}
	_ = topic.Publish(ctx, payloadOf(t, testEvent("after-retry")))
	for {
		if pr, _ := rec.counts(); pr == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event never delivered after resubscribe")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start returned %v on shutdown", err)
	}
}

func TestStartReturnsNilWhenCancelledWhileRetrying(t *testing.T) {
	topic := &flakyTopic{MemoryTopic: NewMemoryTopic(), failures: 1 << 30}
	b := NewBroadcaster(Options{
		Topic:       topic,
		Resubscribe: time.Hour,
		Logger:      zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for topic.Calls() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("second attempt never made, calls=%d", topic.Calls())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("start did not stop while waiting to resubscribe")
	}
}

func TestStartReplaysSilentlyThenSubscribes(t *testing.T) {
	rec := &recorder{}
	store := NewMemoryStore()
	topic := NewMemoryTopic()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = store.SetLatest(ctx, payloadOf(t, testEvent("old")), time.Minute)
	b, _ := newTestBroadcaster(t, rec, store, topic)

	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for topic.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription never started")
		}
		time.Sleep(time.Millisecond)
	}
	_ = topic.Publish(ctx, payloadOf(t, testEvent("live")))
	_ = topic.Publish(ctx, payloadOf(t, testEvent("live")))

	for {
		pr, _ := rec.counts()
		if pr == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("live event never presented")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start returned %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.announced) != 1 || rec.announced[0] != "live" {
		t.Fatalf("only the live event may be announced, got %v", rec.announced)
	}
}

func TestSeenSetClearsAtLimit(t *testing.T) {
	s := NewSeenSet(3)
	for _, id := range []string{"a", "b", "c"} {
		if !s.MarkSeen(id) {
			t.Fatalf("%s must be new", id)
		}
	}
	if s.MarkSeen("a") {
		t.Fatalf("a already seen")
	}
	s.MarkSeen("d")
	if s.Len() != 1 || s.Seen("a") || !s.Seen("d") {
		t.Fatalf("set must be cleared wholesale at the limit, len=%d", s.Len())
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(0, 0)
	s.now = func() time.Time { return now }
	_ = s.SetLatest(context.Background(), []byte("x"), time.Second)
	if _, err := s.GetLatest(context.Background()); err != nil {
		t.Fatalf("fresh value: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := s.GetLatest(context.Background()); err != ErrNoLatest {
		t.Fatalf("expected ErrNoLatest, got %v", err)
	}
}

func TestRedisStoreAndTopic(t *testing.T) {
	addr := os.Getenv("LOOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LOOT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	store := NewRedisStore(client)
	if err := store.SetLatest(ctx, []byte(`{"eventId":"r"}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	if b, err := store.GetLatest(ctx); err != nil || string(b) != `{"eventId":"r"}` {
		t.Fatalf("got %q %v", b, err)
	}

	topic := NewRedisTopic(client)
	got := make(chan []byte, 1)
	subCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = topic.Subscribe(subCtx, func(p []byte) {
			select {
			case got <- p:
			default:
			}
		})
	}()
	for i := 0; i < 50; i++ {
		_ = topic.Publish(ctx, []byte("hello"))
		select {
		case p := <-got:
			if string(p) != "hello" {
				t.Fatalf("got %q", p)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatalf("no message received")
}
