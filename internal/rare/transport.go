package rare

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoLatest is returned when no latest event is stored.
var ErrNoLatest = errors.New("no latest rare event")

// Store keeps the most recent event for nodes that start later.
type Store interface {
	SetLatest(ctx context.Context, payload []byte, ttl time.Duration) error
	GetLatest(ctx context.Context) ([]byte, error)
}

// Topic fans payloads out to every subscribed node. Subscribe blocks,
// calling handle for each payload, until ctx ends.
type Topic interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context, handle func(payload []byte)) error
}

const (
	latestKey    = "rare:latest"
	topicChannel = "rare:events"
)

// RedisStore keeps the latest event under a single key with an expiry.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SetLatest(ctx context.Context, payload []byte, ttl time.Duration) error {
	return s.client.Set(ctx, latestKey, payload, ttl).Err()
}

func (s *RedisStore) GetLatest(ctx context.Context) ([]byte, error) {
	b, err := s.client.Get(ctx, latestKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoLatest
	}
	return b, err
}

// RedisTopic uses a Redis pub/sub channel.
type RedisTopic struct {
	client redis.UniversalClient
}

func NewRedisTopic(client redis.UniversalClient) *RedisTopic {
	return &RedisTopic{client: client}
}

func (t *RedisTopic) Publish(ctx context.Context, payload []byte) error {
	return t.client.Publish(ctx, topicChannel, payload).Err()
}

func (t *RedisTopic) Subscribe(ctx context.Context, handle func(payload []byte)) error {
	sub := t.client.Subscribe(ctx, topicChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle([]byte(msg.Payload))
		}
	}
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	payload []byte
	expires time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) SetLatest(_ context.Context, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = append([]byte(nil), payload...)
	s.expires = time.Time{}
	if ttl > 0 {
		s.expires = s.now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) GetLatest(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payload == nil || (!s.expires.IsZero() && !s.now().Before(s.expires)) {
		return nil, ErrNoLatest
	}
	return append([]byte(nil), s.payload...), nil
}

// MemoryTopic is an in-process Topic. Slow subscribers lose payloads
// instead of blocking publishers.
type MemoryTopic struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewMemoryTopic() *MemoryTopic {
	return &MemoryTopic{subs: make(map[chan []byte]struct{})}
}

func (t *MemoryTopic) Publish(_ context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

func (t *MemoryTopic) Subscribe(ctx context.Context, handle func(payload []byte)) error {
	ch := make(chan []byte, 64)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.subs, ch)
		t.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-ch:
			handle(p)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (t *MemoryTopic) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
