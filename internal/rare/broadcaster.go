package rare

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/xtding233/loot-roller/internal/jobs"
	"github.com/xtding233/loot-roller/internal/metrics"
)

// Presenter shows an event on this node.
type Presenter interface {
	Present(ctx context.Context, e Event)
}

// Announcer broadcasts an event as a chat-style message.
type Announcer interface {
	Announce(ctx context.Context, e Event)
}

// LogSink presents and announces events through the process logger.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Present(_ context.Context, e Event) {
	s.Log.Info().Str("event_id", e.EventID).Str("item", e.ItemName).Str("rarity", e.Rarity).
		Str("puller", e.PullerName).Float64("odds", e.OddsDenominator).Msg("rare drop")
}

func (s LogSink) Announce(_ context.Context, e Event) {
	s.Log.Info().Str("event_id", e.EventID).
		Msgf("%s pulled %s (1 in %.0f)", e.PullerName, e.DisplayName, e.OddsDenominator)
}

const (
	DefaultPublishLimit  = 2
	DefaultPublishWindow = time.Second
	DefaultLatestTTL     = 24 * time.Hour
	DefaultResubscribe   = time.Second
)

// Options configures a Broadcaster. Store, Topic, Presenter and Announcer
// fall back to in-process or logging implementations.
type Options struct {
	Store       Store
	Topic       Topic
	Presenter   Presenter
	Announcer   Announcer
	Jobs        *jobs.Pool
	// Limit publishes are accepted per Window. Windows are aligned to
	// multiples of Window and the count resets at each boundary.
	Limit       int
	Window      time.Duration
	SeenLimit   int
	LatestTTL   time.Duration
	// Resubscribe is the minimum pause between topic subscription attempts.
	Resubscribe time.Duration
	Now         func() time.Time
	Logger      zerolog.Logger
}

// Broadcaster deduplicates, throttles and propagates rare events.
type Broadcaster struct {
	store     Store
	topic     Topic
	presenter Presenter
	announcer Announcer
	jobs      *jobs.Pool
	window    *fixedWindow
	seen      *SeenSet
	ttl       time.Duration
	retry     time.Duration
	log       zerolog.Logger
}

func NewBroadcaster(o Options) *Broadcaster {
	log := o.Logger.With().Str("component", "rare").Logger()
	limit := o.Limit
	if limit <= 0 {
		limit = DefaultPublishLimit
	}
	span := o.Window
	if span <= 0 {
		span = DefaultPublishWindow
	}
	now := o.Now
	if now == nil {
		now = time.Now
	}
	retry := o.Resubscribe
	if retry <= 0 {
		retry = DefaultResubscribe
	}
	ttl := o.LatestTTL
	if ttl <= 0 {
		ttl = DefaultLatestTTL
	}
	b := &Broadcaster{
		store:     o.Store,
		topic:     o.Topic,
		presenter: o.Presenter,
		announcer: o.Announcer,
		jobs:      o.Jobs,
		window:    &fixedWindow{limit: limit, span: span, now: now},
		seen:      NewSeenSet(o.SeenLimit),
		ttl:       ttl,
		retry:     retry,
		log:       log,
	}
	if b.store == nil {
		b.store = NewMemoryStore()
	}
	if b.topic == nil {
		b.topic = NewMemoryTopic()
	}
	sink := LogSink{Log: log}
	if b.presenter == nil {
		b.presenter = sink
	}
	if b.announcer == nil {
		b.announcer = sink
	}
	if b.jobs == nil {
		b.jobs = jobs.New(context.Background(), 0, 0, log)
	}
	return b
}

// MarkSeen records an event id produced on this node so its own echo from
// the topic is ignored. It reports whether the id was new.
func (b *Broadcaster) MarkSeen(id string) bool {
	return b.seen.MarkSeen(id)
}

// Publish presents e locally and hands it to the shared store and topic.
// Publishes beyond the window limit are dropped. Store and topic writes run as
// background jobs and never fail the caller.
func (b *Broadcaster) Publish(ctx context.Context, e Event) bool {
	if err := e.Validate(); err != nil {
		metrics.RareEvents.WithLabelValues("publish", "invalid").Inc()
		b.log.Warn().Err(err).Msg("refusing to publish rare event")
		return false
	}
	if !b.window.allow() {
		metrics.RareEvents.WithLabelValues("publish", "throttled").Inc()
		b.log.Debug().Str("event_id", e.EventID).Msg("rare event throttled")
		return false
	}
	payload, err := json.Marshal(e)
	if err != nil {
		metrics.RareEvents.WithLabelValues("publish", "invalid").Inc()
		return false
	}
	b.seen.MarkSeen(e.EventID)

	b.presenter.Present(ctx, e)
	b.announcer.Announce(ctx, e)

	b.jobs.Go("rare_store_latest", func(ctx context.Context) error {
		return b.store.SetLatest(ctx, payload, b.ttl)
	})
	b.jobs.Go("rare_publish", func(ctx context.Context) error {
		return b.topic.Publish(ctx, payload)
	})
	metrics.RareEvents.WithLabelValues("publish", "ok").Inc()
	b.log.Info().Str("event_id", e.EventID).Str("item", e.ItemName).Msg("rare event published")
	return true
}

// OnReceive handles a payload from the topic or the startup replay. It
// reports whether the event was presented. silent suppresses the
// announcement.
func (b *Broadcaster) OnReceive(ctx context.Context, payload []byte, silent bool) bool {
	e, err := Decode(payload)
	if err != nil {
		metrics.RareEvents.WithLabelValues("receive", "invalid").Inc()
		b.log.Warn().Err(err).Msg("dropping malformed rare event")
		return false
	}
	if !b.seen.MarkSeen(e.EventID) {
		metrics.RareEvents.WithLabelValues("receive", "duplicate").Inc()
		return false
	}
	b.presenter.Present(ctx, e)
	if !silent {
		b.announcer.Announce(ctx, e)
	}
	metrics.RareEvents.WithLabelValues("receive", "ok").Inc()
	b.log.Info().Str("event_id", e.EventID).Bool("silent", silent).Msg("rare event received")
	return true
}

// Replay presents the stored latest event silently, if there is one.
func (b *Broadcaster) Replay(ctx context.Context) {
	payload, err := b.store.GetLatest(ctx)
	switch {
	case errors.Is(err, ErrNoLatest):
		return
	case err != nil:
		b.log.Warn().Err(err).Msg("could not read latest rare event")
		return
	}
	b.OnReceive(ctx, payload, true)
}

// Start replays the latest event silently, then consumes the topic until
// ctx ends. A lost subscription is logged and retried; Start only returns
// once ctx is done.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.Replay(ctx)
	pace := rate.NewLimiter(rate.Every(b.retry), 1)
	for {
		err := b.topic.Subscribe(ctx, func(payload []byte) {
			b.OnReceive(ctx, payload, false)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errSubscriptionClosed
		}
		metrics.RareEvents.WithLabelValues("subscribe", "failed").Inc()
		b.log.Warn().Err(err).Dur("retry", b.retry).Msg("rare topic subscription lost")
		if err := pace.Wait(ctx); err != nil {
			return nil
		}
	}
}

var errSubscriptionClosed = errors.New("subscription closed")

// fixedWindow admits at most limit calls per aligned window of span.
type fixedWindow struct {
	mu        sync.Mutex
	limit     int
	span      time.Duration
	now       func() time.Time
	windowEnd time.Time
	count     int
}

func (w *fixedWindow) allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if w.windowEnd.IsZero() || !now.Before(w.windowEnd) {
		w.windowEnd = now.Truncate(w.span).Add(w.span)
		w.count = 0
	}
	if w.count >= w.limit {
		return false
	}
	w.count++
	return true
}
