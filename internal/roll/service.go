// Package roll resolves admitted roll requests: it picks the authoritative
// winner, fills cosmetic slots, awards the item, commits pity and triggers
// rare-event propagation.
package roll

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/xtding233/loot-roller/internal/catalog"
	"github.com/xtding233/loot-roller/internal/gacha"
	"github.com/xtding233/loot-roller/internal/metrics"
	"github.com/xtding233/loot-roller/internal/player"
	"github.com/xtding233/loot-roller/internal/progression"
	"github.com/xtding233/loot-roller/internal/rare"
	"github.com/xtding233/loot-roller/internal/token"
)

const (
	DefaultSlotCount     = 50
	DefaultWinnerIndex   = 45
	DefaultRareRank      = 10
	DefaultCommitRetries = 5
	DefaultGrace         = 2 * time.Second
)

// Config holds the tunables of the roll service.
type Config struct {
	SlotCount     int
	WinnerIndex   int
	RareRank      int
	CommitRetries int
	Grace         time.Duration // delay before a result buffer is reused
	Weight        gacha.WeightParams
	Luck          gacha.LuckPolicy
}

func DefaultConfig() Config {
	return Config{
		SlotCount:     DefaultSlotCount,
		WinnerIndex:   DefaultWinnerIndex,
		RareRank:      DefaultRareRank,
		CommitRetries: DefaultCommitRetries,
		Grace:         DefaultGrace,
		Weight:        gacha.DefaultWeightParams(),
	}
}

func (c Config) validate() error {
	if c.SlotCount < 1 {
		return errors.New("slot count must be >= 1")
	}
	if c.WinnerIndex < 0 || c.WinnerIndex >= c.SlotCount {
		return fmt.Errorf("winner index %d outside 0..%d", c.WinnerIndex, c.SlotCount-1)
	}
	return nil
}

// Catalog is the cached catalog and crate view used by a roll. Every method
// degrades to a default instead of failing.
type Catalog interface {
	GetPool(ctx context.Context) []catalog.Item
	GetRarityRank(ctx context.Context, rarity string) int
	GetBaseWeight(ctx context.Context, name string) float64
	EnvironmentLuck(ctx context.Context, envID string) float64
	CrateModifiers(ctx context.Context, crate string, rank int) gacha.CrateModifiers
	PityRules(ctx context.Context, crate string) gacha.Rules
	StatRange(ctx context.Context, name string) catalog.StatRange
	OddsDenominator(ctx context.Context, name string) float64
}

// Publisher hands rare events to the broadcaster.
type Publisher interface {
	MarkSeen(id string) bool
	Publish(ctx context.Context, e rare.Event) bool
}

// Deps are the collaborators of a Service. Rare may be nil.
type Deps struct {
	Catalog  Catalog
	Tokens   token.Consumer
	Slots    token.Slots
	Players  player.Store
	Progress progression.Store
	Awarder  *Awarder
	Rare     Publisher
	Buffers  *BufferPool
	RNG      gacha.RandomSource
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Response is returned for a fully resolved roll. Results aliases a pooled
// buffer that is reused once the configured grace delay elapses. Callers must
// not retain Results beyond writing the reply; use Detach to keep a copy.
type Response struct {
	Success           bool           `json:"success"`
	RequestID         string         `json:"requestId"`
	Results           []Slot         `json:"results"`
	WinnerIndex       int            `json:"winnerIndex"`
	WonItem           catalog.Item   `json:"wonItem"`
	AwardedInstanceID string         `json:"awardedInstanceId"`
	EnvironmentID     string         `json:"environmentId"`
	LuckMultiplier    float64        `json:"luckMultiplier"`
	CrateType         string         `json:"crateType"`
	NewPitySnapshot   gacha.Snapshot `json:"newPitySnapshot"`
}

// Detach returns a copy of r whose Results no longer share the pooled buffer.
func (r *Response) Detach() Response {
	d := *r
	d.Results = slices.Clone(r.Results)
	return d
}

// Service is the roll request handler.
type Service struct {
	cfg Config
	d   Deps
	log zerolog.Logger
}

func NewService(cfg Config, d Deps) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.CommitRetries < 1 {
		cfg.CommitRetries = 1
	}
	if d.Catalog == nil || d.Tokens == nil || d.Slots == nil || d.Players == nil || d.Progress == nil {
		return nil, errors.New("roll: missing collaborator")
	}
	if d.Buffers == nil {
		d.Buffers = NewBufferPool(64, cfg.SlotCount)
	}
	if d.RNG == nil {
		d.RNG = gacha.DefaultRNG()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{cfg: cfg, d: d, log: d.Logger.With().Str("component", "roll").Logger()}, nil
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,128}$`)

func (s *Service) drop(reason string) {
	metrics.Dropped.WithLabelValues(reason).Inc()
}

// Roll handles one request. ok is false when the request was dropped or
// failed; callers send nothing back in that case.
func (s *Service) Roll(ctx context.Context, playerID, requestID string) (resp *Response, ok bool) {
	if !idPattern.MatchString(playerID) || !idPattern.MatchString(requestID) {
		s.drop("invalid")
		return nil, false
	}
	// Once admitted a roll runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	began, err := s.d.Slots.Begin(ctx, playerID, requestID)
	if err != nil {
		s.log.Warn().Err(err).Str("player", playerID).Msg("active slot unavailable")
	}
	if !began {
		s.drop("busy")
		s.log.Debug().Str("player", playerID).Str("request_id", requestID).Msg("player already rolling")
		return nil, false
	}

	var rs *ResultSet
	defer func() {
		if rs != nil {
			s.d.Buffers.ReleaseAfter(rs, s.cfg.Grace)
		}
		if err := s.d.Slots.Finish(ctx, playerID, requestID); err != nil {
			s.log.Warn().Err(err).Str("player", playerID).Msg("release active slot")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			metrics.Rolls.WithLabelValues("fault").Inc()
			s.log.Error().Str("player", playerID).Str("request_id", requestID).
				Interface("err", r).Msg("roll failed")
			resp, ok = nil, false
		}
	}()

	if !s.d.Players.Ready(ctx, playerID) {
		s.drop("not_ready")
		s.log.Debug().Str("player", playerID).Msg("player record not loaded")
		return nil, false
	}
	md, err := s.d.Tokens.Consume(ctx, playerID, requestID)
	if err != nil {
		s.drop("no_token")
		if !errors.Is(err, token.ErrNotFound) {
			s.log.Warn().Err(err).Str("player", playerID).Msg("token consume failed")
		}
		return nil, false
	}

	start := time.Now()
	defer func() { metrics.RollDuration.Observe(time.Since(start).Seconds()) }()

	rs = s.d.Buffers.Acquire()
	return s.resolve(ctx, playerID, requestID, md, rs)
}

// entry is a pool item with its per-roll lookups resolved once.
type entry struct {
	item catalog.Item
	rank int
	base float64
}

func (s *Service) resolve(ctx context.Context, playerID, requestID string, md token.Metadata, rs *ResultSet) (*Response, bool) {
	cat := s.d.Catalog
	crate := md.Crate()

	if err := s.d.Progress.Ensure(ctx, playerID, crate); err != nil {
		s.log.Warn().Err(err).Str("player", playerID).Msg("ensure pity record")
	}
	state, err := s.d.Progress.Snapshot(ctx, playerID, crate)
	if err != nil {
		s.log.Warn().Err(err).Str("player", playerID).Msg("read pity snapshot")
		state = progression.State{Snapshot: gacha.Snapshot{}}
	}
	rules := cat.PityRules(ctx, crate)
	snap := rules.Fill(state.Snapshot)

	rec, err := s.d.Players.Record(ctx, playerID)
	if err != nil {
		rec = player.Record{ID: playerID}
	}
	luck := s.cfg.Luck.ApplyEffectiveLuck(rec.AccountAge(s.d.Now()), md.Luck()*cat.EnvironmentLuck(ctx, md.EnvironmentID))

	items := cat.GetPool(ctx)
	if len(items) == 0 {
		metrics.Rolls.WithLabelValues("empty_pool").Inc()
		s.log.Warn().Str("player", playerID).Msg("item pool is empty, nothing awarded")
		return nil, false
	}
	pool := make([]entry, len(items))
	for i, it := range items {
		pool[i] = entry{item: it, rank: cat.GetRarityRank(ctx, it.Rarity), base: cat.GetBaseWeight(ctx, it.Name)}
	}

	eligible := gacha.Eligible(pool, func(e entry) int { return e.rank }, rules.HardMinOrder(snap))

	won, found := lo.Find(eligible, func(e entry) bool {
		return md.GuaranteedItem != "" && e.item.Name == md.GuaranteedItem
	})
	if !found {
		won, found = gacha.Draw(eligible, func(e entry) float64 {
			return s.cfg.Weight.Compose(e.base, e.rank, cat.CrateModifiers(ctx, crate, e.rank), luck, rules.SoftPityMultiplier(e.rank, snap))
		}, s.d.RNG)
	}
	if !found {
		metrics.Rolls.WithLabelValues("empty_pool").Inc()
		return nil, false
	}

	for i := range rs.Slots {
		if i == s.cfg.WinnerIndex {
			rs.Slots[i] = Slot{Item: won.item, Authoritative: true}
			continue
		}
		filler, _ := gacha.FillerDraw(pool, func(e entry) float64 { return e.base }, s.d.RNG)
		rs.Slots[i] = Slot{Item: filler.item}
	}
	rs.Winner = s.cfg.WinnerIndex

	var inst Instance
	if s.d.Awarder != nil {
		inst, err = s.d.Awarder.Award(ctx, playerID, crate, won.item)
		if err != nil {
			s.log.Warn().Err(err).Str("player", playerID).Str("item", won.item.Name).Msg("award failed")
		}
	}
	if err := s.d.Progress.RecordRoll(ctx, playerID, progression.Roll{
		RequestID: requestID, Crate: crate, Item: won.item.Name, Rank: won.rank, At: s.d.Now().UTC(),
	}); err != nil {
		s.log.Warn().Err(err).Str("player", playerID).Msg("record roll")
	}
	next := s.commit(ctx, playerID, crate, rules, state, snap, won.rank)

	if s.d.Rare != nil && won.rank >= s.cfg.RareRank {
		id := rare.NewEventID()
		s.d.Rare.MarkSeen(id)
		s.d.Rare.Publish(ctx, rare.Event{
			EventID:         id,
			ItemName:        won.item.Name,
			DisplayName:     won.item.DisplayName,
			Rarity:          won.item.Rarity,
			PullerName:      rec.DisplayName(),
			OddsDenominator: cat.OddsDenominator(ctx, won.item.Name),
			Timestamp:       s.d.Now().UnixMilli(),
		})
	}

	metrics.Rolls.WithLabelValues("awarded").Inc()
	return &Response{
		Success:           true,
		RequestID:         requestID,
		Results:           rs.Slots,
		WinnerIndex:       rs.Winner,
		WonItem:           won.item,
		AwardedInstanceID: inst.ID,
		EnvironmentID:     md.EnvironmentID,
		LuckMultiplier:    luck,
		CrateType:         crate,
		NewPitySnapshot:   next,
	}, true
}

// commit stores the pity snapshot that follows a win of wonRank. A version
// conflict means another writer moved the record; the update is recomputed
// from the fresh state so no increment is lost.
func (s *Service) commit(ctx context.Context, playerID, crate string, rules gacha.Rules, state progression.State, snap gacha.Snapshot, wonRank int) gacha.Snapshot {
	next := gacha.ComputeNewPity(snap, wonRank)
	for attempt := 0; attempt < s.cfg.CommitRetries; attempt++ {
		_, err := s.d.Progress.Commit(ctx, playerID, crate, state.Version, next)
		if err == nil {
			return next
		}
		if !errors.Is(err, progression.ErrConflict) {
			s.log.Warn().Err(err).Str("player", playerID).Str("crate", crate).Msg("commit pity")
			return next
		}
		metrics.PityConflicts.Inc()
		fresh, err := s.d.Progress.Snapshot(ctx, playerID, crate)
		if err != nil {
			s.log.Warn().Err(err).Str("player", playerID).Msg("reread pity after conflict")
			return next
		}
		state = fresh
		next = gacha.ComputeNewPity(rules.Fill(fresh.Snapshot), wonRank)
	}
	s.log.Warn().Str("player", playerID).Str("crate", crate).Msg("pity commit gave up after conflicts")
	return next
}
