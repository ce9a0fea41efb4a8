package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xtding233/loot-roller/internal/catalog"
	"github.com/xtding233/loot-roller/internal/config"
	"github.com/xtding233/loot-roller/internal/gacha"
	"github.com/xtding233/loot-roller/internal/grpcapi"
	"github.com/xtding233/loot-roller/internal/httpapi"
	"github.com/xtding233/loot-roller/internal/jobs"
	"github.com/xtding233/loot-roller/internal/player"
	"github.com/xtding233/loot-roller/internal/progression"
	"github.com/xtding233/loot-roller/internal/rare"
	"github.com/xtding233/loot-roller/internal/roll"
	"github.com/xtding233/loot-roller/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	var log zerolog.Logger
	if cfg.LogPretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(cfg.Level()).With().Timestamp().Str("service", "loot-roller").Logger()
}

type tokenStore interface {
	token.Consumer
	token.Issuer
}

// stores groups the persistence collaborators of one process.
type stores struct {
	tokens    tokenStore
	slots     token.Slots
	players   player.Store
	seed      func(ctx context.Context, playerID string) error
	progress  progression.Store
	discovery player.Discovery
	counters  player.Counters
	latest    rare.Store
	topic     rare.Topic
	close     func()
}

func newStores(ctx context.Context, cfg config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.RedisAddr == "" {
		log.Warn().Msg("LOOT_REDIS_ADDR not set, all state is process-local")
		players := player.NewMemoryStore()
		return &stores{
			tokens:  token.NewMemoryStore(),
			slots:   token.NewMemorySlots(),
			players: players,
			seed: func(ctx context.Context, id string) error {
				if !players.Ready(ctx, id) {
					players.Load(player.Record{ID: id, CreatedAt: time.Now()})
				}
				return nil
			},
			progress:  progression.NewMemoryStore(),
			discovery: player.NewMemoryDiscovery(),
			counters:  player.NewMemoryCounters(),
			latest:    rare.NewMemoryStore(),
			topic:     rare.NewMemoryTopic(),
			close:     func() {},
		}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	players := player.NewRedisStore(client)
	return &stores{
		tokens:  token.NewRedisStore(client),
		slots:   token.NewRedisSlots(client, cfg.SlotTTL),
		players: players,
		seed: func(ctx context.Context, id string) error {
			if players.Ready(ctx, id) {
				return nil
			}
			return players.Save(ctx, player.Record{ID: id, CreatedAt: time.Now()})
		},
		progress:  progression.NewRedisStore(client),
		discovery: player.NewRedisDiscovery(client),
		counters:  player.NewRedisCounters(client),
		latest:    rare.NewRedisStore(client),
		topic:     rare.NewRedisTopic(client),
		close:     func() { _ = client.Close() },
	}, nil
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	st, err := newStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	loader := catalog.NewLoader(cfg.CatalogDir)
	provider := catalog.NewFileProvider(loader)
	cache := catalog.NewCache(catalog.Options{
		Provider: provider,
		Crates:   provider,
		TTL:      cfg.WeightTTL,
		Logger:   log,
	})
	if _, err := loader.LoadCatalog(); err != nil {
		log.Warn().Err(err).Str("dir", cfg.CatalogDir).Msg("catalog not loadable yet, rolls will see an empty pool")
	}
	watcher := catalog.NewWatcher(cfg.CatalogDir, cfg.WatchInterval, func(path string) {
		log.Info().Str("path", path).Msg("catalog file changed, invalidating")
		loader.Invalidate()
		cache.Invalidate()
	})
	watcher.Start()
	defer watcher.Stop()

	pool := jobs.New(ctx, cfg.JobLimit, cfg.JobTimeout, log)
	defer pool.Close()

	broadcaster := rare.NewBroadcaster(rare.Options{
		Store:       st.latest,
		Topic:       st.topic,
		Jobs:        pool,
		Limit:       cfg.RarePublishLimit,
		SeenLimit:   cfg.SeenLimit,
		LatestTTL:   cfg.LatestTTL,
		Resubscribe: cfg.RareResubscribe,
		Logger:      log,
	})

	rollCfg := cfg.Roll()
	rng := gacha.DefaultRNG()
	svc, err := roll.NewService(rollCfg, roll.Deps{
		Catalog:  cache,
		Tokens:   st.tokens,
		Slots:    st.slots,
		Players:  st.players,
		Progress: st.progress,
		Awarder:  roll.NewAwarder(st.players, st.discovery, st.counters, cache.StatRange, pool, rng, nil, log),
		Rare:     broadcaster,
		Buffers:  roll.NewBufferPool(cfg.PoolCapacity, rollCfg.SlotCount),
		RNG:      rng,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.Handler(svc, log))
	if cfg.DevIssue {
		log.Warn().Msg("dev token endpoint enabled")
		mux.Handle("/dev/", httpapi.DevHandler(st.tokens, st.seed))
	}
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}
	grpcSrv := grpcapi.NewServer(svc, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return broadcaster.Start(gctx)
	})
	g.Go(func() error {
		return grpcSrv.Serve(gctx, grpcLis)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
