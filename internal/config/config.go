// Package config loads process settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/xtding233/loot-roller/internal/gacha"
	"github.com/xtding233/loot-roller/internal/roll"
)

// Config holds every process setting of the roll service.
type Config struct {
	HTTPAddr   string `env:"LOOT_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr   string `env:"LOOT_GRPC_ADDR" envDefault:":9090"`
	RedisAddr  string `env:"LOOT_REDIS_ADDR"` // empty runs every store in memory
	RedisDB    int    `env:"LOOT_REDIS_DB" envDefault:"0"`
	CatalogDir string `env:"LOOT_CATALOG_DIR" envDefault:"configs/catalog"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	WatchInterval time.Duration `env:"LOOT_WATCH_INTERVAL" envDefault:"2s"`
	WeightTTL     time.Duration `env:"LOOT_WEIGHT_TTL" envDefault:"60s"`

	SlotCount     int           `env:"LOOT_SLOT_COUNT" envDefault:"50"`
	WinnerIndex   int           `env:"LOOT_WINNER_INDEX" envDefault:"45"`
	RareRank      int           `env:"LOOT_RARE_RANK" envDefault:"10"`
	CommitRetries int           `env:"LOOT_COMMIT_RETRIES" envDefault:"5"`
	PoolGrace     time.Duration `env:"LOOT_POOL_GRACE" envDefault:"2s"`
	PoolCapacity  int           `env:"LOOT_POOL_CAPACITY" envDefault:"256"`

	LuckExponentPerRank float64 `env:"LOOT_LUCK_EXPONENT" envDefault:"0.35"`
	BoostMin            float64 `env:"LOOT_BOOST_MIN" envDefault:"0.9"`
	BoostMax            float64 `env:"LOOT_BOOST_MAX" envDefault:"7.5"`
	WeightMin           float64 `env:"LOOT_WEIGHT_MIN" envDefault:"1e-12"`

	NewAccountBoost  float64       `env:"LOOT_NEW_ACCOUNT_BOOST" envDefault:"1"`
	NewAccountWindow time.Duration `env:"LOOT_NEW_ACCOUNT_WINDOW" envDefault:"0s"`

	RarePublishLimit int           `env:"LOOT_RARE_PUBLISH_LIMIT" envDefault:"2"` // per second
	RareResubscribe  time.Duration `env:"LOOT_RARE_RESUBSCRIBE" envDefault:"1s"`
	SeenLimit        int           `env:"LOOT_SEEN_LIMIT" envDefault:"1000"`
	LatestTTL        time.Duration `env:"LOOT_LATEST_TTL" envDefault:"24h"`

	JobLimit   int           `env:"LOOT_JOB_LIMIT" envDefault:"64"`
	JobTimeout time.Duration `env:"LOOT_JOB_TIMEOUT" envDefault:"5s"`
	SlotTTL    time.Duration `env:"LOOT_SLOT_TTL" envDefault:"30s"`

	// DevIssue mounts POST /dev/tokens for local runs without a token service.
	DevIssue bool `env:"LOOT_DEV_ISSUE" envDefault:"false"`
}

// Load parses the environment and rejects values the process cannot run
// with.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	durations := []struct {
		name string
		v    time.Duration
	}{
		{"LOOT_WATCH_INTERVAL", c.WatchInterval},
		{"LOOT_WEIGHT_TTL", c.WeightTTL},
		{"LOOT_RARE_RESUBSCRIBE", c.RareResubscribe},
	}
	for _, d := range durations {
		if d.v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.v)
		}
	}
	counts := []struct {
		name string
		v    int
	}{
		{"LOOT_SLOT_COUNT", c.SlotCount},
		{"LOOT_POOL_CAPACITY", c.PoolCapacity},
		{"LOOT_JOB_LIMIT", c.JobLimit},
		{"LOOT_RARE_PUBLISH_LIMIT", c.RarePublishLimit},
	}
	for _, n := range counts {
		if n.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", n.name, n.v)
		}
	}
	return nil
}

// Level returns the configured log level, info when unparsable.
func (c Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}

// Roll returns the roll service tunables.
func (c Config) Roll() roll.Config {
	w := gacha.DefaultWeightParams()
	w.LuckExponentPerRank = c.LuckExponentPerRank
	w.BoostMin = c.BoostMin
	w.BoostMax = c.BoostMax
	w.WeightMin = c.WeightMin
	return roll.Config{
		SlotCount:     c.SlotCount,
		WinnerIndex:   c.WinnerIndex,
		RareRank:      c.RareRank,
		CommitRetries: c.CommitRetries,
		Grace:         c.PoolGrace,
		Weight:        w,
		Luck: gacha.LuckPolicy{
			NewAccountBoost:  c.NewAccountBoost,
			NewAccountWindow: c.NewAccountWindow,
		},
	}
}
