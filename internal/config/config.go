// Package config loads relay and peer settings from the environment, with an
// optional .env file layered underneath.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"arena-duel/server"
	"arena-duel/server/internal/match"
	"arena-duel/server/internal/observability"
	"arena-duel/server/logging"
)

// RelayConfig configures cmd/server.
type RelayConfig struct {
	Addr              string        `env:"ARENA_ADDR" envDefault:":8080"`
	HeartbeatInterval time.Duration `env:"ARENA_HEARTBEAT_INTERVAL" envDefault:"2s"`
	DisconnectAfter   time.Duration `env:"ARENA_DISCONNECT_AFTER" envDefault:"6s"`
	PeerRate          float64       `env:"ARENA_PEER_RATE" envDefault:"120"`
	PeerBurst         int           `env:"ARENA_PEER_BURST" envDefault:"240"`
	MaxPeers          int           `env:"ARENA_MAX_PEERS" envDefault:"2"`

	Log           LogConfig
	Observability observability.Config
}

// PeerConfig configures cmd/peer.
type PeerConfig struct {
	RelayURL       string        `env:"ARENA_RELAY_URL" envDefault:"ws://localhost:8080/ws"`
	Nickname       string        `env:"ARENA_NICKNAME" envDefault:"peer"`
	TickRate       int           `env:"ARENA_TICK_RATE" envDefault:"50"`
	PublishRate    int           `env:"ARENA_PUBLISH_RATE" envDefault:"20"`
	HistoryPath    string        `env:"ARENA_HISTORY_PATH"`
	CatalogPath    string        `env:"ARENA_CATALOG_PATH"`
	WinScore       int           `env:"ARENA_WIN_SCORE" envDefault:"5"`
	SlowMoScale    float64       `env:"ARENA_SLOWMO_SCALE" envDefault:"0.2"`
	SlowMoDuration time.Duration `env:"ARENA_SLOWMO_DURATION" envDefault:"1.5s"`
	Autopilot      bool          `env:"ARENA_AUTOPILOT" envDefault:"true"`
	Seed           uint64        `env:"ARENA_SEED"`

	Log           LogConfig
	Observability observability.Config
}

// LogConfig selects event severity floors and the optional JSON-lines sink.
type LogConfig struct {
	Level      string `env:"ARENA_LOG_LEVEL" envDefault:"info"`
	Categories string `env:"ARENA_LOG_CATEGORIES"`
	JSONPath   string `env:"ARENA_LOG_JSON_PATH"`
}

// Router maps the settings onto the logging router's config.
func (c LogConfig) Router() (logging.Config, error) {
	cfg := logging.DefaultConfig()
	level, err := logging.ParseSeverity(c.Level)
	if err != nil {
		return cfg, fmt.Errorf("ARENA_LOG_LEVEL: %w", err)
	}
	floors, err := logging.ParseCategorySeverity(c.Categories)
	if err != nil {
		return cfg, fmt.Errorf("ARENA_LOG_CATEGORIES: %w", err)
	}
	cfg.MinimumSeverity = level
	cfg.CategorySeverity = floors
	return cfg, nil
}

// LoadDotEnv reads the named files (".env" when none are given) into the
// process environment. Missing files are skipped and existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Relay parses a RelayConfig. A nil environ reads the process environment.
func Relay(environ map[string]string) (RelayConfig, error) {
	cfg, err := parse[RelayConfig](environ)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Peer parses a PeerConfig. A nil environ reads the process environment.
func Peer(environ map[string]string) (PeerConfig, error) {
	cfg, err := parse[PeerConfig](environ)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func parse[T any](environ map[string]string) (T, error) {
	var cfg T
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c RelayConfig) Validate() error {
	switch {
	case c.MaxPeers < 2:
		return fmt.Errorf("ARENA_MAX_PEERS must be at least 2, got %d", c.MaxPeers)
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("ARENA_HEARTBEAT_INTERVAL must be positive")
	case c.DisconnectAfter <= c.HeartbeatInterval:
		return fmt.Errorf("ARENA_DISCONNECT_AFTER (%s) must exceed the heartbeat interval (%s)", c.DisconnectAfter, c.HeartbeatInterval)
	case c.PeerRate <= 0 || c.PeerBurst <= 0:
		return fmt.Errorf("ARENA_PEER_RATE and ARENA_PEER_BURST must be positive")
	}
	_, err := c.Log.Router()
	return err
}

// HubConfig maps the relay settings onto the hub.
func (c RelayConfig) HubConfig() server.HubConfig {
	cfg := server.DefaultHubConfig()
	cfg.MaxPeers = c.MaxPeers
	cfg.HeartbeatInterval = c.HeartbeatInterval
	cfg.DisconnectAfter = c.DisconnectAfter
	cfg.PeerRate = c.PeerRate
	cfg.PeerBurst = c.PeerBurst
	return cfg
}

func (c PeerConfig) Validate() error {
	switch {
	case c.RelayURL == "":
		return fmt.Errorf("ARENA_RELAY_URL is required")
	case c.TickRate <= 0:
		return fmt.Errorf("ARENA_TICK_RATE must be positive, got %d", c.TickRate)
	case c.PublishRate <= 0 || c.PublishRate > c.TickRate:
		return fmt.Errorf("ARENA_PUBLISH_RATE must be in (0, %d], got %d", c.TickRate, c.PublishRate)
	case c.WinScore <= 0:
		return fmt.Errorf("ARENA_WIN_SCORE must be positive, got %d", c.WinScore)
	case c.SlowMoScale <= 0 || c.SlowMoScale > 1:
		return fmt.Errorf("ARENA_SLOWMO_SCALE must be in (0, 1], got %v", c.SlowMoScale)
	case c.SlowMoDuration <= 0:
		return fmt.Errorf("ARENA_SLOWMO_DURATION must be positive")
	}
	if c.CatalogPath != "" {
		if _, err := os.Stat(c.CatalogPath); err != nil {
			return fmt.Errorf("ARENA_CATALOG_PATH: %w", err)
		}
	}
	_, err := c.Log.Router()
	return err
}

// MatchRules maps the peer settings onto the match director's rules.
func (c PeerConfig) MatchRules() match.Config {
	rules := match.DefaultConfig()
	rules.WinScore = c.WinScore
	rules.SlowMotionScale = c.SlowMoScale
	rules.SlowMotionDuration = c.SlowMoDuration
	return rules
}

// PublishInterval is the real-time period between self-state frames.
func (c PeerConfig) PublishInterval() time.Duration {
	return time.Second / time.Duration(c.PublishRate)
}
