package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"arena-duel/server/logging"
)

func TestRelayDefaults(t *testing.T) {
	cfg, err := Relay(map[string]string{})
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.MaxPeers != 2 || cfg.HeartbeatInterval != 2*time.Second || cfg.DisconnectAfter != 6*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.Observability.OTelEnabled || cfg.Observability.TracingEnabled() {
		t.Fatalf("tracing should be opt-in by endpoint: %+v", cfg.Observability)
	}
	hub := cfg.HubConfig()
	if hub.PeerRate != 120 || hub.PeerBurst != 240 {
		t.Fatalf("hub config not mapped: %+v", hub)
	}
}

func TestRelayValidation(t *testing.T) {
	cases := []struct {
		name    string
		environ map[string]string
	}{
		{name: "single peer", environ: map[string]string{"ARENA_MAX_PEERS": "1"}},
		{name: "disconnect before heartbeat", environ: map[string]string{"ARENA_DISCONNECT_AFTER": "1s"}},
		{name: "zero rate", environ: map[string]string{"ARENA_PEER_RATE": "0"}},
		{name: "malformed duration", environ: map[string]string{"ARENA_HEARTBEAT_INTERVAL": "soon"}},
		{name: "unknown log level", environ: map[string]string{"ARENA_LOG_LEVEL": "chatty"}},
		{name: "malformed category floor", environ: map[string]string{"ARENA_LOG_CATEGORIES": "network"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Relay(tc.environ); err == nil {
				t.Fatalf("expected error for %v", tc.environ)
			}
		})
	}
}

func TestPeerOverridesAndRules(t *testing.T) {
	cfg, err := Peer(map[string]string{
		"ARENA_NICKNAME":        "bot",
		"ARENA_WIN_SCORE":       "3",
		"ARENA_SLOWMO_SCALE":    "0.5",
		"ARENA_SLOWMO_DURATION": "2s",
		"ARENA_PUBLISH_RATE":    "10",
		"ARENA_OTEL_ENDPOINT":   "http://collector:4318",
	})
	if err != nil {
		t.Fatalf("peer: %v", err)
	}
	if cfg.Nickname != "bot" || !cfg.Autopilot {
		t.Fatalf("unexpected peer config: %+v", cfg)
	}
	logCfg, err := cfg.Log.Router()
	if err != nil || logCfg.MinimumSeverity != logging.SeverityInfo {
		t.Fatalf("unexpected log config %+v: %v", logCfg, err)
	}
	rules := cfg.MatchRules()
	if rules.WinScore != 3 || rules.SlowMotionScale != 0.5 || rules.SlowMotionDuration != 2*time.Second {
		t.Fatalf("rules not mapped: %+v", rules)
	}
	if len(rules.SpawnPoints) == 0 {
		t.Fatalf("spawn points dropped from rules")
	}
	if cfg.PublishInterval() != 100*time.Millisecond {
		t.Fatalf("unexpected publish interval %s", cfg.PublishInterval())
	}
	if !cfg.Observability.TracingEnabled() {
		t.Fatalf("expected tracing to be enabled with an endpoint")
	}
}

func TestPeerValidation(t *testing.T) {
	cases := []struct {
		name    string
		environ map[string]string
	}{
		{name: "publish faster than tick", environ: map[string]string{"ARENA_PUBLISH_RATE": "60"}},
		{name: "slowmo above one", environ: map[string]string{"ARENA_SLOWMO_SCALE": "1.5"}},
		{name: "zero win score", environ: map[string]string{"ARENA_WIN_SCORE": "0"}},
		{name: "missing catalog", environ: map[string]string{"ARENA_CATALOG_PATH": filepath.Join(t.TempDir(), "nope.json")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Peer(tc.environ); err == nil {
				t.Fatalf("expected error for %v", tc.environ)
			}
		})
	}
}

func TestLoadDotEnvSkipsMissingAndKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("ARENA_TEST_DOTENV_A=from-file\nARENA_TEST_DOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ARENA_TEST_DOTENV_B", "from-env")
	t.Cleanup(func() { os.Unsetenv("ARENA_TEST_DOTENV_A") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("ARENA_TEST_DOTENV_A"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("ARENA_TEST_DOTENV_B"); got != "from-env" {
		t.Fatalf("existing variable overwritten: %q", got)
	}
}
