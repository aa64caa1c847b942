package app

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"arena-duel/server/internal/arena"
	"arena-duel/server/internal/config"
	"arena-duel/server/internal/draft"
	"arena-duel/server/internal/net/ws"
	"arena-duel/server/internal/observability"
	"arena-duel/server/internal/session"
	"arena-duel/server/internal/sim"
	"arena-duel/server/internal/store/sqlite"
	"arena-duel/server/internal/telemetry"
)

// RunPeer connects a headless peer to the relay and plays until the match
// ends, the relay goes away or ctx is cancelled.
func RunPeer(ctx context.Context, cfg config.PeerConfig, logger telemetry.Logger) error {
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	shutdownTracing, err := observability.Setup(ctx, cfg.Observability, "arena-peer")
	if err != nil {
		logger.Printf("tracing disabled: %v", err)
	}
	defer shutdownTracing(context.Background())

	router, err := newRouter(logger, cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := ws.Dial(dialCtx, cfg.RelayURL, ws.ClientConfig{Nickname: cfg.Nickname, Logger: logger})
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()
	welcome := client.Welcome()
	logger.Printf("joined relay as actor %d in slot %d of match %s", welcome.Actor, welcome.Slot, welcome.MatchID)

	arenaCfg := arena.DefaultConfig()
	arenaCfg.Local = welcome.Actor
	arenaCfg.MatchID = welcome.MatchID
	arenaCfg.Link = client
	arenaCfg.Match = cfg.MatchRules()
	arenaCfg.Catalog = catalog
	arenaCfg.Sampler = draft.NewSampler(newRand(cfg.Seed, welcome.Actor))
	arenaCfg.PublishInterval = cfg.PublishInterval()
	arenaCfg.Autopilot = cfg.Autopilot
	arenaCfg.Logger = logger
	arenaCfg.Publisher = router
	arenaCfg.Tracer = observability.Tracer()

	if cfg.HistoryPath != "" {
		history, err := sqlite.Open(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer history.Close()
		arenaCfg.Recorder = history
	}

	sess := arena.NewSession(arenaCfg)

	metrics := telemetry.NewCounters()
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	loop := sim.NewLoop(sess, sim.LoopConfig{TickRate: cfg.TickRate}, clockwork.NewRealClock(), sim.LoopHooks{
		AfterStep: func(sim.StepResult) {
			if sess.Director().Winner() != 0 {
				stop()
			}
		},
	}, logger, metrics)

	go func() {
		select {
		case <-client.Done():
			logger.Printf("relay connection closed: %v", client.Err())
			stop()
		case <-runCtx.Done():
		}
	}()

	err = loop.Run(runCtx)
	if winner := sess.Director().Winner(); winner != 0 {
		logger.Printf("match over, winner %d", winner)
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	if cerr := client.Err(); cerr != nil {
		return fmt.Errorf("relay connection lost: %w", cerr)
	}
	return err
}

func loadCatalog(path string) (draft.Catalog, error) {
	if path == "" {
		return draft.DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	catalog, err := draft.ReadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return catalog, nil
}

func newRand(seed uint64, actor session.ActorNumber) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, uint64(actor)))
}
