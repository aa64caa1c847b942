package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"arena-duel/server"
	"arena-duel/server/internal/config"
	servernet "arena-duel/server/internal/net"
	"arena-duel/server/internal/observability"
	"arena-duel/server/internal/telemetry"
	"arena-duel/server/logging"
	loggingSinks "arena-duel/server/logging/sinks"
)

// Run starts the relay and serves until ctx is cancelled.
func Run(ctx context.Context, cfg config.RelayConfig, logger telemetry.Logger) error {
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	shutdownTracing, err := observability.Setup(ctx, cfg.Observability, "arena-relay")
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

	hubCfg := cfg.HubConfig()
	hubCfg.Logger = logger
	hubCfg.Publisher = router
	hub := server.NewHub(hubCfg)
	if err := hub.Start(); err != nil {
		return err
	}
	defer hub.Stop()

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Logger:           logger,
		EnablePprofTrace: cfg.Observability.EnablePprofTrace,
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("relay listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}

func newRouter(logger telemetry.Logger, cfg config.LogConfig) (*logging.Router, error) {
	fallbackLogger := log.Default()
	if provider, ok := logger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	logConfig, err := cfg.Router()
	if err != nil {
		return nil, err
	}
	sinks := []logging.NamedSink{{Name: "console", Sink: loggingSinks.NewConsole(os.Stdout)}}
	if cfg.JSONPath != "" {
		jsonSink, err := loggingSinks.OpenJSONFile(cfg.JSONPath, logConfig.JSONFlushInterval)
		if err != nil {
			return nil, fmt.Errorf("open json log: %w", err)
		}
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: jsonSink})
	}

	router, err := logging.NewRouter(clockwork.NewRealClock(), logConfig, fallbackLogger, sinks)
	if err != nil {
		return nil, fmt.Errorf("failed to construct logging router: %w", err)
	}
	return router, nil
}
