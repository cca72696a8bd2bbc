package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"gamenotes/internal/offline"
	"gamenotes/internal/store"
)

func main() {
	var configPath string
	var verbose bool
	flag.StringVar(&configPath, "config", getenvDefault("GAMENOTES_CONFIG", "./gamenotes.yaml"), "path to gamenotes.yaml")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := offline.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", configPath).Msg("load config")
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Fatal().Err(err).Msg("logging.level")
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	logger = logger.Level(level)

	st, err := store.New(cfg.StoreOptions())
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Str("path", cfg.Storage.Path).Msg("open store")
	}
	defer st.Close()

	svc, err := offline.NewService(cfg, st, offline.WithLogger(logger))
	if err != nil {
		// Fatal exits without running defers.
		_ = st.Close()
		logger.Fatal().Err(err).Msg("init service")
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		svc.Close()
		_ = st.Close()
		logger.Fatal().Err(err).Str("addr", addr).Msg("listen")
	}

	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", addr).
			Str("origin", cfg.Server.Origin).
			Str("generation", cfg.GenerationName()).
			Str("policy", cfg.Proxy.Policy).
			Str("base", cfg.BasePrefix()).
			Msg("gamenotes-offline listening")
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	// Requests arriving during install pass through or hit the previous
	// generation, so serving starts first.
	if err := svc.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("install failed")
		stop()
	} else if len(cfg.Bootstrap.Modules) > 0 {
		preflight(ctx, svc, logger)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// preflight loads the bootstrap modules through the proxy once the current
// version is active, so a broken install shows up in the logs at startup.
func preflight(ctx context.Context, svc *offline.Service, logger zerolog.Logger) {
	select {
	case <-svc.Ready():
	default:
		logger.Info().Msg("bootstrap preflight skipped, generation is waiting for activation")
		return
	}
	rep, err := svc.BootstrapLoader().Load(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap preflight")
		return
	}
	if rep.Failed() {
		logger.Error().
			Str("mode", string(rep.Mode)).
			Str("first_error", rep.FirstError()).
			Strs("skipped", rep.Skipped).
			Msg("bootstrap preflight failed")
		return
	}
	logger.Info().Int("modules", len(rep.Modules)).Msg("bootstrap preflight ok")
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
