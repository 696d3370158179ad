// SPDX-License-Identifier: MIT

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

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/seqstream/internal/api"
	"github.com/ManuGH/seqstream/internal/auth"
	"github.com/ManuGH/seqstream/internal/config"
	xglog "github.com/ManuGH/seqstream/internal/log"
	"github.com/ManuGH/seqstream/internal/stream"
	"github.com/ManuGH/seqstream/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		xglog.Configure(xglog.Config{Service: "seqstream", Version: version.Version})
		fallbackLogger := xglog.WithComponent("daemon")
		fallbackLogger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version.Version,
	})
	logger := xglog.WithComponent("daemon")

	engine, err := stream.New(cfg, xglog.WithComponent("stream"))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "engine.init_failed").
			Str("backend", string(cfg.Backend)).
			Msg("failed to initialise streaming engine")
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn().Err(err).Str("event", "engine.close_failed").Msg("engine close failed")
		}
	}()

	var tokens *auth.StreamTokenService
	if cfg.StreamTokenSecret != "" {
		tokens = auth.NewStreamTokenService(cfg.StreamTokenSecret, cfg.StreamTokenTTL)
	} else {
		logger.Warn().
			Str("event", "auth.embedded_disabled").
			Msg("no stream token secret configured, embedded credential carrier disabled")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(cfg, engine, tokens).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// long-lived SSE requests must observe the shutdown signal, or a
		// graceful Shutdown waits out its full timeout on every stream
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("event", "daemon.listening").
			Str("addr", cfg.ListenAddr).
			Str("backend", string(cfg.Backend)).
			Str("version", version.Version).
			Msg("seqstream daemon started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info().
			Str("event", "daemon.shutdown").
			Dur("timeout", cfg.ShutdownTimeout).
			Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon terminated with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped cleanly")
}
