package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tiflis/tiflis/internal/common/config"
	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/internal/common/tracing"
	"github.com/tiflis/tiflis/internal/tunnel/forwarder"
	"github.com/tiflis/tiflis/internal/tunnel/longpoll"
	"github.com/tiflis/tiflis/internal/tunnel/registry"
	"github.com/tiflis/tiflis/internal/tunnel/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.ValidateTunnel(); err != nil {
		log.Fatal("invalid tunnel configuration", zap.Error(err))
	}

	tracing.SetServiceName("tiflis-tunnel")

	store, err := registry.NewFileStore(cfg.Tunnel.StoragePath)
	if err != nil {
		log.Fatal("failed to open identity store", zap.Error(err))
	}
	reg, err := registry.New(store, log)
	if err != nil {
		log.Fatal("failed to load tunnel identities", zap.Error(err))
	}

	fwd := forwarder.New(log)
	watch := longpoll.New(fwd, reg, cfg.Tunnel.WatchQueueSize, cfg.Tunnel.WatchIdleExpiryDuration(), log)
	srv := server.New(cfg.Tunnel, reg, fwd, watch, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error {
		watch.Run(ctx)
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatal("tunnel exited", zap.Error(err))
	}

	if err := tracing.Shutdown(context.Background()); err != nil {
		log.Warn("tracing shutdown failed", zap.Error(err))
	}
	log.Info("tunnel stopped")
}
