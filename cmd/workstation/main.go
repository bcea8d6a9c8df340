package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tiflis/tiflis/internal/common/config"
	"github.com/tiflis/tiflis/internal/common/logger"
	"github.com/tiflis/tiflis/internal/common/tracing"
	"github.com/tiflis/tiflis/internal/events/bus"
	"github.com/tiflis/tiflis/internal/workstation/agents"
	"github.com/tiflis/tiflis/internal/workstation/audio"
	"github.com/tiflis/tiflis/internal/workstation/hub"
	"github.com/tiflis/tiflis/internal/workstation/server"
	"github.com/tiflis/tiflis/internal/workstation/session"
	"github.com/tiflis/tiflis/internal/workstation/speech"
	"github.com/tiflis/tiflis/internal/workstation/upstream"
	"github.com/tiflis/tiflis/pkg/protocol"
)

// audioStoreCapacity bounds how many voice clips stay replayable.
const audioStoreCapacity = 100

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

	if err := cfg.ValidateWorkstation(); err != nil {
		log.Fatal("invalid workstation configuration", zap.Error(err))
	}

	tracing.SetServiceName("tiflis-workstation")

	eventBus, err := bus.New(cfg.NATS, log)
	if err != nil {
		log.Fatal("failed to connect event bus", zap.Error(err))
	}
	defer eventBus.Close()

	h := hub.New(log)
	audioStore := audio.NewStore(audioStoreCapacity)
	speechClient := speech.NewClient(cfg.Speech, log)
	registry := agents.NewRegistry(cfg.Workstation.Aliases, log)

	deps := session.AgentDeps{
		Runner:        session.NewAgentRunner(registry),
		Transcriber:   speechClient,
		Synthesizer:   speechClient,
		AudioStore:    audioStore,
		HistoryWindow: cfg.Workstation.HistoryWindow,
	}

	manager := session.NewManager(cfg.Workstation, h, eventBus, registry, deps, log)
	defaultAgent := "claude"
	if len(cfg.Workstation.Agents) > 0 {
		defaultAgent = cfg.Workstation.Agents[0]
	}
	supervisor := session.NewSupervisor(h, deps, defaultAgent, cfg.Workstation.WorkspacesRoot, log)

	srv := server.New(cfg.Workstation, h, manager, supervisor, audioStore, log)

	up, err := upstream.New(cfg.Workstation, log)
	if err != nil {
		log.Fatal("failed to create tunnel client", zap.Error(err))
	}
	up.SetHandler(srv.HandleFrame)
	up.OnRegistered(func(p protocol.RegisteredPayload) {
		link, err := protocol.EncodeMagicLink(protocol.MagicLink{
			TunnelID: p.TunnelID,
			URL:      p.PublicURL,
			Key:      cfg.Workstation.AuthKey,
		})
		if err != nil {
			log.Warn("failed to encode magic link", zap.Error(err))
			return
		}
		log.Info("registered with tunnel",
			zap.String("tunnel_id", p.TunnelID),
			zap.Bool("restored", p.Restored))
		fmt.Printf("\nConnect your devices:\n\n  %s\n\n", link)
	})
	h.SetSender(up)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return up.Run(ctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatal("workstation exited", zap.Error(err))
	}

	manager.TerminateAll()
	if err := tracing.Shutdown(context.Background()); err != nil {
		log.Warn("tracing shutdown failed", zap.Error(err))
	}
	log.Info("workstation stopped")
}
