// voice-api: Voice conversation orchestration service
// Accepts recorded audio, drives the remote speech pipeline and pushes
// transcripts and replies to websocket subscribers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/internal/config"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/internal/log"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/api"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/conversation"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/hub"
)

var (
	version = "1.0.0"
	port    = flag.String("port", "", "HTTP server port (overrides PORT)")
	debug   = flag.Bool("debug", false, "Enable debug logging")
	envFile = flag.String("env", ".env", "Optional .env file")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}

	log.Init(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Error("voice-api exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Service) error {
	log.Info("starting voice-api",
		"version", version,
		"port", cfg.Port,
		"blobs", cfg.BlobBackend,
		"store", cfg.StoreBackend,
		"invoker", cfg.InvokerBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	subscribers := hub.New("subscribers", log.Component("hub"))
	go subscribers.Run(ctx)

	b, err := newBackends(ctx, cfg, subscribers)
	if err != nil {
		return err
	}
	defer b.Close()

	orch, err := conversation.New(conversation.Deps{
		Blobs:    b.blobs,
		Invoker:  b.invoker,
		Turns:    b.turns,
		Notifier: b.notifier,
	},
		conversation.WithProcessingFunction(cfg.VoiceProcessingFunction),
		conversation.WithResponseFunction(cfg.ResponseFunction),
		conversation.WithInvokeTimeout(cfg.InvokeTimeout),
		conversation.WithSignedURLTTL(cfg.SignedURLTTL),
		conversation.WithLogger(log.L()),
	)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	if cfg.StaleAfter > 0 {
		interval := max(cfg.StaleAfter/4, time.Second)
		go orch.RunSweeper(ctx, interval, cfg.StaleAfter)
	}

	srv, err := api.New(api.Config{
		Service:       orch,
		Hub:           subscribers,
		Blobs:         b.memoryBlobs,
		CallbackToken: cfg.CallbackToken,
		StaleAfter:    cfg.StaleAfter,
		Version:       version,
		Logger:        log.With("version", version),
	})
	if err != nil {
		return err
	}
	if cfg.CallbackToken == "" {
		log.Warn("CALLBACK_TOKEN is not set; callback routes are unauthenticated")
	}

	app := api.NewApp("voice-api", cfg.Debug)
	srv.RegisterRoutes(app)

	serveErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info("listening",
			"addr", addr,
			"websocket", "ws://localhost:"+cfg.Port+"/ws?userId=",
			"health", "http://localhost:"+cfg.Port+"/health",
		)
		serveErr <- app.Listen(addr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("shutdown error", "error", err)
	}
	<-subscribers.Done()

	log.Info("goodbye")
	return nil
}
