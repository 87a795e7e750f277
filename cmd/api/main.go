package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirachat/backend/internal/config"
	"github.com/kirachat/backend/internal/handler"
	"github.com/kirachat/backend/internal/service/generate"
	speechservice "github.com/kirachat/backend/internal/service/speech"
	"github.com/kirachat/backend/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := storage.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("failed to open database at %s: %v", cfg.Store.Path, err)
	}
	defer store.Close()
	log.Printf("database ready at %s", cfg.Store.Path)

	gen, err := buildGenerator(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize reply generator: %v", err)
	}
	log.Printf("reply generator backend: %s", gen.Name())

	var speechSvc *speechservice.Service
	if cfg.Speech.Enabled {
		speechSvc = speechservice.NewService(cfg.Speech)
		log.Println("speech service initialized successfully")
	} else {
		log.Println("speech credentials not configured, skipping TTS")
	}

	router := handler.NewRouter(cfg, store, gen, speechSvc)

	startServer(ctx, cfg.Server, router)
}

// buildGenerator selects the reply backend: the hosted model when
// configured (or explicitly requested), else the local CLI agent.
func buildGenerator(ctx context.Context, cfg *config.Config) (generate.Generator, error) {
	backend := cfg.Chat.Backend
	if backend == "" {
		backend = config.BackendAgent
		if cfg.AI.Enabled() {
			backend = config.BackendArk
		}
	}

	switch backend {
	case config.BackendArk:
		return generate.NewHostedGenerator(ctx, cfg.AI)
	default:
		return generate.NewAgentGenerator(cfg.Chat.AgentCommand, cfg.Chat.AgentArgs...), nil
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Kira backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
