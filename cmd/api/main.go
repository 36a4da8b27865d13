package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PigStep/Vibe-BPMN-studio/internal/config"
	"github.com/PigStep/Vibe-BPMN-studio/internal/handler"
	"github.com/PigStep/Vibe-BPMN-studio/internal/logging"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/ai"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/chat"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/studio"
	"github.com/PigStep/Vibe-BPMN-studio/internal/storage/sqlite"
	"github.com/PigStep/Vibe-BPMN-studio/internal/telemetry"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file (dev only)
	if loaded, err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	} else if loaded {
		log.Println("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	_, closeLog, err := logging.Setup(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialise logging: %v", err)
	}
	defer closeLog()

	if cfg.Log.TelemetryEnabled {
		shutdown, err := telemetry.Init(ctx, cfg.Log.TelemetryDir, version, 10*time.Second)
		if err != nil {
			log.Printf("warning: telemetry disabled: %v", err)
		} else {
			defer shutdown()
			log.Printf("telemetry exporting to %s", cfg.Log.TelemetryDir)
		}
	}

	store, closeStore, err := openStore(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	defer closeStore()

	// Initialize AI service
	var studioSvc *studio.Service
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality, check OPENROUTER_* or ARK_* variables")
			studioSvc = studio.New(nil, store)
		} else {
			log.Printf("AI service initialized successfully provider=%s", cfg.AI.Provider)
			studioSvc = studio.New(aiService, store)
		}
	} else {
		log.Println("model credentials not configured, generation endpoints will answer 503")
		studioSvc = studio.New(nil, store)
	}

	router := handler.NewRouter(cfg, studioSvc)

	startServer(ctx, cfg.Server, router)
}

func openStore(cfg config.StorageConfig) (chat.Store, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("session store: sqlite at %s", cfg.Path)
		return sqlite.NewStore(db), func() { _ = db.Close() }, nil
	case "memory", "":
		log.Println("session store: in-memory")
		return chat.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Vibe BPMN Studio listening on %s", addr)
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
