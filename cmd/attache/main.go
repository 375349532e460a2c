package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"attache/internal/api"
	"attache/internal/config"
	"attache/internal/dispatch"
	"attache/internal/llm"
	"attache/internal/memory"
	"attache/internal/multimodal"
	"attache/internal/watch"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	// Best effort: a missing .env just means plain environment variables.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := memory.OpenDB(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	index, err := memory.OpenMessageIndex(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer index.Close()

	client, err := llm.NewClientFromEnv()
	if err != nil {
		return err
	}
	log.Printf("Using model %s", client.Model())

	mem := memory.NewManager(db, index, nil)
	facade := dispatch.NewFacade(mem, multimodal.NewProcessor(), client, cfg.UserID)

	if cfg.DropDir != "" {
		watcher := watch.New(cfg.DropDir, facade)
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("watcher stopped: %v", err)
			}
		}()
	}

	go runRetention(ctx, mem, cfg.RetentionDays)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewServer(facade).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// runRetention removes stale inactive sessions once a day.
func runRetention(ctx context.Context, mem *memory.Manager, days int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := mem.CleanupOldSessions(ctx, days)
			if err != nil {
				log.Printf("retention cleanup failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("Retention cleanup removed %d sessions", removed)
			}
		}
	}
}
