package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/devicesync/internal/config"
	"example.com/devicesync/internal/dispatch"
	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/notify"
	"example.com/devicesync/internal/outbox"
	"example.com/devicesync/internal/persistence/postgres"
	syncpkg "example.com/devicesync/internal/sync"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	flags := domain.StaticFlags(cfg.FlagMap())
	rollout := cfg.RolloutSet()

	emitter := outbox.NewEmitter(store)
	processor := syncpkg.NewProcessor(store, flags, rollout, emitter)
	dispatcher := dispatch.NewDispatcher(store, processor, emitter,
		dispatch.WithMaxAttempts(cfg.SyncMaxAttempts),
		dispatch.WithStaleAfter(cfg.DispatchStaleAfter),
	)

	sender, err := notify.NewSender(cfg.NotifyChannel, nil)
	if err != nil {
		log.Fatalf("failed to build notifier: %v", err)
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		cancel()
	}()

	log.Printf("devicesync worker dispatching every %s", cfg.DispatchInterval)

	ticker := time.NewTicker(cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		runOnce(ctx, dispatcher, store, sender, cfg.DispatchBatchSize)

		select {
		case <-ctx.Done():
			log.Printf("worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, dispatcher *dispatch.Dispatcher, store domain.Store, sender notify.Sender, batchSize int) {
	if reclaimed, err := dispatcher.ReclaimStale(ctx); err != nil {
		log.Printf("reclaim error: %v", err)
	} else if reclaimed > 0 {
		log.Printf("reclaimed %d stale running jobs", reclaimed)
	}

	result, err := dispatcher.Dispatch(ctx, batchSize, "")
	if err != nil {
		log.Printf("dispatch error: %v", err)
		return
	}
	if result.ScannedCount > 0 {
		log.Printf("dispatch: scanned=%d processed=%d retried=%d failed=%d",
			result.ScannedCount, result.ProcessedCount, result.RetriedCount, result.FailedCount)
	}

	for _, jobID := range result.FailedJobIDs {
		job, err := store.GetJob(ctx, jobID)
		if err != nil || job == nil {
			continue
		}
		message := ""
		if job.ErrorMessage != nil {
			message = *job.ErrorMessage
		}
		notification := notify.Notification{
			UserID:  job.UserID,
			Subject: fmt.Sprintf("%s sync failed", job.Provider),
			Body:    fmt.Sprintf("Sync for your %s connection stopped after %d attempts: %s", job.Provider, job.RetryCount, message),
		}
		if err := sender.Send(ctx, notification); err != nil {
			log.Printf("notify error (job=%s): %v", jobID, err)
		}
	}
}
