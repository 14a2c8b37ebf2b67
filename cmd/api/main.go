package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/devicesync/internal/api"
	"example.com/devicesync/internal/config"
	"example.com/devicesync/internal/dispatch"
	"example.com/devicesync/internal/domain"
	"example.com/devicesync/internal/ingest"
	"example.com/devicesync/internal/outbox"
	"example.com/devicesync/internal/persistence/postgres"
	syncpkg "example.com/devicesync/internal/sync"
	httptransport "example.com/devicesync/internal/transport/http"
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

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	relay := outbox.NewRelay(store, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go relay.Start(ctx)

	emitter := outbox.NewEmitter(store)
	ingestor := ingest.NewService(store, flags, rollout)
	processor := syncpkg.NewProcessor(store, flags, rollout, emitter)
	dispatcher := dispatch.NewDispatcher(store, processor, emitter,
		dispatch.WithMaxAttempts(cfg.SyncMaxAttempts),
		dispatch.WithStaleAfter(cfg.DispatchStaleAfter),
	)

	handler := api.NewHandler(ingestor, dispatcher)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, logger(mux))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("devicesync api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	relay.Wait()
}
