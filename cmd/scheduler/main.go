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

	"example.com/healthsync/internal/adapter"
	"example.com/healthsync/internal/config"
	"example.com/healthsync/internal/domain"
	persistence "example.com/healthsync/internal/persistence/postgres"
	"example.com/healthsync/internal/reconcile"
	"example.com/healthsync/internal/scheduler"
	pullsync "example.com/healthsync/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	if err := persistence.Migrate(ctx, pool); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	repo := persistence.NewRepository(pool)

	sched := scheduler.New(repo, reconcile.DefaultPriorities(), scheduler.Config{
		PollInterval:     cfg.SchedulerPoll(),
		BatchSize:        cfg.SchedulerBatchSize,
		Workers:          cfg.SchedulerWorkers,
		ClaimTimeout:     cfg.SchedulerClaimTimeout(),
		OverlapThreshold: cfg.OverlapThreshold(),
	})
	go sched.Start(ctx)

	// Pull-sync shares this binary; both loops are periodic background work
	// over the same pool.
	service := domain.NewService(repo, adapter.All(), cfg.FailureThreshold)
	clients := make([]pullsync.Client, 0, len(cfg.PullEndpoints))
	for name, baseURL := range cfg.PullEndpoints {
		provider, err := domain.ParseProvider(name)
		if err != nil {
			log.Fatalf("pull endpoint for unknown provider %q", name)
		}
		clients = append(clients, pullsync.NewHTTPClient(provider, baseURL))
	}
	puller := pullsync.NewPuller(clients, repo, service, pullsync.Config{
		Interval:  cfg.PullInterval(),
		Lookback:  cfg.PullLookback(),
		BatchSize: cfg.PullBatchSize,
	})
	go puller.Start(ctx)

	metricsSrv := &http.Server{Addr: cfg.Addr, Handler: promhttp.Handler()}
	go func() {
		log.Printf("scheduler metrics listening on %s", cfg.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("scheduler shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	sched.Wait()
	puller.Wait()
}
