package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/medoswift-realtime/internal/config"
	"github.com/hackgods/medoswift-realtime/internal/db"
	"github.com/hackgods/medoswift-realtime/internal/scheduling"
)

// noopPublisher satisfies the coordinator; reconciliation emits no events.
type noopPublisher struct{}

func (noopPublisher) Publish(string, string, any) {}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("slot-reconciler starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StorageBackend != config.BackendPostgres {
		log.Fatalf("slot-reconciler needs STORAGE_BACKEND=postgres, got %s", cfg.StorageBackend)
	}

	log.Printf("running slot reconciler in env=%s interval=%s grace=%s", cfg.Env, cfg.ReconcileInterval, cfg.ReconcileGrace)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	coord := scheduling.NewCoordinator(
		scheduling.NewPgRepository(pgPool),
		scheduling.NewPgDoctorDirectory(pgPool),
		noopPublisher{},
		cfg,
	)

	// Run once at startup
	runOnce(rootCtx, coord, cfg.ReconcileGrace)

	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping slot reconciler")
			return
		case <-ticker.C:
			runOnce(rootCtx, coord, cfg.ReconcileGrace)
		}
	}
}

func runOnce(ctx context.Context, coord *scheduling.Coordinator, grace time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	released, err := coord.ReconcileSlots(runCtx, grace)
	if err != nil {
		log.Printf("reconcile run error: %v", err)
		return
	}
	log.Printf("reconcile run complete released=%d in %s", released, time.Since(start))
}
