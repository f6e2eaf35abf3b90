package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"

	"github.com/hackgods/medoswift-realtime/internal/api"
	"github.com/hackgods/medoswift-realtime/internal/auth"
	"github.com/hackgods/medoswift-realtime/internal/config"
	"github.com/hackgods/medoswift-realtime/internal/db"
	"github.com/hackgods/medoswift-realtime/internal/order"
	"github.com/hackgods/medoswift-realtime/internal/realtime"
	redisclient "github.com/hackgods/medoswift-realtime/internal/redis"
	"github.com/hackgods/medoswift-realtime/internal/scheduling"
)

const version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s storage=%s", cfg.Env, cfg.HTTPPort, cfg.StorageBackend)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	var events realtime.Publisher = hub

	// Connect Redis
	rdb, err := redisclient.Connect(rootCtx, cfg)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	var guard api.IdempotencyGuard
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Printf("error closing redis: %v", err)
			}
		}()
		log.Println("connected to Redis")

		relay := redisclient.NewRelay(rdb, hub)
		events = relay
		go func() {
			if err := relay.Run(rootCtx); err != nil {
				log.Printf("event relay stopped: %v", err)
			}
		}()
		guard = redisclient.NewIdempotencyGuard(rdb, cfg.IdempotencyTTL)
	} else {
		log.Println("redis not configured, events stay in-process and idempotency keys are ignored")
	}

	authn := auth.NewAuthenticator(cfg.JWTSecret)

	var (
		pgPool      *pgxpool.Pool
		apptRepo    scheduling.Repository
		doctors     scheduling.DoctorDirectory
		orderRepo   order.Repository
		addressBook order.AddressBook
	)
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancelPg()
		if err != nil {
			log.Fatalf("postgres connection error: %v", err)
		}
		defer pgPool.Close()
		log.Println("connected to Postgres")

		if err := db.Migrate(rootCtx, pgPool); err != nil {
			log.Fatalf("migration error: %v", err)
		}

		apptRepo = scheduling.NewPgRepository(pgPool)
		doctors = scheduling.NewPgDoctorDirectory(pgPool)
		orderRepo = order.NewPgRepository(pgPool)
		addressBook = order.NewPgAddressBook(pgPool)
	case config.BackendMemory:
		log.Println("using in-memory storage, state is lost on restart")
		mem, err := seedMemory(rootCtx, gofakeit.New(uint64(time.Now().UnixNano())))
		if err != nil {
			log.Fatalf("memory seed error: %v", err)
		}
		logDemoTokens(authn, mem)

		apptRepo = mem.appts
		doctors = mem.doctors
		orderRepo = mem.orders
		addressBook = mem.addresses
	}

	coord := scheduling.NewCoordinator(apptRepo, doctors, events, cfg)

	router := api.NewRouter(api.RouterConfig{
		Coordinator: coord,
		Checkout:    order.NewLedger(orderRepo, addressBook, events),
		Lifecycle:   order.NewLifecycle(orderRepo, events),
		Hub:         hub,
		Auth:        authn,
		Idempotency: guard,
		Limiter:     api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		PgPool:      pgPool,
		Redis:       rdb,
		CORSOrigins: cfg.CORSOrigins,
		WSBuffer:    cfg.WSSendBuffer,
		Env:         cfg.Env,
		Version:     version,
	})

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}).Handler(router)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
