package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-library-holds/internal/clock"
	"github.com/ariefcatur/go-library-holds/internal/config"
	"github.com/ariefcatur/go-library-holds/internal/holds"
	"github.com/ariefcatur/go-library-holds/internal/httpx"
	kafkax "github.com/ariefcatur/go-library-holds/internal/kafka"
	"github.com/ariefcatur/go-library-holds/internal/postgres"
	"github.com/ariefcatur/go-library-holds/internal/redisx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", cfg.ServiceName)

	clk := clock.NewOverridable(clock.Real{})
	if at, _ := cfg.SimulatedTime(); !at.IsZero() {
		clk.Override(at)
		log.Printf("simulated date pinned at %s", at.Format(time.RFC3339))
	}

	// Store
	var store holds.Store
	switch cfg.Store {
	case "memory":
		store = holds.NewMemStore()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("db connect: %v", err)
		}
		defer db.Close()
		pg := &holds.PgStore{DB: db}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		store = pg
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, holds.TopicHoldNotices, 1024)
	prod.Start(ctx)

	cache := &redisx.AvailabilityCache{RDB: rdb}
	engine := holds.New(store, clk,
		holds.WithPolicy(cfg.Policy()),
		holds.WithNotifier(&kafkax.NoticePublisher{Producer: prod, Service: cfg.ServiceName}),
		holds.WithInvalidator(cache),
		holds.WithLogger(logger),
	)

	sweeper := &holds.Sweeper{
		Engine:   engine,
		Interval: cfg.SweepInterval,
		Locker:   &redisx.SweepLock{RDB: rdb},
	}
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			log.Printf("sweeper: %v", err)
		}
	}()

	router := httpx.NewRouter()
	hh := &httpx.HoldsHandler{
		Engine: engine,
		Cache:  cache,
		Idem:   &redisx.IdempotencyStore{RDB: rdb},
		Clock:  clk,
	}
	hh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel() // stops the sweeper and the producer loop
	prod.WaitClosed()
}
