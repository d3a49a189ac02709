package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ariefcatur/go-library-holds/internal/cli"
	"github.com/ariefcatur/go-library-holds/internal/clock"
	"github.com/ariefcatur/go-library-holds/internal/config"
	"github.com/ariefcatur/go-library-holds/internal/holds"
	kafkax "github.com/ariefcatur/go-library-holds/internal/kafka"
	"github.com/ariefcatur/go-library-holds/internal/postgres"
	"github.com/ariefcatur/go-library-holds/internal/redisx"
)

// sideEffects are what operator commands share with the API: readers are
// notified and cached availability is dropped, exactly as for a request.
type sideEffects struct {
	notifier holds.Notifier
	cache    holds.Invalidator
	close    func() // flushes pending notices before releasing connections
}

func newBackend(cfg config.Config, store holds.Store, migrate func(context.Context) error, at time.Time, fx sideEffects) *cli.Backend {
	var clk clock.Clock = clock.Real{}
	if at.IsZero() {
		at, _ = cfg.SimulatedTime()
	}
	if !at.IsZero() {
		clk = clock.NewSimulated(at)
	}
	return &cli.Backend{
		Engine: holds.New(store, clk,
			holds.WithPolicy(cfg.Policy()),
			holds.WithNotifier(fx.notifier),
			holds.WithInvalidator(fx.cache),
		),
		Migrate: migrate,
		Close:   fx.close,
	}
}

func open(ctx context.Context, at time.Time) (*cli.Backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.WithMaxConns(2))
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	rdb := redisx.New(cfg.RedisAddr)
	prod := kafkax.NewProducer(cfg.KafkaBrokers, holds.TopicHoldNotices, 256)
	prod.Start(ctx)

	store := &holds.PgStore{DB: db}
	return newBackend(cfg, store, store.Migrate, at, sideEffects{
		notifier: &kafkax.NoticePublisher{Producer: prod, Service: cfg.ServiceName + "-holdctl"},
		cache:    &redisx.AvailabilityCache{RDB: rdb},
		close: func() {
			prod.Close()
			prod.WaitClosed()
			_ = rdb.Close()
			db.Close()
		},
	}), nil
}

func main() {
	if err := cli.NewRootCommand(open).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
