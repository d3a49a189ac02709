package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-library-holds/internal/config"
	"github.com/ariefcatur/go-library-holds/internal/holds"
	kafkax "github.com/ariefcatur/go-library-holds/internal/kafka"
	"github.com/ariefcatur/go-library-holds/internal/notify"
	"github.com/ariefcatur/go-library-holds/internal/redisx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service := cfg.ServiceName + "-notifier"
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", service)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notify.Service{
		Dedup:       &redisx.Dedup{RDB: rdb},
		Deliverer:   notify.LogDeliverer{Logger: logger},
		ServiceName: service,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, holds.TopicHoldNotices, cfg.NotifierWorkers)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Printf("notifier started: group=%s topic=%s workers=%d", cfg.NotifierGroup, holds.TopicHoldNotices, cfg.NotifierWorkers)
		if err := cons.Start(ctx, svc.HandleHoldNotice); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Println("shutting down notifier...")
	cancel()
	<-done
}
