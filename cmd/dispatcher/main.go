package main

import (
	"context"
	"fmt"
	"time"

	"github.com/serverless-orders/order-service/internal/config"
	"github.com/serverless-orders/order-service/internal/dispatch"
	"github.com/serverless-orders/order-service/internal/logger"
	"github.com/serverless-orders/order-service/internal/model"
	"github.com/serverless-orders/order-service/internal/repo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/segmentio/kafka-go"
)

func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.ChangeEvent{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	var dlq *kafka.Writer
	if cfg.Kafka.DeadLetterTopic != "" {
		dlq = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Kafka.Brokers...),
			Topic:    cfg.Kafka.DeadLetterTopic,
			Balancer: &kafka.LeastBytes{},
		}
	}

	repository := repo.NewRepository(gdb, rdb, kw, dlq, log)
	d := dispatch.New(repository, repository, repository,
		cfg.Dispatcher.Retry, cfg.Dispatcher.DedupTTL.Std(), log)

	// retention sweep for dispatched feed rows
	c := cron.New()
	_, err = c.AddFunc("@hourly", func() {
		cutoff := time.Now().Add(-cfg.Dispatcher.FeedRetention.Std())
		n, err := repository.PurgeDispatched(context.Background(), cutoff)
		if err != nil {
			log.Errorf("purge feed: %v", err)
			return
		}
		if n > 0 {
			log.Infof("purged %d dispatched feed rows", n)
		}
	})
	if err != nil {
		log.Fatalf("schedule purge: %v", err)
	}
	c.Start()
	defer c.Stop()

	ticker := time.NewTicker(cfg.Dispatcher.PollInterval.Std())
	defer ticker.Stop()

	log.Info("order-dispatcher started")
	for range ticker.C {
		n, err := d.RunOnce(context.Background(), cfg.Dispatcher.BatchSize)
		if err != nil {
			log.Errorf("poll feed: %v", err)
			continue
		}
		if n > 0 {
			log.Infof("processed %d change events", n)
		}
	}
}
