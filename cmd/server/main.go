package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/serverless-orders/order-service/internal/auth"
	"github.com/serverless-orders/order-service/internal/config"
	"github.com/serverless-orders/order-service/internal/dispatch"
	"github.com/serverless-orders/order-service/internal/invoice"
	"github.com/serverless-orders/order-service/internal/logger"
	"github.com/serverless-orders/order-service/internal/model"
	"github.com/serverless-orders/order-service/internal/repo"
	"github.com/serverless-orders/order-service/internal/service"
	httptransport "github.com/serverless-orders/order-service/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.Order{}, &model.ChangeEvent{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writers
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

	// 6. repo & service
	repository := repo.NewRepository(gdb, rdb, kw, dlq, log)
	var notifier service.Notifier
	if cfg.Dispatcher.Sync {
		notifier = dispatch.New(repository, repository, repository,
			cfg.Dispatcher.Retry, cfg.Dispatcher.DedupTTL.Std(), log)
	}
	svc, err := service.NewOrderService(repository, cfg.Dispatcher.CacheSize, notifier, log)
	if err != nil {
		log.Fatalf("init service: %v", err)
	}

	// 7. gin router
	renderer := invoice.NewTextRenderer(cfg.Invoice.TTL.Std())
	router := httptransport.NewRouter(svc, renderer, auth.BearerAuthorizer{}, cfg, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("order-server listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
