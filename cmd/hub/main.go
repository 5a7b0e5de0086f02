package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/possuite/possync/internal/config"
	"github.com/possuite/possync/internal/hub"
	"github.com/possuite/possync/internal/logger"
	"github.com/possuite/possync/internal/model"
	httptransport "github.com/possuite/possync/internal/transport/http"

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
	log, err := logger.NewNamed("hub")
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Hub.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.HubChange{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Hub.Redis.Addr,
		Password: cfg.Hub.Redis.Password,
		DB:       cfg.Hub.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Hub.Kafka.Brokers...),
		Topic:    cfg.Hub.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. hub service
	svc := hub.NewService(gdb, rdb, kw, log, cfg.Hub.PullLimit)

	// 7. gin router
	router := httptransport.NewRouter(svc, cfg.Hub.RateLimit, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Hub.Port)
	log.Infof("sync hub listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
