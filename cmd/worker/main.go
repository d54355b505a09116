package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/BossHoder/kollector/internal/assets"
	"github.com/BossHoder/kollector/internal/config"
	"github.com/BossHoder/kollector/internal/queue"
	"github.com/BossHoder/kollector/internal/realtime"
	"github.com/BossHoder/kollector/internal/recognition"
	"github.com/BossHoder/kollector/internal/telemetry"
	"github.com/BossHoder/kollector/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	store, err := assets.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	q := queue.New(rdb, queue.Options{
		MaxAttempts:     cfg.MaxAttempts,
		BackoffBase:     cfg.BackoffBase,
		LeaseTTL:        cfg.JobAttemptTimeout,
		RetainCompleted: cfg.RetainCompleted,
		RetainFailed:    cfg.RetainFailed,
	})

	analyzer := recognition.NewClient(cfg.RecognitionBaseURL, cfg.RecognitionTimeout)
	events := realtime.NewPublisher(rdb)
	pool := worker.NewPool(cfg, q, store, analyzer, events)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started concurrency=%d max_attempts=%d backoff_base=%s",
		cfg.WorkerConcurrency, cfg.MaxAttempts, cfg.BackoffBase)
	if err := pool.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
