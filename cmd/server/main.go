package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/campaign-engine/internal/api"
	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/dispatch"
	"github.com/ignite/campaign-engine/internal/notify"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/provider"
	"github.com/ignite/campaign-engine/internal/queue"
	"github.com/ignite/campaign-engine/internal/repository/postgres"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ===== Database =====
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Database unreachable: %v", err)
	}
	defer db.Close()
	log.Println("[main] database connected")

	// ===== Redis =====
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Invalid redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Redis unreachable: %v", err)
	}
	defer redisClient.Close()
	log.Println("[main] redis connected")

	// ===== Engine wiring =====
	store := postgres.NewStore(db)
	workQueue := queue.New(redisClient)
	gate := dispatch.NewSendGate(redisClient, cfg.Dispatch.SendRatePerSecond)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.Enabled {
		notifier = notify.NewRedisPublisher(redisClient, cfg.Notify.Channel)
	}

	var sender dispatch.Sender = provider.NewHTTPSender(
		cfg.Provider.BaseURL,
		cfg.Provider.APIKey,
		time.Duration(cfg.Provider.TimeoutSeconds)*time.Second,
	)
	sender = provider.NewBreakerSender("message-gateway", sender)

	engineCfg := dispatch.DefaultConfig()
	engineCfg.FetchBatchSize = cfg.Dispatch.FetchBatchSize
	engineCfg.FetchTimeout = cfg.Dispatch.FetchTimeout()
	engineCfg.IdleChecks = cfg.Dispatch.IdleChecks
	engineCfg.PublishPageSize = cfg.Dispatch.PublishPageSize
	engineCfg.SnapshotEvery = cfg.Dispatch.SnapshotEvery
	engineCfg.CommitTimeout = cfg.Dispatch.CommitTimeout()
	engineCfg.SweepBatchSize = cfg.Sweep.BatchSize

	engine := dispatch.NewEngine(store, workQueue, sender, gate, notifier, engineCfg)
	engine.SetLockFactory(func(key string) dispatch.Lock {
		return distlock.New(redisClient, db, key, 30*time.Second)
	})

	dispatch.RegisterMetrics()

	// Restart consumers for campaigns left running by a previous process
	if err := engine.Recover(ctx); err != nil {
		log.Printf("[main] recovery failed: %v", err)
	}

	// ===== Scheduled campaign sweep =====
	var sweeper *dispatch.Sweeper
	if cfg.Sweep.Enabled {
		sweeper = dispatch.NewSweeper(engine, cfg.Sweep.SweepInterval())
		if err := sweeper.Start(); err != nil {
			log.Fatalf("Failed to start sweeper: %v", err)
		}
		log.Printf("[main] sweeper started (interval %ds)", cfg.Sweep.IntervalSeconds)
	}

	// ===== HTTP server =====
	reconciler := dispatch.NewReconciler(engine)
	service := api.NewService(store, engine, reconciler)
	service.SetHealthChecks(db.PingContext, func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      service.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	go func() {
		log.Printf("[main] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Println("[main] shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownSec)*time.Second)
	defer shutdownCancel()

	// Stop intake first, then drain dispatch loops
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] http shutdown error: %v", err)
	}
	if sweeper != nil {
		sweeper.Stop()
	}
	cancel()
	if err := engine.Close(time.Duration(cfg.Dispatch.ShutdownTimeoutSec) * time.Second); err != nil {
		log.Printf("[main] engine shutdown error: %v", err)
	}

	log.Println("[main] stopped")
}
