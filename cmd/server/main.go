package main

import (
	"context"
	"log"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"formula/internal/config"
	"formula/internal/connections"
	"formula/internal/dispatch"
	"formula/internal/game"
	"formula/internal/handlers"
	"formula/internal/matchmaking"
	"formula/internal/repositories"
	"formula/internal/routers"
	"formula/internal/server"
	"formula/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	rdb, err := openRedis(cfg)
	if err != nil {
		logger.Fatal("cannot reach shared store", zap.Error(err))
	}

	var recorder repositories.Recorder = repositories.NoopRecorder{}
	var api *handlers.API
	if cfg.DatabaseURL != "" {
		db, err := repositories.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("cannot open database", zap.Error(err))
		}
		repo := &repositories.GameRepository{DB: db}
		recorder = repo
		api = &handlers.API{Repo: repo, Log: logger}
	} else {
		logger.Warn("no DATABASE_URL set, match results will not be recorded")
	}

	registry := connections.NewRegistry()
	disp := dispatch.New(logger)
	st := store.New(rdb, cfg.RoomTTL, cfg.StoreOpTimeout)
	session := game.NewSession(st, registry, disp, recorder, logger, cfg.ReadyTime, cfg.RoundTimeLimit)
	queue := matchmaking.NewQueue(st, registry, disp, session, logger)
	srv := server.New(registry, disp, queue, session, recorder, logger)

	ctx := context.Background()
	monitor := connections.NewMonitor(registry, disp, logger, cfg.HeartbeatInterval, cfg.ConnectionTimeout)
	go monitor.Run(ctx)
	go queue.RunCleanup(ctx, cfg.QueueCleanupInterval)

	addr := ":" + cfg.Port
	logger.Info("formula server listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, routers.Routes(srv, api)); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func openRedis(cfg *config.Config) (*redis.Client, error) {
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rdb = redis.NewClient(opts)
	} else {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreOpTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}
