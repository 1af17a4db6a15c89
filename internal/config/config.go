package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable for the server process. All fields have
// working defaults so a bare `go run` against a local Redis works.
type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisURL  string `envconfig:"REDIS_URL"`

	// DatabaseURL is the postgres DSN for the persistence collaborator.
	// Empty means results are not durably recorded (no-op recorder).
	DatabaseURL string `envconfig:"DATABASE_URL"`

	HeartbeatInterval    time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	ConnectionTimeout    time.Duration `envconfig:"CONNECTION_TIMEOUT" default:"60s"`
	QueueCleanupInterval time.Duration `envconfig:"QUEUE_CLEANUP_INTERVAL" default:"15s"`

	ReadyTime      time.Duration `envconfig:"READY_TIME" default:"10s"`
	RoundTimeLimit time.Duration `envconfig:"ROUND_TIME_LIMIT" default:"60s"`

	RoomTTL        time.Duration `envconfig:"ROOM_TTL" default:"300s"`
	StoreOpTimeout time.Duration `envconfig:"STORE_OP_TIMEOUT" default:"2s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
