package config

import (
	"time"

	"github.com/parleykit/parley/internal/server"
	"github.com/parleykit/parley/oracle"
	"github.com/parleykit/parley/store"
)

// DefaultConfig returns a configuration that works out of the box:
// in-memory store, no Redis, no authentication.
func DefaultConfig() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		Store:    store.Options{Driver: store.DriverMemory},
		Redis:    DefaultRedisConfig(),
		Oracle:   oracle.DefaultConfig(),
		Dialogue: DefaultDialogueConfig(),
		API:      DefaultAPIConfig(),
		Log:      DefaultLogConfig(),
	}
}

// DefaultServerConfig returns the default HTTP server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{Config: server.DefaultConfig()}
}

// DefaultRedisConfig returns the default transcript cache settings.
// Disabled until an address is configured.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:       false,
		Addr:          "localhost:6379",
		DB:            0,
		PoolSize:      10,
		TranscriptTTL: 30 * time.Second,
	}
}

// DefaultDialogueConfig returns the default session lifecycle settings.
func DefaultDialogueConfig() DialogueConfig {
	return DialogueConfig{
		SweeperEnabled:  true,
		SweeperInterval: time.Minute,
	}
}

// DefaultAPIConfig returns the default edge settings: open access,
// moderate rate limit.
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		RateLimitRPS:   100,
		RateLimitBurst: 200,
		AllowedOrigin:  "*",
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}
