// Package config loads engine configuration from TSUNAMI_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the server and the tracking engine need. List
// variables are comma separated; an unset whitelist variable means "no
// whitelist configured", which is a different thing from an empty one.
type Config struct {
	Addr        string `env:"TSUNAMI_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"TSUNAMI_DATABASE_URL,required"`
	LogLevel    string `env:"TSUNAMI_LOG_LEVEL" envDefault:"info"`

	// JWTSigningKey verifies bearer tokens for actor attribution. Leave
	// empty to disable actor extraction.
	JWTSigningKey string `env:"TSUNAMI_JWT_SIGNING_KEY"`

	// RedisURL enables the pub/sub notifier when set.
	RedisURL       string `env:"TSUNAMI_REDIS_URL"`
	PublishChannel string `env:"TSUNAMI_PUBLISH_CHANNEL" envDefault:"tsunami.events"`

	BlacklistedTypes      []string `env:"TSUNAMI_BLACKLISTED_TYPES" envSeparator:","`
	WhitelistedTypes      []string `env:"TSUNAMI_WHITELISTED_TYPES" envSeparator:","`
	BlacklistedNamespaces []string `env:"TSUNAMI_BLACKLISTED_NAMESPACES" envSeparator:","`
	WhitelistedNamespaces []string `env:"TSUNAMI_WHITELISTED_NAMESPACES" envSeparator:","`

	MaxAggregateDepth int `env:"TSUNAMI_MAX_AGGREGATE_DEPTH" envDefault:"64"`

	// ActorEntityType is the entity type whose deletion clears the actor
	// reference on past events.
	ActorEntityType string `env:"TSUNAMI_ACTOR_ENTITY_TYPE" envDefault:"auth.user"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// SlogLevel maps the configured level name onto slog's levels, defaulting
// to info for unknown names.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
