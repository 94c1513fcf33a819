// Package config builds typed configuration from environment variables so
// main stays lean.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr       string
	AdminToken string
}

// Database captures PostgreSQL connection configuration.
type Database struct {
	URL string
}

// RedisConfig captures Redis connection tuning.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Secrets carries the envelope-encryption master secret slots. Only Current
// wraps new data keys; Next exists so records wrapped ahead of a rotation
// remain readable while the rollout completes.
type Secrets struct {
	Current string
	Next    string
}

// PAC captures stamping-provider credentials and tuning.
type PAC struct {
	Name           string
	BaseURL        string
	Username       string
	Password       string
	RequestTimeout time.Duration
	OrgCacheTTL    time.Duration
	APIKeyCacheTTL time.Duration
}

// Config is the root configuration for the service.
type Config struct {
	Server   Server
	Database Database
	Redis    RedisConfig
	Secrets  Secrets
	PAC      PAC
}

// FromEnv builds a Config from environment variables with development
// defaults. Production deployments must set TIMBRE_MASTER_SECRET explicitly.
func FromEnv() (Config, error) {
	cfg := Config{
		Server: Server{
			Addr:       envOr("TIMBRE_ADDR", ":8080"),
			AdminToken: envOr("TIMBRE_ADMIN_TOKEN", ""),
		},
		Database: Database{
			URL: envOr("TIMBRE_DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL:          envOr("TIMBRE_REDIS_URL", ""),
			PoolSize:     envInt("TIMBRE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("TIMBRE_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("TIMBRE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("TIMBRE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("TIMBRE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Secrets: Secrets{
			Current: envOr("TIMBRE_MASTER_SECRET", ""),
			Next:    envOr("TIMBRE_MASTER_SECRET_NEXT", ""),
		},
		PAC: PAC{
			Name:           envOr("TIMBRE_PAC", "facturama"),
			BaseURL:        envOr("TIMBRE_PAC_BASE_URL", "https://apisandbox.facturama.mx"),
			Username:       envOr("TIMBRE_PAC_USERNAME", ""),
			Password:       envOr("TIMBRE_PAC_PASSWORD", ""),
			RequestTimeout: envDuration("TIMBRE_PAC_TIMEOUT", 30*time.Second),
			OrgCacheTTL:    envDuration("TIMBRE_PAC_ORG_CACHE_TTL", 5*time.Minute),
			APIKeyCacheTTL: envDuration("TIMBRE_PAC_APIKEY_CACHE_TTL", time.Hour),
		},
	}

	if cfg.Secrets.Current == "" {
		return Config{}, fmt.Errorf("TIMBRE_MASTER_SECRET is required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
