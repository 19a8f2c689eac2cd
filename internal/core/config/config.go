// Package config reads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type StoreCfg struct {
	Driver         string
	RedisAddr      string
	DatabaseURL    string
	OpTimeout      time.Duration
	ConnectMaxWait time.Duration
	LRUSize        int
}

type UpstreamCfg struct {
	Driver      string
	DSN         string
	CartoUser   string
	CartoAPIKey string
	CartoURL    string
	Timeout     time.Duration
	MaxTries    uint
	GADMVersion string
}

type EventsCfg struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	QueueSize int
}

type Config struct {
	Addr           string
	LogLevel       string
	LogConsole     bool
	LogSampleN     int
	AppEnv         string
	MetricsEnabled bool
	MetricsAddr    string
	MetricsPath    string
	MaxFoundByID   int
	MaxBodyBytes   int64

	Store    StoreCfg
	Upstream UpstreamCfg
	Events   EventsCfg
}

// Dev reports whether APP_ENV names a development environment.
func (c Config) Dev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// Load reads the given .env files (missing ones are skipped) without
// overriding variables already set, then calls FromEnv.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		LogSampleN:     getint("LOG_SAMPLE_N", 0),
		AppEnv:         getenv("APP_ENV", "production"),
		MetricsEnabled: getbool("METRICS_ENABLED", false),
		MetricsAddr:    getenv("METRICS_ADDR", ":9090"),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
		MaxFoundByID:   getint("MAX_GEOSTORES_FOUND_BY_ID", 1000),
		MaxBodyBytes:   int64(getint("MAX_BODY_BYTES", 50<<20)),

		Store: StoreCfg{
			Driver:         strings.ToLower(getenv("STORE_DRIVER", "redis")),
			RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
			DatabaseURL:    getenv("DATABASE_URL", ""),
			OpTimeout:      getduration("STORE_OP_TIMEOUT", 2*time.Second),
			ConnectMaxWait: getduration("STORE_CONNECT_MAX_ELAPSED", 2*time.Minute),
			LRUSize:        getint("LRU_SIZE", 4096),
		},
		Upstream: UpstreamCfg{
			Driver:      strings.ToLower(getenv("UPSTREAM_DRIVER", "postgis")),
			DSN:         getenv("UPSTREAM_DSN", ""),
			CartoUser:   getenv("CARTO_USER", "wri-01"),
			CartoAPIKey: getenv("CARTO_API_KEY", ""),
			CartoURL:    getenv("CARTO_URL_TEMPLATE", "https://{user}.carto.com/api/v2/sql"),
			Timeout:     getduration("UPSTREAM_TIMEOUT", 20*time.Second),
			MaxTries:    getuint("UPSTREAM_MAX_TRIES", 3),
			GADMVersion: getenv("GADM_VERSION", "3.6"),
		},
		Events: EventsCfg{
			Enabled:   getbool("EVENTS_ENABLED", false),
			Brokers:   getlist("KAFKA_BROKERS", "localhost:9092"),
			Topic:     getenv("KAFKA_TOPIC", "geostore-created"),
			QueueSize: getint("EVENTS_QUEUE", 1024),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getuint(k string, def uint) uint {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint(n)
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// comma separated, blanks dropped
func getlist(k, def string) []string {
	var out []string
	for p := range strings.SplitSeq(getenv(k, def), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
