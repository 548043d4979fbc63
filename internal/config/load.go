package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Load reads configuration from environment variables, falling back to defaults.
func Load() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("SHAPE_NAME"); v != "" {
		cfg.ShapeName = v
	}
	if v := os.Getenv("SHAPE_INPUT"); v != "" {
		cfg.Input = v
	}
	if v := os.Getenv("SHAPE_SCHEMA_FILE"); v != "" {
		cfg.SchemaFile = v
	}
	if v := os.Getenv("DECODE_ERROR_POLICY"); v != "" {
		cfg.DecodeErrorPolicy = strings.ToLower(v)
	}
	if v := os.Getenv("CHECKPOINT_BACKEND"); v != "" {
		cfg.CheckpointBackend = strings.ToLower(v)
	}
	if v := os.Getenv("CHECKPOINT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CheckpointFreq = d
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("CHECKPOINT_KEY"); v != "" {
		cfg.CheckpointKey = v
	}
	if v := os.Getenv("CHECKPOINT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CheckpointTTL = d
		}
	}
	if v := os.Getenv("CHECKPOINT_DATABASE_URL"); v != "" {
		cfg.CheckpointDatabaseURL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURLs = SplitList(v)
	}
	if v := os.Getenv("NATS_USERNAME"); v != "" {
		cfg.NATSUsername = v
	}
	if v := os.Getenv("NATS_PASSWORD"); v != "" {
		cfg.NATSPassword = v
	}
	if v := os.Getenv("NATS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.NATSTimeout = d
		}
	}
	if v := os.Getenv("NATS_STREAM"); v != "" {
		cfg.NATSStream = v
	}
	if v := os.Getenv("NATS_DUPLICATE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.NATSDuplicateWindow = d
		}
	}
	if v := os.Getenv("SINK"); v != "" {
		cfg.Sink = strings.ToLower(v)
	}
	if v := os.Getenv("HEALTH_ADDR"); v != "" {
		cfg.HealthAddr = v
	}
	if v := strings.ToLower(os.Getenv("DEBUG")); v == "1" || v == "true" || v == "yes" {
		cfg.Debug = true
	}
	if v := os.Getenv("SOURCE_BUFFER_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			cfg.SourceBufferSize = i
		}
	}

	return cfg
}

// SplitList splits a comma separated value, dropping blanks.
func SplitList(v string) []string {
	parts := lo.Map(strings.Split(v, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	})
	return lo.Compact(parts)
}
