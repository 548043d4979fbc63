package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "-", cfg.Input)
	assert.Equal(t, "abort", cfg.DecodeErrorPolicy)
	assert.Equal(t, BackendRedis, cfg.CheckpointBackend)
	assert.Equal(t, time.Second, cfg.CheckpointFreq)
	assert.Empty(t, cfg.NATSURLs)
	assert.Equal(t, "shape-consumer:checkpoint:default", cfg.CheckpointKeyFor())
	assert.Zero(t, cfg.NATSDuplicateWindow, "dedupe window is independent of the checkpoint TTL")
	assert.Equal(t, SinkStdout, cfg.SinkFor())
}

func TestSinkFor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NATSURLs = []string{"nats://localhost:4222"}
	assert.Equal(t, SinkNATS, cfg.SinkFor())

	cfg.Sink = SinkNone
	assert.Equal(t, SinkNone, cfg.SinkFor())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("SHAPE_NAME", "items")
	t.Setenv("SHAPE_INPUT", "/tmp/items.ndjson")
	t.Setenv("SHAPE_SCHEMA_FILE", "/tmp/items.schema.json")
	t.Setenv("DECODE_ERROR_POLICY", "SKIP")
	t.Setenv("CHECKPOINT_BACKEND", "postgres")
	t.Setenv("CHECKPOINT_INTERVAL", "250ms")
	t.Setenv("CHECKPOINT_TTL", "not-a-duration")
	t.Setenv("NATS_URL", "nats://a:4222, ,nats://b:4222")
	t.Setenv("NATS_STREAM", "ITEMS")
	t.Setenv("NATS_DUPLICATE_WINDOW", "2m")
	t.Setenv("SINK", "None")
	t.Setenv("SOURCE_BUFFER_SIZE", "-3")
	t.Setenv("DEBUG", "yes")

	cfg := Load()
	assert.Equal(t, "items", cfg.ShapeName)
	assert.Equal(t, "/tmp/items.ndjson", cfg.Input)
	assert.Equal(t, "/tmp/items.schema.json", cfg.SchemaFile)
	assert.Equal(t, "skip", cfg.DecodeErrorPolicy)
	assert.Equal(t, BackendPostgres, cfg.CheckpointBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.CheckpointFreq)
	assert.Equal(t, 24*time.Hour, cfg.CheckpointTTL, "invalid durations keep the default")
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATSURLs)
	assert.Equal(t, "ITEMS", cfg.NATSStream)
	assert.Equal(t, 2*time.Minute, cfg.NATSDuplicateWindow)
	assert.Equal(t, SinkNone, cfg.SinkFor())
	assert.Equal(t, 5000, cfg.SourceBufferSize, "negative sizes keep the default")
	assert.True(t, cfg.Debug)
	assert.Equal(t, "shape-consumer:checkpoint:items", cfg.CheckpointKeyFor())
}
