package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"shape-consumer/internal/checkpoint"
	"shape-consumer/internal/config"
	"shape-consumer/internal/decoder"
	"shape-consumer/internal/engine"
	"shape-consumer/internal/health"
	"shape-consumer/internal/logging"
	"shape-consumer/internal/metrics"
	"shape-consumer/internal/offset"
	"shape-consumer/internal/publisher"
	"shape-consumer/internal/schema"
	"shape-consumer/internal/source"
	"shape-consumer/internal/transformer"
)

var (
	input      string
	schemaFile string
	shapeName  string
	policy     string
	backend    string
	sink       string
	verbose    bool
)

func main() {
	app := &cli.App{
		Name:  "shape-consumer",
		Usage: "Decode a shape change stream and forward it to NATS JetStream",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input,i",
				Usage:       "Read the stream from `FILE` (- for stdin), overrides SHAPE_INPUT",
				Destination: &input,
			},
			&cli.StringFlag{
				Name:        "schema,s",
				Usage:       "Load the initial column schema from `FILE`, overrides SHAPE_SCHEMA_FILE",
				Destination: &schemaFile,
			},
			&cli.StringFlag{
				Name:        "shape",
				Usage:       "Shape name used for subjects, event IDs and the checkpoint key",
				Destination: &shapeName,
			},
			&cli.StringFlag{
				Name:        "on-error",
				Usage:       "Decode error policy: abort or skip",
				Destination: &policy,
			},
			&cli.StringFlag{
				Name:        "checkpoint",
				Usage:       "Checkpoint backend: memory, redis or postgres",
				Destination: &backend,
			},
			&cli.StringFlag{
				Name:        "sink",
				Usage:       "Event sink: nats, stdout or none",
				Destination: &sink,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Usage:       "Enable debug logging",
				Destination: &verbose,
			},
		},
		Action: start,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func start(c *cli.Context) error {
	// Enable block and mutex profiling for contention analysis
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	cfg := applyFlags(c, config.Load())
	logger, err := logging.New(cfg.Debug, cfg.ShapeName)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	pol, err := engine.ParsePolicy(cfg.DecodeErrorPolicy)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	initial, err := loadSchema(cfg.SchemaFile)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("Schema couldn't be loaded: %v", err), 3)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	health.Start(ctx, cfg.HealthAddr, logger)
	logger.Info("prometheus metrics available", zap.String("endpoint", cfg.HealthAddr+"/metrics"))

	store, cleanup, err := newCheckpointStore(ctx, cfg, logger)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("Checkpoint store couldn't be opened: %v", err), 4)
	}
	defer cleanup()

	startPos, err := store.Load(ctx)
	if err != nil {
		logger.Warn("failed to load checkpoint, starting from the beginning", zap.Error(err))
		startPos = offset.Unset
	}

	stats := metrics.NewStats()
	metrics.NewReporter(30*time.Second, stats, logger).Start(ctx)

	reader := source.NewFileReader(cfg.Input, cfg.SourceBufferSize, logger)
	dec := decoder.New(initial, logger)
	trans := transformer.NewShapeTransformer(cfg.ShapeName)
	pub, err := buildPublisher(cfg, logger)
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	ckpt := checkpoint.NewManager(store, cfg.CheckpointFreq, logger)

	logger.Info("starting shape-consumer",
		zap.Bool("debug", cfg.Debug),
		zap.String("input", cfg.Input),
		zap.String("checkpoint_backend", cfg.CheckpointBackend),
		zap.String("sink", cfg.SinkFor()),
		zap.Stringer("start_offset", startPos),
		zap.Strings("columns", initial.Columns()),
		zap.Int("source_buffer", cfg.SourceBufferSize))

	eng := engine.NewEngine(reader, dec, offset.NewTracker(startPos), trans, pub, ckpt, engine.Options{
		Shape:              cfg.ShapeName,
		Policy:             pol,
		CheckpointInterval: cfg.CheckpointFreq,
		Stats:              stats,
	}, logger)
	health.SetStatusProvider(func() any { return eng.Status() })

	if err := eng.Run(ctx); err != nil {
		logger.Error("shape consumer stopped", zap.Error(err))
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

// applyFlags lets explicitly set command line flags override the environment.
func applyFlags(c *cli.Context, cfg config.Config) config.Config {
	if c.IsSet("input") {
		cfg.Input = input
	}
	if c.IsSet("schema") {
		cfg.SchemaFile = schemaFile
	}
	if c.IsSet("shape") {
		cfg.ShapeName = shapeName
	}
	if c.IsSet("on-error") {
		cfg.DecodeErrorPolicy = policy
	}
	if c.IsSet("checkpoint") {
		cfg.CheckpointBackend = backend
	}
	if c.IsSet("sink") {
		cfg.Sink = sink
	}
	if verbose {
		cfg.Debug = true
	}
	return cfg
}

func loadSchema(path string) (schema.Schema, error) {
	if path == "" {
		return schema.Schema{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return schema.Parse(data)
}

func buildPublisher(cfg config.Config, logger *zap.Logger) (publisher.Publisher, error) {
	switch cfg.SinkFor() {
	case config.SinkNone:
		logger.Info("sink disabled, events are decoded and dropped")
		return publisher.NewNoopPublisher(logger), nil
	case config.SinkStdout:
		logger.Info("writing events to stdout")
		return publisher.NewWriterPublisher(os.Stdout), nil
	case config.SinkNATS:
		if len(cfg.NATSURLs) == 0 {
			return nil, fmt.Errorf("sink %q requires NATS_URL", config.SinkNATS)
		}
		return publisher.NewJetStreamPublisher(publisher.JetStreamOptions{
			URLs:           cfg.NATSURLs,
			Username:       cfg.NATSUsername,
			Password:       cfg.NATSPassword,
			ConnectTimeout: cfg.NATSTimeout,
			PublishTimeout: cfg.NATSTimeout,
			StreamName:     cfg.NATSStream,
			DuplicateWin:   cfg.NATSDuplicateWindow,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.SinkFor())
	}
}

// newCheckpointStore builds the configured checkpoint store. Redis falls back
// to in-memory if unavailable; Postgres failures are fatal.
func newCheckpointStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (checkpoint.Store, func(), error) {
	switch cfg.CheckpointBackend {
	case config.BackendMemory:
		return checkpoint.NewMemoryStore(), func() {}, nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.CheckpointDatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := checkpoint.NewPostgresStore(pool, cfg.ShapeName)
		if err := store.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case config.BackendRedis:
		store, cleanup := newRedisStore(cfg, logger)
		return store, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.CheckpointBackend)
	}
}

func newRedisStore(cfg config.Config, logger *zap.Logger) (checkpoint.Store, func()) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid redis url, using memory store", zap.String("url", cfg.RedisURL), zap.Error(err))
		return checkpoint.NewMemoryStore(), func() {}
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.CheckpointFreq)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, using memory store", zap.Error(err))
		_ = client.Close()
		return checkpoint.NewMemoryStore(), func() {}
	}
	store := checkpoint.NewRedisStore(client, cfg.CheckpointKeyFor(), cfg.CheckpointTTL)
	return store, func() { _ = client.Close() }
}
