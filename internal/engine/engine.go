package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"shape-consumer/internal/checkpoint"
	"shape-consumer/internal/decoder"
	"shape-consumer/internal/metrics"
	"shape-consumer/internal/model"
	"shape-consumer/internal/offset"
	"shape-consumer/internal/publisher"
	"shape-consumer/internal/schema"
	"shape-consumer/internal/source"
	"shape-consumer/internal/transformer"
)

// Policy decides what happens to a record that fails to decode.
type Policy string

const (
	PolicyAbort Policy = "abort"
	PolicySkip  Policy = "skip"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicySkip:
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("unknown decode error policy %q", s)
	}
}

type Options struct {
	Shape              string
	Policy             Policy
	CheckpointInterval time.Duration
	MaxRetries         int
	Stats              *metrics.Stats
}

// Status is a point-in-time view of the stream, served on /status.
type Status struct {
	Shape      string            `json:"shape"`
	Offset     offset.Offset     `json:"offset"`
	Checkpoint offset.Offset     `json:"checkpoint"`
	Epoch      uint64            `json:"epoch"`
	Columns    []string          `json:"columns"`
	Stats      map[string]uint64 `json:"stats"`
}

// Engine drives one shape stream: records are decoded and applied strictly in
// delivery order on a single goroutine.
type Engine struct {
	reader       source.Reader
	decoder      *decoder.Decoder
	tracker      *offset.Tracker
	transformer  transformer.Transformer
	publisher    publisher.Publisher
	checkpointer *checkpoint.Manager
	opts         Options
	logger       *zap.Logger
	promMetrics  *metrics.Metrics
	now          func() time.Time
}

func NewEngine(reader source.Reader, dec *decoder.Decoder, tracker *offset.Tracker, transformer transformer.Transformer, publisher publisher.Publisher, checkpointer *checkpoint.Manager, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Policy == "" {
		opts.Policy = PolicyAbort
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Stats == nil {
		opts.Stats = metrics.NewStats()
	}
	return &Engine{
		reader:       reader,
		decoder:      dec,
		tracker:      tracker,
		transformer:  transformer,
		publisher:    publisher,
		checkpointer: checkpointer,
		opts:         opts,
		logger:       logger,
		promMetrics:  metrics.GlobalMetrics,
		now:          time.Now,
	}
}

// Status is safe to call while Run is active.
func (e *Engine) Status() Status {
	return Status{
		Shape:      e.opts.Shape,
		Offset:     e.tracker.Current(),
		Checkpoint: e.checkpointer.LastFlushed(),
		Epoch:      e.decoder.Epoch(),
		Columns:    e.decoder.Schema().Columns(),
		Stats:      e.opts.Stats.Snapshot(),
	}
}

// Run consumes the stream from the tracker's current offset until the source
// is exhausted, ctx is cancelled or a record is rejected under PolicyAbort.
// The last accepted offset is flushed on every exit path.
func (e *Engine) Run(ctx context.Context) error {
	start := e.tracker.Current()
	e.logger.Info("engine starting", zap.String("shape", e.opts.Shape), zap.Stringer("start_offset", start), zap.String("policy", string(e.opts.Policy)), zap.Duration("checkpoint_interval", e.opts.CheckpointInterval))
	if err := e.reader.Start(ctx); err != nil {
		return fmt.Errorf("start reader: %w", err)
	}
	defer e.reader.Stop(ctx)

	stream, err := e.reader.Read(ctx, start)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	if err := e.publisher.Connect(); err != nil {
		return fmt.Errorf("publisher connect: %w", err)
	}
	defer e.publisher.Close()

	return e.consume(ctx, stream)
}

func (e *Engine) consume(ctx context.Context, stream <-chan *source.RawRecord) error {
	var tick <-chan time.Time
	if e.opts.CheckpointInterval > 0 {
		ticker := time.NewTicker(e.opts.CheckpointInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return e.finalFlush(ctx, nil)
		case rec, ok := <-stream:
			if !ok {
				var srcErr error
				if r, ok := e.reader.(source.ErrorReporter); ok && r.Err() != nil {
					srcErr = fmt.Errorf("source stopped: %w", r.Err())
				}
				return e.finalFlush(ctx, srcErr)
			}
			if err := e.handle(ctx, rec); err != nil {
				return e.finalFlush(ctx, err)
			}
		case <-tick:
			if err := e.checkpointer.MaybeFlush(ctx, e.tracker.Current(), false, e.now()); err != nil {
				return e.finalFlush(ctx, fmt.Errorf("checkpoint: %w", err))
			}
		}
	}
}

// finalFlush saves the watermark even when ctx is already cancelled, and
// returns cause unless cause is nil.
func (e *Engine) finalFlush(ctx context.Context, cause error) error {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	pos := e.tracker.Current()
	if err := e.checkpointer.MaybeFlush(flushCtx, pos, true, e.now()); err != nil {
		e.logger.Error("final checkpoint failed", zap.Stringer("offset", pos), zap.Error(err))
		if cause == nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
	}
	e.logger.Info("engine stopped", zap.Stringer("offset", pos), zap.Uint64("epoch", e.decoder.Epoch()))
	return cause
}

func (e *Engine) handle(ctx context.Context, rec *source.RawRecord) error {
	e.opts.Stats.Received.Inc()
	began := e.now()
	msg, err := e.decoder.DecodeBytes(rec.Data)
	e.promMetrics.DecodeLatency.Observe(uint64(time.Since(began).Nanoseconds()))
	if err != nil {
		return e.reject(rec, err)
	}

	switch m := msg.(type) {
	case *model.ChangeMessage:
		return e.handleChange(ctx, rec, m)
	case *model.ControlMessage:
		return e.handleControl(ctx, rec, m)
	default:
		return fmt.Errorf("record %d: unsupported message %T", rec.Seq, msg)
	}
}

func (e *Engine) handleChange(ctx context.Context, rec *source.RawRecord, m *model.ChangeMessage) error {
	outcome, err := e.tracker.Apply(m.Offset, func() error {
		return e.emit(ctx, m, rec.Seq, m.Offset)
	})
	switch outcome {
	case offset.Accepted:
		e.opts.Stats.Changes.Inc()
		e.promMetrics.MessagesTotal.Inc(model.KindChange.String())
		e.promMetrics.OffsetSegment.Set(float64(m.Offset.Segment))
		e.promMetrics.OffsetIndex.Set(float64(m.Offset.Index))
		return nil
	case offset.Replayed:
		e.opts.Stats.Replays.Inc()
		e.promMetrics.OffsetReplays.Inc()
		e.logger.Debug("ignoring replayed change", zap.Uint64("seq", rec.Seq), zap.Stringer("offset", m.Offset), zap.String("key", m.Key))
		return nil
	default:
		if errors.Is(err, offset.ErrOutOfOrderOffset) {
			return e.reject(rec, err)
		}
		return fmt.Errorf("record %d at offset %s: %w", rec.Seq, m.Offset, err)
	}
}

func (e *Engine) handleControl(ctx context.Context, rec *source.RawRecord, m *model.ControlMessage) error {
	e.opts.Stats.Controls.Inc()
	e.promMetrics.MessagesTotal.Inc(model.KindControl.String())

	switch m.Headers.Control {
	case model.ControlMustRefetch:
		e.logger.Warn("shape must be refetched, dropping offset", zap.Stringer("offset", e.tracker.Current()))
		e.tracker.Reset()
		if err := e.checkpointer.Reset(ctx, e.now()); err != nil {
			return fmt.Errorf("reset checkpoint: %w", err)
		}
	case model.ControlSchemaChange:
		e.promMetrics.SchemaEpoch.Set(float64(e.decoder.Epoch()))
	}

	watermark := e.tracker.Current()
	if err := e.emit(ctx, m, rec.Seq, watermark); err != nil {
		return fmt.Errorf("record %d control %q: %w", rec.Seq, m.Headers.Control, err)
	}

	if m.Headers.Control == model.ControlUpToDate {
		if err := e.checkpointer.MaybeFlush(ctx, watermark, true, e.now()); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		e.logger.Debug("caught up", zap.Stringer("offset", watermark))
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, msg model.Message, seq uint64, watermark offset.Offset) error {
	evt, err := e.transformer.Transform(ctx, msg, transformer.Stamp{
		Seq:        seq,
		Epoch:      e.decoder.Epoch(),
		Watermark:  watermark,
		ReceivedAt: e.now(),
	})
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	subject, err := publisher.SubjectForEvent(evt)
	if err != nil {
		return fmt.Errorf("build subject: %w", err)
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := e.publisher.PublishWithRetries(ctx, subject, evt.EventID, payload, e.opts.MaxRetries); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	e.logger.Debug("published event", zap.String("subject", subject), zap.String("event_id", evt.EventID))
	return nil
}

// reject applies the decode error policy to a record that failed validation.
func (e *Engine) reject(rec *source.RawRecord, err error) error {
	reason := errorReason(err)
	e.opts.Stats.Rejected.Inc()
	e.promMetrics.DecodeErrors.Inc(reason)
	if e.opts.Policy == PolicySkip {
		e.opts.Stats.Skipped.Inc()
		e.promMetrics.RecordsSkipped.Inc()
		e.logger.Warn("skipping record", zap.Uint64("seq", rec.Seq), zap.String("reason", reason), zap.Error(err))
		return nil
	}
	e.logger.Error("rejecting record", zap.Uint64("seq", rec.Seq), zap.String("reason", reason), zap.ByteString("record", rec.Data), zap.Error(err))
	return fmt.Errorf("record %d: %w", rec.Seq, err)
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, offset.ErrMalformedOffset):
		return "malformed_offset"
	case errors.Is(err, offset.ErrOutOfOrderOffset):
		return "out_of_order_offset"
	case errors.Is(err, schema.ErrInvalidSchema):
		return "invalid_schema"
	case errors.Is(err, model.ErrMalformedMessage):
		return "malformed_message"
	case errors.Is(err, model.ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, model.ErrSchemaViolation):
		return "schema_violation"
	default:
		return "other"
	}
}
