package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"shape-consumer/internal/metrics"
	"shape-consumer/internal/model"
	"shape-consumer/internal/offset"
)

// RawRecord is one undecoded message in delivery order.
type RawRecord struct {
	Seq  uint64
	Data []byte
}

// Reader yields raw records of a shape stream in the order the transport
// delivered them. The returned channel is closed at end of stream.
type Reader interface {
	Start(ctx context.Context) error
	Read(ctx context.Context, from offset.Offset) (<-chan *RawRecord, error)
	Stop(ctx context.Context) error
}

// ErrorReporter is implemented by readers that can stop on a fatal error.
// Err is only meaningful after the record channel is closed.
type ErrorReporter interface {
	Err() error
}

// JSONReader reads records from a JSON stream: newline-delimited objects,
// JSON arrays of objects (one array per response batch) or a mix.
type JSONReader struct {
	path       string
	open       func() (io.ReadCloser, error)
	in         io.ReadCloser
	bufferSize int
	logger     *zap.Logger
	promMetric *metrics.Metrics

	mu  sync.Mutex
	err error
}

// NewFileReader reads from path; "-" or "" means stdin.
func NewFileReader(path string, bufferSize int, logger *zap.Logger) *JSONReader {
	r := newJSONReader(bufferSize, logger)
	r.path = path
	r.open = func() (io.ReadCloser, error) {
		if path == "" || path == "-" {
			return io.NopCloser(os.Stdin), nil
		}
		return os.Open(path)
	}
	return r
}

// NewJSONReader reads from an already open stream.
func NewJSONReader(in io.Reader, bufferSize int, logger *zap.Logger) *JSONReader {
	r := newJSONReader(bufferSize, logger)
	r.path = "stream"
	r.open = func() (io.ReadCloser, error) {
		return io.NopCloser(in), nil
	}
	return r
}

func newJSONReader(bufferSize int, logger *zap.Logger) *JSONReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONReader{bufferSize: bufferSize, logger: logger, promMetric: metrics.GlobalMetrics}
}

func (r *JSONReader) Start(ctx context.Context) error {
	_ = ctx
	in, err := r.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", r.path, err)
	}
	r.in = in
	r.logger.Info("source opened", zap.String("path", r.path))
	return nil
}

// Read streams records. Change records at or before from are skipped until the
// stream moves past it, so a resumed consumer does not see what it already
// accepted.
func (r *JSONReader) Read(ctx context.Context, from offset.Offset) (<-chan *RawRecord, error) {
	if r.in == nil {
		return nil, fmt.Errorf("source not started")
	}
	out := make(chan *RawRecord, r.bufferSize)
	go r.run(ctx, r.in, from, out)
	return out, nil
}

func (r *JSONReader) run(ctx context.Context, in io.Reader, from offset.Offset, out chan<- *RawRecord) {
	defer close(out)

	dec := json.NewDecoder(bufio.NewReader(in))
	resume := &resumeFilter{from: from, active: !from.IsUnset()}
	var seq uint64
	var skipped int
	emit := func(data []byte) bool {
		if resume.skip(data) {
			skipped++
			return true
		}
		seq++
		r.promMetric.RecordsRead.Inc()
		select {
		case <-ctx.Done():
			return false
		case out <- &RawRecord{Seq: seq, Data: data}:
			return true
		}
	}

	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				r.logger.Info("source exhausted", zap.Uint64("records", seq), zap.Int("skipped_before_resume", skipped))
				return
			}
			r.promMetric.SourceErrors.Inc()
			r.setErr(fmt.Errorf("read %s after record %d: %w", r.path, seq, err))
			return
		}
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var batch []json.RawMessage
			if err := json.Unmarshal(trimmed, &batch); err != nil {
				r.promMetric.SourceErrors.Inc()
				r.setErr(fmt.Errorf("read %s batch after record %d: %w", r.path, seq, err))
				return
			}
			for _, item := range batch {
				if !emit(item) {
					return
				}
			}
			continue
		}
		if !emit(trimmed) {
			return
		}
	}
}

// resumeFilter drops the prefix of a resumed stream that was already
// accepted: change records at or before from. It switches off for good at the
// first change past from or at a must-refetch, after which offsets restart
// and every record belongs to the new stream.
type resumeFilter struct {
	from   offset.Offset
	active bool
}

type resumePeek struct {
	Offset  *string `json:"offset"`
	Headers struct {
		Control string `json:"control"`
	} `json:"headers"`
}

// skip peeks at a record. Anything that does not parse cleanly is passed on
// for the decoder to reject.
func (f *resumeFilter) skip(data []byte) bool {
	if !f.active {
		return false
	}
	var peek resumePeek
	if err := json.Unmarshal(data, &peek); err != nil {
		return false
	}
	if peek.Offset == nil {
		if peek.Headers.Control == string(model.ControlMustRefetch) {
			f.active = false
		}
		return false
	}
	pos, err := offset.Parse(*peek.Offset)
	if err != nil {
		return false
	}
	if offset.Compare(pos, f.from) <= 0 {
		return true
	}
	f.active = false
	return false
}

func (r *JSONReader) Stop(ctx context.Context) error {
	_ = ctx
	if r.in == nil {
		return nil
	}
	r.logger.Info("closing source", zap.String("path", r.path))
	err := r.in.Close()
	r.in = nil
	return err
}

func (r *JSONReader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *JSONReader) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.logger.Error("source stopped", zap.Error(err))
}
