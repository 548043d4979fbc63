package publisher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"shape-consumer/internal/model"

	"go.uber.org/zap"
)

// Publisher hands encoded shape events to the consumer sink. msgID is a
// stable identifier sinks may use to drop duplicates.
type Publisher interface {
	Connect() error
	Publish(ctx context.Context, subject, msgID string, data []byte) error
	PublishWithRetries(ctx context.Context, subject, msgID string, data []byte, maxRetries int) error
	Close() error
}

// NoopPublisher drops events, for dry runs that only validate a stream. It
// records the last subject published.
type NoopPublisher struct {
	LastSubject string
	logger      *zap.Logger
}

func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Connect() error { return nil }

func (p *NoopPublisher) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	_ = ctx
	_ = data
	p.LastSubject = subject
	p.logger.Debug("noop publisher invoked", zap.String("subject", subject), zap.String("msg_id", msgID))
	return nil
}

func (p *NoopPublisher) PublishWithRetries(ctx context.Context, subject, msgID string, data []byte, maxRetries int) error {
	_ = maxRetries
	return p.Publish(ctx, subject, msgID, data)
}

func (p *NoopPublisher) Close() error { return nil }

// WriterPublisher writes one JSON event per line, for piping a decoded
// stream into other tools.
type WriterPublisher struct {
	mu sync.Mutex
	w  *bufio.Writer
	c  io.Closer
}

func NewWriterPublisher(w io.Writer) *WriterPublisher {
	p := &WriterPublisher{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		p.c = c
	}
	return p
}

func (p *WriterPublisher) Connect() error { return nil }

func (p *WriterPublisher) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	_ = ctx
	_ = subject
	_ = msgID
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := p.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return p.w.Flush()
}

func (p *WriterPublisher) PublishWithRetries(ctx context.Context, subject, msgID string, data []byte, maxRetries int) error {
	_ = maxRetries
	return p.Publish(ctx, subject, msgID, data)
}

func (p *WriterPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.w.Flush(); err != nil {
		return err
	}
	if p.c != nil {
		return p.c.Close()
	}
	return nil
}

// subjectToken keeps a shape name to a single NATS subject token.
var subjectToken = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// SubjectForEvent builds subject shape.{shape}.{operation|control}.
func SubjectForEvent(evt *model.ShapeEvent) (string, error) {
	if evt == nil {
		return "", fmt.Errorf("nil event")
	}
	if evt.Shape == "" {
		return "", fmt.Errorf("event %s has no shape", evt.EventID)
	}
	leaf := evt.Operation
	if leaf == "" {
		leaf = "control"
	}
	shape := subjectToken.Replace(evt.Shape)
	var sb strings.Builder
	sb.Grow(len("shape.") + len(shape) + 1 + len(leaf))
	sb.WriteString("shape.")
	sb.WriteString(shape)
	sb.WriteByte('.')
	sb.WriteString(leaf)
	return sb.String(), nil
}
