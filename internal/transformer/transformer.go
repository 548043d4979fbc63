package transformer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shape-consumer/internal/model"
	"shape-consumer/internal/offset"
)

// Stamp is the stream position a message was decoded at.
type Stamp struct {
	Seq        uint64
	Epoch      uint64
	Watermark  offset.Offset
	ReceivedAt time.Time
}

// Transformer converts decoded messages into the envelope handed to the sink.
type Transformer interface {
	Transform(ctx context.Context, msg model.Message, stamp Stamp) (*model.ShapeEvent, error)
}

// ShapeTransformer builds events with a deterministic EventID: shape:offset:key
// for changes and shape:control:kind:seq for control messages.
type ShapeTransformer struct {
	shape string
}

func NewShapeTransformer(shape string) *ShapeTransformer {
	return &ShapeTransformer{shape: shape}
}

func (t *ShapeTransformer) Transform(ctx context.Context, msg model.Message, stamp Stamp) (*model.ShapeEvent, error) {
	_ = ctx
	switch m := msg.(type) {
	case *model.ChangeMessage:
		return &model.ShapeEvent{
			EventID:    strings.Join([]string{t.shape, m.Offset.String(), m.Key}, ":"),
			Shape:      t.shape,
			Kind:       model.KindChange.String(),
			Key:        m.Key,
			Operation:  string(m.Operation()),
			Offset:     m.Offset,
			Epoch:      stamp.Epoch,
			Headers:    m.Headers,
			Value:      m.Value,
			ReceivedAt: stamp.ReceivedAt,
		}, nil
	case *model.ControlMessage:
		return &model.ShapeEvent{
			EventID:    strings.Join([]string{t.shape, "control", string(m.Headers.Control), strconv.FormatUint(stamp.Seq, 10)}, ":"),
			Shape:      t.shape,
			Kind:       model.KindControl.String(),
			Control:    string(m.Headers.Control),
			Offset:     stamp.Watermark,
			Epoch:      stamp.Epoch,
			Headers:    m.Headers,
			ReceivedAt: stamp.ReceivedAt,
		}, nil
	case nil:
		return nil, fmt.Errorf("nil message")
	default:
		return nil, fmt.Errorf("unsupported message %T", msg)
	}
}
