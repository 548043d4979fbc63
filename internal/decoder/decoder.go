package decoder

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"shape-consumer/internal/model"
	"shape-consumer/internal/schema"
)

type epoch struct {
	schema schema.Schema
	seq    uint64
}

// Decoder turns raw records into validated messages against the schema of
// the current epoch. It holds no other state; decoding a record has no side
// effects except applying schema-change control messages.
type Decoder struct {
	current atomic.Pointer[epoch]
	logger  *zap.Logger
}

func New(initial schema.Schema, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Decoder{logger: logger}
	d.current.Store(&epoch{schema: initial})
	return d
}

// Schema returns the schema of the current epoch.
func (d *Decoder) Schema() schema.Schema {
	return d.current.Load().schema
}

// Epoch counts schema replacements since the decoder was created.
func (d *Decoder) Epoch() uint64 {
	return d.current.Load().seq
}

// SetSchema replaces the schema wholesale and starts a new epoch.
func (d *Decoder) SetSchema(s schema.Schema) uint64 {
	for {
		prev := d.current.Load()
		next := &epoch{schema: s, seq: prev.seq + 1}
		if d.current.CompareAndSwap(prev, next) {
			d.logger.Info("schema replaced", zap.Uint64("epoch", next.seq), zap.Strings("columns", s.Columns()))
			return next.seq
		}
	}
}

// DecodeBytes parses one JSON record and decodes it. Numbers are kept as
// json.Number so large integers survive intact.
func (d *Decoder) DecodeBytes(data []byte) (model.Message, error) {
	rec, err := ParseRecord(data)
	if err != nil {
		return nil, err
	}
	return d.Decode(rec)
}

// Decode classifies rec and decodes it as a control or change message.
func (d *Decoder) Decode(rec Record) (model.Message, error) {
	kind, err := Classify(rec)
	if err != nil {
		return nil, err
	}
	switch kind {
	case model.KindChange:
		return DecodeChange(rec, d.Schema())
	case model.KindControl:
		msg, err := DecodeControl(rec)
		if err != nil {
			return nil, err
		}
		if msg.Headers.Control == model.ControlSchemaChange {
			if err := d.applySchemaChange(msg.Headers); err != nil {
				return nil, err
			}
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("unhandled message kind %v", kind)
	}
}

func (d *Decoder) applySchemaChange(h model.Headers) error {
	raw, ok := h.Get(model.HeaderSchema)
	if !ok {
		return &model.FieldError{Kind: model.ErrMalformedMessage, Field: "headers.schema", Expected: "schema descriptor", Actual: "missing"}
	}
	s, err := schema.FromValue(raw)
	if err != nil {
		return &model.FieldError{Kind: schema.ErrInvalidSchema, Field: "headers.schema", Actual: err.Error()}
	}
	d.SetSchema(s)
	return nil
}

// ParseRecord decodes one JSON object, keeping numbers as json.Number.
func ParseRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &model.FieldError{Kind: model.ErrMalformedMessage, Expected: "JSON object", Actual: err.Error()}
	}
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, &model.FieldError{Kind: model.ErrMalformedMessage, Expected: "JSON object", Actual: model.KindOf(v).String()}
	}
	return rec, nil
}
