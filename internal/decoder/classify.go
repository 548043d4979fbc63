package decoder

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	"shape-consumer/internal/model"
	"shape-consumer/internal/offset"
	"shape-consumer/internal/schema"
)

// Record is one raw message as delivered by the transport.
type Record = map[string]any

const (
	fieldKey     = "key"
	fieldValue   = "value"
	fieldHeaders = "headers"
	fieldOffset  = "offset"
)

var changeFields = []string{fieldKey, fieldValue, fieldOffset}

// Classify tags rec by which change-message fields it carries. A record with
// some but not all of them is malformed.
func Classify(rec Record) (model.MessageKind, error) {
	var present, missing []string
	for _, f := range changeFields {
		if _, ok := rec[f]; ok {
			present = append(present, f)
		} else {
			missing = append(missing, f)
		}
	}
	switch len(present) {
	case 0:
		return model.KindControl, nil
	case len(changeFields):
		return model.KindChange, nil
	default:
		return 0, &model.FieldError{
			Kind:     model.ErrMalformedMessage,
			Field:    missing[0],
			Expected: "key, value and offset together",
			Actual:   "missing " + strings.Join(missing, ", "),
		}
	}
}

// ValidateOperation checks the operation header of a change message.
func ValidateOperation(headers map[string]any) (model.Operation, error) {
	raw, ok := headers[model.HeaderOperation]
	if !ok {
		return "", &model.FieldError{Kind: model.ErrInvalidOperation, Field: "headers.operation", Expected: "insert, update or delete", Actual: "missing"}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &model.FieldError{Kind: model.ErrInvalidOperation, Field: "headers.operation", Expected: "insert, update or delete", Actual: model.KindOf(raw).String()}
	}
	op := model.Operation(s)
	if !op.Valid() {
		return "", &model.FieldError{Kind: model.ErrInvalidOperation, Field: "headers.operation", Expected: "insert, update or delete", Actual: fmt.Sprintf("%q", s)}
	}
	return op, nil
}

// DecodeChange validates a change record against s. Structure is checked
// first, then the offset, then the operation, then every column; the first
// failure rejects the whole record.
func DecodeChange(rec Record, s schema.Schema) (*model.ChangeMessage, error) {
	key, ok := rec[fieldKey].(string)
	if !ok {
		return nil, malformed(fieldKey, "string", rec[fieldKey])
	}
	token, ok := rec[fieldOffset].(string)
	if !ok {
		return nil, malformed(fieldOffset, "string", rec[fieldOffset])
	}
	rawHeaders, ok := rec[fieldHeaders].(map[string]any)
	if !ok {
		return nil, malformed(fieldHeaders, "object", rec[fieldHeaders])
	}
	var row model.Row
	switch v := rec[fieldValue].(type) {
	case map[string]any:
		row = v
	case nil:
	default:
		return nil, malformed(fieldValue, "object", v)
	}

	off, err := offset.Parse(token)
	if err != nil {
		return nil, &model.FieldError{Kind: offset.ErrMalformedOffset, Field: fieldOffset, Expected: `"-1" or <segment>_<index>`, Actual: fmt.Sprintf("%q", token)}
	}
	op, err := ValidateOperation(rawHeaders)
	if err != nil {
		return nil, err
	}
	if row == nil {
		if op != model.OperationDelete {
			return nil, malformed(fieldValue, "object", nil)
		}
		row = model.Row{}
	}

	out := make(model.Row, len(row))
	names := lo.Keys(row)
	slices.Sort(names)
	for _, name := range names {
		v := row[name]
		col, known := s.Column(name)
		if !known || v == nil {
			if known && col.NotNull && op != model.OperationDelete {
				return nil, &model.FieldError{Kind: model.ErrSchemaViolation, Field: name, Expected: "non-null value", Actual: "null"}
			}
			out[name] = v
			continue
		}
		coerced, err := coerce(name, col, v)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}

	return &model.ChangeMessage{
		Key:     key,
		Value:   out,
		Headers: decodeHeaders(rawHeaders),
		Offset:  off,
	}, nil
}

// DecodeControl validates a control record.
func DecodeControl(rec Record) (*model.ControlMessage, error) {
	rawHeaders, ok := rec[fieldHeaders].(map[string]any)
	if !ok {
		return nil, malformed(fieldHeaders, "object", rec[fieldHeaders])
	}
	return &model.ControlMessage{Headers: decodeHeaders(rawHeaders)}, nil
}

func decodeHeaders(raw map[string]any) model.Headers {
	var h model.Headers
	for k, v := range raw {
		switch k {
		case model.HeaderOperation:
			if s, ok := v.(string); ok {
				h.Operation = model.Operation(s)
				continue
			}
		case model.HeaderControl:
			if s, ok := v.(string); ok {
				h.Control = model.ControlKind(s)
				continue
			}
		}
		if h.Extra == nil {
			h.Extra = make(map[string]any, len(raw))
		}
		h.Extra[k] = v
	}
	return h
}

func malformed(field, expected string, actual any) error {
	return &model.FieldError{Kind: model.ErrMalformedMessage, Field: field, Expected: expected, Actual: model.KindOf(actual).String()}
}
