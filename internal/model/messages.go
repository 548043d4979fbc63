package model

import (
	"time"

	"github.com/goccy/go-json"

	"shape-consumer/internal/offset"
)

// Operation is the row operation carried by a change message.
type Operation string

const (
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ControlKind is the lifecycle event named by a control message.
type ControlKind string

const (
	ControlUpToDate     ControlKind = "up-to-date"
	ControlMustRefetch  ControlKind = "must-refetch"
	ControlSnapshotEnd  ControlKind = "snapshot-end"
	ControlSchemaChange ControlKind = "schema-change"
)

const (
	HeaderOperation = "operation"
	HeaderControl   = "control"
	HeaderSchema    = "schema"
)

// Headers splits message metadata into the fields the protocol knows about
// and whatever else the producer attached.
type Headers struct {
	Operation Operation
	Control   ControlKind
	Extra     map[string]any
}

// Get looks a header up by its wire name.
func (h Headers) Get(key string) (any, bool) {
	switch key {
	case HeaderOperation:
		return string(h.Operation), h.Operation != ""
	case HeaderControl:
		return string(h.Control), h.Control != ""
	}
	v, ok := h.Extra[key]
	return v, ok
}

func (h Headers) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(h.Extra)+2)
	for k, v := range h.Extra {
		out[k] = v
	}
	if h.Operation != "" {
		out[HeaderOperation] = h.Operation
	}
	if h.Control != "" {
		out[HeaderControl] = h.Control
	}
	return json.Marshal(out)
}

// MessageKind is the runtime tag of a Message.
type MessageKind int

const (
	KindControl MessageKind = iota + 1
	KindChange
)

func (k MessageKind) String() string {
	switch k {
	case KindControl:
		return "control"
	case KindChange:
		return "change"
	default:
		return "unknown"
	}
}

// Message is either a *ControlMessage or a *ChangeMessage.
type Message interface {
	Kind() MessageKind
	MessageHeaders() Headers
}

// ControlMessage signals a stream lifecycle event and carries no row.
type ControlMessage struct {
	Headers Headers
}

func (m *ControlMessage) Kind() MessageKind       { return KindControl }
func (m *ControlMessage) MessageHeaders() Headers { return m.Headers }

// ChangeMessage carries one row change. Value may be partial or empty for
// deletes.
type ChangeMessage struct {
	Key     string
	Value   Row
	Headers Headers
	Offset  offset.Offset
}

func (m *ChangeMessage) Kind() MessageKind       { return KindChange }
func (m *ChangeMessage) MessageHeaders() Headers { return m.Headers }

func (m *ChangeMessage) Operation() Operation {
	return m.Headers.Operation
}

// ShapeEvent is the envelope handed to the sink.
type ShapeEvent struct {
	EventID    string        `json:"event_id"`
	Shape      string        `json:"shape"`
	Kind       string        `json:"kind"`
	Key        string        `json:"key,omitempty"`
	Operation  string        `json:"operation,omitempty"`
	Control    string        `json:"control,omitempty"`
	Offset     offset.Offset `json:"offset"`
	Epoch      uint64        `json:"epoch"`
	Headers    Headers       `json:"headers"`
	Value      Row           `json:"value,omitempty"`
	ReceivedAt time.Time     `json:"received_at"`
}
