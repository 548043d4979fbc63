package transformer

import (
	"context"
	"testing"
	"time"

	"shape-consumer/internal/model"
	"shape-consumer/internal/offset"
)

func TestTransform_Change(t *testing.T) {
	tr := NewShapeTransformer("items")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := &model.ChangeMessage{
		Key:     `"public"."items"/"1"`,
		Value:   model.Row{"id": "1"},
		Headers: model.Headers{Operation: model.OperationInsert},
		Offset:  offset.New(26800584, 4),
	}

	evt, err := tr.Transform(context.Background(), msg, Stamp{Seq: 9, Epoch: 2, ReceivedAt: now})
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if evt.EventID != `items:26800584_4:"public"."items"/"1"` {
		t.Fatalf("unexpected event id %q", evt.EventID)
	}
	if evt.Kind != "change" || evt.Operation != "insert" || evt.Control != "" {
		t.Fatalf("unexpected classification: %+v", evt)
	}
	if evt.Offset != msg.Offset || evt.Epoch != 2 || !evt.ReceivedAt.Equal(now) {
		t.Fatalf("unexpected stamp fields: %+v", evt)
	}
	if evt.Value["id"] != "1" {
		t.Fatalf("value not carried: %+v", evt.Value)
	}
}

func TestTransform_ChangeIDIsStable(t *testing.T) {
	tr := NewShapeTransformer("items")
	msg := &model.ChangeMessage{Key: "k", Headers: model.Headers{Operation: model.OperationDelete}, Offset: offset.New(1, 1)}

	a, err := tr.Transform(context.Background(), msg, Stamp{Seq: 1})
	if err != nil {
		t.Fatal(err)
	}
	b, err := tr.Transform(context.Background(), msg, Stamp{Seq: 7})
	if err != nil {
		t.Fatal(err)
	}
	if a.EventID != b.EventID {
		t.Fatalf("change ids differ across redelivery: %q vs %q", a.EventID, b.EventID)
	}
}

func TestTransform_Control(t *testing.T) {
	tr := NewShapeTransformer("items")
	msg := &model.ControlMessage{Headers: model.Headers{Control: model.ControlUpToDate}}

	evt, err := tr.Transform(context.Background(), msg, Stamp{Seq: 3, Watermark: offset.New(0, 5)})
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if evt.EventID != "items:control:up-to-date:3" {
		t.Fatalf("unexpected event id %q", evt.EventID)
	}
	if evt.Kind != "control" || evt.Control != "up-to-date" || evt.Operation != "" {
		t.Fatalf("unexpected classification: %+v", evt)
	}
	if evt.Offset != offset.New(0, 5) {
		t.Fatalf("control event should carry the watermark, got %v", evt.Offset)
	}
}

func TestTransform_Nil(t *testing.T) {
	if _, err := NewShapeTransformer("items").Transform(context.Background(), nil, Stamp{}); err == nil {
		t.Fatal("expected error for nil message")
	}
}

func BenchmarkTransform(b *testing.B) {
	tr := NewShapeTransformer("items")
	ctx := context.Background()
	msg := &model.ChangeMessage{
		Key:     `"public"."items"/"1"`,
		Value:   model.Row{"id": "1", "name": "test", "email": "test@example.com"},
		Headers: model.Headers{Operation: model.OperationUpdate},
		Offset:  offset.New(26800584, 4),
	}
	stamp := Stamp{Seq: 1, Epoch: 0, ReceivedAt: time.Now()}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := tr.Transform(ctx, msg, stamp); err != nil {
			b.Fatal(err)
		}
	}
}
