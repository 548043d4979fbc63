package model

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		v    Value
		want ValueKind
	}{
		{nil, KindNull},
		{"x", KindString},
		{json.Number("12"), KindNumber},
		{3.5, KindNumber},
		{true, KindBool},
		{[]any{1, 2}, KindArray},
		{map[string]any{"a": 1}, KindObject},
		{struct{}{}, KindInvalid},
	}
	for _, tt := range tests {
		if got := KindOf(tt.v); got != tt.want {
			t.Errorf("KindOf(%#v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestBigInt(t *testing.T) {
	huge := "123456789012345678901234567890"
	got, ok := BigInt(json.Number(huge))
	require.True(t, ok)
	want, _ := new(big.Int).SetString(huge, 10)
	assert.Equal(t, 0, want.Cmp(got))

	_, ok = BigInt(json.Number("1.5"))
	assert.False(t, ok)
	_, ok = BigInt("12")
	assert.False(t, ok)

	got, ok = BigInt(int64(-7))
	require.True(t, ok)
	assert.Equal(t, int64(-7), got.Int64())
}

func TestFieldError(t *testing.T) {
	err := &FieldError{Kind: ErrSchemaViolation, Field: "name", Expected: "non-null value", Actual: "null"}
	assert.True(t, errors.Is(err, ErrSchemaViolation))
	assert.False(t, errors.Is(err, ErrMalformedMessage))
	assert.Equal(t, `schema violation on field "name": expected non-null value, got null`, err.Error())

	bare := &FieldError{Kind: ErrMalformedMessage, Actual: "missing key"}
	assert.Equal(t, "malformed message: missing key", bare.Error())
}

func TestHeaders_MarshalJSON(t *testing.T) {
	h := Headers{Operation: OperationUpdate, Extra: map[string]any{"relation": []any{"public", "items"}}}
	data, err := gojson.Marshal(h)
	require.NoError(t, err)
	assert.JSONEq(t, `{"operation":"update","relation":["public","items"]}`, string(data))

	v, ok := h.Get("operation")
	assert.True(t, ok)
	assert.Equal(t, "update", v)
	_, ok = h.Get("control")
	assert.False(t, ok)
}

func TestOperation_Valid(t *testing.T) {
	for _, op := range []Operation{OperationInsert, OperationUpdate, OperationDelete} {
		assert.True(t, op.Valid(), op)
	}
	for _, op := range []Operation{"", "INSERT", "upsert"} {
		assert.False(t, op.Valid(), op)
	}
}

func TestMessageKinds(t *testing.T) {
	var m Message = &ControlMessage{Headers: Headers{Control: ControlUpToDate}}
	assert.Equal(t, KindControl, m.Kind())
	m = &ChangeMessage{Headers: Headers{Operation: OperationDelete}}
	assert.Equal(t, KindChange, m.Kind())
	assert.Equal(t, OperationDelete, m.(*ChangeMessage).Operation())
}
