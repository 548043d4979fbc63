package decoder

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shape-consumer/internal/model"
	"shape-consumer/internal/offset"
	"shape-consumer/internal/schema"
)

func mustSchema(t *testing.T, descriptor string) schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(descriptor))
	require.NoError(t, err)
	return s
}

func decodeRecord(t *testing.T, s schema.Schema, raw string) (model.Message, error) {
	t.Helper()
	return New(s, zap.NewNop()).DecodeBytes([]byte(raw))
}

func fieldOf(t *testing.T, err error) *model.FieldError {
	t.Helper()
	var fe *model.FieldError
	require.True(t, errors.As(err, &fe), "expected *model.FieldError, got %T: %v", err, err)
	return fe
}

const exampleRecord = `{"key":"1","value":{"id":1,"name":null},"headers":{"operation":"insert"},"offset":"0_1"}`

func TestDecode_NullableColumnAcceptsNull(t *testing.T) {
	s := mustSchema(t, `{"id":{"type":"int4","not_null":true},"name":{"type":"varchar"}}`)

	msg, err := decodeRecord(t, s, exampleRecord)
	require.NoError(t, err)

	change, ok := msg.(*model.ChangeMessage)
	require.True(t, ok, "expected change message, got %T", msg)
	assert.Equal(t, "1", change.Key)
	assert.Equal(t, model.OperationInsert, change.Operation())
	assert.Equal(t, offset.New(0, 1), change.Offset)
	assert.Equal(t, json.Number("1"), change.Value["id"])
	assert.Contains(t, change.Value, "name")
	assert.Nil(t, change.Value["name"])
}

func TestDecode_NotNullColumnRejectsNull(t *testing.T) {
	s := mustSchema(t, `{"id":{"type":"int4","not_null":true},"name":{"type":"varchar","not_null":true}}`)

	_, err := decodeRecord(t, s, exampleRecord)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSchemaViolation)
	assert.Equal(t, "name", fieldOf(t, err).Field)
}

func TestDecode_UpdateWithNullInNotNullFails(t *testing.T) {
	s := mustSchema(t, `{"id":{"type":"int4","not_null":true}}`)
	_, err := decodeRecord(t, s, `{"key":"1","value":{"id":null},"headers":{"operation":"update"},"offset":"3_0"}`)
	assert.ErrorIs(t, err, model.ErrSchemaViolation)
}

func TestDecode_DeleteTombstones(t *testing.T) {
	s := mustSchema(t, `{"id":{"type":"int4","not_null":true},"name":{"type":"text","not_null":true}}`)

	tests := map[string]string{
		"empty value":   `{"key":"1","value":{},"headers":{"operation":"delete"},"offset":"1_1"}`,
		"null value":    `{"key":"1","value":null,"headers":{"operation":"delete"},"offset":"1_1"}`,
		"partial value": `{"key":"1","value":{"id":1},"headers":{"operation":"delete"},"offset":"1_1"}`,
		"null columns":  `{"key":"1","value":{"id":null,"name":null},"headers":{"operation":"delete"},"offset":"1_1"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			msg, err := decodeRecord(t, s, raw)
			require.NoError(t, err)
			change := msg.(*model.ChangeMessage)
			assert.Equal(t, model.OperationDelete, change.Operation())
			assert.NotNil(t, change.Value)
		})
	}
}

func TestDecode_NullValueOnlyForDelete(t *testing.T) {
	_, err := decodeRecord(t, nil, `{"key":"1","value":null,"headers":{"operation":"insert"},"offset":"1_1"}`)
	assert.ErrorIs(t, err, model.ErrMalformedMessage)
}

func TestDecode_UnknownFieldsPassThrough(t *testing.T) {
	s := mustSchema(t, `{"id":{"type":"int4"}}`)
	msg, err := decodeRecord(t, s, `{"key":"k","value":{"id":1,"extra":{"nested":[1,"two",true]}},"headers":{"operation":"insert","relation":["public","t"]},"offset":"0_0"}`)
	require.NoError(t, err)
	change := msg.(*model.ChangeMessage)
	assert.Equal(t, map[string]any{"nested": []any{json.Number("1"), "two", true}}, change.Value["extra"])
	assert.Equal(t, []any{"public", "t"}, change.Headers.Extra["relation"])
}

func TestDecode_BigIntegersKeepPrecision(t *testing.T) {
	msg, err := decodeRecord(t, nil, `{"key":"k","value":{"n":123456789012345678901234567890},"headers":{"operation":"insert"},"offset":"0_0"}`)
	require.NoError(t, err)
	n, ok := model.BigInt(msg.(*model.ChangeMessage).Value["n"])
	require.True(t, ok)
	assert.Equal(t, "123456789012345678901234567890", n.String())
}

func TestDecode_Control(t *testing.T) {
	msg, err := decodeRecord(t, nil, `{"headers":{"control":"up-to-date","global_last_seen_lsn":"123"}}`)
	require.NoError(t, err)
	ctrl, ok := msg.(*model.ControlMessage)
	require.True(t, ok)
	assert.Equal(t, model.ControlUpToDate, ctrl.Headers.Control)
	assert.Equal(t, "123", ctrl.Headers.Extra["global_last_seen_lsn"])
}

func TestDecode_ControlWithoutHeaders(t *testing.T) {
	_, err := decodeRecord(t, nil, `{}`)
	assert.ErrorIs(t, err, model.ErrMalformedMessage)
}

func TestDecode_SchemaChange(t *testing.T) {
	d := New(mustSchema(t, `{"id":{"type":"int4"}}`), zap.NewNop())
	assert.Equal(t, uint64(0), d.Epoch())

	_, err := d.DecodeBytes([]byte(`{"headers":{"control":"schema-change","schema":{"id":{"type":"int4"},"name":{"type":"varchar","max_length":3,"not_null":true}}}}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.Epoch())
	assert.Equal(t, []string{"id", "name"}, d.Schema().Columns())

	_, err = d.DecodeBytes([]byte(`{"key":"1","value":{"id":1,"name":"long"},"headers":{"operation":"insert"},"offset":"0_1"}`))
	assert.ErrorIs(t, err, model.ErrSchemaViolation)

	_, err = d.DecodeBytes([]byte(`{"headers":{"control":"schema-change","schema":{"id":{}}}}`))
	assert.ErrorIs(t, err, schema.ErrInvalidSchema)
	assert.Equal(t, uint64(1), d.Epoch(), "invalid schema must not replace the current one")

	_, err = d.DecodeBytes([]byte(`{"headers":{"control":"schema-change"}}`))
	assert.ErrorIs(t, err, model.ErrMalformedMessage)
}

func TestDecodeBytes_NotAnObject(t *testing.T) {
	for _, raw := range []string{`[1]`, `"x"`, `{`, ``} {
		_, err := decodeRecord(t, nil, raw)
		assert.ErrorIs(t, err, model.ErrMalformedMessage, raw)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		want    model.MessageKind
		missing string
	}{
		{name: "control", rec: Record{"headers": map[string]any{}}, want: model.KindControl},
		{name: "change", rec: Record{"key": "1", "value": map[string]any{}, "offset": "0_0"}, want: model.KindChange},
		{name: "no offset", rec: Record{"key": "1", "value": map[string]any{}}, missing: "offset"},
		{name: "only offset", rec: Record{"offset": "0_0"}, missing: "key"},
		{name: "no value", rec: Record{"key": "1", "offset": "0_0"}, missing: "value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.rec)
			if tt.missing != "" {
				require.ErrorIs(t, err, model.ErrMalformedMessage)
				assert.Equal(t, tt.missing, fieldOf(t, err).Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateOperation(t *testing.T) {
	for _, op := range []string{"insert", "update", "delete"} {
		got, err := ValidateOperation(map[string]any{"operation": op})
		require.NoError(t, err)
		assert.Equal(t, model.Operation(op), got)
	}
	for _, headers := range []map[string]any{
		{},
		{"operation": "upsert"},
		{"operation": "INSERT"},
		{"operation": 1},
		{"operation": nil},
	} {
		_, err := ValidateOperation(headers)
		assert.ErrorIs(t, err, model.ErrInvalidOperation, "%v", headers)
	}
}

func TestDecodeChange_Precedence(t *testing.T) {
	s := mustSchema(t, `{"id":{"type":"int4","not_null":true}}`)
	tests := []struct {
		name string
		rec  Record
		want error
	}{
		{
			name: "malformed before offset",
			rec:  Record{"key": 1, "value": map[string]any{"id": nil}, "headers": map[string]any{"operation": "bogus"}, "offset": "x"},
			want: model.ErrMalformedMessage,
		},
		{
			name: "offset before operation",
			rec:  Record{"key": "1", "value": map[string]any{"id": nil}, "headers": map[string]any{"operation": "bogus"}, "offset": "x"},
			want: offset.ErrMalformedOffset,
		},
		{
			name: "operation before schema",
			rec:  Record{"key": "1", "value": map[string]any{"id": nil}, "headers": map[string]any{"operation": "bogus"}, "offset": "0_0"},
			want: model.ErrInvalidOperation,
		},
		{
			name: "schema last",
			rec:  Record{"key": "1", "value": map[string]any{"id": nil}, "headers": map[string]any{"operation": "insert"}, "offset": "0_0"},
			want: model.ErrSchemaViolation,
		},
		{
			name: "headers must be an object",
			rec:  Record{"key": "1", "value": map[string]any{}, "headers": "insert", "offset": "0_0"},
			want: model.ErrMalformedMessage,
		},
		{
			name: "value must be an object",
			rec:  Record{"key": "1", "value": []any{}, "headers": map[string]any{"operation": "insert"}, "offset": "0_0"},
			want: model.ErrMalformedMessage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeChange(tt.rec, s)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeChange_DoesNotMutateInput(t *testing.T) {
	row := map[string]any{"id": json.Number("1")}
	rec := Record{"key": "1", "value": row, "headers": map[string]any{"operation": "insert"}, "offset": "0_0"}
	msg, err := DecodeChange(rec, nil)
	require.NoError(t, err)
	msg.Value["id"] = "changed"
	assert.Equal(t, json.Number("1"), row["id"])
}

func TestDecode_ValueMustBeObject(t *testing.T) {
	s := mustSchema(t, `{"id":{"type":"int4"}}`)
	for _, value := range []string{`[1]`, `"row"`, `1`, `true`} {
		for _, op := range []string{"insert", "delete"} {
			raw := `{"key":"1","value":` + value + `,"headers":{"operation":"` + op + `"},"offset":"0_1"}`
			_, err := decodeRecord(t, s, raw)
			require.ErrorIs(t, err, model.ErrMalformedMessage, raw)
			assert.Equal(t, "value", fieldOf(t, err).Field)
		}
	}
}
