package model

import (
	"encoding/json"
	"math/big"
)

// Value is any decoded column value or nested structure. Decoded records only
// ever hold nil, string, bool, json.Number, []any and map[string]any.
type Value = any

// Row is the payload of a change message, column name to value.
type Row = map[string]any

// ValueKind tags the runtime shape of a Value.
type ValueKind int

const (
	KindInvalid ValueKind = iota
	KindNull
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "invalid"
	}
}

// KindOf classifies v. Native Go numbers are accepted so values built in code
// classify the same as decoded ones.
func KindOf(v Value) ValueKind {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case json.Number, float64, float32, int, int32, int64, uint, uint32, uint64, *big.Int:
		return KindNumber
	case bool:
		return KindBool
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	default:
		return KindInvalid
	}
}

// BigInt returns v as an arbitrary-precision integer. It reports false for
// non-integral numbers and non-numbers.
func BigInt(v Value) (*big.Int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, ok := new(big.Int).SetString(n.String(), 10)
		return i, ok
	case *big.Int:
		return n, n != nil
	case int:
		return big.NewInt(int64(n)), true
	case int64:
		return big.NewInt(n), true
	case int32:
		return big.NewInt(int64(n)), true
	case uint:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint64:
		return new(big.Int).SetUint64(n), true
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), true
	}
	return nil, false
}
