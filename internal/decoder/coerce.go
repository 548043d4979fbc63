package decoder

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"shape-consumer/internal/model"
	"shape-consumer/internal/schema"
)

// coerce checks v against col and returns it in the representation the
// producer chose. Nothing is reformatted; the checks only catch contract
// violations.
func coerce(field string, col schema.ColumnInfo, v model.Value) (model.Value, error) {
	if col.IsArray() {
		if err := coerceArray(field, col, v, col.Dims); err != nil {
			return nil, err
		}
		return v, nil
	}
	if err := coerceScalar(field, col, v); err != nil {
		return nil, err
	}
	return v, nil
}

// coerceArray walks dims levels of nesting. Null elements are allowed at any
// level; the column's not_null constraint applies to the array as a whole.
func coerceArray(field string, col schema.ColumnInfo, v model.Value, dims int) error {
	if dims == 0 {
		return coerceScalar(field, col, v)
	}
	items, ok := v.([]any)
	if !ok {
		return violation(field, fmt.Sprintf("%d-dimensional array of %s", dims, col.Type), model.KindOf(v).String())
	}
	for i, item := range items {
		if item == nil {
			continue
		}
		if err := coerceArray(fmt.Sprintf("%s[%d]", field, i), col, item, dims-1); err != nil {
			return err
		}
	}
	return nil
}

func coerceScalar(field string, col schema.ColumnInfo, v model.Value) error {
	switch col.Family() {
	case schema.FamilyVarchar:
		return checkText(field, col, v, col.MaxLength)
	case schema.FamilyBpchar:
		return checkText(field, col, v, col.Length)
	case schema.FamilyTime, schema.FamilyInterval:
		if _, ok := v.(string); !ok {
			return violation(field, col.Type+" as string", model.KindOf(v).String())
		}
		return nil
	case schema.FamilyBit:
		return checkBits(field, col, v)
	case schema.FamilyNumeric:
		switch model.KindOf(v) {
		case model.KindString, model.KindNumber:
			return nil
		default:
			return violation(field, "numeric as string or number", model.KindOf(v).String())
		}
	case schema.FamilyRegular:
		return nil
	default:
		return fmt.Errorf("unhandled column family %v", col.Family())
	}
}

func checkText(field string, col schema.ColumnInfo, v model.Value, limit *int) error {
	s, ok := v.(string)
	if !ok {
		return violation(field, col.Type+" as string", model.KindOf(v).String())
	}
	if limit == nil {
		return nil
	}
	if n := utf8.RuneCountInString(s); n > *limit {
		return violation(field, fmt.Sprintf("at most %d characters", *limit), fmt.Sprintf("%d characters", n))
	}
	return nil
}

func checkBits(field string, col schema.ColumnInfo, v model.Value) error {
	s, ok := v.(string)
	if !ok {
		return violation(field, "bit string", model.KindOf(v).String())
	}
	if strings.Trim(s, "01") != "" {
		return violation(field, "bit string of 0 and 1", fmt.Sprintf("%q", s))
	}
	if col.Length != nil && len(s) != *col.Length {
		return violation(field, fmt.Sprintf("%d bits", *col.Length), fmt.Sprintf("%d bits", len(s)))
	}
	return nil
}

func violation(field, expected, actual string) error {
	return &model.FieldError{Kind: model.ErrSchemaViolation, Field: field, Expected: expected, Actual: actual}
}
