package schema

import (
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
)

var ErrInvalidSchema = errors.New("invalid schema")

// Family is the runtime tag of a ColumnInfo.
type Family int

const (
	FamilyRegular Family = iota
	FamilyVarchar
	FamilyBpchar
	FamilyTime
	FamilyInterval
	FamilyBit
	FamilyNumeric
)

func (f Family) String() string {
	switch f {
	case FamilyRegular:
		return "regular"
	case FamilyVarchar:
		return "varchar"
	case FamilyBpchar:
		return "bpchar"
	case FamilyTime:
		return "time"
	case FamilyInterval:
		return "interval"
	case FamilyBit:
		return "bit"
	case FamilyNumeric:
		return "numeric"
	default:
		return "unknown"
	}
}

// FamilyOf maps a column type name to its family; unknown names are regular.
func FamilyOf(typeName string) Family {
	switch typeName {
	case "varchar":
		return FamilyVarchar
	case "bpchar":
		return FamilyBpchar
	case "time", "timetz", "timestamp", "timestamptz":
		return FamilyTime
	case "interval":
		return FamilyInterval
	case "bit":
		return FamilyBit
	case "numeric":
		return FamilyNumeric
	default:
		return FamilyRegular
	}
}

// IntervalFields lists the interval field restrictions a column may declare.
var IntervalFields = []string{
	"YEAR", "MONTH", "DAY", "HOUR", "MINUTE", "SECOND",
	"YEAR TO MONTH", "DAY TO HOUR", "DAY TO MINUTE", "DAY TO SECOND",
	"HOUR TO MINUTE", "HOUR TO SECOND", "MINUTE TO SECOND",
}

// ColumnInfo describes how to interpret a raw column value. Which refinement
// fields are meaningful depends on Family().
type ColumnInfo struct {
	Type string `json:"type"`

	// varchar
	MaxLength *int `json:"max_length,omitempty"`
	// bpchar, bit
	Length *int `json:"length,omitempty"`
	// time family, interval, numeric
	Precision *int `json:"precision,omitempty"`
	// numeric
	Scale *int `json:"scale,omitempty"`
	// interval
	Fields string `json:"fields,omitempty"`

	// Dims is the array dimensionality; zero for scalar columns.
	Dims    int  `json:"dims,omitempty"`
	NotNull bool `json:"not_null,omitempty"`
}

func (c ColumnInfo) Family() Family {
	return FamilyOf(c.Type)
}

func (c ColumnInfo) IsArray() bool {
	return c.Dims > 0
}

// Validate checks the refinements against the column's family.
func (c ColumnInfo) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("missing type")
	}
	if c.Dims < 0 {
		return fmt.Errorf("negative dims %d", c.Dims)
	}
	for name, v := range map[string]*int{"max_length": c.MaxLength, "length": c.Length, "precision": c.Precision, "scale": c.Scale} {
		if v != nil && *v < 0 {
			return fmt.Errorf("negative %s %d", name, *v)
		}
	}
	switch c.Family() {
	case FamilyBit:
		if c.Length == nil {
			return fmt.Errorf("bit column requires length")
		}
	case FamilyInterval:
		if c.Fields != "" && !lo.Contains(IntervalFields, c.Fields) {
			return fmt.Errorf("unknown interval fields %q", c.Fields)
		}
		if c.Precision != nil {
			if *c.Precision > 6 {
				return fmt.Errorf("interval precision %d out of range 0-6", *c.Precision)
			}
			if c.Fields != "" && c.Fields != "SECOND" {
				return fmt.Errorf("interval precision requires fields SECOND, got %q", c.Fields)
			}
		}
	case FamilyRegular, FamilyVarchar, FamilyBpchar, FamilyTime, FamilyNumeric:
	}
	return nil
}

// Schema maps column names to their descriptors. Treat it as immutable; a
// schema change produces a new Schema.
type Schema map[string]ColumnInfo

// Column looks up a column descriptor.
func (s Schema) Column(name string) (ColumnInfo, bool) {
	c, ok := s[name]
	return c, ok
}

// Columns returns the column names in sorted order.
func (s Schema) Columns() []string {
	names := lo.Keys(s)
	sort.Strings(names)
	return names
}

// Validate checks every column descriptor.
func (s Schema) Validate() error {
	for _, name := range s.Columns() {
		if err := s[name].Validate(); err != nil {
			return fmt.Errorf("%w: column %q: %v", ErrInvalidSchema, name, err)
		}
	}
	return nil
}

// Parse decodes and validates a JSON schema descriptor.
func Parse(data []byte) (Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: descriptor is not an object", ErrInvalidSchema)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromValue builds a schema from an already-decoded descriptor, as carried in
// schema-change control headers.
func FromValue(v any) (Schema, error) {
	if _, ok := v.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: descriptor is %T, not an object", ErrInvalidSchema, v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return Parse(data)
}
