package offset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pglogrepl"
)

// UnsetToken is the wire form of the offset that precedes every position.
const UnsetToken = "-1"

var (
	ErrMalformedOffset  = errors.New("malformed offset")
	ErrOutOfOrderOffset = errors.New("out of order offset")
)

// Offset is a position in a shape stream. The zero value is the unset offset.
type Offset struct {
	set     bool
	Segment uint64
	Index   uint64
}

// Unset is the sentinel used before any message has been accepted.
var Unset = Offset{}

// New builds a concrete offset.
func New(segment, index uint64) Offset {
	return Offset{set: true, Segment: segment, Index: index}
}

// Parse reads either the unset token or a "<segment>_<index>" pair.
func Parse(token string) (Offset, error) {
	if token == UnsetToken {
		return Unset, nil
	}
	seg, idx, ok := strings.Cut(token, "_")
	if !ok {
		return Unset, fmt.Errorf("%w: %q is not <segment>_<index>", ErrMalformedOffset, token)
	}
	segment, err := strconv.ParseUint(seg, 10, 64)
	if err != nil {
		return Unset, fmt.Errorf("%w: segment of %q: %v", ErrMalformedOffset, token, err)
	}
	index, err := strconv.ParseUint(idx, 10, 64)
	if err != nil {
		return Unset, fmt.Errorf("%w: index of %q: %v", ErrMalformedOffset, token, err)
	}
	return New(segment, index), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(token string) Offset {
	o, err := Parse(token)
	if err != nil {
		panic(err)
	}
	return o
}

func (o Offset) IsUnset() bool {
	return !o.set
}

func (o Offset) String() string {
	if !o.set {
		return UnsetToken
	}
	return strconv.FormatUint(o.Segment, 10) + "_" + strconv.FormatUint(o.Index, 10)
}

// LSN interprets the segment as the producer's transaction LSN.
func (o Offset) LSN() pglogrepl.LSN {
	return pglogrepl.LSN(o.Segment)
}

func (o Offset) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Offset) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Compare returns -1, 0 or +1. Unset sorts before every concrete offset.
func Compare(a, b Offset) int {
	switch {
	case !a.set && !b.set:
		return 0
	case !a.set:
		return -1
	case !b.set:
		return 1
	}
	switch {
	case a.Segment < b.Segment:
		return -1
	case a.Segment > b.Segment:
		return 1
	case a.Index < b.Index:
		return -1
	case a.Index > b.Index:
		return 1
	}
	return 0
}

// Advance moves the watermark to incoming. Replaying the current offset is a
// no-op; anything older is rejected.
func Advance(current, incoming Offset) (Offset, error) {
	switch c := Compare(incoming, current); {
	case c > 0:
		return incoming, nil
	case c == 0:
		return current, nil
	default:
		return current, fmt.Errorf("%w: incoming %s precedes current %s", ErrOutOfOrderOffset, incoming, current)
	}
}
