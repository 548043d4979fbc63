package offset

import (
	"sync"
	"sync/atomic"
)

// Outcome reports what Tracker.Apply did with an incoming offset.
type Outcome int

const (
	Accepted Outcome = iota
	Replayed
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Replayed:
		return "replayed"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Tracker holds the current offset of one stream. Writers serialize on mu;
// the watermark is published atomically after accept succeeds, so Current
// never blocks on an accept in flight and never sees an offset whose message
// was not accepted.
type Tracker struct {
	mu      sync.Mutex
	current atomic.Pointer[Offset]
}

func NewTracker(start Offset) *Tracker {
	t := &Tracker{}
	t.current.Store(&start)
	return t
}

func (t *Tracker) Current() Offset {
	if p := t.current.Load(); p != nil {
		return *p
	}
	return Unset
}

// Apply validates incoming against the watermark and, when it is newer, calls
// accept before advancing. A failing accept leaves the watermark untouched.
// Exact replays skip accept.
func (t *Tracker) Apply(incoming Offset, accept func() error) (Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.Current()
	next, err := Advance(current, incoming)
	if err != nil {
		return Rejected, err
	}
	if Compare(next, current) == 0 {
		return Replayed, nil
	}
	if accept != nil {
		if err := accept(); err != nil {
			return Rejected, err
		}
	}
	t.current.Store(&next)
	return Accepted, nil
}

// Reset drops the watermark back to unset for a new stream epoch.
func (t *Tracker) Reset() {
	t.mu.Lock()
	unset := Unset
	t.current.Store(&unset)
	t.mu.Unlock()
}
