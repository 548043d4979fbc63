package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Counter is a lightweight counter that can be read back, unlike the
// Prometheus ones.
type Counter struct {
	val  uint64
	name string
}

func NewCounter(name string) *Counter {
	return &Counter{name: name}
}

func (c *Counter) Inc() {
	atomic.AddUint64(&c.val, 1)
}

func (c *Counter) Value() uint64 {
	return atomic.LoadUint64(&c.val)
}

func (c *Counter) Name() string {
	return c.name
}

// Stats are the per-stream counters reported on /status and by Reporter.
type Stats struct {
	Received *Counter
	Changes  *Counter
	Controls *Counter
	Replays  *Counter
	Skipped  *Counter
	Rejected *Counter
}

func NewStats() *Stats {
	return &Stats{
		Received: NewCounter("received"),
		Changes:  NewCounter("changes"),
		Controls: NewCounter("controls"),
		Replays:  NewCounter("replays"),
		Skipped:  NewCounter("skipped"),
		Rejected: NewCounter("rejected"),
	}
}

func (s *Stats) counters() []*Counter {
	return []*Counter{s.Received, s.Changes, s.Controls, s.Replays, s.Skipped, s.Rejected}
}

// Snapshot returns the current counter values keyed by name.
func (s *Stats) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, 6)
	for _, c := range s.counters() {
		out[c.name] = c.Value()
	}
	return out
}

// Reporter periodically logs stream stats.
type Reporter struct {
	interval time.Duration
	stats    *Stats
	logger   *zap.Logger
}

func NewReporter(interval time.Duration, stats *Stats, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{interval: interval, stats: stats, logger: logger}
}

func (r *Reporter) Start(ctx context.Context) {
	if r.interval <= 0 || r.stats == nil {
		return
	}
	t := time.NewTicker(r.interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fields := make([]zap.Field, 0, 6)
				for _, c := range r.stats.counters() {
					fields = append(fields, zap.Uint64(c.name, c.Value()))
				}
				r.logger.Info("stream stats", fields...)
			}
		}
	}()
}
