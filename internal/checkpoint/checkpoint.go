package checkpoint

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"shape-consumer/internal/metrics"
	"shape-consumer/internal/offset"
)

// Store persists the last accepted offset of a shape to support resumption.
type Store interface {
	Save(ctx context.Context, pos offset.Offset) error
	Load(ctx context.Context) (offset.Offset, error)
}

// MemoryStore keeps the checkpoint in process; used when no backend is configured.
type MemoryStore struct {
	mu   sync.Mutex
	last offset.Offset
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, pos offset.Offset) error {
	s.mu.Lock()
	s.last = pos
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (offset.Offset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

// Manager throttles checkpoint writes; forced flushes bypass the interval.
// Flushes come from one goroutine; LastFlushed may be read from any.
type Manager struct {
	store       Store
	interval    time.Duration
	mu          sync.RWMutex
	lastFlush   offset.Offset
	lastTime    time.Time
	logger      *zap.Logger
	promMetrics *metrics.Metrics
}

func NewManager(store Store, interval time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, interval: interval, logger: logger, promMetrics: metrics.GlobalMetrics}
}

// MaybeFlush saves pos when it moved since the last flush and either force is
// set or the interval elapsed.
func (m *Manager) MaybeFlush(ctx context.Context, pos offset.Offset, force bool, now time.Time) error {
	if pos.IsUnset() || pos == m.lastFlush {
		return nil
	}
	if !force && !m.lastTime.IsZero() && now.Sub(m.lastTime) < m.interval {
		return nil
	}
	return m.save(ctx, pos, now)
}

// Reset records that the stream restarted from scratch.
func (m *Manager) Reset(ctx context.Context, now time.Time) error {
	return m.save(ctx, offset.Unset, now)
}

// LastFlushed returns the offset of the last successful write.
func (m *Manager) LastFlushed() offset.Offset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastFlush
}

func (m *Manager) save(ctx context.Context, pos offset.Offset, now time.Time) error {
	m.logger.Debug("saving checkpoint", zap.Stringer("offset", pos))
	if err := m.store.Save(ctx, pos); err != nil {
		m.promMetrics.CheckpointFailure.Inc()
		return err
	}
	m.promMetrics.CheckpointsSaved.Inc()
	m.mu.Lock()
	m.lastFlush = pos
	m.lastTime = now
	m.mu.Unlock()
	return nil
}
