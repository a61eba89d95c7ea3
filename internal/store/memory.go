package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/quarter-sensor-simulator/internal/sensors"
)

var (
	// ErrNotFound is returned when nothing has been published yet.
	ErrNotFound = errors.New("no snapshot published yet")
)

// Published is the most recent snapshot written to the snapshot store.
type Published struct {
	CycleID     string           `json:"cycleId"`
	PublishedAt time.Time        `json:"publishedAt"`
	GroundTruth float64          `json:"groundTruth"`
	Records     []sensors.Record `json:"records"`
	Partition1  []sensors.Record `json:"partition1"`
	Partition2  []sensors.Record `json:"partition2"`
}

// SnapshotCache is a concurrency-safe holder of the latest published snapshot.
// Only the latest snapshot is kept; there is no history.
type SnapshotCache struct {
	mu     sync.RWMutex
	latest *Published
}

// NewSnapshotCache creates an empty SnapshotCache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{}
}

// Save replaces the cached snapshot.
func (s *SnapshotCache) Save(p Published) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &p
}

// GetLatest returns the most recent snapshot.
func (s *SnapshotCache) GetLatest() (Published, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return Published{}, ErrNotFound
	}
	return *s.latest, nil
}
