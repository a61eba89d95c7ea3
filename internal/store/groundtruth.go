package store

import (
	"go.uber.org/atomic"

	"github.com/i474232898/quarter-sensor-simulator/internal/weather"
)

// GroundTruthCell holds the single shared ground-truth snapshot.
// Writers replace the whole *weather.GroundTruth, so a reader always sees a
// value and fetch time that belong together.
type GroundTruthCell struct {
	current atomic.Pointer[weather.GroundTruth]
}

// NewGroundTruthCell returns an empty cell; Load reports nil until the first Store.
func NewGroundTruthCell() *GroundTruthCell {
	return &GroundTruthCell{}
}

// Load returns the current snapshot or nil. Callers must not mutate it.
func (c *GroundTruthCell) Load() *weather.GroundTruth {
	return c.current.Load()
}

// Store publishes gt. A nil gt is ignored; the cell never goes back to empty.
func (c *GroundTruthCell) Store(gt *weather.GroundTruth) {
	if gt == nil {
		return
	}
	cp := *gt
	c.current.Store(&cp)
}
