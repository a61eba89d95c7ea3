// Package publisher republishes the sensor registry with the current ground
// truth and fresh per-sensor noise.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/quarter-sensor-simulator/internal/sensors"
	"github.com/i474232898/quarter-sensor-simulator/internal/store"
	"github.com/i474232898/quarter-sensor-simulator/internal/weather"
)

var (
	// ErrNoGroundTruth means the cycle was skipped because nothing has been fetched yet.
	ErrNoGroundTruth = errors.New("no ground truth available")
	// ErrRegistryRead means the registry could not be read or parsed.
	ErrRegistryRead = errors.New("registry read failed")
	// ErrSnapshotWrite means at least one output file could not be replaced.
	ErrSnapshotWrite = errors.New("snapshot write failed")
)

const mirrorTimeout = 5 * time.Second

// Paths lists the registry input and the three outputs.
type Paths struct {
	Registry   string
	Snapshot   string
	Partition1 string
	Partition2 string
}

// TableStore reads and atomically replaces sensor tables.
type TableStore interface {
	ReadTable(path string) (sensors.Table, error)
	WriteTable(path string, t sensors.Table) error
}

// Noise perturbs a ground-truth value for one sensor.
type Noise interface {
	Apply(t float64) float64
}

// Mirror receives every successfully published set of records.
type Mirror interface {
	Mirror(ctx context.Context, cycleID string, records []sensors.Record) error
}

// Result describes one completed cycle.
type Result struct {
	CycleID     string
	GroundTruth float64
	Records     int
	Partition1  int
	Partition2  int
}

// Publisher runs publish cycles.
type Publisher struct {
	paths  Paths
	files  TableStore
	cell   weather.Cell
	noise  Noise
	cache  *store.SnapshotCache
	mirror Mirror
	now    func() time.Time
}

// Option configures optional Publisher collaborators.
type Option func(*Publisher)

// WithCache keeps the latest published snapshot in c.
func WithCache(c *store.SnapshotCache) Option {
	return func(p *Publisher) { p.cache = c }
}

// WithMirror forwards published records to m. Mirror failures never fail a cycle.
func WithMirror(m Mirror) Option {
	return func(p *Publisher) { p.mirror = m }
}

// New creates a Publisher. If paths.Snapshot is empty the registry file is rewritten in place.
func New(paths Paths, files TableStore, cell weather.Cell, noise Noise, opts ...Option) *Publisher {
	if paths.Snapshot == "" {
		paths.Snapshot = paths.Registry
	}
	p := &Publisher{
		paths: paths,
		files: files,
		cell:  cell,
		noise: noise,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish runs one cycle: read the registry, apply the ground truth and noise,
// and replace the snapshot and both partition files.
func (p *Publisher) Publish(ctx context.Context) (Result, error) {
	cycleID := uuid.NewString()

	table, err := p.files.ReadTable(p.paths.Registry)
	if err != nil {
		log.Printf("ERROR: publish %s: reading registry %s: %v", cycleID, p.paths.Registry, err)
		return Result{CycleID: cycleID}, fmt.Errorf("%w: %v", ErrRegistryRead, err)
	}

	// One load per cycle: every record is derived from the same snapshot.
	gt := p.cell.Load()
	if gt == nil {
		log.Printf("INFO: publish %s: no ground truth yet; skipping cycle", cycleID)
		return Result{CycleID: cycleID}, ErrNoGroundTruth
	}

	records := make([]sensors.Record, len(table.Records))
	for i, rec := range table.Records {
		records[i] = rec.WithTemperature(gt.Value, p.noise.Apply(gt.Value))
	}
	first, second := sensors.Split(records)

	outputs := []struct {
		path    string
		records []sensors.Record
	}{
		{p.paths.Snapshot, records},
		{p.paths.Partition1, first},
		{p.paths.Partition2, second},
	}
	for _, out := range outputs {
		t := sensors.Table{IDColumn: table.IDColumn, Records: out.records}
		if err := p.files.WriteTable(out.path, t); err != nil {
			log.Printf("ERROR: publish %s: writing %s: %v", cycleID, out.path, err)
			return Result{CycleID: cycleID}, fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
		}
	}

	res := Result{
		CycleID:     cycleID,
		GroundTruth: gt.Value,
		Records:     len(records),
		Partition1:  len(first),
		Partition2:  len(second),
	}
	log.Printf("INFO: publish %s: wrote %d records (%d/%d) at %.2f°C",
		cycleID, res.Records, res.Partition1, res.Partition2, gt.Value)

	if p.cache != nil {
		p.cache.Save(store.Published{
			CycleID:     cycleID,
			PublishedAt: p.now(),
			GroundTruth: gt.Value,
			Records:     records,
			Partition1:  first,
			Partition2:  second,
		})
	}
	if p.mirror != nil {
		mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		if err := p.mirror.Mirror(mctx, cycleID, records); err != nil {
			log.Printf("ERROR: publish %s: mirror: %v", cycleID, err)
		}
		cancel()
	}

	return res, nil
}
