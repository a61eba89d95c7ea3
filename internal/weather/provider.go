package weather

import (
	"context"
)

// Provider abstracts the external weather source for the fixed location query.
type Provider interface {
	Name() string
	Fetch(ctx context.Context) (Reading, error)
}

// Cell is the contract the shared ground-truth holder must satisfy.
// Load returns nil while no successful fetch has happened.
type Cell interface {
	Load() *GroundTruth
	Store(gt *GroundTruth)
}
