package weather

import (
	"math"
	"time"
)

// Reading is a single provider observation normalized to degrees Celsius.
type Reading struct {
	ProviderName string
	Query        string
	TemperatureC float64
	ObservedAt   time.Time
}

// GroundTruth is the authoritative temperature shared by every simulated sensor.
// Values are immutable once created; the state cell swaps whole snapshots.
type GroundTruth struct {
	Value     float64   `json:"value"`
	FetchedAt time.Time `json:"fetchedAt"` // always UTC
	// ObservedAt is the provider's own observation time.
	ObservedAt time.Time `json:"observedAt"`
	Provider   string    `json:"provider"`
	Query      string    `json:"query"`
}

// IsFinite reports whether v can be used as a ground-truth value.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
