package weather

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrNonFiniteValue is returned when a provider reports NaN or an infinite temperature.
var ErrNonFiniteValue = errors.New("non-finite temperature")

// Service keeps the shared ground truth up to date from a single provider.
type Service struct {
	provider Provider
	cell     Cell
	now      func() time.Time
}

// NewService creates a new Service.
func NewService(provider Provider, cell Cell) *Service {
	return &Service{
		provider: provider,
		cell:     cell,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Refresh issues one provider request and, on success, replaces the ground truth.
// Failures are logged and leave the previous ground truth in place; the error is
// returned for callers that want to observe it but is never fatal.
func (s *Service) Refresh(ctx context.Context) error {
	log.Printf("INFO: ground truth: fetching from %s", s.provider.Name())

	r, err := s.provider.Fetch(ctx)
	if err != nil {
		log.Printf("ERROR: ground truth: provider %s failed: %v; keeping last good value", s.provider.Name(), err)
		return fmt.Errorf("refresh from %s: %w", s.provider.Name(), err)
	}
	if !IsFinite(r.TemperatureC) {
		log.Printf("ERROR: ground truth: provider %s returned %v; keeping last good value", s.provider.Name(), r.TemperatureC)
		return fmt.Errorf("refresh from %s: %w", s.provider.Name(), ErrNonFiniteValue)
	}

	fetchedAt := s.now()
	if prev := s.cell.Load(); prev != nil && fetchedAt.Before(prev.FetchedAt) {
		fetchedAt = prev.FetchedAt
	}

	s.cell.Store(&GroundTruth{
		Value:      r.TemperatureC,
		FetchedAt:  fetchedAt,
		ObservedAt: r.ObservedAt,
		Provider:   r.ProviderName,
		Query:      r.Query,
	})
	log.Printf("INFO: ground truth: updated to %.2f°C from %s", r.TemperatureC, r.ProviderName)
	return nil
}

// Latest returns the current ground truth, or nil if none has been fetched yet.
func (s *Service) Latest() *GroundTruth {
	return s.cell.Load()
}
