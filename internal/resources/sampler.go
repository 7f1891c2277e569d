// Package resources samples backend resource telemetry on a fixed interval.
package resources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ocr-batch/dashboard/internal/models"
)

// DefaultInterval is the sampling period used when none is configured.
const DefaultInterval = 2 * time.Second

// Fetcher retrieves one resource snapshot from the backend.
type Fetcher interface {
	GetResources(ctx context.Context) (models.ResourceSnapshot, error)
}

// Sampler keeps the latest resource snapshot. A failed fetch keeps the
// previous snapshot and raises the failing flag until a fetch succeeds.
type Sampler struct {
	fetcher  Fetcher
	interval time.Duration

	mu          sync.RWMutex
	latest      models.ResourceSnapshot
	hasLatest   bool
	lastErr     error
	consecutive int
}

// NewSampler creates a sampler. A zero interval uses DefaultInterval.
func NewSampler(fetcher Fetcher, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{fetcher: fetcher, interval: interval}
}

// Interval returns the sampling period.
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// Sample fetches one snapshot. On failure the previous snapshot is retained
// and the error is returned to the caller.
func (s *Sampler) Sample(ctx context.Context) (models.ResourceSnapshot, error) {
	snap, err := s.fetcher.GetResources(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.lastErr = err
		s.consecutive++
		return s.latest, err
	}
	if snap.SampledAt.IsZero() {
		snap.SampledAt = time.Now()
	}
	s.latest = snap
	s.hasLatest = true
	s.lastErr = nil
	s.consecutive = 0
	return snap, nil
}

// Latest returns the last successful snapshot, whether one exists, and
// whether the most recent fetch failed.
func (s *Sampler) Latest() (snap models.ResourceSnapshot, ok bool, failing bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest, s.lastErr != nil
}

// LastError returns the error of the most recent fetch, or nil.
func (s *Sampler) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// ConsecutiveFailures returns the number of failed fetches since the last success.
func (s *Sampler) ConsecutiveFailures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consecutive
}

// Run samples immediately and then every interval until ctx is done.
// onSample (optional) is called after every attempt; a panic inside it is
// recovered so the loop keeps running.
func (s *Sampler) Run(ctx context.Context, onSample func(models.ResourceSnapshot, error)) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx, onSample)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, onSample)
		}
	}
}

func (s *Sampler) tick(ctx context.Context, onSample func(models.ResourceSnapshot, error)) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[Resources] PANIC recovered in sample callback: %v\n", r)
		}
	}()

	snap, err := s.Sample(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil {
		if n := s.ConsecutiveFailures(); n == 1 || n%30 == 0 {
			fmt.Printf("[Resources] sample failed (%d consecutive): %v\n", n, err)
		}
	}
	if onSample != nil {
		onSample(snap, err)
	}
}
