package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/ocr-batch/dashboard/internal/models"
	"github.com/ocr-batch/dashboard/internal/submit"
)

// Recorder appends samples to the in-memory ring and, when configured, to
// the persistent history.
type Recorder struct {
	ring    *Ring
	history *History
	latest  func() *models.ResourceSnapshot
	now     func() time.Time
}

// NewRecorder creates a recorder. history and latest may be nil.
func NewRecorder(ring *Ring, history *History, latest func() *models.ResourceSnapshot) *Recorder {
	return &Recorder{ring: ring, history: history, latest: latest, now: time.Now}
}

// Ring returns the in-memory ring.
func (r *Recorder) Ring() *Ring {
	return r.ring
}

// Restore loads the most recent persisted samples into the ring.
func (r *Recorder) Restore(ctx context.Context) (int, error) {
	if r.history == nil {
		return 0, nil
	}
	samples, err := r.history.Recent(ctx, r.ring.Capacity())
	if err != nil {
		return 0, err
	}
	for _, s := range samples {
		r.ring.Append(s)
	}
	return len(samples), nil
}

// Record appends a sample. A history write failure is logged and does not
// affect the ring.
func (r *Recorder) Record(ctx context.Context, s models.BatchMetricSample) {
	r.ring.Append(s)
	if r.history == nil {
		return
	}
	if err := r.history.Insert(ctx, s); err != nil {
		fmt.Printf("[Metrics] history write failed for %s: %v\n", s.BatchID, err)
	}
}

// RecordBatch builds a sample from a completed submission and records it.
func (r *Recorder) RecordBatch(res submit.BatchResult) models.BatchMetricSample {
	var snap *models.ResourceSnapshot
	if r.latest != nil {
		snap = r.latest()
	}
	s := FromBatch(res, snap, r.now())
	r.Record(context.Background(), s)
	fmt.Printf("[Metrics] batch %s: %d files in %.2fs\n", s.BatchID, s.FileCount, s.ProcessingTimeSec)
	return s
}

// Summary aggregates the in-memory samples.
func (r *Recorder) Summary() models.MetricsSummary {
	return r.ring.Summary()
}

// AllTime aggregates every persisted sample. ok is false without a history
// database.
func (r *Recorder) AllTime(ctx context.Context) (sum models.MetricsSummary, ok bool, err error) {
	if r.history == nil {
		return models.MetricsSummary{}, false, nil
	}
	sum, err = r.history.Summary(ctx)
	if err != nil {
		return models.MetricsSummary{}, true, err
	}
	return sum, true, nil
}
