// Package metrics keeps per-batch performance samples for charting.
package metrics

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ocr-batch/dashboard/internal/models"
	"github.com/ocr-batch/dashboard/internal/submit"
)

// DefaultCapacity is the number of samples kept in memory.
const DefaultCapacity = 50

// Ring is a bounded FIFO of batch samples. The oldest sample is evicted once
// the ring is full.
type Ring struct {
	mu      sync.RWMutex
	samples []models.BatchMetricSample
	start   int
	count   int
}

// NewRing creates a ring. A non-positive capacity uses DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{samples: make([]models.BatchMetricSample, capacity)}
}

// Capacity returns the maximum number of samples held.
func (r *Ring) Capacity() int {
	return len(r.samples)
}

// Append adds a sample, evicting the oldest when full.
func (r *Ring) Append(s models.BatchMetricSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.count) % len(r.samples)
	r.samples[idx] = s
	if r.count < len(r.samples) {
		r.count++
		return
	}
	r.start = (r.start + 1) % len(r.samples)
}

// Reset drops every held sample and returns how many were dropped.
func (r *Ring) Reset() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.count
	for i := range r.samples {
		r.samples[i] = models.BatchMetricSample{}
	}
	r.start, r.count = 0, 0
	return n
}

// Len returns the number of samples held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Samples returns the held samples from oldest to newest.
func (r *Ring) Samples() []models.BatchMetricSample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.BatchMetricSample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.samples[(r.start+i)%len(r.samples)]
	}
	return out
}

// Summary aggregates the held samples.
func (r *Ring) Summary() models.MetricsSummary {
	return Summarize(r.Samples())
}

// Summarize aggregates a set of samples. Averages are zero for an empty set.
func Summarize(samples []models.BatchMetricSample) models.MetricsSummary {
	var sum models.MetricsSummary
	if len(samples) == 0 {
		return sum
	}
	for _, s := range samples {
		sum.TotalFiles += s.FileCount
		sum.TotalErrors += s.ErrorCount
		sum.AvgProcessingTimeSec += s.ProcessingTimeSec
		sum.AvgCPUPercent += s.AvgCPUPercent
		sum.AvgMemoryMB += s.AvgMemoryMB
		sum.AvgConfidencePercent += s.AvgConfidencePercent
	}
	n := float64(len(samples))
	sum.TotalBatches = len(samples)
	sum.AvgProcessingTimeSec /= n
	sum.AvgCPUPercent /= n
	sum.AvgMemoryMB /= n
	sum.AvgConfidencePercent /= n
	return sum
}

// FromBatch builds a sample for a completed submission. Values reported by
// the backend win; the resource snapshot and the measured elapsed time fill
// in what the backend leaves out.
func FromBatch(res submit.BatchResult, snap *models.ResourceSnapshot, now time.Time) models.BatchMetricSample {
	id := res.BatchID
	if id == "" {
		id = res.RequestID
	}
	if id == "" {
		id = uuid.New().String()
	}

	files := res.Info.ProcessedCount
	if files == 0 {
		files = len(res.Included)
	}

	processing := res.Info.ProcessingTime()
	if processing == 0 {
		processing = res.Elapsed.Seconds()
	}

	confidence := res.Info.AvgConfidence
	if confidence > 0 && confidence <= 1 {
		confidence *= 100
	}

	s := models.BatchMetricSample{
		BatchID:              id,
		Timestamp:            now,
		FileCount:            files,
		AvgMemoryMB:          res.Info.MemoryUsageMB,
		ProcessingTimeSec:    processing,
		ErrorCount:           res.Info.ErrorCount,
		AvgConfidencePercent: confidence,
	}
	if snap != nil {
		s.AvgCPUPercent = snap.CPUPercent
	}
	return s
}
