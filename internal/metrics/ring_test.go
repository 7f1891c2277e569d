package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/ocr-batch/dashboard/internal/backend"
	"github.com/ocr-batch/dashboard/internal/models"
	"github.com/ocr-batch/dashboard/internal/submit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(i int) models.BatchMetricSample {
	return models.BatchMetricSample{
		BatchID:              fmt.Sprintf("batch-%d", i),
		Timestamp:            time.Unix(int64(1700000000+i), 0),
		FileCount:            i,
		AvgCPUPercent:        float64(i * 10),
		AvgMemoryMB:          100,
		ProcessingTimeSec:    float64(i),
		ErrorCount:           1,
		AvgConfidencePercent: 90,
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing(3)
	assert.Equal(t, 3, r.Capacity())
	assert.Empty(t, r.Samples())

	for i := 1; i <= 5; i++ {
		r.Append(sample(i))
	}
	assert.Equal(t, 3, r.Len())

	got := r.Samples()
	require.Len(t, got, 3)
	assert.Equal(t, "batch-3", got[0].BatchID)
	assert.Equal(t, "batch-4", got[1].BatchID)
	assert.Equal(t, "batch-5", got[2].BatchID)
}

func TestRing_Reset(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		r.Append(sample(i))
	}
	assert.Equal(t, 3, r.Reset())
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Samples())
	assert.Equal(t, models.MetricsSummary{}, r.Summary())

	r.Append(sample(6))
	got := r.Samples()
	require.Len(t, got, 1)
	assert.Equal(t, "batch-6", got[0].BatchID)
	assert.Equal(t, 1, r.Reset())
	assert.Zero(t, NewRing(2).Reset())
}

func TestRing_DefaultCapacity(t *testing.T) {
	r := NewRing(0)
	assert.Equal(t, DefaultCapacity, r.Capacity())
	for i := 0; i < DefaultCapacity+7; i++ {
		r.Append(sample(i))
	}
	assert.Equal(t, DefaultCapacity, r.Len())
	assert.Equal(t, "batch-7", r.Samples()[0].BatchID)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, models.MetricsSummary{}, Summarize(nil))

	r := NewRing(10)
	r.Append(sample(1))
	r.Append(sample(3))

	sum := r.Summary()
	assert.Equal(t, 2, sum.TotalBatches)
	assert.Equal(t, 4, sum.TotalFiles)
	assert.Equal(t, 2, sum.TotalErrors)
	assert.InDelta(t, 2.0, sum.AvgProcessingTimeSec, 1e-9)
	assert.InDelta(t, 20.0, sum.AvgCPUPercent, 1e-9)
	assert.InDelta(t, 100.0, sum.AvgMemoryMB, 1e-9)
	assert.InDelta(t, 90.0, sum.AvgConfidencePercent, 1e-9)
}

func TestFromBatch(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := &models.ResourceSnapshot{CPUPercent: 42, MemoryPercent: 70}

	t.Run("backend values win", func(t *testing.T) {
		res := submit.BatchResult{
			RequestID: "req",
			BatchID:   "BATCH_20250102_1",
			Included:  []string{"a", "b", "c"},
			Elapsed:   5 * time.Second,
			Info: backend.BatchInfo{
				ProcessedCount:    2,
				ErrorCount:        1,
				AvgConfidence:     0.875,
				MemoryUsageMB:     512,
				ProcessingTimeSec: 3.5,
			},
		}
		s := FromBatch(res, snap, now)
		assert.Equal(t, "BATCH_20250102_1", s.BatchID)
		assert.Equal(t, now, s.Timestamp)
		assert.Equal(t, 2, s.FileCount)
		assert.Equal(t, 42.0, s.AvgCPUPercent)
		assert.Equal(t, 512.0, s.AvgMemoryMB)
		assert.Equal(t, 3.5, s.ProcessingTimeSec)
		assert.Equal(t, 1, s.ErrorCount)
		assert.InDelta(t, 87.5, s.AvgConfidencePercent, 1e-9)
	})

	t.Run("fallbacks", func(t *testing.T) {
		res := submit.BatchResult{
			RequestID: "req-7",
			Included:  []string{"a", "b"},
			Elapsed:   1500 * time.Millisecond,
			Info:      backend.BatchInfo{ProcessingTimeTotal: 0, AvgConfidence: 93},
		}
		s := FromBatch(res, nil, now)
		assert.Equal(t, "req-7", s.BatchID)
		assert.Equal(t, 2, s.FileCount)
		assert.Equal(t, 0.0, s.AvgCPUPercent)
		assert.InDelta(t, 1.5, s.ProcessingTimeSec, 1e-9)
		assert.Equal(t, 93.0, s.AvgConfidencePercent)
	})

	t.Run("legacy processing time key", func(t *testing.T) {
		res := submit.BatchResult{Info: backend.BatchInfo{ProcessingTimeTotal: 9}}
		s := FromBatch(res, nil, now)
		assert.Equal(t, 9.0, s.ProcessingTimeSec)
		assert.NotEmpty(t, s.BatchID)
	})
}
