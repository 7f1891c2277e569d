package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ocr-batch/dashboard/internal/models"
	"github.com/ocr-batch/dashboard/internal/submit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "metrics", "metrics.duckdb"), HistoryOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistory_InsertRecentSummary(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()

	_, err := os.Stat(h.Path())
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, h.Insert(ctx, sample(i)))
	}

	recent, err := h.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "batch-3", recent[0].BatchID)
	assert.Equal(t, "batch-4", recent[1].BatchID)
	assert.Equal(t, sample(4).Timestamp.UnixMilli(), recent[1].Timestamp.UnixMilli())
	assert.Equal(t, 4, recent[1].FileCount)

	sum, err := h.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.TotalBatches)
	assert.Equal(t, 10, sum.TotalFiles)
	assert.Equal(t, 4, sum.TotalErrors)
	assert.InDelta(t, 2.5, sum.AvgProcessingTimeSec, 1e-9)
}

func TestHistory_EmptySummary(t *testing.T) {
	h := openTestHistory(t)
	sum, err := h.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.MetricsSummary{}, sum)
}

func TestHistory_ReopenKeepsSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.duckdb")
	h, err := OpenHistory(path, HistoryOptions{Threads: 1, MemoryLimit: "128MB"})
	require.NoError(t, err)
	require.NoError(t, h.Insert(context.Background(), sample(1)))
	require.NoError(t, h.Close())

	h, err = OpenHistory(path, HistoryOptions{})
	require.NoError(t, err)
	defer h.Close()
	recent, err := h.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "batch-1", recent[0].BatchID)
}

func TestRecorder(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()
	require.NoError(t, h.Insert(ctx, sample(1)))
	require.NoError(t, h.Insert(ctx, sample(2)))

	snap := &models.ResourceSnapshot{CPUPercent: 55}
	rec := NewRecorder(NewRing(5), h, func() *models.ResourceSnapshot { return snap })

	n, err := rec.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, rec.Ring().Len())

	s := rec.RecordBatch(submit.BatchResult{BatchID: "b-3", Included: []string{"x"}})
	assert.Equal(t, 55.0, s.AvgCPUPercent)
	assert.Equal(t, 1, s.FileCount)
	assert.Equal(t, 3, rec.Ring().Len())
	assert.Equal(t, 3, rec.Summary().TotalBatches)

	recent, err := h.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	all, ok, err := rec.AllTime(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, all.TotalBatches)
}

func TestRecorder_WithoutHistory(t *testing.T) {
	rec := NewRecorder(NewRing(2), nil, nil)
	n, err := rec.Restore(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	rec.RecordBatch(submit.BatchResult{RequestID: "r1"})
	rec.RecordBatch(submit.BatchResult{RequestID: "r2"})
	rec.RecordBatch(submit.BatchResult{RequestID: "r3"})
	samples := rec.Ring().Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, "r2", samples[0].BatchID)

	_, ok, err := rec.AllTime(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
