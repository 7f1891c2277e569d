// Package advisor recommends batch sizes from backend resource telemetry.
package advisor

import (
	"fmt"

	"github.com/ocr-batch/dashboard/internal/models"
)

// DefaultMaxBatchSize caps every recommendation unless configured otherwise.
const DefaultMaxBatchSize = 20

// Thresholds of the hysteresis band. Between LowWater and HighWater the
// current size is kept, so readings hovering near a boundary never oscillate.
const (
	HighWaterPercent = 80.0
	LowWaterPercent  = 50.0
	QuietQueueLength = 5
)

// Resize factors in percent. Sizes are floored in integer arithmetic.
const (
	ShrinkPercent = 70
	GrowPercent   = 120
)

// Direction describes which branch of the advice applies to a sample.
type Direction string

const (
	Shrink Direction = "shrink"
	Grow   Direction = "grow"
	Hold   Direction = "hold"
)

// Advisor maps resource samples to batch sizes in [1, MaxBatchSize].
type Advisor struct {
	MaxBatchSize int
}

// New returns an advisor capped at maxBatchSize (DefaultMaxBatchSize when <= 0).
func New(maxBatchSize int) Advisor {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return Advisor{MaxBatchSize: maxBatchSize}
}

// Direction classifies a sample.
func (a Advisor) Direction(s models.ResourceSnapshot) Direction {
	switch {
	case s.CPUPercent > HighWaterPercent || s.MemoryPercent > HighWaterPercent:
		return Shrink
	case s.CPUPercent < LowWaterPercent && s.MemoryPercent < LowWaterPercent && s.QueueTotal() < QuietQueueLength:
		return Grow
	}
	return Hold
}

// Advise returns the recommended batch size given the current one.
func (a Advisor) Advise(current int, s models.ResourceSnapshot) int {
	current = a.clamp(current)
	switch a.Direction(s) {
	case Shrink:
		return a.clamp(current * ShrinkPercent / 100)
	case Grow:
		return a.clamp(current * GrowPercent / 100)
	}
	return current
}

// AdviseFromFileCount is the selection-time heuristic used before any
// telemetry exists: a quarter of the selected files.
func (a Advisor) AdviseFromFileCount(fileCount int) int {
	return a.clamp(fileCount / 4)
}

// Message describes an automatic adjustment for display.
func (a Advisor) Message(newSize int, s models.ResourceSnapshot) string {
	msg := fmt.Sprintf("Batch size adjusted automatically to %d ", newSize)
	if a.Direction(s) == Shrink {
		return msg + fmt.Sprintf("(reduced due to high system load: CPU %.1f%%, RAM %.1f%%)", s.CPUPercent, s.MemoryPercent)
	}
	return msg + "(increased, resources available)"
}

func (a Advisor) clamp(n int) int {
	max := a.MaxBatchSize
	if max <= 0 {
		max = DefaultMaxBatchSize
	}
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}
