package models

import "time"

// BatchMetricSample summarizes one completed batch. Samples are immutable once created.
type BatchMetricSample struct {
	BatchID              string    `json:"batchId" msgpack:"batchId"`
	Timestamp            time.Time `json:"timestamp" msgpack:"timestamp"`
	FileCount            int       `json:"fileCount" msgpack:"fileCount"`
	AvgCPUPercent        float64   `json:"avgCpuPercent" msgpack:"avgCpuPercent"`
	AvgMemoryMB          float64   `json:"avgMemoryMb" msgpack:"avgMemoryMb"`
	ProcessingTimeSec    float64   `json:"processingTimeSec" msgpack:"processingTimeSec"`
	ErrorCount           int       `json:"errorCount" msgpack:"errorCount"`
	AvgConfidencePercent float64   `json:"avgConfidencePercent" msgpack:"avgConfidencePercent"`
}

// MetricsSummary aggregates a set of batch samples.
type MetricsSummary struct {
	TotalBatches         int     `json:"totalBatches" msgpack:"totalBatches"`
	TotalFiles           int     `json:"totalFiles" msgpack:"totalFiles"`
	TotalErrors          int     `json:"totalErrors" msgpack:"totalErrors"`
	AvgProcessingTimeSec float64 `json:"avgProcessingTimeSec" msgpack:"avgProcessingTimeSec"`
	AvgCPUPercent        float64 `json:"avgCpuPercent" msgpack:"avgCpuPercent"`
	AvgMemoryMB          float64 `json:"avgMemoryMb" msgpack:"avgMemoryMb"`
	AvgConfidencePercent float64 `json:"avgConfidencePercent" msgpack:"avgConfidencePercent"`
}
