package models

import "time"

// ResourceSnapshot is one sample of backend resource telemetry.
type ResourceSnapshot struct {
	CPUPercent      float64   `json:"cpuPercent" msgpack:"cpuPercent"`
	MemoryPercent   float64   `json:"memoryPercent" msgpack:"memoryPercent"`
	QueueInbox      int       `json:"queueInbox" msgpack:"queueInbox"`
	QueueProcessing int       `json:"queueProcessing" msgpack:"queueProcessing"`
	SampledAt       time.Time `json:"sampledAt" msgpack:"sampledAt"`
}

// QueueTotal is the number of items waiting or being processed by the backend.
func (s ResourceSnapshot) QueueTotal() int {
	return s.QueueInbox + s.QueueProcessing
}
