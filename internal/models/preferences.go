package models

// DefaultBatchSize is used when no stored preference exists.
const DefaultBatchSize = 5

// Preferences is the only durable client-side state: the batch size slider
// and the auto-optimize toggle.
type Preferences struct {
	BatchSize    int  `json:"batchSize"`
	AutoOptimize bool `json:"autoOptimize"`
}

// DefaultPreferences returns the preferences used on first start.
func DefaultPreferences() Preferences {
	return Preferences{BatchSize: DefaultBatchSize, AutoOptimize: true}
}
