package jobs

import "time"

// RetryScanPayload is the task payload of one retry-scheduler tick. The
// handler decodes it but applies none of its fields; every tick uses the
// worker's configured settings. The same holds for the payloads below.
type RetryScanPayload struct {
	BatchSize int `json:"batchSize,omitempty"`
}

// StuckScanPayload is the task payload of one stuck-detector pass
type StuckScanPayload struct {
	Threshold time.Duration `json:"threshold,omitempty"`
	DryRun    bool          `json:"dryRun,omitempty"`
}

// RetentionPayload is the task payload of one retention cleanup pass
type RetentionPayload struct {
	BatchSize int  `json:"batchSize,omitempty"`
	DryRun    bool `json:"dryRun,omitempty"`
}
