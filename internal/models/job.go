package models

import (
	"time"
)

// Job states tracked by the queue.
const (
	JobStateWaiting   = "waiting"
	JobStateActive    = "active"
	JobStateDelayed   = "delayed"
	JobStateCompleted = "completed"
	JobStateFailed    = "failed"
)

// AnalysisJob is one unit of queued recognition work. The payload fields are
// fixed by the producer contract: nothing beyond the five canonical fields is
// accepted on enqueue.
type AnalysisJob struct {
	ID          string    `json:"id"`
	AssetID     string    `json:"asset_id"`
	OwnerID     string    `json:"owner_id"`
	SourceURL   string    `json:"source_url"`
	Category    string    `json:"category"`
	SubmittedAt time.Time `json:"submitted_at"`
	Attempt     int       `json:"attempt"`
	LastError   string    `json:"last_error,omitempty"`
}
