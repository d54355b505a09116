package models

import (
	"time"
)

// Asset lifecycle statuses persisted in Postgres. The pipeline only ever
// writes active and failed, and only over processing; partial and archived
// belong to the collection-management side and must survive untouched.
const (
	AssetStatusDraft      = "draft"
	AssetStatusProcessing = "processing"
	AssetStatusActive     = "active"
	AssetStatusFailed     = "failed"
	AssetStatusPartial    = "partial"
	AssetStatusArchived   = "archived"
)

// AssetImages holds the source image URL and, once analysis produced one,
// the processed image URL.
type AssetImages struct {
	Original  string  `json:"original"`
	Processed *string `json:"processed,omitempty"`
}

// Asset is a collectible item submitted for recognition.
type Asset struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Status          string          `json:"status"`
	Category        string          `json:"category"`
	Images          AssetImages     `json:"images"`
	AnalysisResult  *AnalysisResult `json:"analysis_result,omitempty"`
	ProcessingJobID *string         `json:"processing_job_id,omitempty"`
	LastError       *string         `json:"last_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ConfidenceField pairs a recognized value with the service's confidence.
// Responses that carry bare strings are normalized into this form with a
// synthesized confidence before anything downstream sees them.
type ConfidenceField struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// AnalysisResult is the normalized recognition outcome. Colorway is omitted
// from wire payloads entirely when the service did not return one.
type AnalysisResult struct {
	Brand    *ConfidenceField `json:"brand"`
	Model    *ConfidenceField `json:"model"`
	Colorway *ConfidenceField `json:"colorway,omitempty"`
}
