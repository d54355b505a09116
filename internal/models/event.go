package models

import (
	"time"
)

// EventAssetProcessed is the event name clients subscribe to.
const EventAssetProcessed = "asset_processed"

const genericFailureMessage = "Asset processing failed"

// CompletionEvent is the wire payload delivered to the owning identity's open
// connections when a job reaches a terminal outcome. It is a tagged union:
// status "active" carries the analysis result, status "failed" carries an
// error message.
type CompletionEvent struct {
	Event             string          `json:"event"`
	AssetID           string          `json:"assetId"`
	Status            string          `json:"status"`
	AnalysisResult    *AnalysisResult `json:"analysisResult,omitempty"`
	ProcessedImageURL *string         `json:"processedImageUrl,omitempty"`
	Error             string          `json:"error,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}

// NewSuccessEvent builds the status=active completion payload.
func NewSuccessEvent(assetID string, result *AnalysisResult, processedURL *string) CompletionEvent {
	return CompletionEvent{
		Event:             EventAssetProcessed,
		AssetID:           assetID,
		Status:            AssetStatusActive,
		AnalysisResult:    result,
		ProcessedImageURL: processedURL,
		Timestamp:         time.Now().UTC(),
	}
}

// NewFailureEvent builds the status=failed completion payload. An empty
// message falls back to a generic one so clients always have something to show.
func NewFailureEvent(assetID, message string) CompletionEvent {
	if message == "" {
		message = genericFailureMessage
	}
	return CompletionEvent{
		Event:     EventAssetProcessed,
		AssetID:   assetID,
		Status:    AssetStatusFailed,
		Error:     message,
		Timestamp: time.Now().UTC(),
	}
}
