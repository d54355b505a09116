package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobPayload is the producer->queue contract. The struct is closed: decoding
// through ParsePayload drops any extra fields a producer may attach, so the
// persisted job carries exactly the canonical five.
type JobPayload struct {
	AssetID     string    `json:"assetId"`
	OwnerID     string    `json:"ownerId"`
	SourceURL   string    `json:"sourceUrl"`
	Category    string    `json:"category"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// ParsePayload decodes and validates a raw producer payload.
func ParsePayload(raw []byte) (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return JobPayload{}, fmt.Errorf("decode job payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return JobPayload{}, err
	}
	return p, nil
}

// Validate checks that every required field is present.
func (p JobPayload) Validate() error {
	switch {
	case p.AssetID == "":
		return &MissingFieldError{Field: "assetId"}
	case p.OwnerID == "":
		return &MissingFieldError{Field: "ownerId"}
	case p.SourceURL == "":
		return &MissingFieldError{Field: "sourceUrl"}
	case p.Category == "":
		return &MissingFieldError{Field: "category"}
	case p.SubmittedAt.IsZero():
		return &MissingFieldError{Field: "submittedAt"}
	}
	return nil
}
