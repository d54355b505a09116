package recognition

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BossHoder/kollector/internal/models"
)

// Default confidences synthesized when the service returns bare strings.
const (
	defaultBrandConfidence    = 0.8
	defaultModelConfidence    = 0.8
	defaultColorwayConfidence = 0.7
)

// rawResponse mirrors the service's loose wire shape: brand/model/colorway
// are either bare strings or {value, confidence} objects, and the processed
// image field arrives in either spelling.
type rawResponse struct {
	Brand    json.RawMessage `json:"brand"`
	Model    json.RawMessage `json:"model"`
	Colorway json.RawMessage `json:"colorway"`

	ProcessedImageURL      *string `json:"processedImageUrl"`
	ProcessedImageURLSnake *string `json:"processed_image_url"`
}

// normalize converts the loose response into the canonical pair form. An
// unrecognized field shape is an explicit error, never a silent default.
func normalize(raw rawResponse) (*Result, error) {
	brand, err := parseField("brand", raw.Brand, defaultBrandConfidence)
	if err != nil {
		return nil, err
	}
	model, err := parseField("model", raw.Model, defaultModelConfidence)
	if err != nil {
		return nil, err
	}
	colorway, err := parseField("colorway", raw.Colorway, defaultColorwayConfidence)
	if err != nil {
		return nil, err
	}

	processed := raw.ProcessedImageURL
	if processed == nil {
		processed = raw.ProcessedImageURLSnake
	}

	return &Result{
		Analysis: models.AnalysisResult{
			Brand:    brand,
			Model:    model,
			Colorway: colorway,
		},
		ProcessedImageURL: processed,
	}, nil
}

// parseField handles the tagged union: absent/null -> nil, bare string ->
// pair with a synthesized confidence, object -> pair as-is.
func parseField(name string, raw json.RawMessage, defaultConfidence float64) (*models.ConfidenceField, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '"':
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, &Error{Message: fmt.Sprintf("field %s: %v", name, err)}
		}
		if value == "" {
			return nil, nil
		}
		return &models.ConfidenceField{Value: value, Confidence: defaultConfidence}, nil
	case '{':
		var field models.ConfidenceField
		if err := json.Unmarshal(raw, &field); err != nil {
			return nil, &Error{Message: fmt.Sprintf("field %s: %v", name, err)}
		}
		if field.Value == "" {
			return nil, &Error{Message: fmt.Sprintf("field %s: object form missing value", name)}
		}
		return &field, nil
	default:
		return nil, &Error{Message: fmt.Sprintf("field %s: unrecognized shape %s", name, string(raw))}
	}
}
