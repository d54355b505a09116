package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/BossHoder/kollector/internal/models"
)

// Error is a classified recognition failure. Retryable failures (5xx,
// timeouts, connection errors) are rescheduled by the queue; everything else
// is terminal and short-circuits remaining attempts.
type Error struct {
	StatusCode int
	Retryable  bool
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("recognition service: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("recognition service: %s", e.Message)
}

// IsRetryable reports whether err should be handed back to the queue for
// another attempt. Unclassified errors default to retryable: only an explicit
// 4xx marks a job terminal on its first attempt.
func IsRetryable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Retryable
	}
	return true
}

// Result is the normalized recognition outcome.
type Result struct {
	Analysis          models.AnalysisResult
	ProcessedImageURL *string
}

// Client calls the external recognition service with a bounded timeout.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client. The timeout bounds the whole request including
// body read; zero means the 90s default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	SourceURL string `json:"sourceUrl"`
	Category  string `json:"category"`
}

// Analyze submits one image URL for recognition and returns the normalized
// result.
func (c *Client) Analyze(ctx context.Context, sourceURL, category string) (*Result, error) {
	body, err := json.Marshal(analyzeRequest{SourceURL: sourceURL, Category: category})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode >= 500,
			Message:    http.StatusText(resp.StatusCode),
		}
	}

	var raw rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &Error{Retryable: false, Message: fmt.Sprintf("invalid response body: %v", err)}
	}
	return normalize(raw)
}

// classifyTransportError maps network-level failures onto the retryable
// error shape so callers never re-inspect the transport layer.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Retryable: true, Message: fmt.Sprintf("request timed out: %v", err)}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Retryable: true, Message: fmt.Sprintf("request timed out: %v", err)}
	}
	return &Error{Retryable: true, Message: fmt.Sprintf("request failed: %v", err)}
}
