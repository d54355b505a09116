package recognition_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BossHoder/kollector/internal/recognition"
)

func analyzeServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func respondJSON(t *testing.T, w http.ResponseWriter, body string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func TestAnalyze_BareStringsGetDefaultConfidences(t *testing.T) {
	srv := analyzeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/analyze", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://x/a.jpg", req["sourceUrl"])
		assert.Equal(t, "sneaker", req["category"])

		respondJSON(t, w, `{"brand":"Nike","model":"Air Jordan 1","colorway":"Chicago"}`)
	})
	defer srv.Close()

	c := recognition.NewClient(srv.URL, 5*time.Second)
	res, err := c.Analyze(context.Background(), "https://x/a.jpg", "sneaker")
	require.NoError(t, err)

	require.NotNil(t, res.Analysis.Brand)
	assert.Equal(t, "Nike", res.Analysis.Brand.Value)
	assert.Equal(t, 0.8, res.Analysis.Brand.Confidence)
	require.NotNil(t, res.Analysis.Model)
	assert.Equal(t, "Air Jordan 1", res.Analysis.Model.Value)
	assert.Equal(t, 0.8, res.Analysis.Model.Confidence)
	require.NotNil(t, res.Analysis.Colorway)
	assert.Equal(t, "Chicago", res.Analysis.Colorway.Value)
	assert.Equal(t, 0.7, res.Analysis.Colorway.Confidence)
	assert.Nil(t, res.ProcessedImageURL)
}

func TestAnalyze_PairFormPassesThrough(t *testing.T) {
	srv := analyzeServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, `{
			"brand": {"value":"Adidas","confidence":0.93},
			"model": {"value":"Samba","confidence":0.88},
			"processedImageUrl": "https://x/p.jpg"
		}`)
	})
	defer srv.Close()

	c := recognition.NewClient(srv.URL, 5*time.Second)
	res, err := c.Analyze(context.Background(), "https://x/a.jpg", "sneaker")
	require.NoError(t, err)

	require.NotNil(t, res.Analysis.Brand)
	assert.Equal(t, 0.93, res.Analysis.Brand.Confidence)
	require.NotNil(t, res.Analysis.Model)
	assert.Equal(t, 0.88, res.Analysis.Model.Confidence)
	assert.Nil(t, res.Analysis.Colorway)
	require.NotNil(t, res.ProcessedImageURL)
	assert.Equal(t, "https://x/p.jpg", *res.ProcessedImageURL)
}

func TestAnalyze_SnakeCaseProcessedImageNormalized(t *testing.T) {
	srv := analyzeServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, `{"brand":"Nike","processed_image_url":"https://x/p.jpg"}`)
	})
	defer srv.Close()

	c := recognition.NewClient(srv.URL, 5*time.Second)
	res, err := c.Analyze(context.Background(), "https://x/a.jpg", "sneaker")
	require.NoError(t, err)
	require.NotNil(t, res.ProcessedImageURL)
	assert.Equal(t, "https://x/p.jpg", *res.ProcessedImageURL)
}

func TestAnalyze_MissingFieldsAreNil(t *testing.T) {
	srv := analyzeServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, `{"brand":null}`)
	})
	defer srv.Close()

	c := recognition.NewClient(srv.URL, 5*time.Second)
	res, err := c.Analyze(context.Background(), "https://x/a.jpg", "sneaker")
	require.NoError(t, err)
	assert.Nil(t, res.Analysis.Brand)
	assert.Nil(t, res.Analysis.Model)
	assert.Nil(t, res.Analysis.Colorway)
	assert.Nil(t, res.ProcessedImageURL)
}

func TestAnalyze_UnrecognizedShapeFailsLoudly(t *testing.T) {
	srv := analyzeServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, `{"brand":42}`)
	})
	defer srv.Close()

	c := recognition.NewClient(srv.URL, 5*time.Second)
	_, err := c.Analyze(context.Background(), "https://x/a.jpg", "sneaker")
	require.Error(t, err)
	assert.False(t, recognition.IsRetryable(err))
}

func TestAnalyze_ServerErrorIsRetryable(t *testing.T) {
	srv := analyzeServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	defer srv.Close()

	c := recognition.NewClient(srv.URL, 5*time.Second)
	_, err := c.Analyze(context.Background(), "https://x/a.jpg", "sneaker")
	require.Error(t, err)

	var re *recognition.Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusServiceUnavailable, re.StatusCode)
	assert.True(t, re.Retryable)
	assert.True(t, recognition.IsRetryable(err))
}

func TestAnalyze_ClientErrorIsTerminal(t *testing.T) {
	srv := analyzeServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad category", http.StatusUnprocessableEntity)
	})
	defer srv.Close()

	c := recognition.NewClient(srv.URL, 5*time.Second)
	_, err := c.Analyze(context.Background(), "https://x/a.jpg", "sneaker")
	require.Error(t, err)

	var re *recognition.Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnprocessableEntity, re.StatusCode)
	assert.False(t, re.Retryable)
}

func TestAnalyze_TimeoutIsRetryable(t *testing.T) {
	srv := analyzeServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	c := recognition.NewClient(srv.URL, 20*time.Millisecond)
	_, err := c.Analyze(context.Background(), "https://x/a.jpg", "sneaker")
	require.Error(t, err)
	assert.True(t, recognition.IsRetryable(err))
}

func TestAnalyze_ConnectionRefusedIsRetryable(t *testing.T) {
	// Nothing listens here.
	c := recognition.NewClient("http://127.0.0.1:1", time.Second)
	_, err := c.Analyze(context.Background(), "https://x/a.jpg", "sneaker")
	require.Error(t, err)
	assert.True(t, recognition.IsRetryable(err))
}
