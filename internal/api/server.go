package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BossHoder/kollector/internal/assets"
	"github.com/BossHoder/kollector/internal/config"
	"github.com/BossHoder/kollector/internal/models"
	"github.com/BossHoder/kollector/internal/queue"
	"github.com/BossHoder/kollector/internal/telemetry"
)

// AssetStore is the slice of the record store the ingress needs.
type AssetStore interface {
	Create(ctx context.Context, p assets.CreateParams) (models.Asset, error)
	SetProcessingJob(ctx context.Context, id, jobID string) error
	MarkFailed(ctx context.Context, id, message string) (bool, error)
	Get(ctx context.Context, id string) (models.Asset, error)
}

// JobQueue is the producer contract with the analysis queue.
type JobQueue interface {
	Enqueue(ctx context.Context, p queue.JobPayload) (string, error)
	Counts(ctx context.Context) (queue.Counts, error)
}

// Limiter gates per-owner submission rates.
type Limiter interface {
	Allow(ctx context.Context, ownerID string) (bool, error)
}

// Server wires HTTP handlers for the ingress API.
type Server struct {
	cfg      config.Config
	store    AssetStore
	queue    JobQueue
	limiter  Limiter
	realtime http.Handler
}

// New constructs the API server. realtime, if non-nil, is mounted at /ws.
func New(cfg config.Config, store AssetStore, q JobQueue, limiter Limiter, realtime http.Handler) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		queue:    q,
		limiter:  limiter,
		realtime: realtime,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())
	if s.realtime != nil {
		r.Get("/ws", s.realtime.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(Authenticate([]byte(s.cfg.JWTSigningKey)))
		r.Post("/assets", s.handleSubmit)
		r.Get("/assets/{id}", s.handleGetAsset)
		r.Get("/queue/status", s.handleQueueStatus)
	})
	return r
}

// submitRequest is deliberately closed: the owner comes from the verified
// token and the timestamp from the server clock, never from the client.
type submitRequest struct {
	SourceURL string `json:"sourceUrl"`
	Category  string `json:"category"`
}

type submitResponse struct {
	Asset models.Asset `json:"asset"`
	JobID string       `json:"jobId"`
}

// handleSubmit creates the asset record in the processing state and enqueues
// exactly one analysis job for it. The 202 only confirms enqueue; the outcome
// arrives later via the asset record and the completion event.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ownerID := OwnerID(r.Context())

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.SourceURL == "" {
		writeError(w, http.StatusBadRequest, "sourceUrl is required")
		return
	}
	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), ownerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	asset, err := s.store.Create(r.Context(), assets.CreateParams{
		OwnerID:   ownerID,
		Category:  req.Category,
		SourceURL: req.SourceURL,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create asset failed")
		return
	}

	jobID, err := s.queue.Enqueue(r.Context(), queue.JobPayload{
		AssetID:     asset.ID,
		OwnerID:     ownerID,
		SourceURL:   req.SourceURL,
		Category:    req.Category,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		if queue.IsMissingField(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		_, _ = s.store.MarkFailed(r.Context(), asset.ID, "enqueue failed")
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	if err := s.store.SetProcessingJob(r.Context(), asset.ID, jobID); err == nil {
		asset.ProcessingJobID = &jobID
	}
	telemetry.EnqueueCounter.Inc()

	writeJSON(w, http.StatusAccepted, submitResponse{Asset: asset, JobID: jobID})
}

// handleGetAsset is owner-scoped: an asset belonging to someone else is
// indistinguishable from a missing one.
func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	asset, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, assets.ErrNotFound) {
			writeError(w, http.StatusNotFound, "asset not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load asset failed")
		return
	}
	if asset.OwnerID != OwnerID(r.Context()) {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.queue.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "queue status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
