package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BossHoder/kollector/internal/models"
)

// ErrNotFound marks a lookup for an asset that does not exist (possibly
// deleted mid-flight; the pipeline treats that as a successful no-op).
var ErrNotFound = errors.New("asset not found")

// Store wraps pgxpool for asset persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateParams collects inputs required to insert an asset for processing.
type CreateParams struct {
	OwnerID   string
	Category  string
	SourceURL string
}

// Create inserts an asset in the processing state.
func (s *Store) Create(ctx context.Context, p CreateParams) (models.Asset, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assets (id, owner_id, status, category, original_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, id, p.OwnerID, models.AssetStatusProcessing, p.Category, p.SourceURL, now)
	if err != nil {
		return models.Asset{}, fmt.Errorf("insert asset: %w", err)
	}
	return models.Asset{
		ID:        id,
		OwnerID:   p.OwnerID,
		Status:    models.AssetStatusProcessing,
		Category:  p.Category,
		Images:    models.AssetImages{Original: p.SourceURL},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetProcessingJob records the queue job driving this asset.
func (s *Store) SetProcessingJob(ctx context.Context, id, jobID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE assets SET processing_job_id = $2, updated_at = NOW() WHERE id = $1
	`, id, jobID)
	return err
}

// Get fetches an asset by id.
func (s *Store) Get(ctx context.Context, id string) (models.Asset, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, status, category, original_url, processed_url, analysis_result, processing_job_id, last_error, created_at, updated_at
		FROM assets WHERE id = $1
	`, id)

	var a models.Asset
	var processed, jobID, lastErr pgtype.Text
	var resultJSON []byte

	err := row.Scan(&a.ID, &a.OwnerID, &a.Status, &a.Category, &a.Images.Original,
		&processed, &resultJSON, &jobID, &lastErr, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Asset{}, ErrNotFound
	}
	if err != nil {
		return models.Asset{}, fmt.Errorf("scan asset: %w", err)
	}

	if len(resultJSON) > 0 {
		var result models.AnalysisResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return models.Asset{}, fmt.Errorf("unmarshal analysis result: %w", err)
		}
		a.AnalysisResult = &result
	}
	a.Images.Processed = textPtr(processed)
	a.ProcessingJobID = textPtr(jobID)
	a.LastError = textPtr(lastErr)
	return a, nil
}

// MarkActive writes the successful outcome. The processed URL column is only
// touched when the recognition service returned one. The update is guarded on
// status=processing so statuses owned elsewhere (partial, archived) are never
// overwritten; it returns false when the guard skipped the write.
func (s *Store) MarkActive(ctx context.Context, id string, result *models.AnalysisResult, processedURL *string) (bool, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal analysis result: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE assets
		SET status = $2, analysis_result = $3, processed_url = COALESCE($4, processed_url), last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, models.AssetStatusActive, resultJSON, processedURL, models.AssetStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark asset active: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed writes the terminal failure outcome under the same status guard.
func (s *Store) MarkFailed(ctx context.Context, id, message string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE assets
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.AssetStatusFailed, message, models.AssetStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark asset failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
