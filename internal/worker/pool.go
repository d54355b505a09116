package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/BossHoder/kollector/internal/assets"
	"github.com/BossHoder/kollector/internal/config"
	"github.com/BossHoder/kollector/internal/models"
	"github.com/BossHoder/kollector/internal/queue"
	"github.com/BossHoder/kollector/internal/recognition"
	"github.com/BossHoder/kollector/internal/telemetry"
)

// AssetStore is the slice of the record store the pool needs.
type AssetStore interface {
	Get(ctx context.Context, id string) (models.Asset, error)
	MarkActive(ctx context.Context, id string, result *models.AnalysisResult, processedURL *string) (bool, error)
	MarkFailed(ctx context.Context, id, message string) (bool, error)
}

// Analyzer calls the external recognition service.
type Analyzer interface {
	Analyze(ctx context.Context, sourceURL, category string) (*recognition.Result, error)
}

// Emitter delivers completion events to the owning identity's connections.
// Implementations must never fail the caller; a missing transport is a no-op.
type Emitter interface {
	Emit(ownerID string, event models.CompletionEvent)
}

// Pool consumes analysis jobs at a fixed concurrency. Each worker goroutine
// pulls one job at a time; the queue's exclusive lease delivery means no
// locking is needed across workers, and the existence/ownership guard makes
// duplicate delivery after a crash harmless.
type Pool struct {
	cfg      config.Config
	queue    *queue.Queue
	assets   AssetStore
	analyzer Analyzer
	events   Emitter
}

// NewPool wires the pool's collaborators explicitly; there is no package
// state, so tests construct pools against fakes.
func NewPool(cfg config.Config, q *queue.Queue, store AssetStore, analyzer Analyzer, events Emitter) *Pool {
	return &Pool{
		cfg:      cfg,
		queue:    q,
		assets:   store,
		analyzer: analyzer,
		events:   events,
	}
}

// Run starts the maintenance loop plus N worker loops and blocks until ctx is
// cancelled. Cancellation stops new dequeues; in-flight attempts finish (or
// time out and are re-delivered later) before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	concurrency := p.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.maintain(ctx)
	}()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}

	wg.Wait()
	return ctx.Err()
}

// maintain promotes due retries, reclaims expired leases, trims retention
// sets, and refreshes gauges.
func (p *Pool) maintain(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		batch := int64(p.cfg.MaintenanceBatch)
		if batch <= 0 {
			batch = 100
		}
		if _, err := p.queue.PromoteDelayed(ctx, now, batch); err != nil && ctx.Err() == nil {
			log.Printf("promote delayed: %v", err)
		}
		reclaimed, err := p.queue.RequeueExpired(ctx, now, batch)
		if err != nil && ctx.Err() == nil {
			log.Printf("requeue expired: %v", err)
		} else if len(reclaimed) > 0 {
			log.Printf("reclaimed expired leases count=%d", len(reclaimed))
		}
		if _, err := p.queue.PurgeExpired(ctx, now); err != nil && ctx.Err() == nil {
			log.Printf("purge retention: %v", err)
		}
		if counts, err := p.queue.Counts(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(counts.Waiting))
			telemetry.InFlightGauge.Set(float64(counts.Active))
		}
	}
}

func (p *Pool) work(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil || job == nil {
			if err != nil && ctx.Err() == nil {
				log.Printf("worker %d dequeue: %v", workerID, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		p.Process(ctx, job)
	}
}

// Process executes one leased attempt end to end.
func (p *Pool) Process(ctx context.Context, job *models.AnalysisJob) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.JobAttemptTimeout)
	defer cancel()
	start := time.Now()

	// Outcome bookkeeping runs on the parent context: a timed-out attempt
	// must still be able to schedule its retry or record its failure.
	asset, err := p.assets.Get(attemptCtx, job.AssetID)
	if errors.Is(err, assets.ErrNotFound) {
		p.skip(ctx, job, "Asset not found")
		return
	}
	if err != nil {
		// Store hiccup: treat like a retryable processing failure.
		p.handleFailure(ctx, job, true, err.Error())
		return
	}
	if asset.OwnerID != job.OwnerID {
		p.skip(ctx, job, "Ownership mismatch")
		return
	}

	result, err := p.analyzer.Analyze(attemptCtx, job.SourceURL, job.Category)
	if err != nil {
		p.handleFailure(ctx, job, recognition.IsRetryable(err), err.Error())
		return
	}

	written, err := p.assets.MarkActive(attemptCtx, job.AssetID, &result.Analysis, result.ProcessedImageURL)
	if err != nil {
		p.handleFailure(ctx, job, true, err.Error())
		return
	}
	if err := p.queue.Complete(ctx, job.ID); err != nil {
		log.Printf("complete job=%s: %v", job.ID, err)
	}
	if written {
		p.events.Emit(job.OwnerID, models.NewSuccessEvent(job.AssetID, &result.Analysis, result.ProcessedImageURL))
	}
	telemetry.JobsCompleted.Inc()
	log.Printf("job finished success=true asset=%s attempt=%d duration_ms=%d brand=%v",
		job.AssetID, job.Attempt, time.Since(start).Milliseconds(), fieldValue(result.Analysis.Brand))
}

// skip completes a job without analysis or events; the asset is gone or no
// longer belongs to the submitter.
func (p *Pool) skip(ctx context.Context, job *models.AnalysisJob, reason string) {
	if err := p.queue.Complete(ctx, job.ID); err != nil {
		log.Printf("complete job=%s: %v", job.ID, err)
	}
	telemetry.JobsSkipped.Inc()
	log.Printf("job finished skipped=true asset=%s reason=%q", job.AssetID, reason)
}

// handleFailure owns the retry/terminal decision: retryable errors go back to
// the queue with backoff until the attempt ceiling; a non-retryable error or
// an exhausted job marks the asset failed and notifies the owner.
func (p *Pool) handleFailure(ctx context.Context, job *models.AnalysisJob, retryable bool, message string) {
	if retryable && !p.queue.Exhausted(job) {
		delay, err := p.queue.Retry(ctx, job, message)
		if err != nil {
			log.Printf("retry job=%s: %v", job.ID, err)
			return
		}
		telemetry.JobsRetried.Inc()
		log.Printf("job retry scheduled asset=%s attempt=%d delay=%s error=%q", job.AssetID, job.Attempt, delay, message)
		return
	}

	written, err := p.assets.MarkFailed(ctx, job.AssetID, message)
	if err != nil {
		log.Printf("mark failed asset=%s: %v", job.AssetID, err)
	}
	if err := p.queue.Fail(ctx, job, message); err != nil {
		log.Printf("fail job=%s: %v", job.ID, err)
	}
	if written {
		p.events.Emit(job.OwnerID, models.NewFailureEvent(job.AssetID, message))
		telemetry.JobsFailed.Inc()
	}
	log.Printf("job finished success=false asset=%s attempt=%d retryable=%t error=%q",
		job.AssetID, job.Attempt, retryable, message)
}

func fieldValue(f *models.ConfidenceField) any {
	if f == nil {
		return nil
	}
	return f.Value
}
