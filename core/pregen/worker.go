package pregen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"readecho/core/retry"
	"readecho/core/tts"
	"readecho/logger"
	"readecho/model"
	"readecho/repository"
)

// WorkerConfig tunes the pool.
type WorkerConfig struct {
	Concurrency      int
	PollInterval     time.Duration
	RetryBaseDelay   time.Duration
	JobProcessingMax time.Duration
	EvictInterval    time.Duration
	// BudgetCeilingUSD pauses claiming when accumulated actual cost reaches
	// the ceiling. 0 disables the check.
	BudgetCeilingUSD float64
}

// WorkerPool claims jobs from the durable queue and renders them through the
// shared pipeline with bounded concurrency.
type WorkerPool struct {
	jobs     repository.JobRepository
	service  *Service
	pipeline *Pipeline
	cfg      WorkerConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool creates the pool. Start must be called to begin claiming.
func NewWorkerPool(jobs repository.JobRepository, service *Service, pipeline *Pipeline, cfg WorkerConfig) *WorkerPool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.JobProcessingMax <= 0 {
		cfg.JobProcessingMax = 10 * time.Minute
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = time.Hour
	}
	return &WorkerPool{
		jobs:     jobs,
		service:  service,
		pipeline: pipeline,
		cfg:      cfg,
	}
}

// Start launches the claim loops plus the stuck-job reaper and the cache
// eviction sweep.
func (w *WorkerPool) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.claimLoop(ctx, id)
		}(i)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.reapLoop(ctx)
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.evictLoop(ctx)
	}()

	logger.Info("pre-generation worker pool started",
		logger.Int("concurrency", w.cfg.Concurrency))
}

// Stop cancels all loops and waits for in-flight jobs to settle.
func (w *WorkerPool) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	logger.Info("pre-generation worker pool stopped")
}

func (w *WorkerPool) claimLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.overBudget(ctx) {
			// Leave jobs pending; they resume when the ceiling is raised.
			if !sleepCtx(ctx, time.Minute) {
				return
			}
			continue
		}

		job, err := w.jobs.ClaimNext(ctx)
		if err != nil {
			logger.Warn("claim failed", logger.Int("worker", id), logger.ErrorField(err))
			if !sleepCtx(ctx, w.cfg.PollInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, w.cfg.PollInterval) {
				return
			}
			continue
		}

		w.processJob(ctx, job)
	}
}

// processJob renders every sentence of the job's chunk. Sentences already in
// cache are skipped, so a retried job only redoes the failed remainder.
func (w *WorkerPool) processJob(ctx context.Context, job *model.PreGenerationJob) {
	logger.Info("processing job",
		logger.String("jobId", job.ID),
		logger.String("bookId", job.BookID),
		logger.String("level", job.ReadingLevel),
		logger.Int("chunk", job.ChunkIndex),
		logger.String("priority", job.Priority.String()),
		logger.Int("retryCount", job.RetryCount))

	units, err := w.pipeline.Sentences(ctx, job.BookID, job.ReadingLevel, job.ChunkIndex)
	if err != nil {
		// Content service hiccup: put the job back rather than burning a
		// failure on infrastructure noise.
		if relErr := w.jobs.Release(ctx, job, err); relErr != nil {
			logger.Error("release failed", logger.String("jobId", job.ID), logger.ErrorField(relErr))
		}
		return
	}

	wanted := sentenceSet(job.Sentences)
	policy := retry.Policy{
		MaxAttempts: job.MaxRetries + 1,
		BaseDelay:   w.cfg.RetryBaseDelay,
		MaxDelay:    30 * time.Second,
		Retryable:   tts.IsRetryable,
	}

	var cost float64
	var failed []error
	for i, unit := range units {
		if wanted != nil && !wanted[i] {
			continue
		}
		select {
		case <-ctx.Done():
			if relErr := w.jobs.Release(context.Background(), job, ctx.Err()); relErr != nil {
				logger.Error("release on shutdown failed", logger.String("jobId", job.ID), logger.ErrorField(relErr))
			}
			return
		default:
		}

		key := model.AssetKey{
			BookID:        job.BookID,
			ReadingLevel:  job.ReadingLevel,
			ChunkIndex:    job.ChunkIndex,
			SentenceIndex: i,
			Provider:      job.Provider,
			VoiceID:       job.VoiceID,
		}
		if cached := w.pipeline.Store().Get(ctx, key); cached != nil {
			continue
		}

		text := unit.Text
		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			asset, renderErr := w.pipeline.RenderSentence(ctx, key, text)
			if renderErr != nil {
				return renderErr
			}
			cost += asset.CostUSD
			return nil
		})
		if err != nil {
			logger.Warn("sentence render exhausted retries",
				logger.String("key", key.String()),
				logger.ErrorField(err))
			failed = append(failed, fmt.Errorf("sentence %d: %w", i, err))
		}
	}

	if len(failed) > 0 {
		// Partial successes stay cached; only the job is marked failed.
		msg := errors.Join(failed...).Error()
		if err := w.jobs.MarkFailed(ctx, job.ID, msg); err != nil {
			logger.Error("mark failed errored", logger.String("jobId", job.ID), logger.ErrorField(err))
		}
		if err := w.jobs.AddBookProgress(ctx, job.BookID, 0, 1, cost); err != nil {
			logger.Error("progress update failed", logger.String("jobId", job.ID), logger.ErrorField(err))
		}
	} else {
		if err := w.jobs.MarkCompleted(ctx, job.ID, cost); err != nil {
			logger.Error("mark completed errored", logger.String("jobId", job.ID), logger.ErrorField(err))
		}
		if err := w.jobs.AddBookProgress(ctx, job.BookID, 1, 0, cost); err != nil {
			logger.Error("progress update failed", logger.String("jobId", job.ID), logger.ErrorField(err))
		}
	}

	if err := w.service.RefreshBookFlags(ctx, job.BookID); err != nil {
		logger.Warn("book flag refresh failed", logger.String("bookId", job.BookID), logger.ErrorField(err))
	}
}

func (w *WorkerPool) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.JobProcessingMax / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := w.jobs.ReapStuck(ctx, w.cfg.JobProcessingMax)
			if err != nil {
				logger.Warn("stuck-job reap failed", logger.ErrorField(err))
				continue
			}
			if reclaimed > 0 {
				logger.Info("reclaimed stuck jobs", logger.Int64("count", reclaimed))
			}
		}
	}
}

func (w *WorkerPool) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.EvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.pipeline.Store().EvictExpired(ctx); err != nil {
				logger.Warn("cache eviction sweep failed", logger.ErrorField(err))
			}
		}
	}
}

func (w *WorkerPool) overBudget(ctx context.Context) bool {
	if w.cfg.BudgetCeilingUSD <= 0 {
		return false
	}
	total, err := w.jobs.TotalActualCost(ctx)
	if err != nil {
		logger.Warn("budget check failed", logger.ErrorField(err))
		return false
	}
	if total >= w.cfg.BudgetCeilingUSD {
		logger.Warn("budget ceiling reached, pausing claims",
			logger.Float64("totalUSD", total),
			logger.Float64("ceilingUSD", w.cfg.BudgetCeilingUSD))
		return true
	}
	return false
}

// sentenceSet returns nil for "all sentences".
func sentenceSet(indices model.SentenceIndexList) map[int]bool {
	if len(indices) == 0 {
		return nil
	}
	set := make(map[int]bool, len(indices))
	for _, i := range indices {
		set[i] = true
	}
	return set
}

// sleepCtx sleeps unless the context ends first; false means shut down.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
