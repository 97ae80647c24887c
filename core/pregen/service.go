package pregen

import (
	"context"
	"fmt"
	"strings"

	"readecho/logger"
	"readecho/model"
	"readecho/repository"
)

// Per-character provider pricing used for pre-flight cost estimates, with an
// assumed average chunk length. Actual cost is recorded at render time.
var estimateCostPerChar = map[string]float64{
	"openai":     0.000015,
	"elevenlabs": 0.00003,
}

const assumedChunkChars = 600

// ServiceConfig controls which combinations a book is pre-generated for.
type ServiceConfig struct {
	Levels        []string
	PopularLevels []string
	// Voices are "provider:voice" pairs; the first entry is the default
	// voice, enqueued ahead of the rest.
	Voices     []string
	MaxRetries int
	ChunkLimit int
}

// Service is the pre-generation control surface: it creates the book status
// row, enqueues the combination matrix, and answers status queries.
type Service struct {
	jobs     repository.JobRepository
	pipeline *Pipeline
	cfg      ServiceConfig
}

// NewService creates the pre-generation service.
func NewService(jobs repository.JobRepository, pipeline *Pipeline, cfg ServiceConfig) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = 2000
	}
	return &Service{jobs: jobs, pipeline: pipeline, cfg: cfg}
}

// InitiateBook enqueues the full (level x voice x chunk) matrix for a book.
// Popular levels with the default voice go in at high priority so readers
// hit cache sooner; everything else trails at background priority.
// Re-initiating is safe: enqueue is idempotent per target.
func (s *Service) InitiateBook(ctx context.Context, bookID string) (*model.BookPreGenerationStatus, error) {
	var total int64

	for _, level := range s.cfg.Levels {
		chunkCount, err := s.pipeline.source.ChunkCount(ctx, bookID, level)
		if err != nil {
			return nil, fmt.Errorf("failed to size book %s at level %s: %w", bookID, level, err)
		}
		if chunkCount > s.cfg.ChunkLimit {
			chunkCount = s.cfg.ChunkLimit
		}

		for vi, voice := range s.cfg.Voices {
			provider, voiceID, err := splitVoice(voice)
			if err != nil {
				return nil, err
			}

			priority := model.PriorityBackground
			if vi == 0 && contains(s.cfg.PopularLevels, level) {
				priority = model.PriorityHigh
			}

			for chunk := 0; chunk < chunkCount; chunk++ {
				if _, err := s.EnqueueChunk(ctx, bookID, level, chunk, provider, voiceID, priority); err != nil {
					return nil, err
				}
				total++
			}
		}
	}

	status := &model.BookPreGenerationStatus{
		BookID:            bookID,
		TotalCombinations: total,
		Status:            model.BookStatusInProgress,
	}
	if existing, err := s.jobs.GetBookStatus(ctx, bookID); err == nil && existing != nil {
		// Keep accumulated progress on re-initiation.
		status.CompletedCount = existing.CompletedCount
		status.FailedCount = existing.FailedCount
		status.TotalCostUSD = existing.TotalCostUSD
		status.CreatedAt = existing.CreatedAt
	}
	if err := s.jobs.CreateBookStatus(ctx, status); err != nil {
		return nil, fmt.Errorf("failed to create book status: %w", err)
	}

	logger.Info("pre-generation initiated",
		logger.String("bookId", bookID),
		logger.Int64("combinations", total))
	return status, nil
}

// EnqueueChunk enqueues one chunk job. Used by InitiateBook and by the
// playback path to promote missing chunks to urgent.
func (s *Service) EnqueueChunk(ctx context.Context, bookID, level string, chunkIndex int, provider, voiceID string, priority model.JobPriority) (*model.PreGenerationJob, error) {
	job := &model.PreGenerationJob{
		BookID:        bookID,
		ReadingLevel:  level,
		ChunkIndex:    chunkIndex,
		Provider:      provider,
		VoiceID:       voiceID,
		Priority:      priority,
		MaxRetries:    s.cfg.MaxRetries,
		EstimatedCost: estimateCostPerChar[provider] * assumedChunkChars,
	}
	return s.jobs.Enqueue(ctx, job)
}

// Status answers the progress query for a book, nil when pre-generation was
// never initiated.
func (s *Service) Status(ctx context.Context, bookID string) (*model.BookPreGenerationStatus, error) {
	return s.jobs.GetBookStatus(ctx, bookID)
}

// RefreshBookFlags recomputes the popular/all done flags after a job
// finishes. Failures count toward done: a book with exhausted retries is
// "completed with failures", not stuck forever at 99%.
func (s *Service) RefreshBookFlags(ctx context.Context, bookID string) error {
	status, err := s.jobs.GetBookStatus(ctx, bookID)
	if err != nil || status == nil {
		return err
	}

	activeHigh, err := s.jobs.CountActiveByBookAndMaxPriority(ctx, bookID, model.PriorityHigh)
	if err != nil {
		return err
	}
	popularDone := activeHigh == 0

	allDone := status.CompletedCount+status.FailedCount >= status.TotalCombinations && status.TotalCombinations > 0
	newStatus := ""
	if allDone {
		if status.FailedCount > 0 {
			newStatus = model.BookStatusPartial
		} else {
			newStatus = model.BookStatusCompleted
		}
	}

	return s.jobs.UpdateBookFlags(ctx, bookID, popularDone, allDone, newStatus)
}

// splitVoice parses a "provider:voice" pair.
func splitVoice(v string) (provider, voiceID string, err error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid voice spec %q, want provider:voice", v)
	}
	return parts[0], parts[1], nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
