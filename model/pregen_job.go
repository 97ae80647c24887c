package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Job status values. Transitions are monotonic:
// pending -> processing -> completed, or processing -> pending (retry)
// until retries are exhausted, then processing -> failed.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// JobPriority orders queue claims. Lower value claims first.
type JobPriority int

const (
	PriorityUrgent     JobPriority = 0
	PriorityHigh       JobPriority = 1
	PriorityNormal     JobPriority = 2
	PriorityBackground JobPriority = 3
)

// String returns the priority tier name.
func (p JobPriority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// SentenceIndexList is a JSON column type for GORM.
type SentenceIndexList []int

// Scan implements sql.Scanner.
func (s *SentenceIndexList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*s = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*s = nil
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// Value implements driver.Valuer.
func (s SentenceIndexList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// PreGenerationJob is one unit of background rendering work: a set of
// sentences within a (book, level, chunk) for one provider voice. Rows are
// retained after completion for audit and cost tracking. The target columns
// carry a composite UNIQUE constraint so re-enqueueing an identical job is
// a no-op at the persistence layer.
type PreGenerationJob struct {
	ID            string            `json:"id" gorm:"primaryKey;size:36"`
	BookID        string            `json:"bookId" gorm:"size:64;not null;uniqueIndex:uq_job_target,priority:1"`
	ReadingLevel  string            `json:"readingLevel" gorm:"size:8;not null;uniqueIndex:uq_job_target,priority:2"`
	ChunkIndex    int               `json:"chunkIndex" gorm:"not null;uniqueIndex:uq_job_target,priority:3"`
	Provider      string            `json:"provider" gorm:"size:32;not null;uniqueIndex:uq_job_target,priority:4"`
	VoiceID       string            `json:"voiceId" gorm:"size:64;not null;uniqueIndex:uq_job_target,priority:5"`
	Sentences     SentenceIndexList `json:"sentences" gorm:"type:json"`
	Priority      JobPriority       `json:"priority" gorm:"index:idx_queue,priority:2"`
	Status        string            `json:"status" gorm:"size:16;default:'pending';index:idx_queue,priority:1"`
	RetryCount    int               `json:"retryCount" gorm:"default:0"`
	MaxRetries    int               `json:"maxRetries" gorm:"default:3"`
	ErrorMessage  string            `json:"errorMessage,omitempty" gorm:"type:text"`
	EstimatedCost float64           `json:"estimatedCost"`
	ActualCost    float64           `json:"actualCost"`
	CreatedAt     time.Time         `json:"createdAt" gorm:"index:idx_queue,priority:3"`
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// TableName picks the table name.
func (PreGenerationJob) TableName() string {
	return "pregeneration_jobs"
}

// Terminal reports whether the job reached a terminal state.
func (j *PreGenerationJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Book pre-generation status values.
const (
	BookStatusPending    = "pending"
	BookStatusInProgress = "in_progress"
	BookStatusCompleted  = "completed"
	BookStatusPartial    = "completed_with_failures"
)

// BookPreGenerationStatus aggregates progress per book across all
// (level x voice x chunk) combinations. One row per book, never deleted.
type BookPreGenerationStatus struct {
	BookID            string    `json:"bookId" gorm:"primaryKey;size:64"`
	TotalCombinations int64     `json:"totalCombinations"`
	CompletedCount    int64     `json:"completedCount"`
	FailedCount       int64     `json:"failedCount"`
	Status            string    `json:"status" gorm:"size:32;default:'pending'"`
	PopularDone       bool      `json:"popularDone" gorm:"default:false"`
	AllDone           bool      `json:"allDone" gorm:"default:false"`
	TotalCostUSD      float64   `json:"totalCostUsd"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// TableName picks the table name.
func (BookPreGenerationStatus) TableName() string {
	return "book_pregeneration_status"
}

// ProgressPercent returns completed/total as a percentage.
func (s *BookPreGenerationStatus) ProgressPercent() float64 {
	if s.TotalCombinations == 0 {
		return 0
	}
	return float64(s.CompletedCount) / float64(s.TotalCombinations) * 100
}
