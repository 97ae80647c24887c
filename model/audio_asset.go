package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Timing generation methods, in decreasing order of accuracy.
const (
	TimingMethodNative    = "provider_native"
	TimingMethodForced    = "forced_alignment"
	TimingMethodEstimated = "estimated"
)

// WordTiming is one highlighted word within a rendered sentence.
type WordTiming struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"` // seconds from sentence start
	End        float64 `json:"end"`
	WordIndex  int     `json:"wordIndex"`
	Confidence float64 `json:"confidence"` // 0-1
	Method     string  `json:"method"`
}

// WordTimingList is a JSON column type for GORM.
type WordTimingList []WordTiming

// Scan implements sql.Scanner.
func (l *WordTimingList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*l = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*l = nil
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Value implements driver.Valuer.
func (l WordTimingList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Validate checks the word timing invariants: start < end, strictly
// increasing word indices, non-overlapping intervals, confidence in [0,1],
// and the final end time within the audio duration plus tolerance.
func (l WordTimingList) Validate(duration float64) error {
	const epsilon = 0.25
	for i, wt := range l {
		if wt.Start >= wt.End {
			return fmt.Errorf("timing %d: start %.3f >= end %.3f", i, wt.Start, wt.End)
		}
		if wt.Confidence < 0 || wt.Confidence > 1 {
			return fmt.Errorf("timing %d: confidence %.3f out of range", i, wt.Confidence)
		}
		if i > 0 {
			if wt.WordIndex <= l[i-1].WordIndex {
				return fmt.Errorf("timing %d: word index %d not increasing", i, wt.WordIndex)
			}
			if wt.Start < l[i-1].End {
				return fmt.Errorf("timing %d: overlaps previous (start %.3f < prev end %.3f)", i, wt.Start, l[i-1].End)
			}
		}
	}
	if n := len(l); n > 0 && duration > 0 && l[n-1].End > duration+epsilon {
		return fmt.Errorf("final end %.3f exceeds duration %.3f", l[n-1].End, duration)
	}
	return nil
}

// AssetKey is the composite identity of a rendered sentence.
type AssetKey struct {
	BookID        string `json:"bookId"`
	ReadingLevel  string `json:"readingLevel"`
	ChunkIndex    int    `json:"chunkIndex"`
	SentenceIndex int    `json:"sentenceIndex"`
	Provider      string `json:"provider"`
	VoiceID       string `json:"voiceId"`
}

// String renders the key in its canonical cache-key form.
func (k AssetKey) String() string {
	return fmt.Sprintf("audio:%s:%s:%d:%d:%s:%s",
		k.BookID, k.ReadingLevel, k.ChunkIndex, k.SentenceIndex, k.Provider, k.VoiceID)
}

// AudioAsset is a rendered, cacheable unit of speech. The six key columns
// carry a composite UNIQUE constraint so concurrent generations of the same
// sentence collapse to a single row.
type AudioAsset struct {
	ID            int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	BookID        string         `json:"bookId" gorm:"size:64;not null;uniqueIndex:uq_asset_key,priority:1"`
	ReadingLevel  string         `json:"readingLevel" gorm:"size:8;not null;uniqueIndex:uq_asset_key,priority:2"`
	ChunkIndex    int            `json:"chunkIndex" gorm:"not null;uniqueIndex:uq_asset_key,priority:3"`
	SentenceIndex int            `json:"sentenceIndex" gorm:"not null;uniqueIndex:uq_asset_key,priority:4"`
	Provider      string         `json:"provider" gorm:"size:32;not null;uniqueIndex:uq_asset_key,priority:5"`
	VoiceID       string         `json:"voiceId" gorm:"size:64;not null;uniqueIndex:uq_asset_key,priority:6"`
	SentenceText  string         `json:"sentenceText" gorm:"type:text"`
	AudioURL      string         `json:"audioUrl" gorm:"size:512;not null"`
	AudioSize     int64          `json:"audioSize"`
	Format        string         `json:"format" gorm:"size:16;default:'mp3'"`
	Duration      float64        `json:"duration"` // seconds
	Timings       WordTimingList `json:"timings" gorm:"type:json"`
	TimingMethod  string         `json:"timingMethod" gorm:"size:32"`
	CostUSD       float64        `json:"costUsd"`
	AccessCount   int64          `json:"accessCount" gorm:"default:0"`
	LastAccessAt  time.Time      `json:"lastAccessAt"`
	ExpiresAt     time.Time      `json:"expiresAt" gorm:"index"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// TableName picks the table name.
func (AudioAsset) TableName() string {
	return "audio_assets"
}

// Key returns the composite identity of the asset.
func (a *AudioAsset) Key() AssetKey {
	return AssetKey{
		BookID:        a.BookID,
		ReadingLevel:  a.ReadingLevel,
		ChunkIndex:    a.ChunkIndex,
		SentenceIndex: a.SentenceIndex,
		Provider:      a.Provider,
		VoiceID:       a.VoiceID,
	}
}

// Expired reports whether the asset is past its expiration.
func (a *AudioAsset) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}
