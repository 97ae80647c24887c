package repository

import (
	"context"
	"time"

	"readecho/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AudioAssetRepository is the persistence tier of the audio cache. The
// composite UNIQUE key on audio_assets makes Upsert the idempotency point
// for races between pre-generation and on-demand fallback.
type AudioAssetRepository interface {
	Upsert(ctx context.Context, asset *model.AudioAsset) error
	GetByKey(ctx context.Context, key model.AssetKey) (*model.AudioAsset, error)
	GetChunk(ctx context.Context, bookID, level string, chunkIndex int, provider, voiceID string) ([]*model.AudioAsset, error)
	Touch(ctx context.Context, key model.AssetKey) error
	ListExpired(ctx context.Context, now time.Time) ([]*model.AudioAsset, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// gormAudioAssetRepository is the GORM implementation.
type gormAudioAssetRepository struct {
	db *gorm.DB
}

// NewGormAudioAssetRepository creates a GORM-backed asset repository.
func NewGormAudioAssetRepository(db *gorm.DB) AudioAssetRepository {
	return &gormAudioAssetRepository{db: db}
}

// Upsert writes the asset, replacing any existing row for the same composite
// key. Last writer wins; both callers of a racing write may proceed.
func (r *gormAudioAssetRepository) Upsert(ctx context.Context, asset *model.AudioAsset) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "book_id"}, {Name: "reading_level"}, {Name: "chunk_index"},
			{Name: "sentence_index"}, {Name: "provider"}, {Name: "voice_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"sentence_text", "audio_url", "audio_size", "format", "duration",
			"timings", "timing_method", "cost_usd", "expires_at", "updated_at",
		}),
	}).Create(asset).Error
}

// GetByKey retrieves one asset, or nil on miss. Expired rows count as a miss.
func (r *gormAudioAssetRepository) GetByKey(ctx context.Context, key model.AssetKey) (*model.AudioAsset, error) {
	var asset model.AudioAsset
	err := r.db.WithContext(ctx).
		Where("book_id = ? AND reading_level = ? AND chunk_index = ? AND sentence_index = ? AND provider = ? AND voice_id = ?",
			key.BookID, key.ReadingLevel, key.ChunkIndex, key.SentenceIndex, key.Provider, key.VoiceID).
		First(&asset).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	if asset.Expired(time.Now()) {
		return nil, nil
	}
	return &asset, nil
}

// GetChunk retrieves every cached sentence of a chunk in sentence order.
func (r *gormAudioAssetRepository) GetChunk(ctx context.Context, bookID, level string, chunkIndex int, provider, voiceID string) ([]*model.AudioAsset, error) {
	var assets []*model.AudioAsset
	err := r.db.WithContext(ctx).
		Where("book_id = ? AND reading_level = ? AND chunk_index = ? AND provider = ? AND voice_id = ? AND expires_at > ?",
			bookID, level, chunkIndex, provider, voiceID, time.Now()).
		Order("sentence_index ASC").
		Find(&assets).Error
	return assets, err
}

// Touch bumps last-access time and access count without returning data.
func (r *gormAudioAssetRepository) Touch(ctx context.Context, key model.AssetKey) error {
	return r.db.WithContext(ctx).Model(&model.AudioAsset{}).
		Where("book_id = ? AND reading_level = ? AND chunk_index = ? AND sentence_index = ? AND provider = ? AND voice_id = ?",
			key.BookID, key.ReadingLevel, key.ChunkIndex, key.SentenceIndex, key.Provider, key.VoiceID).
		Updates(map[string]interface{}{
			"last_access_at": time.Now(),
			"access_count":   gorm.Expr("access_count + 1"),
		}).Error
}

// ListExpired returns rows past their expiration, so the eviction sweep can
// remove the stored audio objects before dropping the rows.
func (r *gormAudioAssetRepository) ListExpired(ctx context.Context, now time.Time) ([]*model.AudioAsset, error) {
	var assets []*model.AudioAsset
	err := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Find(&assets).Error
	return assets, err
}

// DeleteExpired removes rows past their expiration and returns the count.
func (r *gormAudioAssetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&model.AudioAsset{})
	return res.RowsAffected, res.Error
}
