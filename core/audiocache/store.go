// Package audiocache is the multi-tier cache for rendered sentence audio:
// in-process memory, then Redis, then MySQL rows pointing at MinIO blobs.
// Reads check tiers fastest-first and promote hits into faster tiers; a tier
// being down degrades to the next one, and total unavailability surfaces as
// a miss so playback can fall back to synchronous synthesis.
package audiocache

import (
	"context"
	"time"

	"readecho/cache"
	"readecho/logger"
	"readecho/model"
	"readecho/repository"
	"readecho/storage"
)

// Options tune the store's TTL per tier.
type Options struct {
	MemoryTTL     time.Duration
	MemoryEntries int
	RedisTTL      time.Duration
	PersistentTTL time.Duration
}

// Store is the tiered cache facade. It exclusively owns AudioAsset records
// and the lifetime of the audio objects they point at.
type Store struct {
	memory *MemoryTier
	repo   repository.AudioAssetRepository
	blobs  storage.AudioStore
	opts   Options
}

// NewStore creates the tiered store over the persistent repository and the
// object store holding the audio payloads.
func NewStore(repo repository.AudioAssetRepository, blobs storage.AudioStore, opts Options) *Store {
	if opts.RedisTTL <= 0 {
		opts.RedisTTL = 24 * time.Hour
	}
	if opts.PersistentTTL <= 0 {
		opts.PersistentTTL = 90 * 24 * time.Hour
	}
	return &Store{
		memory: NewMemoryTier(opts.MemoryEntries, opts.MemoryTTL),
		repo:   repo,
		blobs:  blobs,
		opts:   opts,
	}
}

// Get returns the cached asset for the key, or nil on miss. Hits from slower
// tiers are promoted into faster ones, and access bookkeeping is bumped on
// the persistent tier.
func (s *Store) Get(ctx context.Context, key model.AssetKey) *model.AudioAsset {
	cacheKey := key.String()

	if asset := s.memory.Get(cacheKey); asset != nil {
		s.touch(key)
		return asset
	}

	if asset, err := cache.GetAssetCache(cacheKey); err == nil && asset != nil {
		if !asset.Expired(time.Now()) {
			s.memory.Put(cacheKey, asset)
			s.touch(key)
			return asset
		}
		_ = cache.DeleteAssetCache(cacheKey)
	}

	asset, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		// Persistent tier down: treat as a miss, never a hard error.
		logger.Warn("persistent cache tier unavailable",
			logger.String("key", cacheKey),
			logger.ErrorField(err))
		return nil
	}
	if asset == nil {
		return nil
	}

	// Promote: write-through on read.
	s.memory.Put(cacheKey, asset)
	_ = cache.SetAssetCache(cacheKey, asset, s.opts.RedisTTL)
	s.touch(key)
	return asset
}

// GetChunk returns all cached sentences of a chunk in sentence order,
// straight from the persistent tier (chunk reads are range queries).
func (s *Store) GetChunk(ctx context.Context, bookID, level string, chunkIndex int, provider, voiceID string) []*model.AudioAsset {
	assets, err := s.repo.GetChunk(ctx, bookID, level, chunkIndex, provider, voiceID)
	if err != nil {
		logger.Warn("persistent cache tier unavailable for chunk read",
			logger.String("bookId", bookID),
			logger.Int("chunk", chunkIndex),
			logger.ErrorField(err))
		return nil
	}
	for _, a := range assets {
		s.memory.Put(a.Key().String(), a)
	}
	return assets
}

// Put writes the asset through every tier. The persistent upsert is the
// idempotency point for concurrent writers of the same key; whichever write
// lands last wins, and both callers may keep using their own copy.
func (s *Store) Put(ctx context.Context, asset *model.AudioAsset) error {
	now := time.Now()
	if asset.ExpiresAt.IsZero() {
		asset.ExpiresAt = now.Add(s.opts.PersistentTTL)
	}
	if asset.LastAccessAt.IsZero() {
		asset.LastAccessAt = now
	}

	if err := s.repo.Upsert(ctx, asset); err != nil {
		return err
	}

	cacheKey := asset.Key().String()
	s.memory.Put(cacheKey, asset)
	if err := cache.SetAssetCache(cacheKey, asset, s.opts.RedisTTL); err != nil {
		// Redis being down only costs a later promotion.
		logger.Debug("redis tier write skipped", logger.String("key", cacheKey))
	}
	return nil
}

// EvictExpired removes expired entries from every tier, including the stored
// audio objects, and returns the number of persistent rows removed. A failed
// object delete leaves an orphaned blob but never blocks the sweep.
func (s *Store) EvictExpired(ctx context.Context) (int64, error) {
	s.memory.PurgeExpired()
	now := time.Now()

	expired, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, asset := range expired {
		if s.blobs == nil || asset.AudioURL == "" {
			continue
		}
		if err := s.blobs.DeleteAudio(ctx, asset.AudioURL); err != nil {
			logger.Warn("failed to delete expired audio object",
				logger.String("object", asset.AudioURL),
				logger.ErrorField(err))
		}
	}

	removed, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		logger.Info("evicted expired audio assets", logger.Int64("count", removed))
	}
	return removed, nil
}

// touch bumps access bookkeeping without blocking the read path.
func (s *Store) touch(key model.AssetKey) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.Touch(ctx, key); err != nil {
			logger.Debug("touch failed", logger.String("key", key.String()), logger.ErrorField(err))
		}
	}()
}
