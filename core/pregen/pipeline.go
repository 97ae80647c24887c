// Package pregen drives background audio rendering: a durable priority
// queue, a bounded worker pool, and the sentence pipeline both the workers
// and the on-demand playback fallback share.
package pregen

import (
	"context"
	"fmt"
	"time"

	"readecho/core/align"
	"readecho/core/audiocache"
	"readecho/core/textsegment"
	"readecho/core/textsource"
	"readecho/core/tts"
	"readecho/logger"
	"readecho/model"
	"readecho/storage"
)

// Pipeline is the synthesize -> align -> upload -> cache path for one
// sentence. It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	source     textsource.ChunkSource
	segmenter  *textsegment.Segmenter
	registry   *tts.Registry
	aligner    *align.Aligner
	store      *audiocache.Store
	audioStore storage.AudioStore
}

// NewPipeline wires the sentence pipeline.
func NewPipeline(
	source textsource.ChunkSource,
	segmenter *textsegment.Segmenter,
	registry *tts.Registry,
	aligner *align.Aligner,
	store *audiocache.Store,
	audioStore storage.AudioStore,
) *Pipeline {
	return &Pipeline{
		source:     source,
		segmenter:  segmenter,
		registry:   registry,
		aligner:    aligner,
		store:      store,
		audioStore: audioStore,
	}
}

// Store exposes the cache store for read paths.
func (p *Pipeline) Store() *audiocache.Store {
	return p.store
}

// Providers lists the registered TTS provider names.
func (p *Pipeline) Providers() []string {
	return p.registry.Names()
}

// Sentences fetches and segments a chunk's text.
func (p *Pipeline) Sentences(ctx context.Context, bookID, level string, chunkIndex int) ([]textsegment.SentenceUnit, error) {
	text, err := p.source.ChunkText(ctx, bookID, level, chunkIndex)
	if err != nil {
		return nil, err
	}
	return p.segmenter.Segment(text), nil
}

// RenderSentence synthesizes one sentence, aligns word timings, uploads the
// payload, and writes the asset through the cache. Re-rendering an
// already-cached key is safe: the upload overwrites the same object path and
// the cache write is an idempotent upsert.
func (p *Pipeline) RenderSentence(ctx context.Context, key model.AssetKey, text string) (*model.AudioAsset, error) {
	provider, err := p.registry.Get(key.Provider)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := provider.Synthesize(ctx, text, key.VoiceID)
	if err != nil {
		return nil, err
	}

	duration := result.DurationSeconds
	if duration <= 0 {
		// Providers without measured duration: assume a moderate rate so
		// highlighting still has a usable envelope.
		duration = float64(len(text)) / 15.0
	}

	timings := p.aligner.Align(ctx, align.Request{
		Text:            text,
		Audio:           result.Audio,
		DurationSeconds: duration,
		CharTimings:     result.CharTimings,
	})

	objectPath := fmt.Sprintf("audio/%s/%s/%d/%d/%s-%s.%s",
		key.BookID, key.ReadingLevel, key.ChunkIndex, key.SentenceIndex,
		key.Provider, key.VoiceID, result.Format)
	audioURL, err := p.audioStore.PutAudio(ctx, objectPath, result.Audio, "audio/mpeg")
	if err != nil {
		return nil, fmt.Errorf("failed to store audio payload: %w", err)
	}

	method := model.TimingMethodEstimated
	if len(timings) > 0 {
		method = timings[0].Method
	}

	asset := &model.AudioAsset{
		BookID:        key.BookID,
		ReadingLevel:  key.ReadingLevel,
		ChunkIndex:    key.ChunkIndex,
		SentenceIndex: key.SentenceIndex,
		Provider:      key.Provider,
		VoiceID:       key.VoiceID,
		SentenceText:  text,
		AudioURL:      audioURL,
		AudioSize:     int64(len(result.Audio)),
		Format:        result.Format,
		Duration:      duration,
		Timings:       timings,
		TimingMethod:  method,
		CostUSD:       result.CostUSD,
	}

	if err := p.store.Put(ctx, asset); err != nil {
		return nil, fmt.Errorf("failed to cache rendered sentence: %w", err)
	}

	logger.Debug("sentence rendered",
		logger.String("key", key.String()),
		logger.Float64("duration", duration),
		logger.String("timingMethod", method),
		logger.Duration("elapsed", time.Since(started)))
	return asset, nil
}
