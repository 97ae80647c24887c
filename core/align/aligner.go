// Package align produces per-word timestamps for rendered audio. Strategies
// are tried in a fixed order of decreasing accuracy: provider-native
// character timing, forced alignment via transcription, then an estimated
// even distribution. Alignment always succeeds with some timing; silent
// word-highlighting is worse than approximate highlighting.
package align

import (
	"context"

	"readecho/core/tts"
	"readecho/logger"
	"readecho/model"
)

// Request carries everything a strategy may need.
type Request struct {
	Text            string
	Audio           []byte
	DurationSeconds float64
	CharTimings     []tts.CharTiming
}

// strategy is a pure alignment function. An error means "unavailable here",
// letting the next strategy run.
type strategy func(ctx context.Context, req Request) (model.WordTimingList, error)

// Aligner runs the strategy chain.
type Aligner struct {
	transcriber Transcriber
}

// NewAligner creates an aligner. transcriber may be nil, in which case
// forced alignment is skipped.
func NewAligner(transcriber Transcriber) *Aligner {
	return &Aligner{transcriber: transcriber}
}

// Align returns word timings for the rendered audio. It never returns an
// error: when every higher-accuracy strategy is unavailable it falls back to
// estimated timing, tagged so downstream highlighting can soften itself.
func (a *Aligner) Align(ctx context.Context, req Request) model.WordTimingList {
	strategies := []struct {
		name string
		fn   strategy
	}{
		{model.TimingMethodNative, a.alignNative},
		{model.TimingMethodForced, a.alignForced},
		{model.TimingMethodEstimated, a.alignEstimated},
	}

	for _, s := range strategies {
		timings, err := s.fn(ctx, req)
		if err != nil {
			logger.Debug("alignment strategy unavailable",
				logger.String("strategy", s.name),
				logger.ErrorField(err))
			continue
		}
		timings = clampTimings(timings, req.DurationSeconds)
		if err := timings.Validate(req.DurationSeconds); err != nil {
			logger.Warn("alignment strategy produced invalid timings, falling through",
				logger.String("strategy", s.name),
				logger.ErrorField(err))
			continue
		}
		return timings
	}

	// The estimated strategy only errors on empty text.
	return nil
}

// clampTimings forces the invariants: every timestamp inside
// [0, duration], start < end, and no overlap with the previous word.
func clampTimings(timings model.WordTimingList, duration float64) model.WordTimingList {
	const minWidth = 0.01
	prevEnd := 0.0
	for i := range timings {
		wt := &timings[i]
		if wt.Start < prevEnd {
			wt.Start = prevEnd
		}
		if duration > 0 && wt.Start > duration {
			wt.Start = duration
		}
		if wt.End < wt.Start+minWidth {
			wt.End = wt.Start + minWidth
		}
		if duration > 0 && wt.End > duration {
			wt.End = duration
			if wt.Start >= wt.End {
				wt.Start = wt.End - minWidth
				if wt.Start < 0 {
					wt.Start = 0
				}
			}
		}
		prevEnd = wt.End
	}
	return timings
}
