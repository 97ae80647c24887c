package align

import (
	"context"
	"fmt"
	"strings"

	"readecho/model"
)

// estimatedConfidence tags even-distribution timings so the UI can soften
// its highlight for approximate data.
const estimatedConfidence = 0.3

// alignEstimated distributes the audio duration across words, weighted by
// word character length. Used when no provider timing exists and
// transcription is unavailable; it never fails on non-empty text.
func (a *Aligner) alignEstimated(ctx context.Context, req Request) (model.WordTimingList, error) {
	words := strings.Fields(req.Text)
	if len(words) == 0 {
		return nil, fmt.Errorf("no words to align")
	}

	duration := req.DurationSeconds
	if duration <= 0 {
		// Without a measured duration, assume a moderate speaking rate.
		const secondsPerChar = 1.0 / 15.0
		duration = float64(len(req.Text)) * secondsPerChar
	}

	totalChars := 0
	for _, w := range words {
		totalChars += len(w)
	}

	timings := make(model.WordTimingList, 0, len(words))
	cursor := 0.0
	for i, w := range words {
		share := duration * float64(len(w)) / float64(totalChars)
		end := cursor + share
		if i == len(words)-1 {
			end = duration
		}
		timings = append(timings, model.WordTiming{
			Word:       w,
			Start:      cursor,
			End:        end,
			WordIndex:  i,
			Confidence: estimatedConfidence,
			Method:     model.TimingMethodEstimated,
		})
		cursor = end
	}
	return timings, nil
}
