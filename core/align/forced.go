package align

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"readecho/model"
)

// alignForced transcribes the rendered audio and maps the transcript's word
// timestamps back onto the original text by position. Transcripts rarely
// match the text exactly (numbers, hyphenation, dropped fillers), so words
// are matched by normalized equality within a small positional window, with
// proportional interpolation for the leftovers.
func (a *Aligner) alignForced(ctx context.Context, req Request) (model.WordTimingList, error) {
	if a.transcriber == nil {
		return nil, fmt.Errorf("no transcriber configured")
	}
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("no audio payload to transcribe")
	}

	transcript, err := a.transcriber.Transcribe(ctx, req.Audio, "mp3")
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	if len(transcript) == 0 {
		return nil, fmt.Errorf("transcription returned no words")
	}

	words := strings.Fields(req.Text)
	if len(words) == 0 {
		return nil, fmt.Errorf("no words to align")
	}

	timings := make(model.WordTimingList, 0, len(words))
	const window = 2

	for i, w := range words {
		// Expected transcript position, scaled for length mismatch.
		center := i * len(transcript) / len(words)

		match := -1
		for off := 0; off <= window; off++ {
			for _, j := range []int{center + off, center - off} {
				if j < 0 || j >= len(transcript) {
					continue
				}
				if normalizeWord(transcript[j].Word) == normalizeWord(w) {
					match = j
					break
				}
			}
			if match >= 0 {
				break
			}
		}
		if match < 0 {
			// Nearest by position when no textual match exists.
			match = center
			if match >= len(transcript) {
				match = len(transcript) - 1
			}
		}

		tw := transcript[match]
		conf := tw.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.8
		}
		timings = append(timings, model.WordTiming{
			Word:       w,
			Start:      tw.Start,
			End:        tw.End,
			WordIndex:  i,
			Confidence: conf,
			Method:     model.TimingMethodForced,
		})
	}

	return timings, nil
}

// normalizeWord lowercases and strips punctuation for fuzzy matching.
func normalizeWord(w string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(w) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
