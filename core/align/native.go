package align

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"readecho/model"
)

// alignNative converts provider character timestamps to word boundaries:
// each word takes the start of its first character and the end of its last.
func (a *Aligner) alignNative(ctx context.Context, req Request) (model.WordTimingList, error) {
	if len(req.CharTimings) == 0 {
		return nil, fmt.Errorf("no provider character timing available")
	}

	// The provider echoes the input text character for character; walk both
	// in lockstep and accumulate word spans.
	runes := []rune(req.Text)
	limit := len(runes)
	if len(req.CharTimings) < limit {
		limit = len(req.CharTimings)
	}

	var timings model.WordTimingList
	wordIndex := 0
	var sb strings.Builder
	wordStart := -1.0
	wordEnd := 0.0

	flush := func() {
		if sb.Len() == 0 {
			return
		}
		timings = append(timings, model.WordTiming{
			Word:       sb.String(),
			Start:      wordStart,
			End:        wordEnd,
			WordIndex:  wordIndex,
			Confidence: 1.0,
			Method:     model.TimingMethodNative,
		})
		wordIndex++
		sb.Reset()
		wordStart = -1
	}

	for i := 0; i < limit; i++ {
		r := runes[i]
		ct := req.CharTimings[i]
		if unicode.IsSpace(r) {
			flush()
			continue
		}
		if wordStart < 0 {
			wordStart = ct.Start
		}
		wordEnd = ct.End
		sb.WriteRune(r)
	}
	flush()

	if len(timings) == 0 {
		return nil, fmt.Errorf("character timing mapped to zero words")
	}
	return timings, nil
}
