package align

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"readecho/core/tts"
	"readecho/model"
)

// fakeTranscriber returns canned words or an error.
type fakeTranscriber struct {
	words []TranscriptWord
	err   error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, format string) ([]TranscriptWord, error) {
	return f.words, f.err
}

// charTimingsFor fabricates evenly spaced character timing for text.
func charTimingsFor(text string, duration float64) []tts.CharTiming {
	chars := strings.Split(text, "")
	per := duration / float64(len(chars))
	out := make([]tts.CharTiming, len(chars))
	for i, ch := range chars {
		out[i] = tts.CharTiming{Char: ch, Start: float64(i) * per, End: float64(i+1) * per}
	}
	return out
}

func assertValid(t *testing.T, timings model.WordTimingList, duration float64) {
	t.Helper()
	if err := timings.Validate(duration); err != nil {
		t.Fatalf("invalid timings: %v", err)
	}
}

func TestAlignNativeTiming(t *testing.T) {
	a := NewAligner(nil)
	text := "hello brave new world"

	timings := a.Align(context.Background(), Request{
		Text:            text,
		DurationSeconds: 2.0,
		CharTimings:     charTimingsFor(text, 2.0),
	})

	if len(timings) != 4 {
		t.Fatalf("expected 4 word timings, got %d", len(timings))
	}
	assertValid(t, timings, 2.0)
	for i, wt := range timings {
		if wt.Method != model.TimingMethodNative {
			t.Errorf("word %d method = %s, want native", i, wt.Method)
		}
		if wt.Confidence != 1.0 {
			t.Errorf("word %d confidence = %v, want 1.0", i, wt.Confidence)
		}
	}
	if timings[0].Word != "hello" || timings[3].Word != "world" {
		t.Errorf("unexpected words: %v", timings)
	}
	if timings[0].Start != 0 {
		t.Errorf("first word starts at %v, want 0", timings[0].Start)
	}
}

func TestAlignForcedTiming(t *testing.T) {
	ft := &fakeTranscriber{words: []TranscriptWord{
		{Word: "Hello,", Start: 0.0, End: 0.4},
		{Word: "world", Start: 0.5, End: 0.9},
		{Word: "again", Start: 1.0, End: 1.5},
	}}
	a := NewAligner(ft)

	timings := a.Align(context.Background(), Request{
		Text:            "hello world again",
		Audio:           []byte("fake"),
		DurationSeconds: 1.6,
	})

	if len(timings) != 3 {
		t.Fatalf("expected 3 word timings, got %d", len(timings))
	}
	assertValid(t, timings, 1.6)
	for _, wt := range timings {
		if wt.Method != model.TimingMethodForced {
			t.Errorf("method = %s, want forced", wt.Method)
		}
	}
	if timings[1].Start != 0.5 || timings[1].End != 0.9 {
		t.Errorf("word 1 timing = %v-%v", timings[1].Start, timings[1].End)
	}
}

func TestAlignFallsBackToEstimated(t *testing.T) {
	// No char timing, transcription down: alignment must still succeed.
	ft := &fakeTranscriber{err: fmt.Errorf("service unavailable")}
	a := NewAligner(ft)

	timings := a.Align(context.Background(), Request{
		Text:            "the quick brown fox jumps",
		Audio:           []byte("fake"),
		DurationSeconds: 2.0,
	})

	if len(timings) != 5 {
		t.Fatalf("expected 5 word timings, got %d", len(timings))
	}
	assertValid(t, timings, 2.0)
	for _, wt := range timings {
		if wt.Method != model.TimingMethodEstimated {
			t.Errorf("method = %s, want estimated", wt.Method)
		}
		if wt.Confidence != estimatedConfidence {
			t.Errorf("confidence = %v, want %v", wt.Confidence, estimatedConfidence)
		}
	}
	// Even distribution covers the whole duration.
	if got := timings[4].End; got != 2.0 {
		t.Errorf("final end = %v, want 2.0", got)
	}
}

func TestAlignEstimatedWeightsByLength(t *testing.T) {
	a := NewAligner(nil)

	timings := a.Align(context.Background(), Request{
		Text:            "a extraordinarily",
		DurationSeconds: 3.0,
	})
	if len(timings) != 2 {
		t.Fatalf("expected 2 word timings, got %d", len(timings))
	}
	if timings[0].End-timings[0].Start >= timings[1].End-timings[1].Start {
		t.Errorf("short word got more time than long word: %v", timings)
	}
}

func TestAlignClampsOutOfRangeTimestamps(t *testing.T) {
	// Transcript timestamps overshoot the audio duration.
	ft := &fakeTranscriber{words: []TranscriptWord{
		{Word: "one", Start: 0.0, End: 0.5},
		{Word: "two", Start: 0.4, End: 0.9},
		{Word: "three", Start: 2.5, End: 9.0},
	}}
	a := NewAligner(ft)

	timings := a.Align(context.Background(), Request{
		Text:            "one two three",
		Audio:           []byte("fake"),
		DurationSeconds: 3.0,
	})

	if len(timings) != 3 {
		t.Fatalf("expected 3 word timings, got %d", len(timings))
	}
	assertValid(t, timings, 3.0)
	if timings[2].End > 3.0 {
		t.Errorf("end %v not clamped to duration", timings[2].End)
	}
	if timings[1].Start < timings[0].End {
		t.Errorf("overlap not repaired: %v", timings)
	}
}

func TestAlignEmptyText(t *testing.T) {
	a := NewAligner(nil)
	if timings := a.Align(context.Background(), Request{Text: "   ", DurationSeconds: 1}); len(timings) != 0 {
		t.Errorf("expected no timings for blank text, got %v", timings)
	}
}
