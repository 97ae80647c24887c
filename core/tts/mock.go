package tts

import (
	"context"
	"strings"
)

// MockClient is an offline synthesizer for tests and local development.
// It produces a deterministic fake payload and, when WithTimings is set,
// evenly spaced character timing at a fixed speaking rate.
type MockClient struct {
	WithTimings bool
	// Err, when set, is returned from every Synthesize call.
	Err error
	// Calls counts synthesize invocations.
	Calls int
}

// Name returns the provider tag.
func (c *MockClient) Name() string { return ProviderMock }

// MaxCharacters returns the per-request text limit.
func (c *MockClient) MaxCharacters() int { return 10000 }

// Synthesize fabricates an audio payload at 15 characters per second.
func (c *MockClient) Synthesize(ctx context.Context, text, voiceID string) (*Result, error) {
	c.Calls++
	if c.Err != nil {
		return nil, c.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	const charsPerSecond = 15.0
	duration := float64(len(text)) / charsPerSecond

	result := &Result{
		Audio:           []byte("mock-mp3:" + text),
		Format:          "mp3",
		DurationSeconds: duration,
	}

	if c.WithTimings {
		chars := strings.Split(text, "")
		perChar := duration / float64(len(chars))
		timings := make([]CharTiming, len(chars))
		for i, ch := range chars {
			timings[i] = CharTiming{
				Char:  ch,
				Start: float64(i) * perChar,
				End:   float64(i+1) * perChar,
			}
		}
		result.CharTimings = timings
	}

	return result, nil
}
