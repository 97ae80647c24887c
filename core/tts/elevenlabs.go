package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"readecho/logger"
)

const (
	elevenLabsMaxChars = 5000
	// Rough per-character pricing on the creator tier.
	elevenLabsCostPerChar = 0.00003
)

// ElevenLabsClient synthesizes speech via the ElevenLabs API using the
// with-timestamps endpoint, so results carry character-level timing and the
// aligner can use its highest-accuracy strategy.
type ElevenLabsClient struct {
	apiKey     string
	baseURL    string
	modelID    string
	httpClient *http.Client
}

// NewElevenLabsClient creates an ElevenLabs TTS client.
func NewElevenLabsClient(apiKey, baseURL string, timeout time.Duration) *ElevenLabsClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ElevenLabsClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		modelID: "eleven_multilingual_v2",
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the provider tag.
func (c *ElevenLabsClient) Name() string { return ProviderElevenLabs }

// MaxCharacters returns the per-request text limit.
func (c *ElevenLabsClient) MaxCharacters() int { return elevenLabsMaxChars }

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type elevenLabsResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Alignment   *struct {
		Characters         []string  `json:"characters"`
		CharStartTimesSecs []float64 `json:"character_start_times_seconds"`
		CharEndTimesSecs   []float64 `json:"character_end_times_seconds"`
	} `json:"alignment"`
}

// Synthesize renders text to mp3 with character timestamps.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text, voiceID string) (*Result, error) {
	if len(text) > elevenLabsMaxChars {
		return nil, &ProviderError{
			Provider:  ProviderElevenLabs,
			Message:   fmt.Sprintf("input length %d exceeds limit %d", len(text), elevenLabsMaxChars),
			Retryable: false,
		}
	}

	body, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: c.modelID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/with-timestamps", c.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderElevenLabs, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(ProviderElevenLabs, resp)
	}

	var payload elevenLabsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &UnexpectedResponseError{Provider: ProviderElevenLabs, Message: err.Error()}
	}
	if payload.AudioBase64 == "" {
		return nil, &UnexpectedResponseError{Provider: ProviderElevenLabs, Message: "missing audio payload"}
	}

	audio, err := base64.StdEncoding.DecodeString(payload.AudioBase64)
	if err != nil {
		return nil, &UnexpectedResponseError{Provider: ProviderElevenLabs, Message: "audio payload is not valid base64"}
	}

	result := &Result{
		Audio:   audio,
		Format:  "mp3",
		CostUSD: float64(len(text)) * elevenLabsCostPerChar,
	}

	if a := payload.Alignment; a != nil {
		n := len(a.Characters)
		if len(a.CharStartTimesSecs) != n || len(a.CharEndTimesSecs) != n {
			return nil, &UnexpectedResponseError{Provider: ProviderElevenLabs, Message: "alignment arrays disagree in length"}
		}
		timings := make([]CharTiming, 0, n)
		for i := 0; i < n; i++ {
			timings = append(timings, CharTiming{
				Char:  a.Characters[i],
				Start: a.CharStartTimesSecs[i],
				End:   a.CharEndTimesSecs[i],
			})
		}
		result.CharTimings = timings
		if n > 0 {
			result.DurationSeconds = a.CharEndTimesSecs[n-1]
		}
	}

	logger.Debug("elevenlabs synthesis complete",
		logger.Int("textLen", len(text)),
		logger.Int("audioBytes", len(audio)),
		logger.Bool("nativeTiming", result.HasNativeTiming()),
		logger.String("voice", voiceID))

	return result, nil
}
