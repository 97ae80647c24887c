package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"readecho/logger"
)

const (
	openAIMaxChars = 4096
	// Per-character pricing for the tts-1 model, used as the cost estimate.
	openAICostPerChar = 0.000015
)

// OpenAIClient synthesizes speech via the OpenAI audio API. It reports no
// character timing, so alignment falls through to forced alignment or the
// estimated fallback.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOpenAIClient creates an OpenAI TTS client.
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration) *OpenAIClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   "tts-1",
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the provider tag.
func (c *OpenAIClient) Name() string { return ProviderOpenAI }

// MaxCharacters returns the per-request text limit.
func (c *OpenAIClient) MaxCharacters() int { return openAIMaxChars }

type openAISpeechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize renders text to mp3.
func (c *OpenAIClient) Synthesize(ctx context.Context, text, voiceID string) (*Result, error) {
	if len(text) > openAIMaxChars {
		return nil, &ProviderError{
			Provider:  ProviderOpenAI,
			Message:   fmt.Sprintf("input length %d exceeds limit %d", len(text), openAIMaxChars),
			Retryable: false,
		}
	}

	body, err := json.Marshal(openAISpeechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          voiceID,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create speech request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(ProviderOpenAI, resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Message: err.Error(), Retryable: true}
	}
	if len(audio) == 0 {
		return nil, &UnexpectedResponseError{Provider: ProviderOpenAI, Message: "empty audio payload"}
	}

	logger.Debug("openai synthesis complete",
		logger.Int("textLen", len(text)),
		logger.Int("audioBytes", len(audio)),
		logger.String("voice", voiceID))

	return &Result{
		Audio:   audio,
		Format:  "mp3",
		CostUSD: float64(len(text)) * openAICostPerChar,
	}, nil
}

// classifyHTTPStatus maps a non-200 provider response onto the error
// taxonomy: 429/5xx retryable, 4xx permanent.
func classifyHTTPStatus(provider string, resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return &ProviderError{
		Provider:  provider,
		Status:    resp.StatusCode,
		Message:   string(detail),
		Retryable: retryable,
	}
}
