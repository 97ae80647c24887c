package align

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// TranscriptWord is one word timestamp from a speech-to-text pass.
type TranscriptWord struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcriber converts rendered audio back into word timestamps, used by the
// forced-alignment strategy.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) ([]TranscriptWord, error)
}

// WhisperTranscriber calls a Whisper-compatible transcription endpoint with
// word-level timestamp granularity.
type WhisperTranscriber struct {
	apiKey     string
	baseURL    string
	modelID    string
	httpClient *http.Client
}

// NewWhisperTranscriber creates a transcriber against the given base URL.
func NewWhisperTranscriber(apiKey, baseURL, modelID string, timeout time.Duration) *WhisperTranscriber {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if modelID == "" {
		modelID = "whisper-1"
	}
	return &WhisperTranscriber{
		apiKey:  apiKey,
		baseURL: baseURL,
		modelID: modelID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type whisperResponse struct {
	Text  string           `json:"text"`
	Words []TranscriptWord `json:"words"`
}

// Transcribe uploads the audio and returns per-word timestamps.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, format string) ([]TranscriptWord, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "sentence."+format)
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to write audio part: %w", err)
	}
	_ = writer.WriteField("model", t.modelID)
	_ = writer.WriteField("response_format", "verbose_json")
	_ = writer.WriteField("timestamp_granularities[]", "word")
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("transcription returned status %d: %s", resp.StatusCode, detail)
	}

	var payload whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}
	return payload.Words, nil
}
