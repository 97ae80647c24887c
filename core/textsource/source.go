// Package textsource fetches book chunk text from the content subsystem,
// which owns simplification and leveling. This service only consumes it.
package textsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ChunkSource provides the plain text of a book chunk at a reading level.
type ChunkSource interface {
	ChunkText(ctx context.Context, bookID, level string, chunkIndex int) (string, error)
	ChunkCount(ctx context.Context, bookID, level string) (int, error)
}

// HTTPChunkSource is a client for the content subsystem's REST surface.
type HTTPChunkSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPChunkSource creates a chunk source against the given base URL.
func NewHTTPChunkSource(baseURL string, timeout time.Duration) *HTTPChunkSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPChunkSource{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chunkResponse struct {
	Text string `json:"text"`
}

type bookLevelResponse struct {
	ChunkCount int `json:"chunkCount"`
}

// ChunkText fetches the (possibly simplified) text of one chunk.
func (s *HTTPChunkSource) ChunkText(ctx context.Context, bookID, level string, chunkIndex int) (string, error) {
	u := fmt.Sprintf("%s/api/books/%s/levels/%s/chunks/%d",
		s.baseURL, url.PathEscape(bookID), url.PathEscape(level), chunkIndex)

	var payload chunkResponse
	if err := s.getJSON(ctx, u, &payload); err != nil {
		return "", fmt.Errorf("failed to fetch chunk text for %s/%s/%d: %w", bookID, level, chunkIndex, err)
	}
	return payload.Text, nil
}

// ChunkCount fetches how many chunks a book has at a reading level.
func (s *HTTPChunkSource) ChunkCount(ctx context.Context, bookID, level string) (int, error) {
	u := fmt.Sprintf("%s/api/books/%s/levels/%s",
		s.baseURL, url.PathEscape(bookID), url.PathEscape(level))

	var payload bookLevelResponse
	if err := s.getJSON(ctx, u, &payload); err != nil {
		return 0, fmt.Errorf("failed to fetch chunk count for %s/%s: %w", bookID, level, err)
	}
	return payload.ChunkCount, nil
}

func (s *HTTPChunkSource) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("content service returned status %d: %s", resp.StatusCode, detail)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
