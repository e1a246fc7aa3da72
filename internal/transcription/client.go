package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmaudet/twake-assistant/internal/audio"
)

// Client provides HTTP client functionality for the session-based
// transcription backend
type Client struct {
	config     Config
	httpClient *http.Client

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Segment represents a transcribed text span returned by the backend.
// Timestamp holds [start, end] in seconds when the backend provides word
// timings, and is nil otherwise.
type Segment struct {
	Text      string    `json:"text"`
	Timestamp []float64 `json:"timestamp,omitempty"`
}

// Result represents the response of a process call. Committed holds the
// authoritative full list of finalized segments; Uncommitted holds the
// provisional segments, fully replaced on every poll.
type Result struct {
	Committed   []Segment `json:"committed"`
	Uncommitted []Segment `json:"uncommitted"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// NewClient creates a new transcription session client
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}, nil
}

// CreateSession creates a new transcription session for the given language
// and returns the server-issued session identifier
func (c *Client) CreateSession(ctx context.Context, language string) (string, error) {
	body := map[string]string{"language": language}

	var resp struct {
		SessionID string `json:"session_id"`
	}

	// The create path carries a trailing slash; the backend routes it that way.
	if err := c.doJSON(ctx, "/session/create/", body, &resp); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	if resp.SessionID == "" {
		return "", fmt.Errorf("backend returned an empty session id")
	}

	return resp.SessionID, nil
}

// AddChunk transmits one audio chunk, base64-encoded, to the session buffer.
// Fire-and-report: a failure is returned but never aborts the session.
func (c *Client) AddChunk(ctx context.Context, sessionID string, samples []float32) error {
	body := map[string]string{"audio_base64": audio.EncodeChunkBase64(samples)}

	path := fmt.Sprintf("/session/%s/add_chunk", url.PathEscape(sessionID))
	if err := c.doJSON(ctx, path, body, nil); err != nil {
		return fmt.Errorf("failed to add chunk: %w", err)
	}

	return nil
}

// Process asks the backend to reconcile buffered audio into text and returns
// the current committed and uncommitted segment lists
func (c *Client) Process(ctx context.Context, sessionID string) (*Result, error) {
	var result Result

	path := fmt.Sprintf("/session/%s/process", url.PathEscape(sessionID))
	if err := c.doJSON(ctx, path, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to process session: %w", err)
	}

	return &result, nil
}

// End terminates the session on the backend. The response body is ignored.
func (c *Client) End(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/session/%s/end", url.PathEscape(sessionID))
	if err := c.doJSON(ctx, path, nil, nil); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	return nil
}

// Clear resets the session's audio buffer and accumulated text on the
// backend without ending it
func (c *Client) Clear(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/session/%s/clear", url.PathEscape(sessionID))
	if err := c.doJSON(ctx, path, nil, nil); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	return nil
}

// Health checks whether the backend is reachable and reports itself healthy
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend unhealthy: HTTP %d", resp.StatusCode)
	}

	return nil
}

// doJSON performs a single POST with an optional JSON body and decodes the
// response into out when non-nil. There is no retry: every call is a single
// attempt whose failure is scoped to the operation that issued it.
func (c *Client) doJSON(ctx context.Context, path string, body, out interface{}) error {
	startTime := time.Now()
	c.incrementTotalRequests()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.incrementFailedRequests()
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, reqBody)
	if err != nil {
		c.incrementFailedRequests()
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.incrementFailedRequests()
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.incrementFailedRequests()
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Non-2xx is a failure with a generic message; no structured error body
	// is parsed.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.incrementFailedRequests()
		return fmt.Errorf("HTTP error %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			c.incrementFailedRequests()
			return fmt.Errorf("failed to parse response JSON: %w", err)
		}
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))

	return nil
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
	}
}
