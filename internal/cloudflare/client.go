package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"campustv/pkg/clients"
)

// Live input connection states as reported by the Stream API.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateIdle         = "idle"
	StateUnknown      = "unknown"
)

// Recording/download states.
const (
	VideoStateReady      = "ready"
	VideoStateInProgress = "inprogress"
	DownloadReady        = "ready"
)

// APIError is a non-success response from the Stream API.
type APIError struct {
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloudflare stream returned status: %d", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the Stream API.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// Client wraps the Cloudflare Stream API: live-input provisioning, state
// queries, recording lookup and MP4 downloads. Callers drive retries by
// polling; the executor only smooths over transient HTTP failures.
type Client struct {
	baseURL      string
	accountID    string
	apiToken     string
	client       *http.Client
	httpExecutor failsafe.Executor[*http.Response]
	shouldRetry  func(resp *http.Response, err error) bool
}

// Config for creating a Stream client.
type Config struct {
	AccountID string
	APIToken  string
	BaseURL   string // override for tests; defaults to the public API
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

// WithHTTPExecutorConfig overrides retry behavior.
func WithHTTPExecutorConfig(cfg clients.HTTPExecutorConfig) Option {
	return func(c *Client) {
		c.httpExecutor = clients.NewHTTPExecutor(cfg)
		c.shouldRetry = cfg.ShouldRetry
	}
}

// NewClient creates a Stream API client.
func NewClient(cfg Config, opts ...Option) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.cloudflare.com/client/v4"
	}
	defaultConfig := clients.DefaultHTTPExecutorConfig()
	c := &Client{
		baseURL:      baseURL,
		accountID:    cfg.AccountID,
		apiToken:     cfg.APIToken,
		client:       &http.Client{Timeout: 30 * time.Second},
		httpExecutor: clients.NewHTTPExecutor(defaultConfig),
		shouldRetry:  defaultConfig.ShouldRetry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) doRequest(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	build := func(ctx context.Context) (*http.Request, error) {
		var reader *bytes.Buffer
		if body != nil {
			reader = bytes.NewBuffer(body)
		} else {
			reader = bytes.NewBuffer(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}

	return clients.ExecuteHTTP(ctx, c.httpExecutor, func() (*http.Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if c.shouldRetry != nil && c.shouldRetry(resp, err) {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return resp, err
	})
}

// LiveInput is a provisioned ingest endpoint.
type LiveInput struct {
	UID         string
	RTMPSURL    string
	StreamKey   string
	PlaybackURL string
}

// Video is a recording attached to a live input.
type Video struct {
	UID             string
	State           string
	DurationSeconds float64
	PreviewURL      string
	PlaybackURL     string
}

// DownloadStatus is the state of an MP4 download job.
type DownloadStatus struct {
	Status string
	URL    string
}

func (c *Client) liveInputsURL(suffix string) string {
	return fmt.Sprintf("%s/accounts/%s/stream/live_inputs%s", c.baseURL, c.accountID, suffix)
}

func (c *Client) streamURL(suffix string) string {
	return fmt.Sprintf("%s/accounts/%s/stream%s", c.baseURL, c.accountID, suffix)
}

// CreateLiveInput provisions a new live input with recording enabled.
func (c *Client) CreateLiveInput(ctx context.Context, name string) (*LiveInput, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"meta":      map[string]string{"name": name},
		"recording": map[string]interface{}{"mode": "automatic", "timeoutSeconds": 10},
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, c.liveInputsURL(""), payload)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode}
	}

	var result struct {
		Result struct {
			UID   string `json:"uid"`
			RTMPS struct {
				URL       string `json:"url"`
				StreamKey string `json:"streamKey"`
			} `json:"rtmps"`
			WebRTCPlayback struct {
				URL string `json:"url"`
			} `json:"webRTCPlayback"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode live input response: %w", err)
	}

	return &LiveInput{
		UID:         result.Result.UID,
		RTMPSURL:    result.Result.RTMPS.URL,
		StreamKey:   result.Result.RTMPS.StreamKey,
		PlaybackURL: result.Result.WebRTCPlayback.URL,
	}, nil
}

// GetLiveInputState returns the current ingest connection state for a live input.
func (c *Client) GetLiveInputState(ctx context.Context, uid string) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.liveInputsURL("/"+uid), nil)
	if err != nil {
		return StateUnknown, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return StateUnknown, &APIError{StatusCode: resp.StatusCode}
	}

	var result struct {
		Result struct {
			Status *struct {
				Current struct {
					State string `json:"state"`
				} `json:"current"`
			} `json:"status"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return StateUnknown, fmt.Errorf("failed to decode live input state: %w", err)
	}

	// A never-used input has no status block.
	if result.Result.Status == nil || result.Result.Status.Current.State == "" {
		return StateIdle, nil
	}
	return result.Result.Status.Current.State, nil
}

// LiveInputExists validates that a cached remote stream id still resolves.
func (c *Client) LiveInputExists(ctx context.Context, uid string) (bool, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.liveInputsURL("/"+uid), nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, &APIError{StatusCode: resp.StatusCode}
	}
	return true, nil
}

// ListRecordedVideos returns recordings attached to a live input.
func (c *Client) ListRecordedVideos(ctx context.Context, uid string) ([]Video, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.liveInputsURL("/"+uid+"/videos"), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode}
	}

	var result struct {
		Result []videoPayload `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode recorded videos: %w", err)
	}

	videos := make([]Video, 0, len(result.Result))
	for _, v := range result.Result {
		videos = append(videos, v.toVideo())
	}
	return videos, nil
}

// GetVideoMetadata returns the state and duration of a single recording.
func (c *Client) GetVideoMetadata(ctx context.Context, videoUID string) (*Video, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.streamURL("/"+videoUID), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode}
	}

	var result struct {
		Result videoPayload `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode video metadata: %w", err)
	}
	video := result.Result.toVideo()
	return &video, nil
}

// RequestDownload starts an MP4 download job for a recording.
func (c *Client) RequestDownload(ctx context.Context, videoUID string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, c.streamURL("/"+videoUID+"/downloads"), []byte("{}"))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}

// GetDownloadStatus polls the MP4 download job for a recording.
func (c *Client) GetDownloadStatus(ctx context.Context, videoUID string) (*DownloadStatus, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.streamURL("/"+videoUID+"/downloads"), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode}
	}

	var result struct {
		Result struct {
			Default struct {
				Status string `json:"status"`
				URL    string `json:"url"`
			} `json:"default"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode download status: %w", err)
	}
	return &DownloadStatus{
		Status: result.Result.Default.Status,
		URL:    result.Result.Default.URL,
	}, nil
}

// DeleteLiveInput tears down a live input. A 404 counts as success so the
// call stays idempotent across webhook/monitor races.
func (c *Client) DeleteLiveInput(ctx context.Context, uid string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, c.liveInputsURL("/"+uid), nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}

type videoPayload struct {
	UID    string `json:"uid"`
	Status struct {
		State string `json:"state"`
	} `json:"status"`
	Duration float64 `json:"duration"`
	Preview  string  `json:"preview"`
	Playback struct {
		HLS string `json:"hls"`
	} `json:"playback"`
}

func (v videoPayload) toVideo() Video {
	return Video{
		UID:             v.UID,
		State:           v.Status.State,
		DurationSeconds: v.Duration,
		PreviewURL:      v.Preview,
		PlaybackURL:     v.Playback.HLS,
	}
}
