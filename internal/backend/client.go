package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job is the backend's authoritative view of a single job.
type Job struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// StatusFetcher fetches the authoritative status of a single job.
type StatusFetcher interface {
	JobStatus(ctx context.Context, id string) (Job, error)
}

// Prober checks backend reachability.
type Prober interface {
	Health(ctx context.Context) error
}

// Client talks to the transcription backend over HTTP.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

var (
	_ StatusFetcher = (*Client)(nil)
	_ Prober        = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates a backend client.
func New(baseURL, apiToken string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("backend base url required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   strings.TrimSpace(apiToken),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// JobStatus fetches the current status of a job by id.
func (c *Client) JobStatus(ctx context.Context, id string) (Job, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Job{}, errors.New("job id must not be empty")
	}

	endpoint := c.baseURL + "/jobs/" + url.PathEscape(id)
	req, err := c.newRequest(ctx, endpoint)
	if err != nil {
		return Job{}, err
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return Job{}, fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Job{}, fmt.Errorf("job status fetch returned %d (latency=%v)", resp.StatusCode, latency)
	}

	var payload Job
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Job{}, fmt.Errorf("decode job status response: %w", err)
	}
	if payload.ID == "" {
		payload.ID = id
	}
	return payload, nil
}

// Health performs a single reachability probe. Any response other than
// 200 OK, and any transport error or timeout, counts as unhealthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, c.baseURL+"/health")
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute health probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	return req, nil
}
