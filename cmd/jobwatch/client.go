package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antiprophet/studio/pkg/models"
)

// studioClient is a thin HTTP client for the studio API
type studioClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newStudioClient(baseURL, token string) *studioClient {
	return &studioClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *studioClient) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// PendingJobs fetches the caller's pending jobs
func (c *studioClient) PendingJobs(ctx context.Context) ([]models.PendingJob, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/jobs")
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Jobs []models.PendingJob `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}
	return out.Jobs, nil
}

// Dismiss removes a job from the pending list
func (c *studioClient) Dismiss(ctx context.Context, jobID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(jobID))
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to dismiss job: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
}
