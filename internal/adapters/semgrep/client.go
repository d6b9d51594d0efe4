// Package semgrep adapts the semgrep scan service to the backend contract.
// The service runs the export-control/cryptography ruleset against a
// workspace path it shares with this process and exposes a small job API.
package semgrep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"legalscan/internal/domain"
	"legalscan/internal/ports"
)

const backendName = "semgrep"

type Client struct {
	baseURL string
	httpc   *http.Client
	log     *slog.Logger
}

func New(baseURL string, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 2 * time.Minute},
		log:     log,
	}
}

func (c *Client) Name() string { return backendName }

func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.get(ctx, "/api/v1/version")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("semgrep health check failed: %s", resp.Status)
	}
	return nil
}

type submitRequest struct {
	Path string `json:"path"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"` // pending, running, done, failed
	Error  string `json:"error"`
}

// Submit asks the service to scan the workspace path and returns the job id
// as the handle.
func (c *Client) Submit(ctx context.Context, workspace string) (ports.JobHandle, error) {
	payload, _ := json.Marshal(submitRequest{Path: workspace})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/scans", bytes.NewReader(payload))
	if err != nil {
		return "", &ports.SubmissionError{Backend: backendName, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &ports.SubmissionError{Backend: backendName, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ports.SubmissionError{
			Backend: backendName,
			Err:     fmt.Errorf("scan rejected: %s: %s", resp.Status, readBody(resp)),
		}
	}
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &ports.SubmissionError{Backend: backendName, Err: fmt.Errorf("decode submit response: %w", err)}
	}
	if out.ID == "" {
		return "", &ports.SubmissionError{Backend: backendName, Err: fmt.Errorf("service returned no job id")}
	}
	return ports.JobHandle(out.ID), nil
}

func (c *Client) Poll(ctx context.Context, handle ports.JobHandle) (ports.JobState, error) {
	resp, err := c.get(ctx, "/api/v1/scans/"+string(handle))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("job status: %s", resp.Status)
	}
	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", fmt.Errorf("decode job status: %w", err)
	}
	switch job.Status {
	case "done":
		return ports.JobDone, nil
	case "failed":
		return ports.JobFailed, nil
	case "running":
		return ports.JobRunning, nil
	default:
		return ports.JobPending, nil
	}
}

// Fetch retrieves the raw semgrep JSON output and normalizes it into
// export-control findings.
func (c *Client) Fetch(ctx context.Context, handle ports.JobHandle) ([]domain.Finding, error) {
	resp, err := c.get(ctx, "/api/v1/scans/"+string(handle)+"/results")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scan results: %s: %s", resp.Status, readBody(resp))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	findings, err := parseOutput(raw, c.log)
	if err != nil {
		return nil, &ports.ParseError{Backend: backendName, Err: err}
	}
	return findings, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.httpc.Do(req)
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return strings.TrimSpace(string(b))
}
