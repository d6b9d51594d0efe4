// Package fossology adapts the Fossology REST API to the backend contract:
// submit uploads an archive of the workspace and schedules an analysis job,
// poll observes the job, fetch pulls license and copyright results and
// normalizes them into domain findings.
package fossology

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"legalscan/internal/domain"
	"legalscan/internal/ports"
)

const backendName = "fossology"

type Client struct {
	baseURL  string
	token    string
	folderID int
	httpc    *http.Client
	log      *slog.Logger

	// upload readiness wait, tunable in tests
	readyMaxWait time.Duration
}

func New(baseURL, token string, log *slog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		folderID:     1,
		httpc:        &http.Client{Timeout: 5 * time.Minute},
		log:          log,
		readyMaxWait: 5 * time.Minute,
	}
}

func (c *Client) Name() string { return backendName }

// HealthCheck verifies the API is reachable. Used only for startup
// diagnostics.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/repo/api/v1/version", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fossology health check failed: %s", resp.Status)
	}
	return nil
}

type uploadResponse struct {
	Code    int    `json:"code"`
	Message int    `json:"message"` // the upload id
	Type    string `json:"type"`
}

type jobResponse struct {
	Code    int    `json:"code"`
	Message int    `json:"message"` // the job id
	Type    string `json:"type"`
}

type uploadDetails struct {
	ID   int             `json:"id"`
	Hash json.RawMessage `json:"hash"` // present once extraction finished
}

type jobStatus struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Submit archives the workspace, uploads it, waits until Fossology has
// extracted and indexed the upload, and schedules the analysis job. The
// returned handle encodes both the upload and the job id.
func (c *Client) Submit(ctx context.Context, workspace string) (ports.JobHandle, error) {
	archive, err := createArchive(workspace)
	if err != nil {
		return "", &ports.SubmissionError{Backend: backendName, Err: err}
	}
	defer os.Remove(archive)

	uploadID, err := c.upload(ctx, archive)
	if err != nil {
		return "", &ports.SubmissionError{Backend: backendName, Err: err}
	}
	c.log.Debug("fossology upload accepted", "upload_id", uploadID)

	if err := c.waitUploadReady(ctx, uploadID); err != nil {
		return "", &ports.SubmissionError{Backend: backendName, Err: err}
	}

	jobID, err := c.createJob(ctx, uploadID)
	if err != nil {
		return "", &ports.SubmissionError{Backend: backendName, Err: err}
	}
	c.log.Debug("fossology job created", "upload_id", uploadID, "job_id", jobID)

	return ports.JobHandle(fmt.Sprintf("%d:%d", uploadID, jobID)), nil
}

// Poll maps the Fossology job status onto the shared job states.
func (c *Client) Poll(ctx context.Context, handle ports.JobHandle) (ports.JobState, error) {
	_, jobID, err := splitHandle(handle)
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repo/api/v1/jobs/%d", jobID), nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("job status: %s", resp.Status)
	}
	var status jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("decode job status: %w", err)
	}
	switch status.Status {
	case "Completed":
		return ports.JobDone, nil
	case "Failed":
		return ports.JobFailed, nil
	case "Queued":
		return ports.JobPending, nil
	default:
		return ports.JobRunning, nil
	}
}

// Fetch pulls license and copyright results for the upload and normalizes
// them. Valid only once Poll has reported JobDone.
func (c *Client) Fetch(ctx context.Context, handle ports.JobHandle) ([]domain.Finding, error) {
	uploadID, _, err := splitHandle(handle)
	if err != nil {
		return nil, err
	}

	licenses, err := c.fetchLicenses(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	copyrights, err := c.fetchCopyrights(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	findings := parseLicenseResults(licenses)
	findings = append(findings, parseCopyrightResults(copyrights)...)
	return findings, nil
}

func (c *Client) upload(ctx context.Context, archive string) (int, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("fileInput", "repository.tar.gz")
	if err != nil {
		return 0, err
	}
	f, err := os.Open(archive)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := io.Copy(part, f); err != nil {
		return 0, err
	}
	if err := mw.WriteField("uploadDescription", "repository scan"); err != nil {
		return 0, err
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/repo/api/v1/uploads", &body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("folderId", fmt.Sprint(c.folderID))
	req.Header.Set("uploadType", "file")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("upload rejected: %s: %s", resp.Status, readBody(resp))
	}
	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode upload response: %w", err)
	}
	return out.Message, nil
}

// waitUploadReady polls the upload until Fossology reports its content hash,
// which signals extraction and indexing are done. Backoff: 1s doubling to a
// 30s cap.
func (c *Client) waitUploadReady(ctx context.Context, uploadID int) error {
	start := time.Now()
	delay := time.Second
	for {
		if time.Since(start) > c.readyMaxWait {
			return fmt.Errorf("upload %d not ready after %s", uploadID, c.readyMaxWait)
		}
		resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repo/api/v1/uploads/%d", uploadID), nil, "")
		if err == nil {
			// 503 is normal while Fossology is still unpacking
			if resp.StatusCode == http.StatusOK {
				var details uploadDetails
				decodeErr := json.NewDecoder(resp.Body).Decode(&details)
				resp.Body.Close()
				if decodeErr == nil && len(details.Hash) > 0 && string(details.Hash) != "null" {
					return nil
				}
			} else {
				resp.Body.Close()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func (c *Client) createJob(ctx context.Context, uploadID int) (int, error) {
	spec := map[string]any{
		"analysis": map[string]bool{
			"bucket":                 true,
			"copyright_email_author": true,
			"ecc":                    true,
			"keyword":                false,
			"mime":                   true,
			"monk":                   true,
			"nomos":                  true,
			"ojo":                    true,
			"package":                true,
		},
	}
	payload, _ := json.Marshal(spec)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/repo/api/v1/jobs", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("uploadId", fmt.Sprint(uploadID))
	req.Header.Set("folderId", fmt.Sprint(c.folderID))

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("job creation rejected: %s: %s", resp.Status, readBody(resp))
	}
	var out jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode job response: %w", err)
	}
	return out.Message, nil
}

func (c *Client) fetchLicenses(ctx context.Context, uploadID int) ([]licenseResponse, error) {
	path := fmt.Sprintf("/repo/api/v1/uploads/%d/licenses?agent=nomos,monk,ojo&containers=true", uploadID)
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("license results: %s: %s", resp.Status, readBody(resp))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	out, err := decodeLicenseResponses(raw)
	if err != nil {
		return nil, &ports.ParseError{Backend: backendName, Err: err}
	}
	return out, nil
}

func (c *Client) fetchCopyrights(ctx context.Context, uploadID int) ([]copyrightResponse, error) {
	path := fmt.Sprintf("/repo/api/v1/uploads/%d/copyrights", uploadID)
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("copyright results: %s: %s", resp.Status, readBody(resp))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	out, err := decodeCopyrightResponses(raw)
	if err != nil {
		return nil, &ports.ParseError{Backend: backendName, Err: err}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.httpc.Do(req)
}

func splitHandle(handle ports.JobHandle) (uploadID, jobID int, err error) {
	if _, err = fmt.Sscanf(string(handle), "%d:%d", &uploadID, &jobID); err != nil {
		return 0, 0, fmt.Errorf("malformed fossology job handle %q", handle)
	}
	return uploadID, jobID, nil
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return strings.TrimSpace(string(b))
}

// createArchive tars the workspace so it can be uploaded as a single file.
func createArchive(workspace string) (string, error) {
	archive := filepath.Join(os.TempDir(), uuid.NewString()+".tar.gz")
	parent := filepath.Dir(workspace)
	out, err := exec.Command("tar", "-czf", archive, "-C", parent, filepath.Base(workspace)).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tar: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return archive, nil
}
