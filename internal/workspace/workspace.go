package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidURL marks repository URLs that git cannot clone from.
var ErrInvalidURL = errors.New("invalid git URL")

// AcquisitionError means the workspace could not be obtained (invalid URL,
// auth failure, clone failure). It is fatal to the whole scan.
type AcquisitionError struct {
	Err error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("workspace acquisition failed: %v", e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// CloneFunc checks a repository out into dest. Tests swap it for a fake.
type CloneFunc func(ctx context.Context, gitURL, token, dest string) error

// Manager hands out isolated per-scan filesystem areas under a common base
// directory.
type Manager struct {
	baseDir string
	clone   CloneFunc
	log     *slog.Logger
}

func NewManager(baseDir string, log *slog.Logger) *Manager {
	return &Manager{baseDir: baseDir, clone: gitClone, log: log}
}

// WithClone overrides the clone implementation; used in tests.
func (m *Manager) WithClone(clone CloneFunc) *Manager {
	m.clone = clone
	return m
}

// EnsureBaseDir creates the base workspace directory if missing.
func (m *Manager) EnsureBaseDir() error {
	return os.MkdirAll(m.baseDir, 0o755)
}

// For returns the workspace handle scoped to one scan. Nothing is created
// on disk until Acquire.
func (m *Manager) For(scanID string) *Workspace {
	return &Workspace{
		path: filepath.Join(m.baseDir, scanID),
		m:    m,
	}
}

// Workspace is the isolated on-disk checkout used by one scan. It is owned
// exclusively by the orchestrator for the scan's duration.
type Workspace struct {
	path string
	m    *Manager

	mu       sync.Mutex
	acquired bool
}

// Path returns the checkout directory.
func (w *Workspace) Path() string { return w.path }

// Acquire creates the workspace directory and clones the repository into it.
// Any failure is reported as an AcquisitionError; partially created state is
// removed by Release, which the caller must invoke on every exit path.
func (w *Workspace) Acquire(ctx context.Context, gitURL, token string) (string, error) {
	if err := ValidateGitURL(gitURL); err != nil {
		return "", &AcquisitionError{Err: err}
	}
	w.mu.Lock()
	w.acquired = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.path, 0o755); err != nil {
		return "", &AcquisitionError{Err: err}
	}
	if err := w.m.clone(ctx, gitURL, token, w.path); err != nil {
		return "", &AcquisitionError{Err: err}
	}
	w.m.log.Debug("workspace acquired", "path", w.path)
	return w.path, nil
}

// Release removes the workspace from disk. It is an idempotent no-op when
// nothing was acquired or when called twice.
func (w *Workspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.acquired {
		return nil
	}
	w.acquired = false
	if err := os.RemoveAll(w.path); err != nil {
		return err
	}
	w.m.log.Debug("workspace released", "path", w.path)
	return nil
}

// ValidateGitURL accepts the URL schemes git can clone from.
func ValidateGitURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	prefixes := []string{"http://", "https://", "git://", "ssh://", "git@"}
	for _, p := range prefixes {
		if strings.HasPrefix(raw, p) {
			return nil
		}
	}
	return fmt.Errorf("%w: must start with one of: %s", ErrInvalidURL, strings.Join(prefixes, ", "))
}

// gitClone shells out to git. For https URLs a token is injected as the
// userinfo component, the way GitHub PATs authenticate; the token is
// scrubbed from any error before it propagates.
func gitClone(ctx context.Context, gitURL, token, dest string) error {
	cloneURL := gitURL
	if token != "" && strings.HasPrefix(gitURL, "https://") {
		u, err := url.Parse(gitURL)
		if err != nil {
			return fmt.Errorf("parse git URL: %w", err)
		}
		u.User = url.User(token)
		cloneURL = u.String()
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", cloneURL, dest)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if token != "" {
			msg = strings.ReplaceAll(msg, token, "***")
		}
		return fmt.Errorf("git clone: %v: %s", err, msg)
	}
	return nil
}
