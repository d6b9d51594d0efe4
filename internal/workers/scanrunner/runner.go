// Package scanrunner owns the scan state machine. One scan runs end to end
// at a time off a bounded FIFO queue; within a scan the registered backends
// run concurrently against the same workspace and are joined before the
// overall status and risk are resolved.
package scanrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"legalscan/internal/domain"
	"legalscan/internal/ports"
	"legalscan/internal/risk"
)

const interruptedError = "interrupted before completion"

// ErrQueueFull is returned by Enqueue when the bounded queue cannot accept
// another scan.
var ErrQueueFull = errors.New("scan queue full")

// Workspace is the slice of the workspace manager the runner needs; the
// concrete type lives in internal/workspace.
type Workspace interface {
	Acquire(ctx context.Context, gitURL, token string) (string, error)
	Release() error
}

// PollConfig bounds each backend's poll loop: delays grow exponentially from
// Initial to the Max cap, the loop gives up after Timeout, and MaxErrs
// consecutive transport errors fail the backend.
type PollConfig struct {
	Initial time.Duration
	Max     time.Duration
	Timeout time.Duration
	MaxErrs int
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		Initial: time.Second,
		Max:     30 * time.Second,
		Timeout: 10 * time.Minute,
		MaxErrs: 3,
	}
}

const (
	storeAttempts  = 3
	storeBaseDelay = 200 * time.Millisecond
)

// Runner is the scan orchestrator.
type Runner struct {
	store      ports.ScanStore
	backends   []ports.Backend
	workspaces func(scanID string) Workspace
	engine     *risk.Engine
	poll       PollConfig
	queue      chan string
	log        *slog.Logger

	// serializes full-row scan upserts issued by concurrent backend runs
	mu sync.Mutex
}

func New(
	store ports.ScanStore,
	backends []ports.Backend,
	workspaces func(scanID string) Workspace,
	engine *risk.Engine,
	poll PollConfig,
	queueSize int,
	log *slog.Logger,
) *Runner {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Runner{
		store:      store,
		backends:   backends,
		workspaces: workspaces,
		engine:     engine,
		poll:       poll,
		queue:      make(chan string, queueSize),
		log:        log,
	}
}

// Enqueue admits a scan into the FIFO queue. It never blocks; a full queue
// is reported to the caller.
func (r *Runner) Enqueue(ctx context.Context, scanID string) error {
	select {
	case r.queue <- scanID:
		return nil
	default:
		return ErrQueueFull
	}
}

// SweepOrphans fails every scan left non-terminal by a previous process.
// It must run before the queue accepts work so an orphan is never picked up
// again.
func (r *Runner) SweepOrphans(ctx context.Context) error {
	orphans, err := r.store.ListScans(ctx, domain.StatusPending, domain.StatusInProgress)
	if err != nil {
		return fmt.Errorf("list orphaned scans: %w", err)
	}
	for i := range orphans {
		scan := &orphans[i]
		now := time.Now().UTC()
		scan.Status = domain.StatusFailed
		scan.Error = interruptedError
		scan.CompletedAt = &now
		for _, run := range scan.Backends {
			if !run.Status.Terminal() {
				run.Status = domain.StatusFailed
				run.Error = interruptedError
				run.CompletedAt = &now
			}
		}
		if err := r.saveScan(ctx, scan); err != nil {
			return fmt.Errorf("sweep scan %s: %w", scan.ID, err)
		}
		r.log.Warn("swept orphaned scan", "scan_id", scan.ID)
	}
	return nil
}

// Run drains the queue until the context is cancelled. Scans execute one at
// a time; concurrency lives inside execute.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case scanID := <-r.queue:
			r.execute(ctx, scanID)
		}
	}
}

func (r *Runner) execute(ctx context.Context, scanID string) {
	scan, err := r.store.GetScan(ctx, scanID)
	if err != nil {
		r.log.Error("dequeued scan not loadable", "scan_id", scanID, "err", err)
		return
	}
	log := r.log.With("scan_id", scan.ID)
	log.Info("scan started", "git_url", scan.GitURL)

	now := time.Now().UTC()
	scan.Status = domain.StatusInProgress
	scan.StartedAt = &now
	if err := r.saveScan(ctx, scan); err != nil {
		log.Error("failed to mark scan in progress", "err", err)
		return
	}

	ws := r.workspaces(scan.ID)
	defer func() {
		if err := ws.Release(); err != nil {
			log.Error("workspace release failed", "err", err)
		}
	}()

	path, err := ws.Acquire(ctx, scan.GitURL, scan.GitToken)
	// The token is only needed for acquisition; drop it from memory now.
	scan.GitToken = ""
	if err != nil {
		r.failAll(ctx, scan, err.Error())
		log.Error("scan failed", "err", err)
		return
	}

	var wg sync.WaitGroup
	for _, b := range r.backends {
		wg.Add(1)
		go func(b ports.Backend) {
			defer wg.Done()
			r.runBackend(ctx, scan, b, path)
		}(b)
	}
	wg.Wait()

	done := time.Now().UTC()
	scan.Status = domain.OverallStatus(scan.Backends)
	scan.CompletedAt = &done
	if scan.Status == domain.StatusFailed {
		scan.Error = "all scanner backends failed"
	}

	if anyCompleted(scan.Backends) {
		if err := r.scoreScan(ctx, scan); err != nil {
			scan.Status = domain.StatusFailed
			scan.Error = "scoring failed"
			log.Error("risk scoring failed", "err", err)
		}
	}

	if err := r.saveScan(ctx, scan); err != nil {
		log.Error("failed to persist terminal scan state", "err", err)
		return
	}
	log.Info("scan finished", "status", scan.Status)
}

// runBackend drives one backend through submit, poll, fetch, and persist.
// Failures here are scoped to this backend's run and never touch the
// sibling.
func (r *Runner) runBackend(ctx context.Context, scan *domain.Scan, b ports.Backend, workspace string) {
	run := scan.Backends[b.Name()]
	log := r.log.With("scan_id", scan.ID, "backend", b.Name())

	err := r.transition(ctx, scan, func() {
		now := time.Now().UTC()
		run.Status = domain.StatusInProgress
		run.StartedAt = &now
	})
	if err != nil {
		log.Error("failed to mark backend in progress", "err", err)
	}

	findings, err := r.runJob(ctx, b, workspace)
	if err == nil && len(findings) > 0 {
		for i := range findings {
			findings[i].ScanID = scan.ID
		}
		err = retry(ctx, storeAttempts, storeBaseDelay, func() error {
			return r.store.AppendFindings(ctx, findings)
		})
		if err != nil {
			err = fmt.Errorf("persist findings: %w", err)
		}
	}

	saveErr := r.transition(ctx, scan, func() {
		done := time.Now().UTC()
		run.CompletedAt = &done
		if err != nil {
			run.Status = domain.StatusFailed
			run.Error = err.Error()
		} else {
			run.Status = domain.StatusCompleted
		}
	})
	if err != nil {
		log.Error("backend failed", "err", err)
	} else {
		log.Info("backend completed", "findings", len(findings))
	}
	if saveErr != nil {
		log.Error("failed to persist backend state", "err", saveErr)
	}
}

// runJob is the bounded submit/poll/fetch sequence against one backend.
func (r *Runner) runJob(ctx context.Context, b ports.Backend, workspace string) ([]domain.Finding, error) {
	handle, err := b.Submit(ctx, workspace)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	delay := r.poll.Initial
	pollErrs := 0
	for {
		state, err := b.Poll(ctx, handle)
		switch {
		case err != nil:
			pollErrs++
			if pollErrs >= r.poll.MaxErrs {
				return nil, fmt.Errorf("poll: %w", err)
			}
		case state == ports.JobDone:
			return b.Fetch(ctx, handle)
		case state == ports.JobFailed:
			return nil, fmt.Errorf("backend reported job failure")
		default:
			pollErrs = 0
		}

		if time.Since(start) > r.poll.Timeout {
			return nil, &ports.TimeoutError{Backend: b.Name(), Elapsed: time.Since(start)}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < r.poll.Max {
			delay *= 2
			if delay > r.poll.Max {
				delay = r.poll.Max
			}
		}
	}
}

// failAll marks the scan and every backend run failed with the same message.
// Used when acquisition fails before any backend ran.
func (r *Runner) failAll(ctx context.Context, scan *domain.Scan, msg string) {
	now := time.Now().UTC()
	scan.Status = domain.StatusFailed
	scan.Error = msg
	scan.CompletedAt = &now
	for _, run := range scan.Backends {
		run.Status = domain.StatusFailed
		run.Error = msg
		run.CompletedAt = &now
	}
	if err := r.saveScan(ctx, scan); err != nil {
		r.log.Error("failed to persist failed scan", "scan_id", scan.ID, "err", err)
	}
}

// scoreScan folds the persisted findings and the current rule snapshot into
// the scan's risk assessment.
func (r *Runner) scoreScan(ctx context.Context, scan *domain.Scan) error {
	findings, err := r.store.FindingsByScan(ctx, scan.ID)
	if err != nil {
		return fmt.Errorf("load findings: %w", err)
	}
	rules, err := r.store.RiskRules(ctx)
	if err != nil {
		return fmt.Errorf("load risk rules: %w", err)
	}
	assessment, err := r.engine.Score(findings, rules)
	if err != nil {
		var serr *risk.ScoringError
		if errors.As(err, &serr) {
			return serr
		}
		return err
	}
	scan.Risk = &assessment
	return nil
}

func (r *Runner) saveScan(ctx context.Context, scan *domain.Scan) error {
	return r.transition(ctx, scan, func() {})
}

// transition applies a state mutation and persists the scan under one lock,
// so a backend run never observes or clobbers its sibling's half-written
// update.
func (r *Runner) transition(ctx context.Context, scan *domain.Scan, apply func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	apply()
	return retry(ctx, storeAttempts, storeBaseDelay, func() error {
		return r.store.UpdateScan(ctx, scan)
	})
}

func anyCompleted(runs map[string]*domain.BackendRun) bool {
	for _, run := range runs {
		if run.Status == domain.StatusCompleted {
			return true
		}
	}
	return false
}
