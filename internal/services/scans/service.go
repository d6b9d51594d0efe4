package scans

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"legalscan/internal/domain"
	"legalscan/internal/ports"
	"legalscan/internal/workspace"
)

// Queue admits created scans into the orchestrator.
type Queue interface {
	Enqueue(ctx context.Context, scanID string) error
}

// Service is the request-side API over scans: create-and-enqueue plus the
// read and delete operations the transport layer exposes.
type Service struct {
	store    ports.ScanStore
	queue    Queue
	backends []string
	log      *slog.Logger
}

func New(store ports.ScanStore, queue Queue, backends []string, log *slog.Logger) *Service {
	return &Service{store: store, queue: queue, backends: backends, log: log}
}

// StartScan validates the repository URL, records a pending scan with one
// pending run per registered backend, and enqueues it. The credential is
// accepted here and used only for workspace acquisition.
func (s *Service) StartScan(ctx context.Context, gitURL, gitToken string) (*domain.Scan, error) {
	if err := workspace.ValidateGitURL(gitURL); err != nil {
		return nil, err
	}

	scan := &domain.Scan{
		ID:        uuid.NewString(),
		GitURL:    gitURL,
		GitToken:  gitToken,
		Status:    domain.StatusPending,
		CreatedAt: time.Now().UTC(),
		Backends:  make(map[string]*domain.BackendRun, len(s.backends)),
	}
	for _, name := range s.backends {
		scan.Backends[name] = &domain.BackendRun{Backend: name, Status: domain.StatusPending}
	}

	if err := s.store.CreateScan(ctx, scan); err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}
	if err := s.queue.Enqueue(ctx, scan.ID); err != nil {
		now := time.Now().UTC()
		scan.Status = domain.StatusFailed
		scan.Error = err.Error()
		scan.CompletedAt = &now
		for _, run := range scan.Backends {
			run.Status = domain.StatusFailed
			run.Error = err.Error()
			run.CompletedAt = &now
		}
		if uerr := s.store.UpdateScan(ctx, scan); uerr != nil {
			s.log.Error("failed to mark unqueued scan failed", "scan_id", scan.ID, "err", uerr)
		}
		return nil, fmt.Errorf("enqueue scan: %w", err)
	}

	s.log.Info("scan accepted", "scan_id", scan.ID, "repo", repoHost(gitURL))
	return scan, nil
}

func (s *Service) GetScan(ctx context.Context, id string) (*domain.Scan, error) {
	return s.store.GetScan(ctx, id)
}

func (s *Service) ListScans(ctx context.Context) ([]domain.Scan, error) {
	return s.store.ListScans(ctx)
}

func (s *Service) Findings(ctx context.Context, scanID string) ([]domain.Finding, error) {
	if _, err := s.store.GetScan(ctx, scanID); err != nil {
		return nil, err
	}
	return s.store.FindingsByScan(ctx, scanID)
}

// DeleteScan removes the scan; the store cascades to its findings.
func (s *Service) DeleteScan(ctx context.Context, id string) error {
	if _, err := s.store.GetScan(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteScan(ctx, id)
}

// Summary aggregates finding counts for the scan detail response.
type Summary struct {
	TotalFiles          int `json:"total_files"`
	FilesWithLicenses   int `json:"files_with_licenses"`
	FilesWithCopyrights int `json:"files_with_copyrights"`
	UniqueLicenses      int `json:"unique_licenses"`
	ExportFindings      int `json:"export_control_findings"`
}

func (s *Service) Summary(ctx context.Context, scanID string) (Summary, error) {
	findings, err := s.store.FindingsByScan(ctx, scanID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(findings), nil
}

func Summarize(findings []domain.Finding) Summary {
	files := make(map[string]bool)
	licenseFiles := make(map[string]bool)
	copyrightFiles := make(map[string]bool)
	licenses := make(map[string]bool)
	var sum Summary
	for _, f := range findings {
		files[f.FilePath] = true
		switch f.Kind {
		case domain.KindLicense:
			licenseFiles[f.FilePath] = true
			if f.License != nil {
				licenses[f.License.Name] = true
			}
		case domain.KindCopyright:
			copyrightFiles[f.FilePath] = true
		case domain.KindExportControl:
			sum.ExportFindings++
		}
	}
	sum.TotalFiles = len(files)
	sum.FilesWithLicenses = len(licenseFiles)
	sum.FilesWithCopyrights = len(copyrightFiles)
	sum.UniqueLicenses = len(licenses)
	return sum
}

// repoHost reduces the repository URL to its registrable domain for log
// records; the full URL may carry user info we do not want echoed around.
func repoHost(gitURL string) string {
	u, err := url.Parse(gitURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := u.Hostname()
	if registrable, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return registrable
	}
	return host
}
