package ports

import (
	"context"
	"errors"

	"legalscan/internal/domain"
)

// ErrNotFound is returned by store reads when no row matches.
var ErrNotFound = errors.New("not found")

// ScanStore is the durable record of scan and finding state. UpdateScan has
// full-row upsert semantics and is safe to retry. DeleteScan cascades to the
// scan's findings. The risk rule set is read-only configuration; RiskRules
// returns a snapshot safe for concurrent use.
type ScanStore interface {
	CreateScan(ctx context.Context, scan *domain.Scan) error
	UpdateScan(ctx context.Context, scan *domain.Scan) error
	GetScan(ctx context.Context, id string) (*domain.Scan, error)
	ListScans(ctx context.Context, statuses ...domain.Status) ([]domain.Scan, error)
	DeleteScan(ctx context.Context, id string) error

	AppendFindings(ctx context.Context, findings []domain.Finding) error
	FindingsByScan(ctx context.Context, scanID string) ([]domain.Finding, error)

	RiskRules(ctx context.Context) ([]domain.RiskRule, error)
}
