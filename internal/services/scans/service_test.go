package scans

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalscan/internal/domain"
	"legalscan/internal/ports"
	"legalscan/internal/workers/scanrunner"
	"legalscan/internal/workspace"
)

type memStore struct {
	mu       sync.Mutex
	scans    map[string]*domain.Scan
	findings map[string][]domain.Finding
}

func newMemStore() *memStore {
	return &memStore{
		scans:    make(map[string]*domain.Scan),
		findings: make(map[string][]domain.Finding),
	}
}

func (m *memStore) CreateScan(_ context.Context, s *domain.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.scans[s.ID] = &cp
	return nil
}

func (m *memStore) UpdateScan(_ context.Context, s *domain.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scans[s.ID]; !ok {
		return ports.ErrNotFound
	}
	cp := *s
	m.scans[s.ID] = &cp
	return nil
}

func (m *memStore) GetScan(_ context.Context, id string) (*domain.Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListScans(context.Context, ...domain.Status) ([]domain.Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Scan
	for _, s := range m.scans {
		out = append(out, *s)
	}
	return out, nil
}

func (m *memStore) DeleteScan(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scans[id]; !ok {
		return ports.ErrNotFound
	}
	delete(m.scans, id)
	delete(m.findings, id)
	return nil
}

func (m *memStore) AppendFindings(_ context.Context, findings []domain.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range findings {
		m.findings[f.ScanID] = append(m.findings[f.ScanID], f)
	}
	return nil
}

func (m *memStore) FindingsByScan(_ context.Context, scanID string) ([]domain.Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Finding{}, m.findings[scanID]...), nil
}

func (m *memStore) RiskRules(context.Context) ([]domain.RiskRule, error) { return nil, nil }

type fakeQueue struct {
	ids []string
	err error
}

func (q *fakeQueue) Enqueue(_ context.Context, scanID string) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, scanID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartScan(t *testing.T) {
	store := newMemStore()
	queue := &fakeQueue{}
	svc := New(store, queue, []string{"fossology", "semgrep"}, testLogger())

	scan, err := svc.StartScan(context.Background(), "https://github.com/acme/widget", "tok")
	require.NoError(t, err)

	assert.NotEmpty(t, scan.ID)
	assert.Equal(t, domain.StatusPending, scan.Status)
	require.Len(t, scan.Backends, 2)
	assert.Equal(t, domain.StatusPending, scan.Backends["fossology"].Status)
	assert.Equal(t, domain.StatusPending, scan.Backends["semgrep"].Status)

	assert.Equal(t, []string{scan.ID}, queue.ids)

	stored, err := store.GetScan(context.Background(), scan.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok", stored.GitToken, "credential is available to the orchestrator")
}

func TestStartScanInvalidURL(t *testing.T) {
	svc := New(newMemStore(), &fakeQueue{}, []string{"fossology"}, testLogger())

	_, err := svc.StartScan(context.Background(), "not a url", "")
	assert.ErrorIs(t, err, workspace.ErrInvalidURL)
}

func TestStartScanQueueFull(t *testing.T) {
	store := newMemStore()
	queue := &fakeQueue{err: scanrunner.ErrQueueFull}
	svc := New(store, queue, []string{"fossology"}, testLogger())

	_, err := svc.StartScan(context.Background(), "https://github.com/acme/widget", "")
	require.ErrorIs(t, err, scanrunner.ErrQueueFull)

	// The scan was persisted before enqueueing; it must be marked failed so
	// it is never picked up as a live scan.
	scans, err := store.ListScans(context.Background())
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, domain.StatusFailed, scans[0].Status)
}

func TestDeleteScanMissing(t *testing.T) {
	svc := New(newMemStore(), &fakeQueue{}, nil, testLogger())
	err := svc.DeleteScan(context.Background(), "nope")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestSummarize(t *testing.T) {
	findings := []domain.Finding{
		{Kind: domain.KindLicense, FilePath: "LICENSE", License: &domain.LicenseDetail{Name: "MIT"}},
		{Kind: domain.KindLicense, FilePath: "vendor/a/LICENSE", License: &domain.LicenseDetail{Name: "MIT"}},
		{Kind: domain.KindLicense, FilePath: "vendor/b/COPYING", License: &domain.LicenseDetail{Name: "GPL-3.0"}},
		{Kind: domain.KindCopyright, FilePath: "main.go", Copyright: &domain.CopyrightDetail{Statement: "c"}},
		{Kind: domain.KindExportControl, FilePath: "crypto.go", Export: &domain.ExportDetail{CheckID: "x"}},
		{Kind: domain.KindExportControl, FilePath: "crypto.go", Export: &domain.ExportDetail{CheckID: "y"}},
	}

	sum := Summarize(findings)
	assert.Equal(t, 5, sum.TotalFiles)
	assert.Equal(t, 3, sum.FilesWithLicenses)
	assert.Equal(t, 1, sum.FilesWithCopyrights)
	assert.Equal(t, 2, sum.UniqueLicenses)
	assert.Equal(t, 2, sum.ExportFindings)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
}
