package semgrep

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"legalscan/internal/domain"
)

// Semgrep JSON output shapes.

type output struct {
	Results []result    `json:"results"`
	Errors  []scanError `json:"errors"`
}

type result struct {
	Path    string   `json:"path"`
	Start   location `json:"start"`
	End     location `json:"end"`
	CheckID string   `json:"check_id"`
	Extra   extra    `json:"extra"`
	Lines   string   `json:"lines"`
}

type location struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

type extra struct {
	Message  string `json:"message"`
	Severity string `json:"severity"` // ERROR, WARNING, INFO
}

type scanError struct {
	Message string `json:"message"`
	Path    string `json:"path"`
}

// parseOutput converts semgrep results into export-control findings. Rule
// errors are logged but do not fail the parse; semgrep reports them even on
// successful runs.
func parseOutput(raw []byte, log *slog.Logger) ([]domain.Finding, error) {
	var out output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("semgrep output: %w", err)
	}
	for _, e := range out.Errors {
		log.Warn("semgrep reported an error", "message", e.Message, "path", e.Path)
	}

	findings := make([]domain.Finding, 0, len(out.Results))
	for _, r := range out.Results {
		content := r.Extra.Message
		if code := strings.TrimSpace(r.Lines); code != "" {
			content = fmt.Sprintf("%s\n\nMatched code: `%s`", r.Extra.Message, code)
		}
		findings = append(findings, domain.Finding{
			ID:       uuid.NewString(),
			Kind:     domain.KindExportControl,
			FilePath: r.Path,
			Source:   backendName,
			Severity: mapSeverity(r.Extra.Severity),
			Export: &domain.ExportDetail{
				Content: content,
				Line:    r.Start.Line,
				CheckID: r.CheckID,
			},
		})
	}
	return findings, nil
}

func mapSeverity(s string) domain.Severity {
	switch strings.ToUpper(s) {
	case "ERROR":
		return domain.SeverityHigh
	case "WARNING":
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
