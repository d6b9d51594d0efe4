package risk

import (
	"fmt"
	"sort"
	"strings"

	"legalscan/internal/domain"
)

// Policy holds the tunable constants of the scoring engine. Thresholds are
// the inclusive upper bound of each band: a score of LowMax is still low,
// anything above HighMax is critical.
type Policy struct {
	LowMax  int
	MedMax  int
	HighMax int

	// UnknownWeight is charged once per distinct license name that matches
	// no rule.
	UnknownWeight int
	// MissingSPDXWeight is charged once per distinct license name lacking an
	// SPDX identifier.
	MissingSPDXWeight int
	// NoLicenseWeight is charged when a non-empty finding set contains no
	// license findings at all.
	NoLicenseWeight int
	// ExportWeights is charged per distinct export-control finding, keyed by
	// the finding's severity.
	ExportWeights map[domain.Severity]int
	// MaxDetails bounds the evidence list on each risk factor.
	MaxDetails int
}

// DefaultPolicy mirrors the historical scoring bands: low 0-25, medium
// 26-50, high 51-75, critical 76+.
func DefaultPolicy() Policy {
	return Policy{
		LowMax:            25,
		MedMax:            50,
		HighMax:           75,
		UnknownWeight:     7,
		MissingSPDXWeight: 2,
		NoLicenseWeight:   10,
		ExportWeights: map[domain.Severity]int{
			domain.SeverityCritical: 20,
			domain.SeverityHigh:     12,
			domain.SeverityMedium:   6,
			domain.SeverityLow:      2,
		},
		MaxDetails: 10,
	}
}

// Level maps a clamped score onto a severity band.
func (p Policy) Level(score int) domain.Severity {
	switch {
	case score <= p.LowMax:
		return domain.SeverityLow
	case score <= p.MedMax:
		return domain.SeverityMedium
	case score <= p.HighMax:
		return domain.SeverityHigh
	default:
		return domain.SeverityCritical
	}
}

// ScoringError reports malformed scoring inputs. It should not occur for
// well-formed rule tables; callers treat it as fatal to the scan.
type ScoringError struct {
	Err error
}

func (e *ScoringError) Error() string { return fmt.Sprintf("scoring failed: %v", e.Err) }

func (e *ScoringError) Unwrap() error { return e.Err }

// Engine is the pure risk scoring function. It performs no I/O, making it
// testable against literal rule tables and finding sets.
type Engine struct {
	policy Policy
}

func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Score folds a finding set and a rule snapshot into a deterministic
// assessment. Weights apply once per distinct license name, never per file,
// so the result is invariant under reordering and duplicate findings.
func (e *Engine) Score(findings []domain.Finding, rules []domain.RiskRule) (domain.RiskAssessment, error) {
	if err := validateRules(rules); err != nil {
		return domain.RiskAssessment{}, &ScoringError{Err: err}
	}

	score := 0
	var factors []domain.RiskFactor

	licenses := collectLicenses(findings)

	var copyleft, proprietary, unknown, missingSPDX []string
	for _, name := range licenses.names {
		rule, matched := bestMatch(rules, name)
		switch {
		case !matched:
			score += e.policy.UnknownWeight
			unknown = append(unknown, name)
		case rule.Weight > 0:
			score += rule.Weight
			switch rule.Category {
			case domain.CategoryCopyleft:
				copyleft = append(copyleft, name)
			case domain.CategoryProprietary:
				proprietary = append(proprietary, name)
			case domain.CategoryUnknown:
				unknown = append(unknown, name)
			}
		}
		if licenses.missingSPDX[name] {
			score += e.policy.MissingSPDXWeight
			missingSPDX = append(missingSPDX, name)
		}
	}

	if len(copyleft) > 0 {
		factors = append(factors, e.factor(
			"copyleft_license", domain.SeverityHigh,
			"Copyleft licenses detected - derivative works may need to be released under the same license",
			len(copyleft), copyleft,
		))
	}
	if len(proprietary) > 0 {
		factors = append(factors, e.factor(
			"high_risk_license", domain.SeverityHigh,
			"Proprietary or commercial licenses detected - usage rights require review",
			len(proprietary), proprietary,
		))
	}
	if len(unknown) > 0 {
		factors = append(factors, e.factor(
			"unknown_license", domain.SeverityMedium,
			"Unknown licenses detected - unclear usage rights",
			len(unknown), unknown,
		))
	}
	if len(missingSPDX) > 0 {
		factors = append(factors, e.factor(
			"missing_spdx", domain.SeverityMedium,
			"Licenses without SPDX identifiers - ambiguous or non-standard licenses",
			len(missingSPDX), missingSPDX,
		))
	}
	if len(findings) > 0 && len(licenses.names) == 0 {
		score += e.policy.NoLicenseWeight
		factors = append(factors, e.factor(
			"no_license", domain.SeverityMedium,
			"No license detected in a non-empty repository - default copyright applies",
			1, nil,
		))
	}

	export := collectExport(findings)
	if len(export.all) > 0 {
		maxSev := domain.SeverityLow
		for _, f := range export.all {
			sev := f.Severity
			if sev == "" {
				sev = domain.SeverityMedium
			}
			score += e.policy.ExportWeights[sev]
			maxSev = domain.MaxSeverity(maxSev, sev)
		}
		factors = append(factors, e.factor(
			"export_control", maxSev,
			"Export-control-relevant patterns detected - may require compliance review",
			len(export.all), export.files,
		))
		if len(export.crypto) > 0 {
			factors = append(factors, e.factor(
				"cryptography", domain.SeverityHigh,
				"Cryptography usage detected - subject to export control regulations",
				len(export.crypto), export.cryptoFiles,
			))
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return domain.RiskAssessment{
		Score:   score,
		Level:   e.policy.Level(score),
		Factors: factors,
	}, nil
}

func (e *Engine) factor(category string, sev domain.Severity, desc string, affected int, details []string) domain.RiskFactor {
	capped := details
	if over := len(details) - e.policy.MaxDetails; over > 0 {
		capped = append([]string{}, details[:e.policy.MaxDetails]...)
		capped = append(capped, fmt.Sprintf("+%d more", over))
	}
	return domain.RiskFactor{
		Category:      category,
		Severity:      sev,
		Description:   desc,
		AffectedCount: affected,
		Details:       capped,
	}
}

func validateRules(rules []domain.RiskRule) error {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.Pattern == "" {
			return fmt.Errorf("rule with empty pattern")
		}
		if seen[r.Pattern] {
			return fmt.Errorf("duplicate rule pattern %q", r.Pattern)
		}
		seen[r.Pattern] = true
	}
	return nil
}

// bestMatch picks the matching rule with the most literal characters; ties
// go to the higher weight, then to insertion order.
func bestMatch(rules []domain.RiskRule, name string) (domain.RiskRule, bool) {
	best := -1
	for i, r := range rules {
		if !Match(r.Pattern, name) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		cur, cand := rules[best], r
		switch {
		case literalLen(cand.Pattern) > literalLen(cur.Pattern):
			best = i
		case literalLen(cand.Pattern) == literalLen(cur.Pattern) && cand.Weight > cur.Weight:
			best = i
		}
	}
	if best < 0 {
		return domain.RiskRule{}, false
	}
	return rules[best], true
}

type licenseSet struct {
	names       []string
	missingSPDX map[string]bool
}

// collectLicenses reduces license findings to their distinct names, sorted
// for determinism regardless of finding order.
func collectLicenses(findings []domain.Finding) licenseSet {
	set := licenseSet{missingSPDX: make(map[string]bool)}
	seen := make(map[string]bool)
	for _, f := range findings {
		if f.Kind != domain.KindLicense || f.License == nil || f.License.Name == "" {
			continue
		}
		name := f.License.Name
		if !seen[name] {
			seen[name] = true
			set.names = append(set.names, name)
		}
		if strings.TrimSpace(f.License.SPDXID) == "" {
			set.missingSPDX[name] = true
		}
	}
	sort.Strings(set.names)
	return set
}

type exportSet struct {
	all         []domain.Finding
	crypto      []domain.Finding
	files       []string
	cryptoFiles []string
}

// collectExport deduplicates export-control findings by their identity so
// duplicate submissions of the same finding set do not inflate the score.
// A finding counts as cryptography-related when its check id names crypto.
func collectExport(findings []domain.Finding) exportSet {
	var set exportSet
	seen := make(map[string]bool)
	files := make(map[string]bool)
	cryptoFiles := make(map[string]bool)
	for _, f := range findings {
		if f.Kind != domain.KindExportControl || f.Export == nil {
			continue
		}
		key := fmt.Sprintf("%s\x00%d\x00%s\x00%s", f.FilePath, f.Export.Line, f.Export.CheckID, f.Export.Content)
		if seen[key] {
			continue
		}
		seen[key] = true
		set.all = append(set.all, f)
		if !files[f.FilePath] {
			files[f.FilePath] = true
			set.files = append(set.files, f.FilePath)
		}
		if strings.Contains(strings.ToLower(f.Export.CheckID), "crypto") {
			set.crypto = append(set.crypto, f)
			if !cryptoFiles[f.FilePath] {
				cryptoFiles[f.FilePath] = true
				set.cryptoFiles = append(set.cryptoFiles, f.FilePath)
			}
		}
	}
	sort.Strings(set.files)
	sort.Strings(set.cryptoFiles)
	return set
}
