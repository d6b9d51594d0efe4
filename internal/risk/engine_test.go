package risk

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalscan/internal/domain"
)

func licenseFinding(file, name, spdx string) domain.Finding {
	return domain.Finding{
		Kind:     domain.KindLicense,
		FilePath: file,
		License:  &domain.LicenseDetail{Name: name, SPDXID: spdx, Confidence: 1.0},
	}
}

func exportFinding(file string, line int, checkID string, sev domain.Severity) domain.Finding {
	return domain.Finding{
		Kind:     domain.KindExportControl,
		FilePath: file,
		Severity: sev,
		Export:   &domain.ExportDetail{Content: "match", Line: line, CheckID: checkID},
	}
}

func defaultRules() []domain.RiskRule {
	return []domain.RiskRule{
		{Pattern: "AGPL%", Weight: 12, Category: domain.CategoryCopyleft},
		{Pattern: "GPL-3.0%", Weight: 10, Category: domain.CategoryCopyleft},
		{Pattern: "GPL%", Weight: 10, Category: domain.CategoryCopyleft},
		{Pattern: "LGPL%", Weight: 6, Category: domain.CategoryCopyleft},
		{Pattern: "MIT", Weight: 0, Category: domain.CategoryPermissive},
		{Pattern: "Apache%", Weight: 0, Category: domain.CategoryPermissive},
		{Pattern: "%Proprietary%", Weight: 15, Category: domain.CategoryProprietary},
	}
}

func TestScorePermissiveOnly(t *testing.T) {
	eng := NewEngine(DefaultPolicy())
	findings := []domain.Finding{
		licenseFinding("LICENSE", "MIT", "MIT"),
		licenseFinding("vendor/lib/LICENSE", "Apache-2.0", "Apache-2.0"),
	}

	got, err := eng.Score(findings, defaultRules())
	require.NoError(t, err)
	assert.Equal(t, 0, got.Score)
	assert.Equal(t, domain.SeverityLow, got.Level)
	assert.Empty(t, got.Factors)
}

func TestScoreCopyleftWithCrypto(t *testing.T) {
	eng := NewEngine(DefaultPolicy())
	findings := []domain.Finding{
		licenseFinding("LICENSE", "AGPL-3.0-only", "AGPL-3.0-only"),
		exportFinding("crypto/aes.go", 10, "crypto.use-of-aes", domain.SeverityHigh),
		exportFinding("crypto/rsa.go", 22, "crypto.use-of-rsa", domain.SeverityHigh),
	}

	got, err := eng.Score(findings, defaultRules())
	require.NoError(t, err)
	// 12 for AGPL plus 12 per high export finding.
	assert.Equal(t, 36, got.Score)
	assert.Equal(t, domain.SeverityMedium, got.Level)

	require.Len(t, got.Factors, 3)
	assert.Equal(t, "copyleft_license", got.Factors[0].Category)
	assert.Equal(t, 1, got.Factors[0].AffectedCount)
	assert.Equal(t, domain.SeverityHigh, got.Factors[0].Severity)

	assert.Equal(t, "export_control", got.Factors[1].Category)
	assert.Equal(t, 2, got.Factors[1].AffectedCount)
	assert.Equal(t, domain.SeverityHigh, got.Factors[1].Severity)

	assert.Equal(t, "cryptography", got.Factors[2].Category)
	assert.Equal(t, 2, got.Factors[2].AffectedCount)
}

func TestScoreMostSpecificPatternWins(t *testing.T) {
	eng := NewEngine(DefaultPolicy())
	rules := []domain.RiskRule{
		{Pattern: "GPL%", Weight: 10, Category: domain.CategoryCopyleft},
		{Pattern: "GPL-3.0%", Weight: 4, Category: domain.CategoryCopyleft},
	}
	findings := []domain.Finding{licenseFinding("LICENSE", "GPL-3.0-only", "GPL-3.0-only")}

	got, err := eng.Score(findings, rules)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Score, "GPL-3.0%% has more literal characters than GPL%%")
}

func TestScoreTieBreaksOnWeightThenOrder(t *testing.T) {
	eng := NewEngine(DefaultPolicy())
	findings := []domain.Finding{licenseFinding("LICENSE", "ABC", "ABC")}

	rules := []domain.RiskRule{
		{Pattern: "AB%", Weight: 3, Category: domain.CategoryOther},
		{Pattern: "%BC", Weight: 8, Category: domain.CategoryOther},
	}
	got, err := eng.Score(findings, rules)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Score, "equal literal length, higher weight wins")

	rules = []domain.RiskRule{
		{Pattern: "AB%", Weight: 5, Category: domain.CategoryCopyleft},
		{Pattern: "%BC", Weight: 5, Category: domain.CategoryProprietary},
	}
	got, err = eng.Score(findings, rules)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Score)
	require.Len(t, got.Factors, 1)
	assert.Equal(t, "copyleft_license", got.Factors[0].Category, "full tie falls back to the earlier rule")
}

func TestScoreUnknownLicense(t *testing.T) {
	eng := NewEngine(DefaultPolicy())
	findings := []domain.Finding{licenseFinding("LICENSE", "Custom-Internal-1.0", "Custom-Internal-1.0")}

	got, err := eng.Score(findings, defaultRules())
	require.NoError(t, err)
	assert.Equal(t, 7, got.Score)
	require.Len(t, got.Factors, 1)
	assert.Equal(t, "unknown_license", got.Factors[0].Category)
	assert.Equal(t, domain.SeverityMedium, got.Factors[0].Severity)
	assert.Equal(t, []string{"Custom-Internal-1.0"}, got.Factors[0].Details)
}

func TestScoreMissingSPDX(t *testing.T) {
	eng := NewEngine(DefaultPolicy())
	findings := []domain.Finding{
		licenseFinding("a/LICENSE", "MIT", ""),
		licenseFinding("b/LICENSE", "MIT", ""),
	}

	got, err := eng.Score(findings, defaultRules())
	require.NoError(t, err)
	// Charged once per distinct name, not per file.
	assert.Equal(t, 2, got.Score)
	require.Len(t, got.Factors, 1)
	assert.Equal(t, "missing_spdx", got.Factors[0].Category)
	assert.Equal(t, 1, got.Factors[0].AffectedCount)
}

func TestScoreNoLicenseDetected(t *testing.T) {
	eng := NewEngine(DefaultPolicy())
	findings := []domain.Finding{
		{
			Kind:      domain.KindCopyright,
			FilePath:  "main.go",
			Copyright: &domain.CopyrightDetail{Statement: "Copyright 2021 Acme"},
		},
	}

	got, err := eng.Score(findings, defaultRules())
	require.NoError(t, err)
	assert.Equal(t, 10, got.Score)
	require.Len(t, got.Factors, 1)
	assert.Equal(t, "no_license", got.Factors[0].Category)
}

func TestScoreEmptyFindings(t *testing.T) {
	eng := NewEngine(DefaultPolicy())
	got, err := eng.Score(nil, defaultRules())
	require.NoError(t, err)
	assert.Equal(t, 0, got.Score)
	assert.Equal(t, domain.SeverityLow, got.Level)
	assert.Empty(t, got.Factors, "an empty repository is not penalized for having no license")
}

func TestScoreDeterministicUnderReorderAndDuplicates(t *testing.T) {
	eng := NewEngine(DefaultPolicy())
	base := []domain.Finding{
		licenseFinding("LICENSE", "GPL-2.0-only", "GPL-2.0-only"),
		licenseFinding("COPYING", "See-file", ""),
		exportFinding("pkg/cipher.go", 5, "crypto.cipher", domain.SeverityMedium),
	}
	reordered := []domain.Finding{base[2], base[0], base[1]}
	duplicated := append(append([]domain.Finding{}, base...), base...)

	want, err := eng.Score(base, defaultRules())
	require.NoError(t, err)

	got, err := eng.Score(reordered, defaultRules())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = eng.Score(duplicated, defaultRules())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestScoreClampsAt100(t *testing.T) {
	eng := NewEngine(DefaultPolicy())
	var findings []domain.Finding
	for i := 0; i < 20; i++ {
		findings = append(findings, exportFinding("f.go", i, "export.itar", domain.SeverityCritical))
	}

	got, err := eng.Score(findings, defaultRules())
	require.NoError(t, err)
	assert.Equal(t, 100, got.Score)
	assert.Equal(t, domain.SeverityCritical, got.Level)
}

func TestScoreDetailsCapped(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxDetails = 3
	eng := NewEngine(policy)

	var findings []domain.Finding
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("Custom-%d", i)
		findings = append(findings, licenseFinding("LICENSE", name, name))
	}

	got, err := eng.Score(findings, defaultRules())
	require.NoError(t, err)
	require.Len(t, got.Factors, 1)
	details := got.Factors[0].Details
	require.Len(t, details, 4)
	assert.Equal(t, "+2 more", details[3])
	assert.Equal(t, 5, got.Factors[0].AffectedCount)
}

func TestScoreRejectsMalformedRules(t *testing.T) {
	eng := NewEngine(DefaultPolicy())
	findings := []domain.Finding{licenseFinding("LICENSE", "MIT", "MIT")}

	_, err := eng.Score(findings, []domain.RiskRule{{Pattern: "", Weight: 1}})
	var serr *ScoringError
	require.ErrorAs(t, err, &serr)

	_, err = eng.Score(findings, []domain.RiskRule{
		{Pattern: "MIT", Weight: 0},
		{Pattern: "MIT", Weight: 1},
	})
	require.ErrorAs(t, err, &serr)
}

func TestLevelBands(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, domain.SeverityLow, p.Level(0))
	assert.Equal(t, domain.SeverityLow, p.Level(25))
	assert.Equal(t, domain.SeverityMedium, p.Level(26))
	assert.Equal(t, domain.SeverityMedium, p.Level(50))
	assert.Equal(t, domain.SeverityHigh, p.Level(51))
	assert.Equal(t, domain.SeverityHigh, p.Level(75))
	assert.Equal(t, domain.SeverityCritical, p.Level(76))
	assert.Equal(t, domain.SeverityCritical, p.Level(100))
}
