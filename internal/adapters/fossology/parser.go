package fossology

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"legalscan/internal/domain"
)

// Wire shapes of the Fossology results endpoints.

type licenseResponse struct {
	FilePath string           `json:"filePath"`
	Findings *licenseFindings `json:"findings"`
}

type licenseFindings struct {
	Scanner    []string `json:"scanner"`
	Conclusion []string `json:"conclusion"`
}

type copyrightResponse struct {
	Copyright string   `json:"copyright"`
	FilePath  []string `json:"filePath"`
}

func decodeLicenseResponses(raw []byte) ([]licenseResponse, error) {
	var out []licenseResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("license response: %w", err)
	}
	return out, nil
}

func decodeCopyrightResponses(raw []byte) ([]copyrightResponse, error) {
	var out []copyrightResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("copyright response: %w", err)
	}
	return out, nil
}

// parseLicenseResults normalizes per-file license names into findings,
// mapping known names to SPDX identifiers. The "No_license_found"
// placeholder is dropped.
func parseLicenseResults(responses []licenseResponse) []domain.Finding {
	var findings []domain.Finding
	for _, resp := range responses {
		if resp.Findings == nil {
			continue
		}
		names := append(append([]string{}, resp.Findings.Scanner...), resp.Findings.Conclusion...)
		seen := make(map[string]bool)
		for _, name := range names {
			if name == "" || name == "No_license_found" || seen[name] {
				continue
			}
			seen[name] = true
			findings = append(findings, domain.Finding{
				ID:       uuid.NewString(),
				Kind:     domain.KindLicense,
				FilePath: resp.FilePath,
				Source:   backendName,
				License: &domain.LicenseDetail{
					Name:       name,
					SPDXID:     mapToSPDX(name),
					Confidence: 1.0,
				},
			})
		}
	}
	return findings
}

// parseCopyrightResults flattens the per-statement file lists into one
// finding per file, skipping statements with binary garbage.
func parseCopyrightResults(responses []copyrightResponse) []domain.Finding {
	var findings []domain.Finding
	for _, resp := range responses {
		statement := strings.TrimSpace(resp.Copyright)
		if statement == "" || !isPrintableText(statement) {
			continue
		}
		holders := extractHolders(statement)
		years := extractYears(statement)
		if len(holders) == 0 && len(years) == 0 {
			continue
		}
		for _, file := range resp.FilePath {
			findings = append(findings, domain.Finding{
				ID:       uuid.NewString(),
				Kind:     domain.KindCopyright,
				FilePath: file,
				Source:   backendName,
				Copyright: &domain.CopyrightDetail{
					Statement: statement,
					Holders:   holders,
					Years:     years,
				},
			})
		}
	}
	return findings
}

var spdxMap = []struct{ substr, spdx string }{
	{"apache-license-2.0", "Apache-2.0"},
	{"apache-2.0", "Apache-2.0"},
	{"lgpl-2.1", "LGPL-2.1-only"},
	{"lgpl-3.0", "LGPL-3.0-only"},
	{"gpl-2.0", "GPL-2.0-only"},
	{"gpl-3.0", "GPL-3.0-only"},
	{"bsd-2-clause", "BSD-2-Clause"},
	{"bsd-3-clause", "BSD-3-Clause"},
	{"mpl-2.0", "MPL-2.0"},
	{"cc0-1.0", "CC0-1.0"},
	{"artistic-2.0", "Artistic-2.0"},
	{"unlicense", "Unlicense"},
	{"zlib", "Zlib"},
	{"isc", "ISC"},
	{"mit", "MIT"},
}

// mapToSPDX maps a Fossology license name onto an SPDX identifier; empty
// when the name is not recognized.
func mapToSPDX(name string) string {
	normalized := strings.ReplaceAll(strings.ToLower(name), " ", "-")
	for _, m := range spdxMap {
		if strings.Contains(normalized, m.substr) {
			return m.spdx
		}
	}
	return ""
}

var (
	holderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)copyright\s*(?:\(c\))?\s*(?:\d{4}[-,\s]*)*\s*(?:by\s+)?(.+?)(?:\.|$)`),
		regexp.MustCompile(`(?i)©\s*(?:\d{4}[-,\s]*)*\s*(?:by\s+)?(.+?)(?:\.|$)`),
		regexp.MustCompile(`(?i)copr\.\s*(?:\d{4}[-,\s]*)*\s*(?:by\s+)?(.+?)(?:\.|$)`),
	}
	yearPattern = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
)

func extractHolders(statement string) []string {
	for _, re := range holderPatterns {
		m := re.FindStringSubmatch(statement)
		if m == nil {
			continue
		}
		holder := strings.TrimSpace(m[1])
		if holder == "" || unicode.IsDigit(rune(holder[0])) {
			continue
		}
		return []string{holder}
	}
	return nil
}

func extractYears(statement string) []string {
	var years []string
	seen := make(map[string]bool)
	for _, m := range yearPattern.FindAllStringSubmatch(statement, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			years = append(years, m[1])
		}
	}
	return years
}

// isPrintableText rejects statements containing control characters or other
// binary noise that Fossology sometimes extracts.
func isPrintableText(s string) bool {
	for _, r := range s {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if unicode.IsControl(r) {
			return false
		}
		if r > unicode.MaxASCII && !unicode.IsLetter(r) && !unicode.IsNumber(r) && !unicode.IsPunct(r) && !unicode.IsSpace(r) && r != '©' {
			return false
		}
	}
	return true
}
