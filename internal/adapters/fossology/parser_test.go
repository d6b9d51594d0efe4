package fossology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legalscan/internal/domain"
)

func TestDecodeAndParseLicenseResults(t *testing.T) {
	raw := []byte(`[
        {"filePath": "repo/LICENSE", "findings": {"scanner": ["MIT"], "conclusion": ["MIT"]}},
        {"filePath": "repo/vendor/x/COPYING", "findings": {"scanner": ["GPL-3.0", "No_license_found"], "conclusion": []}},
        {"filePath": "repo/empty.txt", "findings": null}
    ]`)

	responses, err := decodeLicenseResponses(raw)
	require.NoError(t, err)

	findings := parseLicenseResults(responses)
	require.Len(t, findings, 2, "MIT deduped per file, placeholder and null findings dropped")

	assert.Equal(t, domain.KindLicense, findings[0].Kind)
	assert.Equal(t, "repo/LICENSE", findings[0].FilePath)
	assert.Equal(t, "fossology", findings[0].Source)
	assert.Equal(t, "MIT", findings[0].License.Name)
	assert.Equal(t, "MIT", findings[0].License.SPDXID)
	assert.Equal(t, 1.0, findings[0].License.Confidence)

	assert.Equal(t, "GPL-3.0", findings[1].License.Name)
	assert.Equal(t, "GPL-3.0-only", findings[1].License.SPDXID)
}

func TestParseLicenseResultsUnknownName(t *testing.T) {
	findings := parseLicenseResults([]licenseResponse{
		{FilePath: "f", Findings: &licenseFindings{Scanner: []string{"Custom-Internal"}}},
	})
	require.Len(t, findings, 1)
	assert.Empty(t, findings[0].License.SPDXID)
}

func TestMapToSPDX(t *testing.T) {
	tests := []struct{ name, want string }{
		{"MIT", "MIT"},
		{"MIT License", "MIT"},
		{"Apache License 2.0", "Apache-2.0"},
		{"Apache-2.0", "Apache-2.0"},
		{"LGPL-2.1-or-later", "LGPL-2.1-only"},
		{"GPL-2.0+", "GPL-2.0-only"},
		{"BSD-3-Clause", "BSD-3-Clause"},
		{"Zlib", "Zlib"},
		{"Totally-Custom", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapToSPDX(tt.name), "mapToSPDX(%q)", tt.name)
	}
}

func TestParseCopyrightResults(t *testing.T) {
	raw := []byte(`[
        {"copyright": "Copyright (c) 2019-2021 Acme Corp.", "filePath": ["a.go", "b.go"]},
        {"copyright": "© 2020 Jane Doe", "filePath": ["c.go"]},
        {"copyright": "no years no holder marker here", "filePath": ["d.go"]},
        {"copyright": "", "filePath": ["e.go"]}
    ]`)

	responses, err := decodeCopyrightResponses(raw)
	require.NoError(t, err)

	findings := parseCopyrightResults(responses)
	require.Len(t, findings, 3, "one per file, empty and markerless statements dropped")

	assert.Equal(t, domain.KindCopyright, findings[0].Kind)
	assert.Equal(t, "a.go", findings[0].FilePath)
	assert.Equal(t, "b.go", findings[1].FilePath)
	assert.Equal(t, []string{"Acme Corp"}, findings[0].Copyright.Holders)
	assert.Equal(t, []string{"2019", "2021"}, findings[0].Copyright.Years)

	assert.Equal(t, "c.go", findings[2].FilePath)
	assert.Equal(t, []string{"Jane Doe"}, findings[2].Copyright.Holders)
	assert.Equal(t, []string{"2020"}, findings[2].Copyright.Years)
}

func TestParseCopyrightResultsRejectsBinaryNoise(t *testing.T) {
	findings := parseCopyrightResults([]copyrightResponse{
		{Copyright: "Copyright 2020 \x00\x01 garbage", FilePath: []string{"bin"}},
	})
	assert.Empty(t, findings)
}

func TestExtractYears(t *testing.T) {
	years := extractYears("Copyright 1999, 2003-2005, 2020, 2020")
	assert.Equal(t, []string{"1999", "2003", "2005", "2020"}, years)
	assert.Empty(t, extractYears("Copyright 1776 and 2525"))
}

func TestSplitHandle(t *testing.T) {
	uploadID, jobID, err := splitHandle("42:7")
	require.NoError(t, err)
	assert.Equal(t, 42, uploadID)
	assert.Equal(t, 7, jobID)

	_, _, err = splitHandle("garbage")
	assert.Error(t, err)
}
