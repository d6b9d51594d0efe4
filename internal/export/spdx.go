// Package export renders scan results as an SPDX 2.3 document.
package export

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"legalscan/internal/domain"
)

type SPDXDocument struct {
	SPDXVersion       string         `json:"spdxVersion"`
	DataLicense       string         `json:"dataLicense"`
	SPDXID            string         `json:"SPDXID"`
	Name              string         `json:"name"`
	DocumentNamespace string         `json:"documentNamespace"`
	CreationInfo      CreationInfo   `json:"creationInfo"`
	Packages          []Package      `json:"packages"`
	Files             []File         `json:"files"`
	Relationships     []Relationship `json:"relationships"`
}

type CreationInfo struct {
	Created            string   `json:"created"`
	Creators           []string `json:"creators"`
	LicenseListVersion string   `json:"licenseListVersion,omitempty"`
}

type Package struct {
	SPDXID           string `json:"SPDXID"`
	Name             string `json:"name"`
	DownloadLocation string `json:"downloadLocation"`
	FilesAnalyzed    bool   `json:"filesAnalyzed"`
	LicenseConcluded string `json:"licenseConcluded"`
	LicenseDeclared  string `json:"licenseDeclared"`
	CopyrightText    string `json:"copyrightText"`
}

type File struct {
	SPDXID             string   `json:"SPDXID"`
	FileName           string   `json:"fileName"`
	LicenseConcluded   string   `json:"licenseConcluded"`
	LicenseInfoInFiles []string `json:"licenseInfoInFiles"`
	CopyrightText      string   `json:"copyrightText"`
}

type Relationship struct {
	SPDXElementID      string `json:"spdxElementId"`
	RelationshipType   string `json:"relationshipType"`
	RelatedSPDXElement string `json:"relatedSpdxElement"`
}

const noAssertion = "NOASSERTION"

// BuildDocument folds a scan's license and copyright findings into an SPDX
// document. Export-control findings have no SPDX representation and are
// skipped.
func BuildDocument(scan *domain.Scan, findings []domain.Finding) SPDXDocument {
	repoName := repoNameFromURL(scan.GitURL)

	created := scan.CreatedAt
	if scan.CompletedAt != nil {
		created = *scan.CompletedAt
	}

	byFile := make(map[string]*fileInfo)
	packageLicenses := make(map[string]bool)
	for _, f := range findings {
		switch f.Kind {
		case domain.KindLicense:
			if f.License == nil {
				continue
			}
			info := fileEntry(byFile, f.FilePath)
			id := f.License.SPDXID
			if id == "" {
				id = noAssertion
			}
			info.licenses = append(info.licenses, id)
			packageLicenses[id] = true
		case domain.KindCopyright:
			if f.Copyright == nil {
				continue
			}
			info := fileEntry(byFile, f.FilePath)
			info.copyrights = append(info.copyrights, f.Copyright.Statement)
		}
	}

	var files []File
	var relationships []Relationship
	relationships = append(relationships, Relationship{
		SPDXElementID:      "SPDXRef-DOCUMENT",
		RelationshipType:   "DESCRIBES",
		RelatedSPDXElement: "SPDXRef-Package",
	})

	paths := make([]string, 0, len(byFile))
	for p := range byFile {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for i, p := range paths {
		info := byFile[p]
		fileID := fmt.Sprintf("SPDXRef-File-%d", i)
		files = append(files, File{
			SPDXID:             fileID,
			FileName:           p,
			LicenseConcluded:   concludeLicense(info.licenses),
			LicenseInfoInFiles: uniqueOrNoAssertion(info.licenses),
			CopyrightText:      copyrightText(info.copyrights),
		})
		relationships = append(relationships, Relationship{
			SPDXElementID:      "SPDXRef-Package",
			RelationshipType:   "CONTAINS",
			RelatedSPDXElement: fileID,
		})
	}

	pkg := Package{
		SPDXID:           "SPDXRef-Package",
		Name:             repoName,
		DownloadLocation: scan.GitURL,
		FilesAnalyzed:    true,
		LicenseConcluded: concludeLicense(keys(packageLicenses)),
		LicenseDeclared:  noAssertion,
		CopyrightText:    noAssertion,
	}

	return SPDXDocument{
		SPDXVersion:       "SPDX-2.3",
		DataLicense:       "CC0-1.0",
		SPDXID:            "SPDXRef-DOCUMENT",
		Name:              fmt.Sprintf("%s-compliance-scan", repoName),
		DocumentNamespace: fmt.Sprintf("https://legalscan.local/spdx/%s", scan.ID),
		CreationInfo: CreationInfo{
			Created:            created.UTC().Format(time.RFC3339),
			Creators:           []string{"Tool: legalscan-1.0"},
			LicenseListVersion: "3.22",
		},
		Packages:      []Package{pkg},
		Files:         files,
		Relationships: relationships,
	}
}

type fileInfo struct {
	licenses   []string
	copyrights []string
}

func fileEntry(m map[string]*fileInfo, p string) *fileInfo {
	if info, ok := m[p]; ok {
		return info
	}
	info := &fileInfo{}
	m[p] = info
	return info
}

func concludeLicense(licenses []string) string {
	distinct := unique(licenses)
	if len(distinct) == 0 {
		return noAssertion
	}
	return strings.Join(distinct, " AND ")
}

func uniqueOrNoAssertion(licenses []string) []string {
	distinct := unique(licenses)
	if len(distinct) == 0 {
		return []string{noAssertion}
	}
	return distinct
}

func copyrightText(statements []string) string {
	distinct := unique(statements)
	if len(distinct) == 0 {
		return noAssertion
	}
	return strings.Join(distinct, "\n")
}

func unique(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if v == "" || v == noAssertion || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func repoNameFromURL(gitURL string) string {
	name := path.Base(strings.TrimSuffix(strings.TrimSuffix(gitURL, "/"), ".git"))
	if name == "" || name == "." || name == "/" {
		return "repository"
	}
	// scp-like syntax: git@host:owner/repo
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
