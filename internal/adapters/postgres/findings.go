package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"legalscan/internal/domain"
)

// AppendFindings batch-inserts the findings from one backend run. Payload
// columns are nullable; only the group matching the finding kind is set.
func (db *DB) AppendFindings(ctx context.Context, findings []domain.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range findings {
		f := &findings[i]
		id := f.ID
		if id == "" {
			id = uuid.NewString()
		}
		var (
			licName, licSPDX, stmt, content, checkID *string
			confidence                               *float64
			holdersJSON, yearsJSON                   []byte
			line                                     *int
			err                                      error
		)
		switch f.Kind {
		case domain.KindLicense:
			licName = &f.License.Name
			if f.License.SPDXID != "" {
				licSPDX = &f.License.SPDXID
			}
			confidence = &f.License.Confidence
		case domain.KindCopyright:
			stmt = &f.Copyright.Statement
			if holdersJSON, err = json.Marshal(f.Copyright.Holders); err != nil {
				return fmt.Errorf("marshal holders: %w", err)
			}
			if yearsJSON, err = json.Marshal(f.Copyright.Years); err != nil {
				return fmt.Errorf("marshal years: %w", err)
			}
		case domain.KindExportControl:
			content = &f.Export.Content
			line = &f.Export.Line
			checkID = &f.Export.CheckID
		}
		batch.Queue(`
            INSERT INTO findings (id, scan_id, kind, file_path, source, severity,
                license_name, license_spdx_id, confidence,
                copyright_statement, copyright_holders, copyright_years,
                content, line_number, check_id)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        `, id, f.ScanID, f.Kind, f.FilePath, f.Source, f.Severity,
			licName, licSPDX, confidence, stmt, holdersJSON, yearsJSON, content, line, checkID)
	}
	results := db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range findings {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) FindingsByScan(ctx context.Context, scanID string) ([]domain.Finding, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT id, scan_id, kind, file_path, source, severity,
               license_name, license_spdx_id, confidence,
               copyright_statement, copyright_holders, copyright_years,
               content, line_number, check_id
        FROM findings WHERE scan_id = $1 ORDER BY created_at, id
    `, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []domain.Finding
	for rows.Next() {
		var (
			f                                        domain.Finding
			licName, licSPDX, stmt, content, checkID *string
			confidence                               *float64
			holdersJSON, yearsJSON                   []byte
			line                                     *int
		)
		if err := rows.Scan(&f.ID, &f.ScanID, &f.Kind, &f.FilePath, &f.Source, &f.Severity,
			&licName, &licSPDX, &confidence, &stmt, &holdersJSON, &yearsJSON,
			&content, &line, &checkID); err != nil {
			return nil, err
		}
		switch f.Kind {
		case domain.KindLicense:
			f.License = &domain.LicenseDetail{}
			if licName != nil {
				f.License.Name = *licName
			}
			if licSPDX != nil {
				f.License.SPDXID = *licSPDX
			}
			if confidence != nil {
				f.License.Confidence = *confidence
			}
		case domain.KindCopyright:
			f.Copyright = &domain.CopyrightDetail{}
			if stmt != nil {
				f.Copyright.Statement = *stmt
			}
			if len(holdersJSON) > 0 {
				if err := json.Unmarshal(holdersJSON, &f.Copyright.Holders); err != nil {
					return nil, fmt.Errorf("unmarshal holders: %w", err)
				}
			}
			if len(yearsJSON) > 0 {
				if err := json.Unmarshal(yearsJSON, &f.Copyright.Years); err != nil {
					return nil, fmt.Errorf("unmarshal years: %w", err)
				}
			}
		case domain.KindExportControl:
			f.Export = &domain.ExportDetail{}
			if content != nil {
				f.Export.Content = *content
			}
			if line != nil {
				f.Export.Line = *line
			}
			if checkID != nil {
				f.Export.CheckID = *checkID
			}
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}
