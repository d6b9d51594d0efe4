package postgres

import (
	"context"

	"legalscan/internal/domain"
)

// RiskRules returns the rule table in insertion order, which is the
// tie-break order the scoring engine relies on.
func (db *DB) RiskRules(ctx context.Context) ([]domain.RiskRule, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT pattern, weight, category FROM risk_rules ORDER BY id
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.RiskRule
	for rows.Next() {
		var rule domain.RiskRule
		if err := rows.Scan(&rule.Pattern, &rule.Weight, &rule.Category); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
