package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xela07ax/dropwatch/internal/domain"
)

// InsertAlerts пишет пачку проблем одним INSERT. Повторная доставка не дублирует строки.
func (s *Store) InsertAlerts(ctx context.Context, tenantID string, issues []domain.Issue) error {
	if len(issues) == 0 {
		return nil
	}

	const numFields = 7
	vals := make([]any, 0, len(issues)*numFields)
	for _, i := range issues {
		vals = append(vals, i.ID, tenantID, i.Domain, nullString(i.RuleID), i.Message, string(i.Severity), i.Timestamp)
	}

	query := fmt.Sprintf(
		"INSERT INTO alerts (id, tenant_id, domain, rule_id, message, severity, created_at) VALUES %s ON CONFLICT (id) DO NOTHING",
		placeholders(len(issues), numFields),
	)
	if _, err := s.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: insert alerts: %w", err)
	}
	return nil
}

// ListAlerts: история алертов, новые первыми. Limit ограничен MaxListLimit.
func (s *Store) ListAlerts(ctx context.Context, f domain.AlertFilter) ([]domain.Issue, error) {
	var w filter
	w.add("tenant_id = $%d", f.TenantID)
	if f.Domain != "" {
		w.add("domain = $%d", f.Domain)
	}
	if f.Severity != "" {
		w.add("severity = $%d", string(f.Severity))
	}
	if !f.From.IsZero() {
		w.add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		w.add("created_at < $%d", f.To)
	}

	query := "SELECT id, domain, rule_id, message, severity, created_at FROM alerts" +
		w.where() + fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", clampLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query alerts: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	out := make([]domain.Issue, 0)
	for rows.Next() {
		var i domain.Issue
		var ruleID sql.NullString
		var severity string
		if err := rows.Scan(&i.ID, &i.Domain, &ruleID, &i.Message, &severity, &i.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan alert: %w", err)
		}
		i.RuleID = ruleID.String
		i.Severity = domain.Severity(severity)
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
