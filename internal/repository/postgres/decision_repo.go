package postgres

/*
Файл decision_repo.go хранит решения правил и их исходы.
Исход меняется ровно один раз: условие WHERE outcome = 'pending' исключает Double Decision
между репликами.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/dropwatch/internal/domain"
)

func (s *Store) InsertDecisions(ctx context.Context, tenantID string, decisions []domain.Decision) error {
	if len(decisions) == 0 {
		return nil
	}

	const numFields = 10
	vals := make([]any, 0, len(decisions)*numFields)
	for _, d := range decisions {
		params, err := json.Marshal(orEmpty(d.Action.Params))
		if err != nil {
			return fmt.Errorf("postgres: marshal params of %s: %w", d.ID, err)
		}
		snap, err := json.Marshal(d.Snapshot)
		if err != nil {
			return fmt.Errorf("postgres: marshal snapshot of %s: %w", d.ID, err)
		}
		outcome := d.Outcome
		if outcome == "" {
			outcome = domain.OutcomePending
		}
		vals = append(vals,
			d.ID, tenantID, d.Domain, d.RuleID, string(d.Action.Kind),
			string(params), string(snap), d.Confidence, string(outcome), d.Timestamp,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO decisions (id, tenant_id, domain, rule_id, action_kind, action_params, snapshot, confidence, outcome, created_at) VALUES %s ON CONFLICT (id) DO NOTHING",
		placeholders(len(decisions), numFields),
	)
	if _, err := s.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: insert decisions: %w", err)
	}
	return nil
}

// ListDecisions: решения с приложенным контентом, новые первыми.
func (s *Store) ListDecisions(ctx context.Context, f domain.DecisionFilter) ([]domain.DecisionRecord, error) {
	var w filter
	w.add("d.tenant_id = $%d", f.TenantID)
	if f.Domain != "" {
		w.add("d.domain = $%d", f.Domain)
	}
	if f.Outcome != "" {
		w.add("d.outcome = $%d", string(f.Outcome))
	}
	if !f.From.IsZero() {
		w.add("d.created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		w.add("d.created_at < $%d", f.To)
	}

	query := `SELECT d.id, d.domain, d.rule_id, d.action_kind, d.action_params, d.snapshot,
	                 d.confidence, d.outcome, d.created_at, d.resolved_at, c.content
	          FROM decisions d
	          LEFT JOIN generated_content c ON c.decision_id = d.id` +
		w.where() + fmt.Sprintf(" ORDER BY d.created_at DESC LIMIT %d", clampLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query decisions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DecisionRecord, 0)
	for rows.Next() {
		var r domain.DecisionRecord
		var kind, outcome string
		var params, snap []byte
		var resolvedAt sql.NullTime
		var content sql.NullString

		if err := rows.Scan(&r.ID, &r.Domain, &r.RuleID, &kind, &params, &snap,
			&r.Confidence, &outcome, &r.Timestamp, &resolvedAt, &content); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan decision: %w", err)
		}
		r.Action.Kind = domain.ActionKind(kind)
		r.Outcome = domain.Outcome(outcome)
		if len(params) > 0 {
			if err := json.Unmarshal(params, &r.Action.Params); err != nil {
				return nil, fmt.Errorf("postgres: decode params of %s: %w", r.ID, err)
			}
		}
		if len(snap) > 0 {
			if err := json.Unmarshal(snap, &r.Snapshot); err != nil {
				return nil, fmt.Errorf("postgres: decode snapshot of %s: %w", r.ID, err)
			}
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			r.ResolvedAt = &t
		}
		r.Content = content.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

// UpdateOutcome атомарно переводит решение из pending в терминальный исход.
// Возвращает domain.ErrDecisionNotFound или domain.ErrAlreadyResolved.
func (s *Store) UpdateOutcome(ctx context.Context, tenantID, id string, outcome domain.Outcome, at time.Time) error {
	if outcome != domain.OutcomeSuccess && outcome != domain.OutcomeFailure {
		return domain.ErrInvalidTransition
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET outcome = $1, resolved_at = $2
		 WHERE tenant_id = $3 AND id = $4 AND outcome = 'pending'`,
		string(outcome), at, tenantID, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Строк не найдено: либо ID неверный, либо исход уже был записан ранее
	var current string
	err = s.db.QueryRowContext(ctx,
		`SELECT outcome FROM decisions WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("postgres: decision %s: %w", id, domain.ErrDecisionNotFound)
	case err != nil:
		return fmt.Errorf("postgres: failed to read outcome: %w", err)
	}
	return fmt.Errorf("postgres: decision %s is %s: %w", id, current, domain.ErrAlreadyResolved)
}

// UpsertResolvedDecision записывает решение сразу с исходом. Нужен, когда исход
// пришел раньше, чем асинхронная вставка pending-строки: поздняя вставка
// (ON CONFLICT DO NOTHING) его уже не перетрет. Существующий терминальный
// исход не меняется, в этом случае возвращается domain.ErrAlreadyResolved.
func (s *Store) UpsertResolvedDecision(ctx context.Context, tenantID string, d domain.Decision, at time.Time) error {
	if d.Outcome != domain.OutcomeSuccess && d.Outcome != domain.OutcomeFailure {
		return domain.ErrInvalidTransition
	}
	params, err := json.Marshal(orEmpty(d.Action.Params))
	if err != nil {
		return fmt.Errorf("postgres: marshal params of %s: %w", d.ID, err)
	}
	snap, err := json.Marshal(d.Snapshot)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot of %s: %w", d.ID, err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, tenant_id, domain, rule_id, action_kind, action_params, snapshot, confidence, outcome, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET outcome = EXCLUDED.outcome, resolved_at = EXCLUDED.resolved_at
		 WHERE decisions.outcome = 'pending'`,
		d.ID, tenantID, d.Domain, d.RuleID, string(d.Action.Kind),
		string(params), string(snap), d.Confidence, string(d.Outcome), d.Timestamp, at)
	if err != nil {
		return fmt.Errorf("postgres: upsert resolved decision %s: %w", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("postgres: decision %s: %w", d.ID, domain.ErrAlreadyResolved)
	}
	return nil
}

// AttachContent сохраняет (или перезаписывает) сгенерированный текст решения.
func (s *Store) AttachContent(ctx context.Context, tenantID, decisionID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generated_content (decision_id, tenant_id, content) VALUES ($1, $2, $3)
		 ON CONFLICT (decision_id) DO UPDATE SET content = EXCLUDED.content, created_at = NOW()`,
		decisionID, tenantID, content)
	if err != nil {
		return fmt.Errorf("postgres: attach content to %s: %w", decisionID, err)
	}
	return nil
}

// DecisionStats: сводка исходов решений начиная с since.
func (s *Store) DecisionStats(ctx context.Context, tenantID string, since time.Time) (domain.DecisionStats, error) {
	var st domain.DecisionStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE outcome = 'pending'),
			COUNT(*) FILTER (WHERE outcome = 'success'),
			COUNT(*) FILTER (WHERE outcome = 'failure')
		FROM decisions
		WHERE tenant_id = $1 AND created_at >= $2`, tenantID, since).Scan(&st.Pending, &st.Succeeded, &st.Failed)
	if err != nil {
		return st, fmt.Errorf("postgres: decision stats: %w", err)
	}
	return st, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
