package postgres

/*
Файл rule_repo.go — правила автоматизации, созданные операторами в дашборде.
При старте они сливаются с правилами из конфига (rules.Catalog), статистика
SuccessRate/ImpactScore сохраняется сюда после каждого исхода.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/infra"
)

// ListRules выполняет "холодную загрузку" правил тенанта при старте.
func (s *Store) ListRules(ctx context.Context, tenantID string) ([]domain.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, name, trigger_kind, signal, polarity, threshold, timeframe_ms,
		       match, expression, time_window, action_kind, action_params, severity,
		       enabled, success_rate, impact_score, updated_at
		FROM automation_rules
		WHERE tenant_id = $1
		ORDER BY domain, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query rules: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Rule, 0)
	for rows.Next() {
		var r domain.Rule
		var trigger, polarity, action, severity string
		var timeframeMs int64
		var match, window, params []byte

		if err := rows.Scan(&r.ID, &r.Domain, &r.Name, &trigger, &r.Signal, &polarity, &r.Threshold, &timeframeMs,
			&match, &r.Expression, &window, &action, &params, &severity,
			&r.Enabled, &r.SuccessRate, &r.ImpactScore, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan rule: %w", err)
		}
		r.TriggerKind = domain.TriggerKind(trigger)
		r.Polarity = domain.Polarity(polarity)
		r.Action.Kind = domain.ActionKind(action)
		r.Severity = domain.Severity(severity)
		r.Timeframe = time.Duration(timeframeMs) * time.Millisecond

		for _, f := range []struct {
			raw []byte
			dst any
		}{{match, &r.Match}, {window, &r.Window}, {params, &r.Action.Params}} {
			if len(f.raw) == 0 {
				continue
			}
			if err := json.Unmarshal(f.raw, f.dst); err != nil {
				return nil, fmt.Errorf("postgres: decode rule %s/%s: %w", r.Domain, r.ID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

// UpsertRule создает или полностью заменяет правило.
func (s *Store) UpsertRule(ctx context.Context, tenantID string, r domain.Rule) error {
	match, err := json.Marshal(r.Match)
	if err != nil {
		return fmt.Errorf("postgres: marshal match: %w", err)
	}
	if r.Match == nil {
		match = []byte("[]")
	}
	window, err := json.Marshal(r.Window)
	if err != nil {
		return fmt.Errorf("postgres: marshal window: %w", err)
	}
	params, err := json.Marshal(orEmpty(r.Action.Params))
	if err != nil {
		return fmt.Errorf("postgres: marshal params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_rules (tenant_id, domain, id, name, trigger_kind, signal, polarity, threshold,
			timeframe_ms, match, expression, time_window, action_kind, action_params, severity,
			enabled, success_rate, impact_score, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())
		ON CONFLICT (tenant_id, domain, id) DO UPDATE SET
			name = EXCLUDED.name, trigger_kind = EXCLUDED.trigger_kind, signal = EXCLUDED.signal,
			polarity = EXCLUDED.polarity, threshold = EXCLUDED.threshold, timeframe_ms = EXCLUDED.timeframe_ms,
			match = EXCLUDED.match, expression = EXCLUDED.expression, time_window = EXCLUDED.time_window,
			action_kind = EXCLUDED.action_kind, action_params = EXCLUDED.action_params,
			severity = EXCLUDED.severity, enabled = EXCLUDED.enabled, updated_at = NOW()`,
		tenantID, r.Domain, r.ID, r.Name, string(r.TriggerKind), r.Signal, string(r.Polarity), r.Threshold,
		r.Timeframe.Milliseconds(), string(match), r.Expression, string(window), string(r.Action.Kind),
		string(params), string(r.Severity), r.Enabled,
		domain.ClampScore(r.SuccessRate), domain.ClampScore(r.ImpactScore))
	if err != nil {
		return fmt.Errorf("postgres: upsert rule %s/%s: %w", r.Domain, r.ID, err)
	}
	return nil
}

// SetEnabled включает/выключает правило. ErrRuleNotFound — правила нет в БД.
func (s *Store) SetEnabled(ctx context.Context, tenantID, domainName, ruleID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automation_rules SET enabled = $1, updated_at = NOW()
		 WHERE tenant_id = $2 AND domain = $3 AND id = $4`,
		enabled, tenantID, domainName, ruleID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update rule state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrRuleNotFound, domainName, ruleID)
	}
	return nil
}

// UpdateStats сохраняет скользящую статистику правила. Отсутствие строки — не ошибка:
// статистика правил из конфига живет только в памяти.
func (s *Store) UpdateStats(ctx context.Context, tenantID string, r domain.Rule) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE automation_rules SET success_rate = $1, impact_score = $2, updated_at = NOW()
		 WHERE tenant_id = $3 AND domain = $4 AND id = $5`,
		domain.ClampScore(r.SuccessRate), domain.ClampScore(r.ImpactScore), tenantID, r.Domain, r.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update rule stats: %w", err)
	}
	return nil
}

// DisabledRules возвращает ключи "domain/rule_id" выключенных правил для прогрева L1 кэша.
func (s *Store) DisabledRules(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, id FROM automation_rules WHERE tenant_id = $1 AND NOT enabled`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch disabled rules: %w", err)
	}
	defer rows.Close()

	// Инициализируем слайс, чтобы избежать возврата nil
	keys := make([]string, 0)
	for rows.Next() {
		var d, id string
		if err := rows.Scan(&d, &id); err != nil {
			return nil, fmt.Errorf("postgres: scan rule key error: %w", err)
		}
		keys = append(keys, infra.RuleKey(d, id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return keys, nil
}
