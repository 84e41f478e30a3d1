package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoMetrics: для домена еще не записано ни одной строки performance_metrics.
var ErrNoMetrics = errors.New("postgres: no metrics recorded")

// LatestMetrics: последняя строка метрик домена (источник kind: sql).
func (s *Store) LatestMetrics(ctx context.Context, tenantID, domainName string) (map[string]any, time.Time, error) {
	var raw []byte
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT metrics, recorded_at FROM performance_metrics
		 WHERE tenant_id = $1 AND domain = $2
		 ORDER BY recorded_at DESC LIMIT 1`, tenantID, domainName).Scan(&raw, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, fmt.Errorf("%w: %s", ErrNoMetrics, domainName)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("postgres: latest metrics: %w", err)
	}

	values := make(map[string]any)
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, time.Time{}, fmt.Errorf("postgres: decode metrics of %s: %w", domainName, err)
	}
	return values, at, nil
}

// RecordMetrics добавляет строку метрик (бэкенд-функции и тестовые данные).
func (s *Store) RecordMetrics(ctx context.Context, tenantID, domainName string, values map[string]any, at time.Time) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("postgres: marshal metrics: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO performance_metrics (tenant_id, domain, metrics, recorded_at) VALUES ($1, $2, $3, $4)`,
		tenantID, domainName, string(raw), at); err != nil {
		return fmt.Errorf("postgres: record metrics: %w", err)
	}
	return nil
}
