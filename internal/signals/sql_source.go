package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/dropwatch/internal/domain"
)

// MetricsReader: последняя строка performance_metrics домена.
type MetricsReader interface {
	LatestMetrics(ctx context.Context, tenantID, domainName string) (map[string]any, time.Time, error)
}

// SQLSource берет срез из таблицы performance_metrics (ее наполняют ETL-задачи дашборда).
type SQLSource struct {
	repo     MetricsReader
	tenantID string
	domain   string
	maxAge   time.Duration // Старше — качество данных падает
}

func NewSQLSource(repo MetricsReader, tenantID, domainName string, maxAge time.Duration) *SQLSource {
	return &SQLSource{repo: repo, tenantID: tenantID, domain: domainName, maxAge: maxAge}
}

func (s *SQLSource) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	values, recordedAt, err := s.repo.LatestMetrics(ctx, s.tenantID, s.domain)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("sql source %s: %w", s.domain, err)
	}

	// Время съема — время тика, а возраст строки понижает качество
	snap := domain.NewSnapshot("", time.Time{}, values)
	if s.maxAge > 0 && !recordedAt.IsZero() {
		age := time.Since(recordedAt)
		if age > s.maxAge {
			snap = snap.WithQuality(float64(s.maxAge) / float64(age))
		}
	}
	return snap, nil
}
