package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/engine"
	"github.com/xela07ax/dropwatch/internal/repository/postgres"
	"go.uber.org/zap"
)

// ErrStoreDisabled: запрос требует хранилища, а database.url не задан.
var ErrStoreDisabled = errors.New("console: persistent store is not configured")

// Store описывает требования консоли к хранилищу (repository/postgres.Store).
type Store interface {
	ListAlerts(ctx context.Context, f domain.AlertFilter) ([]domain.Issue, error)
	ListDecisions(ctx context.Context, f domain.DecisionFilter) ([]domain.DecisionRecord, error)
	UpdateOutcome(ctx context.Context, tenantID, id string, outcome domain.Outcome, at time.Time) error
	UpsertResolvedDecision(ctx context.Context, tenantID string, d domain.Decision, at time.Time) error
	UpdateStats(ctx context.Context, tenantID string, r domain.Rule) error
	SetEnabled(ctx context.Context, tenantID, domainName, ruleID string, enabled bool) error
	DecisionStats(ctx context.Context, tenantID string, since time.Time) (domain.DecisionStats, error)
	UpsertRule(ctx context.Context, tenantID string, r domain.Rule) error
	RecordMetrics(ctx context.Context, tenantID, domainName string, values map[string]any, at time.Time) error
}

// TogglePublisher рассылает переключение правила остальным репликам (engine.RuleToggleManager).
type TogglePublisher interface {
	Publish(ctx context.Context, domainName, ruleID string, enabled bool) error
	Reapply(domainName string)
	IsDisabled(domainName, ruleID string) bool
}

// MonitorService: операции оператора над мониторами.
// Store и toggles опциональны: без них состояние живет только в памяти реплики.
type MonitorService struct {
	registry *engine.Registry
	store    Store
	toggles  TogglePublisher
	tenantID string
	runCtx   context.Context
	logger   *zap.Logger
}

// NewMonitorService: runCtx — контекст сервиса, в котором живут запущенные мониторы.
func NewMonitorService(runCtx context.Context, registry *engine.Registry, store Store, toggles TogglePublisher, tenantID string, logger *zap.Logger) *MonitorService {
	return &MonitorService{
		registry: registry,
		store:    store,
		toggles:  toggles,
		tenantID: tenantID,
		runCtx:   runCtx,
		logger:   logger.Named("monitor-service"),
	}
}

func (s *MonitorService) Statuses() []domain.MonitorStatus {
	return s.registry.Statuses()
}

// Running: domain -> запущен ли монитор.
func (s *MonitorService) Running() map[string]bool {
	return s.registry.Status()
}

// StartAll запускает мониторы в контексте сервиса, а не HTTP-запроса.
func (s *MonitorService) StartAll() {
	s.registry.StartAll(s.runCtx)
	s.logger.Info("monitors started by operator")
}

func (s *MonitorService) StopAll() {
	s.registry.StopAll()
	s.logger.Info("monitors stopped by operator")
}

// Issues: window > 0 — только свежие, critical — только high.
func (s *MonitorService) Issues(window time.Duration, critical bool) []domain.DomainIssues {
	var groups []domain.DomainIssues
	switch {
	case window > 0:
		groups = s.registry.RecentIssues(window)
	case critical:
		return s.registry.CriticalIssues()
	default:
		return s.registry.AllIssues()
	}
	if !critical {
		return groups
	}
	for i := range groups {
		high := make([]domain.Issue, 0, len(groups[i].Issues))
		for _, is := range groups[i].Issues {
			if is.Severity == domain.SeverityHigh {
				high = append(high, is)
			}
		}
		groups[i].Issues = high
	}
	return groups
}

func (s *MonitorService) Decisions(domainName string) ([]domain.Decision, error) {
	return s.registry.Decisions(domainName)
}

// StoredDecisions: история решений из БД (в том числе вытесненных из журнала).
func (s *MonitorService) StoredDecisions(ctx context.Context, f domain.DecisionFilter) ([]domain.DecisionRecord, error) {
	if s.store == nil {
		return nil, ErrStoreDisabled
	}
	f.TenantID = s.tenantID
	return s.store.ListDecisions(ctx, f)
}

func (s *MonitorService) Rules(domainName string) ([]domain.Rule, error) {
	return s.registry.Rules(domainName)
}

// ReportOutcome сначала идет в монитор (статистика правила), затем в БД.
// Решение, уже вытесненное из журнала, обновляется только в БД. Строка решения
// могла еще не дойти до БД через диспетчер, поэтому исход пишется upsert'ом.
func (s *MonitorService) ReportOutcome(ctx context.Context, domainName, id string, outcome domain.Outcome, impact *float64) error {
	resolved, rule, err := s.registry.ReportOutcome(domainName, id, outcome, impact)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDecisionNotFound) && s.store != nil:
		return s.store.UpdateOutcome(ctx, s.tenantID, id, outcome, time.Now())
	default:
		return err
	}

	if s.store == nil {
		return nil
	}
	// Память — источник правды для тика, ошибка БД исход не откатывает
	if err := s.store.UpsertResolvedDecision(ctx, s.tenantID, resolved, time.Now()); err != nil {
		s.logger.Warn("failed to persist outcome", zap.String("decision_id", id), zap.Error(err))
	}
	if err := s.store.UpdateStats(ctx, s.tenantID, rule); err != nil {
		s.logger.Warn("failed to persist rule stats", zap.String("rule_id", rule.ID), zap.Error(err))
	}
	return nil
}

// SetRuleEnabled: унифицированный механизм переключения правила.
// 1. БД (если правило там есть), 2. локальные мониторы, 3. сигнал остальным репликам.
func (s *MonitorService) SetRuleEnabled(ctx context.Context, domainName, ruleID string, enabled bool) error {
	rules, err := s.registry.Rules(domainName)
	if err != nil {
		return err
	}
	if !containsRule(rules, ruleID) {
		return fmt.Errorf("%w: %s/%s", engine.ErrUnknownRule, domainName, ruleID)
	}

	// 1. Persistence Layer
	if s.store != nil {
		if err := s.store.SetEnabled(ctx, s.tenantID, domainName, ruleID, enabled); err != nil &&
			!errors.Is(err, postgres.ErrRuleNotFound) {
			s.logger.Error("failed to update rule state in DB",
				zap.String("domain", domainName), zap.String("rule_id", ruleID), zap.Error(err))
			return fmt.Errorf("rule toggle database error: %w", err)
		}
	}

	// 2. Local state
	if err := s.registry.SetRuleEnabled(domainName, ruleID, enabled); err != nil {
		return err
	}

	// 3. Real-time Signaling
	if s.toggles != nil {
		if err := s.toggles.Publish(ctx, domainName, ruleID, enabled); err != nil {
			s.logger.Warn("runtime signal delivery failed",
				zap.String("domain", domainName), zap.String("rule_id", ruleID), zap.Error(err))
		}
	}
	s.logger.Info("rule state updated",
		zap.String("domain", domainName), zap.String("rule_id", ruleID), zap.Bool("enabled", enabled))
	return nil
}

// UpsertRule заводит или заменяет правило оператора: проверка, БД, затем монитор.
// Другие реплики увидят правило после перезапуска (каталог читается при старте).
func (s *MonitorService) UpsertRule(ctx context.Context, domainName string, rule domain.Rule) (domain.Rule, error) {
	rule, err := s.registry.ValidateRule(domainName, rule)
	if err != nil {
		return domain.Rule{}, err
	}
	// Выключение оператором главнее правки правила: снимается только через /enable
	if s.toggles != nil && s.toggles.IsDisabled(domainName, rule.ID) {
		rule.Enabled = false
	}
	if s.store != nil {
		if err := s.store.UpsertRule(ctx, s.tenantID, rule); err != nil {
			return domain.Rule{}, fmt.Errorf("rule upsert database error: %w", err)
		}
	}
	saved, err := s.registry.UpsertRule(domainName, rule)
	if err != nil {
		return domain.Rule{}, err
	}
	if s.toggles == nil {
		return saved, nil
	}

	// Реплика могла узнать о выключении уже после проверки выше
	s.toggles.Reapply(domainName)
	rules, err := s.registry.Rules(domainName)
	if err != nil {
		return domain.Rule{}, err
	}
	for _, r := range rules {
		if r.ID == saved.ID {
			return r, nil
		}
	}
	return saved, nil
}

// RecordMetrics принимает срез от бэкенд-функции в performance_metrics (его читает источник kind: sql).
// Значения нормализуются так же, как срез монитора.
func (s *MonitorService) RecordMetrics(ctx context.Context, domainName string, values map[string]any) error {
	if s.store == nil {
		return ErrStoreDisabled
	}
	if _, err := s.registry.Rules(domainName); err != nil {
		return err
	}
	snap := domain.NewSnapshot(domainName, time.Now(), values)
	if snap.Len() == 0 {
		return fmt.Errorf("%w: metrics for %s contain no numeric, string or bool values", domain.ErrInvalidConfig, domainName)
	}
	return s.store.RecordMetrics(ctx, s.tenantID, domainName, snap.Values(), snap.TakenAt)
}

func (s *MonitorService) Alerts(ctx context.Context, f domain.AlertFilter) ([]domain.Issue, error) {
	if s.store == nil {
		return nil, ErrStoreDisabled
	}
	f.TenantID = s.tenantID
	return s.store.ListAlerts(ctx, f)
}

// Dashboard собирает сводку из памяти мониторов; исходы решений берутся из БД, если она есть.
func (s *MonitorService) Dashboard(ctx context.Context) (*domain.UnifiedDashboard, error) {
	d := &domain.UnifiedDashboard{}

	// 1. Планировщик
	for _, st := range s.registry.Statuses() {
		d.Monitors.Total++
		if st.Running {
			d.Monitors.Running++
		}
		if st.Degraded {
			d.Monitors.Degraded++
		}
	}

	// 2. Журнал проблем
	for _, g := range s.registry.AllIssues() {
		for _, is := range g.Issues {
			switch is.Severity {
			case domain.SeverityLow:
				d.Incidents.Low++
			case domain.SeverityMedium:
				d.Incidents.Medium++
			case domain.SeverityHigh:
				d.Incidents.High++
			}
		}
	}

	// 3. Решения и средняя успешность включенных правил
	var sum float64
	var enabled int
	for _, name := range s.registry.Domains() {
		rules, err := s.registry.Rules(name)
		if err != nil {
			continue
		}
		for _, r := range rules {
			if r.Enabled {
				sum += r.SuccessRate
				enabled++
			}
		}
		if s.store != nil {
			continue
		}
		decisions, _ := s.registry.Decisions(name)
		for _, dec := range decisions {
			switch dec.Outcome {
			case domain.OutcomePending:
				d.Decisions.Pending++
			case domain.OutcomeSuccess:
				d.Decisions.Succeeded++
			case domain.OutcomeFailure:
				d.Decisions.Failed++
			}
		}
	}
	if enabled > 0 {
		d.Decisions.AverageSuccessRate = sum / float64(enabled)
	}

	if s.store != nil {
		st, err := s.store.DecisionStats(ctx, s.tenantID, time.Now().Add(-24*time.Hour))
		if err != nil {
			return nil, err
		}
		st.AverageSuccessRate = d.Decisions.AverageSuccessRate
		d.Decisions = st
	}
	return d, nil
}

func containsRule(rules []domain.Rule, id string) bool {
	for _, r := range rules {
		if r.ID == id {
			return true
		}
	}
	return false
}
