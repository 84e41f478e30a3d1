package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/rules"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownDomain = errors.New("unknown monitor domain")
	ErrUnknownRule   = errors.New("unknown rule")
)

type RegistryOption func(*Registry)

// WithClock подменяет часы, которыми мониторы ставят метки тиков.
func WithClock(c Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// Registry: явно созданный владелец всех мониторов.
// Структурные операции (Register/StartAll/StopAll) сериализованы opMu,
// запросы на чтение идут параллельно тикам и получают копии.
type Registry struct {
	opMu sync.Mutex

	mu       sync.RWMutex
	order    []string
	monitors map[string]*Monitor
	runCtx   context.Context // != nil, пока реестр запущен; отмененный считается остановленным

	evaluator *rules.Evaluator
	sink      Sink
	clock     Clock
	metrics   *Metrics
	logger    *zap.Logger
}

func NewRegistry(ev *rules.Evaluator, sink Sink, metrics *Metrics, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if sink == nil {
		sink = noopSink{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	r := &Registry{
		monitors:  make(map[string]*Monitor),
		evaluator: ev,
		sink:      sink,
		clock:     systemClock{},
		metrics:   metrics,
		logger:    logger.Named("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register идемпотентна: повторная регистрация заменяет правила, источник и интервал,
// сохраняя журналы домена. Ошибки конфигурации возвращаются здесь, а не на тике.
func (r *Registry) Register(name string, cfg MonitorConfig) error {
	if err := r.validate(name, &cfg); err != nil {
		return err
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.RLock()
	existing, ok := r.monitors[name]
	runCtx := r.runCtx
	r.mu.RUnlock()

	if ok {
		prevInterval := existing.interval()
		existing.applyConfig(cfg)
		if prevInterval != cfg.Interval {
			existing.restart()
		}
		r.logger.Info("monitor re-registered", zap.String("domain", name), zap.Int("rules", len(cfg.Rules)))
		return nil
	}

	m := newMonitor(name, cfg, r.evaluator, r.sink, r.clock, r.metrics, r.logger)
	r.mu.Lock()
	r.monitors[name] = m
	r.order = append(r.order, name)
	r.mu.Unlock()

	// Домен, добавленный в работающий реестр, стартует сразу
	if runCtx != nil && runCtx.Err() == nil {
		m.start(runCtx)
	}
	r.logger.Info("monitor registered", zap.String("domain", name), zap.Int("rules", len(cfg.Rules)))
	return nil
}

func (r *Registry) validate(name string, cfg *MonitorConfig) error {
	if name == "" {
		return fmt.Errorf("%w: empty domain name", domain.ErrInvalidConfig)
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("%w: domain %s: interval must be positive", domain.ErrInvalidConfig, name)
	}
	if cfg.TickTimeout < 0 {
		return fmt.Errorf("%w: domain %s: negative tick timeout", domain.ErrInvalidConfig, name)
	}
	if (cfg.Source == nil) == (cfg.Probe == nil) {
		return fmt.Errorf("%w: domain %s: exactly one of signal source or health probe is required", domain.ErrInvalidConfig, name)
	}

	seen := make(map[string]bool, len(cfg.Rules))
	normalized := make([]domain.Rule, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		rule = rule.Clone()
		if rule.Domain == "" {
			rule.Domain = name
		}
		if rule.Domain != name {
			return fmt.Errorf("%w: rule %s belongs to domain %s, not %s", domain.ErrInvalidConfig, rule.ID, rule.Domain, name)
		}
		if seen[rule.ID] {
			return fmt.Errorf("%w: domain %s: duplicate rule id %s", domain.ErrInvalidConfig, name, rule.ID)
		}
		seen[rule.ID] = true

		rule.Normalize()
		if err := r.evaluator.Validate(rule); err != nil {
			return err
		}
		normalized = append(normalized, rule)
	}
	cfg.Rules = normalized
	return nil
}

// StartAll запускает все мониторы. Повторный вызов ничего не меняет, пока
// контекст прошлого запуска жив; после его отмены реестр запускается заново с ctx.
func (r *Registry) StartAll(ctx context.Context) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.runCtx == nil || r.runCtx.Err() != nil {
		r.runCtx = ctx
	}
	runCtx := r.runCtx
	r.mu.Unlock()

	for _, m := range r.list() {
		m.start(runCtx)
	}
}

// StopAll останавливает все мониторы и ждет завершения текущих тиков.
// Ограничение по времени — забота вызывающего.
func (r *Registry) StopAll() {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	r.runCtx = nil
	r.mu.Unlock()

	var g errgroup.Group
	for _, m := range r.list() {
		g.Go(func() error {
			m.stop()
			return nil
		})
	}
	_ = g.Wait()
}

// list: мониторы в порядке регистрации.
func (r *Registry) list() []*Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Monitor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.monitors[name])
	}
	return out
}

func (r *Registry) monitor(name string) (*Monitor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.monitors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, name)
	}
	return m, nil
}

func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Status: domain -> running.
func (r *Registry) Status() map[string]bool {
	out := make(map[string]bool)
	for _, m := range r.list() {
		out[m.name] = m.isRunning()
	}
	return out
}

func (r *Registry) Statuses() []domain.MonitorStatus {
	monitors := r.list()
	out := make([]domain.MonitorStatus, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, m.Status())
	}
	return out
}

// AllIssues: копии журналов всех доменов в порядке регистрации.
func (r *Registry) AllIssues() []domain.DomainIssues {
	return r.collectIssues(func(domain.Issue) bool { return true })
}

// RecentIssues: проблемы не старше window относительно текущего времени.
func (r *Registry) RecentIssues(window time.Duration) []domain.DomainIssues {
	cutoff := r.clock.Now().Add(-window)
	return r.collectIssues(func(i domain.Issue) bool { return !i.Timestamp.Before(cutoff) })
}

func (r *Registry) CriticalIssues() []domain.DomainIssues {
	return r.collectIssues(func(i domain.Issue) bool { return i.Severity == domain.SeverityHigh })
}

func (r *Registry) collectIssues(keep func(domain.Issue) bool) []domain.DomainIssues {
	monitors := r.list()
	out := make([]domain.DomainIssues, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, domain.DomainIssues{Domain: m.name, Issues: m.issues.Filter(keep)})
	}
	return out
}

func (r *Registry) Decisions(name string) ([]domain.Decision, error) {
	m, err := r.monitor(name)
	if err != nil {
		return nil, err
	}
	return m.Decisions(), nil
}

func (r *Registry) Rules(name string) ([]domain.Rule, error) {
	m, err := r.monitor(name)
	if err != nil {
		return nil, err
	}
	return m.Rules(), nil
}

func (r *Registry) ReportOutcome(name, decisionID string, outcome domain.Outcome, impact *float64) (domain.Decision, domain.Rule, error) {
	m, err := r.monitor(name)
	if err != nil {
		return domain.Decision{}, domain.Rule{}, err
	}
	return m.ReportOutcome(decisionID, outcome, impact)
}

func (r *Registry) SetRuleEnabled(name, ruleID string, enabled bool) error {
	m, err := r.monitor(name)
	if err != nil {
		return err
	}
	if err := m.SetRuleEnabled(ruleID, enabled); err != nil {
		return fmt.Errorf("%w: %s/%s", err, name, ruleID)
	}
	return nil
}

// ValidateRule нормализует правило домена и проверяет его так же, как Register.
func (r *Registry) ValidateRule(name string, rule domain.Rule) (domain.Rule, error) {
	if _, err := r.monitor(name); err != nil {
		return domain.Rule{}, err
	}
	rule = rule.Clone()
	if rule.Domain == "" {
		rule.Domain = name
	}
	if rule.Domain != name {
		return domain.Rule{}, fmt.Errorf("%w: rule %s belongs to domain %s, not %s", domain.ErrInvalidConfig, rule.ID, rule.Domain, name)
	}
	rule.Normalize()
	if err := r.evaluator.Validate(rule); err != nil {
		return domain.Rule{}, err
	}
	return rule, nil
}

// UpsertRule добавляет или заменяет одно правило домена без перерегистрации монитора.
func (r *Registry) UpsertRule(name string, rule domain.Rule) (domain.Rule, error) {
	rule, err := r.ValidateRule(name, rule)
	if err != nil {
		return domain.Rule{}, err
	}
	m, err := r.monitor(name)
	if err != nil {
		return domain.Rule{}, err
	}
	m.UpsertRule(rule)
	r.logger.Info("rule upserted", zap.String("domain", name), zap.String("rule_id", rule.ID))
	return rule, nil
}
