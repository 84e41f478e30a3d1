package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/issuelog"
	"github.com/xela07ax/dropwatch/internal/rules"
	"go.uber.org/zap"
)

// emaAlpha: вес нового исхода в скользящей статистике правила.
const emaAlpha = 0.2

// Monitor: владелец одного домена: расписание, срез, журналы и статистика правил.
// Журналы и статистику пишет только горутина монитора (и ReportOutcome), наружу отдаются копии.
type Monitor struct {
	name      string
	evaluator *rules.Evaluator
	sink      Sink
	clock     Clock
	metrics   *Metrics
	logger    *zap.Logger

	issues    *issuelog.Log[domain.Issue]
	decisions *issuelog.Log[domain.Decision]

	mu        sync.RWMutex
	cfg       MonitorConfig
	rules     []domain.Rule
	history   map[string]*rules.History
	snapshot  domain.Snapshot
	lastTick  time.Time
	lastStamp time.Time // Последняя метка времени в журналах (для монотонности)
	degraded  bool
	lastErr   string
	healthy   bool

	// Жизненный цикл: start/stop сериализованы runMu
	runMu  sync.Mutex
	parent context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Защита от наложения тиков одного домена
	tickMu sync.Mutex
}

func newMonitor(name string, cfg MonitorConfig, ev *rules.Evaluator, sink Sink, clock Clock, metrics *Metrics, logger *zap.Logger) *Monitor {
	m := &Monitor{
		name:      name,
		evaluator: ev,
		sink:      sink,
		clock:     clock,
		metrics:   metrics,
		logger:    logger.With(zap.String("mod", "monitor"), zap.String("domain", name)),
		issues:    issuelog.New[domain.Issue](cfg.Capacity, cfg.Retention),
		decisions: issuelog.New[domain.Decision](cfg.Capacity, cfg.Retention),
		history:   make(map[string]*rules.History),
		healthy:   true, // Монитор стартует в здоровом состоянии
	}
	m.applyConfig(cfg)
	return m
}

// applyConfig заменяет правила и источник. Статистика и история правил с тем же id сохраняются.
func (m *Monitor) applyConfig(cfg MonitorConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := make(map[string]domain.Rule, len(m.rules))
	for _, r := range m.rules {
		prev[r.ID] = r
	}

	next := make([]domain.Rule, 0, len(cfg.Rules))
	history := make(map[string]*rules.History, len(cfg.Rules))
	for _, r := range cfg.Rules {
		r = r.Clone()
		if old, ok := prev[r.ID]; ok {
			r.SuccessRate = old.SuccessRate
			r.ImpactScore = old.ImpactScore
		}
		if h, ok := m.history[r.ID]; ok {
			history[r.ID] = h
		} else {
			history[r.ID] = &rules.History{}
		}
		next = append(next, r)
	}

	m.cfg = cfg
	m.cfg.Rules = nil
	m.rules = next
	m.history = history
	m.issues.Reconfigure(cfg.Capacity, cfg.Retention)
	m.decisions.Reconfigure(cfg.Capacity, cfg.Retention)
}

func (m *Monitor) interval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Interval
}

// start запускает цикл тиков. Повторный вызов на работающем мониторе ничего не делает.
func (m *Monitor) start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	m.startLocked(ctx)
}

func (m *Monitor) startLocked(ctx context.Context) {
	if m.runningLocked() {
		return
	}
	if m.done != nil {
		// Цикл вышел сам: отменили родительский контекст
		m.cancel()
		m.cancel, m.done = nil, nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.parent = ctx
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(loopCtx, m.interval(), m.done)
	m.logger.Info("monitor started", zap.Duration("interval", m.interval()))
}

// stop отменяет будущие тики и ждет завершения текущего.
// После возврата ни одна запись в журналы монитора не добавится.
func (m *Monitor) stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopLocked() {
		m.logger.Info("monitor stopped")
	}
}

func (m *Monitor) stopLocked() bool {
	if m.done == nil {
		return false
	}
	running := m.runningLocked()
	m.cancel()
	<-m.done
	m.cancel, m.done = nil, nil
	return running
}

// runningLocked: цикл запущен и еще не вышел. Цикл, завершенный отменой
// родительского контекста, не считается работающим.
func (m *Monitor) runningLocked() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// restart перезапускает таймер, если монитор работает (смена интервала при перерегистрации).
func (m *Monitor) restart() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.runningLocked() {
		return
	}
	parent := m.parent
	m.stopLocked()
	m.startLocked(parent)
}

func (m *Monitor) isRunning() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.runningLocked()
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// select выбирает случайно: не начинаем тик, если стоп уже пришел
			if ctx.Err() != nil {
				return
			}
			m.runTick(ctx, interval)
		}
	}
}

// runTick выполняет тик, если предыдущий уже закончился.
func (m *Monitor) runTick(ctx context.Context, interval time.Duration) {
	if !m.tickMu.TryLock() {
		m.metrics.SkippedTicks.WithLabelValues(m.name).Inc()
		return
	}
	defer m.tickMu.Unlock()

	started := time.Now()
	status := m.tick(ctx)
	elapsed := time.Since(started)

	m.metrics.TickDuration.WithLabelValues(m.name, status).Observe(elapsed.Seconds())
	m.metrics.TicksTotal.WithLabelValues(m.name, status).Inc()
	// Тикер сбрасывает такты, пока тик занят: учитываем их как пропущенные
	if interval > 0 && elapsed > interval {
		m.metrics.SkippedTicks.WithLabelValues(m.name).Add(float64(elapsed / interval))
	}
}

// tick: один проход: срез -> оценка правил -> журналы -> sink.
// Ошибки и паники не выходят за пределы монитора.
func (m *Monitor) tick(ctx context.Context) (status string) {
	defer func() {
		if r := recover(); r != nil {
			m.fail(fmt.Errorf("panic in tick: %v", r))
			status = "panic"
		}
	}()

	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	// Остановка не обрывает I/O текущего тика, его ограничивает только tick timeout
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.tickTimeout())
	defer cancel()

	var (
		snap     domain.Snapshot
		probeErr error
		err      error
	)
	if cfg.Probe != nil {
		snap, probeErr = m.probe(tctx, cfg.Probe)
	} else {
		snap, err = cfg.Source.Snapshot(tctx)
		if err != nil {
			m.fail(fmt.Errorf("snapshot: %w", err))
			return "failed"
		}
	}

	out := m.record(snap, cfg.Probe != nil, probeErr)
	for _, n := range out {
		m.sink.Notify(n)
	}
	return "ok"
}

func (m *Monitor) probe(ctx context.Context, p HealthProbe) (domain.Snapshot, error) {
	started := time.Now()
	err := p.Probe(ctx)
	latency := time.Since(started)

	return domain.NewSnapshot(m.name, time.Time{}, map[string]any{
		"healthy":    err == nil,
		"latency_ms": float64(latency.Milliseconds()),
	}), err
}

// record применяет срез к состоянию монитора и возвращает уведомления в порядке записи.
func (m *Monitor) record(snap domain.Snapshot, healthVariant bool, probeErr error) []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	stamp := m.stampLocked(snap.TakenAt)
	snap = snap.WithTakenAt(stamp)
	snap.Domain = m.name

	var out []domain.Notification

	if healthVariant {
		healthy := probeErr == nil
		switch {
		case m.healthy && !healthy:
			out = append(out, m.issueLocked("", fmt.Sprintf("health check failed: %v", probeErr), domain.SeverityHigh, stamp))
		case !m.healthy && healthy:
			out = append(out, m.issueLocked("", "health check recovered", domain.SeverityLow, stamp))
		}
		m.healthy = healthy
	}

	for i := range m.rules {
		rule := m.rules[i]
		h := m.history[rule.ID]

		res := m.evaluator.Evaluate(rule, snap, *h)
		if res.Reason != rules.ReasonDisabled && res.Reason != rules.ReasonInsufficientData {
			h.Observed = true
			h.Active = res.Active
		}
		if !res.Fired() {
			continue
		}

		d := *res.Decision
		h.Decisions++
		h.LastFired = d.Timestamp
		m.decisions.Append(d)
		m.metrics.DecisionsTotal.WithLabelValues(m.name, string(d.Action.Kind)).Inc()
		out = append(out, domain.DecisionNotification(d))

		msg := fmt.Sprintf("rule %s triggered %s (confidence %.2f)", ruleLabel(rule), d.Action.Kind, d.Confidence)
		out = append(out, m.issueLocked(rule.ID, msg, rule.Severity, stamp))
	}

	m.snapshot = snap
	m.lastTick = stamp
	if m.degraded {
		m.logger.Info("monitor recovered")
	}
	m.degraded = false
	m.lastErr = ""
	m.metrics.MonitorDegraded.WithLabelValues(m.name).Set(0)
	return out
}

func (m *Monitor) issueLocked(ruleID, msg string, sev domain.Severity, at time.Time) domain.Notification {
	issue := domain.Issue{
		ID:        uuid.New().String(),
		Domain:    m.name,
		RuleID:    ruleID,
		Message:   msg,
		Severity:  sev,
		Timestamp: at,
	}
	m.issues.Append(issue)
	m.metrics.IssuesTotal.WithLabelValues(m.name, string(sev)).Inc()
	return domain.IssueNotification(issue)
}

// stampLocked выдает метку тика: время источника или часов, но не раньше предыдущей записи.
func (m *Monitor) stampLocked(taken time.Time) time.Time {
	if taken.IsZero() {
		taken = m.clock.Now()
	}
	if taken.Before(m.lastStamp) {
		taken = m.lastStamp
	}
	m.lastStamp = taken
	return taken
}

func (m *Monitor) fail(err error) {
	m.mu.Lock()
	m.degraded = true
	m.lastErr = err.Error()
	m.mu.Unlock()

	m.metrics.MonitorDegraded.WithLabelValues(m.name).Set(1)
	m.logger.Warn("tick failed, skipping", zap.Error(err))
}

// ReportOutcome фиксирует исход решения (один раз) и обновляет статистику правила.
// impact == nil — влияние не сообщено, ImpactScore не меняется.
func (m *Monitor) ReportOutcome(decisionID string, outcome domain.Outcome, impact *float64) (domain.Decision, domain.Rule, error) {
	updated, found, err := m.decisions.Replace(
		func(d domain.Decision) bool { return d.ID == decisionID },
		func(d domain.Decision) (domain.Decision, error) { return d.Resolved(outcome) },
	)
	if !found {
		return domain.Decision{}, domain.Rule{}, domain.ErrDecisionNotFound
	}
	if err != nil {
		return updated, domain.Rule{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.rules {
		r := &m.rules[i]
		if r.ID != updated.RuleID {
			continue
		}
		success := 0.0
		if h := m.history[r.ID]; h != nil {
			if outcome == domain.OutcomeSuccess {
				h.Successes++
			} else {
				h.Failures++
			}
		}
		if outcome == domain.OutcomeSuccess {
			success = 100
		}
		r.SuccessRate = domain.ClampScore(ema(r.SuccessRate, success))
		if impact != nil {
			r.ImpactScore = domain.ClampScore(ema(r.ImpactScore, domain.ClampScore(*impact)))
		}
		r.UpdatedAt = m.clock.Now()
		return updated, r.Clone(), nil
	}
	// Правило удалено перерегистрацией: исход зафиксирован, статистику обновлять некому
	return updated, domain.Rule{}, nil
}

func ema(prev, sample float64) float64 {
	return prev + emaAlpha*(sample-prev)
}

// SetRuleEnabled включает/выключает правило. Выключенное правило не оценивается.
func (m *Monitor) SetRuleEnabled(ruleID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == ruleID {
			m.rules[i].Enabled = enabled
			m.rules[i].UpdatedAt = m.clock.Now()
			return nil
		}
	}
	return ErrUnknownRule
}

// UpsertRule заменяет правило с тем же id или добавляет новое.
// Статистика существующего правила сохраняется, новое начинает с пустой истории.
func (m *Monitor) UpsertRule(rule domain.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule = rule.Clone()
	rule.UpdatedAt = m.clock.Now()
	for i := range m.rules {
		if m.rules[i].ID == rule.ID {
			rule.SuccessRate = m.rules[i].SuccessRate
			rule.ImpactScore = m.rules[i].ImpactScore
			m.rules[i] = rule
			return
		}
	}
	m.rules = append(m.rules, rule)
	m.history[rule.ID] = &rules.History{}
}

func (m *Monitor) Rules() []domain.Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Rule, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.Clone()
	}
	return out
}

func (m *Monitor) Issues() []domain.Issue {
	return m.issues.Snapshot()
}

func (m *Monitor) Decisions() []domain.Decision {
	return m.decisions.Snapshot()
}

// Snapshot: последний принятый срез домена.
func (m *Monitor) Snapshot() domain.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Status никогда не падает: сбойный монитор отдается с Degraded=true.
func (m *Monitor) Status() domain.MonitorStatus {
	running := m.isRunning()

	m.mu.RLock()
	defer m.mu.RUnlock()

	st := domain.MonitorStatus{
		Domain:    m.name,
		Running:   running,
		Degraded:  m.degraded,
		LastError: m.lastErr,
		LastTick:  m.lastTick,
		Interval:  m.cfg.Interval.String(),
		Rules:     len(m.rules),
		Issues:    m.issues.Len(),
		Decisions: m.decisions.Len(),
	}
	if m.cfg.Probe != nil {
		healthy := m.healthy
		st.Healthy = &healthy
	}
	if !m.snapshot.TakenAt.IsZero() {
		snap := m.snapshot
		st.Snapshot = &snap
	}
	return st
}

func ruleLabel(r domain.Rule) string {
	if r.Name != "" {
		return fmt.Sprintf("%q", r.Name)
	}
	return r.ID
}
