package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/dropwatch/internal/domain"
	"go.uber.org/zap"
)

// Reason: почему оценка правила закончилась именно так.
type Reason string

const (
	ReasonFired            Reason = "fired"
	ReasonInactive         Reason = "inactive"
	ReasonDisabled         Reason = "disabled"
	ReasonInsufficientData Reason = "insufficient_data" // Не ошибка: валидный исход "без решения"
	ReasonCooldown         Reason = "cooldown"
	ReasonHolding          Reason = "holding" // Условие всё еще выполняется, фронт уже отработан
)

// History: то, что вызывающий знает о прошлых оценках правила.
// Evaluator его только читает, обновление — ответственность монитора.
type History struct {
	Decisions int // Всего решений по правилу
	Successes int
	Failures  int

	Observed  bool // Была ли предыдущая успешная оценка
	Active    bool // Выполнялось ли условие на предыдущей оценке
	LastFired time.Time
}

// Resolved: число решений с известным исходом.
func (h History) Resolved() int { return h.Successes + h.Failures }

// Result: результат одной оценки. Active нужно сохранить в History для следующего тика.
type Result struct {
	Decision *domain.Decision
	Active   bool
	Reason   Reason
}

func (r Result) Fired() bool { return r.Decision != nil }

// Weights: веса смеси уверенности. В сумме должны давать 1.
type Weights struct {
	History  float64 `mapstructure:"history"`
	Quality  float64 `mapstructure:"quality"`
	Maturity float64 `mapstructure:"maturity"`
}

type Config struct {
	Weights      Weights `mapstructure:"weights"`
	MaturityCap  int     `mapstructure:"maturity_cap"`  // Сколько решений нужно для "зрелого" правила
	NeutralPrior float64 `mapstructure:"neutral_prior"` // Точность при пустой истории
}

func DefaultConfig() Config {
	return Config{
		Weights:      Weights{History: 0.4, Quality: 0.3, Maturity: 0.3},
		MaturityCap:  50,
		NeutralPrior: 0.5,
	}
}

// Evaluator: чистая функция (rule, snapshot, history) -> Decision | none.
// Безопасен для конкурентного использования несколькими мониторами.
type Evaluator struct {
	cfg     Config
	exprs   *expressionCache
	windows *windowCache
	newID   func() string
	logger  *zap.Logger
}

func NewEvaluator(cfg Config, logger *zap.Logger) (*Evaluator, error) {
	w := cfg.Weights
	for _, v := range []float64{w.History, w.Quality, w.Maturity} {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("%w: confidence weights must be within [0,1]", domain.ErrInvalidConfig)
		}
	}
	if sum := w.History + w.Quality + w.Maturity; math.Abs(sum-1) > 1e-9 {
		return nil, fmt.Errorf("%w: confidence weights must sum to 1, got %.4f", domain.ErrInvalidConfig, sum)
	}
	if cfg.MaturityCap <= 0 {
		return nil, fmt.Errorf("%w: maturity cap must be positive", domain.ErrInvalidConfig)
	}
	cfg.NeutralPrior = domain.Clamp01(cfg.NeutralPrior)

	exprs, err := newExpressionCache()
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		cfg:     cfg,
		exprs:   exprs,
		windows: newWindowCache(),
		newID:   func() string { return uuid.New().String() },
		logger:  logger.Named("evaluator"),
	}, nil
}

// Validate проверяет правило целиком: структуру, окно и компиляцию выражения.
// Вызывается при регистрации, чтобы ошибки конфигурации не доживали до тика.
func (e *Evaluator) Validate(rule domain.Rule) error {
	rule.Normalize()
	if err := rule.Check(); err != nil {
		return err
	}
	switch rule.TriggerKind {
	case domain.TriggerTimeBased:
		if _, err := e.windows.get(rule.Window); err != nil {
			return fmt.Errorf("%w: rule %s: %v", domain.ErrInvalidConfig, rule.ID, err)
		}
	case domain.TriggerExpression:
		if _, err := e.exprs.get(rule.Expression); err != nil {
			return fmt.Errorf("%w: rule %s: %v", domain.ErrInvalidConfig, rule.ID, err)
		}
	}
	return nil
}

// Evaluate никогда не возвращает ошибку: нехватка данных — это ReasonInsufficientData.
func (e *Evaluator) Evaluate(rule domain.Rule, snap domain.Snapshot, h History) Result {
	// 1. Выключенное правило не оценивается вовсе
	if !rule.Enabled {
		return Result{Active: h.Active, Reason: ReasonDisabled}
	}

	// 2. Условие триггера
	active, ok := e.condition(rule, snap)
	if !ok {
		return Result{Active: h.Active, Reason: ReasonInsufficientData}
	}
	if !active {
		return Result{Active: false, Reason: ReasonInactive}
	}

	// 3. Пороговые и категориальные правила срабатывают на фронте,
	// временное окно — всё время, пока открыто
	if rule.TriggerKind != domain.TriggerTimeBased && h.Observed && h.Active {
		return Result{Active: true, Reason: ReasonHolding}
	}

	// 4. Cooldown на Timeframe
	if rule.Timeframe > 0 && !h.LastFired.IsZero() && snap.TakenAt.Before(h.LastFired.Add(rule.Timeframe)) {
		return Result{Active: true, Reason: ReasonCooldown}
	}

	d := &domain.Decision{
		ID:         e.newID(),
		Timestamp:  snap.TakenAt,
		Domain:     rule.Domain,
		RuleID:     rule.ID,
		Snapshot:   snap,
		Action:     rule.Clone().Action,
		Confidence: e.Confidence(h, snap.Quality),
		Outcome:    domain.OutcomePending,
	}
	return Result{Decision: d, Active: true, Reason: ReasonFired}
}

func (e *Evaluator) condition(rule domain.Rule, snap domain.Snapshot) (active bool, ok bool) {
	switch rule.TriggerKind {
	case domain.TriggerThreshold:
		v, found := snap.Number(rule.Signal)
		if !found {
			return false, false
		}
		if rule.Polarity == domain.PolarityBelow {
			return v < rule.Threshold, true
		}
		if rule.Polarity == domain.PolarityAbove {
			return v > rule.Threshold, true
		}
		return false, false

	case domain.TriggerCategorical:
		v, found := snap.Label(rule.Signal)
		if !found {
			return false, false
		}
		for _, m := range rule.Match {
			if v == m {
				return true, true
			}
		}
		return false, true

	case domain.TriggerTimeBased:
		if snap.TakenAt.IsZero() {
			return false, false
		}
		w, err := e.windows.get(rule.Window)
		if err != nil {
			return false, false
		}
		return w.contains(snap.TakenAt), true

	case domain.TriggerExpression:
		prg, err := e.exprs.get(rule.Expression)
		if err != nil {
			return false, false
		}
		return prg.eval(snap)
	}
	return false, false
}

// Confidence: взвешенная смесь трех слагаемых, каждое в [0,1]:
// историческая точность, качество данных и зрелость правила.
func (e *Evaluator) Confidence(h History, quality float64) float64 {
	historical := e.cfg.NeutralPrior
	if resolved := h.Resolved(); resolved > 0 {
		historical = float64(h.Successes) / float64(resolved)
	}
	maturity := float64(h.Decisions) / float64(e.cfg.MaturityCap)

	w := e.cfg.Weights
	c := w.History*domain.Clamp01(historical) +
		w.Quality*domain.Clamp01(quality) +
		w.Maturity*domain.Clamp01(maturity)
	return domain.Clamp01(c)
}
