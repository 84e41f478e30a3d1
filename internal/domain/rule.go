package domain

import (
	"errors"
	"fmt"
	"time"
)

// TriggerKind определяет, как правило интерпретирует срез сигналов
type TriggerKind string

const (
	TriggerThreshold   TriggerKind = "threshold"   // Пересечение числового порога
	TriggerTimeBased   TriggerKind = "time_based"  // Срабатывание внутри временного окна (peak hours)
	TriggerCategorical TriggerKind = "categorical" // Совпадение категориального сигнала
	TriggerExpression  TriggerKind = "expression"  // Произвольное CEL-выражение
)

// Polarity задает направление пересечения порога явно, а не знаком threshold.
type Polarity string

const (
	PolarityBelow Polarity = "below" // "падает ниже"
	PolarityAbove Polarity = "above" // "превышает"
)

type ActionKind string

const (
	ActionNotify          ActionKind = "notify"
	ActionRestock         ActionKind = "restock"
	ActionAdjustAds       ActionKind = "adjust_ads"
	ActionGenerateContent ActionKind = "generate_content" // Требует вызова генеративного сервиса
	ActionBlockSession    ActionKind = "block_session"
	ActionScaleCampaign   ActionKind = "scale_campaign"
)

var knownActions = map[ActionKind]struct{}{
	ActionNotify:          {},
	ActionRestock:         {},
	ActionAdjustAds:       {},
	ActionGenerateContent: {},
	ActionBlockSession:    {},
	ActionScaleCampaign:   {},
}

func (k ActionKind) Valid() bool {
	_, ok := knownActions[k]
	return ok
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// ErrInvalidConfig: общая ошибка конфигурации, возвращается при регистрации, а не на тике.
var ErrInvalidConfig = errors.New("invalid configuration")

// Action: что сделать при срабатывании правила. Params — свободные параметры исполнителя.
type Action struct {
	Kind   ActionKind     `json:"kind" mapstructure:"kind"`
	Params map[string]any `json:"params,omitempty" mapstructure:"params"`
}

// TimeWindow: окно "часов пик" для time_based правил. Start/End в формате "HH:MM".
type TimeWindow struct {
	Start    string   `json:"start" mapstructure:"start"`
	End      string   `json:"end" mapstructure:"end"`
	Days     []string `json:"days,omitempty" mapstructure:"days"` // "mon".."sun"; пусто — каждый день
	Location string   `json:"location,omitempty" mapstructure:"location"`
}

// Rule принадлежит ровно одному домену.
type Rule struct {
	ID          string        `json:"id" mapstructure:"id"`
	Domain      string        `json:"domain" mapstructure:"domain"`
	Name        string        `json:"name" mapstructure:"name"`
	TriggerKind TriggerKind   `json:"trigger_kind" mapstructure:"trigger_kind"`
	Signal      string        `json:"signal,omitempty" mapstructure:"signal"`
	Polarity    Polarity      `json:"polarity,omitempty" mapstructure:"polarity"`
	Threshold   float64       `json:"threshold" mapstructure:"threshold"`
	Timeframe   time.Duration `json:"timeframe" mapstructure:"timeframe"`
	Match       []string      `json:"match,omitempty" mapstructure:"match"`
	Expression  string        `json:"expression,omitempty" mapstructure:"expression"`
	Window      TimeWindow    `json:"window,omitempty" mapstructure:"window"`
	Action      Action        `json:"action" mapstructure:"action"`
	Severity    Severity      `json:"severity" mapstructure:"severity"`
	Enabled     bool          `json:"enabled" mapstructure:"enabled"`

	// Скользящая статистика [0..100], пишет только монитор-владелец
	SuccessRate float64 `json:"success_rate" mapstructure:"success_rate"`
	ImpactScore float64 `json:"impact_score" mapstructure:"impact_score"`

	UpdatedAt time.Time `json:"updated_at,omitempty" mapstructure:"-"`
}

// Clone делает глубокую копию, чтобы наружу не утекали ссылки на Params/Match.
func (r Rule) Clone() Rule {
	out := r
	if r.Match != nil {
		out.Match = append([]string(nil), r.Match...)
	}
	if r.Window.Days != nil {
		out.Window.Days = append([]string(nil), r.Window.Days...)
	}
	if r.Action.Params != nil {
		out.Action.Params = make(map[string]any, len(r.Action.Params))
		for k, v := range r.Action.Params {
			out.Action.Params[k] = v
		}
	}
	return out
}

// Normalize проставляет дефолты и зажимает статистику в [0,100].
func (r *Rule) Normalize() {
	if r.Severity == "" {
		r.Severity = SeverityMedium
	}
	if r.Action.Kind == "" {
		r.Action.Kind = ActionNotify
	}
	r.SuccessRate = ClampScore(r.SuccessRate)
	r.ImpactScore = ClampScore(r.ImpactScore)
}

// Check проверяет структурные поля правила (без компиляции выражений).
func (r *Rule) Check() error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidConfig)
	}
	if r.Timeframe < 0 {
		return fmt.Errorf("%w: rule %s: negative timeframe", ErrInvalidConfig, r.ID)
	}
	if !r.Action.Kind.Valid() {
		return fmt.Errorf("%w: rule %s: unknown action kind %q", ErrInvalidConfig, r.ID, r.Action.Kind)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: rule %s: unknown severity %q", ErrInvalidConfig, r.ID, r.Severity)
	}

	switch r.TriggerKind {
	case TriggerThreshold:
		if r.Signal == "" {
			return fmt.Errorf("%w: rule %s: threshold rule requires signal", ErrInvalidConfig, r.ID)
		}
		if r.Polarity != PolarityBelow && r.Polarity != PolarityAbove {
			return fmt.Errorf("%w: rule %s: polarity must be %q or %q", ErrInvalidConfig, r.ID, PolarityBelow, PolarityAbove)
		}
	case TriggerCategorical:
		if r.Signal == "" || len(r.Match) == 0 {
			return fmt.Errorf("%w: rule %s: categorical rule requires signal and match", ErrInvalidConfig, r.ID)
		}
	case TriggerTimeBased:
		if r.Window.Start == "" || r.Window.End == "" {
			return fmt.Errorf("%w: rule %s: time_based rule requires window start and end", ErrInvalidConfig, r.ID)
		}
	case TriggerExpression:
		if r.Expression == "" {
			return fmt.Errorf("%w: rule %s: expression rule requires expression", ErrInvalidConfig, r.ID)
		}
	default:
		return fmt.Errorf("%w: rule %s: unknown trigger kind %q", ErrInvalidConfig, r.ID, r.TriggerKind)
	}
	return nil
}

// ClampScore ограничивает статистику правила отрезком [0,100].
func ClampScore(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
