package domain

import (
	"errors"
	"time"
)

// Outcome: статус решения. Переход pending -> success|failure происходит ровно один раз.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

var (
	ErrInvalidTransition = errors.New("invalid decision outcome transition")
	ErrAlreadyResolved   = errors.New("decision outcome already resolved")
	ErrDecisionNotFound  = errors.New("decision not found")
)

// Decision: неизменяемый результат срабатывания правила.
type Decision struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Domain     string    `json:"domain"`
	RuleID     string    `json:"rule_id"`
	Snapshot   Snapshot  `json:"snapshot"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"` // [0..1]
	Outcome    Outcome   `json:"outcome"`
}

// CanTransitionTo проверяет правила конечного автомата исхода
func (d *Decision) CanTransitionTo(next Outcome) error {
	if d.Outcome != OutcomePending {
		return ErrAlreadyResolved
	}
	if next != OutcomeSuccess && next != OutcomeFailure {
		return ErrInvalidTransition
	}
	return nil
}

// Resolved возвращает копию решения с терминальным исходом.
func (d Decision) Resolved(next Outcome) (Decision, error) {
	if err := d.CanTransitionTo(next); err != nil {
		return d, err
	}
	d.Outcome = next
	return d, nil
}

func (d Decision) EventTime() time.Time { return d.Timestamp }

// DecisionRecord: решение в том виде, в каком оно лежит в хранилище.
type DecisionRecord struct {
	Decision
	Content    string     `json:"content,omitempty"` // Текст generate_content
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
