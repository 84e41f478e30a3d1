package domain

import "time"

// Issue: легкая запись для оператора. Никогда не изменяется после создания.
type Issue struct {
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	RuleID    string    `json:"rule_id,omitempty"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

func (i Issue) EventTime() time.Time { return i.Timestamp }

// DomainIssues: срез журнала одного домена на момент запроса.
type DomainIssues struct {
	Domain string  `json:"domain"`
	Issues []Issue `json:"issues"`
}
