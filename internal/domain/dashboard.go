package domain

import "time"

// MonitorStatus: последнее известное состояние монитора. Запросы статуса никогда не падают:
// сбойный монитор отдается с Degraded=true.
type MonitorStatus struct {
	Domain    string    `json:"domain"`
	Running   bool      `json:"running"`
	Degraded  bool      `json:"degraded"`
	LastError string    `json:"last_error,omitempty"`
	LastTick  time.Time `json:"last_tick"`
	Healthy   *bool     `json:"healthy,omitempty"` // Только для health-check мониторов
	Interval  string    `json:"interval"`
	Rules     int       `json:"rules"`
	Issues    int       `json:"issues"`
	Decisions int       `json:"decisions"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"` // Последний принятый срез
}

type UnifiedDashboard struct {
	Monitors  MonitorStats  `json:"monitors"`  // Состояние планировщика
	Incidents IncidentStats `json:"incidents"` // Журнал проблем
	Decisions DecisionStats `json:"decisions"` // Решения правил
}

type MonitorStats struct {
	Total    int `json:"total"`
	Running  int `json:"running"`
	Degraded int `json:"degraded"`
}

type IncidentStats struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

type DecisionStats struct {
	Pending            int     `json:"pending"`
	Succeeded          int     `json:"succeeded"`
	Failed             int     `json:"failed"`
	AverageSuccessRate float64 `json:"average_success_rate"`
}

// AlertFilter: фильтр истории алертов в хранилище. Limit всегда ограничен сверху репозиторием.
type AlertFilter struct {
	TenantID string
	Domain   string
	Severity Severity
	From     time.Time
	To       time.Time
	Limit    int
}

type DecisionFilter struct {
	TenantID string
	Domain   string
	Outcome  Outcome
	From     time.Time
	To       time.Time
	Limit    int
}
