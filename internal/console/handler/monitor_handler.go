package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/dropwatch/internal/domain"
	"go.uber.org/zap"
)

// MonitorService описываем, что нам нужно от сервиса
type MonitorService interface {
	Statuses() []domain.MonitorStatus
	Running() map[string]bool
	StartAll()
	StopAll()
	Issues(window time.Duration, critical bool) []domain.DomainIssues
	Decisions(domainName string) ([]domain.Decision, error)
	StoredDecisions(ctx context.Context, f domain.DecisionFilter) ([]domain.DecisionRecord, error)
	Rules(domainName string) ([]domain.Rule, error)
	ReportOutcome(ctx context.Context, domainName, id string, outcome domain.Outcome, impact *float64) error
	SetRuleEnabled(ctx context.Context, domainName, ruleID string, enabled bool) error
	UpsertRule(ctx context.Context, domainName string, rule domain.Rule) (domain.Rule, error)
	RecordMetrics(ctx context.Context, domainName string, values map[string]any) error
	Alerts(ctx context.Context, f domain.AlertFilter) ([]domain.Issue, error)
	Dashboard(ctx context.Context) (*domain.UnifiedDashboard, error)
}

type MonitorHandler struct {
	service MonitorService
	logger  *zap.Logger
}

func NewMonitorHandler(s MonitorService, logger *zap.Logger) *MonitorHandler {
	return &MonitorHandler{service: s, logger: logger.Named("monitor-handler")}
}

// ListMonitors GET /v1/monitors
func (h *MonitorHandler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Statuses())
}

// Running GET /v1/monitors/status — domain -> running
func (h *MonitorHandler) Running(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Running())
}

// Start POST /v1/monitors/start
func (h *MonitorHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.service.StartAll()
	writeJSON(w, http.StatusOK, h.service.Statuses())
}

// Stop POST /v1/monitors/stop. Ждет завершения текущих тиков.
func (h *MonitorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.service.StopAll()
	writeJSON(w, http.StatusOK, h.service.Statuses())
}

// Issues GET /v1/issues?window=15m&critical=true
func (h *MonitorHandler) Issues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var window time.Duration
	if raw := q.Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "window must be a positive duration"})
			return
		}
		window = d
	}
	critical, _ := strconv.ParseBool(q.Get("critical"))

	writeJSON(w, http.StatusOK, h.service.Issues(window, critical))
}

// Decisions GET /v1/monitors/{domain}/decisions. ?source=store — история из БД.
func (h *MonitorHandler) Decisions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "domain")

	if r.URL.Query().Get("source") == "store" {
		f, err := decisionFilter(r, name)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		recs, err := h.service.StoredDecisions(r.Context(), f)
		if err != nil {
			h.fail(w, "list stored decisions", err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
		return
	}

	list, err := h.service.Decisions(name)
	if err != nil {
		h.fail(w, "list decisions", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type OutcomeRequest struct {
	Outcome domain.Outcome `json:"outcome"`
	Impact  *float64       `json:"impact,omitempty"` // 0..100, опционально
}

// ReportOutcome POST /v1/monitors/{domain}/decisions/{id}/outcome
func (h *MonitorHandler) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	name, id := chi.URLParam(r, "domain"), chi.URLParam(r, "id")

	var req OutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if err := h.service.ReportOutcome(r.Context(), name, id, req.Outcome, req.Impact); err != nil {
		h.fail(w, "report outcome", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rules GET /v1/monitors/{domain}/rules
func (h *MonitorHandler) Rules(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Rules(chi.URLParam(r, "domain"))
	if err != nil {
		h.fail(w, "list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// EnableRule POST /v1/monitors/{domain}/rules/{id}/enable
func (h *MonitorHandler) EnableRule(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, true)
}

// DisableRule POST /v1/monitors/{domain}/rules/{id}/disable
func (h *MonitorHandler) DisableRule(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, false)
}

func (h *MonitorHandler) toggle(w http.ResponseWriter, r *http.Request, enabled bool) {
	name, id := chi.URLParam(r, "domain"), chi.URLParam(r, "id")
	if err := h.service.SetRuleEnabled(r.Context(), name, id, enabled); err != nil {
		h.fail(w, "toggle rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpsertRule PUT /v1/monitors/{domain}/rules/{id}. id в пути главнее id в теле.
func (h *MonitorHandler) UpsertRule(w http.ResponseWriter, r *http.Request) {
	name, id := chi.URLParam(r, "domain"), chi.URLParam(r, "id")

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	rule.ID = id

	saved, err := h.service.UpsertRule(r.Context(), name, rule)
	if err != nil {
		h.fail(w, "upsert rule", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// RecordMetrics POST /v1/monitors/{domain}/metrics. Тело — плоский JSON-объект сигналов.
func (h *MonitorHandler) RecordMetrics(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := h.service.RecordMetrics(r.Context(), chi.URLParam(r, "domain"), values); err != nil {
		h.fail(w, "record metrics", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Alerts GET /v1/alerts?domain=&severity=&from=&to=&limit=
func (h *MonitorHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.AlertFilter{Domain: q.Get("domain"), Severity: domain.Severity(q.Get("severity"))}
	if f.Severity != "" && !f.Severity.Valid() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown severity"})
		return
	}

	var err error
	if f.From, f.To, f.Limit, err = timeRange(r); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	list, err := h.service.Alerts(r.Context(), f)
	if err != nil {
		h.fail(w, "list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Dashboard GET /v1/dashboard
func (h *MonitorHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.fail(w, "dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *MonitorHandler) fail(w http.ResponseWriter, op string, err error) {
	if statusOf(err) == http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	}
	writeError(w, err)
}

func decisionFilter(r *http.Request, name string) (domain.DecisionFilter, error) {
	f := domain.DecisionFilter{Domain: name, Outcome: domain.Outcome(r.URL.Query().Get("outcome"))}
	var err error
	f.From, f.To, f.Limit, err = timeRange(r)
	return f, err
}

// timeRange разбирает from/to (RFC3339) и limit.
func timeRange(r *http.Request) (from, to time.Time, limit int, err error) {
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			return from, to, 0, fmt.Errorf("from must be RFC3339")
		}
	}
	if raw := q.Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			return from, to, 0, fmt.Errorf("to must be RFC3339")
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return from, to, 0, fmt.Errorf("limit must be a non-negative integer")
		}
	}
	return from, to, limit, nil
}
