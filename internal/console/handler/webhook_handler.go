package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/dropwatch/internal/console/service"
	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/engine"
	"go.uber.org/zap"
)

// WebhookReceiver описываем, что нам нужно от сервиса
type WebhookReceiver interface {
	Receive(ctx context.Context, body []byte, signature string) (domain.WebhookEvent, error)
	Lookup(id string) (domain.Decision, error)
}

type WebhookHandler struct {
	service  WebhookReceiver
	maxBytes int64
	metrics  *engine.Metrics
	logger   *zap.Logger
}

func NewWebhookHandler(s WebhookReceiver, maxBytes int64, metrics *engine.Metrics, logger *zap.Logger) *WebhookHandler {
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &WebhookHandler{service: s, maxBytes: maxBytes, metrics: metrics, logger: logger.Named("webhook-handler")}
}

type acceptedResponse struct {
	ID    string `json:"id"`
	Event string `json:"event"`
}

// Receive POST /v1/webhooks/apex-empire
// Порядок проверок: размер -> подпись -> JSON -> allow-list.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	// Читаем на байт больше лимита, чтобы отличить "ровно лимит" от "больше"
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBytes+1))
	if err != nil {
		h.reject(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if int64(len(body)) > h.maxBytes {
		h.reject(w, http.StatusBadRequest, "body too large")
		return
	}

	ev, err := h.service.Receive(r.Context(), body, r.Header.Get(service.SignatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, service.ErrBadSignature):
		h.reject(w, http.StatusUnauthorized, "invalid signature")
		return
	case errors.Is(err, service.ErrBadPayload), errors.Is(err, service.ErrUnknownEvent):
		h.reject(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, service.ErrRecordFailed):
		// Отправитель повторит доставку
		h.logger.Error("webhook not recorded", zap.Error(err))
		h.reject(w, http.StatusServiceUnavailable, "event was not recorded")
		return
	default:
		h.logger.Error("webhook failed", zap.Error(err))
		h.reject(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.metrics.WebhookTotal.WithLabelValues(strconv.Itoa(http.StatusAccepted)).Inc()
	writeJSON(w, http.StatusAccepted, acceptedResponse{ID: ev.ID, Event: ev.Event})
}

// Get GET /v1/webhooks/apex-empire/{id}
func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *WebhookHandler) reject(w http.ResponseWriter, status int, msg string) {
	h.metrics.WebhookTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	h.logger.Warn("webhook rejected", zap.Int("status", status), zap.String("reason", msg))
	writeJSON(w, status, errorResponse{Error: msg})
}
