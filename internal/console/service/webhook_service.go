package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/engine"
	"github.com/xela07ax/dropwatch/internal/infra"
	"github.com/xela07ax/dropwatch/internal/issuelog"
	"go.uber.org/zap"
)

// SignatureHeader: HMAC-SHA256 тела запроса в виде "sha256=<hex>".
const SignatureHeader = "X-Apex-Signature"

var (
	ErrBadSignature = errors.New("webhook: missing or invalid signature")
	ErrBadPayload   = errors.New("webhook: malformed payload")
	ErrUnknownEvent = errors.New("webhook: event is not allowed")
	ErrRecordFailed = errors.New("webhook: event was not recorded")
)

// WebhookStore: синхронная запись принятых событий.
type WebhookStore interface {
	InsertDecisions(ctx context.Context, tenantID string, decisions []domain.Decision) error
}

type webhookBody struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// WebhookService принимает события apex-empire. Все проверки выполняются
// до любых побочных эффектов. Принятое событие записывается синхронно
// (журнал в памяти и БД, если есть) до ответа; Sink получает его после записи
// и может отбросить под нагрузкой, запись от этого не теряется.
type WebhookService struct {
	secret   []byte
	allowed  map[string]bool
	store    WebhookStore // nil: только журнал в памяти
	tenantID string
	events   *issuelog.Log[domain.Decision]
	sink     engine.Sink
	now      func() time.Time
	logger   *zap.Logger
}

func NewWebhookService(cfg infra.WebhookConfig, store WebhookStore, sink engine.Sink, tenantID string, logger *zap.Logger) *WebhookService {
	allowed := make(map[string]bool, len(cfg.AllowedEvents))
	for _, e := range cfg.AllowedEvents {
		allowed[e] = true
	}
	return &WebhookService{
		secret:   []byte(cfg.Secret),
		allowed:  allowed,
		store:    store,
		tenantID: tenantID,
		events:   issuelog.New[domain.Decision](issuelog.DefaultCapacity, 0),
		sink:     sink,
		now:      time.Now,
		logger:   logger.Named("webhook"),
	}
}

// Receive проверяет подпись, разбирает и очищает событие и записывает его.
// Размер тела ограничивает HTTP-слой. Ошибка записи в БД возвращается как ErrRecordFailed.
func (s *WebhookService) Receive(ctx context.Context, body []byte, signature string) (domain.WebhookEvent, error) {
	if !s.verify(body, signature) {
		return domain.WebhookEvent{}, ErrBadSignature
	}

	var in webhookBody
	if err := json.Unmarshal(body, &in); err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if in.Event == "" {
		return domain.WebhookEvent{}, fmt.Errorf("%w: event is required", ErrBadPayload)
	}
	if !s.allowed[in.Event] {
		return domain.WebhookEvent{}, fmt.Errorf("%w: %q", ErrUnknownEvent, in.Event)
	}

	ev := domain.WebhookEvent{
		ID:         uuid.NewString(),
		Event:      in.Event,
		Payload:    SanitizeObject(in.Payload),
		ReceivedAt: s.now(),
	}
	rec := ev.AsDecision()

	if s.store != nil {
		if err := s.store.InsertDecisions(ctx, s.tenantID, []domain.Decision{rec}); err != nil {
			return domain.WebhookEvent{}, fmt.Errorf("%w: %v", ErrRecordFailed, err)
		}
	}
	s.events.Append(rec)
	// Доставка (Pub/Sub, контент) best-effort; повторная вставка в БД идемпотентна
	s.sink.Notify(domain.DecisionNotification(rec))

	s.logger.Info("webhook accepted", zap.String("id", ev.ID), zap.String("event", ev.Event))
	return ev, nil
}

// Lookup ищет принятое событие среди последних записанных.
func (s *WebhookService) Lookup(id string) (domain.Decision, error) {
	d, ok := s.events.Find(func(d domain.Decision) bool { return d.ID == id })
	if !ok {
		return domain.Decision{}, fmt.Errorf("webhook: %s: %w", id, domain.ErrDecisionNotFound)
	}
	return d, nil
}

// verify: пустой секрет не принимает ничего.
func (s *WebhookService) verify(body []byte, signature string) bool {
	if len(s.secret) == 0 {
		return false
	}
	hexSig, ok := strings.CutPrefix(strings.TrimSpace(signature), "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign считает подпись тела (для отправителей и тестов).
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
