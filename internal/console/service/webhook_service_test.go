package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/infra"
	"github.com/xela07ax/dropwatch/internal/notify"
	"go.uber.org/zap"
)

type webhookRecorder struct {
	mu     sync.Mutex
	tenant string
	got    []domain.Decision
	err    error
}

func (w *webhookRecorder) InsertDecisions(_ context.Context, tenantID string, ds []domain.Decision) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.tenant = tenantID
	w.got = append(w.got, ds...)
	return nil
}

var webhookCfg = infra.WebhookConfig{Secret: "s3cr3t", MaxBodyBytes: 64 << 10, AllowedEvents: infra.DefaultWebhookEvents}

const orderCreated = `{"event":"order.created","payload":{"order_id":"A-7"}}`

// stoppedDispatcher отбрасывает все уведомления, как переполненный буфер.
func stoppedDispatcher(t *testing.T) *notify.Dispatcher {
	t.Helper()
	d := notify.NewDispatcher(infra.NotifyConfig{BufferSize: 1}, nil, nil, zap.NewNop())
	d.Stop()
	return d
}

func TestWebhookRecordedWhenSinkDrops(t *testing.T) {
	store := &webhookRecorder{}
	svc := NewWebhookService(webhookCfg, store, stoppedDispatcher(t), "brand-1", zap.NewNop())

	ev, err := svc.Receive(context.Background(), []byte(orderCreated), Sign([]byte(webhookCfg.Secret), []byte(orderCreated)))
	require.NoError(t, err)

	require.Len(t, store.got, 1, "accepted event is stored before the response")
	assert.Equal(t, ev.ID, store.got[0].ID)
	assert.Equal(t, "brand-1", store.tenant)
	assert.Equal(t, "webhook:order.created", store.got[0].RuleID)

	got, err := svc.Lookup(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "A-7", got.Action.Params["order_id"])
}

func TestWebhookInMemoryWithoutStore(t *testing.T) {
	svc := NewWebhookService(webhookCfg, nil, stoppedDispatcher(t), "brand-1", zap.NewNop())

	ev, err := svc.Receive(context.Background(), []byte(orderCreated), Sign([]byte(webhookCfg.Secret), []byte(orderCreated)))
	require.NoError(t, err)

	got, err := svc.Lookup(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookDomain, got.Domain)

	_, err = svc.Lookup("missing")
	assert.ErrorIs(t, err, domain.ErrDecisionNotFound)
}

func TestWebhookStoreFailureIsReported(t *testing.T) {
	store := &webhookRecorder{err: errors.New("connection refused")}
	svc := NewWebhookService(webhookCfg, store, stoppedDispatcher(t), "brand-1", zap.NewNop())

	_, err := svc.Receive(context.Background(), []byte(orderCreated), Sign([]byte(webhookCfg.Secret), []byte(orderCreated)))
	require.ErrorIs(t, err, ErrRecordFailed)

	// Неудачная запись не оставляет следа: отправитель повторит доставку
	_, err = svc.Lookup("any")
	assert.ErrorIs(t, err, domain.ErrDecisionNotFound)
}

func TestWebhookRejectsBeforeRecording(t *testing.T) {
	store := &webhookRecorder{}
	svc := NewWebhookService(webhookCfg, store, stoppedDispatcher(t), "brand-1", zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 3, 6, 22, 15, 0, 0, time.UTC) }

	_, err := svc.Receive(context.Background(), []byte(orderCreated), "sha256=00")
	assert.ErrorIs(t, err, ErrBadSignature)

	body := `{"event":"user.deleted","payload":{}}`
	_, err = svc.Receive(context.Background(), []byte(body), Sign([]byte(webhookCfg.Secret), []byte(body)))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	assert.Empty(t, store.got)
}
