package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/dropwatch/internal/connectors"
	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/engine"
	"github.com/xela07ax/dropwatch/internal/infra"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingBackend struct {
	mu      sync.Mutex
	batches [][]domain.Notification
	err     error
}

func (r *recordingBackend) Name() string { return "recording" }

func (r *recordingBackend) Deliver(_ context.Context, batch []domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]domain.Notification(nil), batch...))
	return r.err
}

func (r *recordingBackend) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func issue(i int) domain.Notification {
	return domain.IssueNotification(domain.Issue{
		ID: "i" + string(rune('a'+i%26)), Domain: "inventory", Message: "low stock",
		Severity: domain.SeverityMedium, Timestamp: time.Unix(int64(i), 0),
	})
}

func TestDispatcherShedsLoadWhenBufferIsFull(t *testing.T) {
	metrics := engine.NewMetrics(nil)
	backend := &recordingBackend{}
	d := NewDispatcher(infra.NotifyConfig{BufferSize: 2, BatchSize: 10, FlushInterval: time.Hour},
		[]Backend{backend}, metrics, zap.NewNop())

	// Воркер не запущен: третье уведомление не влезает
	for i := 0; i < 3; i++ {
		d.Notify(issue(i))
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotifyDropped))

	d.Stop()
	assert.Equal(t, 2, backend.total(), "stop drains what was buffered")

	d.Notify(issue(4))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.NotifyDropped), "notify after stop is dropped")
	d.Stop()
}

func TestDispatcherBatchesAndDrains(t *testing.T) {
	backend := &recordingBackend{}
	d := NewDispatcher(infra.NotifyConfig{BufferSize: 1000, BatchSize: 100, FlushInterval: time.Hour},
		[]Backend{backend}, nil, zap.NewNop())
	d.Start()

	for i := 0; i < 250; i++ {
		d.Notify(issue(i))
	}
	d.Stop()

	require.Equal(t, 250, backend.total())
	require.Len(t, backend.batches, 3)
	assert.Len(t, backend.batches[0], 100)
	assert.Len(t, backend.batches[2], 50)
	// Порядок внутри домена сохраняется
	assert.Equal(t, time.Unix(0, 0), backend.batches[0][0].Timestamp())
	assert.Equal(t, time.Unix(249, 0), backend.batches[2][49].Timestamp())
}

func TestDispatcherFlushesOnInterval(t *testing.T) {
	backend := &recordingBackend{}
	d := NewDispatcher(infra.NotifyConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond},
		[]Backend{backend}, nil, zap.NewNop())
	d.Start()
	defer d.Stop()

	d.Notify(issue(1))
	assert.Eventually(t, func() bool { return backend.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcherBackendErrorsAreContained(t *testing.T) {
	metrics := engine.NewMetrics(nil)
	failing := &recordingBackend{err: errors.New("db down")}
	healthy := &healthyBackend{}
	d := NewDispatcher(infra.NotifyConfig{BatchSize: 1, FlushInterval: time.Hour},
		[]Backend{failing, healthy}, metrics, zap.NewNop())
	d.Start()

	d.Notify(issue(1))
	d.Notify(issue(2))
	d.Stop()

	assert.Equal(t, 2, healthy.rec.total(), "one failing backend does not starve the others")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.NotifyBackendErr.WithLabelValues("recording")))
}

type healthyBackend struct{ rec recordingBackend }

func (h *healthyBackend) Name() string { return "healthy" }
func (h *healthyBackend) Deliver(ctx context.Context, b []domain.Notification) error {
	return h.rec.Deliver(ctx, b)
}

type memStore struct {
	alerts    []domain.Issue
	decisions []domain.Decision
	content   map[string]string
	err       error
}

func (m *memStore) InsertAlerts(_ context.Context, _ string, issues []domain.Issue) error {
	m.alerts = append(m.alerts, issues...)
	return m.err
}

func (m *memStore) InsertDecisions(_ context.Context, _ string, ds []domain.Decision) error {
	m.decisions = append(m.decisions, ds...)
	return m.err
}

func (m *memStore) AttachContent(_ context.Context, _ string, id, content string) error {
	if m.content == nil {
		m.content = map[string]string{}
	}
	m.content[id] = content
	return m.err
}

func decision(id string, kind domain.ActionKind, params map[string]any) domain.Notification {
	snap := domain.NewSnapshot("traffic", time.Unix(10, 0), map[string]any{"visitors": 1500})
	return domain.DecisionNotification(domain.Decision{
		ID: id, Domain: "traffic", RuleID: "spike", Snapshot: snap,
		Action: domain.Action{Kind: kind, Params: params}, Confidence: 0.5, Outcome: domain.OutcomePending,
	})
}

func TestStoreBackendSplitsBatch(t *testing.T) {
	store := &memStore{}
	b := NewStoreBackend(store, "brand-1")

	err := b.Deliver(context.Background(), []domain.Notification{
		decision("d1", domain.ActionNotify, nil), issue(1), issue(2),
	})
	require.NoError(t, err)
	assert.Len(t, store.decisions, 1)
	assert.Len(t, store.alerts, 2)

	store.err = errors.New("insert failed")
	assert.ErrorContains(t, b.Deliver(context.Background(), []domain.Notification{issue(3)}), "insert failed")
}

type fakeGenerator struct {
	reqs []connectors.GenerateRequest
	err  error
}

func (f *fakeGenerator) Generate(_ context.Context, req connectors.GenerateRequest) (string, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return "", f.err
	}
	return "Traffic is spiking. Drop is live.", nil
}

func TestContentBackendOnlyHandlesGenerateContent(t *testing.T) {
	store := &memStore{}
	gen := &fakeGenerator{}
	b := NewContentBackend(gen, store, "brand-1", zap.NewNop())

	err := b.Deliver(context.Background(), []domain.Notification{
		decision("d1", domain.ActionNotify, nil),
		decision("d2", domain.ActionGenerateContent, map[string]any{"prompt": "Hype the hoodie drop", "channel": "instagram"}),
		issue(1),
	})
	require.NoError(t, err)

	require.Len(t, gen.reqs, 1)
	assert.Equal(t, "Hype the hoodie drop", gen.reqs[0].Prompt)
	assert.Equal(t, "instagram", gen.reqs[0].Context["channel"])
	assert.Equal(t, map[string]any{"visitors": 1500.0}, gen.reqs[0].Context["signals"])
	assert.Equal(t, "Traffic is spiking. Drop is live.", store.content["d2"])

	gen.err = connectors.ErrNotConfigured
	err = b.Deliver(context.Background(), []domain.Notification{decision("d3", domain.ActionGenerateContent, nil)})
	assert.ErrorIs(t, err, connectors.ErrNotConfigured)
	assert.Contains(t, gen.reqs[1].Prompt, "traffic signals")
}
