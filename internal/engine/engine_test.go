package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/rules"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// scriptedSource отдает значения по очереди, последнее повторяется.
type scriptedSource struct {
	mu     sync.Mutex
	steps  []step
	i      int
	calls  int
	called chan struct{} // Сигнал о каждом вызове (если не nil)
	gate   chan struct{} // Блокирует вызов до закрытия (если не nil)
}

type step struct {
	values  map[string]any
	takenAt time.Time
	err     error
	panic   bool
}

func (s *scriptedSource) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	st := s.steps[s.i]
	if s.i < len(s.steps)-1 {
		s.i++
	}
	s.calls++
	called, gate := s.called, s.gate
	s.mu.Unlock()

	if called != nil {
		select {
		case called <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	if st.panic {
		panic("source exploded")
	}
	if st.err != nil {
		return domain.Snapshot{}, st.err
	}
	return domain.NewSnapshot("", st.takenAt, st.values), nil
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type scriptedProbe struct {
	mu   sync.Mutex
	errs []error
	i    int
}

func (p *scriptedProbe) Probe(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.errs[p.i]
	if p.i < len(p.errs)-1 {
		p.i++
	}
	return err
}

type captureSink struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (s *captureSink) Notify(n domain.Notification) {
	s.mu.Lock()
	s.items = append(s.items, n)
	s.mu.Unlock()
}

func (s *captureSink) All() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.items...)
}

func newTestRegistry(t *testing.T, sink Sink, clock Clock) *Registry {
	t.Helper()
	ev, err := rules.NewEvaluator(rules.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	if clock == nil {
		clock = &fakeClock{now: t0}
	}
	r := NewRegistry(ev, sink, NewMetrics(nil), zap.NewNop(), WithClock(clock))
	t.Cleanup(r.StopAll)
	return r
}

func stockRule(id string, threshold float64) domain.Rule {
	return domain.Rule{
		ID:          id,
		Domain:      "inventory",
		TriggerKind: domain.TriggerThreshold,
		Signal:      "stock_level",
		Polarity:    domain.PolarityBelow,
		Threshold:   threshold,
		Action:      domain.Action{Kind: domain.ActionRestock},
		Severity:    domain.SeverityHigh,
		Enabled:     true,
	}
}

func stockSteps(levels ...float64) []step {
	out := make([]step, len(levels))
	for i, l := range levels {
		out[i] = step{values: map[string]any{"stock_level": l}}
	}
	return out
}

func mustMonitor(t *testing.T, r *Registry, name string) *Monitor {
	t.Helper()
	m, err := r.monitor(name)
	require.NoError(t, err)
	return m
}

var errBoom = errors.New("boom")
