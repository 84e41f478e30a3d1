package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/dropwatch/internal/domain"
)

func TestTickRecordsDecisionAndIssue(t *testing.T) {
	sink := &captureSink{}
	r := newTestRegistry(t, sink, nil)
	require.NoError(t, r.Register("inventory", MonitorConfig{
		Interval: time.Minute,
		Rules:    []domain.Rule{stockRule("low-stock", 20)},
		Source:   &scriptedSource{steps: stockSteps(25, 22, 18)},
	}))
	m := mustMonitor(t, r, "inventory")

	for i := 0; i < 3; i++ {
		assert.Equal(t, "ok", m.tick(context.Background()))
	}

	decisions := m.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionRestock, decisions[0].Action.Kind)
	assert.InDelta(t, 0.5, decisions[0].Confidence, 1e-9)
	assert.Equal(t, "inventory", decisions[0].Snapshot.Domain)

	issues := m.Issues()
	require.Len(t, issues, 1)
	assert.Equal(t, domain.SeverityHigh, issues[0].Severity)
	assert.Equal(t, "low-stock", issues[0].RuleID)

	got := sink.All()
	require.Len(t, got, 2)
	assert.Equal(t, domain.NotificationDecision, got[0].Kind)
	assert.Equal(t, domain.NotificationIssue, got[1].Kind)
}

func TestTimestampsNonDecreasingOnClockStepBack(t *testing.T) {
	clock := &fakeClock{now: t0}
	r := newTestRegistry(t, nil, clock)
	rule := stockRule("low-stock", 20)
	require.NoError(t, r.Register("inventory", MonitorConfig{
		Interval: time.Minute,
		Rules:    []domain.Rule{rule},
		Source:   &scriptedSource{steps: stockSteps(10, 30, 10, 30, 10)},
	}))
	m := mustMonitor(t, r, "inventory")

	for _, at := range []time.Time{t0.Add(5 * time.Minute), t0.Add(6 * time.Minute), t0.Add(2 * time.Minute), t0.Add(3 * time.Minute), t0.Add(9 * time.Minute)} {
		clock.Set(at)
		m.tick(context.Background())
	}

	decisions := m.Decisions()
	require.Len(t, decisions, 3)
	for i := 1; i < len(decisions); i++ {
		assert.False(t, decisions[i].Timestamp.Before(decisions[i-1].Timestamp), "entry %d goes back in time", i)
	}
	assert.Equal(t, t0.Add(6*time.Minute), decisions[1].Timestamp, "step back clamped to previous entry")
}

func TestFailedTickMarksDegraded(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	src := &scriptedSource{steps: []step{
		{err: errBoom},
		{panic: true},
		{values: map[string]any{"stock_level": 50}},
	}}
	require.NoError(t, r.Register("inventory", MonitorConfig{
		Interval: time.Minute,
		Rules:    []domain.Rule{stockRule("low-stock", 20)},
		Source:   src,
	}))
	m := mustMonitor(t, r, "inventory")

	assert.Equal(t, "failed", m.tick(context.Background()))
	st := m.Status()
	assert.True(t, st.Degraded)
	assert.Contains(t, st.LastError, "boom")

	assert.Equal(t, "panic", m.tick(context.Background()))
	st = m.Status()
	assert.True(t, st.Degraded)
	assert.Contains(t, st.LastError, "source exploded")

	assert.Equal(t, "ok", m.tick(context.Background()))
	st = m.Status()
	assert.False(t, st.Degraded)
	assert.Empty(t, st.LastError)
	assert.Equal(t, t0, st.LastTick)
	assert.Empty(t, m.Issues())
}

func TestHealthTransitions(t *testing.T) {
	sink := &captureSink{}
	r := newTestRegistry(t, sink, nil)
	probe := &scriptedProbe{errs: []error{nil, errBoom, errBoom, nil, nil}}
	require.NoError(t, r.Register("auth", MonitorConfig{
		Interval: time.Minute,
		Probe:    probe,
	}))
	m := mustMonitor(t, r, "auth")

	st := m.Status()
	require.NotNil(t, st.Healthy)
	assert.True(t, *st.Healthy, "monitor starts healthy")

	for i := 0; i < 5; i++ {
		m.tick(context.Background())
	}

	issues := m.Issues()
	require.Len(t, issues, 2)
	assert.Equal(t, domain.SeverityHigh, issues[0].Severity)
	assert.Contains(t, issues[0].Message, "boom")
	assert.Equal(t, domain.SeverityLow, issues[1].Severity)
	assert.Contains(t, issues[1].Message, "recovered")

	st = m.Status()
	assert.True(t, *st.Healthy)
	assert.False(t, st.Degraded, "failed probe is a signal, not a failed tick")
	assert.Len(t, sink.All(), 2)
}

func TestHealthSnapshotFeedsRules(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	require.NoError(t, r.Register("auth", MonitorConfig{
		Interval: time.Minute,
		Probe:    &scriptedProbe{errs: []error{nil, errBoom}},
		Rules: []domain.Rule{{
			ID: "session-down", TriggerKind: domain.TriggerExpression,
			Expression: "!signals.healthy", Action: domain.Action{Kind: domain.ActionBlockSession},
			Severity: domain.SeverityMedium, Enabled: true,
		}},
	}))
	m := mustMonitor(t, r, "auth")

	m.tick(context.Background())
	m.tick(context.Background())

	decisions := m.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionBlockSession, decisions[0].Action.Kind)
	healthy, ok := decisions[0].Snapshot.Value("healthy")
	require.True(t, ok)
	assert.Equal(t, false, healthy)
}

func TestReportOutcome(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	require.NoError(t, r.Register("inventory", MonitorConfig{
		Interval: time.Minute,
		Rules:    []domain.Rule{stockRule("low-stock", 20)},
		Source:   &scriptedSource{steps: stockSteps(10)},
	}))
	m := mustMonitor(t, r, "inventory")
	m.tick(context.Background())

	decisions := m.Decisions()
	require.Len(t, decisions, 1)
	id := decisions[0].ID

	impact := 80.0
	d, rule, err := r.ReportOutcome("inventory", id, domain.OutcomeSuccess, &impact)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, d.Outcome)
	assert.InDelta(t, 20.0, rule.SuccessRate, 1e-9)
	assert.InDelta(t, 16.0, rule.ImpactScore, 1e-9)

	_, _, err = r.ReportOutcome("inventory", id, domain.OutcomeFailure, nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.Equal(t, domain.OutcomeSuccess, m.Decisions()[0].Outcome, "outcome never reverts")

	_, _, err = r.ReportOutcome("inventory", "missing", domain.OutcomeSuccess, nil)
	assert.ErrorIs(t, err, domain.ErrDecisionNotFound)

	_, _, err = r.ReportOutcome("nowhere", id, domain.OutcomeSuccess, nil)
	assert.ErrorIs(t, err, ErrUnknownDomain)
}

func TestReportOutcomeInvalidTransition(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	require.NoError(t, r.Register("inventory", MonitorConfig{
		Interval: time.Minute,
		Rules:    []domain.Rule{stockRule("low-stock", 20)},
		Source:   &scriptedSource{steps: stockSteps(10)},
	}))
	m := mustMonitor(t, r, "inventory")
	m.tick(context.Background())

	_, _, err := r.ReportOutcome("inventory", m.Decisions()[0].ID, domain.OutcomePending, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRuleStatsStayInRange(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	levels := make([]float64, 0, 200)
	for i := 0; i < 100; i++ {
		levels = append(levels, 10, 30)
	}
	require.NoError(t, r.Register("inventory", MonitorConfig{
		Interval: time.Minute,
		Rules:    []domain.Rule{stockRule("low-stock", 20)},
		Source:   &scriptedSource{steps: stockSteps(levels...)},
		Capacity: 500,
	}))
	m := mustMonitor(t, r, "inventory")

	for range levels {
		m.tick(context.Background())
	}
	require.Len(t, m.Decisions(), 100)

	impact := 1e6
	for _, d := range m.Decisions() {
		_, got, err := m.ReportOutcome(d.ID, domain.OutcomeSuccess, &impact)
		require.NoError(t, err)
		assert.LessOrEqual(t, got.SuccessRate, 100.0)
		assert.LessOrEqual(t, got.ImpactScore, 100.0)
		assert.GreaterOrEqual(t, got.SuccessRate, 0.0)
	}
}

func TestDisabledRuleSkippedInTick(t *testing.T) {
	r := newTestRegistry(t, nil, nil)
	require.NoError(t, r.Register("inventory", MonitorConfig{
		Interval: time.Minute,
		Rules:    []domain.Rule{stockRule("low-stock", 20)},
		Source:   &scriptedSource{steps: stockSteps(10)},
	}))
	require.NoError(t, r.SetRuleEnabled("inventory", "low-stock", false))
	m := mustMonitor(t, r, "inventory")
	m.tick(context.Background())
	assert.Empty(t, m.Decisions())

	assert.ErrorIs(t, r.SetRuleEnabled("inventory", "nope", false), ErrUnknownRule)
	assert.ErrorIs(t, r.SetRuleEnabled("nowhere", "low-stock", false), ErrUnknownDomain)
}
