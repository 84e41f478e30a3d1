package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/dropwatch/internal/domain"
	"go.uber.org/zap"
)

type stubRuleRepo struct {
	rules []domain.Rule
	err   error
	calls int
}

func (s *stubRuleRepo) ListRules(_ context.Context, tenantID string) ([]domain.Rule, error) {
	s.calls++
	return s.rules, s.err
}

func TestCatalogMergeStoreOverridesConfig(t *testing.T) {
	repo := &stubRuleRepo{rules: []domain.Rule{
		{ID: "low-stock", Domain: "inventory", Threshold: 5, Enabled: false},
		{ID: "restock-weekend", Domain: "inventory", Enabled: true},
		{ID: "bot-traffic", Domain: "security", Enabled: true},
	}}
	c := NewCatalog(repo, "brand-1", zap.NewNop())
	require.NoError(t, c.Refresh(context.Background()))

	configured := []domain.Rule{
		{ID: "low-stock", Domain: "inventory", Threshold: 20, Enabled: true},
		{ID: "overstock", Domain: "inventory", Threshold: 500, Enabled: true},
	}
	merged := c.Merge("inventory", configured)
	require.Len(t, merged, 3)

	byID := map[string]domain.Rule{}
	for _, r := range merged {
		byID[r.ID] = r
	}
	assert.Equal(t, 5.0, byID["low-stock"].Threshold)
	assert.False(t, byID["low-stock"].Enabled)
	assert.Contains(t, byID, "overstock")
	assert.Contains(t, byID, "restock-weekend")
	assert.NotContains(t, byID, "bot-traffic")

	assert.Equal(t, []string{"inventory", "security"}, c.Domains())
}

func TestCatalogRefreshErrorKeepsCache(t *testing.T) {
	repo := &stubRuleRepo{rules: []domain.Rule{{ID: "a", Domain: "traffic"}}}
	c := NewCatalog(repo, "brand-1", zap.NewNop())
	require.NoError(t, c.Refresh(context.Background()))

	repo.err = errors.New("connection refused")
	require.Error(t, c.Refresh(context.Background()))
	assert.Len(t, c.ForDomain("traffic"), 1)
}

func TestCatalogReturnsCopies(t *testing.T) {
	repo := &stubRuleRepo{rules: []domain.Rule{{
		ID: "a", Domain: "traffic", Match: []string{"viral"},
		Action: domain.Action{Kind: domain.ActionNotify, Params: map[string]any{"channel": "ops"}},
	}}}
	c := NewCatalog(repo, "brand-1", zap.NewNop())
	require.NoError(t, c.Refresh(context.Background()))

	got := c.ForDomain("traffic")
	got[0].Match[0] = "changed"
	got[0].Action.Params["channel"] = "changed"

	again := c.ForDomain("traffic")
	assert.Equal(t, "viral", again[0].Match[0])
	assert.Equal(t, "ops", again[0].Action.Params["channel"])
}
