package infra

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/dropwatch/internal/domain"
)

const sampleConfig = `
engine:
  tenant_id: streetwear
webhook:
  secret: from-file
monitors:
  - domain: inventory
    interval: 30s
    source:
      kind: simulated
      seed: 42
      numeric:
        - {name: stock_level, start: 40, min: 0, max: 200, step: 5}
    rules:
      - id: low-stock
        trigger_kind: threshold
        signal: stock_level
        polarity: below
        threshold: 20
        timeframe: 15m
        severity: high
        enabled: true
        action:
          kind: restock
          params:
            sku: HOODIE-BLK
  - domain: auth
    interval: 1m
    probe:
      kind: http
      target: http://localhost:8080/health
`

func loadFromString(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	return decode(v)
}

func TestDecodeMonitors(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "from-env")
	cfg, err := loadFromString(t, sampleConfig)
	require.NoError(t, err)

	assert.Equal(t, "streetwear", cfg.Engine.TenantID)
	assert.Equal(t, "from-env", cfg.Webhook.Secret, "env overrides the file")
	assert.Equal(t, int64(64<<10), cfg.Webhook.MaxBodyBytes)
	assert.Equal(t, DefaultWebhookEvents, cfg.Webhook.AllowedEvents)
	assert.Equal(t, 24*time.Hour, cfg.Engine.DefaultRetention)

	require.Len(t, cfg.Monitors, 2)
	inv := cfg.Monitors[0]
	assert.Equal(t, 30*time.Second, inv.Interval)
	require.NotNil(t, inv.Source)
	assert.Equal(t, uint64(42), inv.Source.Seed)
	require.Len(t, inv.Source.Numeric, 1)
	assert.Equal(t, 200.0, inv.Source.Numeric[0].Max)

	require.Len(t, inv.Rules, 1)
	rule := inv.Rules[0]
	assert.Equal(t, domain.TriggerThreshold, rule.TriggerKind)
	assert.Equal(t, domain.PolarityBelow, rule.Polarity)
	assert.Equal(t, 15*time.Minute, rule.Timeframe)
	assert.Equal(t, domain.ActionRestock, rule.Action.Kind)
	assert.Equal(t, "HOODIE-BLK", rule.Action.Params["sku"])

	require.NotNil(t, cfg.Monitors[1].Probe)
	assert.Nil(t, cfg.Monitors[1].Source)
}

func TestDecodeRejectsDuplicateDomains(t *testing.T) {
	_, err := loadFromString(t, `
monitors:
  - domain: traffic
    interval: 1m
  - domain: traffic
    interval: 2m
`)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = NewLogger(LoggerConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestRuleKeyRoundTrip(t *testing.T) {
	d, r, ok := SplitRuleKey(RuleKey("traffic", "peak/hours"))
	require.True(t, ok)
	assert.Equal(t, "traffic", d)
	assert.Equal(t, "peak/hours", r)

	_, _, ok = SplitRuleKey("no-separator")
	assert.False(t, ok)
}
