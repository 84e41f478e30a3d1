package signals

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/infra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestSimulatedSourceIsDeterministic(t *testing.T) {
	walks := []Walk{{Name: "stock_level", Start: 40, Min: 0, Max: 60, Step: 15}}
	choices := []Choice{{Name: "trend", Values: []string{"increasing", "flat", "decreasing"}}}

	a, err := NewSimulatedSource(7, walks, choices, 0.8, 0)
	require.NoError(t, err)
	b, err := NewSimulatedSource(7, walks, choices, 0.8, 0)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		sa, err := a.Snapshot(ctx)
		require.NoError(t, err)
		sb, err := b.Snapshot(ctx)
		require.NoError(t, err)

		assert.Equal(t, sa.Values(), sb.Values())
		assert.Equal(t, 0.8, sa.Quality)

		v, ok := sa.Number("stock_level")
		require.True(t, ok)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 60.0)

		trend, ok := sa.Label("trend")
		require.True(t, ok)
		assert.Contains(t, choices[0].Values, trend)
	}
}

func TestSimulatedSourceRejectsBadRange(t *testing.T) {
	_, err := NewSimulatedSource(1, []Walk{{Name: "x", Min: 10, Max: 0}}, nil, 1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = NewSimulatedSource(1, nil, []Choice{{Name: "trend"}}, 1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestSimulatedSourceHonorsContext(t *testing.T) {
	s, err := NewSimulatedSource(1, nil, nil, 1, time.Hour)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wrapped":
			w.Write([]byte(`{"signals": {"visitors": 1200, "trend": "increasing"}, "quality": 0.7}`))
		case "/flat":
			w.Write([]byte(`{"stock_level": 7, "restock_pending": true, "quality": 0.9}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	ctx := context.Background()

	snap, err := NewHTTPSource(srv.URL+"/wrapped", srv.Client()).Snapshot(ctx)
	require.NoError(t, err)
	v, _ := snap.Number("visitors")
	assert.Equal(t, 1200.0, v)
	assert.Equal(t, 0.7, snap.Quality)

	snap, err = NewHTTPSource(srv.URL+"/flat", srv.Client()).Snapshot(ctx)
	require.NoError(t, err)
	v, _ = snap.Number("stock_level")
	assert.Equal(t, 7.0, v)
	assert.Equal(t, 0.9, snap.Quality)
	_, hasQuality := snap.Value("quality")
	assert.False(t, hasQuality, "quality is metadata, not a signal")

	_, err = NewHTTPSource(srv.URL+"/down", srv.Client()).Snapshot(ctx)
	assert.ErrorContains(t, err, "502")
}

func TestParseScalar(t *testing.T) {
	assert.Equal(t, 12.5, parseScalar("12.5"))
	assert.Equal(t, true, parseScalar("true"))
	assert.Equal(t, "increasing", parseScalar("increasing"))
	assert.Equal(t, "T", parseScalar("T"))
}

type fakeMetrics struct {
	values map[string]any
	at     time.Time
	err    error
}

func (f fakeMetrics) LatestMetrics(context.Context, string, string) (map[string]any, time.Time, error) {
	return f.values, f.at, f.err
}

func TestSQLSourceQualityDecaysWithAge(t *testing.T) {
	fresh := NewSQLSource(fakeMetrics{values: map[string]any{"conversion_rate": 2.1}, at: time.Now()}, "t", "traffic", 10*time.Minute)
	snap, err := fresh.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap.Quality)

	stale := NewSQLSource(fakeMetrics{values: map[string]any{"conversion_rate": 2.1}, at: time.Now().Add(-40 * time.Minute)}, "t", "traffic", 10*time.Minute)
	snap, err = stale.Snapshot(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.25, snap.Quality, 0.01)

	_, err = NewSQLSource(fakeMetrics{err: errors.New("no rows")}, "t", "traffic", 0).Snapshot(context.Background())
	assert.ErrorContains(t, err, "sql source traffic")
}

type failingSource struct{ calls int }

func (f *failingSource) Snapshot(context.Context) (domain.Snapshot, error) {
	f.calls++
	return domain.Snapshot{}, errors.New("upstream down")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	src := &failingSource{}
	s := DefaultBreakerSettings()
	s.Timeout = time.Hour
	wrapped := WithBreaker(src, "source:test", s, nil, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := wrapped.Snapshot(context.Background())
		assert.ErrorContains(t, err, "upstream down")
	}
	_, err := wrapped.Snapshot(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, src.calls, "open breaker does not touch the source")
}

func TestGRPCProbe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go srv.Serve(lis)
	defer srv.Stop()

	hs.SetServingStatus("storefront", healthpb.HealthCheckResponse_SERVING)

	probe, err := NewGRPCProbe(lis.Addr().String(), "storefront")
	require.NoError(t, err)
	defer probe.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, probe.Probe(ctx))

	hs.SetServingStatus("storefront", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.ErrorContains(t, probe.Probe(ctx), "NOT_SERVING")
}

func TestHTTPProbe(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	p := NewHTTPProbe(srv.URL, srv.Client())
	assert.NoError(t, p.Probe(context.Background()))
	healthy.Store(false)
	assert.ErrorContains(t, p.Probe(context.Background()), "401")
}

func TestFactoryBuild(t *testing.T) {
	f := NewFactory(Deps{TenantID: "t"})
	defaults := infra.EngineConfig{DefaultCapacity: 100, DefaultRetention: time.Hour, TickTimeout: 5 * time.Second}

	mc, err := f.Build(infra.MonitorConfig{
		Domain:   "inventory",
		Interval: time.Second,
		Source: &infra.SourceConfig{Kind: "simulated", Seed: 1, Numeric: []infra.NumericSignal{
			{Name: "stock_level", Start: 10, Min: 0, Max: 100, Step: 1},
		}},
	}, defaults)
	require.NoError(t, err)
	assert.NotNil(t, mc.Source)
	assert.Equal(t, 100, mc.Capacity)
	assert.Equal(t, time.Hour, mc.Retention)
	assert.Equal(t, 5*time.Second, mc.TickTimeout)

	mc, err = f.Build(infra.MonitorConfig{
		Domain: "auth", Interval: time.Second,
		Probe: &infra.ProbeConfig{Kind: "http", Target: "http://localhost/health", Breaker: true},
	}, defaults)
	require.NoError(t, err)
	assert.NotNil(t, mc.Probe)

	bad := []infra.MonitorConfig{
		{Domain: "x", Interval: time.Second},
		{Domain: "x", Interval: time.Second, Source: &infra.SourceConfig{Kind: "redis"}},
		{Domain: "x", Interval: time.Second, Source: &infra.SourceConfig{Kind: "sql"}},
		{Domain: "x", Interval: time.Second, Source: &infra.SourceConfig{Kind: "kafka"}},
		{Domain: "x", Interval: time.Second, Probe: &infra.ProbeConfig{Kind: "postgres"}},
		{Domain: "x", Interval: time.Second, Source: &infra.SourceConfig{Kind: "http"}, Probe: &infra.ProbeConfig{Kind: "http"}},
	}
	for _, mc := range bad {
		_, err := f.Build(mc, defaults)
		assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	}
	assert.NoError(t, f.Close())
}
