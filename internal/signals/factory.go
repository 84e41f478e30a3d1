package signals

import (
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/engine"
	"github.com/xela07ax/dropwatch/internal/infra"
	"go.uber.org/zap"
)

// Deps: общие клиенты, которые может использовать источник. Любое поле может быть nil,
// тогда источники, которым оно нужно, не собираются.
type Deps struct {
	Redis    *redis.Client
	Metrics  MetricsReader
	DB       Pinger
	TenantID string
	Stats    *engine.Metrics
	Logger   *zap.Logger
}

// Factory собирает engine.MonitorConfig из секции monitors и помнит, что нужно закрыть.
type Factory struct {
	deps    Deps
	closers []io.Closer
}

func NewFactory(deps Deps) *Factory {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Factory{deps: deps}
}

// Build превращает конфиг домена в конфиг монитора. Правила берутся как есть,
// их проверяет Registry.Register.
func (f *Factory) Build(mc infra.MonitorConfig, defaults infra.EngineConfig) (engine.MonitorConfig, error) {
	out := engine.MonitorConfig{
		Interval:    mc.Interval,
		TickTimeout: mc.TickTimeout,
		Capacity:    mc.Capacity,
		Retention:   mc.Retention,
		Rules:       mc.Rules,
	}
	if out.TickTimeout == 0 {
		out.TickTimeout = defaults.TickTimeout
	}
	if out.Capacity == 0 {
		out.Capacity = defaults.DefaultCapacity
	}
	if out.Retention == 0 {
		out.Retention = defaults.DefaultRetention
	}

	switch {
	case mc.Source != nil && mc.Probe != nil:
		return out, fmt.Errorf("%w: domain %s: source and probe are mutually exclusive", domain.ErrInvalidConfig, mc.Domain)
	case mc.Source != nil:
		src, err := f.source(mc.Domain, *mc.Source)
		if err != nil {
			return out, err
		}
		out.Source = src
	case mc.Probe != nil:
		probe, err := f.probe(mc.Domain, *mc.Probe)
		if err != nil {
			return out, err
		}
		out.Probe = probe
	default:
		return out, fmt.Errorf("%w: domain %s: source or probe is required", domain.ErrInvalidConfig, mc.Domain)
	}
	return out, nil
}

func (f *Factory) source(domainName string, sc infra.SourceConfig) (engine.SignalSource, error) {
	var src engine.SignalSource

	switch sc.Kind {
	case "simulated":
		walks := make([]Walk, 0, len(sc.Numeric))
		for _, n := range sc.Numeric {
			walks = append(walks, Walk{Name: n.Name, Start: n.Start, Min: n.Min, Max: n.Max, Step: n.Step})
		}
		choices := make([]Choice, 0, len(sc.Categorical))
		for _, c := range sc.Categorical {
			choices = append(choices, Choice{Name: c.Name, Values: c.Values})
		}
		sim, err := NewSimulatedSource(sc.Seed, walks, choices, sc.Quality, sc.Latency)
		if err != nil {
			return nil, err
		}
		// Симуляция не ходит в сеть, предохранитель ей не нужен
		return sim, nil

	case "http":
		if sc.URL == "" {
			return nil, fmt.Errorf("%w: domain %s: http source requires url", domain.ErrInvalidConfig, domainName)
		}
		src = NewHTTPSource(sc.URL, nil)

	case "redis":
		if f.deps.Redis == nil {
			return nil, fmt.Errorf("%w: domain %s: redis source requires redis.addr", domain.ErrInvalidConfig, domainName)
		}
		key := sc.Key
		if key == "" {
			key = infra.RedisHashKey(domainName)
		}
		src = NewRedisSource(f.deps.Redis, key)

	case "sql":
		if f.deps.Metrics == nil {
			return nil, fmt.Errorf("%w: domain %s: sql source requires database.url", domain.ErrInvalidConfig, domainName)
		}
		src = NewSQLSource(f.deps.Metrics, f.deps.TenantID, domainName, sc.MaxAge)

	default:
		return nil, fmt.Errorf("%w: domain %s: unknown source kind %q", domain.ErrInvalidConfig, domainName, sc.Kind)
	}

	if sc.Breaker {
		src = WithBreaker(src, "source:"+domainName, DefaultBreakerSettings(), f.deps.Stats, f.deps.Logger)
	}
	return src, nil
}

func (f *Factory) probe(domainName string, pc infra.ProbeConfig) (engine.HealthProbe, error) {
	var probe engine.HealthProbe

	switch pc.Kind {
	case "http":
		if pc.Target == "" {
			return nil, fmt.Errorf("%w: domain %s: http probe requires target", domain.ErrInvalidConfig, domainName)
		}
		probe = NewHTTPProbe(pc.Target, nil)

	case "redis":
		if f.deps.Redis == nil {
			return nil, fmt.Errorf("%w: domain %s: redis probe requires redis.addr", domain.ErrInvalidConfig, domainName)
		}
		probe = NewRedisProbe(f.deps.Redis)

	case "postgres":
		if f.deps.DB == nil {
			return nil, fmt.Errorf("%w: domain %s: postgres probe requires database.url", domain.ErrInvalidConfig, domainName)
		}
		probe = NewPostgresProbe(f.deps.DB)

	case "grpc":
		if pc.Target == "" {
			return nil, fmt.Errorf("%w: domain %s: grpc probe requires target", domain.ErrInvalidConfig, domainName)
		}
		gp, err := NewGRPCProbe(pc.Target, pc.Service)
		if err != nil {
			return nil, err
		}
		f.closers = append(f.closers, gp)
		probe = gp

	default:
		return nil, fmt.Errorf("%w: domain %s: unknown probe kind %q", domain.ErrInvalidConfig, domainName, pc.Kind)
	}

	if pc.Breaker {
		probe = ProbeWithBreaker(probe, "probe:"+domainName, DefaultBreakerSettings(), f.deps.Stats, f.deps.Logger)
	}
	return probe, nil
}

// Close закрывает соединения, открытые источниками (gRPC).
func (f *Factory) Close() error {
	var first error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	f.closers = nil
	return first
}
