package signals

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/engine"
	"go.uber.org/zap"
)

// BreakerSettings: параметры предохранителя вокруг I/O источника.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration // Время, через которое CB попробует "закрыться"
	ConsecutiveFails uint32
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{MaxRequests: 1, Interval: time.Minute, Timeout: 30 * time.Second, ConsecutiveFails: 3}
}

func newBreaker(name string, s BreakerSettings, metrics *engine.Metrics, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
}

// breakerSource: пока предохранитель открыт, тик падает сразу (ErrOpenState), не дергая источник.
type breakerSource struct {
	next engine.SignalSource
	cb   *gobreaker.CircuitBreaker
}

func WithBreaker(next engine.SignalSource, name string, s BreakerSettings, metrics *engine.Metrics, logger *zap.Logger) engine.SignalSource {
	return &breakerSource{next: next, cb: newBreaker(name, s, metrics, logger)}
}

func (b *breakerSource) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Snapshot(ctx)
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return res.(domain.Snapshot), nil
}

// breakerProbe: открытый предохранитель — сам по себе сигнал нездоровья.
type breakerProbe struct {
	next engine.HealthProbe
	cb   *gobreaker.CircuitBreaker
}

func ProbeWithBreaker(next engine.HealthProbe, name string, s BreakerSettings, metrics *engine.Metrics, logger *zap.Logger) engine.HealthProbe {
	return &breakerProbe{next: next, cb: newBreaker(name, s, metrics, logger)}
}

func (b *breakerProbe) Probe(ctx context.Context) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Probe(ctx)
	})
	return err
}
