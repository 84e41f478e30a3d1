package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/dropwatch/internal/engine"
	"github.com/xela07ax/dropwatch/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ReliabilitySettings: повторы и таймаут одной попытки.
type ReliabilitySettings struct {
	Attempts    uint
	BaseDelay   time.Duration
	CallTimeout time.Duration
}

func DefaultReliabilitySettings() ReliabilitySettings {
	return ReliabilitySettings{Attempts: 3, BaseDelay: 100 * time.Millisecond, CallTimeout: 30 * time.Second}
}

// ReliabilityWrapper: Generator с лимитером, предохранителем и повторами.
// Используется только в побочных эффектах решений, никогда внутри тика монитора.
type ReliabilityWrapper struct {
	next     Generator
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	settings ReliabilitySettings
}

func NewReliabilityWrapper(next Generator, cfg infra.GeneratorConfig, s ReliabilitySettings, metrics *engine.Metrics, logger *zap.Logger) *ReliabilityWrapper {
	logger = logger.Named("generator")

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "generator",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		// Ошибки конфигурации и 4xx — не повод отключать сервис
		IsSuccessful: func(err error) bool {
			return err == nil || !isRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if s.Attempts == 0 {
		s.Attempts = 1
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = cfg.Timeout
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = DefaultReliabilitySettings().CallTimeout
	}

	return &ReliabilityWrapper{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(limit, burst),
		settings: s,
	}
}

func (w *ReliabilityWrapper) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	res, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.settings.Attempts),
			retry.Delay(w.settings.BaseDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(isRetryable),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Генератор вернул 429 и прочитал Retry-After
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		var text string
		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.settings.CallTimeout)
			defer cancel()

			var callErr error
			text, callErr = w.next.Generate(tCtx, req)
			return callErr
		})
		return text, retryErr
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}
