package signals

import (
	"context"
	"fmt"
	"math/rand/v2" // Используем v2 для Go 1.25
	"sync"
	"time"

	"github.com/xela07ax/dropwatch/internal/domain"
)

// Walk: числовой сигнал, который блуждает в [Min, Max] с шагом не больше Step.
type Walk struct {
	Name  string
	Start float64
	Min   float64
	Max   float64
	Step  float64
}

// Choice: категориальный сигнал: на каждом срезе выбирается одно из значений.
type Choice struct {
	Name   string
	Values []string
}

// SimulatedSource: детерминированный генератор срезов для демо и тестов.
// Один и тот же seed дает одну и ту же последовательность.
type SimulatedSource struct {
	mu      sync.Mutex
	rng     *rand.Rand
	walks   []Walk
	current map[string]float64
	choices []Choice
	quality float64
	latency time.Duration // Имитация сетевой задержки
}

func NewSimulatedSource(seed uint64, walks []Walk, choices []Choice, quality float64, latency time.Duration) (*SimulatedSource, error) {
	current := make(map[string]float64, len(walks))
	for _, w := range walks {
		if w.Name == "" || w.Min > w.Max || w.Step < 0 {
			return nil, fmt.Errorf("%w: simulated signal %q: bad range", domain.ErrInvalidConfig, w.Name)
		}
		current[w.Name] = clamp(w.Start, w.Min, w.Max)
	}
	for _, c := range choices {
		if c.Name == "" || len(c.Values) == 0 {
			return nil, fmt.Errorf("%w: simulated signal %q: no values", domain.ErrInvalidConfig, c.Name)
		}
	}
	if quality <= 0 {
		quality = 1
	}
	return &SimulatedSource{
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		walks:   walks,
		current: current,
		choices: choices,
		quality: domain.Clamp01(quality),
		latency: latency,
	}, nil
}

func (s *SimulatedSource) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
			// Имитация работы
		case <-ctx.Done():
			return domain.Snapshot{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values := make(map[string]any, len(s.walks)+len(s.choices))
	for _, w := range s.walks {
		// Шаг в [-Step, +Step]
		delta := (s.rng.Float64()*2 - 1) * w.Step
		next := clamp(s.current[w.Name]+delta, w.Min, w.Max)
		s.current[w.Name] = next
		values[w.Name] = next
	}
	for _, c := range s.choices {
		values[c.Name] = c.Values[s.rng.IntN(len(c.Values))]
	}

	return domain.NewSnapshot("", time.Time{}, values).WithQuality(s.quality), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
