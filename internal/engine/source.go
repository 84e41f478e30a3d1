package engine

import (
	"context"
	"time"

	"github.com/xela07ax/dropwatch/internal/domain"
)

// SignalSource отдает текущий срез сигналов домена. Может ходить в сеть.
type SignalSource interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

// HealthProbe: внешняя проверка живости (сессия, коннективность). nil-ошибка — здоров.
type HealthProbe interface {
	Probe(ctx context.Context) error
}

// Sink: получатель решений и проблем. Notify не должен блокировать тик.
type Sink interface {
	Notify(n domain.Notification)
}

type noopSink struct{}

func (noopSink) Notify(domain.Notification) {}

// MonitorConfig: настройки одного домена. Ровно одно из Source/Probe должно быть задано.
type MonitorConfig struct {
	Interval    time.Duration
	TickTimeout time.Duration // 0 — равен Interval
	Capacity    int           // Емкость журналов, 0 — issuelog.DefaultCapacity
	Retention   time.Duration // 0 — без срока хранения
	Rules       []domain.Rule
	Source      SignalSource
	Probe       HealthProbe
}

func (c MonitorConfig) tickTimeout() time.Duration {
	if c.TickTimeout > 0 {
		return c.TickTimeout
	}
	return c.Interval
}
