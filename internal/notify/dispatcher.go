package notify

/*
Dispatcher — реализация Notification Sink.

- Notify никогда не блокирует тик монитора: ограниченный канал и сброс нагрузки
  (Load Shedding), сброшенные уведомления логируются и считаются в метриках.
- Воркер копит пачку (BatchSize или FlushInterval) и раздает ее всем бэкендам
  параллельно. Ошибки бэкендов логируются и никогда не возвращаются движку.
- Stop запирает вход, вычитывает остаток канала и делает финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/engine"
	"github.com/xela07ax/dropwatch/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// deliverTimeout ограничивает одну раздачу пачки (включая генерацию текста).
const deliverTimeout = 2 * time.Minute

// Backend получает пачки уведомлений. Deliver вызывается из одной горутины за раз.
type Backend interface {
	Name() string
	Deliver(ctx context.Context, batch []domain.Notification) error
}

type Dispatcher struct {
	ch        chan domain.Notification
	backends  []Backend
	batchSize int
	flush     time.Duration
	metrics   *engine.Metrics
	logger    *zap.Logger

	mu      sync.RWMutex // Защищает closed и close(ch) от гонки с Notify
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewDispatcher(cfg infra.NotifyConfig, backends []Backend, metrics *engine.Metrics, logger *zap.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &Dispatcher{
		ch:        make(chan domain.Notification, cfg.BufferSize),
		backends:  backends,
		batchSize: cfg.BatchSize,
		flush:     cfg.FlushInterval,
		metrics:   metrics,
		logger:    logger.With(zap.String("mod", "notify")),
	}
}

func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.worker()
}

// Notify: неблокирующая отправка.
func (d *Dispatcher) Notify(n domain.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.metrics.NotifyDropped.Inc()
		d.logger.Warn("notification dropped: dispatcher is stopping",
			zap.String("kind", string(n.Kind)), zap.String("domain", n.Domain()))
		return
	}

	// используем стратегию Load Shedding (сброс нагрузки)
	select {
	case d.ch <- n:
		d.metrics.NotifyBufferFill.Set(float64(len(d.ch)))
	default:
		d.metrics.NotifyDropped.Inc()
		d.logger.Error("notify_buffer_overflow",
			zap.String("kind", string(n.Kind)), zap.String("domain", n.Domain()))
	}
}

// Stop «запирает» вход в канал и ждет, пока воркер всё раздаст.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	started := d.started
	close(d.ch)
	d.mu.Unlock()

	if !started {
		// Воркер не запускался: раздаем остаток синхронно
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info("stopping dispatcher: flushing buffer...")
	d.wg.Wait()
	d.logger.Info("dispatcher stopped gracefully")
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	batch := make([]domain.Notification, 0, d.batchSize)
	ticker := time.NewTicker(d.flush)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		d.deliver(batch)
		batch = make([]domain.Notification, 0, d.batchSize)
		d.metrics.NotifyBufferFill.Set(float64(len(d.ch)))
	}

	for {
		select {
		case n, ok := <-d.ch:
			if !ok {
				flush() // Финальный сброс
				return
			}
			batch = append(batch, n)
			if len(batch) >= d.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// deliver раздает пачку всем бэкендам параллельно. Пачка только читается.
func (d *Dispatcher) deliver(batch []domain.Notification) {
	// Background: контекст сервиса к этому моменту может быть уже закрыт
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	var g errgroup.Group
	for _, b := range d.backends {
		g.Go(func() error {
			if err := b.Deliver(ctx, batch); err != nil {
				d.metrics.NotifyBackendErr.WithLabelValues(b.Name()).Inc()
				d.logger.Error("notify backend failed",
					zap.String("backend", b.Name()), zap.Int("batch", len(batch)), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
