package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/dropwatch/internal/connectors"
	"github.com/xela07ax/dropwatch/internal/console/handler"
	"github.com/xela07ax/dropwatch/internal/console/server"
	"github.com/xela07ax/dropwatch/internal/console/service"
	"github.com/xela07ax/dropwatch/internal/engine"
	"github.com/xela07ax/dropwatch/internal/infra"
	"github.com/xela07ax/dropwatch/internal/infra/auth"
	"github.com/xela07ax/dropwatch/internal/notify"
	"github.com/xela07ax/dropwatch/internal/repository/postgres"
	"github.com/xela07ax/dropwatch/internal/rules"
	"github.com/xela07ax/dropwatch/internal/signals"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("dropwatch stopped with error", zap.Error(err))
	}
	logger.Info("dropwatch exited properly")
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст жизни фоновых горутин: мониторы, слушатель переключений.
	// SIGTERM отменяет его после остановки HTTP.
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tenantID := cfg.Engine.TenantID

	// 1. Инфраструктура: хранилище и Redis опциональны
	var store *postgres.Store
	if cfg.Database.URL != "" {
		db, err := postgres.Open(cfg.Database)
		if err != nil {
			return err
		}
		store = postgres.NewStore(db)
		defer store.Close()

		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		err = store.Ping(pingCtx)
		pingCancel()
		if err != nil {
			return fmt.Errorf("database unreachable: %w", err)
		}
		logger.Info("postgres connected")
	} else {
		logger.Warn("database.url is empty: alerts and decisions are kept in memory only")
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 2. Ядро оценки правил
	ev, err := rules.NewEvaluator(rules.Config{
		Weights: rules.Weights{
			History:  cfg.Engine.WeightHistory,
			Quality:  cfg.Engine.WeightQuality,
			Maturity: cfg.Engine.WeightMaturity,
		},
		MaturityCap:  cfg.Engine.MaturityCap,
		NeutralPrior: cfg.Engine.NeutralPrior,
	}, logger)
	if err != nil {
		return err
	}

	// 3. Доставка уведомлений: БД, Redis Pub/Sub, генерация контента
	var backends []notify.Backend
	if store != nil {
		backends = append(backends, notify.NewStoreBackend(store, tenantID))
	}
	if rdb != nil {
		backends = append(backends, notify.NewPublishBackend(rdb, cfg.Notify.Channel))
	}
	if cfg.Generator.APIKey != "" && store != nil {
		client := &http.Client{Timeout: cfg.Generator.Timeout}
		gen := connectors.NewReliabilityWrapper(
			connectors.NewOpenAIClient(cfg.Generator, client),
			cfg.Generator, connectors.DefaultReliabilitySettings(), metrics, logger,
		)
		backends = append(backends, notify.NewContentBackend(gen, store, tenantID, logger))
	}
	dispatcher := notify.NewDispatcher(cfg.Notify, backends, metrics, logger)
	dispatcher.Start()

	// 4. Мониторы: правила из конфига + правила операторов из БД
	registry := engine.NewRegistry(ev, dispatcher, metrics, logger)

	deps := signals.Deps{Redis: rdb, TenantID: tenantID, Stats: metrics, Logger: logger}
	var catalog *rules.Catalog
	if store != nil {
		deps.Metrics = store
		deps.DB = store
		catalog = rules.NewCatalog(store, tenantID, logger)
		if err := catalog.Refresh(appCtx); err != nil {
			return err
		}
	}
	factory := signals.NewFactory(deps)
	defer func() {
		if err := factory.Close(); err != nil {
			logger.Warn("failed to close signal sources", zap.Error(err))
		}
	}()

	for _, mc := range cfg.Monitors {
		monitorCfg, err := factory.Build(mc, cfg.Engine)
		if err != nil {
			return err
		}
		if catalog != nil {
			monitorCfg.Rules = catalog.Merge(mc.Domain, monitorCfg.Rules)
		}
		if err := registry.Register(mc.Domain, monitorCfg); err != nil {
			return err
		}
	}
	logger.Info("monitors registered", zap.Int("count", len(cfg.Monitors)))

	if catalog != nil {
		registered := make(map[string]bool, len(cfg.Monitors))
		for _, mc := range cfg.Monitors {
			registered[mc.Domain] = true
		}
		for _, d := range catalog.Domains() {
			if !registered[d] {
				logger.Warn("stored rules for a domain without monitor are ignored", zap.String("domain", d))
			}
		}
	}

	// 5. Control Plane: выключенные оператором правила синхронизируются между репликами
	var toggles service.TogglePublisher
	if rdb != nil && store != nil {
		tm := engine.NewRuleToggleManager(rdb, store, registry, tenantID, logger)
		if err := tm.Init(appCtx); err != nil {
			return fmt.Errorf("failed to init rule toggles: %w", err)
		}
		go tm.StartListener(appCtx)
		toggles = tm
	}

	registry.StartAll(appCtx)

	// 6. Console API
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			return fmt.Errorf("auth public key: %w", err)
		}
		validator = auth.NewBaseValidator(pub)
	}

	// nil *postgres.Store в интерфейсе не равен nil, поэтому присваиваем явно
	var monitorStore service.Store
	var webhookStore service.WebhookStore
	if store != nil {
		monitorStore = store
		webhookStore = store
	}
	monitors := service.NewMonitorService(appCtx, registry, monitorStore, toggles, tenantID, logger)
	webhooks := service.NewWebhookService(cfg.Webhook, webhookStore, dispatcher, tenantID, logger)

	api := server.NewConsoleServer(logger, validator, reg,
		handler.NewMonitorHandler(monitors, logger),
		handler.NewWebhookHandler(webhooks, cfg.Webhook.MaxBodyBytes, metrics, logger),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("dropwatch started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("dropwatch stopping...", zap.String("signal", sig.String()))
	case err := <-serveErr:
		logger.Error("listen failed", zap.Error(err))
		registry.StopAll()
		dispatcher.Stop()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	// Сначала мониторы (новых уведомлений больше нет), затем дренаж буфера
	registry.StopAll()
	cancel()
	dispatcher.Stop()
	return nil
}
