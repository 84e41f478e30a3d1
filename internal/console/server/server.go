package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/dropwatch/internal/console/handler"
	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка токенов операторов (RS256). nil — auth выключен (нет публичного ключа)
	authValidator auth.TokenValidator
	gatherer      prometheus.Gatherer

	monitorHandler *handler.MonitorHandler // /v1/monitors, /v1/issues, /v1/alerts, /v1/dashboard
	webhookHandler *handler.WebhookHandler // /v1/webhooks/apex-empire
}

// NewConsoleServer инициализирует API движка со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	gatherer prometheus.Gatherer,
	monitorH *handler.MonitorHandler,
	webhookH *handler.WebhookHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		authValidator:  validator,
		gatherer:       gatherer,
		monitorHandler: monitorH,
		webhookHandler: webhookH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if s.gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
		// Вебхук защищен HMAC-подписью, а не токеном оператора
		r.Post("/v1/webhooks/apex-empire", s.webhookHandler.Receive)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен, если ключ настроен) ---
	r.Group(func(r chi.Router) {
		if s.authValidator != nil {
			r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		} else {
			s.logger.Warn("operator auth is disabled: no public key configured")
		}

		h := s.monitorHandler

		r.Get("/v1/dashboard", h.Dashboard)
		r.Get("/v1/issues", h.Issues)
		r.Get("/v1/alerts", h.Alerts)
		r.Get("/v1/webhooks/apex-empire/{id}", s.webhookHandler.Get)

		r.Route("/v1/monitors", func(r chi.Router) {
			r.Get("/", h.ListMonitors)
			r.Get("/status", h.Running)
			r.With(auth.RequireScope(domain.ScopeMonitorsWrite)).Post("/start", h.Start)
			r.With(auth.RequireScope(domain.ScopeMonitorsWrite)).Post("/stop", h.Stop)

			r.Route("/{domain}", func(r chi.Router) {
				r.Get("/decisions", h.Decisions)
				r.With(auth.RequireScope(domain.ScopeDecisionsWrite)).
					Post("/decisions/{id}/outcome", h.ReportOutcome)

				r.With(auth.RequireScope(domain.ScopeMonitorsWrite)).Post("/metrics", h.RecordMetrics)

				r.Get("/rules", h.Rules)
				r.Route("/rules/{id}", func(r chi.Router) {
					r.Use(auth.RequireScope(domain.ScopeRulesWrite))
					r.Put("/", h.UpsertRule)
					r.Post("/enable", h.EnableRule)
					r.Post("/disable", h.DisableRule)
				})
			})
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
