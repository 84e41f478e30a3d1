package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/dropwatch/internal/infra"
	"go.uber.org/zap"
)

// DisabledRuleProvider: выключенные правила из БД в виде "<domain>/<rule_id>".
type DisabledRuleProvider interface {
	DisabledRules(ctx context.Context, tenantID string) ([]string, error)
}

// RuleToggler: то, к чему применяются переключения (Registry).
type RuleToggler interface {
	SetRuleEnabled(domain, ruleID string, enabled bool) error
}

// RuleToggleManager синхронизирует выключенные оператором правила между репликами:
// L1: правила в мониторах, L2 — множество в Redis, сигналы — Pub/Sub.
type RuleToggleManager struct {
	target   RuleToggler
	repo     DisabledRuleProvider
	rdb      *redis.Client
	tenantID string
	logger   *zap.Logger

	mu       sync.RWMutex
	disabled map[string]bool
}

func NewRuleToggleManager(rdb *redis.Client, repo DisabledRuleProvider, target RuleToggler, tenantID string, logger *zap.Logger) *RuleToggleManager {
	return &RuleToggleManager{
		target:   target,
		repo:     repo,
		rdb:      rdb,
		tenantID: tenantID,
		logger:   logger.With(zap.String("mod", "toggles")),
		disabled: make(map[string]bool),
	}
}

// Init загружает выключенные правила из БД при старте и применяет их к мониторам.
func (m *RuleToggleManager) Init(ctx context.Context) error {
	ids, err := m.repo.DisabledRules(ctx, m.tenantID)
	if err != nil {
		return fmt.Errorf("failed to fetch disabled rules from DB: %w", err)
	}

	return WarmupState(ctx, m.rdb, m.logger, ids, infra.RedisKeyDisabledRules, infra.RedisKeyLockWarmupRules,
		func(keys []string) {
			for _, key := range keys {
				m.apply(key, false)
			}
		})
}

// StartListener подписывается на переключения от других реплик. Блокирует до отмены ctx.
func (m *RuleToggleManager) StartListener(ctx context.Context) {
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanRuleToggle,
		func() error { return m.Init(ctx) }, // Переподключение
		m.apply,
	)
}

// Publish сохраняет состояние в L2 и рассылает сигнал всем репликам (включая себя).
func (m *RuleToggleManager) Publish(ctx context.Context, domainName, ruleID string, enabled bool) error {
	key := infra.RuleKey(domainName, ruleID)
	status := "off"

	pipe := m.rdb.TxPipeline()
	if enabled {
		status = "on"
		pipe.SRem(ctx, infra.RedisKeyDisabledRules, key)
	} else {
		pipe.SAdd(ctx, infra.RedisKeyDisabledRules, key)
	}
	pipe.Publish(ctx, infra.RedisChanRuleToggle, key+":"+status)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish rule toggle: %w", err)
	}
	return nil
}

func (m *RuleToggleManager) apply(key string, enabled bool) {
	domainName, ruleID, ok := infra.SplitRuleKey(key)
	if !ok {
		m.logger.Warn("invalid rule key in toggle signal", zap.String("key", key))
		return
	}

	m.mu.Lock()
	if enabled {
		delete(m.disabled, key)
	} else {
		m.disabled[key] = true
	}
	m.mu.Unlock()

	if err := m.target.SetRuleEnabled(domainName, ruleID, enabled); err != nil {
		// Правило может жить в домене, не зарегистрированном на этой реплике
		if errors.Is(err, ErrUnknownDomain) || errors.Is(err, ErrUnknownRule) {
			m.logger.Debug("toggle for unknown rule ignored", zap.String("key", key))
			return
		}
		m.logger.Error("failed to apply rule toggle", zap.String("key", key), zap.Error(err))
		return
	}
	m.logger.Info("rule toggled", zap.String("key", key), zap.Bool("enabled", enabled))
}

// IsDisabled: известно ли менеджеру, что правило выключено оператором.
func (m *RuleToggleManager) IsDisabled(domainName, ruleID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disabled[infra.RuleKey(domainName, ruleID)]
}

// Reapply повторно выключает известные правила домена (после перерегистрации).
func (m *RuleToggleManager) Reapply(domainName string) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.disabled))
	for key := range m.disabled {
		if d, _, ok := infra.SplitRuleKey(key); ok && d == domainName {
			keys = append(keys, key)
		}
	}
	m.mu.RUnlock()

	for _, key := range keys {
		m.apply(key, false)
	}
}
