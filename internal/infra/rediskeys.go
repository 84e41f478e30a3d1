package infra

import (
	"fmt"
	"strings"
)

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "dropwatch"
)

// Ключи для Sets (состояние)
const (
	// RedisKeyDisabledRules: множество "<domain>/<rule_id>" выключенных оператором правил.
	RedisKeyDisabledRules   = RedisNamespace + ":rules:disabled_set"
	RedisKeyLockWarmupRules = RedisNamespace + ":lock:warmup:rules"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRuleToggle: "<domain>/<rule_id>:on|off" для синхронизации реплик.
	RedisChanRuleToggle = RedisNamespace + ":rules:toggle-signal"
	// RedisChanNotifications: JSON решений и проблем для live-дашборда.
	RedisChanNotifications = RedisNamespace + ":notifications"
)

// RuleKey: ключ правила в множестве и сигнале переключения.
func RuleKey(domain, ruleID string) string {
	return domain + "/" + ruleID
}

// SplitRuleKey: обратное к RuleKey. Домен не содержит '/', id правила может.
func SplitRuleKey(key string) (string, string, bool) {
	domain, ruleID, ok := strings.Cut(key, "/")
	if !ok || domain == "" || ruleID == "" {
		return "", "", false
	}
	return domain, ruleID, true
}

// RedisHashKey: хэш сигналов домена для redis-источника по умолчанию.
func RedisHashKey(domain string) string {
	return fmt.Sprintf("%s:signals:%s", RedisNamespace, domain)
}
