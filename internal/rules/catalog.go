package rules

import (
	"context"
	"sort"
	"sync"

	"github.com/xela07ax/dropwatch/internal/domain"
	"go.uber.org/zap"
)

type RuleRepository interface {
	ListRules(ctx context.Context, tenantID string) ([]domain.Rule, error)
}

// Catalog: In-memory кэш правил автоматизации, сохраненных в PostgreSQL.
// Мониторы к нему не обращаются: каталог используется при (пере)регистрации доменов,
// чтобы объединить правила из конфига с правилами, заведенными операторами.
type Catalog struct {
	mu sync.RWMutex
	// Кэш: domain -> rule_id -> Rule
	rules map[string]map[string]domain.Rule

	repo     RuleRepository // Используется только для Refresh()
	tenantID string
	logger   *zap.Logger
}

func NewCatalog(repo RuleRepository, tenantID string, logger *zap.Logger) *Catalog {
	return &Catalog{
		rules:    make(map[string]map[string]domain.Rule),
		repo:     repo,
		tenantID: tenantID,
		logger:   logger.Named("catalog"),
	}
}

// Refresh выполняет "холодную загрузку" всех правил тенанта из БД.
func (c *Catalog) Refresh(ctx context.Context) error {
	stored, err := c.repo.ListRules(ctx, c.tenantID)
	if err != nil {
		return err
	}

	next := make(map[string]map[string]domain.Rule)
	for _, r := range stored {
		if next[r.Domain] == nil {
			next[r.Domain] = make(map[string]domain.Rule)
		}
		next[r.Domain][r.ID] = r
	}

	c.mu.Lock()
	c.rules = next
	c.mu.Unlock()

	c.logger.Info("rule catalog refreshed", zap.Int("count", len(stored)), zap.Int("domains", len(next)))
	return nil
}

// ForDomain возвращает копии сохраненных правил домена в порядке id.
func (c *Catalog) ForDomain(domainName string) []domain.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Rule, 0, len(c.rules[domainName]))
	for _, r := range c.rules[domainName] {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Merge объединяет правила из конфига с правилами из БД.
// Сохраненное в БД правило с тем же id перекрывает конфиг (оператор правил приоритетнее деплоя).
func (c *Catalog) Merge(domainName string, configured []domain.Rule) []domain.Rule {
	stored := c.ForDomain(domainName)
	overridden := make(map[string]bool, len(stored))
	for _, r := range stored {
		overridden[r.ID] = true
	}

	out := make([]domain.Rule, 0, len(configured)+len(stored))
	for _, r := range configured {
		if !overridden[r.ID] {
			out = append(out, r.Clone())
		}
	}
	return append(out, stored...)
}

// Domains: домены, для которых в БД есть правила.
func (c *Catalog) Domains() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rules))
	for d := range c.rules {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
