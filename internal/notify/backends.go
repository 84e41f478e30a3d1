package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/dropwatch/internal/connectors"
	"github.com/xela07ax/dropwatch/internal/domain"
	"go.uber.org/zap"
)

// Store: запись в постоянное хранилище (repository/postgres.Store).
type Store interface {
	InsertAlerts(ctx context.Context, tenantID string, issues []domain.Issue) error
	InsertDecisions(ctx context.Context, tenantID string, decisions []domain.Decision) error
}

// StoreBackend сохраняет проблемы как алерты и решения.
type StoreBackend struct {
	store    Store
	tenantID string
}

func NewStoreBackend(store Store, tenantID string) *StoreBackend {
	return &StoreBackend{store: store, tenantID: tenantID}
}

func (b *StoreBackend) Name() string { return "postgres" }

func (b *StoreBackend) Deliver(ctx context.Context, batch []domain.Notification) error {
	var issues []domain.Issue
	var decisions []domain.Decision
	for _, n := range batch {
		switch {
		case n.Issue != nil:
			issues = append(issues, *n.Issue)
		case n.Decision != nil:
			decisions = append(decisions, *n.Decision)
		}
	}

	var errs []error
	if len(decisions) > 0 {
		if err := b.store.InsertDecisions(ctx, b.tenantID, decisions); err != nil {
			errs = append(errs, err)
		}
	}
	if len(issues) > 0 {
		if err := b.store.InsertAlerts(ctx, b.tenantID, issues); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishBackend рассылает уведомления в Redis-канал для живых UI и реплик.
type PublishBackend struct {
	rdb     *redis.Client
	channel string
}

func NewPublishBackend(rdb *redis.Client, channel string) *PublishBackend {
	return &PublishBackend{rdb: rdb, channel: channel}
}

func (b *PublishBackend) Name() string { return "redis" }

func (b *PublishBackend) Deliver(ctx context.Context, batch []domain.Notification) error {
	pipe := b.rdb.Pipeline()
	for _, n := range batch {
		payload, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("notify: marshal %s: %w", n.Kind, err)
		}
		pipe.Publish(ctx, b.channel, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("notify: publish batch: %w", err)
	}
	return nil
}

// ContentStore сохраняет сгенерированный текст к решению.
type ContentStore interface {
	AttachContent(ctx context.Context, tenantID, decisionID, content string) error
}

// ContentBackend исполняет решения generate_content: текст от генератора
// прикладывается к сохраненному решению.
type ContentBackend struct {
	gen      connectors.Generator
	store    ContentStore
	tenantID string
	logger   *zap.Logger
}

func NewContentBackend(gen connectors.Generator, store ContentStore, tenantID string, logger *zap.Logger) *ContentBackend {
	return &ContentBackend{gen: gen, store: store, tenantID: tenantID, logger: logger.Named("content")}
}

func (b *ContentBackend) Name() string { return "content" }

func (b *ContentBackend) Deliver(ctx context.Context, batch []domain.Notification) error {
	var errs []error
	for _, n := range batch {
		if n.Decision == nil || n.Decision.Action.Kind != domain.ActionGenerateContent {
			continue
		}
		d := n.Decision

		text, err := b.gen.Generate(ctx, contentRequest(*d))
		if err != nil {
			errs = append(errs, fmt.Errorf("notify: generate for decision %s: %w", d.ID, err))
			continue
		}
		if b.store != nil {
			if err := b.store.AttachContent(ctx, b.tenantID, d.ID, text); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		b.logger.Info("content generated",
			zap.String("decision_id", d.ID), zap.String("domain", d.Domain), zap.Int("chars", len(text)))
	}
	return errors.Join(errs...)
}

// contentRequest: params.prompt правила, иначе промпт по умолчанию.
func contentRequest(d domain.Decision) connectors.GenerateRequest {
	prompt, _ := d.Action.Params["prompt"].(string)
	if prompt == "" {
		prompt = fmt.Sprintf("Write a short social media post reacting to %s signals (rule %s).", d.Domain, d.RuleID)
	}
	ctx := map[string]any{"domain": d.Domain, "signals": d.Snapshot.Values()}
	for k, v := range d.Action.Params {
		if k != "prompt" {
			ctx[k] = v
		}
	}
	return connectors.GenerateRequest{Prompt: prompt, Context: ctx}
}
