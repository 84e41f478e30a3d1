package connectors

import "context"

// GenerateRequest: запрос к генеративному сервису. Context сериализуется в промпт как JSON.
type GenerateRequest struct {
	Prompt  string
	Context map[string]any
}

// Generator: генеративный текстовый сервис (маркетинговые тексты для generate_content).
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
