package provider

import (
	"fmt"
	"log/slog"

	"aide/internal/config"
	"aide/internal/domain"
)

// BuildFromConfig assembles the failover chain from configuration. At
// least one enabled provider in the chain is required.
func BuildFromConfig(cfg config.ModelConfig, logger *slog.Logger) (*Failover, error) {
	var (
		models    []domain.Model
		embedders []domain.Embedder
	)
	for _, name := range cfg.FailoverChain {
		pc, ok := cfg.Providers[name]
		if !ok || !pc.Enabled {
			continue
		}
		p := NewOpenAI(OpenAIConfig{
			Name:       name,
			APIKey:     pc.APIKey,
			APIBase:    pc.APIBase,
			ChatModel:  pc.ChatModel,
			EmbedModel: pc.EmbedModel,
			Logger:     logger,
		})
		models = append(models, p)
		if pc.EmbedModel != "" {
			embedders = append(embedders, p)
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("no enabled provider in failover chain")
	}
	return NewFailover(models, embedders, logger), nil
}
