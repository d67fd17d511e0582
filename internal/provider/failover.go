package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"aide/internal/domain"
)

// Failover tries models in order, falling through to the next when the
// current one fails. A context-too-long error is not failed over: the
// caller handles it by truncation, and a different provider would most
// likely reject the same payload.
type Failover struct {
	models    []domain.Model
	embedders []domain.Embedder
	logger    *slog.Logger
}

func NewFailover(models []domain.Model, embedders []domain.Embedder, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{models: models, embedders: embedders, logger: logger}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.models))
	for i, m := range f.models {
		names[i] = m.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

func (f *Failover) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var lastErr error
	for i, m := range f.models {
		resp, err := m.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: used fallback model", "model", m.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		if domain.IsContextTooLong(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		f.logger.Warn("failover: model failed, trying next",
			"model", m.Name(), "attempt", i+1, "error", err)
	}
	return nil, fmt.Errorf("all models in failover chain failed: %w", lastErr)
}

func (f *Failover) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for _, e := range f.embedders {
		vec, err := e.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no embedder configured")
	}
	return nil, fmt.Errorf("all embedders in failover chain failed: %w", lastErr)
}
