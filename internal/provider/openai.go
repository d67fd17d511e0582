// Package provider implements the model capability over OpenAI-compatible
// HTTP APIs, with transient-failure retry and a failover chain.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"aide/internal/domain"
)

const defaultHTTPTimeout = 120 * time.Second

// OpenAI talks to an OpenAI-compatible API. It implements both
// domain.Model and domain.Embedder.
type OpenAI struct {
	name       string
	apiKey     string
	apiBase    string
	chatModel  string
	embedModel string
	client     *http.Client
	logger     *slog.Logger
}

type OpenAIConfig struct {
	Name       string
	APIKey     string
	APIBase    string
	ChatModel  string
	EmbedModel string
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		name:       cfg.Name,
		apiKey:     cfg.APIKey,
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
		client:     &http.Client{Timeout: defaultHTTPTimeout},
		logger:     cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return o.name }

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Tools       []oaiTool    `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Stream      bool         `json:"stream"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type oaiToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function oaiToolCallFn `json:"function"`
}

type oaiToolCallFn struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	msgs := make([]oaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, oaiMessage{Role: domain.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		om := oaiMessage{Role: m.Role, Content: m.Content}
		if m.ToolCallID != "" {
			om.ToolCallID = m.ToolCallID
			om.Name = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, oaiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: oaiToolCallFn{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		msgs = append(msgs, om)
	}

	body := oaiRequest{
		Model:    o.chatModel,
		Messages: msgs,
		Stream:   false,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
		return httpReq, nil
	}, o.logger)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(o.name, resp.StatusCode, string(respBody))
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, &domain.ModelError{Kind: domain.ModelMalformed,
			Err: fmt.Errorf("%s: decode response: %w", o.name, err)}
	}
	if len(oaiResp.Choices) == 0 {
		return &domain.ChatResponse{FinishReason: "stop"}, nil
	}

	choice := oaiResp.Choices[0]
	out := &domain.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

type oaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type oaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if o.embedModel == "" {
		return nil, fmt.Errorf("%s: no embedding model configured", o.name)
	}

	jsonBody, err := json.Marshal(oaiEmbedRequest{Model: o.embedModel, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			o.apiBase+"/embeddings", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
		return httpReq, nil
	}, o.logger)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(o.name, resp.StatusCode, string(respBody))
	}

	var embedResp oaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, &domain.ModelError{Kind: domain.ModelMalformed,
			Err: fmt.Errorf("%s: decode embedding: %w", o.name, err)}
	}
	if len(embedResp.Data) == 0 {
		return nil, &domain.ModelError{Kind: domain.ModelMalformed,
			Err: fmt.Errorf("%s: empty embedding response", o.name)}
	}
	return embedResp.Data[0].Embedding, nil
}

// classifyStatus maps an HTTP error status to a ModelError kind.
func classifyStatus(provider string, status int, body string) error {
	err := fmt.Errorf("%s: HTTP %d: %s", provider, status, body)
	switch {
	case status == http.StatusTooManyRequests:
		return &domain.ModelError{Kind: domain.ModelRateLimited, Err: err}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &domain.ModelError{Kind: domain.ModelTimeout, Err: err}
	case status >= 500:
		return &domain.ModelError{Kind: domain.ModelUnavailable, Err: err}
	case status == http.StatusBadRequest && isContextLengthBody(body):
		return &domain.ModelError{Kind: domain.ModelContextTooLong, Err: err}
	default:
		return &domain.ModelError{Kind: domain.ModelMalformed, Err: err}
	}
}

// isContextLengthBody sniffs the error payload for a context-window
// overflow. API dialects phrase it differently.
func isContextLengthBody(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range []string{"context_length", "context length", "maximum context", "too many tokens"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
