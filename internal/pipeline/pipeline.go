// Package pipeline turns one inbound message into one outbound response:
// sanitize, classify, retrieve context, plan, run the tool loop, verify,
// persist, respond.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"aide/internal/domain"
	"aide/internal/memory"
	"aide/internal/security"
	"aide/internal/tool"
)

// Fixed user-facing fallbacks. These never carry error details or secrets.
const (
	replyEmpty       = "I didn't catch that. Could you try again?"
	replyInjection   = "I can't process that message."
	replyTooLong     = "That message is too long for me to process."
	replyUnavailable = "I'm having trouble thinking right now, please try again in a moment."
	replyNoAnswer    = "I'm not sure how to respond to that."
	replyExhausted   = "I completed the requested actions."
)

// Config carries the pipeline's tunables, resolved once at construction.
type Config struct {
	MaxToolRounds     int
	RecentTurns       int
	RelevantTurns     int
	ContextCharBudget int
	MaxMessageLength  int
	Timeout           time.Duration
	SystemPrompt      string
}

// Pipeline processes inbound messages. Each message runs in its own
// invocation with no shared mutable state; messages from the same sender
// are serialized, different senders proceed in parallel.
type Pipeline struct {
	cfg       Config
	model     domain.Model
	registry  *tool.Registry
	index     *memory.Index
	sanitizer *security.Sanitizer
	planner   *Planner
	limiter   *RateLimiter
	bus       domain.MessageBus
	logger    *slog.Logger

	senderMu sync.Mutex
	senders  map[string]*sync.Mutex
}

func New(cfg Config, model domain.Model, registry *tool.Registry, index *memory.Index,
	sanitizer *security.Sanitizer, limiter *RateLimiter, msgBus domain.MessageBus, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 5
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = security.MaxChatMessageLength
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Pipeline{
		cfg:       cfg,
		model:     model,
		registry:  registry,
		index:     index,
		sanitizer: sanitizer,
		planner:   NewPlanner(model, logger),
		limiter:   limiter,
		bus:       msgBus,
		logger:    logger,
		senders:   make(map[string]*sync.Mutex),
	}
}

// Run consumes inbound messages from the bus until the context is
// cancelled or the bus closes. Each message is handled on its own
// goroutine; per-sender ordering is preserved by the sender lock.
func (p *Pipeline) Run(ctx context.Context) {
	inbound := p.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			go func(m domain.InboundMessage) {
				out := p.Process(ctx, m)
				p.bus.SendOutbound(out)
			}(msg)
		}
	}
}

// Process runs the full pipeline for one message and returns the response
// addressed back to the originating channel.
func (p *Pipeline) Process(ctx context.Context, msg domain.InboundMessage) domain.OutboundMessage {
	lock := p.senderLock(msg.SenderID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	started := time.Now()
	content := p.run(ctx, msg)
	p.emit("message_processed", map[string]string{
		"channel":  msg.Channel,
		"duration": time.Since(started).String(),
	})

	return domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		Format:  "text",
	}
}

func (p *Pipeline) run(ctx context.Context, msg domain.InboundMessage) string {
	// Voice transcripts get a larger cap than typed chat messages; the
	// rejection threshold must use the same cap as the sanitize stage.
	maxLen := p.cfg.MaxMessageLength
	if msg.Kind == domain.KindVoiceTranscript {
		maxLen = security.MaxVoiceTranscriptLength
	}
	if utf8.RuneCountInString(msg.Text) > maxLen {
		return replyTooLong
	}

	text := p.sanitizer.SanitizeText(msg.Text, maxLen)
	if text == "" {
		return replyEmpty
	}

	if p.sanitizer.DetectInjection(text) {
		p.logger.Warn("prompt injection rejected",
			"channel", msg.Channel, "sender", msg.SenderID)
		p.emit("injection_rejected", map[string]string{"channel": msg.Channel})
		return replyInjection
	}

	if err := p.index.Append(ctx, &domain.ConversationTurn{
		Role:    domain.RoleUser,
		Content: text,
		Source:  msg.Channel,
	}); err != nil {
		p.logger.Error("failed to persist user turn", "error", err)
	}

	messages := p.buildContext(ctx, text)
	defs := p.registry.Definitions()

	mode, err := p.classify(ctx, text, len(defs) > 0)
	if err != nil {
		p.logger.Error("classification failed", "error", err)
		return replyUnavailable
	}
	p.logger.Debug("message classified", "mode", mode, "channel", msg.Channel)

	if mode == ModeMinimal {
		return p.runMinimal(ctx, messages, msg.Channel)
	}
	return p.runFull(ctx, text, messages, defs, msg.Channel)
}

// runMinimal answers conversationally, no tools, no criteria.
func (p *Pipeline) runMinimal(ctx context.Context, messages []domain.Message, source string) string {
	resp, err := p.chat(ctx, &messages, nil)
	if err != nil {
		p.logger.Error("model chat failed", "error", err)
		return replyUnavailable
	}
	content := resp.Content
	if content == "" {
		content = replyNoAnswer
	}
	p.persistAssistant(ctx, content, source)
	return content
}

// runFull plans success criteria, runs the bounded tool loop, verifies,
// and responds. The final response is only emitted after every criterion
// has been resolved to satisfied or failed.
func (p *Pipeline) runFull(ctx context.Context, text string, messages []domain.Message,
	defs []domain.ToolDefinition, source string) string {

	var criteria []*Criterion
	if p.planner.ShouldPlan(text, len(defs) > 0) {
		names := make([]string, 0, len(defs))
		for _, d := range defs {
			names = append(names, d.Name)
		}
		criteria = p.planner.Generate(ctx, text, names)
	}

	var (
		toolResults []domain.ToolResult
		lastContent string
	)

	for round := 0; round < p.cfg.MaxToolRounds; round++ {
		resp, err := p.chat(ctx, &messages, defs)
		if err != nil {
			p.logger.Error("model chat failed", "round", round, "error", err)
			return replyUnavailable
		}
		lastContent = resp.Content

		if !resp.HasToolCalls() {
			content := resp.Content
			if content == "" {
				content = replyNoAnswer
			}
			return p.finish(ctx, content, criteria, toolResults, source)
		}

		messages = append(messages, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		mutatingUsed := false
		for _, tc := range resp.ToolCalls {
			result := p.executeToolCall(ctx, tc, &mutatingUsed)
			toolResults = append(toolResults, result)
			messages = append(messages, domain.Message{
				Role:       domain.RoleTool,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Content:    result.Output,
			})
		}
	}

	// Round cap reached without a final answer.
	p.logger.Warn("tool loop exhausted", "rounds", p.cfg.MaxToolRounds,
		"error", domain.ErrMaxRoundsExceeded)
	content := lastContent
	if content == "" {
		content = replyExhausted
	}
	return p.finish(ctx, content, criteria, toolResults, source)
}

// executeToolCall invokes one requested tool. Malformed arguments become an
// empty argument set. At most one mutating tool runs per round; further
// mutating requests in the same round are refused so evidence attribution
// stays unambiguous.
func (p *Pipeline) executeToolCall(ctx context.Context, tc domain.ToolCall, mutatingUsed *bool) domain.ToolResult {
	args := tool.ParseArguments(tc.Arguments)

	mutating := !p.registry.IsReadOnly(tc.Name)
	if mutating && *mutatingUsed {
		p.logger.Warn("refusing second mutating tool call in round", "tool", tc.Name)
		return domain.ToolResult{
			ToolName: tc.Name,
			Success:  false,
			Output:   "refused: only one state-changing tool call is allowed per round",
		}
	}

	result, err := p.registry.Invoke(ctx, tc.Name, args)
	if err != nil {
		// Unknown or ineligible tool. Reported to the model as a
		// capability error, never surfaced raw to the user.
		p.logger.Warn("tool not available", "tool", tc.Name, "error", err)
		return domain.ToolResult{
			ToolName: tc.Name,
			Success:  false,
			Output:   fmt.Sprintf("tool %s is not available", tc.Name),
		}
	}
	if mutating {
		*mutatingUsed = true
	}
	return result
}

// finish verifies criteria against evidence, appends a summary when any
// failed, and persists the assistant turn. Every generated criterion is
// resolved before the response leaves; with no tool evidence the verifier
// judges against "(no tools were executed)".
func (p *Pipeline) finish(ctx context.Context, content string, criteria []*Criterion,
	toolResults []domain.ToolResult, source string) string {

	if len(criteria) > 0 {
		p.planner.Verify(ctx, criteria, toolResults)
		if summary := Summary(criteria); summary != "" {
			content += "\n\n" + summary
		}
	}

	p.persistAssistant(ctx, content, source)
	return content
}

// chat performs one model call over the running message list. A
// context-too-long error is recovered once by dropping the oldest
// non-system turns and retrying with the shorter window.
func (p *Pipeline) chat(ctx context.Context, messages *[]domain.Message, defs []domain.ToolDefinition) (*domain.ChatResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req := domain.ChatRequest{
		System:   p.cfg.SystemPrompt,
		Messages: *messages,
		Tools:    defs,
	}
	resp, err := p.model.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if !domain.IsContextTooLong(err) {
		return nil, err
	}

	p.logger.Warn("context too long, truncating and retrying")
	*messages = dropOldest(*messages)
	req.Messages = *messages
	return p.model.Chat(ctx, req)
}

// buildContext assembles the conversation window: relevant older turns,
// recent turns, then the new message wrapped in input delimiters. The
// window is trimmed oldest-first to the character budget; the system
// instructions are never trimmed.
func (p *Pipeline) buildContext(ctx context.Context, text string) []domain.Message {
	var messages []domain.Message

	turns, err := p.index.ContextTurns(ctx, text, p.cfg.RecentTurns, p.cfg.RelevantTurns)
	if err != nil {
		p.logger.Warn("context retrieval failed, proceeding without history", "error", err)
	}
	for _, turn := range turns {
		messages = append(messages, domain.Message{Role: turn.Role, Content: turn.Content})
	}

	messages = append(messages, domain.Message{
		Role:    domain.RoleUser,
		Content: security.WrapUserInput(text),
	})

	if p.cfg.ContextCharBudget > 0 {
		total := len(p.cfg.SystemPrompt)
		for _, m := range messages {
			total += len(m.Content)
		}
		for total > p.cfg.ContextCharBudget && len(messages) > 1 {
			total -= len(messages[0].Content)
			messages = messages[1:]
		}
	}
	return messages
}

// dropOldest removes the older half of the window, keeping at least the
// final user message and any trailing tool exchange.
func dropOldest(messages []domain.Message) []domain.Message {
	if len(messages) <= 1 {
		return messages
	}
	return messages[len(messages)/2:]
}

func (p *Pipeline) persistAssistant(ctx context.Context, content, source string) {
	if err := p.index.Append(ctx, &domain.ConversationTurn{
		Role:    domain.RoleAssistant,
		Content: content,
		Source:  source,
	}); err != nil {
		p.logger.Error("failed to persist assistant turn", "error", err)
	}
}

func (p *Pipeline) senderLock(senderID string) *sync.Mutex {
	p.senderMu.Lock()
	defer p.senderMu.Unlock()

	lock, ok := p.senders[senderID]
	if !ok {
		lock = &sync.Mutex{}
		p.senders[senderID] = lock
	}
	return lock
}

func (p *Pipeline) emit(name string, fields map[string]string) {
	if p.bus == nil {
		return
	}
	p.bus.Emit(domain.Event{
		Category: domain.EventPipeline,
		Name:     name,
		Fields:   fields,
	})
}
