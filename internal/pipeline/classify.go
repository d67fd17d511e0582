package pipeline

import (
	"context"
	"fmt"
	"strings"

	"aide/internal/domain"
)

// Mode is the pipeline's processing mode for one message.
type Mode string

const (
	// ModeFull runs planning, the tool loop, and verification.
	ModeFull Mode = "FULL"
	// ModeMinimal answers conversationally without tools.
	ModeMinimal Mode = "MINIMAL"
)

const classifyPrompt = `Decide whether the user message below requires using tools ` +
	`(looking things up, fetching pages, saving or searching notes, checking the time) ` +
	`or is purely conversational (greetings, chit-chat, opinions, questions answerable ` +
	`from the conversation alone).

Reply with exactly one word: FULL if tools are required, MINIMAL otherwise.

User message: %s`

// classify asks the model which mode the message needs. The reply is
// matched leniently; anything that does not clearly say FULL is treated as
// MINIMAL. When no tools are eligible the model is not consulted at all.
func (p *Pipeline) classify(ctx context.Context, text string, hasTools bool) (Mode, error) {
	if !hasTools {
		return ModeMinimal, nil
	}

	resp, err := p.model.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{{
			Role:    domain.RoleUser,
			Content: fmt.Sprintf(classifyPrompt, text),
		}},
		MaxTokens:   10,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}

	if strings.Contains(strings.ToUpper(resp.Content), string(ModeFull)) {
		return ModeFull, nil
	}
	return ModeMinimal, nil
}
