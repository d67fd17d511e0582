package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"aide/internal/domain"
)

// CriterionStatus is the lifecycle of one success criterion. Criteria are
// request-scoped: created at plan time, resolved during verification, never
// persisted.
type CriterionStatus string

const (
	StatusPending   CriterionStatus = "pending"
	StatusSatisfied CriterionStatus = "satisfied"
	StatusFailed    CriterionStatus = "failed"
)

// Criterion is one binary-testable statement about what "done" looks like.
type Criterion struct {
	ID          string
	Description string
	Status      CriterionStatus
	Evidence    string
}

const generatePrompt = `You generate success criteria. Given a user request that requires ` +
	`tool use, produce a list of binary-testable criteria.

Rules:
- Each criterion must be a state, not an action (e.g. "Note exists in memory" not "Save note")
- Each criterion must be exactly measurable with YES/NO
- Each criterion should address one concern only
- Keep criteria minimal, only what is needed to verify the task is complete
- Return a JSON array of strings, nothing else

User request: %s
Available tools: %s`

const verifyPrompt = `You are a verification engine. Given the original criteria and the ` +
	`tool execution results, verify each criterion.

For each criterion, respond with:
- "YES" if the evidence confirms the criterion is met
- "NO" if the evidence shows the criterion is not met

Return a JSON object mapping each criterion to "YES" or "NO".

Criteria: %s
Tool results:
%s`

// actionIndicators mark requests worth planning for. Conversational
// messages and simple questions skip criteria generation.
var actionIndicators = []string{
	"create", "add", "schedule", "send", "update", "delete",
	"set", "change", "remind", "book", "cancel", "move",
	"make", "write", "compose", "draft", "plan", "save", "fetch",
}

// Planner generates and verifies success criteria around the tool loop.
type Planner struct {
	model  domain.Model
	logger *slog.Logger
}

func NewPlanner(model domain.Model, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{model: model, logger: logger}
}

// ShouldPlan reports whether the message is actionable enough to warrant
// criteria generation.
func (pl *Planner) ShouldPlan(text string, hasTools bool) bool {
	if !hasTools {
		return false
	}
	lower := strings.ToLower(text)
	for _, word := range actionIndicators {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// Generate produces criteria for the request. Generation failure is
// tolerated: the pipeline proceeds without criteria.
func (pl *Planner) Generate(ctx context.Context, userMessage string, toolNames []string) []*Criterion {
	resp, err := pl.model.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{{
			Role:    domain.RoleUser,
			Content: fmt.Sprintf(generatePrompt, userMessage, strings.Join(toolNames, ", ")),
		}},
		MaxTokens:   500,
		Temperature: 0,
	})
	if err != nil {
		pl.logger.Warn("criteria generation failed, proceeding without", "error", err)
		return nil
	}

	var criteria []*Criterion
	for _, desc := range parseStringArray(resp.Content) {
		criteria = append(criteria, &Criterion{
			ID:          uuid.NewString(),
			Description: desc,
			Status:      StatusPending,
		})
	}
	if len(criteria) > 0 {
		pl.logger.Info("generated success criteria", "count", len(criteria))
	}
	return criteria
}

// Verify resolves every criterion against the accumulated tool results.
// After Verify returns, no criterion is left pending: criteria the model
// confirmed are satisfied, everything else is failed.
func (pl *Planner) Verify(ctx context.Context, criteria []*Criterion, results []domain.ToolResult) {
	if len(criteria) == 0 {
		return
	}

	verdicts := pl.requestVerdicts(ctx, criteria, results)
	for _, c := range criteria {
		verdict, ok := verdicts[c.Description]
		if ok && strings.EqualFold(strings.TrimSpace(verdict), "YES") {
			c.Status = StatusSatisfied
		} else {
			c.Status = StatusFailed
			if !ok {
				c.Evidence = "no verdict returned"
			}
		}
	}
}

func (pl *Planner) requestVerdicts(ctx context.Context, criteria []*Criterion, results []domain.ToolResult) map[string]string {
	descriptions := make([]string, 0, len(criteria))
	for _, c := range criteria {
		descriptions = append(descriptions, c.Description)
	}
	criteriaJSON, _ := json.Marshal(descriptions)

	var evidence strings.Builder
	for _, r := range results {
		output := r.Output
		if len(output) > 500 {
			output = output[:500]
		}
		fmt.Fprintf(&evidence, "- %s (success=%t): %s\n", r.ToolName, r.Success, output)
	}
	if evidence.Len() == 0 {
		evidence.WriteString("(no tools were executed)")
	}

	resp, err := pl.model.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{{
			Role:    domain.RoleUser,
			Content: fmt.Sprintf(verifyPrompt, criteriaJSON, evidence.String()),
		}},
		MaxTokens:   500,
		Temperature: 0,
	})
	if err != nil {
		pl.logger.Warn("criteria verification failed", "error", err)
		return nil
	}
	return parseStringMap(resp.Content)
}

// Summary formats failed criteria for the user. When everything passed it
// returns an empty string, adding no noise to the response.
func Summary(criteria []*Criterion) string {
	if len(criteria) == 0 {
		return ""
	}

	allPassed := true
	var lines []string
	for _, c := range criteria {
		icon := "+"
		if c.Status != StatusSatisfied {
			icon = "-"
			allPassed = false
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", icon, c.Description))
	}
	if allPassed {
		return ""
	}
	return "Verification:\n" + strings.Join(lines, "\n")
}
