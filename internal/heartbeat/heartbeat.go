// Package heartbeat runs the proactive tick: gather read-only context,
// ask the model whether anything is notify-worthy, deduplicate against
// recently delivered alerts, and push at most one bundled notification
// per tick through the channel router.
package heartbeat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"aide/internal/channel"
	"aide/internal/domain"
	"aide/internal/memory"
	"aide/internal/source"
)

const evalSystemPrompt = `You are the proactive monitor of a personal assistant.
You receive context snapshots and a checklist. Decide whether anything is worth
proactively notifying the user about right now.

If nothing is actionable, reply with exactly: HEARTBEAT_OK

Otherwise reply with a JSON array of alerts, each:
{"severity": "info" | "warning" | "urgent", "summary": "<one sentence>"}

Only report genuinely notify-worthy items. Never invent facts that are not in
the snapshots.`

// okSentinel is the model's "nothing actionable" answer.
const okSentinel = "HEARTBEAT_OK"

const alertRetention = 72 * time.Hour

// Config carries the tick parameters. Recipient is the identifier the
// preferred channel delivers to (a chat ID, a Slack channel).
type Config struct {
	Interval             time.Duration
	MisfireGrace         time.Duration
	Quiet                QuietHours
	DedupWindow          time.Duration
	MaxNotificationChars int
	Checklist            []string
	Preferred            string
	Recipient            string
}

// Heartbeat owns the proactive schedule. Sources are read-only and each
// one fails independently; a failing source never aborts a tick.
type Heartbeat struct {
	cfg     Config
	model   domain.Model
	store   *memory.Store
	sources []source.Source
	router  *channel.Router
	bus     domain.MessageBus
	logger  *slog.Logger

	cron     *cron.Cron
	lastTick time.Time
	now      func() time.Time
}

func New(cfg Config, model domain.Model, store *memory.Store, sources []source.Source, router *channel.Router, bus domain.MessageBus, logger *slog.Logger) *Heartbeat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		cfg:     cfg,
		model:   model,
		store:   store,
		sources: sources,
		router:  router,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

// Start schedules the tick at the configured interval. A tick that is
// still running when the next one fires is not stacked.
func (h *Heartbeat) Start(ctx context.Context) error {
	h.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	spec := fmt.Sprintf("@every %s", h.cfg.Interval)
	_, err := h.cron.AddFunc(spec, func() {
		if err := h.Tick(ctx); err != nil {
			h.logger.Error("heartbeat tick failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule heartbeat: %w", err)
	}

	h.lastTick = h.now()
	h.cron.Start()
	h.logger.Info("heartbeat started", "interval", h.cfg.Interval)
	return nil
}

// Stop halts the schedule and waits briefly for a running tick.
func (h *Heartbeat) Stop() {
	if h.cron == nil {
		return
	}
	done := h.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(10 * time.Second):
		h.logger.Warn("heartbeat stop timed out")
	}
}

// Tick runs one heartbeat pass. Re-running it with unchanged context
// within the dedup window produces no additional delivery.
func (h *Heartbeat) Tick(ctx context.Context) error {
	now := h.now()

	// A tick firing far past its slot (process suspended, host asleep)
	// is discarded rather than run against stale timing assumptions.
	if !h.lastTick.IsZero() && h.cfg.MisfireGrace > 0 {
		if late := now.Sub(h.lastTick) - h.cfg.Interval; late > h.cfg.MisfireGrace {
			h.lastTick = now
			h.logger.Warn("heartbeat misfire, skipping tick", "behind", late)
			h.emit("tick_skipped", map[string]string{"behind": late.String()})
			return nil
		}
	}
	h.lastTick = now

	quiet := h.cfg.Quiet.Contains(now)
	h.emit("tick", map[string]string{"quiet": fmt.Sprintf("%t", quiet)})

	snapshots := h.gather(ctx)
	if len(snapshots) == 0 && len(h.cfg.Checklist) == 0 {
		return nil
	}

	candidates, err := h.evaluate(ctx, snapshots)
	if err != nil {
		return fmt.Errorf("heartbeat evaluate: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	var deliverable []*domain.Alert
	for _, alert := range candidates {
		if quiet && alert.Severity != domain.SeverityUrgent {
			h.logger.Debug("alert held for quiet hours", "summary", alert.Summary)
			continue
		}
		suppress, err := h.suppressed(ctx, alert, now)
		if err != nil {
			return err
		}
		if suppress {
			h.emit("alert_suppressed", map[string]string{"fingerprint": alert.Fingerprint})
			continue
		}
		deliverable = append(deliverable, alert)
	}
	if len(deliverable) == 0 {
		return nil
	}

	text := h.bundle(deliverable)
	delivery, err := h.router.SendToPreferred(ctx, h.cfg.Preferred, h.cfg.Recipient, text)
	if err != nil {
		return fmt.Errorf("heartbeat delivery: %w", err)
	}

	for _, alert := range deliverable {
		delivered := now
		alert.DeliveredAt = &delivered
		if err := h.store.RecordAlert(ctx, alert); err != nil {
			h.logger.Error("failed to record delivered alert", "err", err)
		}
	}
	if _, err := h.store.PruneAlerts(ctx, alertRetention); err != nil {
		h.logger.Warn("alert prune failed", "err", err)
	}

	h.emit("alerts_delivered", map[string]string{
		"count":    fmt.Sprintf("%d", len(deliverable)),
		"channel":  delivery.Channel,
		"fallback": fmt.Sprintf("%t", delivery.Fallback),
	})
	return nil
}

// gather collects one snapshot per source. Failures are tolerated per
// source and logged.
func (h *Heartbeat) gather(ctx context.Context) map[string]string {
	snapshots := make(map[string]string, len(h.sources))
	for _, src := range h.sources {
		snap, err := src.Snapshot(ctx)
		if err != nil {
			h.logger.Warn("context source failed", "source", src.Name(), "err", err)
			continue
		}
		if strings.TrimSpace(snap) == "" {
			continue
		}
		snapshots[src.Name()] = snap
	}
	return snapshots
}

func (h *Heartbeat) evaluate(ctx context.Context, snapshots map[string]string) ([]*domain.Alert, error) {
	var sb strings.Builder
	sb.WriteString("Checklist:\n")
	for _, item := range h.cfg.Checklist {
		fmt.Fprintf(&sb, "- %s\n", item)
	}
	sb.WriteString("\nContext snapshots:\n")
	if len(snapshots) == 0 {
		sb.WriteString("(no sources reported anything)\n")
	}
	for name, snap := range snapshots {
		fmt.Fprintf(&sb, "## %s\n%s\n\n", name, snap)
	}

	resp, err := h.model.Chat(ctx, domain.ChatRequest{
		System:   evalSystemPrompt,
		Messages: []domain.Message{{Role: domain.RoleUser, Content: sb.String()}},
	})
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" || strings.Contains(content, okSentinel) {
		return nil, nil
	}
	return parseAlerts(content, h.now().UTC()), nil
}

// suppressed reports whether the alert's fingerprint was delivered within
// the dedup window. A severity increase since the prior delivery
// overrides suppression.
func (h *Heartbeat) suppressed(ctx context.Context, alert *domain.Alert, now time.Time) (bool, error) {
	prev, err := h.store.LastDelivered(ctx, alert.Fingerprint)
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	if prev == nil || prev.DeliveredAt == nil {
		return false, nil
	}
	if now.Sub(*prev.DeliveredAt) >= h.cfg.DedupWindow {
		return false, nil
	}
	return alert.Severity.Rank() <= prev.Severity.Rank(), nil
}

// bundle merges alerts into one notification, most severe first.
func (h *Heartbeat) bundle(alerts []*domain.Alert) string {
	sorted := make([]*domain.Alert, len(alerts))
	copy(sorted, alerts)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Severity.Rank() > sorted[j-1].Severity.Rank(); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var sb strings.Builder
	sb.WriteString("Heads up:\n")
	for _, alert := range sorted {
		fmt.Fprintf(&sb, "- [%s] %s\n", alert.Severity, alert.Summary)
	}

	text := strings.TrimSpace(sb.String())
	if max := h.cfg.MaxNotificationChars; max > 0 {
		if runes := []rune(text); len(runes) > max {
			text = string(runes[:max])
		}
	}
	return text
}

func (h *Heartbeat) emit(name string, fields map[string]string) {
	if h.bus == nil {
		return
	}
	h.bus.Emit(domain.Event{Category: domain.EventHeartbeat, Name: name, Fields: fields})
}

type rawAlert struct {
	Severity string `json:"severity"`
	Summary  string `json:"summary"`
}

// parseAlerts decodes the model's alert array. Code fences and prose
// around the array are tolerated; entries without a summary are dropped.
func parseAlerts(content string, createdAt time.Time) []*domain.Alert {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var raw []rawAlert
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil
	}

	alerts := make([]*domain.Alert, 0, len(raw))
	for _, r := range raw {
		summary := strings.TrimSpace(r.Summary)
		if summary == "" {
			continue
		}
		severity := domain.Severity(strings.ToLower(strings.TrimSpace(r.Severity)))
		if severity.Rank() == 0 {
			severity = domain.SeverityInfo
		}
		alerts = append(alerts, &domain.Alert{
			Fingerprint: Fingerprint(summary),
			Severity:    severity,
			Summary:     summary,
			CreatedAt:   createdAt,
		})
	}
	return alerts
}

// Fingerprint hashes the normalized alert summary. Case and whitespace
// differences produce the same fingerprint.
func Fingerprint(summary string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(summary), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}
