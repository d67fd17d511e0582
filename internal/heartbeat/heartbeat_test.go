package heartbeat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"aide/internal/channel"
	"aide/internal/domain"
	"aide/internal/memory"
	"aide/internal/source"
)

type scriptedModel struct {
	responses []string
	calls     int
	requests  []domain.ChatRequest
}

func (m *scriptedModel) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.requests = append(m.requests, req)
	if m.calls >= len(m.responses) {
		return nil, errors.New("scripted model exhausted")
	}
	content := m.responses[m.calls]
	m.calls++
	return &domain.ChatResponse{Content: content, FinishReason: "stop"}, nil
}

func (m *scriptedModel) Name() string { return "scripted" }

type fakeAdapter struct {
	name  string
	sends atomic.Int64
	last  atomic.Value
}

func (a *fakeAdapter) Name() string                                       { return a.name }
func (a *fakeAdapter) Configured() bool                                   { return true }
func (a *fakeAdapter) Start(_ context.Context, _ domain.MessageBus) error { return nil }
func (a *fakeAdapter) Stop() error                                        { return nil }

func (a *fakeAdapter) Send(_ context.Context, _, text string) error {
	a.sends.Add(1)
	a.last.Store(text)
	return nil
}

type staticSource struct {
	name string
	text string
	err  error
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Snapshot(_ context.Context) (string, error) {
	return s.text, s.err
}

func testHeartbeat(t *testing.T, model domain.Model, sources []source.Source) (*Heartbeat, *fakeAdapter) {
	t.Helper()

	store, err := memory.Open(filepath.Join(t.TempDir(), "aide.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	adapter := &fakeAdapter{name: "telegram"}
	router := channel.NewRouter([]string{"telegram"}, nil)
	if err := router.Register(adapter); err != nil {
		t.Fatalf("register adapter: %v", err)
	}

	quiet, err := ParseQuietHours("22:00", "07:00", "UTC")
	if err != nil {
		t.Fatalf("parse quiet hours: %v", err)
	}

	cfg := Config{
		Interval:             30 * time.Minute,
		DedupWindow:          24 * time.Hour,
		MaxNotificationChars: 1200,
		Quiet:                quiet,
		Checklist:            []string{"anything on the calendar in the next hour"},
		Preferred:            "telegram",
		Recipient:            "100",
	}
	return New(cfg, model, store, sources, router, nil, nil), adapter
}

func atNoon(h *Heartbeat) {
	h.now = func() time.Time {
		return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	}
}

func TestTickDeliversBundledAlert(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`[{"severity": "warning", "summary": "Meeting with Dana starts in 20 minutes"},
		  {"severity": "info", "summary": "Two unread messages from yesterday"}]`,
	}}
	src := &staticSource{name: "calendar", text: "10:20 Meeting with Dana"}
	h, adapter := testHeartbeat(t, model, []source.Source{src})
	atNoon(h)

	if err := h.Tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got := adapter.sends.Load(); got != 1 {
		t.Fatalf("expected one bundled delivery, got %d", got)
	}

	text := adapter.last.Load().(string)
	if !strings.Contains(text, "Meeting with Dana") || !strings.Contains(text, "unread messages") {
		t.Fatalf("bundle missing alerts: %q", text)
	}
	if strings.Index(text, "Meeting with Dana") > strings.Index(text, "unread messages") {
		t.Fatalf("expected most severe alert first: %q", text)
	}
	if len(model.requests) != 1 || !strings.Contains(model.requests[0].Messages[0].Content, "10:20 Meeting with Dana") {
		t.Fatal("expected source snapshot in the evaluation prompt")
	}
}

func TestTickDedupIdempotence(t *testing.T) {
	alert := `[{"severity": "warning", "summary": "Meeting with Dana starts in 20 minutes"}]`
	model := &scriptedModel{responses: []string{alert, alert}}
	h, adapter := testHeartbeat(t, model, nil)
	atNoon(h)

	for i := 0; i < 2; i++ {
		if err := h.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
	}
	if got := adapter.sends.Load(); got != 1 {
		t.Fatalf("expected exactly one delivery across two identical ticks, got %d", got)
	}
}

func TestTickSeverityEscalationOverridesDedup(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`[{"severity": "info", "summary": "Disk usage at 85 percent"}]`,
		`[{"severity": "urgent", "summary": "Disk usage at 85 percent"}]`,
	}}
	h, adapter := testHeartbeat(t, model, nil)
	atNoon(h)

	for i := 0; i < 2; i++ {
		if err := h.Tick(context.Background()); err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
	}
	if got := adapter.sends.Load(); got != 2 {
		t.Fatalf("expected escalated alert to be re-delivered, got %d sends", got)
	}
}

func TestTickQuietHoursSuppression(t *testing.T) {
	times := []struct {
		hour, minute int
		delivered    bool
	}{
		{23, 30, false},
		{6, 30, false},
		{12, 0, true},
	}

	for _, tc := range times {
		model := &scriptedModel{responses: []string{
			`[{"severity": "warning", "summary": "Meeting with Dana starts in 20 minutes"}]`,
		}}
		h, adapter := testHeartbeat(t, model, nil)
		h.now = func() time.Time {
			return time.Date(2026, 3, 10, tc.hour, tc.minute, 0, 0, time.UTC)
		}

		if err := h.Tick(context.Background()); err != nil {
			t.Fatalf("tick at %02d:%02d failed: %v", tc.hour, tc.minute, err)
		}
		want := int64(0)
		if tc.delivered {
			want = 1
		}
		if got := adapter.sends.Load(); got != want {
			t.Fatalf("tick at %02d:%02d: expected %d deliveries, got %d", tc.hour, tc.minute, want, got)
		}
	}
}

func TestTickUrgentBypassesQuietHours(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`[{"severity": "urgent", "summary": "Smoke sensor in the kitchen triggered"}]`,
	}}
	h, adapter := testHeartbeat(t, model, nil)
	h.now = func() time.Time {
		return time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	}

	if err := h.Tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got := adapter.sends.Load(); got != 1 {
		t.Fatalf("expected urgent alert delivered during quiet hours, got %d", got)
	}
}

func TestTickMisfireSkipped(t *testing.T) {
	model := &scriptedModel{responses: []string{okSentinel}}
	h, adapter := testHeartbeat(t, model, nil)
	h.cfg.MisfireGrace = 5 * time.Minute

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return base }
	if err := h.Tick(context.Background()); err != nil {
		t.Fatalf("first tick failed: %v", err)
	}
	if model.calls != 1 {
		t.Fatalf("expected first tick to evaluate, got %d calls", model.calls)
	}

	// Fires two hours past its slot, well beyond the grace period.
	h.now = func() time.Time { return base.Add(2 * time.Hour) }
	if err := h.Tick(context.Background()); err != nil {
		t.Fatalf("misfired tick errored: %v", err)
	}
	if model.calls != 1 {
		t.Fatalf("expected misfired tick to skip evaluation, got %d calls", model.calls)
	}
	if got := adapter.sends.Load(); got != 0 {
		t.Fatalf("expected no deliveries, got %d", got)
	}
}

func TestTickToleratesFailingSource(t *testing.T) {
	model := &scriptedModel{responses: []string{okSentinel}}
	sources := []source.Source{
		&staticSource{name: "calendar", err: errors.New("upstream down")},
		&staticSource{name: "tasks", text: "nothing due today"},
	}
	h, adapter := testHeartbeat(t, model, sources)
	atNoon(h)

	if err := h.Tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got := adapter.sends.Load(); got != 0 {
		t.Fatalf("expected no delivery for the ok sentinel, got %d", got)
	}
	if !strings.Contains(model.requests[0].Messages[0].Content, "nothing due today") {
		t.Fatal("expected surviving source snapshot in the prompt")
	}
}

func TestParseAlerts(t *testing.T) {
	now := time.Now().UTC()

	alerts := parseAlerts("```json\n[{\"severity\": \"WARNING\", \"summary\": \"  Rent is due tomorrow \"}]\n```", now)
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if alerts[0].Severity != domain.SeverityWarning {
		t.Fatalf("expected warning, got %s", alerts[0].Severity)
	}
	if alerts[0].Summary != "Rent is due tomorrow" {
		t.Fatalf("expected trimmed summary, got %q", alerts[0].Summary)
	}
	if alerts[0].Fingerprint == "" {
		t.Fatal("expected a fingerprint")
	}

	if got := parseAlerts("total garbage", now); got != nil {
		t.Fatalf("expected nil for garbage, got %v", got)
	}
	if got := parseAlerts(`[{"severity": "info", "summary": "   "}]`, now); len(got) != 0 {
		t.Fatalf("expected blank summaries dropped, got %v", got)
	}

	alerts = parseAlerts(`Here is what I found: [{"severity": "made-up", "summary": "x y z"}]`, now)
	if len(alerts) != 1 || alerts[0].Severity != domain.SeverityInfo {
		t.Fatal("expected unknown severity to default to info")
	}
}

func TestFingerprintNormalization(t *testing.T) {
	a := Fingerprint("Rent is   due tomorrow")
	b := Fingerprint("rent is due Tomorrow")
	if a != b {
		t.Fatal("expected case and whitespace insensitive fingerprints")
	}
	if a == Fingerprint("rent was paid") {
		t.Fatal("expected distinct summaries to differ")
	}
}

func TestQuietHoursOvernightWindow(t *testing.T) {
	quiet, err := ParseQuietHours("22:00", "07:00", "UTC")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	at := func(hour, minute int) time.Time {
		return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
	}
	if !quiet.Contains(at(23, 30)) {
		t.Fatal("23:30 should be inside the overnight window")
	}
	if !quiet.Contains(at(6, 30)) {
		t.Fatal("06:30 should be inside the overnight window")
	}
	if quiet.Contains(at(12, 0)) {
		t.Fatal("12:00 should be outside the overnight window")
	}
	if quiet.Contains(at(7, 0)) {
		t.Fatal("the end bound is exclusive")
	}
	if !quiet.Contains(at(22, 0)) {
		t.Fatal("the start bound is inclusive")
	}

	disabled, err := ParseQuietHours("", "", "")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if disabled.Contains(at(23, 30)) {
		t.Fatal("empty bounds disable the window")
	}

	if _, err := ParseQuietHours("25:00", "07:00", "UTC"); err == nil {
		t.Fatal("expected error for a malformed bound")
	}
}
