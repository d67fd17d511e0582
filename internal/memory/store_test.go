package memory

import (
	"context"
	"testing"
	"time"

	"aide/internal/domain"
)

func TestAlertLogLastDelivered(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	got, err := s.LastDelivered(ctx, "fp-1")
	if err != nil {
		t.Fatalf("last delivered: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for unknown fingerprint")
	}

	earlier := time.Now().Add(-2 * time.Hour).UTC()
	later := time.Now().Add(-10 * time.Minute).UTC()
	for _, at := range []time.Time{earlier, later} {
		at := at
		if err := s.RecordAlert(ctx, &domain.Alert{
			Fingerprint: "fp-1",
			Severity:    domain.SeverityInfo,
			Summary:     "package shipped",
			DeliveredAt: &at,
		}); err != nil {
			t.Fatalf("record alert: %v", err)
		}
	}

	got, err = s.LastDelivered(ctx, "fp-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.DeliveredAt == nil {
		t.Fatal("expected a delivered alert")
	}
	if !got.DeliveredAt.Equal(later) {
		t.Fatalf("expected most recent delivery, got %v", got.DeliveredAt)
	}
}

func TestPruneAlerts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := time.Now().Add(-72 * time.Hour).UTC()
	if err := s.RecordAlert(ctx, &domain.Alert{
		Fingerprint: "fp-old",
		Severity:    domain.SeverityInfo,
		Summary:     "stale",
		CreatedAt:   old,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordAlert(ctx, &domain.Alert{
		Fingerprint: "fp-new",
		Severity:    domain.SeverityInfo,
		Summary:     "fresh",
	}); err != nil {
		t.Fatal(err)
	}

	pruned, err := s.PruneAlerts(ctx, 48*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned alert, got %d", pruned)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	val, err := s.GetSetting(ctx, "lastTick", "never")
	if err != nil {
		t.Fatal(err)
	}
	if val != "never" {
		t.Fatalf("expected fallback, got %q", val)
	}

	if err := s.SetSetting(ctx, "lastTick", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting(ctx, "lastTick", "2026-02-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}

	val, err = s.GetSetting(ctx, "lastTick", "never")
	if err != nil {
		t.Fatal(err)
	}
	if val != "2026-02-01T00:00:00Z" {
		t.Fatalf("expected upserted value, got %q", val)
	}
}
