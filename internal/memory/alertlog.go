package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"aide/internal/domain"
)

// RecordAlert stores a delivered alert so later ticks can deduplicate
// against it.
func (s *Store) RecordAlert(ctx context.Context, alert *domain.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	var delivered any
	if alert.DeliveredAt != nil {
		delivered = alert.DeliveredAt.UnixNano()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, fingerprint, severity, summary, created_at, delivered_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.Fingerprint, alert.Severity, alert.Summary,
		alert.CreatedAt.UnixNano(), delivered)
	if err != nil {
		return fmt.Errorf("record alert: %w", err)
	}
	return nil
}

// LastDelivered returns the most recently delivered alert with the given
// fingerprint, or nil when none exists.
func (s *Store) LastDelivered(ctx context.Context, fingerprint string) (*domain.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, severity, summary, created_at, delivered_at
		 FROM alerts
		 WHERE fingerprint = ? AND delivered_at IS NOT NULL
		 ORDER BY delivered_at DESC LIMIT 1`, fingerprint)

	var (
		alert     domain.Alert
		created   int64
		delivered sql.NullInt64
	)
	err := row.Scan(&alert.ID, &alert.Fingerprint, &alert.Severity, &alert.Summary, &created, &delivered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last delivered alert: %w", err)
	}

	alert.CreatedAt = time.Unix(0, created).UTC()
	if delivered.Valid {
		at := time.Unix(0, delivered.Int64).UTC()
		alert.DeliveredAt = &at
	}
	return &alert, nil
}

// PruneAlerts removes alert records older than the retention window.
func (s *Store) PruneAlerts(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune alerts: %w", err)
	}
	return res.RowsAffected()
}
