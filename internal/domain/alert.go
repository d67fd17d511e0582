package domain

import "time"

// Severity orders proactive alerts. Urgent alerts bypass quiet hours.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityUrgent  Severity = "urgent"
)

// Rank returns a comparable weight; unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityUrgent:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// Alert is a candidate or delivered proactive notification. Fingerprint is a
// hash of the normalized summary used for deduplication: an alert whose
// fingerprint was delivered within the dedup window is suppressed unless its
// severity increased.
type Alert struct {
	ID          string
	Fingerprint string
	Severity    Severity
	Summary     string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}
