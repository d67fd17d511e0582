package heartbeat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuietHours is a time-of-day window during which proactive delivery is
// suppressed for everything below urgent severity. The window may wrap
// midnight (start 22:00, end 07:00 covers the overnight span).
type QuietHours struct {
	startMin int // minutes after midnight
	endMin   int
	loc      *time.Location
	enabled  bool
}

// ParseQuietHours builds a window from "HH:MM" bounds. Empty bounds
// disable the window entirely. An empty timezone means local time.
func ParseQuietHours(start, end, timezone string) (QuietHours, error) {
	if start == "" || end == "" {
		return QuietHours{}, nil
	}

	loc := time.Local
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return QuietHours{}, fmt.Errorf("quiet hours timezone: %w", err)
		}
	}

	startMin, err := parseTimeOfDay(start)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours start: %w", err)
	}
	endMin, err := parseTimeOfDay(end)
	if err != nil {
		return QuietHours{}, fmt.Errorf("quiet hours end: %w", err)
	}

	return QuietHours{startMin: startMin, endMin: endMin, loc: loc, enabled: true}, nil
}

func parseTimeOfDay(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed time of day %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("malformed hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("malformed minute in %q", s)
	}
	return hour*60 + minute, nil
}

// Contains reports whether t falls inside the window. A window whose end
// precedes its start is treated as overnight: it covers start..midnight
// and midnight..end.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.enabled {
		return false
	}

	local := t.In(q.loc)
	now := local.Hour()*60 + local.Minute()

	if q.startMin <= q.endMin {
		return now >= q.startMin && now < q.endMin
	}
	return now >= q.startMin || now < q.endMin
}
