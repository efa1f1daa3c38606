package domain

import (
	"strconv"
	"strings"
	"time"
)

// Schedule restricts when a rule is enforced: a set of weekdays plus a
// start/end time-of-day window. Days uses time.Weekday numbering (0=Sunday).
// Windows cannot span midnight; the validator enforces start < end.
type Schedule struct {
	Days      []int  `json:"days"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// ActiveAt reports whether the schedule is satisfied at the given local
// time. The window is start-inclusive and end-exclusive, so a 09:00-17:00
// rule is active at 09:00 and 16:59 but not at 17:00.
func (s Schedule) ActiveAt(t time.Time) bool {
	day := int(t.Weekday())
	found := false
	for _, d := range s.Days {
		if d == day {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	now := t.Hour()*60 + t.Minute()
	start := minutesOfDay(s.StartTime)
	end := minutesOfDay(s.EndTime)
	return now >= start && now < end
}

// minutesOfDay converts "HH:MM" to minutes since midnight. Inputs reach
// here already validated; malformed strings collapse to 0.
func minutesOfDay(hhmm string) int {
	h, m, ok := strings.Cut(hhmm, ":")
	if !ok {
		return 0
	}
	hours, err := strconv.Atoi(h)
	if err != nil {
		return 0
	}
	minutes, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return hours*60 + minutes
}
