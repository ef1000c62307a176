package util

import (
	"fmt"
	"time"
)

// Window is a daily HH:MM time range. Either bound may be empty; an empty
// window always contains now. A window whose end is before its start wraps
// past midnight.
type Window struct {
	Start    string
	End      string
	Location *time.Location

	start, end int // minutes since midnight, -1 when unset
}

// ParseWindow validates the bounds and the timezone name.
func ParseWindow(start, end, tz string) (Window, error) {
	w := Window{Start: start, End: end, Location: time.Local, start: -1, end: -1}
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Window{}, fmt.Errorf("invalid timezone: %w", err)
		}
		w.Location = loc
	}
	var err error
	if w.start, err = clockMinutes(start); err != nil {
		return Window{}, fmt.Errorf("invalid window start: %w", err)
	}
	if w.end, err = clockMinutes(end); err != nil {
		return Window{}, fmt.Errorf("invalid window end: %w", err)
	}
	return w, nil
}

// Contains reports whether now falls inside the window, to minute precision.
func (w Window) Contains(now time.Time) bool {
	if w.start < 0 && w.end < 0 {
		return true
	}
	loc := w.Location
	if loc == nil {
		loc = now.Location()
	}
	local := now.In(loc)
	current := local.Hour()*60 + local.Minute()
	switch {
	case w.end < 0:
		return current >= w.start
	case w.start < 0:
		return current <= w.end
	case w.end >= w.start:
		return current >= w.start && current <= w.end
	default:
		return current >= w.start || current <= w.end
	}
}

// InWindow is ParseWindow followed by Contains.
func InWindow(now time.Time, start, end, tz string) (bool, error) {
	w, err := ParseWindow(start, end, tz)
	if err != nil {
		return false, err
	}
	return w.Contains(now), nil
}

func clockMinutes(v string) (int, error) {
	if v == "" {
		return -1, nil
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
