package business

import (
	"fmt"
	"time"
)

// Location resolves the profile timezone, falling back to fallbackTZ and
// finally UTC when neither names a known zone.
func (p Profile) Location(fallbackTZ string) *time.Location {
	for _, name := range []string{p.Timezone, fallbackTZ} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

// IsOpen reports whether the business is open at t, evaluated in loc.
// A nil Hours window means always open. Windows that close before they open
// (e.g. 22:00-02:00) wrap past midnight.
func (h *Hours) IsOpen(t time.Time, loc *time.Location) (bool, error) {
	if h == nil {
		return true, nil
	}
	open, err := parseClock(h.Open)
	if err != nil {
		return false, fmt.Errorf("parsing open time: %w", err)
	}
	closeAt, err := parseClock(h.Close)
	if err != nil {
		return false, fmt.Errorf("parsing close time: %w", err)
	}

	local := t.In(loc)
	if len(h.Days) > 0 && !containsDay(h.Days, local.Weekday()) {
		return false, nil
	}

	now := local.Hour()*60 + local.Minute()
	if open <= closeAt {
		return now >= open && now < closeAt, nil
	}
	return now >= open || now < closeAt, nil
}

// String renders the window for prompts, e.g. "09:00-17:00 Mon-Fri".
func (h *Hours) String() string {
	if h == nil {
		return "always open"
	}
	s := h.Open + "-" + h.Close
	if len(h.Days) > 0 {
		s += " on"
		for _, d := range h.Days {
			s += " " + d.String()[:3]
		}
	}
	return s
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func containsDay(days []time.Weekday, d time.Weekday) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}
