package planner

import (
	"time"

	"relaycore/internal/models"
)

// inDoNotDisturbWindow reports whether now (evaluated in prefs.TimeZone)
// falls inside the configured DND window, inclusive of both bounds. A
// window where start > end spans midnight (e.g. 22:00:00-06:00:00), the
// overnight case spec §8 scenario S4 exercises.
func inDoNotDisturbWindow(prefs *models.UserPreferences, now time.Time) (bool, error) {
	if prefs.DoNotDisturbStart == nil || prefs.DoNotDisturbEnd == nil {
		return false, nil
	}
	loc, err := time.LoadLocation(prefs.TimeZone)
	if err != nil {
		return false, err
	}
	start, err := parseTimeOfDay(*prefs.DoNotDisturbStart)
	if err != nil {
		return false, err
	}
	end, err := parseTimeOfDay(*prefs.DoNotDisturbEnd)
	if err != nil {
		return false, err
	}
	current := timeOfDay(now.In(loc))

	if start <= end {
		return current >= start && current <= end, nil
	}
	// Overnight window: e.g. 22:00:00-06:00:00.
	return current >= start || current <= end, nil
}

// timeOfDay returns the duration elapsed since local midnight.
func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

func parseTimeOfDay(s string) (time.Duration, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return 0, err
	}
	return timeOfDay(t), nil
}
