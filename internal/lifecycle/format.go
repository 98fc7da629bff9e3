package lifecycle

import "fmt"

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * secondsPerMinute
	secondsPerDay    = 24 * secondsPerHour
)

// ClockDisplay is the digital-clock breakdown of a remaining duration.
type ClockDisplay struct {
	Days    int64 `json:"days"`
	Hours   int64 `json:"hours"`
	Minutes int64 `json:"minutes"`
	Seconds int64 `json:"seconds"`
}

// SplitSeconds breaks a non-negative number of seconds into days, hours,
// minutes and seconds.
func SplitSeconds(remaining int64) ClockDisplay {
	if remaining < 0 {
		remaining = 0
	}
	return ClockDisplay{
		Days:    remaining / secondsPerDay,
		Hours:   (remaining % secondsPerDay) / secondsPerHour,
		Minutes: (remaining % secondsPerHour) / secondsPerMinute,
		Seconds: remaining % secondsPerMinute,
	}
}

// FormatCountdown renders remaining seconds as "Dd Hh Mm", "Hh Mm Ss",
// "Mm Ss" or "Ss" depending on magnitude.
func FormatCountdown(remaining int64) string {
	c := SplitSeconds(remaining)
	switch {
	case c.Days > 0:
		return fmt.Sprintf("%dd %dh %dm", c.Days, c.Hours, c.Minutes)
	case c.Hours > 0:
		return fmt.Sprintf("%dh %dm %ds", c.Hours, c.Minutes, c.Seconds)
	case c.Minutes > 0:
		return fmt.Sprintf("%dm %ds", c.Minutes, c.Seconds)
	default:
		return fmt.Sprintf("%ds", c.Seconds)
	}
}

// minutesOnly folds days and hours into minutes, used for the time left in
// a session that is at most an hour long.
func minutesOnly(remaining int64) ClockDisplay {
	if remaining < 0 {
		remaining = 0
	}
	return ClockDisplay{
		Minutes: remaining / secondsPerMinute,
		Seconds: remaining % secondsPerMinute,
	}
}

func formatMinutesOnly(remaining int64) string {
	c := minutesOnly(remaining)
	if c.Minutes > 0 {
		return fmt.Sprintf("%dm %ds", c.Minutes, c.Seconds)
	}
	return fmt.Sprintf("%ds", c.Seconds)
}

// FormatMentoringTime renders a total number of minutes as "2h 30m" or "45 mins".
func FormatMentoringTime(totalMinutes int) string {
	if totalMinutes < 0 {
		totalMinutes = 0
	}
	hours := totalMinutes / 60
	mins := totalMinutes % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%d mins", mins)
}
