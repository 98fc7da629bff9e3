package lifecycle

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/mentorlink/session-server/internal/errors"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Normalize turns a stored (sessionDate, sessionTime) pair into an absolute
// instant in loc. sessionDate may carry a time component (ISO datetime),
// which is discarded. sessionTime may be 24-hour HH:MM[:SS] or 12-hour
// h:MM[:SS] AM/PM.
func Normalize(sessionDate, sessionTime string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	dateStr := strings.TrimSpace(sessionDate)
	timeStr := strings.TrimSpace(sessionTime)
	if dateStr == "" || timeStr == "" {
		return time.Time{}, apperrors.MissingSessionData()
	}

	day, err := parseDate(dateStr)
	if err != nil {
		return time.Time{}, err
	}

	hour, minute, second, err := parseClock(timeStr)
	if err != nil {
		return time.Time{}, err
	}

	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, second, 0, loc), nil
}

// CanonicalDate renders sessionDate in the stored YYYY-MM-DD form.
func CanonicalDate(sessionDate string) (string, error) {
	day, err := parseDate(strings.TrimSpace(sessionDate))
	if err != nil {
		return "", err
	}
	return day.Format(DateLayout), nil
}

// CanonicalTime renders sessionTime in the stored 24-hour HH:MM:SS form.
func CanonicalTime(sessionTime string) (string, error) {
	hour, minute, second, err := parseClock(strings.TrimSpace(sessionTime))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d:%02d", hour, minute, second), nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, apperrors.MissingSessionData()
	}
	if i := strings.IndexAny(s, "T "); i >= 0 {
		s = s[:i]
	}
	day, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, apperrors.InvalidSessionTime(fmt.Sprintf("unrecognised date %q", s))
	}
	return day, nil
}

func parseClock(s string) (hour, minute, second int, err error) {
	if s == "" {
		return 0, 0, 0, apperrors.MissingSessionData()
	}

	meridiem := ""
	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, "AM") || strings.HasSuffix(upper, "PM") {
		meridiem = upper[len(upper)-2:]
		s = strings.TrimSpace(s[:len(s)-2])
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, apperrors.InvalidSessionTime(fmt.Sprintf("unrecognised time %q", s))
	}

	fields := make([]int, 3)
	for i, p := range parts {
		if p == "" || len(p) > 2 || strings.IndexFunc(p, notDigit) >= 0 {
			return 0, 0, 0, apperrors.InvalidSessionTime(fmt.Sprintf("unrecognised time %q", s))
		}
		n, convErr := strconv.Atoi(p)
		if convErr != nil {
			return 0, 0, 0, apperrors.InvalidSessionTime(fmt.Sprintf("unrecognised time %q", s))
		}
		fields[i] = n
	}
	hour, minute, second = fields[0], fields[1], fields[2]

	if meridiem != "" {
		if hour < 1 || hour > 12 {
			return 0, 0, 0, apperrors.InvalidSessionTime(fmt.Sprintf("hour %d out of range for 12-hour time", hour))
		}
		switch {
		case meridiem == "PM" && hour != 12:
			hour += 12
		case meridiem == "AM" && hour == 12:
			hour = 0
		}
	}

	if hour > 23 || minute > 59 || second > 59 {
		return 0, 0, 0, apperrors.InvalidSessionTime(fmt.Sprintf("time %q out of range", s))
	}
	return hour, minute, second, nil
}

func notDigit(r rune) bool { return r < '0' || r > '9' }
