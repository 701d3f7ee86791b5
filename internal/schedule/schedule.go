// Package schedule evaluates raffle recurrence rules. It is pure: parsing,
// formatting and due-checks share no state and touch no clock, so the poll
// loop can be driven with any instant.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimezoneDefault is used when a chat has no timezone configured or its
// configured zone name cannot be resolved.
const TimezoneDefault = "Europe/Kyiv"

// Kind tags the schedule variant.
type Kind int

const (
	Off Kind = iota
	Daily
	Weekdays
	Weekly
	Every
)

// Spec is a parsed recurrence rule. A Spec is either fully valid or was
// never produced: Parse rejects anything partially formed.
type Spec struct {
	Kind   Kind
	Day    string // weekly only: mon..sun
	Hour   int
	Minute int
	N      int    // every only: interval count, >= 1
	Unit   string // every only: "h" or "d"
}

var (
	dailyRe    = regexp.MustCompile(`^daily\s+(\d{1,2}):(\d{2})$`)
	weekdaysRe = regexp.MustCompile(`^weekdays\s+(\d{1,2}):(\d{2})$`)
	weeklyRe   = regexp.MustCompile(`^weekly\s+(mon|tue|wed|thu|fri|sat|sun)\s+(\d{1,2}):(\d{2})$`)
	everyRe    = regexp.MustCompile(`^every\s+(\d+)\s*([hd])$`)
)

// Parse reads one of the five surface grammars, case-insensitively. The
// second result is false when the input matches none of them or carries
// out-of-range fields; the explicit "off" rule parses successfully.
func Parse(input string) (Spec, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return Spec{}, false
	}
	if normalized == "off" {
		return Spec{Kind: Off}, true
	}

	if m := dailyRe.FindStringSubmatch(normalized); m != nil {
		hour, minute, ok := parseTime(m[1], m[2])
		if !ok {
			return Spec{}, false
		}
		return Spec{Kind: Daily, Hour: hour, Minute: minute}, true
	}

	if m := weekdaysRe.FindStringSubmatch(normalized); m != nil {
		hour, minute, ok := parseTime(m[1], m[2])
		if !ok {
			return Spec{}, false
		}
		return Spec{Kind: Weekdays, Hour: hour, Minute: minute}, true
	}

	if m := weeklyRe.FindStringSubmatch(normalized); m != nil {
		hour, minute, ok := parseTime(m[2], m[3])
		if !ok {
			return Spec{}, false
		}
		return Spec{Kind: Weekly, Day: m[1], Hour: hour, Minute: minute}, true
	}

	if m := everyRe.FindStringSubmatch(normalized); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return Spec{}, false
		}
		return Spec{Kind: Every, N: n, Unit: m[2]}, true
	}

	return Spec{}, false
}

func parseTime(hourStr, minuteStr string) (int, int, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return 0, 0, false
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil {
		return 0, 0, false
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// Format renders the normalized schedule text. Format is the inverse of
// Parse: Parse(Format(s)) returns s for every valid spec.
func Format(s Spec) string {
	switch s.Kind {
	case Daily:
		return fmt.Sprintf("daily %02d:%02d", s.Hour, s.Minute)
	case Weekdays:
		return fmt.Sprintf("weekdays %02d:%02d", s.Hour, s.Minute)
	case Weekly:
		return fmt.Sprintf("weekly %s %02d:%02d", s.Day, s.Hour, s.Minute)
	case Every:
		return fmt.Sprintf("every %d%s", s.N, s.Unit)
	default:
		return "off"
	}
}

// Parts are the calendar fields of an instant as observed in one timezone.
type Parts struct {
	Year    int
	Month   int
	Day     int
	Hour    int
	Minute  int
	Weekday string // three-letter lowercase token, mon..sun
	DateKey string // YYYY-MM-DD, unique per local calendar day
}

// ZonedParts projects an absolute instant into a timezone's local calendar.
// An unresolvable zone name is reported as an error so the caller can fall
// back to TimezoneDefault explicitly.
func ZonedParts(t time.Time, timezone string) (Parts, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Parts{}, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	local := t.In(loc)
	return Parts{
		Year:    local.Year(),
		Month:   int(local.Month()),
		Day:     local.Day(),
		Hour:    local.Hour(),
		Minute:  local.Minute(),
		Weekday: strings.ToLower(local.Format("Mon")),
		DateKey: local.Format("2006-01-02"),
	}, nil
}

// epochDayIndex counts days since the Unix epoch for a local calendar date.
// Built from the calendar fields, not the absolute instant, so day-interval
// parity is stable across DST shifts.
func epochDayIndex(p Parts) int {
	return int(time.Date(p.Year, time.Month(p.Month), p.Day, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// IsDue reports whether the rule fires at the given local calendar minute.
func IsDue(s Spec, p Parts) bool {
	switch s.Kind {
	case Daily:
		return s.Hour == p.Hour && s.Minute == p.Minute
	case Weekdays:
		switch p.Weekday {
		case "mon", "tue", "wed", "thu", "fri":
			return s.Hour == p.Hour && s.Minute == p.Minute
		}
		return false
	case Weekly:
		return s.Day == p.Weekday && s.Hour == p.Hour && s.Minute == p.Minute
	case Every:
		if s.Unit == "h" {
			return p.Minute == 0 && p.Hour%s.N == 0
		}
		if s.Unit == "d" {
			return p.Hour == 0 && p.Minute == 0 && epochDayIndex(p)%s.N == 0
		}
	}
	return false
}

// RunKey derives the idempotency key for one firing instant. Two due
// evaluations inside the same firing window collapse to the same key;
// it returns "" for the off rule.
func RunKey(s Spec, p Parts) string {
	switch s.Kind {
	case Daily, Weekdays, Weekly:
		return fmt.Sprintf("%s-%02d:%02d", p.DateKey, p.Hour, p.Minute)
	case Every:
		if s.Unit == "h" {
			return fmt.Sprintf("%s-h%02d", p.DateKey, p.Hour)
		}
		if s.Unit == "d" {
			return fmt.Sprintf("%s-d%d", p.DateKey, s.N)
		}
	}
	return ""
}

// Help is the schedule reference shown by /help schedule and on invalid
// /configure schedule input.
var Help = strings.Join([]string{
	"*Розклад розіграшів*",
	"Налаштування доступне лише адміністраторам.",
	"",
	"*Формати*",
	"`daily HH:MM` — щодня",
	"`weekdays HH:MM` — у будні (пн-пт)",
	"`weekly mon HH:MM` — щотижня у вибраний день",
	"`every Nh` — кожні N годин",
	"`every Nd` — кожні N днів",
	"`off` — вимкнути розклад",
	"",
	"*Приклади*",
	"/configure schedule `daily 09:00`",
	"/configure schedule `weekdays 12:30`",
	"/configure schedule `weekly fri 20:00`",
	"/configure schedule `every 6h`",
	"/configure schedule `off`",
	"",
	"Розклад працює за часовим поясом `Europe/Kyiv`.",
	"Хвилинні інтервали не підтримуються.",
}, "\n")
