// Package calendar converts between the ROC (Minguo) calendar used by
// TWSE/TPEX and the Gregorian calendar. ROC year = Gregorian year - 1911.
package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrBadDate is returned when a date string cannot be interpreted
// as either a ROC or a Gregorian date.
var ErrBadDate = errors.New("calendar: unparseable date string")

// rocYearOffset is the difference between Gregorian and ROC years.
const rocYearOffset = 1911

// ParseROC parses a ROC-calendar date string such as "113/11/01" into a
// Gregorian date. The leading segment is normally a 2- or 3-digit ROC
// year; a 4-digit leading segment is treated as an already-Gregorian
// year. The returned time is midnight UTC.
func ParseROC(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrBadDate
	}

	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, s)
	}

	year, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, s)
	}
	month, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, s)
	}
	day, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, s)
	}

	// A 4-digit leading segment already is a Gregorian year.
	if len(strings.TrimSpace(parts[0])) < 4 {
		year += rocYearOffset
	}

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, s)
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)

	// Reject normalized overflow such as 02/30.
	if d.Day() != day || d.Month() != time.Month(month) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, s)
	}

	return d, nil
}

// FormatROC formats a Gregorian date as a ROC date string, zero-padded
// to 3-digit year and 2-digit month/day, e.g. "104/02/13".
func FormatROC(d time.Time) string {
	return fmt.Sprintf("%03d/%02d/%02d", d.Year()-rocYearOffset, int(d.Month()), d.Day())
}

// Date is shorthand for a midnight-UTC Gregorian date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the time-of-day component of t.
func Truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TradingDaysBetween counts weekdays strictly after from, through to.
// Weekends are excluded; market holidays are not known here, so the
// count is an upper bound on real trading days.
func TradingDaysBetween(from, to time.Time) int {
	from = Truncate(from)
	to = Truncate(to)

	days := 0
	for d := from.AddDate(0, 0, 1); !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days++
		}
	}
	return days
}
