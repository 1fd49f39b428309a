package shape

import (
	"fmt"
	"time"
)

// LocalDate is a calendar date without a time zone
type LocalDate struct {
	Year  int
	Month time.Month
	Day   int
}

// LocalDateOf returns the local date of t in t's location
func LocalDateOf(t time.Time) LocalDate {
	y, m, d := t.Date()
	return LocalDate{Year: y, Month: m, Day: d}
}

// String returns the date in YYYY-MM-DD form
func (d LocalDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero returns true for the zero date
func (d LocalDate) IsZero() bool {
	return d == LocalDate{}
}

// ParseLocalDate parses a YYYY-MM-DD string
func ParseLocalDate(s string) (LocalDate, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return LocalDate{}, fmt.Errorf("invalid local date %q: %w", s, err)
	}
	return LocalDateOf(t), nil
}

// LocalTime is a wall-clock time without a date or time zone
type LocalTime struct {
	Hour       int
	Minute     int
	Second     int
	Nanosecond int
}

// LocalTimeOf returns the wall-clock time of t
func LocalTimeOf(t time.Time) LocalTime {
	return LocalTime{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(), Nanosecond: t.Nanosecond()}
}

// String returns the time in HH:MM:SS form, with a fractional part when non-zero
func (t LocalTime) String() string {
	s := fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	if t.Nanosecond != 0 {
		s += fmt.Sprintf(".%09d", t.Nanosecond)
	}
	return s
}

// ParseLocalTime parses HH:MM:SS with an optional fractional part
func ParseLocalTime(s string) (LocalTime, error) {
	t, err := time.Parse("15:04:05.999999999", s)
	if err != nil {
		return LocalTime{}, fmt.Errorf("invalid local time %q: %w", s, err)
	}
	return LocalTimeOf(t), nil
}
