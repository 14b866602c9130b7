package schedule

import (
	"errors"
	"fmt"
	"time"
)

const (
	dateLayout     = "2006-01-02"
	minutesPerDay  = 24 * 60
	timeOfDayLimit = minutesPerDay
)

var (
	ErrInvalidTimeOfDay = errors.New("time of day must be HH:MM between 00:00 and 24:00")
	ErrInvalidDate      = errors.New("date must be YYYY-MM-DD")
)

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
// 24:00 is allowed so a block can end at midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	for i := range len(s) {
		if i != 2 && (s[i] < '0' || s[i] > '9') {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
		}
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	t := NewTimeOfDay(h, m)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return t, nil
}

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t <= timeOfDayLimit
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) Add(minutes int) TimeOfDay {
	return t + TimeOfDay(minutes)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Date is a calendar date with no time or zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// Time returns midnight of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// At returns the instant at which the wall clock in loc reads t on d.
// 24:00 is midnight of the following day.
func (d Date) At(t TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, t.Hour(), t.Minute(), 0, 0, loc)
}

func (d Date) Weekday() Weekday {
	return Weekday(d.Time(time.UTC).Weekday())
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Time(time.UTC).AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool {
	return d.Time(time.UTC).Before(o.Time(time.UTC))
}

func (d Date) After(o Date) bool {
	return o.Before(d)
}

func (d Date) String() string {
	return d.Time(time.UTC).Format(dateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Weekday mirrors time.Weekday: Sunday=0 .. Saturday=6.
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

const DaysPerWeek = 7

func (w Weekday) Valid() bool {
	return w >= Sunday && w <= Saturday
}

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return time.Weekday(w).String()
}
