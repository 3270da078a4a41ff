package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DATE - Local calendar day (register-day boundaries)
// =============================================================================

// Date is a calendar day with no time or zone. A "closing for date D" covers
// movements from start-of-day D to end-of-day D in the store's local zone;
// Calendar does that mapping.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return dateFromTime(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return dateFromTime(t), nil
}

func dateFromTime(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d Date) utc() time.Time { return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC) }

func (d Date) IsZero() bool                 { return d == Date{} }
func (d Date) AddDays(n int) Date           { return dateFromTime(d.utc().AddDate(0, 0, n)) }
func (d Date) Before(o Date) bool           { return d.utc().Before(o.utc()) }
func (d Date) After(o Date) bool            { return d.utc().After(o.utc()) }
func (d Date) String() string               { return d.utc().Format(dateLayout) }
func (d Date) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// CALENDAR - Maps days to instants in the store's zone
// =============================================================================

type Calendar struct {
	Location *time.Location
}

func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.Local
	}
	return Calendar{Location: loc}
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// DateOf returns the local calendar day containing t.
func (c Calendar) DateOf(t time.Time) Date { return dateFromTime(t.In(c.loc())) }

// StartOf returns local midnight at the start of d.
func (c Calendar) StartOf(d Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, c.loc())
}

// EndOf returns the last representable instant of d.
func (c Calendar) EndOf(d Date) time.Time {
	return c.StartOf(d.AddDays(1)).Add(-time.Nanosecond)
}
