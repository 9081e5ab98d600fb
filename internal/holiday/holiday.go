// Package holiday answers whether a date is a public holiday.
package holiday

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/dk"
	"github.com/rickar/cal/v2/fi"
	"github.com/rickar/cal/v2/no"
	"github.com/rickar/cal/v2/se"
)

type Calendar interface {
	// PublicHoliday returns the holiday's name if t falls on a public holiday
	// in the calendar's location.
	PublicHoliday(t time.Time) (string, bool)
}

type Config struct {
	// Country selects the built-in calendar: se (default), no, dk, fi, or
	// none to only use Extra.
	Country string
	// Extra maps YYYY-MM-DD to a holiday name, for local days off the
	// country calendar does not know about.
	Extra map[string]string
}

var countries = map[string][]*cal.Holiday{
	"se": se.Holidays,
	"no": no.Holidays,
	"dk": dk.Holidays,
	"fi": fi.Holidays,
}

// Table is a country calendar plus configured extra dates.
type Table struct {
	cal   *cal.Calendar
	loc   *time.Location
	extra map[string]string
}

var _ Calendar = (*Table)(nil)

func New(cfg Config, loc *time.Location) (*Table, error) {
	if loc == nil {
		loc = time.Local
	}
	t := &Table{loc: loc, extra: map[string]string{}}

	country := strings.ToLower(strings.TrimSpace(cfg.Country))
	if country == "" {
		country = "se"
	}
	if country != "none" {
		hs, ok := countries[country]
		if !ok {
			return nil, fmt.Errorf("holiday: unknown country %q", cfg.Country)
		}
		t.cal = &cal.Calendar{}
		t.cal.AddHoliday(hs...)
	}

	for day, name := range cfg.Extra {
		d, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(day), loc)
		if err != nil {
			return nil, fmt.Errorf("holiday: extra date %q: %w", day, err)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = "Holiday"
		}
		t.extra[d.Format(time.DateOnly)] = name
	}
	return t, nil
}

func (t *Table) PublicHoliday(at time.Time) (string, bool) {
	at = at.In(t.loc)
	if name, ok := t.extra[at.Format(time.DateOnly)]; ok {
		return name, true
	}
	if t.cal == nil {
		return "", false
	}
	actual, _, h := t.cal.IsHoliday(at)
	if !actual || h == nil || h.Type != cal.ObservancePublic {
		return "", false
	}
	return h.Name, true
}

type Day struct {
	Date time.Time
	Name string
}

// Year lists the public holidays of year in date order.
func (t *Table) Year(year int) []Day {
	var out []Day
	if t.cal != nil {
		for _, h := range t.cal.Holidays {
			if h.Type != cal.ObservancePublic {
				continue
			}
			actual, _ := h.Calc(year)
			if actual.IsZero() {
				continue
			}
			out = append(out, Day{Date: time.Date(year, actual.Month(), actual.Day(), 0, 0, 0, 0, t.loc), Name: h.Name})
		}
	}
	for day, name := range t.extra {
		d, _ := time.ParseInLocation(time.DateOnly, day, t.loc)
		if d.Year() == year {
			out = append(out, Day{Date: d, Name: name})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
