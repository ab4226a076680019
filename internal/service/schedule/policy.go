package schedule

import (
	"fmt"
	"time"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/pkg/clock"
)

// Policy is the clinic's fixed weekly opening template.
type Policy struct {
	loc  *time.Location
	week [7]model.OpenWindow
}

func hours(h int) int { return h * 60 }

// NewPolicy returns the standard template (Mon-Fri 08:00-18:00, Sat 09:00-13:00,
// Sun closed) evaluated in loc.
func NewPolicy(loc *time.Location) *Policy {
	if loc == nil {
		loc = time.UTC
	}
	weekday := model.OpenWindow{Open: true, StartMinute: hours(8), EndMinute: hours(18)}

	p := &Policy{loc: loc}
	p.week[time.Monday] = weekday
	p.week[time.Tuesday] = weekday
	p.week[time.Wednesday] = weekday
	p.week[time.Thursday] = weekday
	p.week[time.Friday] = weekday
	p.week[time.Saturday] = model.OpenWindow{Open: true, StartMinute: hours(9), EndMinute: hours(13)}
	p.week[time.Sunday] = model.OpenWindow{}
	return p
}

func (p *Policy) Location() *time.Location {
	return p.loc
}

// Window returns the opening window of a weekday.
func (p *Policy) Window(day time.Weekday) model.OpenWindow {
	return p.week[day]
}

// IsOpen reports the day's window with Open set only when timeOfDay falls in
// [windowStart, windowEnd).
func (p *Policy) IsOpen(day time.Weekday, timeOfDay time.Duration) model.OpenWindow {
	w := p.week[day]
	if !w.Open {
		return w
	}
	w.Open = timeOfDay >= minutes(w.StartMinute) && timeOfDay < minutes(w.EndMinute)
	return w
}

// Contains reports whether [start, end) lies entirely inside the opening window
// of the local day start falls on.
func (p *Policy) Contains(start, end time.Time) bool {
	if !end.After(start) || !clock.SameDay(start, end, p.loc) {
		return false
	}
	w := p.week[start.In(p.loc).Weekday()]
	if !w.Open {
		return false
	}
	return wallOffset(start, p.loc) >= minutes(w.StartMinute) && wallOffset(end, p.loc) <= minutes(w.EndMinute)
}

// OpeningBounds returns the absolute open and close instants for the local
// date of day, or ok == false when the clinic is closed.
func (p *Policy) OpeningBounds(day time.Time) (opens, closes time.Time, ok bool) {
	local := day.In(p.loc)
	w := p.week[local.Weekday()]
	if !w.Open {
		return time.Time{}, time.Time{}, false
	}
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, w.StartMinute, 0, 0, p.loc), time.Date(y, m, d, 0, w.EndMinute, 0, 0, p.loc), true
}

// Template lists the week starting Monday.
func (p *Policy) Template() []model.DayHours {
	order := []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
		time.Friday, time.Saturday, time.Sunday,
	}
	out := make([]model.DayHours, 0, len(order))
	for _, day := range order {
		w := p.week[day]
		row := model.DayHours{Day: day.String(), Open: w.Open}
		if w.Open {
			row.Opens = formatMinute(w.StartMinute)
			row.Closes = formatMinute(w.EndMinute)
		}
		out = append(out, row)
	}
	return out
}

// wallOffset is the local wall-clock time of t as an offset from midnight.
func wallOffset(t time.Time, loc *time.Location) time.Duration {
	local := t.In(loc)
	return time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
}

func minutes(m int) time.Duration {
	return time.Duration(m) * time.Minute
}

func formatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
