package market

import (
	"time"
	_ "time/tzdata"
)

// NewYork is the exchange time zone for US equities.
var NewYork = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Session is one trading day with its open and close instants.
type Session struct {
	Day   time.Time // midnight, exchange time
	Open  time.Time
	Close time.Time
}

// Date truncates t to midnight in the exchange time zone.
func Date(t time.Time) time.Time {
	t = t.In(NewYork)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, NewYork)
}

// RegularSession is the 09:30 to 16:00 session for day.
func RegularSession(day time.Time) Session {
	d := Date(day)
	return Session{
		Day:   d,
		Open:  d.Add(9*time.Hour + 30*time.Minute),
		Close: d.Add(16 * time.Hour),
	}
}

// Contains reports whether t is within [Open, Close].
func (s Session) Contains(t time.Time) bool {
	return !t.Before(s.Open) && !t.After(s.Close)
}

// OpenTimeOfDay is the offset of the regular open from midnight.
const OpenTimeOfDay = 9*time.Hour + 30*time.Minute
