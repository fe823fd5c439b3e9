package engine

import (
	"time"

	"github.com/rustyeddy/stocktrader/market"
)

// CheckpointInterval is the spacing between checkpoints.
const CheckpointInterval = 5 * time.Minute

const (
	// TriggerSecond is how far into the last minute of a bucket the live
	// loop waits before processing the next checkpoint.
	TriggerSecond = 50
	// CloseTriggerSecond is used for the closing checkpoint, whose
	// orders need more time.
	CloseTriggerSecond = 35
)

// Checkpoints lists every 5 minutes from the open through the close.
func Checkpoints(s market.Session) []time.Time {
	var out []time.Time
	for t := s.Open; !t.After(s.Close); t = t.Add(CheckpointInterval) {
		out = append(out, t)
	}
	return out
}

// Frequencies is the set of trading frequencies active at checkpoint t.
func Frequencies(s market.Session, t time.Time) FrequencySet {
	set := NewFrequencySet(FiveMin)
	if t.Equal(s.Open) {
		set = set.With(CloseToOpen)
	}
	if t.Equal(s.Close) {
		set = set.With(CloseToClose)
	}
	return set
}

// DueCheckpoint reports the checkpoint the live loop should process at
// now, if any. A checkpoint c is due during the minute before it once
// the second hand passes the trigger.
func DueCheckpoint(now time.Time, s market.Session, trigger, closeTrigger int) (time.Time, bool) {
	n := now.In(market.NewYork)
	if n.Minute()%5 != 4 {
		return time.Time{}, false
	}
	c := time.Date(n.Year(), n.Month(), n.Day(), n.Hour(), n.Minute(), 0, 0, market.NewYork).Add(time.Minute)
	threshold := trigger
	if c.Equal(s.Close) {
		threshold = closeTrigger
	}
	if n.Second() <= threshold {
		return time.Time{}, false
	}
	if c.Before(s.Open) || c.After(s.Close) {
		return time.Time{}, false
	}
	return c, true
}
