// Package clock provides the simulated clock. It advances only when the
// driver forwards it between ticks.
package clock

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Layouts accepted by Parse and produced by Stamp.
const (
	StampLayout = "20060102-15:04"
	TimeLayout  = "15:04"
	DailyLayout = "Monday January 02"
)

// Clock is the simulated wall time shared by one simulation.
type Clock struct {
	now time.Time
}

// New returns a clock positioned at start.
func New(start time.Time) *Clock {
	return &Clock{now: start}
}

// Parse builds a clock from "20060102-15:04" or, for today's date, "15:04".
func Parse(start string) (*Clock, error) {
	if start == "" {
		return New(time.Now().Truncate(time.Minute)), nil
	}
	if strings.Contains(start, "-") {
		t, err := time.Parse(StampLayout, start)
		if err != nil {
			return nil, fmt.Errorf("parse clock start %q: %w", start, err)
		}
		return New(t), nil
	}
	t, err := time.Parse(TimeLayout, start)
	if err != nil {
		return nil, fmt.Errorf("parse clock start %q: %w", start, err)
	}
	y, m, d := time.Now().Date()
	return New(time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, time.UTC)), nil
}

// Now is the current simulated time.
func (c *Clock) Now() time.Time { return c.now }

// Set moves the clock to t, used when resuming.
func (c *Clock) Set(t time.Time) { c.now = t }

// Forward advances the clock by the given number of minutes.
func (c *Clock) Forward(minutes int) {
	c.now = c.now.Add(time.Duration(minutes) * time.Minute)
}

// DailyMinutes is the number of minutes elapsed since midnight.
func (c *Clock) DailyMinutes() int {
	return DailyMinutes(c.now)
}

// DailyMinutes returns the minutes since midnight of t.
func DailyMinutes(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Hour is the current simulated hour.
func (c *Clock) Hour() int { return c.now.Hour() }

// DailyTime returns today's midnight plus the given minutes.
func (c *Clock) DailyTime(minutes int) time.Time {
	y, m, d := c.now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.now.Location()).Add(time.Duration(minutes) * time.Minute)
}

// DeltaMinutes is the rounded number of minutes from start to now.
func (c *Clock) DeltaMinutes(start time.Time) int {
	return Minutes(c.now.Sub(start))
}

// Minutes rounds a duration to whole minutes.
func Minutes(d time.Duration) int {
	return int(math.Round(d.Minutes()))
}

// Stamp formats the current time as "20060102-15:04".
func (c *Clock) Stamp() string {
	return c.now.Format(StampLayout)
}

// DailyFormat renders the date as "Monday February 13".
func (c *Clock) DailyFormat() string {
	return c.now.Format(DailyLayout)
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
