package event

import (
	"fmt"
	"time"
)

// Action is a time-boxed activity: the agent-facing event plus an optional
// event for the object being used.
type Action struct {
	Event    Event     `json:"event"`
	ObjEvent *Event    `json:"obj_event,omitempty"`
	Start    time.Time `json:"start"`
	Duration int       `json:"duration"` // minutes
}

// NewAction builds an action starting at start and lasting duration minutes.
func NewAction(ev Event, obj *Event, start time.Time, duration int) Action {
	a := Action{Event: ev.Clone(), Start: start, Duration: duration}
	if obj != nil {
		o := obj.Clone()
		a.ObjEvent = &o
	}
	return a
}

// End is Start plus Duration.
func (a Action) End() time.Time {
	return a.Start.Add(time.Duration(a.Duration) * time.Minute)
}

// Finished reports whether the action no longer constrains the agent: it has
// no duration, no address, or its window has closed.
func (a Action) Finished(now time.Time) bool {
	if a.Duration == 0 {
		return true
	}
	if len(a.Event.Address) == 0 {
		return true
	}
	return !now.Before(a.End())
}

// Status renders "done"/"ongoing" with the action window.
func (a Action) Status(now time.Time) string {
	state := "ongoing"
	if a.Finished(now) {
		state = "done"
	}
	return fmt.Sprintf("%s [%s~%s]", state, a.Start.Format("20060102-15:04"), a.End().Format("20060102-15:04"))
}
