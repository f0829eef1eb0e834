package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvent_Defaults(t *testing.T) {
	e := New("Klaus", "", "", []string{"ville", "cafe"})
	assert.Equal(t, PredicateNow, e.Predicate)
	assert.Equal(t, ObjectIdle, e.Object)
	assert.Equal(t, "now idle", e.GetDescribe(false))
	assert.Equal(t, "Klaus now idle", e.GetDescribe(true))
}

func TestEvent_EqualityIgnoresConstructionOrder(t *testing.T) {
	a := Event{Subject: "bed", Predicate: "occupied by", Object: "Maria", Describe: "bed is in use", Address: []string{"ville", "house", "bedroom", "bed"}}
	var b Event
	b.Address = []string{"ville", "house", "bedroom", "bed"}
	b.Describe = "bed is in use"
	b.Object = "Maria"
	b.Predicate = "occupied by"
	b.Subject = "bed"

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, a.Hash(), b.Hash())

	b.Emoji = "🛌"
	assert.True(t, a.Equal(b), "emoji is presentation only")

	b.Address = []string{"ville", "house"}
	assert.False(t, a.Equal(b))
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestEvent_GetDescribe_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		describe string
	}{
		{"without subject", "is brewing coffee"},
		{"with subject", "Isabella is brewing coffee"},
		{"empty uses predicate and object", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Event{Subject: "Isabella", Predicate: "now", Object: "brewing coffee", Describe: tt.describe}
			with := e.GetDescribe(true)
			assert.Contains(t, with, "Isabella")

			e2 := e
			e2.Describe = with
			without := e2.GetDescribe(false)
			e3 := e
			e3.Describe = without
			assert.Equal(t, with, e3.GetDescribe(true))
			assert.Equal(t, without, e3.GetDescribe(false))
		})
	}
}

func TestEvent_Fit(t *testing.T) {
	e := New("Tom", PredicateIs, ObjectSleeping, nil)
	assert.True(t, e.Fit("Tom", "", ""))
	assert.True(t, e.Fit("", PredicateIs, ObjectSleeping))
	assert.False(t, e.Fit("Jane", "", ""))
	assert.False(t, e.Fit("", PredicateChat, ""))
}

func TestEvent_Update(t *testing.T) {
	e := New("stove", "heating", "pan", nil)
	e.Update("", "", "")
	assert.Equal(t, PredicateNow, e.Predicate)
	assert.Equal(t, ObjectIdle, e.Object)
	e.Update("cooking", "eggs", "stove is cooking eggs")
	assert.Equal(t, "stove is cooking eggs", e.Describe)
}

func TestAction_Finished(t *testing.T) {
	start := time.Date(2024, 2, 13, 9, 0, 0, 0, time.UTC)
	ev := New("Eddy", "", "playing piano", []string{"ville", "house", "room", "piano"})

	tests := []struct {
		name     string
		action   Action
		now      time.Time
		finished bool
	}{
		{"zero duration", NewAction(ev, nil, start, 0), start, true},
		{"before end", NewAction(ev, nil, start, 30), start.Add(10 * time.Minute), false},
		{"at end", NewAction(ev, nil, start, 30), start.Add(30 * time.Minute), true},
		{"after end", NewAction(ev, nil, start, 30), start.Add(31 * time.Minute), true},
		{"no address", NewAction(New("Eddy", "", "", nil), nil, start, 30), start, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.finished, tt.action.Finished(tt.now))
		})
	}
}

func TestNewAction_CopiesEvents(t *testing.T) {
	addr := []string{"ville", "cafe", "kitchen", "stove"}
	ev := New("Isabella", "", "cooking", addr)
	obj := New("stove", "", "in use", addr)
	a := NewAction(ev, &obj, time.Time{}, 10)
	addr[1] = "bar"
	obj.Object = "changed"
	assert.Equal(t, "cafe", a.Event.Address[1])
	assert.Equal(t, "in use", a.ObjEvent.Object)
}
