// Package memory holds an agent's private state: associative memory, the
// daily schedule and the spatial knowledge tree.
package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/talgya/ville/internal/event"
	"github.com/talgya/ville/internal/index"
)

// Concept types.
const (
	TypeEvent   = "event"
	TypeThought = "thought"
	TypeChat    = "chat"
)

// Types lists the concept types in a fixed order.
var Types = []string{TypeEvent, TypeThought, TypeChat}

// DefaultLifetime is how long a concept lives unless told otherwise.
const DefaultLifetime = 30 * 24 * time.Hour

// ErrUnknownConcept is returned when an id is missing from the store.
var ErrUnknownConcept = errors.New("unknown concept")

// Concept is one stored memory.
type Concept struct {
	ID        string
	Type      string
	Event     event.Event
	Poignancy int
	Create    time.Time
	Expire    time.Time
	Access    time.Time
	Filling   []string
}

// NewConcept builds a transient concept that is not stored anywhere.
func NewConcept(id, typ string, e event.Event, poignancy int, now time.Time) Concept {
	return Concept{
		ID:        id,
		Type:      typ,
		Event:     e.Clone(),
		Poignancy: poignancy,
		Create:    now,
		Expire:    now.Add(DefaultLifetime),
		Access:    now,
	}
}

func conceptFromNode(n index.Node) Concept {
	var address []string
	if n.Address != "" {
		address = strings.Split(n.Address, ":")
	}
	return Concept{
		ID:   n.ID,
		Type: n.Type,
		Event: event.Event{
			Subject:   n.Subject,
			Predicate: n.Predicate,
			Object:    n.Object,
			Describe:  n.Text,
			Address:   address,
			Emoji:     n.Emoji,
		},
		Poignancy: n.Poignancy,
		Create:    n.Create,
		Expire:    n.Expire,
		Access:    n.Access,
		Filling:   n.Filling,
	}
}

// Describe is the event description including the subject.
func (c Concept) Describe() string {
	return c.Event.GetDescribe(true)
}

func (c Concept) String() string {
	return fmt.Sprintf("%s(P.%d) %s [%s~%s access %s]", c.Type, c.Poignancy, c.Event,
		c.Create.Format("20060102-15:04"), c.Expire.Format("20060102-15:04"), c.Access.Format("20060102-15:04"))
}
