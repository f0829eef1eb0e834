// Package event provides the "who is doing what, where" value types shared by
// the grid, the memory store and the cognitive loop.
package event

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Defaults applied when an event is built without a predicate or object.
const (
	PredicateNow = "now"
	ObjectIdle   = "idle"
)

// Predicates with special meaning to the cognitive loop.
const (
	PredicateIs      = "is"
	PredicateChat    = "chat"
	PredicateWaiting = "waiting to start"
	PredicateUsedBy  = "occupied by"
	ObjectSleeping   = "sleeping"
)

// Event describes a subject doing something at an address.
type Event struct {
	Subject   string   `json:"subject"`
	Predicate string   `json:"predicate"`
	Object    string   `json:"object"`
	Describe  string   `json:"describe,omitempty"`
	Address   []string `json:"address,omitempty"`
	Emoji     string   `json:"emoji,omitempty"`
}

// New builds an event, filling the default predicate and object.
func New(subject, predicate, object string, address []string) Event {
	e := Event{Subject: subject, Predicate: predicate, Object: object}
	if len(address) > 0 {
		e.Address = append([]string(nil), address...)
	}
	e.fillDefaults()
	return e
}

// Idle builds the event representing an object (or agent) doing nothing.
func Idle(subject string, address []string) Event {
	return New(subject, "", "", address)
}

func (e *Event) fillDefaults() {
	if e.Predicate == "" {
		e.Predicate = PredicateNow
	}
	if e.Object == "" {
		e.Object = ObjectIdle
	}
}

// Key is the comparable identity of an event. Emoji is not part of it.
type Key struct {
	Subject, Predicate, Object, Describe, Address string
}

// Key returns the identity used for tile dedup and "already known" checks.
func (e Event) Key() Key {
	return Key{
		Subject:   e.Subject,
		Predicate: e.Predicate,
		Object:    e.Object,
		Describe:  e.Describe,
		Address:   strings.Join(e.Address, ":"),
	}
}

// Equal reports whether both events share subject, predicate, object,
// description and address.
func (e Event) Equal(o Event) bool {
	return e.Key() == o.Key()
}

// Hash is a stable 64-bit hash over the same fields as Equal.
func (e Event) Hash() uint64 {
	k := e.Key()
	h := fnv.New64a()
	for _, f := range []string{k.Subject, k.Predicate, k.Object, k.Describe, k.Address} {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// Fit reports whether the event matches every non-empty argument.
func (e Event) Fit(subject, predicate, object string) bool {
	if subject != "" && e.Subject != subject {
		return false
	}
	if predicate != "" && e.Predicate != predicate {
		return false
	}
	if object != "" && e.Object != object {
		return false
	}
	return true
}

// Update replaces predicate and object (falling back to the defaults) and,
// when non-empty, the description.
func (e *Event) Update(predicate, object, describe string) {
	e.Predicate = predicate
	e.Object = object
	e.fillDefaults()
	if describe != "" {
		e.Describe = describe
	}
}

// GetDescribe returns the free-text description. With withSubject the subject
// name is prepended unless already present; without it a leading
// "subject " is stripped.
func (e Event) GetDescribe(withSubject bool) string {
	describe := e.Describe
	if describe == "" {
		describe = e.Predicate + " " + e.Object
	}
	if withSubject {
		if !strings.Contains(describe, e.Subject) {
			return e.Subject + " " + describe
		}
		return describe
	}
	return strings.TrimPrefix(describe, e.Subject+" ")
}

// AddressString joins the address path with colons.
func (e Event) AddressString() string {
	return strings.Join(e.Address, ":")
}

func (e Event) String() string {
	des := e.Describe
	if des == "" {
		des = fmt.Sprintf("%s %s %s", e.Subject, e.Predicate, e.Object)
	}
	if len(e.Address) > 0 {
		des += " @ " + e.AddressString()
	}
	return des
}

// Clone returns a copy that shares no slice storage with e.
func (e Event) Clone() Event {
	c := e
	if e.Address != nil {
		c.Address = append([]string(nil), e.Address...)
	}
	return c
}
