package agents

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/talgya/ville/internal/event"
	"github.com/talgya/ville/internal/llm"
	"github.com/talgya/ville/internal/memory"
	"github.com/talgya/ville/internal/world"
)

type sighting struct {
	event event.Event
	dist  float64
}

// percept records the places in view and turns the nearest events of the
// agent's own arena into concepts, accumulating their poignancy.
func (a *Agent) percept() error {
	now := a.env.Clock.Now()
	scope := a.env.Grid.Scope(a.coord, a.cfg.Percept.VisionR)
	for _, t := range scope {
		if t.HasLevel(world.LevelObject) {
			a.spatial.AddLeaf(t.Address)
		}
	}

	arena := strings.Join(a.tile().AddressTo(world.LevelArena), ":")
	var seen []sighting
	pos := make(map[event.Key]int)
	for _, t := range scope {
		events := t.Events()
		if len(events) == 0 || strings.Join(t.AddressTo(world.LevelArena), ":") != arena {
			continue
		}
		dist := world.Distance(t.Coord, a.coord)
		for _, e := range events {
			if i, ok := pos[e.Key()]; ok {
				seen[i].dist = min(seen[i].dist, dist)
				continue
			}
			pos[e.Key()] = len(seen)
			seen = append(seen, sighting{event: e, dist: dist})
		}
	}
	slices.SortStableFunc(seen, func(x, y sighting) int { return cmp.Compare(x.dist, y.dist) })
	seen = seen[:min(len(seen), a.cfg.Percept.AttBandwidth)]

	a.concepts = nil
	stored := 0
	for idx, s := range seen {
		recent, err := a.recentDescribes()
		if err != nil {
			return err
		}
		if slices.Contains(recent, s.event.GetDescribe(true)) {
			continue
		}
		if s.event.Object == event.ObjectIdle {
			a.concepts = append(a.concepts, memory.NewConcept(fmt.Sprintf("idle_%d", idx), memory.TypeEvent, s.event, 1, now))
			continue
		}
		typ := memory.TypeEvent
		if s.event.Fit(a.Name, event.PredicateChat, "") {
			typ = memory.TypeChat
		}
		c, err := a.addConcept(typ, s.event, now, time.Time{}, nil)
		if err != nil {
			return err
		}
		stored++
		a.poignancy += c.Poignancy
		a.concepts = append(a.concepts, c)
	}
	a.concepts = slices.DeleteFunc(a.concepts, func(c memory.Concept) bool {
		return c.Event.Subject == a.Name
	})
	a.logger.Debug("percept", "stored", stored, "concepts", len(a.concepts), "poignancy", a.poignancy)
	return nil
}

func (a *Agent) recentDescribes() ([]string, error) {
	events, err := a.associate.RetrieveEvents("")
	if err != nil {
		return nil, err
	}
	chats, err := a.associate.RetrieveChats("")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(events)+len(chats))
	for _, c := range slices.Concat(events, chats) {
		out = append(out, c.Describe())
	}
	return out, nil
}

// addConcept stores e, scoring its poignancy with the oracle unless it is an
// idle event.
func (a *Agent) addConcept(typ string, e event.Event, create, expire time.Time, filling []string) (memory.Concept, error) {
	poignancy := 1
	idle := e.Object == event.ObjectIdle && (e.Predicate == event.PredicateNow || e.Predicate == event.PredicateIs)
	switch {
	case idle:
	case typ == memory.TypeChat:
		poignancy = llm.Ask(a.env.Oracle, llm.PoignancyChat(a.persona(), e.GetDescribe(true), a.env.Rand))
	default:
		poignancy = llm.Ask(a.env.Oracle, llm.PoignancyEvent(a.persona(), e.GetDescribe(true), a.env.Rand))
	}
	c, err := a.associate.Add(typ, e, poignancy, create, expire, filling)
	if err != nil {
		return memory.Concept{}, fmt.Errorf("add %s concept: %w", typ, err)
	}
	a.logger.Debug("add concept", "type", typ, "event", e.String(), "poignancy", poignancy)
	return c, nil
}
