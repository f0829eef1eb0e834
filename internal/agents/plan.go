package agents

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/talgya/ville/internal/clock"
	"github.com/talgya/ville/internal/event"
	"github.com/talgya/ville/internal/llm"
	"github.com/talgya/ville/internal/memory"
	"github.com/talgya/ville/internal/world"
)

const planThoughtLifetime = 30 * 24 * time.Hour

// makeSchedule builds today's schedule when missing, decomposes the active
// plan when needed, and returns the active plan and sub-plan.
func (a *Agent) makeSchedule() (memory.Plan, memory.Plan, error) {
	now := a.env.Clock.Now()
	if !a.schedule.Scheduled(now) {
		if err := a.newDay(now); err != nil {
			return memory.Plan{}, memory.Plan{}, err
		}
	}

	plan, _, err := a.schedule.CurrentPlan(a.env.Clock.DailyMinutes())
	if err != nil {
		return memory.Plan{}, memory.Plan{}, err
	}
	if a.schedule.ShouldDecompose(plan) {
		steps := llm.Ask(a.env.Oracle, llm.ScheduleDecompose(a.persona(), plan, a.schedule.Plans, now))
		if err := a.schedule.SetDecompose(plan.Idx, steps); err != nil {
			return memory.Plan{}, memory.Plan{}, err
		}
	}
	return a.schedule.CurrentPlan(a.env.Clock.DailyMinutes())
}

func (a *Agent) newDay(now time.Time) error {
	a.logger.Info("making schedule", "date", a.env.Clock.DailyFormat())
	if err := a.refreshCurrently(now); err != nil {
		return err
	}

	a.schedule.Reset(now)
	persona := a.persona()
	wake := llm.Ask(a.env.Oracle, llm.WakeUp(persona))
	outline := llm.Ask(a.env.Oracle, llm.ScheduleInit(persona, wake))

	var hourly map[int]string
	for try := 0; try < max(a.schedule.MaxTry, 1); try++ {
		hourly = make(map[int]string, 24)
		for h := 0; h < wake; h++ {
			hourly[h*60] = event.ObjectSleeping
		}
		maps.Copy(hourly, llm.Ask(a.env.Oracle, llm.ScheduleDaily(persona, wake, outline)))
		if distinct(hourly) >= a.schedule.Diversity {
			break
		}
	}

	starts := slices.Sorted(maps.Keys(hourly))
	for i, start := range starts {
		end := memory.MinutesPerDay
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if i == 0 {
			start = 0
		}
		a.schedule.ExtendPlan(hourly[starts[i]], end-start)
	}

	date := now.Format(clock.DailyLayout)
	thought := fmt.Sprintf("This is %s's plan for %s: %s", a.Name, date, strings.Join(outline, "; "))
	e := event.New(a.Name, "plan", date, a.tile().Address)
	e.Describe = thought
	if _, err := a.addConcept(memory.TypeThought, e, now, now.Add(planThoughtLifetime), nil); err != nil {
		return fmt.Errorf("store plan thought: %w", err)
	}
	a.logger.Debug("schedule ready", "plans", len(a.schedule.Plans), "wake", wake)
	return nil
}

// refreshCurrently rewrites the status line from yesterday's memories.
func (a *Agent) refreshCurrently(now time.Time) error {
	if a.associate.Empty() {
		return nil
	}
	if _, err := a.associate.Cleanup(now); err != nil {
		return err
	}
	focus := []string{
		fmt.Sprintf("%s's plan for %s.", a.Name, a.env.Clock.DailyFormat()),
		fmt.Sprintf("Important recent events in %s's life.", a.Name),
	}
	retrieved, err := a.associate.RetrieveFocus(now, focus, 0)
	if err != nil {
		return err
	}
	a.logger.Info("retrieved concepts for the new day", "count", len(retrieved))
	if len(retrieved) == 0 {
		return nil
	}
	notes := llm.Ask(a.env.Oracle, llm.RetrievePlan(a.Name, a.env.Clock.DailyFormat(), retrieved, a.env.Rand))
	thought := llm.Ask(a.env.Oracle, llm.RetrieveThought(a.Name, retrieved))
	yesterday := now.AddDate(0, 0, -1).Format(time.DateOnly)
	a.currently = llm.Ask(a.env.Oracle, llm.RetrieveCurrently(a.Name, a.currently, yesterday, now.Format(time.DateOnly), notes, thought))
	return nil
}

func distinct(hourly map[int]string) int {
	seen := make(map[string]bool, len(hourly))
	for _, v := range hourly {
		seen[v] = true
	}
	return len(seen)
}

// reviseSchedule replaces the current action and, when the active plan was
// already broken down, asks for a breakdown that fits the deviation.
func (a *Agent) reviseSchedule(e event.Event, start time.Time, duration int) error {
	a.action = event.NewAction(e, nil, start, duration)
	plan, _, err := a.schedule.CurrentPlan(a.env.Clock.DailyMinutes())
	if err != nil {
		return err
	}
	if len(plan.Decompose) == 0 {
		return nil
	}
	steps := llm.Ask(a.env.Oracle, llm.ScheduleRevise(a.persona(), plan, a.action, a.env.Clock.Now()))
	return a.schedule.ReviseDecompose(plan.Idx, steps)
}

func (a *Agent) makePlan(agents map[string]*Agent) error {
	reacted, err := a.react(agents)
	if err != nil || reacted {
		return err
	}
	if len(a.path) > 0 {
		return nil
	}
	if a.action.Finished(a.env.Clock.Now()) {
		a.action, err = a.determineAction()
	}
	return err
}

// choose picks the only candidate or asks; it reports false when there is
// nothing to pick from.
func choose(candidates []string, ask func() string) (string, bool) {
	switch len(candidates) {
	case 0:
		return "", false
	case 1:
		return candidates[0], true
	}
	return ask(), true
}

// determineAction turns the active sub-plan into an action at a concrete
// place, resolving sector, arena and object in turn when the address book
// has no entry for the plan.
func (a *Agent) determineAction() (event.Action, error) {
	plan, sub, err := a.schedule.CurrentPlan(a.env.Clock.DailyMinutes())
	if err != nil {
		return event.Action{}, err
	}
	a.logger.Debug("determining action", "plan", plan.Describe, "sub", sub.Describe)

	address := a.spatial.FindAddress(plan.Describe)
	if len(address) == 0 {
		address = a.resolveAddress(plan, sub)
	}

	ev := makeEvent(a.Name, sub.Describe, address)
	ev.Emoji = llm.Ask(a.env.Oracle, llm.DescribeEmoji(sub.Describe))
	object := address[len(address)-1]
	state := llm.Ask(a.env.Oracle, llm.DescribeObject(a.Name, object, sub.Describe))
	obj := makeEvent(object, state, address)
	return event.NewAction(ev, &obj, a.env.Clock.DailyTime(sub.Start), sub.Duration), nil
}

func (a *Agent) resolveAddress(plan, sub memory.Plan) []string {
	tile := a.tile()
	address := tile.AddressTo(world.LevelWorld)
	sectors := a.spatial.Leaves(address)

	sector, ok := choose(sectors, func() string {
		q := llm.SectorQuery{
			Name:        a.Name,
			DailyPlan:   a.cfg.Scratch.DailyPlan,
			Sectors:     sectors,
			ArenaSector: make(map[string]string),
			Plan:        plan.Describe,
			SubPlan:     sub.Describe,
		}
		if living := a.spatial.Address[memory.AddressLivingArea]; len(living) >= 2 {
			home := living[:len(living)-1]
			q.LiveSector = home[len(home)-1]
			q.LiveArenas = a.spatial.Leaves(home)
		}
		if current := tile.AddressTo(world.LevelSector); current != nil {
			q.CurrentSector = current[len(current)-1]
			q.CurrentArenas = a.spatial.Leaves(current)
		}
		for _, s := range sectors {
			for _, arena := range a.spatial.Leaves(append(slices.Clone(address), s)) {
				if _, ok := q.ArenaSector[arena]; !ok {
					q.ArenaSector[arena] = s
				}
			}
		}
		return llm.Ask(a.env.Oracle, llm.DetermineSector(q, a.env.Rand))
	})
	if !ok {
		return slices.Clone(tile.Address)
	}
	address = append(address, sector)

	arenas := a.spatial.Leaves(address)
	arena, ok := choose(arenas, func() string {
		return llm.Ask(a.env.Oracle, llm.DetermineArena(llm.ArenaQuery{
			Name:      a.Name,
			DailyPlan: a.cfg.Scratch.DailyPlan,
			Sector:    sector,
			Arenas:    arenas,
			Plan:      plan.Describe,
			SubPlan:   sub.Describe,
		}, a.env.Rand))
	})
	if !ok {
		return address
	}
	address = append(address, arena)

	objects := a.spatial.Leaves(address)
	if object, ok := choose(objects, func() string {
		return llm.Ask(a.env.Oracle, llm.DetermineObject(sub.Describe, objects, a.env.Rand))
	}); ok {
		address = append(address, object)
	}
	return address
}

var describeCleaner = strings.NewReplacer("(", "", ")", "", "<", "", ">", "")

// makeEvent builds the event for subject doing describe at address.
func makeEvent(subject, describe string, address []string) event.Event {
	object := describeCleaner.Replace(describe)
	object = strings.TrimPrefix(object, subject+" is ")
	object = strings.TrimSpace(strings.TrimPrefix(object, subject))
	e := event.New(subject, event.PredicateNow, object, address)
	e.Describe = describe
	return e
}
