// Package agents implements the per-tick cognitive loop: perceive, plan,
// react to other agents, reflect, and resolve movement on the grid.
package agents

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/talgya/ville/internal/event"
	"github.com/talgya/ville/internal/llm"
	"github.com/talgya/ville/internal/memory"
	"github.com/talgya/ville/internal/world"
)

// Status is the position the driver hands an agent at the start of a tick:
// where it stands and the part of its path still to walk.
type Status struct {
	Coord world.Coord   `json:"coord"`
	Path  []world.Coord `json:"path,omitempty"`
}

// Marker is a presentation hint: an emoji shown at a coordinate.
type Marker struct {
	Emoji string      `json:"emoji"`
	Coord world.Coord `json:"coord"`
}

// PlanRecord is what an agent emits at the end of a tick.
type PlanRecord struct {
	Name   string            `json:"name"`
	Path   []world.Coord     `json:"path"`
	Emojis map[string]Marker `json:"emojis"`
}

// Snapshot is an agent's checkpointed state.
type Snapshot struct {
	Name      string              `json:"name"`
	Coord     world.Coord         `json:"coord"`
	Path      []world.Coord       `json:"path,omitempty"`
	Currently string              `json:"currently"`
	Poignancy int                 `json:"poignancy"`
	Action    event.Action        `json:"action"`
	Schedule  memory.Schedule     `json:"schedule"`
	Associate map[string][]string `json:"associate"`
	Chats     []memory.ChatLine   `json:"chats,omitempty"`
	Spatial   *memory.Spatial     `json:"spatial"`
}

// Summary is the read-only view of an agent served by the status API.
type Summary struct {
	Name      string         `json:"name"`
	Coord     world.Coord    `json:"coord"`
	Address   []string       `json:"address"`
	Currently string         `json:"currently"`
	Awake     bool           `json:"awake"`
	Action    string         `json:"action"`
	Window    string         `json:"window"`
	Emoji     string         `json:"emoji,omitempty"`
	Plan      string         `json:"plan,omitempty"`
	Poignancy int            `json:"poignancy"`
	Memories  map[string]int `json:"memories"`
	Path      int            `json:"path"`
}

// touched is an event seen on a tile the agent changed this tick.
type touched struct {
	event event.Event
	coord world.Coord
}

// Agent is one simulated resident.
type Agent struct {
	Name string

	cfg    Config
	env    *Env
	logger *slog.Logger

	currently string
	spatial   *memory.Spatial
	schedule  *memory.Schedule
	associate *memory.Associate

	concepts  []memory.Concept // perceived this tick
	chats     []memory.ChatLine
	poignancy int

	action event.Action
	coord  world.Coord
	path   []world.Coord
	placed bool
	plan   PlanRecord
}

func newAgent(cfg Config, env *Env, store memory.Index, ids map[string][]string) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !env.Grid.InBounds(cfg.Coord) {
		return nil, fmt.Errorf("agent %s: coord %s outside the grid", cfg.Name, cfg.Coord)
	}
	return &Agent{
		Name:      cfg.Name,
		cfg:       cfg,
		env:       env,
		logger:    env.Logger.With("agent", cfg.Name),
		currently: cfg.Currently,
		spatial:   memory.NewSpatial(cfg.Spatial.Tree.Clone(), cfg.Spatial.Address),
		schedule:  memory.NewSchedule(cfg.Schedule.Diversity, cfg.Schedule.MaxTry),
		associate: memory.NewAssociate(store, cfg.Associate, ids),
	}, nil
}

// New places a fresh agent on the grid at cfg.Coord, idle at whatever the
// tile holds.
func New(cfg Config, env *Env, store memory.Index) (*Agent, error) {
	a, err := newAgent(cfg, env, store, nil)
	if err != nil {
		return nil, err
	}
	tile := env.Grid.TileAt(cfg.Coord)
	address := tile.AddressTo(world.LevelObject)
	if address == nil {
		address = slices.Clone(tile.Address)
	}
	obj := event.Idle(address[len(address)-1], address)
	a.action = event.NewAction(event.Idle(a.Name, address), &obj, env.Clock.Now(), 0)
	a.move(cfg.Coord, nil)
	return a, nil
}

// Restore rebuilds an agent from a checkpoint. store must be the index the
// snapshot's memory ids refer to.
func Restore(cfg Config, env *Env, store memory.Index, snap Snapshot) (*Agent, error) {
	cfg.Coord = snap.Coord
	a, err := newAgent(cfg, env, store, snap.Associate)
	if err != nil {
		return nil, err
	}
	a.currently = snap.Currently
	a.poignancy = snap.Poignancy
	a.chats = slices.Clone(snap.Chats)
	a.action = snap.Action
	a.schedule.Create = snap.Schedule.Create
	a.schedule.Plans = slices.Clone(snap.Schedule.Plans)
	if snap.Spatial != nil {
		a.spatial = snap.Spatial.Clone()
	}
	a.move(snap.Coord, snap.Path)
	return a, nil
}

// Snapshot captures the agent for a checkpoint.
func (a *Agent) Snapshot() Snapshot {
	return Snapshot{
		Name:      a.Name,
		Coord:     a.coord,
		Path:      slices.Clone(a.path),
		Currently: a.currently,
		Poignancy: a.poignancy,
		Action:    a.action,
		Schedule:  memory.Schedule{Create: a.schedule.Create, Plans: slices.Clone(a.schedule.Plans)},
		Associate: a.associate.IDs(),
		Chats:     slices.Clone(a.chats),
		Spatial:   a.spatial.Clone(),
	}
}

// Summary describes the agent for observers.
func (a *Agent) Summary() Summary {
	now := a.env.Clock.Now()
	s := Summary{
		Name:      a.Name,
		Coord:     a.coord,
		Address:   slices.Clone(a.tile().Address),
		Currently: a.currently,
		Awake:     a.Awake(),
		Action:    a.event().GetDescribe(true),
		Window:    a.action.Status(now),
		Emoji:     a.event().Emoji,
		Poignancy: a.poignancy,
		Memories:  make(map[string]int, len(memory.Types)),
		Path:      len(a.path),
	}
	for _, t := range memory.Types {
		s.Memories[t] = a.associate.Len(t)
	}
	if _, sub, err := a.schedule.CurrentPlan(a.env.Clock.DailyMinutes()); err == nil {
		s.Plan = sub.Describe
	}
	return s
}

// Coord is where the agent stands.
func (a *Agent) Coord() world.Coord { return a.coord }

// Action is the agent's current activity.
func (a *Agent) Action() event.Action { return a.action }

// Awake reports whether the agent's current action is anything but sleep.
func (a *Agent) Awake() bool {
	return !a.event().Fit(a.Name, event.PredicateIs, event.ObjectSleeping)
}

func (a *Agent) event() event.Event { return a.action.Event }

func (a *Agent) tile() *world.Tile { return a.env.Grid.TileAt(a.coord) }

func (a *Agent) persona() llm.Persona {
	s := a.cfg.Scratch
	return llm.Persona{
		Name:      a.Name,
		Age:       s.Age,
		Innate:    s.Innate,
		Learned:   s.Learned,
		Lifestyle: s.Lifestyle,
		DailyPlan: s.DailyPlan,
		Currently: a.currently,
		Date:      a.env.Clock.DailyFormat(),
	}
}

// Think runs one tick. status carries the movement the driver applied since
// the previous tick; agents holds every live agent by name, a included.
func (a *Agent) Think(status Status, agents map[string]*Agent) (PlanRecord, error) {
	events := a.move(status.Coord, status.Path)

	plan, _, err := a.makeSchedule()
	if err != nil {
		return PlanRecord{}, fmt.Errorf("%s make schedule: %w", a.Name, err)
	}
	if plan.SleepSlot() && a.Awake() {
		a.logger.Info("going to sleep", "plan", plan.Describe)
		maps.Copy(events, a.sleep(plan))
	}

	if a.Awake() {
		if err := a.percept(); err != nil {
			return PlanRecord{}, fmt.Errorf("%s percept: %w", a.Name, err)
		}
		if err := a.makePlan(agents); err != nil {
			return PlanRecord{}, fmt.Errorf("%s plan: %w", a.Name, err)
		}
		if err := a.reflect(); err != nil {
			return PlanRecord{}, fmt.Errorf("%s reflect: %w", a.Name, err)
		}
	} else if a.action.Finished(a.env.Clock.Now()) {
		if a.action, err = a.determineAction(); err != nil {
			return PlanRecord{}, fmt.Errorf("%s determine action: %w", a.Name, err)
		}
	}

	emojis := map[string]Marker{a.Name: {Emoji: a.event().Emoji, Coord: a.coord}}
	for _, t := range events {
		if _, ok := agents[t.event.Subject]; ok {
			continue
		}
		emojis[t.event.AddressString()] = Marker{Emoji: t.event.Emoji, Coord: t.coord}
	}
	a.plan = PlanRecord{Name: a.Name, Path: a.findPath(agents), Emojis: emojis}
	return a.plan, nil
}

// move relocates the agent. Leaving a tile drops the agent's events there and
// resets its object to idle. The agent's events land on the new tile only
// when no path remains.
func (a *Agent) move(coord world.Coord, path []world.Coord) map[event.Key]touched {
	events := make(map[event.Key]touched)
	collect := func(t *world.Tile) {
		for _, e := range t.Events() {
			events[e.Key()] = touched{event: e, coord: t.Coord}
		}
	}

	if a.placed && a.coord != coord {
		tile := a.tile()
		tile.RemoveEvents(a.Name)
		if addr := tile.AddressTo(world.LevelObject); addr != nil {
			a.env.Grid.UpdateObject(a.coord, event.Idle(addr[len(addr)-1], addr))
		}
		collect(tile)
	}
	if len(path) == 0 {
		tile := a.env.Grid.TileAt(coord)
		if len(tile.UpdateEvents(a.event())) == 0 {
			tile.AddEvent(a.event())
		}
		if a.action.ObjEvent != nil {
			a.env.Grid.UpdateObject(coord, *a.action.ObjEvent)
		}
		collect(tile)
	}
	a.coord, a.placed = coord, true
	a.path = slices.Clone(path)
	return events
}

// sleep teleports the agent to its sleeping place and replaces the action
// with sleep until the slot ends.
func (a *Agent) sleep(plan memory.Plan) map[event.Key]touched {
	address := a.spatial.Address[memory.AddressSleeping]
	coord := a.coord
	if coords, ok := a.env.Grid.AddressTiles(address); ok && len(address) > 0 {
		coord = coords[a.env.Rand.Intn(len(coords))]
	} else {
		a.logger.Warn("no sleeping place, sleeping where standing", "address", address)
		address = slices.Clone(a.tile().Address)
	}

	ev := event.New(a.Name, event.PredicateIs, event.ObjectSleeping, address)
	ev.Emoji = "😴"
	obj := event.New(address[len(address)-1], event.PredicateUsedBy, a.Name, address)
	obj.Emoji = "🛌"
	a.action = event.NewAction(ev, &obj, a.env.Clock.DailyTime(plan.Start), plan.Duration)
	return a.move(coord, nil)
}

func (a *Agent) String() string {
	return fmt.Sprintf("%s @ %s: %s", a.Name, a.coord, a.event())
}
