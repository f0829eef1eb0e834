package agents

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"maps"
	"math/rand"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/ville/internal/clock"
	"github.com/talgya/ville/internal/event"
	"github.com/talgya/ville/internal/index"
	"github.com/talgya/ville/internal/llm"
	"github.com/talgya/ville/internal/memory"
	"github.com/talgya/ville/internal/retry"
	"github.com/talgya/ville/internal/world"
)

var day = time.Date(2024, 2, 13, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

var (
	bedTiles = []world.Coord{{X: 1, Y: 1}, {X: 1, Y: 2}}
	stove    = world.Coord{X: 4, Y: 1}
	counter  = world.Coord{X: 7, Y: 1}
)

// testBootstrap is a 12x6 village: a house with a bedroom (two-tile bed) and
// a kitchen (stove), a wall with a gap at y=4, and a cafe.
func testBootstrap() *world.Bootstrap {
	b := &world.Bootstrap{World: "ville", Size: [2]int{6, 12}, TileSize: 32}
	fill := func(x0, x1 int, address ...string) {
		for x := x0; x <= x1; x++ {
			for y := 1; y <= 4; y++ {
				b.Tiles = append(b.Tiles, world.TileSpec{Coord: world.Coord{X: x, Y: y}, Address: address})
			}
		}
	}
	fill(1, 2, "house", "bedroom")
	fill(3, 4, "house", "kitchen")
	fill(7, 10, "cafe", "seating")
	for _, c := range bedTiles {
		b.Tiles = append(b.Tiles, world.TileSpec{Coord: c, Address: []string{"house", "bedroom", "bed"}})
	}
	b.Tiles = append(b.Tiles,
		world.TileSpec{Coord: stove, Address: []string{"house", "kitchen", "stove"}},
		world.TileSpec{Coord: counter, Address: []string{"cafe", "seating", "counter"}},
	)
	for y := 1; y <= 3; y++ {
		b.Tiles = append(b.Tiles, world.TileSpec{Coord: world.Coord{X: 5, Y: y}, Collision: true})
	}
	return b
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T, completer llm.Completer, now time.Time) *Env {
	t.Helper()
	g, err := world.NewGrid(testBootstrap())
	require.NoError(t, err)
	logger := quietLogger()
	return &Env{
		Grid:         g,
		Clock:        clock.New(now),
		Oracle:       llm.NewOracle(completer, retry.Once(), logger),
		Conversation: ConversationLog{},
		Rand:         rand.New(rand.NewSource(7)),
		Logger:       logger,
	}
}

func testTree(addresses ...[]string) *memory.Tree {
	tree := memory.NewTree()
	for _, a := range addresses {
		tree.AddLeaf(a)
	}
	return tree
}

func testConfig(name string, coord world.Coord) Config {
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.Coord = coord
	cfg.Currently = name + " is going about the day"
	cfg.Scratch = Scratch{Age: 20, Lifestyle: "goes to bed around 11pm"}
	cfg.Spatial = SpatialConfig{
		Tree: testTree(
			[]string{"ville", "house", "bedroom", "bed"},
			[]string{"ville", "house", "kitchen", "stove"},
			[]string{"ville", "cafe", "seating", "counter"},
		),
		Address: map[string][]string{memory.AddressLivingArea: {"ville", "house", "bedroom"}},
	}
	return cfg
}

func openStore(t *testing.T) *index.Store {
	t.Helper()
	store, err := index.Open(":memory:", index.NewHashEmbedder(64), retry.Once())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func spawn(t *testing.T, env *Env, cfg Config) *Agent {
	t.Helper()
	a, err := New(cfg, env, openStore(t))
	require.NoError(t, err)
	return a
}

func population(list ...*Agent) map[string]*Agent {
	out := make(map[string]*Agent, len(list))
	for _, a := range list {
		out[a.Name] = a
	}
	return out
}

// script answers prompts containing a rule key and fails everything else,
// so unscripted requests fall back to their failsafe.
type script struct {
	rules map[string]string
	calls map[string]int
}

func newScript(rules map[string]string) *script {
	return &script{rules: rules, calls: make(map[string]int)}
}

func (s *script) Complete(_, prompt string, _ int) (string, error) {
	for _, k := range slices.Sorted(maps.Keys(s.rules)) {
		if strings.Contains(prompt, k) {
			s.calls[k]++
			return s.rules[k], nil
		}
	}
	return "", errors.New("unscripted prompt")
}

// doing replaces the agent's action and refreshes its tile.
func doing(a *Agent, describe string, address []string, duration int) {
	ev := makeEvent(a.Name, describe, address)
	a.action = event.NewAction(ev, nil, a.env.Clock.Now(), duration)
	a.move(a.coord, nil)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing name", func(c *Config) { c.Name = "" }},
		{"no attention", func(c *Config) { c.Percept.AttBandwidth = 0 }},
		{"no ceiling", func(c *Config) { c.Think.PoignancyMax = 0 }},
		{"no chat rounds", func(c *Config) { c.ChatIter = 0 }},
		{"no schedule tries", func(c *Config) { c.Schedule.MaxTry = 0 }},
		{"no retention", func(c *Config) { c.Associate.Retention = 0 }},
	}
	require.NoError(t, testConfig("Klaus Mueller", world.Coord{X: 2, Y: 2}).Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("Klaus Mueller", world.Coord{X: 2, Y: 2})
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	env := newEnv(t, nil, at(9, 30))
	_, err := New(testConfig("Klaus Mueller", world.Coord{X: 40, Y: 2}), env, openStore(t))
	assert.Error(t, err)
}

func TestNew_PlacesIdleEvent(t *testing.T) {
	env := newEnv(t, nil, at(9, 30))
	a := spawn(t, env, testConfig("Klaus Mueller", world.Coord{X: 2, Y: 2}))

	assert.True(t, a.Awake())
	assert.True(t, a.Action().Finished(env.Clock.Now()))
	events := env.Grid.TileAt(world.Coord{X: 2, Y: 2}).Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Fit("Klaus Mueller", event.PredicateNow, event.ObjectIdle))
	assert.Equal(t, []string{"ville", "house", "bedroom"}, events[0].Address)
}

func TestMove_LeavingObjectResetsIt(t *testing.T) {
	env := newEnv(t, nil, at(9, 30))
	a := spawn(t, env, testConfig("Klaus Mueller", bedTiles[0]))

	addr := []string{"ville", "house", "bedroom", "bed"}
	obj := event.New("bed", event.PredicateUsedBy, "Klaus Mueller", addr)
	a.action = event.NewAction(event.New(a.Name, event.PredicateIs, event.ObjectSleeping, addr), &obj, env.Clock.Now(), 60)
	a.move(bedTiles[0], nil)
	for _, c := range bedTiles {
		assert.Contains(t, env.Grid.TileAt(c).Events(), obj, "object state spans every bed tile")
	}

	touched := a.move(world.Coord{X: 2, Y: 2}, nil)
	for _, c := range bedTiles {
		events := env.Grid.TileAt(c).Events()
		require.Len(t, events, 1)
		assert.True(t, events[0].Fit("bed", event.PredicateNow, event.ObjectIdle))
	}
	assert.Contains(t, touched, event.Idle("bed", addr).Key())
	assert.Len(t, env.Grid.TileAt(world.Coord{X: 2, Y: 2}).Events(), 1)
}

func TestMove_MidPathLeavesNoEvent(t *testing.T) {
	env := newEnv(t, nil, at(9, 30))
	a := spawn(t, env, testConfig("Klaus Mueller", world.Coord{X: 2, Y: 2}))

	a.move(world.Coord{X: 3, Y: 2}, []world.Coord{{X: 4, Y: 2}})
	assert.Empty(t, env.Grid.TileAt(world.Coord{X: 2, Y: 2}).Events())
	assert.Empty(t, env.Grid.TileAt(world.Coord{X: 3, Y: 2}).Events())
	assert.Equal(t, []world.Coord{{X: 4, Y: 2}}, a.path)
}

func TestThink_BuildsTodaysSchedule(t *testing.T) {
	env := newEnv(t, nil, at(9, 30))
	a := spawn(t, env, testConfig("Klaus Mueller", world.Coord{X: 2, Y: 2}))

	rec, err := a.Think(Status{Coord: world.Coord{X: 2, Y: 2}}, population(a))
	require.NoError(t, err)
	assert.Equal(t, "Klaus Mueller", rec.Name)

	plans := a.schedule.Plans
	require.NotEmpty(t, plans)
	assert.Equal(t, memory.Plan{Idx: 0, Describe: event.ObjectSleeping, Start: 0, Duration: 360}, plans[0])
	total := 0
	for i, p := range plans {
		total += p.Duration
		if i > 0 {
			assert.Equal(t, plans[i-1].End(), p.Start)
			assert.NotEqual(t, plans[i-1].Describe, p.Describe, "adjacent slots merge")
		}
	}
	assert.Equal(t, memory.MinutesPerDay, total)
	assert.Equal(t, 1, a.associate.Len(memory.TypeThought), "the day's plan is remembered")

	act := a.Action()
	assert.Equal(t, "read a book", act.Event.Describe)
	assert.Equal(t, at(9, 30), act.Start)
	assert.Equal(t, 10, act.Duration)
	assert.Equal(t, "💭", act.Event.Emoji)
	assert.Equal(t, "💭", rec.Emojis["Klaus Mueller"].Emoji)

	// a second tick the same day keeps the schedule
	before := slices.Clone(a.schedule.Plans)
	_, err = a.Think(Status{Coord: a.Coord(), Path: rec.Path}, population(a))
	require.NoError(t, err)
	assert.Equal(t, len(before), len(a.schedule.Plans))
}

func TestThink_SleepSlotTeleportsToBed(t *testing.T) {
	env := newEnv(t, nil, at(23, 10))
	a := spawn(t, env, testConfig("Klaus Mueller", world.Coord{X: 9, Y: 2}))

	rec, err := a.Think(Status{Coord: world.Coord{X: 9, Y: 2}}, population(a))
	require.NoError(t, err)

	assert.False(t, a.Awake())
	assert.Contains(t, bedTiles, a.Coord())
	assert.Empty(t, rec.Path)
	assert.Equal(t, at(23, 0), a.Action().Start)
	assert.Equal(t, 60, a.Action().Duration)
	assert.Empty(t, env.Grid.TileAt(world.Coord{X: 9, Y: 2}).Events())

	assert.Equal(t, Marker{Emoji: "😴", Coord: a.Coord()}, rec.Emojis["Klaus Mueller"])
	bed, ok := rec.Emojis["ville:house:bedroom:bed"]
	require.True(t, ok)
	assert.Equal(t, "🛌", bed.Emoji)
	for _, c := range bedTiles {
		events := env.Grid.TileAt(c).Events()
		assert.True(t, slices.ContainsFunc(events, func(e event.Event) bool {
			return e.Fit("bed", event.PredicateUsedBy, "Klaus Mueller")
		}))
	}

	// asleep, the agent neither perceives nor moves
	env.Clock.Forward(10)
	rec, err = a.Think(Status{Coord: a.Coord()}, population(a))
	require.NoError(t, err)
	assert.False(t, a.Awake())
	assert.Empty(t, rec.Path)
	assert.Zero(t, a.associate.Len(memory.TypeEvent))
}

func TestSnapshot_RestoreRoundTrip(t *testing.T) {
	env := newEnv(t, nil, at(9, 30))
	store := openStore(t)
	cfg := testConfig("Klaus Mueller", world.Coord{X: 2, Y: 2})
	a, err := New(cfg, env, store)
	require.NoError(t, err)
	_, err = a.Think(Status{Coord: cfg.Coord}, population(a))
	require.NoError(t, err)
	a.chats = []memory.ChatLine{{Name: "Maria Lopez", Text: "Hi"}}

	data, err := json.Marshal(a.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))

	fresh := newEnv(t, nil, at(9, 30))
	restored, err := Restore(cfg, fresh, store, snap)
	require.NoError(t, err)
	again, err := json.Marshal(restored.Snapshot())
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))

	sum := restored.Summary()
	assert.Equal(t, 1, sum.Memories[memory.TypeThought])
	assert.Equal(t, "read a book", sum.Plan)
	assert.True(t, sum.Awake)
}
