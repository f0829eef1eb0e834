package world

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/ville/internal/event"
)

// testBootstrap is a 7x7 world with a wall at x=3 for y=1..4 and a two-tile
// bed in a bedroom.
func testBootstrap() *Bootstrap {
	b := &Bootstrap{World: "ville", Size: [2]int{7, 7}, TileSize: 32}
	for y := 1; y <= 4; y++ {
		b.Tiles = append(b.Tiles, TileSpec{Coord: Coord{3, y}, Collision: true})
	}
	b.Tiles = append(b.Tiles,
		TileSpec{Coord: Coord{1, 1}, Address: []string{"house", "bedroom", "bed"}},
		TileSpec{Coord: Coord{1, 2}, Address: []string{"house", "bedroom", "bed"}},
		TileSpec{Coord: Coord{2, 1}, Address: []string{"house", "bedroom"}},
		TileSpec{Coord: Coord{5, 1}, Address: []string{"cafe", "counter"}},
	)
	return b
}

func newTestGrid(t *testing.T, b *Bootstrap) *Grid {
	t.Helper()
	g, err := NewGrid(b)
	require.NoError(t, err)
	return g
}

func assertAdjacentSteps(t *testing.T, path []Coord) {
	t.Helper()
	for i := 1; i < len(path); i++ {
		dx, dy := path[i].X-path[i-1].X, path[i].Y-path[i-1].Y
		assert.Equal(t, 1, dx*dx+dy*dy, "step %d: %s -> %s", i, path[i-1], path[i])
	}
}

func TestFindPath_AroundWall(t *testing.T) {
	g := newTestGrid(t, testBootstrap())
	path, err := g.FindPath(Coord{1, 1}, Coord{5, 1})
	require.NoError(t, err)
	// down 4, across 4, up 4
	assert.Len(t, path, 13)
	assert.Equal(t, Coord{1, 1}, path[0])
	assert.Equal(t, Coord{5, 1}, path[len(path)-1])
	assertAdjacentSteps(t, path)
	for _, c := range path {
		assert.False(t, g.TileAt(c).Collision)
		assert.True(t, g.interior(c))
	}
}

func TestFindPath_TieBreakOrder(t *testing.T) {
	g := newTestGrid(t, &Bootstrap{World: "ville", Size: [2]int{5, 5}})
	path, err := g.FindPath(Coord{1, 1}, Coord{3, 3})
	require.NoError(t, err)
	assert.Equal(t, []Coord{{1, 1}, {1, 2}, {1, 3}, {2, 3}, {3, 3}}, path)
}

func TestFindPath_SameTile(t *testing.T) {
	g := newTestGrid(t, testBootstrap())
	path, err := g.FindPath(Coord{2, 2}, Coord{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []Coord{{2, 2}}, path)
}

func TestFindPath_Unreachable(t *testing.T) {
	b := testBootstrap()
	b.Tiles = append(b.Tiles, TileSpec{Coord: Coord{3, 5}, Collision: true})
	g := newTestGrid(t, b)

	tests := []struct {
		name     string
		src, dst Coord
	}{
		{"walled off", Coord{1, 1}, Coord{5, 1}},
		{"border", Coord{1, 1}, Coord{0, 3}},
		{"collision target", Coord{1, 1}, Coord{3, 2}},
		{"out of bounds", Coord{1, 1}, Coord{9, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.FindPath(tt.src, tt.dst)
			assert.ErrorIs(t, err, ErrPathNotFound)
		})
	}
}

func TestGrid_ObjectTileSeedsIdleEvent(t *testing.T) {
	g := newTestGrid(t, testBootstrap())
	events := g.TileAt(Coord{1, 1}).Events()
	require.Len(t, events, 1)
	assert.Equal(t, "bed", events[0].Subject)
	assert.Equal(t, event.PredicateNow, events[0].Predicate)
	assert.Equal(t, event.ObjectIdle, events[0].Object)
	assert.Equal(t, []string{"ville", "house", "bedroom", "bed"}, events[0].Address)

	assert.Empty(t, g.TileAt(Coord{2, 1}).Events())
}

func TestGrid_AddressIndex(t *testing.T) {
	g := newTestGrid(t, testBootstrap())

	beds, ok := g.AddressTiles([]string{"ville", "house", "bedroom", "bed"})
	require.True(t, ok)
	assert.Equal(t, []Coord{{1, 1}, {1, 2}}, beds)

	room, ok := g.AddressTiles([]string{"ville", "house", "bedroom"})
	require.True(t, ok)
	assert.ElementsMatch(t, []Coord{{1, 1}, {2, 1}, {1, 2}}, room)

	_, ok = g.AddressTiles([]string{"ville"})
	assert.False(t, ok, "world level is not indexed")
	_, ok = g.AddressTiles([]string{"ville", "library"})
	assert.False(t, ok)
}

func TestGrid_SetAddressKeepsIndexInSync(t *testing.T) {
	g := newTestGrid(t, testBootstrap())
	assert.Equal(t, 5, g.Addresses())
	require.NoError(t, g.SetAddress(Coord{1, 2}, []string{"house", "bedroom", "desk"}))
	assert.Equal(t, 6, g.Addresses())

	beds, ok := g.AddressTiles([]string{"ville", "house", "bedroom", "bed"})
	require.True(t, ok)
	assert.Equal(t, []Coord{{1, 1}}, beds)

	desks, ok := g.AddressTiles([]string{"ville", "house", "bedroom", "desk"})
	require.True(t, ok)
	assert.Equal(t, []Coord{{1, 2}}, desks)

	events := g.TileAt(Coord{1, 2}).Events()
	require.Len(t, events, 1)
	assert.Equal(t, "desk", events[0].Subject)

	require.NoError(t, g.SetAddress(Coord{1, 1}, nil))
	_, ok = g.AddressTiles([]string{"ville", "house", "bedroom", "bed"})
	assert.False(t, ok)
	assert.Equal(t, 5, g.Addresses())
	assert.Equal(t, []string{"ville"}, g.TileAt(Coord{1, 1}).Address)

	assert.Error(t, g.SetAddress(Coord{1, 1}, []string{"a", "b", "c", "d"}))
}

func TestTile_EventDedupAndRemoval(t *testing.T) {
	g := newTestGrid(t, testBootstrap())
	tile := g.TileAt(Coord{2, 2})
	e := event.New("Klaus", "", "reading", []string{"ville", "house"})
	tile.AddEvent(e)
	tile.AddEvent(e)
	tile.AddEvent(event.New("Maria", "", "", nil))
	assert.Len(t, tile.Events(), 2)

	removed := tile.RemoveEvents("Klaus")
	assert.Len(t, removed, 1)
	assert.Equal(t, "Maria", tile.Events()[0].Subject)
}

func TestGrid_UpdateObject(t *testing.T) {
	g := newTestGrid(t, testBootstrap())
	addr := []string{"ville", "house", "bedroom", "bed"}
	used := event.New("bed", event.PredicateUsedBy, "Klaus", addr)

	coords := g.UpdateObject(Coord{1, 1}, used)
	assert.Equal(t, []Coord{{1, 1}, {1, 2}}, coords)
	for _, c := range coords {
		events := g.TileAt(c).Events()
		require.Len(t, events, 1)
		assert.Equal(t, "Klaus", events[0].Object)
	}

	// mismatched tile is a no-op
	assert.Nil(t, g.UpdateObject(Coord{2, 1}, used))
	other := event.New("bed", event.PredicateUsedBy, "Klaus", []string{"ville", "cafe", "counter", "bed"})
	assert.Nil(t, g.UpdateObject(Coord{1, 1}, other))
}

func TestGrid_ScopeAndAround(t *testing.T) {
	g := newTestGrid(t, testBootstrap())

	scope := g.Scope(Coord{0, 0}, 1)
	got := make([]Coord, len(scope))
	for i, tile := range scope {
		got[i] = tile.Coord
	}
	assert.Equal(t, []Coord{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, got)
	assert.Len(t, g.Scope(Coord{3, 3}, 2), 25)

	assert.Equal(t, []Coord{{1, 0}, {0, 1}}, g.Around(Coord{0, 0}, false))
	assert.Equal(t, []Coord{{1, 2}, {2, 1}, {2, 3}}, g.Around(Coord{2, 2}, true))
	assert.Equal(t, []Coord{{1, 2}, {3, 2}, {2, 1}, {2, 3}}, g.Around(Coord{2, 2}, false))
}

func TestNewGrid_RejectsBadTiles(t *testing.T) {
	b := testBootstrap()
	b.Tiles = append(b.Tiles, TileSpec{Coord: Coord{7, 0}})
	_, err := NewGrid(b)
	assert.Error(t, err)

	b = testBootstrap()
	b.Tiles = append(b.Tiles, TileSpec{Coord: Coord{2, 2}, Address: []string{"a", "b", "c", "d"}})
	_, err = NewGrid(b)
	assert.Error(t, err)
}

func TestParseBootstrap(t *testing.T) {
	data, err := json.Marshal(testBootstrap())
	require.NoError(t, err)
	b, err := ParseBootstrap(data)
	require.NoError(t, err)
	assert.Equal(t, 7, b.Width())
	assert.Equal(t, Coord{1, 1}, b.Tiles[4].Coord)

	bad := []string{
		`{"size":[7,7],"tiles":[]}`,
		`{"world":"ville","size":[7],"tiles":[]}`,
		`{"world":"ville","size":[7,7],"tiles":[{"coord":[1,1],"address":["a","b","c","d"]}]}`,
		`{"world":"ville","size":[7,7],"tiles":[{"coord":[1,1],"color":"red"}]}`,
		`not json`,
	}
	for _, doc := range bad {
		_, err := ParseBootstrap([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestGenerate_VillageIsConnected(t *testing.T) {
	cfg := DefaultGenConfig()
	cfg.Seed = 7
	b := Generate(cfg)

	data, err := json.Marshal(b)
	require.NoError(t, err)
	parsed, err := ParseBootstrap(data)
	require.NoError(t, err)
	g := newTestGrid(t, parsed)

	counter, ok := parsed.Find("Hobbs Cafe", "cafe", "counter")
	require.True(t, ok)
	for _, name := range cfg.Residents {
		bed, ok := parsed.Find(name+"'s house", "bedroom", "bed")
		require.True(t, ok, name)
		path, err := g.FindPath(counter, bed)
		require.NoError(t, err, name)
		assertAdjacentSteps(t, path)
	}

	_, ok = g.AddressTiles([]string{cfg.World, "Johnson Park", "park", "bench"})
	assert.True(t, ok)
}
