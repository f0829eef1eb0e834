// Package world provides the tile grid, the address index and pathfinding.
// Addresses are hierarchical: world, sector, arena, object.
package world

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/talgya/ville/internal/event"
)

// Address levels, 1-based as in a full address path.
const (
	LevelWorld  = 1
	LevelSector = 2
	LevelArena  = 3
	LevelObject = 4
)

// DefaultAddressKeys names the address levels when a bootstrap omits them.
var DefaultAddressKeys = []string{"world", "sector", "arena", "game_object"}

// Coord is a tile position. It serializes as [x, y].
type Coord struct {
	X int
	Y int
}

// MarshalJSON writes the coordinate as a two-element array.
func (c Coord) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{c.X, c.Y})
}

// UnmarshalJSON reads a two-element array.
func (c *Coord) UnmarshalJSON(data []byte) error {
	var xy [2]int
	if err := json.Unmarshal(data, &xy); err != nil {
		return fmt.Errorf("decode coord: %w", err)
	}
	c.X, c.Y = xy[0], xy[1]
	return nil
}

// UnmarshalYAML reads a two-element sequence.
func (c *Coord) UnmarshalYAML(value *yaml.Node) error {
	var xy [2]int
	if err := value.Decode(&xy); err != nil {
		return fmt.Errorf("decode coord: %w", err)
	}
	c.X, c.Y = xy[0], xy[1]
	return nil
}

// MarshalYAML writes the coordinate as a two-element sequence.
func (c Coord) MarshalYAML() (any, error) {
	return []int{c.X, c.Y}, nil
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

type tileEvent struct {
	id    int
	event event.Event
}

// Tile is a single cell of the grid.
type Tile struct {
	Coord     Coord
	Address   []string // world first, up to LevelObject entries
	Collision bool

	nextID int
	events []tileEvent
}

func newTile(c Coord, world string, address []string, collision bool) *Tile {
	t := &Tile{Coord: c, Collision: collision}
	t.setAddress(world, address)
	return t
}

func (t *Tile) setAddress(world string, address []string) {
	t.Address = append([]string{world}, address...)
	if len(t.Address) == LevelObject {
		t.AddEvent(event.Idle(t.Address[LevelObject-1], t.Address))
	}
}

// AddEvent stores e unless an equal event is already present, and returns it.
func (t *Tile) AddEvent(e event.Event) event.Event {
	for _, te := range t.events {
		if te.event.Equal(e) {
			return e
		}
	}
	t.events = append(t.events, tileEvent{id: t.nextID, event: e.Clone()})
	t.nextID++
	return e
}

// RemoveEvents drops every event with the given subject and returns them.
func (t *Tile) RemoveEvents(subject string) []event.Event {
	var removed []event.Event
	kept := t.events[:0]
	for _, te := range t.events {
		if te.event.Subject == subject {
			removed = append(removed, te.event)
			continue
		}
		kept = append(kept, te)
	}
	t.events = kept
	return removed
}

// UpdateEvents replaces every event sharing e's subject with e, keeping ids.
func (t *Tile) UpdateEvents(e event.Event) []event.Event {
	var updated []event.Event
	for i := range t.events {
		if t.events[i].event.Subject == e.Subject {
			t.events[i].event = e.Clone()
			updated = append(updated, e)
		}
	}
	return updated
}

// Events returns the tile's events in insertion order.
func (t *Tile) Events() []event.Event {
	out := make([]event.Event, len(t.events))
	for i, te := range t.events {
		out[i] = te.event.Clone()
	}
	return out
}

// HasLevel reports whether the address reaches the given level.
func (t *Tile) HasLevel(level int) bool {
	return len(t.Address) >= level
}

// AddressTo returns the address truncated to level. It is nil when the tile
// does not reach that level.
func (t *Tile) AddressTo(level int) []string {
	if !t.HasLevel(level) {
		return nil
	}
	return append([]string(nil), t.Address[:level]...)
}

// Prefixes returns every colon-joined address prefix of two or more levels.
func (t *Tile) Prefixes() []string {
	var out []string
	for i := LevelSector; i <= len(t.Address); i++ {
		out = append(out, strings.Join(t.Address[:i], ":"))
	}
	return out
}

// Grid holds the tiles of one world plus the address index.
type Grid struct {
	World       string
	Width       int
	Height      int
	TileSize    int
	AddressKeys []string

	tiles [][]*Tile // [y][x]
	index map[string][]Coord
}

// NewGrid builds the grid described by a bootstrap.
func NewGrid(b *Bootstrap) (*Grid, error) {
	if b.Width() <= 0 || b.Height() <= 0 {
		return nil, fmt.Errorf("grid size %v: dimensions must be positive", b.Size)
	}
	keys := b.AddressKeys
	if len(keys) == 0 {
		keys = DefaultAddressKeys
	}
	g := &Grid{
		World:       b.World,
		Width:       b.Width(),
		Height:      b.Height(),
		TileSize:    b.TileSize,
		AddressKeys: keys,
		index:       make(map[string][]Coord),
	}
	g.tiles = make([][]*Tile, g.Height)
	for y := range g.tiles {
		g.tiles[y] = make([]*Tile, g.Width)
		for x := range g.tiles[y] {
			g.tiles[y][x] = newTile(Coord{x, y}, g.World, nil, false)
		}
	}
	for _, spec := range b.Tiles {
		if !g.InBounds(spec.Coord) {
			return nil, fmt.Errorf("tile %s outside %dx%d grid", spec.Coord, g.Width, g.Height)
		}
		if len(spec.Address) >= len(keys) {
			return nil, fmt.Errorf("tile %s address %v deeper than %d levels", spec.Coord, spec.Address, len(keys))
		}
		g.tiles[spec.Coord.Y][spec.Coord.X] = newTile(spec.Coord, g.World, spec.Address, spec.Collision)
	}
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			g.indexTile(g.tiles[y][x])
		}
	}
	return g, nil
}

func (g *Grid) indexTile(t *Tile) {
	for _, p := range t.Prefixes() {
		g.index[p] = append(g.index[p], t.Coord)
	}
}

func (g *Grid) unindexTile(t *Tile) {
	for _, p := range t.Prefixes() {
		coords := g.index[p]
		for i, c := range coords {
			if c == t.Coord {
				coords = append(coords[:i:i], coords[i+1:]...)
				break
			}
		}
		if len(coords) == 0 {
			delete(g.index, p)
		} else {
			g.index[p] = coords
		}
	}
}

// InBounds reports whether c lies on the grid.
func (g *Grid) InBounds(c Coord) bool {
	return c.X >= 0 && c.X < g.Width && c.Y >= 0 && c.Y < g.Height
}

// TileAt returns the tile at c. It panics on out-of-bounds coordinates.
func (g *Grid) TileAt(c Coord) *Tile {
	return g.tiles[c.Y][c.X]
}

// SetAddress changes a tile's address (excluding the world name) and keeps
// the address index in sync. The old object's idle event is dropped.
func (g *Grid) SetAddress(c Coord, address []string) error {
	if !g.InBounds(c) {
		return fmt.Errorf("set address %s: out of bounds", c)
	}
	if len(address) >= len(g.AddressKeys) {
		return fmt.Errorf("set address %s: %v deeper than %d levels", c, address, len(g.AddressKeys))
	}
	t := g.TileAt(c)
	g.unindexTile(t)
	if t.HasLevel(LevelObject) {
		t.RemoveEvents(t.Address[LevelObject-1])
	}
	t.setAddress(g.World, address)
	g.indexTile(t)
	return nil
}

// AddressTiles returns the coordinates sharing the given address prefix.
func (g *Grid) AddressTiles(address []string) ([]Coord, bool) {
	coords, ok := g.index[strings.Join(address, ":")]
	if !ok {
		return nil, false
	}
	return append([]Coord(nil), coords...), true
}

// Addresses returns the number of indexed address prefixes.
func (g *Grid) Addresses() int {
	return len(g.index)
}

// Scope returns the tiles inside the box of the given radius around c,
// clipped to the grid, x-major.
func (g *Grid) Scope(c Coord, radius int) []*Tile {
	x0, x1 := max(c.X-radius, 0), min(c.X+radius+1, g.Width)
	y0, y1 := max(c.Y-radius, 0), min(c.Y+radius+1, g.Height)
	var tiles []*Tile
	for x := x0; x < x1; x++ {
		for y := y0; y < y1; y++ {
			tiles = append(tiles, g.tiles[y][x])
		}
	}
	return tiles
}

// Around returns the in-bounds 4-neighbors of c in the order -x, +x, -y, +y,
// optionally skipping collision tiles.
func (g *Grid) Around(c Coord, excludeCollision bool) []Coord {
	candidates := [4]Coord{{c.X - 1, c.Y}, {c.X + 1, c.Y}, {c.X, c.Y - 1}, {c.X, c.Y + 1}}
	out := make([]Coord, 0, 4)
	for _, n := range candidates {
		if !g.InBounds(n) {
			continue
		}
		if excludeCollision && g.TileAt(n).Collision {
			continue
		}
		out = append(out, n)
	}
	return out
}

// UpdateObject propagates an object event to every tile of that object. It is
// a no-op unless the tile at c is an object tile whose address matches the
// event's address.
func (g *Grid) UpdateObject(c Coord, e event.Event) []Coord {
	t := g.TileAt(c)
	if !t.HasLevel(LevelObject) {
		return nil
	}
	if strings.Join(t.AddressTo(LevelObject), ":") != e.AddressString() {
		return nil
	}
	coords, ok := g.index[e.AddressString()]
	if !ok {
		return nil
	}
	for _, oc := range coords {
		g.TileAt(oc).UpdateEvents(e)
	}
	return append([]Coord(nil), coords...)
}

func (g *Grid) String() string {
	return fmt.Sprintf("Grid(%s, %dx%d, addresses=%d)", g.World, g.Width, g.Height, len(g.index))
}
