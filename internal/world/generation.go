// Demo village generation. Buildings line a single street; open ground is
// scattered with trees using layered simplex noise.
package world

import (
	"fmt"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds village generation parameters.
type GenConfig struct {
	World     string
	Width     int      // grown to fit the houses
	Height    int      // at least 12
	Seed      int64    // 0 = random
	TreeLevel float64  // noise threshold for a tree (0.0–1.0)
	Residents []string // one house per resident
}

// DefaultGenConfig returns a small three-house village.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		World:     "the Ville",
		Width:     24,
		Height:    16,
		Seed:      0,
		TreeLevel: 0.68,
		Residents: []string{"Isabella Rodriguez", "Klaus Mueller", "Maria Lopez"},
	}
}

const (
	houseWidth  = 6
	houseDepth  = 4
	minHeight   = 12
	streetRow   = 6
	cafeLeft    = 2
	parkLeft    = 11
	minVillageW = 20
)

// Generate builds the bootstrap for a demo village.
func Generate(cfg GenConfig) *Bootstrap {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	if cfg.World == "" {
		cfg.World = DefaultGenConfig().World
	}
	width := max(cfg.Width, minVillageW, len(cfg.Residents)*(houseWidth+1)+3)
	height := max(cfg.Height, minHeight)

	v := &village{
		width:  width,
		height: height,
		tiles:  make(map[Coord]*TileSpec),
	}

	for i, name := range cfg.Residents {
		v.house(2+i*(houseWidth+1), name+"'s house")
	}
	v.cafe()
	v.park()

	trees := opensimplex.NewNormalized(seed)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := Coord{x, y}
			if x == 0 || y == 0 || x == width-1 || y == height-1 {
				v.tiles[c] = &TileSpec{Coord: c, Collision: true}
				continue
			}
			if y == streetRow || v.tiles[c] != nil {
				continue
			}
			if octaveNoise(trees, float64(x), float64(y), 3, 0.15, 0.5) > cfg.TreeLevel {
				v.tiles[c] = &TileSpec{Coord: c, Collision: true}
			}
		}
	}

	b := &Bootstrap{
		World:       cfg.World,
		Size:        [2]int{height, width},
		TileSize:    32,
		AddressKeys: append([]string(nil), DefaultAddressKeys...),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if t, ok := v.tiles[Coord{x, y}]; ok {
				b.Tiles = append(b.Tiles, *t)
			}
		}
	}
	return b
}

type village struct {
	width, height int
	tiles         map[Coord]*TileSpec
}

func (v *village) fill(x0, y0, x1, y1 int, address ...string) {
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			c := Coord{x, y}
			v.tiles[c] = &TileSpec{Coord: c, Address: append([]string(nil), address...)}
		}
	}
}

// house occupies the rows above the street: bedroom on the left half,
// kitchen on the right.
func (v *village) house(x0 int, sector string) {
	top := streetRow - houseDepth
	mid := x0 + houseWidth/2
	v.fill(x0, top, mid-1, streetRow-1, sector, "bedroom")
	v.fill(mid, top, x0+houseWidth-1, streetRow-1, sector, "kitchen")
	v.fill(x0, top, x0, top+1, sector, "bedroom", "bed")
	v.fill(x0+1, top, x0+1, top, sector, "bedroom", "desk")
	v.fill(x0+houseWidth-1, top, x0+houseWidth-1, top, sector, "kitchen", "stove")
	v.fill(x0+houseWidth-2, top, x0+houseWidth-2, top, sector, "kitchen", "refrigerator")
}

func (v *village) cafe() {
	top, bottom := streetRow+1, streetRow+houseDepth
	v.fill(cafeLeft, top, cafeLeft+7, bottom, "Hobbs Cafe", "cafe")
	v.fill(cafeLeft, bottom, cafeLeft+1, bottom, "Hobbs Cafe", "cafe", "counter")
	v.fill(cafeLeft+2, bottom, cafeLeft+2, bottom, "Hobbs Cafe", "cafe", "coffee machine")
	v.fill(cafeLeft+5, top+1, cafeLeft+6, top+1, "Hobbs Cafe", "cafe", "customer seating")
}

func (v *village) park() {
	top, bottom := streetRow+1, streetRow+houseDepth
	v.fill(parkLeft, top, parkLeft+5, bottom, "Johnson Park", "park")
	v.fill(parkLeft+2, top+2, parkLeft+2, top+2, "Johnson Park", "park", "bench")
	v.fill(parkLeft+4, top+1, parkLeft+4, top+1, "Johnson Park", "park", "fountain")
}

// Find returns the first tile, row-major, whose address starts with address.
func (b *Bootstrap) Find(address ...string) (Coord, bool) {
	best := Coord{}
	found := false
	for _, t := range b.Tiles {
		if len(t.Address) < len(address) {
			continue
		}
		match := true
		for i, a := range address {
			if t.Address[i] != a {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if !found || t.Coord.Y < best.Y || (t.Coord.Y == best.Y && t.Coord.X < best.X) {
			best, found = t.Coord, true
		}
	}
	return best, found
}

// Describe summarizes a bootstrap for logs.
func (b *Bootstrap) Describe() string {
	collisions := 0
	for _, t := range b.Tiles {
		if t.Collision {
			collisions++
		}
	}
	return fmt.Sprintf("%s %dx%d, %d tiles overridden, %d collisions", b.World, b.Width(), b.Height(), len(b.Tiles), collisions)
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
