package world

import (
	"errors"
	"fmt"
	"math"
)

// ErrPathNotFound is returned when the destination cannot be reached.
var ErrPathNotFound = errors.New("path not found")

// FindPath returns the shortest 4-connected path from src to dst, both
// inclusive. The outer one-tile border and collision tiles are never
// entered. Ties are broken by the Around order.
func (g *Grid) FindPath(src, dst Coord) ([]Coord, error) {
	if !g.InBounds(src) || !g.InBounds(dst) {
		return nil, fmt.Errorf("find path %s -> %s: %w", src, dst, ErrPathNotFound)
	}
	if src == dst {
		return []Coord{src}, nil
	}

	dist := make([][]int, g.Height)
	for y := range dist {
		dist[y] = make([]int, g.Width)
	}
	dist[src.Y][src.X] = 1

	frontier := []Coord{src}
	for dist[dst.Y][dst.X] == 0 {
		if len(frontier) == 0 {
			return nil, fmt.Errorf("find path %s -> %s: %w", src, dst, ErrPathNotFound)
		}
		var next []Coord
		for _, f := range frontier {
			for _, c := range g.Around(f, true) {
				if !g.interior(c) || dist[c.Y][c.X] != 0 {
					continue
				}
				dist[c.Y][c.X] = dist[f.Y][f.X] + 1
				next = append(next, c)
			}
		}
		frontier = next
	}

	step := dist[dst.Y][dst.X]
	path := make([]Coord, step)
	path[step-1] = dst
	for i := step - 1; i > 0; i-- {
		for _, c := range g.Around(path[i], false) {
			if dist[c.Y][c.X] == i {
				path[i-1] = c
				break
			}
		}
	}
	return path, nil
}

func (g *Grid) interior(c Coord) bool {
	return c.X > 0 && c.X < g.Width-1 && c.Y > 0 && c.Y < g.Height-1
}

// Distance is the Euclidean distance between two coordinates.
func Distance(a, b Coord) float64 {
	dx, dy := float64(a.X-b.X), float64(a.Y-b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
