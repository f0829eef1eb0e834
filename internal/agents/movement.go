package agents

import (
	"slices"

	"github.com/talgya/ville/internal/event"
	"github.com/talgya/ville/internal/world"
)

// maxTargets is how many tiles of the target address are tried.
const maxTargets = 4

// findPath keeps a queued path, or plans one towards the current action's
// address. The returned path excludes the agent's own tile; it is empty when
// the agent is already there, is waiting, or nothing is reachable.
func (a *Agent) findPath(agents map[string]*Agent) []world.Coord {
	if len(a.path) > 0 {
		a.env.Claim(a.path[len(a.path)-1], a.Name)
		return slices.Clone(a.path)
	}
	address := a.event().Address
	if len(address) == 0 || slices.Equal(address, a.tile().Address) {
		return nil
	}
	if a.event().Predicate == event.PredicateWaiting {
		return nil
	}
	targets, ok := a.env.Grid.AddressTiles(address)
	if !ok || slices.Contains(targets, a.coord) {
		return nil
	}

	targets = slices.DeleteFunc(targets, func(c world.Coord) bool {
		if c == a.coord || a.env.ClaimedByOther(c, a.Name) {
			return true
		}
		for _, e := range a.env.Grid.TileAt(c).Events() {
			if _, ok := agents[e.Subject]; ok && e.Subject != a.Name {
				return true
			}
		}
		return false
	})
	if len(targets) >= maxTargets {
		sample := make([]world.Coord, maxTargets)
		for i, j := range a.env.Rand.Perm(len(targets))[:maxTargets] {
			sample[i] = targets[j]
		}
		targets = sample
	}

	var best []world.Coord
	for _, t := range targets {
		path, err := a.env.Grid.FindPath(a.coord, t)
		if err != nil {
			continue
		}
		if best == nil || len(path) < len(best) {
			best = path
		}
	}
	if len(best) < 2 {
		if best == nil {
			a.logger.Debug("no reachable target", "address", address)
		}
		return nil
	}
	a.env.Claim(best[len(best)-1], a.Name)
	return best[1:]
}
