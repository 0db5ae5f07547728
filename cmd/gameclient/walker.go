package main

import (
	"math/rand/v2"

	"github.com/cory-johannsen/gridchase/internal/game/world"
)

// walker picks random walkable steps, keeping its heading most of the time
// and reversing only at dead ends.
type walker struct {
	rng     *rand.Rand
	heading world.Direction
	// keep is the probability of continuing in the current heading when
	// that step is walkable.
	keep float64
}

func newWalker(rng *rand.Rand) *walker {
	return &walker{rng: rng, heading: world.Right, keep: 0.75}
}

func opposite(d world.Direction) world.Direction {
	switch d {
	case world.Up:
		return world.Down
	case world.Down:
		return world.Up
	case world.Left:
		return world.Right
	default:
		return world.Left
	}
}

// next returns the direction and target of the walker's next step from
// pos, or false when every neighbour is blocked.
//
// Postcondition: A returned target is adjacent to pos and walkable on m.
func (w *walker) next(m *world.Map, pos world.Position) (world.Direction, world.Position, bool) {
	var open []world.Direction
	headingOpen := false
	for _, d := range world.Directions {
		if !m.Walkable(pos.Step(d)) {
			continue
		}
		open = append(open, d)
		if d == w.heading {
			headingOpen = true
		}
	}
	if len(open) == 0 {
		return 0, pos, false
	}
	if headingOpen && w.rng.Float64() < w.keep {
		return w.heading, pos.Step(w.heading), true
	}

	choices := open
	if len(open) > 1 {
		back := opposite(w.heading)
		choices = choices[:0:0]
		for _, d := range open {
			if d != back {
				choices = append(choices, d)
			}
		}
	}
	d := choices[w.rng.IntN(len(choices))]
	w.heading = d
	return d, pos.Step(d), true
}
