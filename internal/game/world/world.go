package world

import (
	"fmt"
)

// Kind tags an entity as a player or a ghost.
type Kind int

const (
	KindPlayer Kind = iota + 1
	KindGhost
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindGhost:
		return "ghost"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entity is one networked actor. Entities are handed out by value; mutate
// them only through World.
type Entity struct {
	ID    int
	Kind  Kind
	Name  string
	Pos   Position
	Angle float64
	Score int
	// Bot marks a player entity driven by the game layer rather than a
	// remote participant.
	Bot bool
}

// Event is a change to the world. The concrete types are EntityAdded,
// EntityRemoving, EntityMoved and CellChanged.
type Event interface{ isWorldEvent() }

// EntityAdded is recorded after an entity joins the world.
type EntityAdded struct{ Entity Entity }

// EntityRemoving is recorded just before an entity leaves the world.
type EntityRemoving struct{ Entity Entity }

// EntityMoved is recorded after an entity changes position. HasAngle is set
// when the move carried an orientation.
type EntityMoved struct {
	Entity   Entity
	HasAngle bool
}

// CellChanged is recorded after a cell changes state.
type CellChanged struct {
	Pos   Position
	State CellState
}

func (EntityAdded) isWorldEvent()    {}
func (EntityRemoving) isWorldEvent() {}
func (EntityMoved) isWorldEvent()    {}
func (CellChanged) isWorldEvent()    {}

// World holds a grid and the entities on it, and queues an Event for every
// mutation until the owner drains them.
//
// World is not safe for concurrent use; its owner serializes access.
type World struct {
	grid     *Map
	entities map[int]*Entity
	order    []int
	pending  []Event
}

// New creates a world over m. The world takes ownership of m.
func New(m *Map) *World {
	return &World{
		grid:     m,
		entities: make(map[int]*Entity),
	}
}

// Map returns the grid.
func (w *World) Map() *Map { return w.grid }

// Add places e in the world.
//
// Postcondition: Returns ErrDuplicateEntity or ErrOutOfBounds without
// changing the world; otherwise records EntityAdded.
func (w *World) Add(e Entity) error {
	if _, exists := w.entities[e.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateEntity, e.ID)
	}
	if !w.grid.In(e.Pos) {
		return fmt.Errorf("%w: entity %d at %s", ErrOutOfBounds, e.ID, e.Pos)
	}
	stored := e
	w.entities[e.ID] = &stored
	w.order = append(w.order, e.ID)
	w.pending = append(w.pending, EntityAdded{Entity: stored})
	return nil
}

// Remove takes the entity out of the world, recording EntityRemoving first.
//
// Postcondition: Returns the removed entity, or ErrUnknownEntity.
func (w *World) Remove(id int) (Entity, error) {
	e, ok := w.entities[id]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	w.pending = append(w.pending, EntityRemoving{Entity: *e})
	delete(w.entities, id)
	for i, oid := range w.order {
		if oid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return *e, nil
}

// Move sets an entity's position.
func (w *World) Move(id int, pos Position) error {
	return w.move(id, pos, 0, false)
}

// MoveWithAngle sets an entity's position and orientation.
func (w *World) MoveWithAngle(id int, pos Position, angle float64) error {
	return w.move(id, pos, angle, true)
}

func (w *World) move(id int, pos Position, angle float64, hasAngle bool) error {
	e, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	if !w.grid.In(pos) {
		return fmt.Errorf("%w: entity %d to %s", ErrOutOfBounds, id, pos)
	}
	e.Pos = pos
	if hasAngle {
		e.Angle = angle
	}
	w.pending = append(w.pending, EntityMoved{Entity: *e, HasAngle: hasAngle})
	return nil
}

// AddScore adds delta to an entity's score. Scores are not replicated.
func (w *World) AddScore(id int, delta int) error {
	e, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	e.Score += delta
	return nil
}

// SetCell changes a cell's state. Setting a cell to its current state
// records nothing.
func (w *World) SetCell(pos Position, state CellState) error {
	if _, err := ParseCellState(string(state)); err != nil {
		return err
	}
	cur, err := w.grid.Cell(pos)
	if err != nil {
		return err
	}
	if cur == state {
		return nil
	}
	w.grid.set(pos, state)
	w.pending = append(w.pending, CellChanged{Pos: pos, State: state})
	return nil
}

// Entity returns a copy of the entity with the given ID.
func (w *World) Entity(id int) (Entity, bool) {
	e, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Entities returns copies of all entities in insertion order.
func (w *World) Entities() []Entity {
	out := make([]Entity, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, *w.entities[id])
	}
	return out
}

// EntitiesOf returns copies of all entities of kind k in insertion order.
func (w *World) EntitiesOf(k Kind) []Entity {
	var out []Entity
	for _, id := range w.order {
		if e := w.entities[id]; e.Kind == k {
			out = append(out, *e)
		}
	}
	return out
}

// EntitiesAt returns copies of the entities standing on p.
func (w *World) EntitiesAt(p Position) []Entity {
	var out []Entity
	for _, id := range w.order {
		if e := w.entities[id]; e.Pos == p {
			out = append(out, *e)
		}
	}
	return out
}

// Drain returns the events recorded since the last Drain and clears them.
func (w *World) Drain() []Event {
	out := w.pending
	w.pending = nil
	return out
}
