// Package world provides the grid world model: cells, positions, and the
// kind-tagged entities (players and ghosts) that move across it.
package world

import (
	"errors"
	"fmt"
)

// World model errors.
var (
	ErrOutOfBounds     = errors.New("position out of bounds")
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrDuplicateEntity = errors.New("duplicate entity")
	ErrInvalidCell     = errors.New("invalid cell state")
)

// Position is a grid coordinate.
type Position struct {
	Row int
	Col int
}

// String returns the position as "(row,col)".
func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.Row, p.Col)
}

// Direction is one of the four grid moves.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

// Directions lists every Direction in a fixed order.
var Directions = []Direction{Up, Down, Left, Right}

// Step returns the neighbouring position in direction d.
func (p Position) Step(d Direction) Position {
	switch d {
	case Up:
		return Position{Row: p.Row - 1, Col: p.Col}
	case Down:
		return Position{Row: p.Row + 1, Col: p.Col}
	case Left:
		return Position{Row: p.Row, Col: p.Col - 1}
	default:
		return Position{Row: p.Row, Col: p.Col + 1}
	}
}

// Angle returns the facing angle in degrees for direction d.
func (d Direction) Angle() float64 {
	switch d {
	case Up:
		return 270
	case Down:
		return 90
	case Left:
		return 180
	default:
		return 0
	}
}

// CellState is the content of one grid cell. Values are transmitted by name.
type CellState string

const (
	CellFood     CellState = "FOOD"
	CellEmpty    CellState = "EMPTY"
	CellObstacle CellState = "OBSTACLE"
)

// ParseCellState validates a transmitted cell state name.
//
// Postcondition: Returns ErrInvalidCell for unknown names.
func ParseCellState(s string) (CellState, error) {
	switch c := CellState(s); c {
	case CellFood, CellEmpty, CellObstacle:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCell, s)
	}
}

// Map is a rectangular grid of cells plus its spawn points.
type Map struct {
	name        string
	rows        int
	cols        int
	cells       []CellState
	spawn       Position
	ghostSpawns []Position
}

// NewMap builds a Map from a row-major grid.
//
// Precondition: grid must be non-empty and rectangular; spawn and every
// ghost spawn must be walkable cells.
// Postcondition: Returns a Map or a non-nil error describing the violation.
func NewMap(name string, grid [][]CellState, spawn Position, ghostSpawns []Position) (*Map, error) {
	if len(grid) == 0 || len(grid[0]) == 0 {
		return nil, fmt.Errorf("map %q: grid must not be empty", name)
	}
	m := &Map{
		name:        name,
		rows:        len(grid),
		cols:        len(grid[0]),
		cells:       make([]CellState, 0, len(grid)*len(grid[0])),
		spawn:       spawn,
		ghostSpawns: append([]Position(nil), ghostSpawns...),
	}
	for r, row := range grid {
		if len(row) != m.cols {
			return nil, fmt.Errorf("map %q: row %d has %d cells, want %d", name, r, len(row), m.cols)
		}
		for c, cell := range row {
			if _, err := ParseCellState(string(cell)); err != nil {
				return nil, fmt.Errorf("map %q: cell (%d,%d): %w", name, r, c, err)
			}
			m.cells = append(m.cells, cell)
		}
	}
	if !m.Walkable(spawn) {
		return nil, fmt.Errorf("map %q: spawn %s is not walkable", name, spawn)
	}
	for _, g := range ghostSpawns {
		if !m.Walkable(g) {
			return nil, fmt.Errorf("map %q: ghost spawn %s is not walkable", name, g)
		}
	}
	return m, nil
}

// Name returns the map name.
func (m *Map) Name() string { return m.name }

// Rows returns the number of rows.
func (m *Map) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Map) Cols() int { return m.cols }

// Spawn returns the player spawn position.
func (m *Map) Spawn() Position { return m.spawn }

// GhostSpawns returns the ghost spawn positions.
func (m *Map) GhostSpawns() []Position {
	return append([]Position(nil), m.ghostSpawns...)
}

// In reports whether p lies inside the grid.
func (m *Map) In(p Position) bool {
	return p.Row >= 0 && p.Col >= 0 && p.Row < m.rows && p.Col < m.cols
}

// Cell returns the state of the cell at p.
func (m *Map) Cell(p Position) (CellState, error) {
	if !m.In(p) {
		return "", fmt.Errorf("%w: %s", ErrOutOfBounds, p)
	}
	return m.cells[p.Row*m.cols+p.Col], nil
}

// Walkable reports whether p is inside the grid and not an obstacle.
func (m *Map) Walkable(p Position) bool {
	c, err := m.Cell(p)
	return err == nil && c != CellObstacle
}

// FoodRemaining counts FOOD cells.
func (m *Map) FoodRemaining() int {
	n := 0
	for _, c := range m.cells {
		if c == CellFood {
			n++
		}
	}
	return n
}

// Clone returns an independent copy so each match mutates its own grid.
func (m *Map) Clone() *Map {
	out := *m
	out.cells = append([]CellState(nil), m.cells...)
	out.ghostSpawns = append([]Position(nil), m.ghostSpawns...)
	return &out
}

func (m *Map) set(p Position, c CellState) {
	m.cells[p.Row*m.cols+p.Col] = c
}
