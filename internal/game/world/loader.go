package world

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed maps/*.yaml
var builtinMaps embed.FS

// yamlMapFile is the top-level YAML structure for map files.
type yamlMapFile struct {
	Map yamlMap `yaml:"map"`
}

// yamlMap is the YAML representation of a map. Layout rows use '#' for
// obstacles, '.' for food and ' ' for empty floor.
type yamlMap struct {
	Name        string         `yaml:"name"`
	Spawn       yamlPosition   `yaml:"spawn"`
	GhostSpawns []yamlPosition `yaml:"ghost_spawns"`
	Layout      []string       `yaml:"layout"`
}

type yamlPosition struct {
	Row int `yaml:"row"`
	Col int `yaml:"col"`
}

// LoadMapFromBytes parses and validates a map from YAML bytes.
//
// Precondition: data must be valid YAML conforming to the map schema.
// Postcondition: Returns a validated Map or a non-nil error.
func LoadMapFromBytes(data []byte) (*Map, error) {
	var file yamlMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing map YAML: %w", err)
	}
	ym := file.Map
	if ym.Name == "" {
		return nil, errors.New("map name must not be empty")
	}

	grid := make([][]CellState, 0, len(ym.Layout))
	for r, line := range ym.Layout {
		row := make([]CellState, 0, len(line))
		for c, ch := range line {
			switch ch {
			case '#':
				row = append(row, CellObstacle)
			case '.':
				row = append(row, CellFood)
			case ' ':
				row = append(row, CellEmpty)
			default:
				return nil, fmt.Errorf("map %q: unknown layout character %q at (%d,%d)", ym.Name, ch, r, c)
			}
		}
		grid = append(grid, row)
	}

	ghosts := make([]Position, 0, len(ym.GhostSpawns))
	for _, g := range ym.GhostSpawns {
		ghosts = append(ghosts, Position{Row: g.Row, Col: g.Col})
	}
	return NewMap(ym.Name, grid, Position{Row: ym.Spawn.Row, Col: ym.Spawn.Col}, ghosts)
}

// LoadMapFile reads and validates a single map YAML file.
func LoadMapFile(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map file %s: %w", path, err)
	}
	m, err := LoadMapFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading map file %s: %w", path, err)
	}
	return m, nil
}

// Builtin loads one of the maps compiled into the binary.
func Builtin(name string) (*Map, error) {
	data, err := builtinMaps.ReadFile("maps/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown built-in map %q", name)
	}
	return LoadMapFromBytes(data)
}

// BuiltinNames lists the compiled-in map names in sorted order.
func BuiltinNames() []string {
	entries, _ := fs.ReadDir(builtinMaps, "maps")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Loader resolves map names, preferring <dir>/<name>.yaml over built-ins.
// Server and client must resolve the same name to the same layout.
type Loader struct {
	dir string
}

// NewLoader creates a Loader. An empty dir uses built-in maps only.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load returns a fresh copy of the named map.
//
// Postcondition: Returns a Map whose Name equals name, or a non-nil error.
func (l *Loader) Load(name string) (*Map, error) {
	if l.dir != "" {
		path := filepath.Join(l.dir, name+".yaml")
		if _, err := os.Stat(path); err == nil {
			m, err := LoadMapFile(path)
			if err != nil {
				return nil, err
			}
			if m.Name() != name {
				return nil, fmt.Errorf("map file %s declares name %q, want %q", path, m.Name(), name)
			}
			return m, nil
		}
	}
	return Builtin(name)
}
