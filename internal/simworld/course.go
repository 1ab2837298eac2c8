package simworld

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"gridwalk.ai/internal/captcha/grid"
	"gridwalk.ai/internal/protocol"
)

// Course is a rectangular tile layout. Row r, column c is the unit cell whose
// lower corner is Origin + (c, 0, r).
//
// Layout characters:
//
//	#  tile
//	S  start tile
//	G  goal tile
//	x  decoy: same entity name, different block id
//	.  nothing
type Course struct {
	Origin     [3]float64 `yaml:"origin"`
	TileEntity string     `yaml:"tile_entity"`
	TileKind   int        `yaml:"tile_kind"`
	DecoyKind  int        `yaml:"decoy_kind"`
	Rows       []string   `yaml:"rows"`
}

func DefaultCourse() Course {
	return Course{
		Origin:     [3]float64{-1002, 99, -1020},
		TileEntity: "block_display",
		TileKind:   2060,
		DecoyKind:  2061,
		Rows: []string{
			"..S..",
			"..#..",
			"..###",
			"....#",
			"..###",
			"..#..",
			"###.x",
			"#....",
			"###..",
			"..#..",
			"..##.",
			"...#.",
			"..##.",
			"..#..",
			"..G..",
		},
	}
}

func LoadCourse(path string) (Course, error) {
	c := DefaultCourse()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("course.yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("course.yaml: %w", err)
	}
	return c, nil
}

func (c Course) Validate() error {
	if len(c.Rows) == 0 {
		return fmt.Errorf("no rows")
	}
	starts, goals := 0, 0
	for r, row := range c.Rows {
		for col, ch := range row {
			switch ch {
			case 'S':
				starts++
			case 'G':
				goals++
			case '#', 'x', '.':
			default:
				return fmt.Errorf("row %d col %d: unknown cell %q", r, col, ch)
			}
		}
	}
	if starts != 1 || goals != 1 {
		return fmt.Errorf("need exactly one S and one G (got %d, %d)", starts, goals)
	}
	if c.TileEntity == "" {
		return fmt.Errorf("missing tile_entity")
	}
	return nil
}

func (c Course) cellCenter(row, col int) grid.Vec3 {
	return grid.Vec3{
		X: c.Origin[0] + float64(col) + 0.5,
		Y: c.Origin[1] + 0.5,
		Z: c.Origin[2] + float64(row) + 0.5,
	}
}

func (c Course) find(want rune) (grid.Vec3, bool) {
	for r, row := range c.Rows {
		for col, ch := range row {
			if ch == want {
				return c.cellCenter(r, col), true
			}
		}
	}
	return grid.Vec3{}, false
}

// Start is the center of the S tile.
func (c Course) Start() (grid.Vec3, bool) { return c.find('S') }

// Goal is the center of the G tile.
func (c Course) Goal() (grid.Vec3, bool) { return c.find('G') }

// Entities encodes the layout the way the world server sends it. Every other
// tile carries its position in the offset slot instead of the raw position,
// and only some tiles carry an explicit dimension, so clients have to
// resolve both slots.
func (c Course) Entities(slots grid.SlotLayout) []protocol.EntityObs {
	var out []protocol.EntityObs
	n := 0
	for r, row := range c.Rows {
		for col, ch := range row {
			kind := c.TileKind
			switch ch {
			case '#', 'S', 'G':
			case 'x':
				kind = c.DecoyKind
			default:
				continue
			}
			corner := grid.Vec3{X: c.Origin[0] + float64(col), Y: c.Origin[1], Z: c.Origin[2] + float64(r)}
			pos := corner
			meta := map[string]json.RawMessage{
				strconv.Itoa(slots.Kind): mustJSON(kind),
			}
			if n%2 == 1 {
				off := grid.Vec3{X: 0.25, Z: 0.25}
				pos = grid.Vec3{X: corner.X - off.X, Y: corner.Y, Z: corner.Z - off.Z}
				meta[strconv.Itoa(slots.Offset)] = mustJSON(off)
			}
			if n%3 == 0 {
				meta[strconv.Itoa(slots.Dimension)] = mustJSON([3]float64{1, 1, 1})
			}
			out = append(out, protocol.EntityObs{
				ID:       strconv.Itoa(1000 + n),
				Name:     c.TileEntity,
				Pos:      pos.ToArray(),
				Metadata: meta,
			})
			n++
		}
	}
	return out
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
