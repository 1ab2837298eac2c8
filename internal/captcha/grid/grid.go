package grid

import (
	"sort"
	"strconv"
)

// Grid maps each observed tile key to the tile's center point.
type Grid map[Key]Vec3

func (g Grid) Has(k Key) bool {
	_, ok := g[k]
	return ok
}

func (g Grid) Center(k Key) (Vec3, bool) {
	c, ok := g[k]
	return c, ok
}

// Keys returns the grid keys ordered by x, then z.
func (g Grid) Keys() []Key {
	out := make([]Key, 0, len(g))
	for k := range g {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Z < out[j].Z
	})
	return out
}

// Selector picks the entities that are course tiles.
type Selector struct {
	EntityName string
	TileKind   int
}

func (s Selector) Match(e Entity) bool {
	return e.Name == s.EntityName && e.HasBlockID && e.BlockID == s.TileKind
}

// BoxDrawer receives one wireframe request per selected tile.
type BoxDrawer interface {
	WireframeBox(id string, corner, dim Vec3)
}

// Build selects tile entities and indexes their centers by quantized key.
// Entities are visited in id order; a later tile at an already used key
// replaces the earlier one. boxes may be nil.
func Build(entities []Entity, sel Selector, boxes BoxDrawer) Grid {
	ordered := append([]Entity(nil), entities...)
	sort.SliceStable(ordered, func(i, j int) bool { return idLess(ordered[i].ID, ordered[j].ID) })

	g := make(Grid, len(ordered))
	for _, e := range ordered {
		if !sel.Match(e) {
			continue
		}
		center := e.Center()
		g[KeyOfPoint(center)] = center
		if boxes != nil {
			boxes.WireframeBox("box_"+e.ID, e.Corner(), e.Dimension)
		}
	}
	return g
}

// idLess orders numeric ids numerically and everything else lexically,
// numeric ids first.
func idLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
