package pathfind

import (
	"errors"
	"testing"

	"gridwalk.ai/internal/captcha/grid"
)

func gridOf(keys ...grid.Key) grid.Grid {
	g := grid.Grid{}
	for _, k := range keys {
		x, z := k.XZ()
		g[k] = grid.Vec3{X: x, Y: 100, Z: z}
	}
	return g
}

func assertWellFormed(t *testing.T, p Path) {
	t.Helper()
	seen := map[grid.Key]bool{}
	for i, k := range p {
		if seen[k] {
			t.Fatalf("repeated key %v in %v", k, p.Strings())
		}
		seen[k] = true
		if i > 0 && p[i-1].ManhattanUnits(k) != 1 {
			t.Fatalf("non-adjacent step %v -> %v", p[i-1], k)
		}
		if i > 0 && p[i-1].X != k.X && p[i-1].Z != k.Z {
			t.Fatalf("diagonal step %v -> %v", p[i-1], k)
		}
	}
}

func TestFind_StraightCorridor(t *testing.T) {
	var keys []grid.Key
	for x := 0; x < 5; x++ {
		keys = append(keys, grid.KeyOf(float64(x), 0))
	}
	g := gridOf(keys...)
	p, err := Find(g, grid.KeyOf(0, 0), grid.KeyOf(4, 0))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(p) != 5 {
		t.Fatalf("len=%d want 5: %v", len(p), p.Strings())
	}
	want := []string{"0.0,0.0", "1.0,0.0", "2.0,0.0", "3.0,0.0", "4.0,0.0"}
	for i, s := range p.Strings() {
		if s != want[i] {
			t.Fatalf("path[%d]=%s want %s", i, s, want[i])
		}
	}
	assertWellFormed(t, p)
}

func block3x3(skip ...grid.Key) grid.Grid {
	g := grid.Grid{}
	for x := 0; x < 3; x++ {
		for z := 0; z < 3; z++ {
			k := grid.KeyOf(float64(x), float64(z))
			drop := false
			for _, s := range skip {
				if s == k {
					drop = true
				}
			}
			if !drop {
				g[k] = grid.Vec3{X: float64(x), Z: float64(z)}
			}
		}
	}
	return g
}

func TestFind_AroundMissingCenter(t *testing.T) {
	g := block3x3(grid.KeyOf(1, 1))

	// Corner to corner: the gap does not force a detour.
	p, err := Find(g, grid.KeyOf(0, 0), grid.KeyOf(2, 2))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(p)-1 != 4 {
		t.Fatalf("hops=%d want 4 (manhattan): %v", len(p)-1, p.Strings())
	}
	for _, k := range p {
		if k == grid.KeyOf(1, 1) {
			t.Fatalf("path crosses missing tile: %v", p.Strings())
		}
	}
	assertWellFormed(t, p)

	// Across the gap: manhattan is 2 but the shortest detour is 4.
	p, err = Find(g, grid.KeyOf(1, 0), grid.KeyOf(1, 2))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(p)-1 != 4 {
		t.Fatalf("hops=%d want 4 (detour): %v", len(p)-1, p.Strings())
	}
	assertWellFormed(t, p)
}

func TestFind_TieBreakFollowsNeighborOrder(t *testing.T) {
	g := block3x3(grid.KeyOf(1, 1))
	p, err := Find(g, grid.KeyOf(0, 0), grid.KeyOf(2, 2))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	// +x is tried before +z, so the route runs along z=0 first.
	if p[1] != grid.KeyOf(1, 0) {
		t.Fatalf("expected +x first step, got %v", p.Strings())
	}
}

func TestFind_NotFound(t *testing.T) {
	g := gridOf(grid.KeyOf(0, 0), grid.KeyOf(1, 0), grid.KeyOf(3, 0))
	if _, err := Find(g, grid.KeyOf(0, 0), grid.KeyOf(3, 0)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("disconnected goal: err=%v", err)
	}
	if _, err := Find(g, grid.KeyOf(0, 0), grid.KeyOf(9, 9)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("absent goal: err=%v", err)
	}
}

func TestFind_StartIsGoal(t *testing.T) {
	g := gridOf(grid.KeyOf(0, 0))
	p, err := Find(g, grid.KeyOf(0, 0), grid.KeyOf(0, 0))
	if err != nil || len(p) != 1 {
		t.Fatalf("p=%v err=%v", p, err)
	}
}

func TestFind_StartOffGrid(t *testing.T) {
	g := gridOf(grid.KeyOf(1, 0), grid.KeyOf(2, 0))
	p, err := Find(g, grid.KeyOf(0, 0), grid.KeyOf(2, 0))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(p) != 3 || p[0] != grid.KeyOf(0, 0) {
		t.Fatalf("unexpected path %v", p.Strings())
	}
}
