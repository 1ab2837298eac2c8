package grid

import (
	"encoding/json"
	"testing"

	"gridwalk.ai/internal/protocol"
)

var tileSel = Selector{EntityName: "block_display", TileKind: 2060}

func tileAt(id string, x, z float64) Entity {
	return Entity{
		ID:         id,
		Name:       "block_display",
		Pos:        Vec3{X: x, Y: 99, Z: z},
		Dimension:  Vec3{X: 1, Y: 1, Z: 1},
		BlockID:    2060,
		HasBlockID: true,
	}
}

type boxRecorder struct {
	ids []string
}

func (r *boxRecorder) WireframeBox(id string, corner, dim Vec3) {
	r.ids = append(r.ids, id)
}

func TestKeyOf_StableAndFormatted(t *testing.T) {
	a := KeyOf(-999.5, -1019.5)
	b := KeyOf(-999.5, -1019.5)
	if a != b {
		t.Fatalf("same point produced different keys: %v %v", a, b)
	}
	if got := a.String(); got != "-999.5,-1019.5" {
		t.Fatalf("String()=%q", got)
	}
	if got := KeyOf(-0.5, 0.04).String(); got != "-0.5,0.0" {
		t.Fatalf("String()=%q", got)
	}
	x, z := KeyOf(4, -2).XZ()
	if x != 4 || z != -2 {
		t.Fatalf("XZ()=(%v,%v)", x, z)
	}
}

func TestKeyStepAndManhattan(t *testing.T) {
	k := KeyOf(0, 0)
	if got := k.Step(1, 0); got != KeyOf(1, 0) {
		t.Fatalf("Step(1,0)=%v", got)
	}
	if got := k.Step(0, -1); got != KeyOf(0, -1) {
		t.Fatalf("Step(0,-1)=%v", got)
	}
	if got := KeyOf(0, 0).ManhattanUnits(KeyOf(2, -3)); got != 5 {
		t.Fatalf("ManhattanUnits=%d", got)
	}
}

func TestBuild_NearbyCentersCollideLastWins(t *testing.T) {
	a := Entity{ID: "1", Name: "block_display", Pos: Vec3{X: 1.00, Z: 1.00}, BlockID: 2060, HasBlockID: true}
	b := Entity{ID: "2", Name: "block_display", Pos: Vec3{X: 1.04, Z: 1.02}, BlockID: 2060, HasBlockID: true}
	// Zero dimension keeps center == corner, so the centers are exactly the
	// two synthetic points.
	g := Build([]Entity{b, a}, tileSel, nil)
	if len(g) != 1 {
		t.Fatalf("expected collision into one entry, got %d", len(g))
	}
	c, ok := g.Center(KeyOf(1, 1))
	if !ok {
		t.Fatalf("missing key 1.0,1.0; keys=%v", g.Keys())
	}
	if c.X != 1.04 || c.Z != 1.02 {
		t.Fatalf("expected last observed tile (id 2) to win, got %v", c)
	}
}

func TestBuild_CenterUsesOffsetAndDimension(t *testing.T) {
	e := tileAt("7", -1000, -1020)
	e.Offset = Vec3{X: 0.25, Y: 0, Z: -0.25}
	e.Dimension = Vec3{X: 0.5, Y: 2, Z: 0.5}
	g := Build([]Entity{e}, tileSel, nil)
	want := Vec3{X: -999.5, Y: 100, Z: -1020}
	c, ok := g.Center(KeyOf(-999.5, -1020))
	if !ok || c != want {
		t.Fatalf("center=%v ok=%v want %v", c, ok, want)
	}
}

func TestBuild_FiltersNonTilesAndDrawsBoxes(t *testing.T) {
	other := tileAt("2", 5, 5)
	other.BlockID = 1
	text := tileAt("3", 6, 6)
	text.Name = "text_display"
	noKind := tileAt("4", 7, 7)
	noKind.HasBlockID = false

	rec := &boxRecorder{}
	g := Build([]Entity{tileAt("1", 0, 0), other, text, noKind}, tileSel, rec)
	if len(g) != 1 || !g.Has(KeyOf(0.5, 0.5)) {
		t.Fatalf("unexpected grid: %v", g.Keys())
	}
	if len(rec.ids) != 1 || rec.ids[0] != "box_1" {
		t.Fatalf("unexpected boxes: %v", rec.ids)
	}
}

func TestBuild_Empty(t *testing.T) {
	if g := Build(nil, tileSel, nil); len(g) != 0 {
		t.Fatalf("expected empty grid, got %d", len(g))
	}
}

func TestDecode_SlotsAndDefaults(t *testing.T) {
	raw := protocol.EntityObs{
		ID:   "9",
		Name: "block_display",
		Pos:  [3]float64{-1000, 99, -1006},
		Metadata: map[string]json.RawMessage{
			"11": json.RawMessage(`{"x":0.1,"y":0,"z":0.1}`),
			"23": json.RawMessage(`2060`),
			"99": json.RawMessage(`"ignored"`),
		},
	}
	e, err := Decode(raw, DefaultSlots())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !e.HasBlockID || e.BlockID != 2060 {
		t.Fatalf("block id not decoded: %+v", e)
	}
	if e.Offset != (Vec3{X: 0.1, Z: 0.1}) {
		t.Fatalf("offset=%v", e.Offset)
	}
	if e.Dimension != (Vec3{X: 1, Y: 1, Z: 1}) {
		t.Fatalf("expected unit dimension default, got %v", e.Dimension)
	}

	raw.Metadata["12"] = json.RawMessage(`[2,1,2]`)
	e, err = Decode(raw, DefaultSlots())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if e.Dimension != (Vec3{X: 2, Y: 1, Z: 2}) {
		t.Fatalf("dimension=%v", e.Dimension)
	}
}

func TestDecode_NullKindMeansNoKind(t *testing.T) {
	e, err := Decode(protocol.EntityObs{
		ID:       "1",
		Name:     "block_display",
		Metadata: map[string]json.RawMessage{"23": json.RawMessage(`null`)},
	}, DefaultSlots())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if e.HasBlockID {
		t.Fatalf("expected no block id")
	}
}

func TestDecode_RejectsMalformedSlots(t *testing.T) {
	cases := map[string]json.RawMessage{
		"11": json.RawMessage(`[1,2]`),
		"12": json.RawMessage(`{"x":1,"y":"tall","z":1}`),
		"23": json.RawMessage(`"2060"`),
	}
	for slot, b := range cases {
		_, err := Decode(protocol.EntityObs{
			ID:       "1",
			Name:     "block_display",
			Metadata: map[string]json.RawMessage{slot: b},
		}, DefaultSlots())
		if err == nil {
			t.Fatalf("slot %s: expected error for %s", slot, b)
		}
	}
}
