package grid

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"gridwalk.ai/internal/protocol"
)

//go:embed metadata.schema.json
var metadataSchema string

var (
	vec3Schema *jsonschema.Schema
	kindSchema *jsonschema.Schema
)

func init() {
	c := jsonschema.NewCompiler()
	const url = "https://gridwalk.ai/schemas/metadata.schema.json"
	if err := c.AddResource(url, bytes.NewReader([]byte(metadataSchema))); err != nil {
		panic(fmt.Sprintf("metadata schema: %v", err))
	}
	vec3Schema = c.MustCompile(url + "#/$defs/vec3")
	kindSchema = c.MustCompile(url + "#/$defs/kind")
}

// SlotLayout names the metadata slots the world uses for tile entities.
type SlotLayout struct {
	Offset    int `yaml:"offset"`
	Dimension int `yaml:"dimension"`
	Kind      int `yaml:"kind"`
}

func DefaultSlots() SlotLayout {
	return SlotLayout{Offset: 11, Dimension: 12, Kind: 23}
}

// Entity is a world entity with its slot metadata resolved into named fields.
type Entity struct {
	ID   string
	Name string
	Pos  Vec3

	Offset    Vec3 // zero when the slot is absent
	Dimension Vec3 // unit cube when the slot is absent

	BlockID    int
	HasBlockID bool
}

// Corner is the entity position shifted by its offset.
func (e Entity) Corner() Vec3 { return e.Pos.Add(e.Offset) }

func (e Entity) Center() Vec3 { return e.Corner().Add(e.Dimension.Scale(0.5)) }

// Decode resolves the slot-indexed metadata of a raw entity. Every present
// slot is validated before it is used; unknown slots are ignored.
func Decode(raw protocol.EntityObs, slots SlotLayout) (Entity, error) {
	e := Entity{
		ID:        raw.ID,
		Name:      raw.Name,
		Pos:       FromArray(raw.Pos),
		Dimension: Vec3{X: 1, Y: 1, Z: 1},
	}
	if b, ok := raw.Metadata[strconv.Itoa(slots.Offset)]; ok {
		v, present, err := decodeVec3(b)
		if err != nil {
			return Entity{}, fmt.Errorf("entity %s: offset slot %d: %w", raw.ID, slots.Offset, err)
		}
		if present {
			e.Offset = v
		}
	}
	if b, ok := raw.Metadata[strconv.Itoa(slots.Dimension)]; ok {
		v, present, err := decodeVec3(b)
		if err != nil {
			return Entity{}, fmt.Errorf("entity %s: dimension slot %d: %w", raw.ID, slots.Dimension, err)
		}
		if present {
			e.Dimension = v
		}
	}
	if b, ok := raw.Metadata[strconv.Itoa(slots.Kind)]; ok {
		doc, err := validate(kindSchema, b)
		if err != nil {
			return Entity{}, fmt.Errorf("entity %s: kind slot %d: %w", raw.ID, slots.Kind, err)
		}
		if n, ok := doc.(json.Number); ok {
			id, err := n.Int64()
			if err != nil {
				return Entity{}, fmt.Errorf("entity %s: kind slot %d: %w", raw.ID, slots.Kind, err)
			}
			e.BlockID = int(id)
			e.HasBlockID = true
		}
	}
	return e, nil
}

func decodeVec3(b json.RawMessage) (Vec3, bool, error) {
	if isNull(b) {
		return Vec3{}, false, nil
	}
	doc, err := validate(vec3Schema, b)
	if err != nil {
		return Vec3{}, false, err
	}
	switch t := doc.(type) {
	case []any:
		return Vec3{X: num(t[0]), Y: num(t[1]), Z: num(t[2])}, true, nil
	case map[string]any:
		return Vec3{X: num(t["x"]), Y: num(t["y"]), Z: num(t["z"])}, true, nil
	}
	return Vec3{}, false, fmt.Errorf("unexpected vec3 shape %T", doc)
}

func validate(s *jsonschema.Schema, b json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if err := s.Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func num(v any) float64 {
	n, _ := v.(json.Number)
	f, _ := n.Float64()
	return f
}

func isNull(b json.RawMessage) bool {
	return len(bytes.TrimSpace(b)) == 0 || string(bytes.TrimSpace(b)) == "null"
}
