package grid

import (
	"fmt"
	"math"
	"strconv"
)

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3) Scale(f float64) Vec3 { return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f} }

func (v Vec3) ToArray() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func (v Vec3) String() string { return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z) }

func FromArray(a [3]float64) Vec3 { return Vec3{X: a[0], Y: a[1], Z: a[2]} }

// Unit is one grid cell expressed in key tenths.
const Unit = 10

// Key is a horizontal (x, z) coordinate quantized to one decimal place and
// stored as integer tenths, so equal keys compare equal without any string
// formatting.
type Key struct {
	X int64
	Z int64
}

func KeyOf(x, z float64) Key {
	return Key{X: quantize(x), Z: quantize(z)}
}

func KeyOfPoint(p Vec3) Key { return KeyOf(p.X, p.Z) }

func quantize(v float64) int64 {
	return int64(math.Round(v * 10))
}

// Step returns the key dx, dz grid units away.
func (k Key) Step(dx, dz int64) Key {
	return Key{X: k.X + dx*Unit, Z: k.Z + dz*Unit}
}

// XZ converts the key back to world coordinates.
func (k Key) XZ() (float64, float64) {
	return float64(k.X) / 10, float64(k.Z) / 10
}

// ManhattanUnits is the L1 distance between two keys in whole grid units,
// rounded down.
func (k Key) ManhattanUnits(o Key) int64 {
	return (abs64(k.X-o.X) + abs64(k.Z-o.Z)) / Unit
}

func (k Key) String() string {
	return tenths(k.X) + "," + tenths(k.Z)
}

func tenths(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + strconv.FormatInt(v/10, 10) + "." + strconv.FormatInt(v%10, 10)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
