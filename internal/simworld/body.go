package simworld

import (
	"math"
	"sync"

	"gridwalk.ai/internal/captcha/grid"
	"gridwalk.ai/internal/captcha/steer"
)

// Body is a kinematic agent: every Step moves it by Speed along each axis
// that has exactly one of its two controls held.
type Body struct {
	mu       sync.Mutex
	pos      grid.Vec3
	controls map[steer.Control]bool
	spawned  bool

	speed float64

	moveTarget *grid.Vec3
	moveTol    float64
}

func NewBody(pos grid.Vec3, speed float64) *Body {
	return &Body{
		pos:      pos,
		controls: map[steer.Control]bool{},
		spawned:  true,
		speed:    speed,
	}
}

func (b *Body) Position() (grid.Vec3, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos, b.spawned
}

func (b *Body) SetControlState(c steer.Control, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.controls[c] = on
	return nil
}

// Controls returns a copy of the held controls.
func (b *Body) Controls() map[steer.Control]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[steer.Control]bool, len(b.controls))
	for k, v := range b.controls {
		if v {
			out[k] = true
		}
	}
	return out
}

func (b *Body) Teleport(p grid.Vec3) {
	b.mu.Lock()
	b.pos = p
	b.mu.Unlock()
}

// MoveTo starts a straight-line walk that Step advances until the body is
// within tol of target on the horizontal plane.
func (b *Body) MoveTo(target grid.Vec3, tol float64) {
	b.mu.Lock()
	b.moveTarget = &target
	b.moveTol = tol
	b.mu.Unlock()
}

// Step advances the body by one tick. It reports true when a MOVE_TO walk
// finished during this tick.
func (b *Body) Step() (moveDone bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.moveTarget != nil {
		dx := b.moveTarget.X - b.pos.X
		dz := b.moveTarget.Z - b.pos.Z
		dist := math.Hypot(dx, dz)
		if dist <= b.moveTol {
			b.moveTarget = nil
			return true
		}
		f := math.Min(1, b.speed/dist)
		b.pos.X += dx * f
		b.pos.Z += dz * f
		b.pos.Y = b.moveTarget.Y
		return false
	}

	b.pos.X += b.speed * axisSign(b.controls[steer.Left], b.controls[steer.Right])
	b.pos.Z += b.speed * axisSign(b.controls[steer.Forward], b.controls[steer.Back])
	return false
}

func axisSign(pos, neg bool) float64 {
	switch {
	case pos && !neg:
		return 1
	case neg && !pos:
		return -1
	}
	return 0
}
