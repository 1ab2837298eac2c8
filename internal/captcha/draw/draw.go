// Package draw turns solver state into named debug geometry. Every request
// goes through a Painter, which drops everything when debugging is off.
package draw

import (
	"context"
	"strconv"
	"time"

	"gridwalk.ai/internal/captcha/grid"
	"gridwalk.ai/internal/captcha/pathfind"
)

type Color uint32

const (
	Gray    Color = 0x808080
	Blue    Color = 0x0000ff
	Magenta Color = 0xff00ff
)

// Drawer creates or replaces the named line strip.
type Drawer interface {
	DrawLine(name string, points []grid.Vec3, color Color)
}

const (
	SolutionLine = "solutionLine"
	MarkerLine   = "playerLine"
)

type Painter struct {
	d       Drawer
	enabled bool
}

func NewPainter(d Drawer, enabled bool) *Painter {
	return &Painter{d: d, enabled: enabled && d != nil}
}

func (p *Painter) Enabled() bool { return p != nil && p.enabled }

// box edges as corner index pairs; corners are numbered bottom face first.
var boxEdges = [12][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// WireframeBox draws the 12 edges of the box spanned by corner and
// corner+dim as <id>_edge<i>. Negative dimensions are allowed.
func (p *Painter) WireframeBox(id string, corner, dim grid.Vec3) {
	if !p.Enabled() {
		return
	}
	far := corner.Add(dim)
	lo := grid.Vec3{X: min(corner.X, far.X), Y: min(corner.Y, far.Y), Z: min(corner.Z, far.Z)}
	hi := grid.Vec3{X: max(corner.X, far.X), Y: max(corner.Y, far.Y), Z: max(corner.Z, far.Z)}
	corners := [8]grid.Vec3{
		{X: lo.X, Y: lo.Y, Z: lo.Z},
		{X: hi.X, Y: lo.Y, Z: lo.Z},
		{X: hi.X, Y: hi.Y, Z: lo.Z},
		{X: lo.X, Y: hi.Y, Z: lo.Z},
		{X: lo.X, Y: lo.Y, Z: hi.Z},
		{X: hi.X, Y: lo.Y, Z: hi.Z},
		{X: hi.X, Y: hi.Y, Z: hi.Z},
		{X: lo.X, Y: hi.Y, Z: hi.Z},
	}
	for i, e := range boxEdges {
		p.d.DrawLine(id+"_edge"+strconv.Itoa(i), []grid.Vec3{corners[e[0]], corners[e[1]]}, Gray)
	}
}

// SolutionPath draws one polyline through the waypoint centers, lifted by
// lift on the y axis. Keys without a tile (an off-grid start) are skipped.
func (p *Painter) SolutionPath(path pathfind.Path, g grid.Grid, lift float64) {
	if !p.Enabled() {
		return
	}
	pts := make([]grid.Vec3, 0, len(path))
	for _, k := range path {
		c, ok := g.Center(k)
		if !ok {
			continue
		}
		pts = append(pts, grid.Vec3{X: c.X, Y: c.Y + lift, Z: c.Z})
	}
	p.d.DrawLine(SolutionLine, pts, Blue)
}

// Marker draws a vertical segment of the given height at pos.
func (p *Painter) Marker(pos grid.Vec3, height float64) {
	if !p.Enabled() {
		return
	}
	p.d.DrawLine(MarkerLine, []grid.Vec3{pos, {X: pos.X, Y: pos.Y + height, Z: pos.Z}}, Magenta)
}

// RunMarker redraws the marker every interval until ctx is done. pos
// returning false (agent not spawned) skips that refresh.
func (p *Painter) RunMarker(ctx context.Context, pos func() (grid.Vec3, bool), every time.Duration, height float64) {
	if !p.Enabled() || every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if v, ok := pos(); ok {
				p.Marker(v, height)
			}
		}
	}
}
