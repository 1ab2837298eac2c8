package draw

import (
	"context"
	"sync"
	"testing"
	"time"

	"gridwalk.ai/internal/captcha/grid"
	"gridwalk.ai/internal/captcha/pathfind"
)

type line struct {
	name  string
	pts   []grid.Vec3
	color Color
}

type recDrawer struct {
	mu    sync.Mutex
	lines []line
}

func (r *recDrawer) DrawLine(name string, points []grid.Vec3, color Color) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line{name: name, pts: append([]grid.Vec3(nil), points...), color: color})
}

func (r *recDrawer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

func TestPainterDisabledIssuesNothing(t *testing.T) {
	rec := &recDrawer{}
	p := NewPainter(rec, false)
	p.WireframeBox("box_1", grid.Vec3{}, grid.Vec3{X: 1, Y: 1, Z: 1})
	p.SolutionPath(pathfind.Path{grid.KeyOf(0, 0)}, grid.Grid{grid.KeyOf(0, 0): {}}, 2)
	p.Marker(grid.Vec3{}, 2)
	p.RunMarker(context.Background(), func() (grid.Vec3, bool) { return grid.Vec3{}, true }, time.Millisecond, 2)
	if rec.count() != 0 {
		t.Fatalf("disabled painter drew %d lines", rec.count())
	}

	var nilPainter *Painter
	nilPainter.Marker(grid.Vec3{}, 2)
	if NewPainter(nil, true).Enabled() {
		t.Fatalf("painter without drawer must be disabled")
	}
}

func TestWireframeBoxEdges(t *testing.T) {
	rec := &recDrawer{}
	p := NewPainter(rec, true)
	p.WireframeBox("box_7", grid.Vec3{X: 1, Y: 2, Z: 3}, grid.Vec3{X: -1, Y: 1, Z: 1})
	if len(rec.lines) != 12 {
		t.Fatalf("edges=%d want 12", len(rec.lines))
	}
	if rec.lines[0].name != "box_7_edge0" || rec.lines[11].name != "box_7_edge11" {
		t.Fatalf("unexpected names: %s .. %s", rec.lines[0].name, rec.lines[11].name)
	}
	for _, l := range rec.lines {
		if l.color != Gray || len(l.pts) != 2 {
			t.Fatalf("bad edge %+v", l)
		}
		for _, pt := range l.pts {
			if pt.X < 0 || pt.X > 1 || pt.Y < 2 || pt.Y > 3 || pt.Z < 3 || pt.Z > 4 {
				t.Fatalf("edge point outside box: %v", pt)
			}
		}
	}
}

func TestSolutionPathLifted(t *testing.T) {
	rec := &recDrawer{}
	p := NewPainter(rec, true)
	g := grid.Grid{
		grid.KeyOf(0.5, 0.5): {X: 0.5, Y: 99.5, Z: 0.5},
		grid.KeyOf(1.5, 0.5): {X: 1.5, Y: 99.5, Z: 0.5},
	}
	p.SolutionPath(pathfind.Path{grid.KeyOf(0.5, 0.5), grid.KeyOf(1.5, 0.5)}, g, 2)
	if len(rec.lines) != 1 {
		t.Fatalf("lines=%d", len(rec.lines))
	}
	l := rec.lines[0]
	if l.name != SolutionLine || l.color != Blue || len(l.pts) != 2 {
		t.Fatalf("unexpected line %+v", l)
	}
	if l.pts[1] != (grid.Vec3{X: 1.5, Y: 101.5, Z: 0.5}) {
		t.Fatalf("pt=%v", l.pts[1])
	}
}

func TestRunMarkerStopsWithContext(t *testing.T) {
	rec := &recDrawer{}
	p := NewPainter(rec, true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.RunMarker(ctx, func() (grid.Vec3, bool) { return grid.Vec3{X: 1, Y: 2, Z: 3}, true }, time.Millisecond, 2)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("RunMarker did not stop")
	}
	if rec.count() == 0 {
		t.Fatalf("expected at least one marker refresh")
	}
	rec.mu.Lock()
	l := rec.lines[0]
	rec.mu.Unlock()
	if l.name != MarkerLine || l.color != Magenta || l.pts[1].Y != 4 {
		t.Fatalf("unexpected marker %+v", l)
	}
}
