package steer_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"gridwalk.ai/internal/captcha/grid"
	"gridwalk.ai/internal/captcha/pathfind"
	"gridwalk.ai/internal/captcha/steer"
	"gridwalk.ai/internal/simworld"
)

// axisGuard wraps a body and fails the test whenever controls of both axes
// are held at the same time.
type axisGuard struct {
	t    *testing.T
	body *simworld.Body
	sets int
}

func (g *axisGuard) Position() (grid.Vec3, bool) { return g.body.Position() }

func (g *axisGuard) SetControlState(c steer.Control, on bool) error {
	g.sets++
	if err := g.body.SetControlState(c, on); err != nil {
		return err
	}
	ctl := g.body.Controls()
	xHeld := ctl[steer.Left] || ctl[steer.Right]
	zHeld := ctl[steer.Forward] || ctl[steer.Back]
	if xHeld && zHeld {
		g.t.Fatalf("both axes held: %v", ctl)
	}
	if ctl[steer.Left] && ctl[steer.Right] || ctl[steer.Forward] && ctl[steer.Back] {
		g.t.Fatalf("opposing controls held: %v", ctl)
	}
	return nil
}

func newController(agent steer.Agent, body *simworld.Body, cfg steer.Config, polls *int) *steer.Controller {
	c := steer.New(agent, cfg, nil, false)
	c.SetWait(func(ctx context.Context, d time.Duration) error {
		if d == cfg.PollInterval {
			*polls++
		}
		body.Step()
		return ctx.Err()
	})
	return c
}

func testConfig() steer.Config {
	cfg := steer.DefaultConfig()
	cfg.Settle = time.Millisecond
	return cfg
}

func TestAlignConvergesAndReleases(t *testing.T) {
	body := simworld.NewBody(grid.Vec3{X: 0, Z: 0}, 0.13)
	polls := 0
	c := newController(body, body, testConfig(), &polls)

	if err := c.Align(context.Background(), steer.AxisX, 3); err != nil {
		t.Fatalf("Align x: %v", err)
	}
	if err := c.Align(context.Background(), steer.AxisZ, -2); err != nil {
		t.Fatalf("Align z: %v", err)
	}
	p, _ := body.Position()
	if math.Abs(p.X-3) > 0.2 || math.Abs(p.Z+2) > 0.2 {
		t.Fatalf("not aligned: %v", p)
	}
	// 3/0.13 + 2/0.13 rounds up to 40 polls; allow one extra per phase.
	if polls > 42 {
		t.Fatalf("too many polls: %d", polls)
	}
	if len(body.Controls()) != 0 {
		t.Fatalf("controls still held: %v", body.Controls())
	}
}

func TestFollowVisitsPathThenExit(t *testing.T) {
	g := grid.Grid{}
	path := pathfind.Path{}
	// An L-shaped walk: three cells along +x, then two along +z.
	for _, xz := range [][2]float64{{0.5, 0.5}, {1.5, 0.5}, {2.5, 0.5}, {2.5, 1.5}, {2.5, 2.5}} {
		k := grid.KeyOf(xz[0], xz[1])
		g[k] = grid.Vec3{X: xz[0], Y: 100.5, Z: xz[1]}
		path = append(path, k)
	}
	exit := grid.Vec3{X: 2.5, Z: 3.5}
	if g.Has(grid.KeyOfPoint(exit)) {
		t.Fatalf("exit must not be a grid member")
	}

	body := simworld.NewBody(grid.Vec3{X: 0.5, Y: 101, Z: 0.5}, 0.13)
	guard := &axisGuard{t: t, body: body}
	polls := 0
	c := newController(guard, body, testConfig(), &polls)

	var reached []steer.Progress
	sneakHeld := true
	c.OnProgress(func(p steer.Progress) {
		if !body.Controls()[steer.Sneak] {
			sneakHeld = false
		}
		if p.Reached {
			reached = append(reached, p)
		}
	})

	if err := c.Follow(context.Background(), path, g, exit); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if !sneakHeld {
		t.Fatalf("sneak must be held during the walk")
	}
	if len(reached) != len(path)+1 {
		t.Fatalf("reached %d waypoints, want %d", len(reached), len(path)+1)
	}
	for i, p := range reached[:len(path)] {
		if p.Key != path[i] || p.Final {
			t.Fatalf("waypoint %d out of order: %+v", i, p)
		}
	}
	last := reached[len(reached)-1]
	if !last.Final || last.Target != exit {
		t.Fatalf("expected final approach to exit, got %+v", last)
	}
	pos, _ := body.Position()
	if math.Abs(pos.X-exit.X) > 0.2 || math.Abs(pos.Z-exit.Z) > 0.2 {
		t.Fatalf("did not reach exit: %v", pos)
	}
	if len(body.Controls()) != 0 {
		t.Fatalf("controls still held after Follow: %v", body.Controls())
	}
}

func TestAlignStuckReturnsError(t *testing.T) {
	body := simworld.NewBody(grid.Vec3{}, 0) // blocked: never moves
	cfg := testConfig()
	cfg.MaxPolls = 25
	polls := 0
	c := newController(body, body, cfg, &polls)

	err := c.Align(context.Background(), steer.AxisX, 5)
	if !errors.Is(err, steer.ErrStuck) {
		t.Fatalf("expected ErrStuck, got %v", err)
	}
	var se *steer.StuckError
	if !errors.As(err, &se) || se.Axis != steer.AxisX || se.Polls != 25 || se.Target != 5 {
		t.Fatalf("unexpected stuck error %#v", err)
	}
	if polls != 25 {
		t.Fatalf("polls=%d want 25", polls)
	}
	if len(body.Controls()) != 0 {
		t.Fatalf("controls still held: %v", body.Controls())
	}
}

func TestFollowStopsOnCancel(t *testing.T) {
	body := simworld.NewBody(grid.Vec3{}, 0.13)
	c := steer.New(body, testConfig(), nil, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	k := grid.KeyOf(10.5, 0.5)
	err := c.Follow(ctx, pathfind.Path{k}, grid.Grid{k: {X: 10.5, Z: 0.5}}, grid.Vec3{X: 10.5, Z: 1.5})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(body.Controls()) != 0 {
		t.Fatalf("controls still held: %v", body.Controls())
	}
}
