// Package steer walks an agent along a grid path by toggling its movement
// controls, resolving one axis at a time.
package steer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"gridwalk.ai/internal/captcha/grid"
	"gridwalk.ai/internal/captcha/pathfind"
)

type Control string

const (
	Left    Control = "left"
	Right   Control = "right"
	Forward Control = "forward"
	Back    Control = "back"
	Sneak   Control = "sneak"
)

// Agent is the controllable body. Position reports false until the agent
// has spawned.
type Agent interface {
	Position() (grid.Vec3, bool)
	SetControlState(c Control, on bool) error
}

type Axis string

const (
	AxisX Axis = "x"
	AxisZ Axis = "z"
)

// axisControls holds the control that moves toward +axis and the one that
// moves toward -axis.
var axisControls = map[Axis][2]Control{
	AxisX: {Left, Right},
	AxisZ: {Forward, Back},
}

var ErrStuck = errors.New("alignment did not converge")

type StuckError struct {
	Axis   Axis
	Target float64
	Last   float64
	Polls  int
}

func (e *StuckError) Error() string {
	return fmt.Sprintf("align %s: still at %.2f after %d polls (target %.2f)", e.Axis, e.Last, e.Polls, e.Target)
}

func (e *StuckError) Is(target error) bool { return target == ErrStuck }

type Config struct {
	// Tolerance must exceed movement jitter and stay below half a cell.
	Tolerance    float64
	PollInterval time.Duration
	// Settle is the pause after each reached waypoint.
	Settle time.Duration
	// MaxPolls bounds each alignment phase.
	MaxPolls int
}

func DefaultConfig() Config {
	return Config{
		Tolerance:    0.2,
		PollInterval: 100 * time.Millisecond,
		Settle:       100 * time.Millisecond,
		MaxPolls:     600,
	}
}

// Progress is reported when the controller heads for a waypoint and when it
// reaches it. Final marks the exit target after the last path key.
type Progress struct {
	Index   int
	Key     grid.Key
	Target  grid.Vec3
	Pos     grid.Vec3
	Reached bool
	Final   bool
}

type Controller struct {
	agent   Agent
	cfg     Config
	log     *log.Logger
	verbose bool

	sleep      func(ctx context.Context, d time.Duration) error
	onProgress func(Progress)
}

func New(agent Agent, cfg Config, logger *log.Logger, verbose bool) *Controller {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultConfig().MaxPolls
	}
	return &Controller{
		agent:   agent,
		cfg:     cfg,
		log:     logger,
		verbose: verbose,
		sleep:   sleepCtx,
	}
}

// OnProgress registers a callback for waypoint progress.
func (c *Controller) OnProgress(fn func(Progress)) { c.onProgress = fn }

// SetWait replaces the timer used to suspend between polls. Simulations use
// it to advance the world by one tick per poll.
func (c *Controller) SetWait(fn func(ctx context.Context, d time.Duration) error) {
	if fn == nil {
		fn = sleepCtx
	}
	c.sleep = fn
}

// Follow visits every key of path in order and finally the exit target,
// which does not need to be a grid member. Sneak is held for the whole walk
// and every asserted control is released on return.
func (c *Controller) Follow(ctx context.Context, path pathfind.Path, g grid.Grid, exit grid.Vec3) error {
	defer c.releaseAll()
	if err := c.agent.SetControlState(Sneak, true); err != nil {
		return fmt.Errorf("hold sneak: %w", err)
	}

	for i, k := range path {
		target, ok := g.Center(k)
		if !ok {
			x, z := k.XZ()
			target = grid.Vec3{X: x, Z: z}
		}
		if err := c.visit(ctx, Progress{Index: i, Key: k, Target: target}); err != nil {
			return fmt.Errorf("grid cell %d (%s): %w", i+1, k, err)
		}
		if err := c.sleep(ctx, c.cfg.Settle); err != nil {
			return err
		}
	}

	final := Progress{Index: len(path), Key: grid.KeyOfPoint(exit), Target: exit, Final: true}
	if err := c.visit(ctx, final); err != nil {
		return fmt.Errorf("exit cell (%s): %w", final.Key, err)
	}
	return nil
}

func (c *Controller) visit(ctx context.Context, p Progress) error {
	if c.verbose {
		if p.Final {
			c.log.Printf("final move: heading to extra cell at (%.2f, %.2f)", p.Target.X, p.Target.Z)
		} else {
			c.log.Printf("heading to grid cell %d at (%.2f, %.2f)", p.Index+1, p.Target.X, p.Target.Z)
		}
	}
	c.report(p)

	if err := c.Align(ctx, AxisX, p.Target.X); err != nil {
		return err
	}
	if err := c.Align(ctx, AxisZ, p.Target.Z); err != nil {
		return err
	}

	p.Reached = true
	p.Pos, _ = c.agent.Position()
	if c.verbose {
		c.log.Printf("reached cell at (%.2f, %.2f)", p.Pos.X, p.Pos.Z)
	}
	c.report(p)
	return nil
}

// Align drives the agent along one axis until it is within tolerance of
// target. Only the two controls of that axis are ever touched, and both are
// released before Align returns.
func (c *Controller) Align(ctx context.Context, axis Axis, target float64) error {
	ctl, ok := axisControls[axis]
	if !ok {
		return fmt.Errorf("unknown axis %q", axis)
	}
	pos, neg := ctl[0], ctl[1]
	defer func() {
		_ = c.agent.SetControlState(pos, false)
		_ = c.agent.SetControlState(neg, false)
	}()

	last := math.NaN()
	for polls := 0; ; polls++ {
		p, known := c.agent.Position()
		if known {
			last = coord(p, axis)
			if math.Abs(target-last) <= c.cfg.Tolerance {
				return nil
			}
		}
		if polls >= c.cfg.MaxPolls {
			return &StuckError{Axis: axis, Target: target, Last: last, Polls: polls}
		}

		if err := c.agent.SetControlState(pos, false); err != nil {
			return err
		}
		if err := c.agent.SetControlState(neg, false); err != nil {
			return err
		}
		if known {
			if c.verbose {
				c.log.Printf("aligning %s: bot=%.2f target=%.2f", axis, last, target)
			}
			dir := neg
			if target-last > 0 {
				dir = pos
			}
			if err := c.agent.SetControlState(dir, true); err != nil {
				return err
			}
		}
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (c *Controller) report(p Progress) {
	if c.onProgress != nil {
		c.onProgress(p)
	}
}

func (c *Controller) releaseAll() {
	for _, ctl := range []Control{Left, Right, Forward, Back, Sneak} {
		_ = c.agent.SetControlState(ctl, false)
	}
}

func coord(p grid.Vec3, axis Axis) float64 {
	if axis == AxisX {
		return p.X
	}
	return p.Z
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
