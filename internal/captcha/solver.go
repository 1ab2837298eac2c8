// Package captcha solves the grid course: it builds the tile grid from the
// observed entities, finds a path from start to goal and walks the agent
// along it.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gridwalk.ai/internal/captcha/draw"
	"gridwalk.ai/internal/captcha/grid"
	"gridwalk.ai/internal/captcha/pathfind"
	"gridwalk.ai/internal/captcha/steer"
	"gridwalk.ai/internal/protocol"
)

var (
	ErrNoPath       = fmt.Errorf("no valid path found: %w", pathfind.ErrNotFound)
	ErrPrecondition = errors.New("captcha preconditions not met")
)

// World is the agent as seen by the solver.
type World interface {
	steer.Agent
	Entities() []protocol.EntityObs
}

// Preconditioner is implemented by worlds that can tell up front whether a
// solve can work, e.g. whether the server accepts control-state changes.
type Preconditioner interface {
	Preconditions() error
}

type Config struct {
	TileEntity string
	TileKind   int
	Slots      grid.SlotLayout

	// Start and Goal are horizontal (x, z) cell centers.
	Start [2]float64
	Goal  [2]float64
	// ExitOffset is added to Goal to get the cell stepped onto last.
	ExitOffset [2]float64

	Debug        bool
	PathLift     float64
	MarkerHeight float64
	MarkerEvery  time.Duration

	Steer steer.Config
}

func DefaultConfig() Config {
	return Config{
		TileEntity:   "block_display",
		TileKind:     2060,
		Slots:        grid.DefaultSlots(),
		Start:        [2]float64{-999.5, -1019.5},
		Goal:         [2]float64{-999.5, -1005.5},
		ExitOffset:   [2]float64{0, 1},
		PathLift:     2,
		MarkerHeight: 2,
		MarkerEvery:  200 * time.Millisecond,
		Steer:        steer.DefaultConfig(),
	}
}

// Exit is the final target of the walk.
func (c Config) Exit() grid.Vec3 {
	return grid.Vec3{X: c.Goal[0] + c.ExitOffset[0], Z: c.Goal[1] + c.ExitOffset[1]}
}

type Options struct {
	Logger   *log.Logger
	Drawer   draw.Drawer
	Events   EventSink
	Outcomes OutcomeSink
	// Agent names the outcome rows.
	Agent string
	// Wait replaces the controller's poll timer.
	Wait func(ctx context.Context, d time.Duration) error
}

type Result struct {
	AttemptID string
	Path      pathfind.Path
	Tiles     int
	Rejected  int
	Elapsed   time.Duration
}

type Solver struct {
	cfg  Config
	opts Options
	log  *log.Logger

	seq atomic.Uint64
	now func() time.Time
}

func New(cfg Config, opts Options) *Solver {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Solver{cfg: cfg, opts: opts, log: logger, now: time.Now}
}

func (s *Solver) Config() Config { return s.cfg }

// Solve runs one attempt against w. It returns ErrPrecondition before any
// grid work when w reports it cannot be steered, and ErrNoPath without
// touching any control when the goal is unreachable.
func (s *Solver) Solve(ctx context.Context, w World) (Result, error) {
	started := s.now()
	res := Result{AttemptID: fmt.Sprintf("%d-%d", started.UnixMilli(), s.seq.Add(1))}
	s.emit(Event{AttemptID: res.AttemptID, Kind: EventStart})

	res, err := s.solve(ctx, w, res)
	res.Elapsed = s.now().Sub(started)

	status := statusOf(err)
	done := Event{AttemptID: res.AttemptID, Kind: EventDone, Status: status}
	out := Outcome{
		AttemptID: res.AttemptID,
		Agent:     s.opts.Agent,
		StartedAt: started,
		Elapsed:   res.Elapsed,
		Status:    status,
		Tiles:     res.Tiles,
		PathLen:   len(res.Path),
	}
	if err != nil {
		done.Error = err.Error()
		out.Error = err.Error()
	}
	s.emit(done)
	if s.opts.Outcomes != nil {
		if werr := s.opts.Outcomes.WriteOutcome(out); werr != nil {
			s.log.Printf("attempt %s: record outcome: %v", res.AttemptID, werr)
		}
	}
	return res, err
}

func (s *Solver) solve(ctx context.Context, w World, res Result) (Result, error) {
	if p, ok := w.(Preconditioner); ok {
		if err := p.Preconditions(); err != nil {
			return res, fmt.Errorf("%w: %w", ErrPrecondition, err)
		}
	}

	raw := w.Entities()
	entities := make([]grid.Entity, 0, len(raw))
	for _, r := range raw {
		e, err := grid.Decode(r, s.cfg.Slots)
		if err != nil {
			res.Rejected++
			s.log.Printf("skip entity: %v", err)
			continue
		}
		entities = append(entities, e)
	}

	painter := draw.NewPainter(s.opts.Drawer, s.cfg.Debug)
	g := grid.Build(entities, grid.Selector{EntityName: s.cfg.TileEntity, TileKind: s.cfg.TileKind}, painter)
	res.Tiles = len(g)
	s.emit(Event{AttemptID: res.AttemptID, Kind: EventGrid, Tiles: res.Tiles, Rejected: res.Rejected})

	start := grid.KeyOf(s.cfg.Start[0], s.cfg.Start[1])
	goal := grid.KeyOf(s.cfg.Goal[0], s.cfg.Goal[1])
	path, err := pathfind.Find(g, start, goal)
	if err != nil {
		if errors.Is(err, pathfind.ErrNotFound) {
			s.log.Printf("no valid path found from %s to %s over %d tiles", start, goal, len(g))
			return res, ErrNoPath
		}
		return res, err
	}
	res.Path = path
	s.log.Printf("path found: %d cells", len(path))
	s.emit(Event{AttemptID: res.AttemptID, Kind: EventPath, Path: path.Strings()})

	if painter.Enabled() {
		painter.SolutionPath(path, g, s.cfg.PathLift)
		mctx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			painter.RunMarker(mctx, w.Position, s.cfg.MarkerEvery, s.cfg.MarkerHeight)
		}()
		defer func() {
			cancel()
			wg.Wait()
		}()
	}

	ctrl := steer.New(w, s.cfg.Steer, s.log, s.cfg.Debug)
	if s.opts.Wait != nil {
		ctrl.SetWait(s.opts.Wait)
	}
	ctrl.OnProgress(func(p steer.Progress) {
		if !p.Reached {
			return
		}
		pos := p.Pos.ToArray()
		s.emit(Event{
			AttemptID: res.AttemptID,
			Kind:      EventWaypoint,
			Index:     p.Index,
			Key:       p.Key.String(),
			Pos:       pos[:],
			Final:     p.Final,
		})
	})
	if err := ctrl.Follow(ctx, path, g, s.cfg.Exit()); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Solver) emit(ev Event) {
	if s.opts.Events == nil {
		return
	}
	ev.At = s.now().UTC()
	if err := s.opts.Events.WriteEvent(ev); err != nil {
		s.log.Printf("attempt %s: write event: %v", ev.AttemptID, err)
	}
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return StatusSolved
	case errors.Is(err, ErrNoPath):
		return StatusNoPath
	case errors.Is(err, ErrPrecondition):
		return StatusPrecondition
	case errors.Is(err, steer.ErrStuck):
		return StatusStuck
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCanceled
	}
	return StatusFailed
}
