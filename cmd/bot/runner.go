package main

import (
	"context"
	"errors"
	"log"
	"time"

	"gridwalk.ai/internal/agent"
	"gridwalk.ai/internal/captcha"
	"gridwalk.ai/internal/config"
)

// botSession is the part of agent.Session the runner drives.
type botSession interface {
	captcha.World
	Events() <-chan agent.Event
	Chat(text string) error
	MoveTo(target [3]int, tolerance float64) (string, error)
	DisconnectFor(d time.Duration)
}

type solveResult struct {
	res captcha.Result
	err error
}

// runner reacts to session lifecycle events: it answers the login prompt,
// solves the captcha after the login delay, walks to the portal and backs
// off when the server announces a restart.
type runner struct {
	cfg    config.Config
	sess   botSession
	solver *captcha.Solver
	log    *log.Logger

	// clear wipes debug geometry before each attempt; may be nil.
	clear func()
	// record keeps session history; may be nil.
	record func(kind, text string)

	after func(d time.Duration) <-chan time.Time

	solveAt     <-chan time.Time
	solveCancel context.CancelFunc
	solved      chan solveResult
	portalRef   string
}

func newRunner(cfg config.Config, sess botSession, solver *captcha.Solver, logger *log.Logger) *runner {
	return &runner{
		cfg:    cfg,
		sess:   sess,
		solver: solver,
		log:    logger,
		after:  time.After,
		solved: make(chan solveResult, 1),
	}
}

func (r *runner) run(ctx context.Context) error {
	defer r.abortSolve()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-r.sess.Events():
			r.handle(ctx, ev)

		case <-r.solveAt:
			r.solveAt = nil
			r.startSolve(ctx)

		case sr := <-r.solved:
			r.solveCancel = nil
			r.finishSolve(sr)
		}
	}
}

func (r *runner) handle(ctx context.Context, ev agent.Event) {
	if r.record != nil {
		r.record(ev.Kind, ev.Text)
	}
	switch ev.Kind {
	case agent.KindLogin:
		r.log.Printf("connected to %s as %s", r.cfg.World.URL, r.cfg.World.AgentName)

	case agent.KindChat:
		r.onChat(ev.Text)

	case agent.KindTaskDone:
		if ev.Ref != "" && ev.Ref == r.portalRef {
			r.portalRef = ""
			r.logPosition("portal reached")
		}

	case agent.KindRejected:
		r.log.Printf("server rejected %s: %s %s", ev.Ref, ev.Code, ev.Text)

	case agent.KindDisconnect:
		r.log.Printf("disconnected: %s", ev.Text)
		r.solveAt = nil
		r.portalRef = ""
		r.abortSolve()
	}
}

func (r *runner) onChat(line string) {
	w := r.cfg.World
	if line == w.LoginPrompt() {
		r.log.Printf("logging in as %s...", w.AgentName)
		if err := r.sess.Chat("/login " + w.Password); err != nil {
			r.log.Printf("send login: %v", err)
			return
		}
		if r.solveCancel == nil {
			r.solveAt = r.after(w.LoginDelay())
		}
		return
	}
	if w.IsRestartMessage(line) {
		r.log.Printf("server restart detected, disconnecting for %s", w.RestartDelay())
		r.solveAt = nil
		r.abortSolve()
		r.sess.DisconnectFor(w.RestartDelay())
	}
}

func (r *runner) startSolve(ctx context.Context) {
	if r.solveCancel != nil {
		return
	}
	if r.clear != nil {
		r.clear()
	}
	r.logPosition("before captcha")
	sctx, cancel := context.WithCancel(ctx)
	r.solveCancel = cancel
	go func() {
		defer cancel()
		res, err := r.solver.Solve(sctx, r.sess)
		r.solved <- solveResult{res: res, err: err}
	}()
}

func (r *runner) abortSolve() {
	if r.solveCancel == nil {
		return
	}
	r.solveCancel()
	// Wait for the solver so it releases its controls before we move on.
	sr := <-r.solved
	r.solveCancel = nil
	r.finishSolve(sr)
}

func (r *runner) finishSolve(sr solveResult) {
	r.logPosition("after captcha")
	switch {
	case sr.err == nil:
		r.log.Printf("captcha solved: attempt %s, %d cells in %s", sr.res.AttemptID, len(sr.res.Path), sr.res.Elapsed.Round(time.Millisecond))
	case errors.Is(sr.err, captcha.ErrNoPath):
		r.log.Printf("captcha attempt %s: no valid path found over %d tiles", sr.res.AttemptID, sr.res.Tiles)
		return
	default:
		r.log.Printf("captcha attempt %s failed: %v", sr.res.AttemptID, sr.err)
		return
	}

	p := r.cfg.Portal
	if !p.Enabled {
		return
	}
	ref, err := r.sess.MoveTo(p.Target, p.Tolerance)
	if err != nil {
		r.log.Printf("walk to portal %v: %v", p.Target, err)
		return
	}
	r.portalRef = ref
	r.log.Printf("walking to portal %v (task %s)", p.Target, ref)
}

func (r *runner) logPosition(what string) {
	if pos, ok := r.sess.Position(); ok {
		r.log.Printf("bot position %s: %s", what, pos)
	}
}
