package simworld

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"gridwalk.ai/internal/captcha/grid"
	"gridwalk.ai/internal/captcha/steer"
	"gridwalk.ai/internal/protocol"
)

type Config struct {
	TickRateHz int
	Seed       int64
	// Speed is the distance a held control moves a body per tick.
	Speed    float64
	Password string
	Slots    grid.SlotLayout
}

// World serves one course to any number of connected agents.
type World struct {
	cfg      Config
	course   Course
	entities []protocol.EntityObs
	spawn    grid.Vec3

	mu     sync.Mutex
	tick   uint64
	nextID int
	agents map[string]*agentState
}

type agentState struct {
	id       string
	name     string
	body     *Body
	loggedIn bool
	events   []protocol.Event
	moveRef  string
	out      chan []byte
}

func New(cfg Config, course Course) (*World, error) {
	if err := course.Validate(); err != nil {
		return nil, err
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 10
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 0.13
	}
	if cfg.Slots == (grid.SlotLayout{}) {
		cfg.Slots = grid.DefaultSlots()
	}
	spawn, _ := course.Start()
	spawn.Y = course.Origin[1] + 1
	return &World{
		cfg:      cfg,
		course:   course,
		entities: course.Entities(cfg.Slots),
		spawn:    spawn,
		agents:   map[string]*agentState{},
	}, nil
}

func (w *World) CurrentTick() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tick
}

// Join spawns a new agent at the course start and queues the login prompt.
func (w *World) Join(name string, out chan []byte) protocol.WelcomeMsg {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	id := fmt.Sprintf("A%d", w.nextID)
	a := &agentState{
		id:   id,
		name: name,
		body: NewBody(w.spawn, w.cfg.Speed),
		out:  out,
	}
	a.events = append(a.events, chatEvent(w.tick, LoginPrompt(name)))
	w.agents[id] = a

	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		AgentID:         id,
		ResumeToken:     "resume_" + id,
		ServerCapabilities: protocol.ServerCapabilities{
			ControlStates: true,
			MoveTo:        true,
		},
		WorldParams: protocol.WorldParams{TickRateHz: w.cfg.TickRateHz, Seed: w.cfg.Seed},
	}
}

// Agents returns the number of connected agents.
func (w *World) Agents() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.agents)
}

func (w *World) Leave(agentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.agents, agentID)
}

// LoginPrompt is the chat line a freshly joined agent receives.
func LoginPrompt(name string) string {
	return name + ", please login with the command: /login <password>"
}

// Broadcast queues a chat line for every connected agent.
func (w *World) Broadcast(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range w.agents {
		a.events = append(a.events, chatEvent(w.tick, text))
	}
}

// Act applies an ACT message from agentID.
func (w *World) Act(agentID string, act protocol.ActMsg) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a := w.agents[agentID]
	if a == nil {
		return
	}
	for _, in := range act.Instants {
		switch in.Type {
		case protocol.InstantControl:
			if !validControl(in.Control) {
				a.events = append(a.events, actionResult(w.tick, in.ID, false, protocol.ErrBadRequest, "unknown control"))
				continue
			}
			_ = a.body.SetControlState(steer.Control(in.Control), in.State)
		case protocol.InstantSay:
			w.handleSay(a, in)
		default:
			a.events = append(a.events, actionResult(w.tick, in.ID, false, protocol.ErrUnsupported, "unsupported instant"))
		}
	}
	for _, tr := range act.Tasks {
		if tr.Type != protocol.TaskMoveTo {
			a.events = append(a.events, actionResult(w.tick, tr.ID, false, protocol.ErrUnsupported, "unsupported task"))
			continue
		}
		if a.moveRef != "" {
			a.events = append(a.events, actionResult(w.tick, tr.ID, false, protocol.ErrConflict, "movement task slot occupied"))
			continue
		}
		tol := tr.Tolerance
		if tol <= 0 {
			tol = 1
		}
		target := grid.Vec3{X: float64(tr.Target[0]) + 0.5, Y: float64(tr.Target[1]), Z: float64(tr.Target[2]) + 0.5}
		a.body.MoveTo(target, tol)
		a.moveRef = tr.ID
		a.events = append(a.events, actionResult(w.tick, tr.ID, true, "", ""))
	}
}

func (w *World) handleSay(a *agentState, in protocol.InstantReq) {
	text := strings.TrimSpace(in.Text)
	if pw, ok := strings.CutPrefix(text, "/login "); ok {
		if w.cfg.Password != "" && pw != w.cfg.Password {
			a.events = append(a.events, chatEvent(w.tick, "Wrong password."))
			return
		}
		a.loggedIn = true
		a.events = append(a.events, chatEvent(w.tick, "Successfully logged in."))
		return
	}
	line := fmt.Sprintf("<%s> %s", a.name, text)
	for _, other := range w.agents {
		other.events = append(other.events, chatEvent(w.tick, line))
	}
}

// Step advances every body one tick and returns the OBS messages to send,
// keyed by agent id.
func (w *World) Step() map[string]protocol.ObsMsg {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tick++
	out := make(map[string]protocol.ObsMsg, len(w.agents))
	for id, a := range w.agents {
		if a.body.Step() && a.moveRef != "" {
			a.events = append(a.events, protocol.Event{"t": w.tick, "type": protocol.EventTaskDone, "kind": protocol.TaskMoveTo, "ref": a.moveRef})
			a.moveRef = ""
		}
		pos, _ := a.body.Position()
		obs := protocol.ObsMsg{
			Type:            protocol.TypeObs,
			ProtocolVersion: protocol.Version,
			Tick:            w.tick,
			AgentID:         id,
			Self:            protocol.SelfObs{Pos: roundPos(pos)},
			Entities:        w.entities,
			Events:          a.events,
		}
		if obs.Events == nil {
			obs.Events = []protocol.Event{}
		}
		a.events = nil
		out[id] = obs
	}
	return out
}

// Run steps the world at its tick rate and pushes each OBS to the agent's
// out channel, dropping it if the channel is full.
func (w *World) Run(ctx context.Context) {
	t := time.NewTicker(time.Second / time.Duration(w.cfg.TickRateHz))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		obs := w.Step()
		w.mu.Lock()
		for id, o := range obs {
			a := w.agents[id]
			if a == nil || a.out == nil {
				continue
			}
			b, err := json.Marshal(o)
			if err != nil {
				continue
			}
			select {
			case a.out <- b:
			default:
			}
		}
		w.mu.Unlock()
	}
}

// Body exposes an agent's body for tests and tooling.
func (w *World) Body(agentID string) *Body {
	w.mu.Lock()
	defer w.mu.Unlock()
	if a := w.agents[agentID]; a != nil {
		return a.body
	}
	return nil
}

func validControl(c string) bool {
	switch steer.Control(c) {
	case steer.Left, steer.Right, steer.Forward, steer.Back, steer.Sneak:
		return true
	}
	return false
}

func chatEvent(tick uint64, text string) protocol.Event {
	return protocol.Event{"t": tick, "type": protocol.EventChat, "text": text}
}

func actionResult(tick uint64, ref string, ok bool, code, message string) protocol.Event {
	ev := protocol.Event{"t": tick, "type": protocol.EventActionResult, "ref": ref, "ok": ok}
	if code != "" {
		ev["code"] = code
	}
	if message != "" {
		ev["message"] = message
	}
	return ev
}

// roundPos trims float noise the way a real server quantizes positions.
func roundPos(p grid.Vec3) [3]float64 {
	r := func(v float64) float64 { return math.Round(v*1000) / 1000 }
	return [3]float64{r(p.X), r(p.Y), r(p.Z)}
}
