// Package agent keeps a reconnecting websocket session to the world server
// and exposes the agent's latest observed state plus its controls.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"

	"gridwalk.ai/internal/captcha/grid"
	"gridwalk.ai/internal/captcha/steer"
	"gridwalk.ai/internal/protocol"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrNoControls   = errors.New("server does not accept control states")
	ErrNoMoveTo     = errors.New("server does not accept MOVE_TO tasks")
)

// Lifecycle event kinds.
const (
	KindLogin      = "LOGIN"
	KindSpawn      = "SPAWN"
	KindChat       = "CHAT"
	KindTaskDone   = "TASK_DONE"
	KindRejected   = "REJECTED"
	KindDisconnect = "DISCONNECT"
)

type Event struct {
	Kind string
	Text string // chat line, reject message or disconnect cause
	Ref  string // task or instant id
	Code string
	Tick uint64
}

type Config struct {
	URL       string
	AgentName string
	Token     string
	// Proxy is an optional socks5:// URL the websocket is dialed through.
	Proxy string
	// ReconnectDelay is the pause after a dropped connection. Zero uses an
	// exponential backoff from 200ms up to 5s.
	ReconnectDelay time.Duration
	MaxQueue       int
}

type Session struct {
	cfg    Config
	log    *log.Logger
	dialer *websocket.Dialer

	mu sync.RWMutex

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected bool
	spawned   bool
	lastErr   string
	pauseFor  time.Duration

	agentID  string
	welcome  protocol.WelcomeMsg
	lastTick uint64
	pos      grid.Vec3
	entities []protocol.EntityObs

	controls map[steer.Control]bool
	seq      atomic.Uint64

	events chan Event
}

func NewSession(cfg Config, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 64
	}
	d, err := newDialer(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg:      cfg,
		log:      logger,
		dialer:   d,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		controls: map[steer.Control]bool{},
		events:   make(chan Event, 256),
	}, nil
}

func newDialer(proxyURL string) (*websocket.Dialer, error) {
	d := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	if strings.TrimSpace(proxyURL) == "" {
		return d, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("proxy url: %w", err)
	}
	pd, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("proxy dialer: %w", err)
	}
	if cd, ok := pd.(proxy.ContextDialer); ok {
		d.NetDialContext = cd.DialContext
	} else {
		d.NetDial = pd.Dial
	}
	return d, nil
}

// Events delivers lifecycle events. Events are dropped while the channel
// is full.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.Disconnect()
		s.startOnce.Do(func() { close(s.done) })
		<-s.done
	})
}

// Disconnect drops the connection; the session reconnects after the
// configured delay.
func (s *Session) Disconnect() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.connected = false
	s.spawned = false
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// DisconnectFor drops the connection and holds off reconnecting for d.
func (s *Session) DisconnectFor(d time.Duration) {
	s.mu.Lock()
	s.pauseFor = d
	s.mu.Unlock()
	s.Disconnect()
}

func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Session) AgentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentID
}

func (s *Session) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Position reports the last observed position; false until the agent has
// spawned in the current connection.
func (s *Session) Position() (grid.Vec3, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos, s.spawned
}

// Entities returns the entities of the last observation.
func (s *Session) Entities() []protocol.EntityObs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.EntityObs(nil), s.entities...)
}

// Preconditions fails when the connected server cannot be steered.
func (s *Session) Preconditions() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return ErrNotConnected
	}
	if !s.spawned {
		return errors.New("agent has not spawned")
	}
	if !s.welcome.ServerCapabilities.ControlStates {
		return ErrNoControls
	}
	return nil
}

// SetControlState sends a CONTROL instant when the state changes.
func (s *Session) SetControlState(c steer.Control, on bool) error {
	s.mu.Lock()
	if s.controls[c] == on {
		s.mu.Unlock()
		return nil
	}
	s.controls[c] = on
	s.mu.Unlock()

	err := s.send(protocol.ActMsg{Instants: []protocol.InstantReq{{
		ID:      s.nextID("I"),
		Type:    protocol.InstantControl,
		Control: string(c),
		State:   on,
	}}})
	if err != nil {
		s.mu.Lock()
		delete(s.controls, c)
		s.mu.Unlock()
	}
	return err
}

// Chat sends a chat line or command.
func (s *Session) Chat(text string) error {
	return s.send(protocol.ActMsg{Instants: []protocol.InstantReq{{
		ID:   s.nextID("I"),
		Type: protocol.InstantSay,
		Text: text,
	}}})
}

// MoveTo starts a server-side walk to a block and returns the task id that
// the TASK_DONE event will carry.
func (s *Session) MoveTo(target [3]int, tolerance float64) (string, error) {
	s.mu.RLock()
	ok := s.welcome.ServerCapabilities.MoveTo
	s.mu.RUnlock()
	if !ok {
		return "", ErrNoMoveTo
	}
	id := s.nextID("K")
	err := s.send(protocol.ActMsg{Tasks: []protocol.TaskReq{{
		ID:        id,
		Type:      protocol.TaskMoveTo,
		Target:    target,
		Tolerance: tolerance,
	}}})
	return id, err
}

func (s *Session) nextID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, s.seq.Add(1))
}

func (s *Session) send(act protocol.ActMsg) error {
	s.mu.RLock()
	conn := s.conn
	act.Tick = s.lastTick
	act.AgentID = s.agentID
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	act.Type = protocol.TypeAct
	act.ProtocolVersion = protocol.Version
	b, err := json.Marshal(act)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Printf("event queue full, dropping %s", ev.Kind)
	}
}

func (s *Session) run() {
	defer close(s.done)

	backoff := 200 * time.Millisecond
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		err := s.connectAndReadLoop()
		s.mu.Lock()
		s.connected = false
		s.spawned = false
		s.conn = nil
		if err != nil {
			s.lastErr = err.Error()
		}
		wait := s.pauseFor
		s.pauseFor = 0
		s.mu.Unlock()

		cause := "closed"
		if err != nil {
			cause = err.Error()
		}
		s.emit(Event{Kind: KindDisconnect, Text: cause})

		switch {
		case wait > 0:
		case s.cfg.ReconnectDelay > 0:
			wait = s.cfg.ReconnectDelay
		default:
			wait = backoff
			if backoff < 5*time.Second {
				backoff *= 2
				if backoff > 5*time.Second {
					backoff = 5 * time.Second
				}
			}
		}
		s.log.Printf("disconnected (%s), reconnecting in %s", cause, wait)
		t := time.NewTimer(wait)
		select {
		case <-s.stop:
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Session) connectAndReadLoop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, http.Header{})
	cancel()
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       s.cfg.AgentName,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: s.cfg.MaxQueue},
	}
	if t := strings.TrimSpace(s.cfg.Token); t != "" {
		hello.Auth = &protocol.HelloAuth{Token: t}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return err
	}

	s.mu.Lock()
	select {
	case <-s.stop:
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	default:
	}
	s.conn = conn
	s.controls = map[steer.Control]bool{}
	s.mu.Unlock()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			select {
			case <-s.stop:
				return nil
			default:
			}
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || !protocol.IsSupportedVersion(base.ProtocolVersion) {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			s.mu.Lock()
			s.welcome = w
			s.agentID = w.AgentID
			s.connected = true
			s.lastErr = ""
			s.mu.Unlock()
			s.log.Printf("logged in as %s (agent %s)", s.cfg.AgentName, w.AgentID)
			s.emit(Event{Kind: KindLogin, Text: w.AgentID})

		case protocol.TypeObs:
			var o protocol.ObsMsg
			if err := json.Unmarshal(msg, &o); err != nil {
				continue
			}
			s.mu.Lock()
			first := !s.spawned
			s.spawned = true
			s.lastTick = o.Tick
			s.pos = grid.FromArray(o.Self.Pos)
			s.entities = o.Entities
			if o.AgentID != "" {
				s.agentID = o.AgentID
			}
			s.mu.Unlock()
			if first {
				s.emit(Event{Kind: KindSpawn, Tick: o.Tick})
			}
			for _, ev := range o.Events {
				s.handleEvent(o.Tick, ev)
			}
		}
	}
}

func (s *Session) handleEvent(tick uint64, ev protocol.Event) {
	str := func(k string) string {
		v, _ := ev[k].(string)
		return v
	}
	switch str("type") {
	case protocol.EventChat:
		s.emit(Event{Kind: KindChat, Text: str("text"), Tick: tick})
	case protocol.EventTaskDone:
		s.emit(Event{Kind: KindTaskDone, Ref: str("ref"), Tick: tick})
	case protocol.EventActionResult:
		if ok, _ := ev["ok"].(bool); !ok {
			s.emit(Event{Kind: KindRejected, Ref: str("ref"), Code: str("code"), Text: str("message"), Tick: tick})
		}
	}
}
