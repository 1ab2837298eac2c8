// Package viewer serves debug geometry (named polylines) to loopback
// websocket subscribers.
package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gridwalk.ai/internal/captcha/draw"
	"gridwalk.ai/internal/captcha/grid"
	"gridwalk.ai/internal/viewerproto"
)

type Server struct {
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu    sync.Mutex
	lines map[string][]byte // encoded DRAW_LINE by name
	subs  map[string]chan []byte
}

func NewServer(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see isLoopbackRemote
		},
		lines: map[string][]byte{},
		subs:  map[string]chan []byte{},
	}
}

// DrawLine stores the line under name, replacing any previous line of that
// name, and forwards it to every subscriber.
func (s *Server) DrawLine(name string, points []grid.Vec3, color draw.Color) {
	msg := viewerproto.DrawLineMsg{
		Type:            viewerproto.TypeDrawLine,
		ProtocolVersion: viewerproto.Version,
		Name:            name,
		Points:          make([][3]float64, len(points)),
		Color:           uint32(color),
	}
	for i, p := range points {
		msg.Points[i] = p.ToArray()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[name] = b
	s.broadcastLocked(b)
}

// Clear drops all stored lines.
func (s *Server) Clear() {
	b, _ := json.Marshal(viewerproto.ClearMsg{Type: viewerproto.TypeClear, ProtocolVersion: viewerproto.Version})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = map[string][]byte{}
	s.broadcastLocked(b)
}

// Lines returns the stored lines ordered by name.
func (s *Server) Lines() []viewerproto.DrawLineMsg {
	s.mu.Lock()
	raw := make([][]byte, 0, len(s.lines))
	for _, name := range s.namesLocked() {
		raw = append(raw, s.lines[name])
	}
	s.mu.Unlock()

	out := make([]viewerproto.DrawLineMsg, 0, len(raw))
	for _, b := range raw {
		var m viewerproto.DrawLineMsg
		if err := json.Unmarshal(b, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (s *Server) namesLocked() []string {
	names := make([]string, 0, len(s.lines))
	for n := range s.lines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Server) broadcastLocked(b []byte) {
	for id, ch := range s.subs {
		select {
		case ch <- b:
		default:
			// Slow viewer; it can resubscribe to get the full set again.
			s.log.Printf("viewer %s lagging, dropping update", id)
		}
	}
}

// subscribe registers a subscriber and queues the current geometry for it
// under the same lock, so no update is missed or seen twice.
func (s *Server) subscribe() (string, chan []byte) {
	id := fmt.Sprintf("V%d", s.nextID.Add(1))
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan []byte, len(s.lines)+1024)
	for _, name := range s.namesLocked() {
		ch <- s.lines[name]
	}
	s.subs[id] = ch
	return id, ch
}

func (s *Server) unsubscribe(id string) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *Server) GeometryHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(viewerproto.GeometryResponse{
			ProtocolVersion: viewerproto.Version,
			Lines:           s.Lines(),
		})
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub viewerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != viewerproto.TypeSubscribe || sub.ProtocolVersion != viewerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		id, out := s.subscribe()
		defer s.unsubscribe(id)
		s.log.Printf("viewer %s subscribed from %s", id, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop only detects disconnects.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Handler mounts the viewer endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/viewer/ws", s.WSHandler())
	mux.HandleFunc("/v1/viewer/geometry", s.GeometryHandler())
	return mux
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
