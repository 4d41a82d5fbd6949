// Package wsbridge exposes the daemon's live state to local UI clients over a
// WebSocket endpoint. Outbound traffic is a broadcast of event frames (timer
// snapshots, call lifecycle); inbound frames carry the same control verbs as
// the command file, so a connected UI gets a lower-latency path than polling
// status.json.
package wsbridge

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiroq/tempofy/internal/diaglog"
)

// Event frame types pushed to clients.
const (
	EventTimerState  = "timer_state"
	EventCallStarted = "call_started"
	EventCallUpdated = "call_updated"
	EventCallEnded   = "call_ended"
)

// Frame is one outbound message.
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
	TS    time.Time   `json:"ts"`
}

// ControlMessage is one inbound message from a UI client.
type ControlMessage struct {
	Command string `json:"command"`
	Arg     string `json:"arg,omitempty"`
}

// CommandHandler receives inbound control messages. Called on the client's
// read goroutine.
type CommandHandler func(msg ControlMessage)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The listener is bound to loopback; any local origin is acceptable.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server is the broadcast hub. Zero clients is the normal state; the daemon
// never blocks on a slow or absent UI.
type Server struct {
	handler CommandHandler
	diag    *diaglog.Logger

	mu       sync.Mutex
	clients  map[*client]struct{}
	listener net.Listener
	httpSrv  *http.Server
	closed   bool
}

// New creates a Server dispatching inbound control messages to handler.
// handler may be nil, in which case inbound frames are discarded.
func New(handler CommandHandler) *Server {
	return &Server{
		handler: handler,
		clients: make(map[*client]struct{}),
		diag:    diaglog.NewNoOp(),
	}
}

// SetLogger installs the structured diagnostic logger.
func (s *Server) SetLogger(l *diaglog.Logger) {
	s.mu.Lock()
	if l == nil {
		l = diaglog.NewNoOp()
	}
	s.diag = l
	s.mu.Unlock()
}

// Start binds to addr (e.g. "127.0.0.1:4621"; port 0 picks a free port) and
// serves the /ws endpoint until Close. Returns the bound address.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("wsbridge listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.mu.Lock()
	s.listener = ln
	s.httpSrv = srv
	s.mu.Unlock()

	go func() {
		_ = srv.Serve(ln)
	}()

	return ln.Addr().String(), nil
}

// Close shuts the listener and disconnects all clients.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.httpSrv
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
	s.mu.Unlock()

	if srv != nil {
		return srv.Close()
	}
	return nil
}

// ClientCount returns the number of attached clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Broadcast pushes an event frame to every attached client. Clients whose
// send buffer is full are dropped rather than allowed to stall the daemon.
func (s *Server) Broadcast(event string, data interface{}) {
	frame := Frame{Event: event, Data: data, TS: time.Now().UTC()}
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			close(c.send)
			delete(s.clients, c)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()

	s.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentWSBridge,
		Event:     diaglog.EventWSClientAttached,
		Payload:   map[string]interface{}{"clients": n, "remote": r.RemoteAddr},
	})

	go s.writePump(c)
	s.readPump(c)
}

// readPump consumes inbound control frames until the connection dies, then
// detaches the client.
func (s *Server) readPump(c *client) {
	defer s.detach(c)

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Command == "" {
			continue
		}
		if s.handler != nil {
			s.handler(msg)
		}
	}
}

// writePump drains the client's send channel and keeps the connection alive
// with pings.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) detach(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		close(c.send)
		delete(s.clients, c)
	}
	n := len(s.clients)
	s.mu.Unlock()

	_ = c.conn.Close()

	s.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentWSBridge,
		Event:     diaglog.EventWSClientDetached,
		Payload:   map[string]interface{}{"clients": n},
	})
}
