package wsbridge

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func startTestServer(t *testing.T, handler CommandHandler) (*Server, string) {
	t.Helper()
	s := New(handler)
	addr, err := s.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, addr
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d (have %d)", n, s.ClientCount())
}

func TestBroadcastReachesAllClients(t *testing.T) {
	s, addr := startTestServer(t, nil)

	c1 := dial(t, addr)
	c2 := dial(t, addr)
	waitForClients(t, s, 2)

	s.Broadcast(EventTimerState, map[string]interface{}{"phase": "running", "task": "Writing docs"})

	for i, conn := range []*websocket.Conn{c1, c2} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("client %d invalid frame: %v", i, err)
		}
		if frame.Event != EventTimerState {
			t.Errorf("client %d event = %q", i, frame.Event)
		}
		payload := frame.Data.(map[string]interface{})
		if payload["task"] != "Writing docs" {
			t.Errorf("client %d payload = %v", i, payload)
		}
	}
}

func TestInboundControlMessageDispatched(t *testing.T) {
	var mu sync.Mutex
	var got []ControlMessage
	_, addr := startTestServer(t, func(msg ControlMessage) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})

	conn := dial(t, addr)
	if err := conn.WriteJSON(ControlMessage{Command: "start", Arg: "Code review"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("handler calls = %d, want 1", len(got))
	}
	if got[0].Command != "start" || got[0].Arg != "Code review" {
		t.Errorf("message = %+v", got[0])
	}
}

func TestMalformedInboundFrameIgnored(t *testing.T) {
	called := make(chan struct{}, 1)
	s, addr := startTestServer(t, func(msg ControlMessage) {
		called <- struct{}{}
	})

	conn := dial(t, addr)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"arg":"no command"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-called:
		t.Fatal("handler invoked for malformed frame")
	case <-time.After(100 * time.Millisecond):
	}
	if s.ClientCount() != 1 {
		t.Errorf("malformed frame must not disconnect the client, clients = %d", s.ClientCount())
	}
}

func TestClientDisconnectDetaches(t *testing.T) {
	s, addr := startTestServer(t, nil)

	conn := dial(t, addr)
	waitForClients(t, s, 1)

	_ = conn.Close()
	waitForClients(t, s, 0)

	// Broadcasting with no clients must not panic or block.
	s.Broadcast(EventCallEnded, nil)
}

func TestCloseDisconnectsClients(t *testing.T) {
	s, addr := startTestServer(t, nil)

	conn := dial(t, addr)
	waitForClients(t, s, 1)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break // connection torn down as expected
		}
	}
	if s.ClientCount() != 0 {
		t.Errorf("clients = %d after Close", s.ClientCount())
	}
}
