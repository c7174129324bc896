package connmgr

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
)

func dialPair(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srvConnCh := make(chan *websocket.Conn, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		srvConnCh <- conn
	}))
	t.Cleanup(ts.Close)

	wsURL := "ws" + ts.URL[len("http"):]
	cConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { cConn.Close() })

	sConn := <-srvConnCh
	t.Cleanup(func() { sConn.Close() })
	return cConn, sConn
}

func TestChannelStateTransitions(t *testing.T) {
	cConn, _ := dialPair(t)
	ch := NewChannel(cConn, nil)

	if ch.State() != StateConnecting {
		t.Fatalf("new channel state = %v, want Connecting", ch.State())
	}
	ch.SetState(StateOpen)
	if ch.State() != StateOpen {
		t.Fatalf("state = %v, want Open", ch.State())
	}

	select {
	case <-ch.Done():
		t.Fatal("Done() must not be closed before Close()")
	default:
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ch.State() != StateClosed {
		t.Fatalf("state = %v, want Closed", ch.State())
	}
	select {
	case <-ch.Done():
	default:
		t.Fatal("Done() must be closed after Close()")
	}

	// Close must be idempotent.
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}

func TestChannelPong(t *testing.T) {
	cConn, sConn := dialPair(t)
	ch := NewChannel(cConn, nil)
	ch.SetState(StateOpen)

	// gorilla/websocket's ReadMessage/NextReader never surfaces control
	// frames (ping/pong/close) to the caller — they're consumed internally
	// and routed to the handlers below — so pong receipt is observed via
	// SetPongHandler, not via a ReadMessage return value.
	received := make(chan string, 1)
	sConn.SetPongHandler(func(payload string) error {
		received <- payload
		return nil
	})

	if err := ch.Pong([]byte("payload")); err != nil {
		t.Fatalf("Pong: %v", err)
	}

	// Pump one read so the pong handler above actually runs.
	readErr := make(chan error, 1)
	go func() {
		_, _, err := sConn.ReadMessage()
		readErr <- err
	}()

	select {
	case payload := <-received:
		if payload != "payload" {
			t.Fatalf("got pong payload %q, want %q", payload, "payload")
		}
	case err := <-readErr:
		t.Fatalf("server read returned before pong handler fired: %v", err)
	}
}
