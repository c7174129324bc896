package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arkeep-io/actormesh/internal/connmgr"
	"github.com/arkeep-io/actormesh/internal/identity"
	"github.com/arkeep-io/actormesh/internal/pendingreply"
	"github.com/arkeep-io/actormesh/internal/registry"
	"github.com/arkeep-io/actormesh/internal/wire"
)

// echoActor answers any target by returning its sole string argument.
type echoActor struct {
	id identity.ActorID
}

func (a *echoActor) ActorID() identity.ActorID { return a.id }

func (a *echoActor) Invoke(ctx context.Context, target string, dec *wire.InvocationDecoder, handler wire.ResultHandler) error {
	msg, err := wire.DecodeNextArgument[string](dec)
	if err != nil {
		return err
	}
	return handler.OnReturn(msg)
}

// serverChannel spins up a Dispatcher served over a real WebSocket, wired
// to reg/pending, and returns the client-side *websocket.Conn connected to
// it plus the server's own Channel (for writing frames it should receive).
func serverChannel(t *testing.T, reg *registry.Registry, pending *pendingreply.Table) (*websocket.Conn, *connmgr.Channel) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	d := New(reg, pending, nil, nil, zap.NewNop())

	chCh := make(chan *connmgr.Channel, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ch := connmgr.NewChannel(conn, nil)
		ch.SetState(connmgr.StateOpen)
		chCh <- ch
		d.Run(ch)
	}))
	t.Cleanup(ts.Close)

	wsURL := "ws" + ts.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	return clientConn, <-chCh
}

func TestHandleCallEchoesReply(t *testing.T) {
	node := identity.NewNodeID()
	reg := registry.New(node, nil, zap.NewNop())
	pending := pendingreply.New(time.Second, zap.NewNop())

	actorID := identity.NewActorID(node)
	reg.ActorReady(&echoActor{id: actorID})

	clientConn, _ := serverChannel(t, reg, pending)

	arg, err := wire.EncodeArgument("hello")
	if err != nil {
		t.Fatalf("EncodeArgument: %v", err)
	}
	callID := identity.NewCallID()
	env := wire.CallEnvelope(wire.RemoteCallEnvelope{
		CallID:           callID,
		Recipient:        actorID,
		InvocationTarget: "Echo.echo",
		Args:             [][]byte{arg},
	})
	payload, err := wire.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := clientConn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	reply, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if reply.Tag() != wire.TagReply {
		t.Fatalf("got tag %v, want TagReply", reply.Tag())
	}
	if reply.Reply.CallID != callID {
		t.Fatalf("reply callID = %v, want %v", reply.Reply.CallID, callID)
	}
	var got string
	if err := json.Unmarshal(reply.Reply.Value, &got); err != nil {
		t.Fatalf("decoding reply value: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

// TestHandleCallUnknownRecipientIsDroppedNotClosed sends a call for a
// recipient that was never registered, then a second, valid echo call on the
// same connection — spec.md §4.6 requires an unresolvable recipient to be
// logged and dropped, never tear down the channel. If the first call had
// closed the channel, the second call's reply would never arrive and the
// read below would time out.
func TestHandleCallUnknownRecipientIsDroppedNotClosed(t *testing.T) {
	node := identity.NewNodeID()
	reg := registry.New(node, nil, zap.NewNop())
	pending := pendingreply.New(time.Second, zap.NewNop())

	actorID := identity.NewActorID(node)
	reg.ActorReady(&echoActor{id: actorID})

	clientConn, _ := serverChannel(t, reg, pending)

	unknownEnv := wire.CallEnvelope(wire.RemoteCallEnvelope{
		CallID:           identity.NewCallID(),
		Recipient:        identity.NewActorID(node), // never registered
		InvocationTarget: "Echo.echo",
		Args:             [][]byte{[]byte(`"hello"`)},
	})
	unknownPayload, err := wire.Encode(unknownEnv)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := clientConn.WriteMessage(websocket.TextMessage, unknownPayload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	callID := identity.NewCallID()
	okEnv := wire.CallEnvelope(wire.RemoteCallEnvelope{
		CallID:           callID,
		Recipient:        actorID,
		InvocationTarget: "Echo.echo",
		Args:             [][]byte{[]byte(`"still alive"`)},
	})
	okPayload, err := wire.Encode(okEnv)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := clientConn.WriteMessage(websocket.TextMessage, okPayload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	reply, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if reply.Tag() != wire.TagReply || reply.Reply.CallID != callID {
		t.Fatalf("expected a reply to the follow-up call, got tag=%v callID=%v", reply.Tag(), reply.Reply)
	}
}
