package pendingreply

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/actormesh/internal/identity"
)

func newTable(timeout time.Duration) *Table {
	return New(timeout, zap.NewNop())
}

func TestSendMessageReceivesReply(t *testing.T) {
	table := newTable(time.Second)

	var sentID identity.CallID
	go func() {
		// Give SendMessage a moment to register the slot before replying,
		// mirroring a reply arriving asynchronously off the wire.
		for sentID == (identity.CallID{}) {
			time.Sleep(time.Millisecond)
		}
		table.ReceivedReply(sentID, []byte(`"pong"`))
	}()

	value, err := table.SendMessage(context.Background(), func(callID identity.CallID) error {
		sentID = callID
		return nil
	})
	if err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if string(value) != `"pong"` {
		t.Fatalf("got %q, want %q", value, `"pong"`)
	}
	if table.Len() != 0 {
		t.Fatalf("table should be empty after reply, got %d pending", table.Len())
	}
}

func TestSendMessageSendFailurePropagates(t *testing.T) {
	table := newTable(time.Second)
	wantErr := errors.New("write failed")

	_, err := table.SendMessage(context.Background(), func(identity.CallID) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
	if table.Len() != 0 {
		t.Fatalf("slot must be removed after send failure, got %d pending", table.Len())
	}
}

func TestSendMessageTimesOut(t *testing.T) {
	table := newTable(10 * time.Millisecond)

	_, err := table.SendMessage(context.Background(), func(identity.CallID) error { return nil })
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if table.Len() != 0 {
		t.Fatalf("slot must be removed after timeout, got %d pending", table.Len())
	}
}

func TestReceivedReplyForUnknownCallIDIsDroppedNotFatal(t *testing.T) {
	table := newTable(time.Second)
	// Must not panic.
	table.ReceivedReply(identity.NewCallID(), []byte("ignored"))
}

func TestFailAllFailsEveryPendingCall(t *testing.T) {
	table := newTable(time.Second)
	wantErr := errors.New("channel closed")

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := table.SendMessage(context.Background(), func(identity.CallID) error { return nil })
			results <- err
		}()
	}

	// Allow both sends to register before failing the table.
	for table.Len() < 2 {
		time.Sleep(time.Millisecond)
	}
	table.FailAll(wantErr)

	for i := 0; i < 2; i++ {
		if err := <-results; !errors.Is(err, wantErr) {
			t.Fatalf("got %v, want %v", err, wantErr)
		}
	}
	if table.Len() != 0 {
		t.Fatalf("table must be empty after FailAll, got %d pending", table.Len())
	}
}

func TestFailForNodeOnlyFailsMatchingNode(t *testing.T) {
	table := newTable(time.Second)
	nodeA := identity.NewNodeID()
	nodeB := identity.NewNodeID()
	wantErr := errors.New("node a's channel closed")

	resultA := make(chan error, 1)
	resultB := make(chan error, 1)

	go func() {
		_, err := table.SendMessageForNode(context.Background(), &nodeA, time.Second, func(identity.CallID) error { return nil })
		resultA <- err
	}()
	go func() {
		_, err := table.SendMessageForNode(context.Background(), &nodeB, time.Second, func(identity.CallID) error { return nil })
		resultB <- err
	}()

	for table.Len() < 2 {
		time.Sleep(time.Millisecond)
	}
	table.FailForNode(nodeA, wantErr)

	if err := <-resultA; !errors.Is(err, wantErr) {
		t.Fatalf("node A: got %v, want %v", err, wantErr)
	}
	if table.Len() != 1 {
		t.Fatalf("node B's call must still be pending, got %d pending", table.Len())
	}

	table.FailAll(errors.New("cleanup"))
	<-resultB
}

// TestSendMessageAbortsOnContextCancellation ensures a caller's context
// governs the wait independently of the table's own timeout: cancelling ctx
// must resume the slot immediately rather than waiting out a long timeout.
func TestSendMessageAbortsOnContextCancellation(t *testing.T) {
	table := newTable(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := table.SendMessage(ctx, func(identity.CallID) error { return nil })
		done <- err
	}()

	for table.Len() < 1 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SendMessage did not abort on context cancellation")
	}
	if table.Len() != 0 {
		t.Fatalf("slot must be removed after cancellation, got %d pending", table.Len())
	}
}
