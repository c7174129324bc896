// Package pendingreply implements the call/reply correlation table described
// in spec.md §4.3: a map of CallID to a TimedContinuation, with the
// send/await/fail primitive that ties a suspended caller to its eventual
// reply, timeout, or owning-channel failure.
package pendingreply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/actormesh/internal/continuation"
	"github.com/arkeep-io/actormesh/internal/identity"
)

// ErrTimeout is wrapped by every error SendMessage/SendMessageForNode return
// on a timed-out call, so callers can distinguish it from a cancellation or
// a send failure with errors.Is without depending on the unexported
// timeoutError type.
var ErrTimeout = errors.New("actormesh: call timed out waiting for a reply")

// DefaultCallTimeout is the timeout installed for every call unless a caller
// overrides it. Chosen to comfortably exceed one WebSocket round-trip over a
// loaded network while still surfacing a genuinely unreachable recipient in
// a development-friendly window.
const DefaultCallTimeout = 5 * time.Second

// entry pairs a pending slot with the node the call was routed to, so a
// single node's channel failing can fail just that node's calls rather than
// every call in flight — spec.md §4.4's "in the server case, scoped to the
// associated node".
type entry struct {
	slot *continuation.TimedContinuation[[]byte]
	node *identity.NodeID
}

// Table maps CallID to the TimedContinuation awaiting that call's reply.
// Concurrent operations on distinct CallIDs must not block each other beyond
// the short table-protection critical section — spec.md §4.3.
type Table struct {
	mu      sync.Mutex
	pending map[identity.CallID]entry
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an empty Table. timeout is applied to every call unless
// SendMessageForNode is used; pass 0 to use DefaultCallTimeout.
func New(timeout time.Duration, logger *zap.Logger) *Table {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Table{
		pending: make(map[identity.CallID]entry),
		timeout: timeout,
		logger:  logger.Named("pendingreply"),
	}
}

// timeoutError is returned to a caller whose call was never answered before
// its timeout elapsed.
type timeoutError struct{ callID identity.CallID }

func (e timeoutError) Error() string {
	return fmt.Sprintf("actormesh: call %s timed out waiting for a reply", e.callID)
}

func (e timeoutError) Unwrap() error { return ErrTimeout }

// SendMessage allocates a fresh CallID, installs a result slot for it,
// invokes send(callID) to transmit the call, then awaits the reply. The
// slot is removed before SendMessage returns, whether it resolves by reply,
// timeout, send failing, or ctx being cancelled — spec.md §4.3, §8's
// "exactly one of {reply, timeout, channel failure, cancellation} resumes
// its slot".
func (t *Table) SendMessage(ctx context.Context, send func(identity.CallID) error) ([]byte, error) {
	return t.SendMessageForNode(ctx, nil, t.timeout, send)
}

// SendMessageForNode is SendMessage with an explicit timeout override and a
// node tag recorded against the slot, so FailForNode can target it
// specifically when that node's channel dies. node may be nil (client mode,
// where there is exactly one channel and FailAll is always the right scope).
// Cancelling ctx aborts the wait immediately, without waiting for the
// table's own timeout to elapse: the slot is cancelled with ctx.Err() and
// removed, the same as a reply, timeout, or send failure would remove it.
func (t *Table) SendMessageForNode(ctx context.Context, node *identity.NodeID, timeout time.Duration, send func(identity.CallID) error) ([]byte, error) {
	callID := identity.NewCallID()
	slot := continuation.New[[]byte](timeout, timeoutError{callID: callID})

	t.mu.Lock()
	t.pending[callID] = entry{slot: slot, node: node}
	t.mu.Unlock()

	remove := func() {
		t.mu.Lock()
		delete(t.pending, callID)
		t.mu.Unlock()
	}

	if err := send(callID); err != nil {
		remove()
		slot.Cancel(err)
		return nil, err
	}

	type outcome struct {
		value []byte
		err   error
	}
	awaited := make(chan outcome, 1)
	go func() {
		v, err := slot.Await()
		awaited <- outcome{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		slot.Cancel(ctx.Err())
		remove()
		return nil, ctx.Err()
	case o := <-awaited:
		remove()
		return o.value, o.err
	}
}

// ReceivedReply delivers bytes to the slot for callID, if one is still
// pending. A reply for an unknown CallID is logged and dropped — it is a
// late reply that arrived after its call already timed out, not a fatal
// condition — spec.md §4.3, §7.
func (t *Table) ReceivedReply(callID identity.CallID, value []byte) {
	t.mu.Lock()
	e, ok := t.pending[callID]
	if ok {
		delete(t.pending, callID)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Warn("reply for unknown call id, dropping",
			zap.String("call_id", callID.String()),
		)
		return
	}
	e.slot.ResumeReturning(value)
}

// FailAll resumes every outstanding slot with err and empties the table.
// Called on full system shutdown, or by a client manager whose single
// upstream channel has died — spec.md §4.3, §4.4.
func (t *Table) FailAll(err error) {
	t.failWhere(err, func(entry) bool { return true })
}

// FailForNode resumes, with err, every outstanding slot bound to node and
// removes them — scoped version of FailAll used by the server manager when
// one node's channel dies without disturbing calls bound to other nodes.
func (t *Table) FailForNode(node identity.NodeID, err error) {
	t.failWhere(err, func(e entry) bool {
		return e.node != nil && *e.node == node
	})
}

func (t *Table) failWhere(err error, match func(entry) bool) {
	t.mu.Lock()
	var slots []*continuation.TimedContinuation[[]byte]
	for id, e := range t.pending {
		if !match(e) {
			continue
		}
		slots = append(slots, e.slot)
		delete(t.pending, id)
	}
	t.mu.Unlock()

	for _, slot := range slots {
		slot.ResumeThrowing(err)
	}
}

// Len reports the number of calls currently awaiting a reply. Intended for
// tests and metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
