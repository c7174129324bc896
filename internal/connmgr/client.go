package connmgr

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arkeep-io/actormesh/internal/identity"
	"github.com/arkeep-io/actormesh/internal/rpcerr"
)

// Reconnect backoff constants — identical in spirit (and value) to the
// teacher's agent/internal/connection/manager.go: exponential with a cap,
// plus jitter to avoid every client in a fleet racing to reconnect in
// lockstep after a shared server blip.
const (
	backoffInitial = 1 * time.Second
	backoffMax     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.2
)

// ClientConfig configures a ClientManager.
type ClientConfig struct {
	Host string
	Port int
	Path string // WebSocket upgrade path, e.g. "/actormesh/v1"

	// MaxReconnectAttempts caps how many times ClientManager redials after
	// a failure before SelectChannel gives up with NoChannelToNode. 0 means
	// unlimited.
	MaxReconnectAttempts int
}

// ClientManager maintains a single logical channel to one server, redialing
// with exponential backoff on failure — spec.md §4.4's client mode.
// Generalizes agent/internal/connection/manager.go's Run/connect/backoff
// shape from a gRPC dial to a WebSocket dial.
type ClientManager struct {
	cfg    ClientConfig
	logger *zap.Logger

	onOpen   OnChannelOpen
	onClosed OnChannelClosed

	mu          sync.Mutex
	current     *Channel
	attempts    int
	reconnectCh chan struct{} // closed and replaced each time a channel becomes available
	cancelled   bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewClientManager creates a ClientManager and immediately starts its
// connect loop in the background. Cancel stops it.
func NewClientManager(cfg ClientConfig, onOpen OnChannelOpen, onClosed OnChannelClosed, logger *zap.Logger) *ClientManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &ClientManager{
		cfg:         cfg,
		logger:      logger.Named("connmgr.client"),
		onOpen:      onOpen,
		onClosed:    onClosed,
		reconnectCh: make(chan struct{}),
		cancel:      cancel,
	}
	m.wg.Add(1)
	go m.run(ctx)
	return m
}

func (m *ClientManager) LocalPort() int { return m.cfg.Port }

// SelectChannel waits for the upstream channel to be open. If reconnects are
// exhausted, it fails with NoChannelToNode.
func (m *ClientManager) SelectChannel(ctx context.Context, actor identity.ActorID) (*Channel, error) {
	for {
		m.mu.Lock()
		ch := m.current
		exhausted := m.cfg.MaxReconnectAttempts > 0 && m.attempts >= m.cfg.MaxReconnectAttempts
		waitCh := m.reconnectCh
		m.mu.Unlock()

		if ch != nil && ch.State() == StateOpen {
			return ch, nil
		}
		if exhausted {
			nodeStr := "server"
			if actor.NodeID != nil {
				nodeStr = actor.NodeID.String()
			}
			return nil, &rpcerr.NoChannelToNode{NodeID: nodeStr}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitCh:
			// a new channel may be ready — loop and check again
		}
	}
}

// Associate is a no-op for ClientManager: a client has exactly one logical
// channel, to the one server it dials, so there is nothing to key by node.
func (m *ClientManager) Associate(identity.NodeID, *Channel) {}

// Cancel stops the connect loop and closes the current channel.
func (m *ClientManager) Cancel() {
	m.mu.Lock()
	if m.cancelled {
		m.mu.Unlock()
		return
	}
	m.cancelled = true
	ch := m.current
	m.mu.Unlock()

	m.cancel()
	if ch != nil {
		_ = ch.Close()
	}
	m.wg.Wait()
}

func (m *ClientManager) run(ctx context.Context) {
	defer m.wg.Done()
	backoff := backoffInitial

	for {
		if ctx.Err() != nil {
			return
		}

		ch, err := m.dial(ctx)
		if err != nil {
			m.mu.Lock()
			m.attempts++
			attempts := m.attempts
			exhausted := m.cfg.MaxReconnectAttempts > 0 && attempts >= m.cfg.MaxReconnectAttempts
			if exhausted {
				// Wake SelectChannel waiters so they observe the exhaustion.
				close(m.reconnectCh)
				m.reconnectCh = make(chan struct{})
			}
			m.mu.Unlock()

			if exhausted {
				m.logger.Warn("connect failed, reconnect attempts exhausted", zap.Error(err), zap.Int("attempt", attempts))
				return
			}

			m.logger.Warn("connect failed, retrying",
				zap.Error(err),
				zap.Duration("backoff", backoff),
				zap.Int("attempt", attempts),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(backoff)):
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = backoffInitial
		ch.SetState(StateOpen)
		m.mu.Lock()
		m.attempts = 0
		m.current = ch
		close(m.reconnectCh)
		m.reconnectCh = make(chan struct{})
		m.mu.Unlock()

		if m.onOpen != nil {
			m.onOpen(ch)
		}

		// onOpen is expected to block for the channel's lifetime (it runs
		// the read loop); once it returns the channel is dead.
		<-ch.Done()
		if m.onClosed != nil {
			m.onClosed(ch.NodeID(), fmt.Errorf("actormesh: upstream channel closed"))
		}

		m.mu.Lock()
		if m.current == ch {
			m.current = nil
		}
		m.mu.Unlock()
	}
}

func (m *ClientManager) dial(ctx context.Context) (*Channel, error) {
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port), Path: m.cfg.Path}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("actormesh: dial %s: %w", u.String(), err)
	}
	return NewChannel(conn, nil), nil
}

// nextBackoff returns the next backoff duration, capped at backoffMax.
func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > backoffMax {
		return backoffMax
	}
	return next
}

// jitter adds a random +-jitterFraction perturbation to d to avoid a
// thundering herd of reconnecting clients.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
