package actormesh

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/actormesh/internal/connmgr"
	"github.com/arkeep-io/actormesh/internal/dispatch"
	"github.com/arkeep-io/actormesh/internal/identity"
	"github.com/arkeep-io/actormesh/internal/pendingreply"
	"github.com/arkeep-io/actormesh/internal/registry"
	"github.com/arkeep-io/actormesh/internal/wire"
)

// Mode selects whether a System dials a server (ModeClient) or accepts
// connections from many clients (ModeServer) — spec.md §4.4.
type Mode int

const (
	ModeClient Mode = iota
	ModeServer
)

func (m Mode) String() string {
	if m == ModeServer {
		return "server"
	}
	return "client"
}

// Config configures a System.
type Config struct {
	Mode Mode

	// NodeID is this process's identity. Required in both modes: a client
	// announces it during the handshake; a server tags every actor it
	// creates with it.
	NodeID NodeID

	Host string
	Port int
	// Path is the WebSocket upgrade path, e.g. "/actormesh/v1". Defaults to
	// "/actormesh/v1" if empty.
	Path string

	// CallTimeout bounds how long RemoteCall waits for a reply. Defaults to
	// pendingreply.DefaultCallTimeout if zero.
	CallTimeout time.Duration

	// MaxReconnectAttempts caps client-mode redials before SelectChannel
	// gives up. 0 means unlimited. Ignored in server mode.
	MaxReconnectAttempts int

	// OnDemand lazily materializes a local actor the first time its id is
	// referenced and it isn't already registered — spec.md §4.5. May be nil.
	OnDemand registry.OnDemandHandler

	Logger *zap.Logger
}

func (c Config) path() string {
	if c.Path == "" {
		return "/actormesh/v1"
	}
	return c.Path
}

func (c Config) callTimeout() time.Duration {
	if c.CallTimeout <= 0 {
		return pendingreply.DefaultCallTimeout
	}
	return c.CallTimeout
}

// System is one participant in the actor mesh: a registry of local actors,
// a pending-reply table for outbound calls, and a connection manager in
// either client or server mode — spec.md §1's composition of L1-L8.
type System struct {
	cfg      Config
	logger   *zap.Logger
	registry *registry.Registry
	pending  *pendingreply.Table
	manager  connmgr.Manager

	// metrics is nil in client mode: there is no /metrics endpoint to serve
	// a client-side registry, matching the teacher's server-only metrics
	// surface.
	metrics connmgr.Metrics
}

// lazyMetrics defers to a getter resolved once the underlying manager exists
// — the dispatcher needs a connmgr.Metrics at construction time, but in
// server mode the ServerManager (which owns the registry) isn't built until
// after the dispatcher's onIdentify callback is wired to it.
type lazyMetrics struct {
	get func() connmgr.Metrics
}

func (l *lazyMetrics) ObserveCallLatency(d time.Duration) {
	if m := l.get(); m != nil {
		m.ObserveCallLatency(d)
	}
}

func (l *lazyMetrics) IncReplyTimeout() {
	if m := l.get(); m != nil {
		m.IncReplyTimeout()
	}
}

func (l *lazyMetrics) SetPendingCalls(n int) {
	if m := l.get(); m != nil {
		m.SetPendingCalls(n)
	}
}

// NewSystem builds and starts a System per cfg. In client mode it begins
// dialing immediately in the background; in server mode it begins accepting
// WebSocket upgrades immediately. Either way, NewSystem returns once the
// manager has been constructed, not once a channel is open.
func NewSystem(cfg Config) (*System, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Path = cfg.path()
	cfg.CallTimeout = cfg.callTimeout()

	reg := registry.New(cfg.NodeID, cfg.OnDemand, logger)
	pending := pendingreply.New(cfg.CallTimeout, logger)

	s := &System{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		pending:  pending,
	}

	switch cfg.Mode {
	case ModeClient:
		if err := s.startClient(); err != nil {
			return nil, err
		}
	case ModeServer:
		if err := s.startServer(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("actormesh: unknown mode %v", cfg.Mode)
	}

	return s, nil
}

func (s *System) startClient() error {
	d := dispatch.New(s.registry, s.pending, nil, nil, s.logger)

	onOpen := func(ch *connmgr.Channel) {
		go s.sendHandshake(ch)
		d.Run(ch)
	}
	onClosed := func(_ *identity.NodeID, err error) {
		// A client manager has exactly one logical channel, so a loss of it
		// fails every outstanding call — spec.md §4.4.
		s.pending.FailAll(err)
	}

	s.manager = connmgr.NewClientManager(connmgr.ClientConfig{
		Host:                 s.cfg.Host,
		Port:                 s.cfg.Port,
		Path:                 s.cfg.Path,
		MaxReconnectAttempts: s.cfg.MaxReconnectAttempts,
	}, onOpen, onClosed, s.logger)
	return nil
}

func (s *System) startServer() error {
	var srv *connmgr.ServerManager

	lm := &lazyMetrics{get: func() connmgr.Metrics { return nil }}
	onIdentify := func(node identity.NodeID, ch *connmgr.Channel) {
		if srv != nil {
			srv.Associate(node, ch)
		}
	}
	d := dispatch.New(s.registry, s.pending, lm, onIdentify, s.logger)

	onOpen := func(ch *connmgr.Channel) { d.Run(ch) }
	onClosed := func(node *identity.NodeID, err error) {
		// Scoped to the associated node, not a blanket FailAll, so other
		// nodes' in-flight calls are undisturbed — spec.md §4.4.
		if node != nil {
			s.pending.FailForNode(*node, err)
		}
	}

	m, err := connmgr.NewServerManager(connmgr.ServerConfig{
		Host: s.cfg.Host,
		Port: s.cfg.Port,
		Path: s.cfg.Path,
	}, onOpen, onClosed, s.logger)
	if err != nil {
		return err
	}
	srv = m
	lm.get = func() connmgr.Metrics { return m.Metrics() }

	s.manager = m
	s.metrics = lm
	return nil
}

// sendHandshake sends the reserved identify call announcing this process's
// NodeID, the client-side half of wire.HandshakeTarget — see DESIGN.md's
// Open Question decision on server-mode self-identification. The call is
// routed through the ordinary RemoteCallVoid path: in client mode,
// SelectChannel always returns the one channel that was just opened.
func (s *System) sendHandshake(ch *connmgr.Channel) {
	if err := RemoteCallVoid(context.Background(), s, identity.ActorID{}, wire.HandshakeTarget, nil, s.cfg.NodeID); err != nil {
		s.logger.Warn("handshake send failed", zap.Error(err))
	}
}

// LocalPort returns the TCP port this system is bound to (server mode) or
// dialing (client mode).
func (s *System) LocalPort() int { return s.manager.LocalPort() }

// ShutdownGracefully cancels the manager, closes every channel it holds,
// and fails all pending replies with NoChannelToNode — spec.md §5's
// shutdownGracefully.
func (s *System) ShutdownGracefully() {
	s.manager.Cancel()
	s.pending.FailAll(&NoChannelToNode{NodeID: s.cfg.NodeID.String()})
}
