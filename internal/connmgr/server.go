package connmgr

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-co-op/gocron/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arkeep-io/actormesh/internal/identity"
	"github.com/arkeep-io/actormesh/internal/rpcerr"
)

// staleCloseGrace is how long a channel may sit in StateClosing before the
// sweep job force-closes it and fails its pending replies — a concrete
// resolution of spec.md §4.4's "all transitions to Closed must trigger
// failAll" for a transport that never cleanly signals closure (e.g. a
// half-open TCP connection that stops acking).
const staleCloseGrace = 10 * time.Second

// sweepInterval is how often the stale-channel sweep runs.
const sweepInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Origin validation is the responsibility of the reverse proxy in
		// front of this server, matching the teacher's server/internal/
		// websocket/client.go upgrader.
		return true
	},
}

// ServerConfig configures a ServerManager.
type ServerConfig struct {
	Host string
	Port int
	Path string // WebSocket upgrade path, e.g. "/actormesh/v1"
}

type channelEntry struct {
	ch        *Channel
	closingAt time.Time
}

// ServerManager listens for WebSocket upgrades and maintains a
// NodeID -> Channel map, associating channels with nodes as they
// self-identify — spec.md §4.4's server mode.
type ServerManager struct {
	cfg    ServerConfig
	logger *zap.Logger

	onOpen   OnChannelOpen
	onClosed OnChannelClosed

	mu       sync.RWMutex
	channels map[string]*channelEntry // keyed by identity.NodeID.String()

	// accepted tracks every channel that has completed the WebSocket
	// upgrade, independent of whether it has associated with a node yet.
	// A channel upgraded out of net/http's own tracking (the upgrade
	// hijacks the connection) is otherwise invisible to Cancel until its
	// handshake lands in channels — see acceptedWG below.
	acceptedMu sync.Mutex
	accepted   map[*Channel]struct{}
	acceptedWG sync.WaitGroup

	httpServer *http.Server
	sched      gocron.Scheduler

	metrics *metrics
}

type metrics struct {
	registry      *prometheus.Registry
	openChannels  prometheus.Gauge
	staleClosed   prometheus.Counter
	pendingCalls  prometheus.Gauge
	callLatency   prometheus.Histogram
	replyTimeouts prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		openChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "actormesh_open_channels",
			Help: "Number of WebSocket channels currently in the Open state.",
		}),
		staleClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actormesh_stale_channels_closed_total",
			Help: "Channels force-closed by the stale-channel sweep.",
		}),
		pendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "actormesh_pending_calls",
			Help: "Calls awaiting a reply right now.",
		}),
		callLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "actormesh_call_latency_seconds",
			Help:    "Time from an inbound call being dispatched to its reply being written.",
			Buckets: prometheus.DefBuckets,
		}),
		replyTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "actormesh_reply_timeouts_total",
			Help: "Calls that were never answered before their timeout elapsed.",
		}),
	}
	reg.MustRegister(m.openChannels, m.staleClosed, m.pendingCalls, m.callLatency, m.replyTimeouts)
	return m
}

// Metrics exposes the counters a dispatch loop should update. The server
// manager owns the registry; the dispatcher and RPC surface are handed
// this narrow view so they never need to import connmgr for anything else.
type Metrics interface {
	ObserveCallLatency(d time.Duration)
	IncReplyTimeout()
	SetPendingCalls(n int)
}

func (m *metrics) ObserveCallLatency(d time.Duration) { m.callLatency.Observe(d.Seconds()) }
func (m *metrics) IncReplyTimeout()                   { m.replyTimeouts.Inc() }
func (m *metrics) SetPendingCalls(n int)              { m.pendingCalls.Set(float64(n)) }

// NewServerManager creates and starts a ServerManager: it binds cfg's
// address, begins accepting WebSocket upgrades at cfg.Path, starts the
// stale-channel sweep, and serves /metrics.
func NewServerManager(cfg ServerConfig, onOpen OnChannelOpen, onClosed OnChannelClosed, logger *zap.Logger) (*ServerManager, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("actormesh: failed to create scheduler: %w", err)
	}

	m := &ServerManager{
		cfg:      cfg,
		logger:   logger.Named("connmgr.server"),
		onOpen:   onOpen,
		onClosed: onClosed,
		channels: make(map[string]*channelEntry),
		accepted: make(map[*Channel]struct{}),
		sched:    sched,
		metrics:  newMetrics(),
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(sweepInterval),
		gocron.NewTask(m.sweepStaleChannels),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("actormesh: failed to schedule stale-channel sweep: %w", err)
	}
	sched.Start()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get(cfg.Path, m.serveUpgrade)
	r.Handle("/metrics", promhttp.HandlerFor(m.metrics.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	m.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: r,
	}

	ln, listenErr := net.Listen("tcp", m.httpServer.Addr)
	if listenErr != nil {
		return nil, fmt.Errorf("actormesh: failed to listen on %s: %w", m.httpServer.Addr, listenErr)
	}
	go func() {
		if err := m.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.logger.Error("http server exited", zap.Error(err))
		}
	}()

	return m, nil
}

// Metrics returns the narrow metrics view for the dispatcher and RPC
// surface to record against.
func (m *ServerManager) Metrics() Metrics { return m.metrics }

func (m *ServerManager) LocalPort() int { return m.cfg.Port }

func (m *ServerManager) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		return
	}

	ch := NewChannel(conn, nil)
	ch.SetState(StateOpen)
	m.metrics.openChannels.Inc()
	m.logger.Info("channel accepted", zap.String("remote_addr", r.RemoteAddr))

	m.acceptedWG.Add(1)
	m.acceptedMu.Lock()
	m.accepted[ch] = struct{}{}
	m.acceptedMu.Unlock()
	defer func() {
		m.acceptedMu.Lock()
		delete(m.accepted, ch)
		m.acceptedMu.Unlock()
		m.acceptedWG.Done()
	}()

	if m.onOpen != nil {
		// Blocks for the channel's lifetime — the handler goroutine is the
		// channel's read loop, matching the teacher's ws.go ServeWS, which
		// blocks on client.Run() until the connection closes.
		m.onOpen(ch)
	}

	m.metrics.openChannels.Dec()
	m.handleClosed(ch, fmt.Errorf("actormesh: channel closed"))
}

// SelectChannel requires actor.NodeID to be set and associated with a live
// channel — spec.md §4.4's server-mode contract.
func (m *ServerManager) SelectChannel(ctx context.Context, actor identity.ActorID) (*Channel, error) {
	if actor.NodeID == nil {
		return nil, &rpcerr.MissingNodeID{ID: actor.ID}
	}

	m.mu.RLock()
	entry, ok := m.channels[actor.NodeID.String()]
	m.mu.RUnlock()

	if !ok || entry.ch.State() != StateOpen {
		return nil, &rpcerr.NoChannelToNode{NodeID: actor.NodeID.String()}
	}
	return entry.ch, nil
}

// Associate records that ch belongs to node. If another channel was already
// associated with node, it is closed and its pending replies are failed via
// onClosed — the most recently associated channel wins, per spec.md §9.
func (m *ServerManager) Associate(node identity.NodeID, ch *Channel) {
	key := node.String()
	ch.SetNodeID(node)

	m.mu.Lock()
	old, existed := m.channels[key]
	m.channels[key] = &channelEntry{ch: ch}
	m.mu.Unlock()

	m.logger.Info("node associated with channel", zap.String("node_id", key))

	if existed && old.ch != ch {
		m.logger.Warn("superseding stale channel for node", zap.String("node_id", key))
		_ = old.ch.Close()
	}
}

func (m *ServerManager) handleClosed(ch *Channel, err error) {
	node := ch.NodeID()

	m.mu.Lock()
	if node != nil {
		if entry, ok := m.channels[node.String()]; ok && entry.ch == ch {
			delete(m.channels, node.String())
		}
	}
	m.mu.Unlock()

	if m.onClosed != nil {
		m.onClosed(node, err)
	}
}

// Cancel stops accepting new channels, shuts down the stale-channel sweep,
// and closes every known channel.
func (m *ServerManager) Cancel() {
	_ = m.sched.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.httpServer.Shutdown(ctx)

	m.mu.Lock()
	m.channels = make(map[string]*channelEntry)
	m.mu.Unlock()

	// Close every accepted channel, not just the ones that have associated
	// with a node: a channel still mid-handshake was hijacked out of
	// net/http's own connection tracking by the upgrade, so httpServer.
	// Shutdown above never reaches it. acceptedWG.Wait below blocks until
	// every serveUpgrade goroutine — and therefore every dispatcher run
	// loop it hosts — has actually returned.
	m.acceptedMu.Lock()
	toClose := make([]*Channel, 0, len(m.accepted))
	for ch := range m.accepted {
		toClose = append(toClose, ch)
	}
	m.acceptedMu.Unlock()

	for _, ch := range toClose {
		_ = ch.Close()
	}
	m.acceptedWG.Wait()
}

// sweepStaleChannels force-closes any channel that has sat in StateClosing
// for longer than staleCloseGrace, so a transport that never cleanly signals
// closure still eventually fails its bound pending replies.
func (m *ServerManager) sweepStaleChannels() {
	now := time.Now()

	m.mu.Lock()
	var stale []*channelEntry
	for key, entry := range m.channels {
		if entry.ch.State() != StateClosing {
			continue
		}
		if entry.closingAt.IsZero() {
			entry.closingAt = now
			continue
		}
		if now.Sub(entry.closingAt) > staleCloseGrace {
			stale = append(stale, entry)
			delete(m.channels, key)
		}
	}
	m.mu.Unlock()

	for _, entry := range stale {
		m.metrics.staleClosed.Inc()
		m.logger.Warn("sweeping stale closing channel", zap.String("node_id", nodeKey(entry.ch)))
		_ = entry.ch.Close()
	}
}

func nodeKey(ch *Channel) string {
	if n := ch.NodeID(); n != nil {
		return n.String()
	}
	return "<unassociated>"
}
