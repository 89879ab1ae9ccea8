// Package agent serves the page channel. Each WebSocket connection is one
// page session with its own tracker; the page drives it through the
// methods in package bridge.
package agent

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinayprograms/activitykit/activity"
	"github.com/vinayprograms/activitykit/bridge"
	"github.com/vinayprograms/activitykit/clock"
	"github.com/vinayprograms/activitykit/delivery"
	"github.com/vinayprograms/activitykit/errors"
	"github.com/vinayprograms/activitykit/logging"
	"github.com/vinayprograms/activitykit/telemetry"
	"github.com/vinayprograms/activitykit/transport"
)

// Config configures the page channel.
type Config struct {
	// Path is where the WebSocket endpoint is mounted. Default: /ws
	Path string

	// AllowedOrigins restricts which pages may connect. Empty allows all.
	AllowedOrigins []string

	Tracker   activity.Config
	WebSocket transport.WebSocketConfig

	// CloseTimeout bounds the wait for a session's last deliveries after
	// the page disconnects. Default: 10 seconds
	CloseTimeout time.Duration
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		Path:         "/ws",
		Tracker:      activity.DefaultConfig(),
		WebSocket:    transport.DefaultWebSocketConfig(),
		CloseTimeout: 10 * time.Second,
	}
}

// Options holds the collaborators shared by all sessions.
type Options struct {
	// Sender is required.
	Sender delivery.Sender
	Beacon delivery.Beacon

	Clock  clock.Clock
	Logger *logging.Logger
	Tracer *telemetry.Tracer

	// Registry receives the session metrics. Default: a new registry.
	Registry *prometheus.Registry
}

// Server accepts page connections.
type Server struct {
	config   Config
	opts     Options
	logger   *logging.Logger
	upgrader *websocket.Upgrader
	registry *prometheus.Registry

	active prometheus.Gauge
	total  prometheus.Counter

	mu       sync.Mutex
	sessions map[*session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// New creates a server.
func New(cfg Config, opts Options) (*Server, error) {
	if opts.Sender == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "agent requires a sender")
	}
	if err := cfg.Tracker.Validate(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultConfig().CloseTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		config:   cfg,
		opts:     opts,
		logger:   opts.Logger.WithComponent("agent"),
		upgrader: transport.NewWebSocketUpgrader(cfg.AllowedOrigins),
		registry: opts.Registry,
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "activity_agent",
			Name:      "sessions_active",
			Help:      "Page sessions currently connected.",
		}),
		total: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "activity_agent",
			Name:      "sessions_total",
			Help:      "Page sessions accepted since start.",
		}),
		sessions: make(map[*session]struct{}),
	}
	s.registry.MustRegister(s.active, s.total)
	return s, nil
}

// Handler serves the WebSocket endpoint, /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// Sessions returns the number of connected pages.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CloseSessions ends every session as if its page had unloaded, refuses
// new connections and waits for the sessions' final deliveries.
func (s *Server) CloseSessions(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for sess := range s.sessions {
		sess.cancel()
	}
	n := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("closing sessions", map[string]interface{}{"sessions": n})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("upgrade refused", map[string]interface{}{
			"origin": r.Header.Get("Origin"),
			"error":  err.Error(),
		})
		return
	}

	tr, err := activity.NewTracker(s.config.Tracker, activity.Options{
		Sender:    s.opts.Sender,
		Beacon:    s.opts.Beacon,
		Clock:     s.opts.Clock,
		Logger:    s.opts.Logger,
		Tracer:    s.opts.Tracer,
		Page:      r.URL.Query().Get("page"),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		s.logger.Error("tracker setup failed", map[string]interface{}{"error": err.Error()})
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{Tracker: tr, cancel: cancel}
	if !s.add(sess) {
		cancel()
		tr.Close(context.Background())
		conn.Close()
		return
	}
	defer s.remove(sess)

	s.run(ctx, sess, transport.NewWebSocketTransport(conn, s.config.WebSocket))
}

// run serves one page until it disconnects or the session is cancelled,
// then records the exit.
func (s *Server) run(ctx context.Context, sess *session, t *transport.WebSocketTransport) {
	defer sess.cancel()
	logger := s.opts.Logger.WithComponent("session")

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		t.Run(ctx)
	}()

	if err := transport.Serve(ctx, t, bridge.NewDispatcher(sess, logger)); err != nil && ctx.Err() == nil {
		logger.Warn("page channel ended", map[string]interface{}{"error": err.Error()})
	}

	sess.Exit()
	t.Close()
	<-runDone

	closeCtx, cancel := context.WithTimeout(context.Background(), s.config.CloseTimeout)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		logger.Warn("session deliveries unfinished", map[string]interface{}{
			"session": sess.SessionID(),
			"pending": sess.Pending(),
			"error":   err.Error(),
		})
	}
}

func (s *Server) add(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.active.Inc()
	s.total.Inc()
	return true
}

func (s *Server) remove(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
	s.active.Dec()
}

// session is one connected page. Exit runs at most once whether the page
// sends unload or simply disconnects.
type session struct {
	*activity.Tracker
	cancel context.CancelFunc
	once   sync.Once
}

func (s *session) Exit() {
	s.once.Do(s.Tracker.Exit)
}

var _ bridge.Tracker = (*session)(nil)
