package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"FeedRelay/internal/adapter"
	"FeedRelay/internal/guard"
	"FeedRelay/internal/logger"
	"FeedRelay/internal/oracle"
	"FeedRelay/internal/relay"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20 // 1 MB

	// shutdownTimeout bounds a graceful stop.
	shutdownTimeout = 5 * time.Second
)

// Relay is the relay service as seen by the HTTP layer.
type Relay interface {
	UpdateOracleData(sub *oracle.Submission) (*relay.OracleUpdated, error)
	AggregateValueCount(f oracle.FeedID) uint64
	AggregateByIndex(f oracle.FeedID, index uint64) (oracle.AggregateRecord, error)
	AggregateByTimestamp(f oracle.FeedID, ts uint64) (oracle.AggregateRecord, bool, error)
	CurrentAggregate(f oracle.FeedID) (oracle.AggregateRecord, bool)
	GuardedCurrentAggregate(f oracle.FeedID) (oracle.AggregateRecord, bool, error)
	Feeds() []oracle.FeedID
	LatestRoundData(f oracle.FeedID) (adapter.RoundData, error)
	SoftLatestRoundData(f oracle.FeedID) adapter.RoundData
	Decimals() uint8
	Description() string
	ExpectedFeed() (oracle.FeedID, bool)
	Gate() *guard.Gate
	ApplyGuard(req *guard.Request) error
	Subscribe() (<-chan relay.OracleUpdated, func())
}

// Gossiper forwards accepted submissions to peer relays.
type Gossiper interface {
	Publish(sub *oracle.Submission) error
	PeerCount() int
}

// SnapshotFunc produces a compressed snapshot of every feed.
type SnapshotFunc func() ([]byte, error)

// Server is the HTTP API server.
type Server struct {
	addr      string              // addr is the HTTP listen address
	relay     Relay               // relay serves writes and reads
	gossiper  Gossiper            // gossiper forwards accepted submissions, may be nil
	snapshots SnapshotFunc        // snapshots serves GET /snapshot, may be nil
	gatherer  prometheus.Gatherer // gatherer backs GET /metrics
	started   time.Time           // started is the server creation time
	listener  net.Listener        // listener is bound by Start
	server    *http.Server        // server is the underlying HTTP server
}

// Option configures a Server.
type Option func(*Server)

// WithGossiper forwards accepted submissions to peers.
func WithGossiper(g Gossiper) Option {
	return func(s *Server) {
		s.gossiper = g
	}
}

// WithSnapshots enables GET /snapshot.
func WithSnapshots(fn SnapshotFunc) Option {
	return func(s *Server) {
		s.snapshots = fn
	}
}

// WithGatherer sets the registry exposed on GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a new HTTP API server.
func New(addr string, r Relay, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		relay:    r,
		gatherer: prometheus.DefaultGatherer,
		started:  time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /oracle", s.handleSubmit)
	mux.HandleFunc("GET /feeds", s.handleFeeds)
	mux.HandleFunc("GET /feeds/{feed}/count", s.handleCount)
	mux.HandleFunc("GET /feeds/{feed}/index/{index}", s.handleByIndex)
	mux.HandleFunc("GET /feeds/{feed}/timestamp/{ts}", s.handleByTimestamp)
	mux.HandleFunc("GET /feeds/{feed}/current", s.handleCurrent)
	mux.HandleFunc("GET /feeds/{feed}/guarded", s.handleGuarded)
	mux.HandleFunc("GET /feeds/{feed}/round", s.handleRound)
	mux.HandleFunc("GET /decimals", s.handleDecimals)
	mux.HandleFunc("GET /events", s.handleEvents)

	mux.HandleFunc("GET /guard", s.handleGuardState)
	mux.HandleFunc("POST /guard/{op}", s.handleGuardOp)

	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

// Start binds the listen address and serves in a goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s:\n%w", s.addr, err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", listener.Addr().String())

		if err := s.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}

	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{
		Feeds:       len(s.relay.Feeds()),
		Paused:      s.relay.Gate().Paused(),
		Decimals:    s.relay.Decimals(),
		Description: s.relay.Description(),
		Uptime:      int64(time.Since(s.started).Seconds()),
	}

	if f, ok := s.relay.ExpectedFeed(); ok {
		status.ExpectedFeed = f.String()
	}

	if s.gossiper != nil {
		status.Peers = s.gossiper.PeerCount()
	}

	writeJSON(w, http.StatusOK, status)
}

// handleSnapshot handles GET /snapshot requests.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusNotFound, "snapshots not served")
		return
	}

	data, err := s.snapshots()
	if err != nil {
		logger.Error("build snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "snapshot failed")
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
