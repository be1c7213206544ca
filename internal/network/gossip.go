package network

import (
	"fmt"

	"FeedRelay/internal/logger"
	"FeedRelay/internal/metrics"
	"FeedRelay/internal/oracle"
	"FeedRelay/internal/relay"
)

// defaultFanout is the number of peers each submission is forwarded to.
const defaultFanout = 8

// Submitter applies submissions received from peers.
type Submitter interface {
	UpdateOracleData(sub *oracle.Submission) (*relay.OracleUpdated, error)
}

// SnapshotSource produces a compressed snapshot for bootstrapping peers.
type SnapshotSource func() ([]byte, error)

// Gossip spreads accepted submissions between relays.
// A submission is forwarded only after the local relay accepted it.
type Gossip struct {
	node      *Node
	relay     Submitter
	metrics   *metrics.Metrics
	snapshots SnapshotSource
	fanout    int
}

// GossipOption configures a Gossip.
type GossipOption func(*Gossip)

// WithFanout sets the forward fanout; non-positive sends to every peer.
func WithFanout(n int) GossipOption {
	return func(g *Gossip) {
		g.fanout = n
	}
}

// WithSnapshotSource lets peers bootstrap from this relay.
func WithSnapshotSource(src SnapshotSource) GossipOption {
	return func(g *Gossip) {
		g.snapshots = src
	}
}

// NewGossip binds a node to a relay and installs the frame handlers.
func NewGossip(node *Node, r Submitter, m *metrics.Metrics, opts ...GossipOption) *Gossip {
	g := &Gossip{
		node:    node,
		relay:   r,
		metrics: m,
		fanout:  defaultFanout,
	}

	for _, opt := range opts {
		opt(g)
	}

	node.OnMessage(g.handleMessage)
	node.OnRequest(g.handleRequest)
	node.OnPeersChanged(func(count int) {
		m.Peers.Set(float64(count))
	})
	m.Peers.Set(float64(node.PeerCount()))

	return g
}

// Publish forwards a locally accepted submission to peers.
func (g *Gossip) Publish(sub *oracle.Submission) error {
	data := oracle.EncodeSubmission(sub)

	// Remember our own frame so echoes from peers are dropped.
	g.node.dedup.Check(data)

	sent, err := g.node.Gossip(KindSubmission, data, g.fanout, nil)
	g.metrics.GossipMessages.WithLabelValues("sent").Add(float64(sent))

	if err != nil {
		return fmt.Errorf("gossip submission:\n%w", err)
	}

	return nil
}

// PeerCount returns the number of connected peers.
func (g *Gossip) PeerCount() int {
	return g.node.PeerCount()
}

// handleMessage applies a gossiped submission and forwards it if accepted.
func (g *Gossip) handleMessage(p *Peer, kind MessageKind, payload []byte) {
	if kind != KindSubmission {
		logger.Debug("ignore frame", "peer", p.Address(), "kind", kind.String())
		return
	}

	g.metrics.GossipMessages.WithLabelValues("received").Inc()

	sub, err := oracle.DecodeSubmission(payload)
	if err != nil {
		g.metrics.GossipMessages.WithLabelValues("dropped").Inc()
		logger.Debug("malformed submission", "peer", p.Address(), "error", err)
		return
	}

	if _, err := g.relay.UpdateOracleData(sub); err != nil {
		g.metrics.GossipMessages.WithLabelValues("dropped").Inc()
		return
	}

	sent, err := g.node.Gossip(KindSubmission, payload, g.fanout, p)
	g.metrics.GossipMessages.WithLabelValues("forwarded").Add(float64(sent))

	if err != nil {
		logger.Warn("forward submission", "error", err)
	}
}

// handleRequest serves snapshot requests.
func (g *Gossip) handleRequest(p *Peer, kind MessageKind, _ []byte) (MessageKind, []byte, error) {
	if kind != KindSnapshotRequest {
		return 0, nil, fmt.Errorf("unsupported request %s", kind)
	}

	if g.snapshots == nil {
		return 0, nil, fmt.Errorf("snapshots not served")
	}

	data, err := g.snapshots()
	if err != nil {
		return 0, nil, fmt.Errorf("build snapshot:\n%w", err)
	}

	logger.Info("served snapshot", "peer", p.Address(), "bytes", len(data))

	return KindSnapshot, data, nil
}
