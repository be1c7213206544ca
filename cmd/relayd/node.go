package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"FeedRelay/internal/api"
	"FeedRelay/internal/bridge"
	"FeedRelay/internal/feed"
	"FeedRelay/internal/guard"
	"FeedRelay/internal/logger"
	"FeedRelay/internal/metrics"
	"FeedRelay/internal/network"
	"FeedRelay/internal/oracle"
	"FeedRelay/internal/relay"
	"FeedRelay/internal/snapshot"
	"FeedRelay/internal/storage"
)

const (
	// bootstrapTimeout bounds waiting for a peer and fetching its snapshot.
	bootstrapTimeout = 60 * time.Second

	// peerPollInterval is how often bootstrap checks for a connected peer.
	peerPollInterval = 250 * time.Millisecond
)

// Node is a running relay with all its components.
type Node struct {
	cfg *Config

	storage *storage.Storage
	store   *feed.Store
	gate    *guard.Gate
	relay   *relay.Service
	network *network.Node
	gossip  *network.Gossip
	api     *api.Server
	metrics *metrics.Metrics
}

// NewNode opens storage and builds the relay components.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg, metrics: metrics.Default()}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initRelay(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initNetwork(); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

// initStorage opens the database, the feed store and the guard gate.
func (n *Node) initStorage() error {
	db, err := storage.New(filepath.Join(n.cfg.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}

	n.storage = db

	n.store, err = feed.Open(db)
	if err != nil {
		return fmt.Errorf("open feed store:\n%w", err)
	}

	admin := n.cfg.Admin
	if admin.IsZero() {
		admin = oracle.AddressOf(n.cfg.PrivateKey.Public().(ed25519.PublicKey))
	}

	n.gate, err = guard.Open(db, admin, guard.WithObserver(relay.ObserveGuard(n.metrics)))
	if err != nil {
		return fmt.Errorf("open guard:\n%w", err)
	}

	current := "none"
	if a, ok := n.gate.Admin(); ok {
		current = a.String()
	}

	logger.Info("storage opened",
		"path", n.cfg.DataPath,
		"feeds", len(n.store.Feeds()),
		"admin", current,
		"paused", n.gate.Paused(),
	)

	return nil
}

// initRelay loads the validator set and creates the relay service.
func (n *Node) initRelay() error {
	vs, threshold, err := bridge.LoadValidatorFile(n.cfg.ValidatorsPath)
	if err != nil {
		return fmt.Errorf("load validators:\n%w", err)
	}

	b, err := bridge.NewValidatorBridge(vs, threshold)
	if err != nil {
		return fmt.Errorf("create bridge:\n%w", err)
	}

	n.relay, err = relay.New(relay.Config{
		Bridge:       b,
		ExpectedFeed: n.cfg.ExpectedFeed,
		Decimals:     n.cfg.Decimals,
		Description:  n.cfg.Description,
	}, n.store, n.gate, n.metrics)
	if err != nil {
		return fmt.Errorf("create relay:\n%w", err)
	}

	logger.Info("relay ready",
		"validators", len(vs.Validators),
		"threshold", threshold,
		"decimals", n.cfg.Decimals,
	)

	return nil
}

// initNetwork creates the QUIC node.
func (n *Node) initNetwork() error {
	node, err := network.NewNode(network.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.QUICAddress,
	})
	if err != nil {
		return fmt.Errorf("create network:\n%w", err)
	}

	n.network = node

	return nil
}

// Run starts the network and the API, then blocks until a shutdown signal.
func (n *Node) Run() error {
	if err := n.network.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	n.network.ConnectAll(n.cfg.Peers)

	if n.cfg.Bootstrap && len(n.store.Feeds()) == 0 {
		if err := n.bootstrap(); err != nil {
			return fmt.Errorf("bootstrap:\n%w", err)
		}
	}

	// Gossip handlers go in after bootstrap so peer submissions never race the import.
	n.gossip = network.NewGossip(n.network, n.relay, n.metrics,
		network.WithFanout(n.cfg.Fanout),
		network.WithSnapshotSource(n.exportSnapshot),
	)

	n.api = api.New(n.cfg.HTTPAddress, n.relay,
		api.WithGossiper(n.gossip),
		api.WithSnapshots(n.exportSnapshot),
	)

	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	logger.Info("relay node running",
		"http", n.api.Addr(),
		"quic", n.network.Addr(),
		"peers", len(n.cfg.Peers),
	)

	return n.waitForShutdown()
}

// bootstrap fills the empty store from the pinned peer's snapshot.
// Records carry no signatures, so the snapshot is only as trustworthy as
// the peer that serves it.
func (n *Node) bootstrap() error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	if err := n.waitForPeer(ctx, n.cfg.BootstrapKey); err != nil {
		return err
	}

	data, err := n.network.FetchSnapshot(ctx, n.cfg.BootstrapKey)
	if err != nil {
		return fmt.Errorf("fetch snapshot:\n%w", err)
	}

	snap, err := snapshot.Import(n.store, data)
	if err != nil {
		return fmt.Errorf("import snapshot:\n%w", err)
	}

	// Refresh gauges for the imported history.
	for _, f := range n.store.Feeds() {
		n.metrics.FeedRecords.WithLabelValues(f.Short()).Set(float64(n.store.Count(f)))

		if rec, ok := n.store.Latest(f); ok {
			n.metrics.LatestTimestamp.WithLabelValues(f.Short()).Set(float64(rec.AggregateTimestamp / 1000))
		}
	}

	logger.Info("bootstrapped from snapshot",
		"feeds", len(snap.Feeds),
		"records", snap.RecordCount(),
		"created_at", snap.CreatedAt,
		"bytes", len(data),
		logger.Timed(start),
	)

	return nil
}

// waitForPeer blocks until the peer with the given identity is connected.
func (n *Node) waitForPeer(ctx context.Context, pub ed25519.PublicKey) error {
	if len(n.cfg.Peers) == 0 {
		return network.ErrNoPeers
	}

	ticker := time.NewTicker(peerPollInterval)
	defer ticker.Stop()

	for {
		if _, ok := n.network.Peer(pub); ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("bootstrap peer unreachable:\n%w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// exportSnapshot encodes the current store as a compressed snapshot.
func (n *Node) exportSnapshot() ([]byte, error) {
	return snapshot.Export(n.store, uint64(time.Now().Unix()))
}

// waitForShutdown blocks until SIGINT or SIGTERM, then closes the node.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts down all node components gracefully.
func (n *Node) Close() error {
	if n.api != nil {
		n.api.Stop()
	}

	if n.network != nil {
		n.network.Close()
	}

	if n.storage != nil {
		n.storage.Close()
	}

	return nil
}
