package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"FeedRelay/internal/logger"
)

const (
	// defaultReconnectDelay is the first wait before redialing a lost peer.
	defaultReconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the redial backoff.
	maxReconnectDelay = time.Minute

	// alpnProtocol is the ALPN identifier of the relay protocol.
	alpnProtocol = "feedrelay/1"
)

var (
	// ErrNoPeers is returned when an operation needs a connected peer.
	ErrNoPeers = errors.New("no connected peers")

	// ErrPeerNotConnected is returned when a specific peer is not connected.
	ErrPeerNotConnected = errors.New("peer not connected")
)

// Config holds the configuration for a Node.
type Config struct {
	PrivateKey     ed25519.PrivateKey // PrivateKey is the relay identity key
	ListenAddr     string             // ListenAddr is the UDP address to listen on (e.g. ":7400")
	ReconnectDelay time.Duration      // ReconnectDelay is the initial redial delay
	DedupTTL       time.Duration      // DedupTTL is how long duplicate frames are suppressed
}

// MessageHandler receives one-way frames from peers.
type MessageHandler func(p *Peer, kind MessageKind, payload []byte)

// RequestHandler answers request frames from peers.
type RequestHandler func(p *Peer, kind MessageKind, payload []byte) (MessageKind, []byte, error)

// Node is a QUIC endpoint that accepts and dials relay peers.
type Node struct {
	key        ed25519.PrivateKey
	listenAddr string
	tlsConfig  *tls.Config
	quicConfig *quic.Config
	listener   *quic.Listener

	peersMu sync.RWMutex
	peers   map[string]*Peer // peers is keyed by hex public key

	dialedMu sync.Mutex
	dialed   map[string]string // dialed maps hex public key to the address we dialed

	reconnectDelay time.Duration
	dedup          *Dedup

	handlersMu sync.RWMutex
	onMessage  MessageHandler
	onRequest  RequestHandler
	onPeers    func(count int)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a node; call Start to listen.
func NewNode(cfg Config) (*Node, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	cert, err := selfSigned(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate:\n%w", err)
	}

	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		key:        cfg.PrivateKey,
		listenAddr: cfg.ListenAddr,
		tlsConfig: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			ClientAuth:         tls.RequireAnyClientCert,
			InsecureSkipVerify: true, // identity is the ed25519 key, checked in setupPeer
			NextProtos:         []string{alpnProtocol},
			MinVersion:         tls.VersionTLS13,
		},
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		peers:          make(map[string]*Peer),
		dialed:         make(map[string]string),
		reconnectDelay: delay,
		dedup:          NewDedup(cfg.DedupTTL),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// PublicKey returns the node identity.
func (n *Node) PublicKey() ed25519.PublicKey {
	return n.key.Public().(ed25519.PublicKey)
}

// Addr returns the bound listen address, or "" before Start.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// Start binds the listener and accepts peers in the background.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen:\n%w", err)
	}

	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	return nil
}

// Connect dials a peer. Dialed peers are redialed after a disconnect.
func (n *Node) Connect(addr string) (*Peer, error) {
	conn, err := quic.DialAddr(n.ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s:\n%w", addr, err)
	}

	peer, err := n.setupPeer(conn, addr)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, err
	}

	n.dialedMu.Lock()
	n.dialed[peer.id()] = addr
	n.dialedMu.Unlock()

	return peer, nil
}

// ConnectAll dials every address in the background, retrying failures.
func (n *Node) ConnectAll(addrs []string) {
	for _, addr := range addrs {
		n.wg.Add(1)

		go func() {
			defer n.wg.Done()
			n.dialWithBackoff(addr)
		}()
	}
}

// Gossip sends a frame to up to fanout random peers, skipping except.
// A non-positive fanout sends to every peer.
func (n *Node) Gossip(kind MessageKind, payload []byte, fanout int, except *Peer) (int, error) {
	candidates := n.Peers()

	if except != nil {
		for i, p := range candidates {
			if p == except {
				candidates = append(candidates[:i], candidates[i+1:]...)
				break
			}
		}
	}

	if fanout > 0 && fanout < len(candidates) {
		rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		candidates = candidates[:fanout]
	}

	var (
		sent int
		errs []error
	)

	for _, p := range candidates {
		if err := p.Send(kind, payload); err != nil {
			errs = append(errs, fmt.Errorf("peer %s:\n%w", p.Address(), err))
			continue
		}

		sent++
	}

	return sent, errors.Join(errs...)
}

// FetchSnapshot asks the connected peer identified by from for a snapshot.
// No other peer is consulted: the answer is trusted as a whole.
func (n *Node) FetchSnapshot(ctx context.Context, from ed25519.PublicKey) ([]byte, error) {
	p, ok := n.Peer(from)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotConnected, peerID(from))
	}

	kind, data, err := p.Request(ctx, KindSnapshotRequest, nil)
	if err != nil {
		return nil, fmt.Errorf("peer %s:\n%w", p.Address(), err)
	}

	if kind != KindSnapshot {
		return nil, fmt.Errorf("peer %s: unexpected %s answer", p.Address(), kind)
	}

	return data, nil
}

// Peer returns the connected peer with the given identity.
func (n *Node) Peer(pub ed25519.PublicKey) (*Peer, bool) {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	p, ok := n.peers[peerID(pub)]

	return p, ok
}

// Peers returns the connected peers.
func (n *Node) Peers() []*Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}

	return peers
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	return len(n.peers)
}

// OnMessage sets the handler for one-way frames.
func (n *Node) OnMessage(fn MessageHandler) {
	n.handlersMu.Lock()
	n.onMessage = fn
	n.handlersMu.Unlock()
}

// OnRequest sets the handler for request frames.
func (n *Node) OnRequest(fn RequestHandler) {
	n.handlersMu.Lock()
	n.onRequest = fn
	n.handlersMu.Unlock()
}

// OnPeersChanged sets a callback receiving the peer count after every change.
func (n *Node) OnPeersChanged(fn func(count int)) {
	n.handlersMu.Lock()
	n.onPeers = fn
	n.handlersMu.Unlock()
}

// Close stops accepting, drops every peer and waits for background work.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.peersMu.Lock()
	peers := n.peers
	n.peers = make(map[string]*Peer)
	n.peersMu.Unlock()

	for _, p := range peers {
		p.Close()
	}

	n.wg.Wait()

	return nil
}

// acceptLoop accepts incoming connections until the listener closes.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}

		if _, err := n.setupPeer(conn, conn.RemoteAddr().String()); err != nil {
			logger.Debug("reject incoming peer", "addr", conn.RemoteAddr().String(), "error", err)
			conn.CloseWithError(1, "setup failed")
		}
	}
}

// setupPeer registers an authenticated connection and starts its receive loop.
func (n *Node) setupPeer(conn *quic.Conn, addr string) (*Peer, error) {
	pub, err := peerKey(conn.ConnectionState().TLS)
	if err != nil {
		return nil, fmt.Errorf("peer identity:\n%w", err)
	}

	if pub.Equal(n.PublicKey()) {
		return nil, fmt.Errorf("refusing connection to self")
	}

	peer := &Peer{publicKey: pub, address: addr, conn: conn, node: n}

	// A newer connection from the same relay replaces the old one.
	n.peersMu.Lock()
	old := n.peers[peer.id()]
	n.peers[peer.id()] = peer
	n.peersMu.Unlock()

	if old != nil {
		old.Close()
	}

	logger.Info("peer connected", "peer", peer.id()[:16], "addr", addr)
	n.notifyPeers()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop(n.ctx)
	}()

	return peer, nil
}

// removePeer forgets a closed peer and schedules a redial if we dialed it.
func (n *Node) removePeer(p *Peer) {
	n.peersMu.Lock()
	if cur, ok := n.peers[p.id()]; ok && cur == p {
		delete(n.peers, p.id())
	}
	n.peersMu.Unlock()

	logger.Info("peer disconnected", "peer", p.id()[:16], "addr", p.Address())
	n.notifyPeers()

	n.dialedMu.Lock()
	addr, ok := n.dialed[p.id()]
	n.dialedMu.Unlock()

	if !ok || n.ctx.Err() != nil || n.hasPeer(p.id()) {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.dialWithBackoff(addr)
	}()
}

// hasPeer reports whether a relay with the given id is connected.
func (n *Node) hasPeer(id string) bool {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	_, ok := n.peers[id]

	return ok
}

// dialWithBackoff dials addr until it succeeds or the node closes.
func (n *Node) dialWithBackoff(addr string) {
	delay := n.reconnectDelay

	for {
		_, err := n.Connect(addr)
		if err == nil {
			return
		}

		logger.Debug("dial failed", "addr", addr, "retry", delay, "error", err)

		select {
		case <-n.ctx.Done():
			return
		case <-time.After(delay):
		}

		delay = min(delay*2, maxReconnectDelay)
	}
}

// notifyPeers reports the current peer count.
func (n *Node) notifyPeers() {
	n.handlersMu.RLock()
	fn := n.onPeers
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(n.PeerCount())
	}
}

// deliver passes a deduplicated frame to the message handler.
func (n *Node) deliver(p *Peer, kind MessageKind, payload []byte) {
	n.handlersMu.RLock()
	fn := n.onMessage
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p, kind, payload)
	}
}

// answer passes a request frame to the request handler.
func (n *Node) answer(p *Peer, kind MessageKind, payload []byte) (MessageKind, []byte, error) {
	n.handlersMu.RLock()
	fn := n.onRequest
	n.handlersMu.RUnlock()

	if fn == nil {
		return 0, nil, fmt.Errorf("no request handler registered")
	}

	return fn(p, kind, payload)
}

// peerID formats a public key as a registry key.
func peerID(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}
