package network

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"FeedRelay/internal/logger"
)

// defaultRequestTimeout bounds a request without a context deadline.
const defaultRequestTimeout = 30 * time.Second

// Peer is a live connection to another relay.
type Peer struct {
	publicKey ed25519.PublicKey
	address   string
	conn      *quic.Conn
	node      *Node
	closed    atomic.Bool
}

// PublicKey returns the remote relay identity.
func (p *Peer) PublicKey() ed25519.PublicKey {
	return p.publicKey
}

// Address returns the remote address.
func (p *Peer) Address() string {
	return p.address
}

// id returns the peer's registry key.
func (p *Peer) id() string {
	return peerID(p.publicKey)
}

// Send writes one frame on a fresh unidirectional stream.
func (p *Peer) Send(kind MessageKind, payload []byte) error {
	if p.closed.Load() {
		return fmt.Errorf("peer is closed")
	}

	stream, err := p.conn.OpenUniStreamSync(p.node.ctx)
	if err != nil {
		return fmt.Errorf("open stream:\n%w", err)
	}

	if err := writeFrame(stream, kind, payload); err != nil {
		stream.CancelWrite(0)
		return err
	}

	return stream.Close()
}

// Request sends a frame on a bidirectional stream and waits for the answer.
func (p *Peer) Request(ctx context.Context, kind MessageKind, payload []byte) (MessageKind, []byte, error) {
	if p.closed.Load() {
		return 0, nil, fmt.Errorf("peer is closed")
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeFrame(stream, kind, payload); err != nil {
		return 0, nil, fmt.Errorf("write request:\n%w", err)
	}

	respKind, resp, err := readFrame(stream)
	if err != nil {
		return 0, nil, fmt.Errorf("read response:\n%w", err)
	}

	return respKind, resp, nil
}

// Close closes the connection once.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	return p.conn.CloseWithError(0, "closed")
}

// receiveLoop serves the peer's streams until the connection ends.
func (p *Peer) receiveLoop(ctx context.Context) {
	go p.acceptRequests(ctx)

	for {
		stream, err := p.conn.AcceptUniStream(ctx)
		if err != nil {
			logger.Debug("receive loop ended", "peer", p.address, "error", err)
			break
		}

		go p.handleUniStream(stream)
	}

	p.closed.Store(true)
	p.node.removePeer(p)
}

// acceptRequests serves bidirectional request streams.
func (p *Peer) acceptRequests(ctx context.Context) {
	for {
		stream, err := p.conn.AcceptStream(ctx)
		if err != nil {
			return
		}

		go p.handleRequest(stream)
	}
}

// handleRequest reads one request and writes the handler's answer.
func (p *Peer) handleRequest(stream *quic.Stream) {
	defer stream.Close()

	kind, payload, err := readFrame(stream)
	if err != nil {
		return
	}

	respKind, resp, err := p.node.answer(p, kind, payload)
	if err != nil {
		logger.Debug("request failed", "peer", p.address, "kind", kind.String(), "error", err)
		stream.CancelWrite(1)
		return
	}

	if err := writeFrame(stream, respKind, resp); err != nil {
		logger.Debug("write response", "peer", p.address, "error", err)
	}
}

// handleUniStream reads one frame and delivers it unless it is a duplicate.
func (p *Peer) handleUniStream(stream *quic.ReceiveStream) {
	kind, payload, err := readFrame(stream)
	if err != nil {
		logger.Debug("stream read error", "peer", p.address, "error", err)
		return
	}

	if !p.node.dedup.Check(payload) {
		return
	}

	p.node.deliver(p, kind, payload)
}
