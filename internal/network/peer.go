package network

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/logger"
)

// Peer is a connection to another node, or the loopback to this node.
type Peer struct {
	id       data.Identity // id is the remote node's identity
	address  string        // address is the remote address (for reconnection)
	conn     *quic.Conn    // conn is the QUIC connection, nil for the loopback
	node     *Node         // node is the owning node
	outbound bool          // outbound is true when this node dialed
	closed   atomic.Bool   // closed is set once the peer is closed
	mu       sync.Mutex    // mu serializes stream opening
}

// Identity returns the remote node's identity.
func (p *Peer) Identity() data.Identity {
	return p.id
}

// Address returns the remote address.
func (p *Peer) Address() string {
	return p.address
}

// IsLocal reports whether p is the loopback to the owning node.
func (p *Peer) IsLocal() bool {
	return p.conn == nil
}

// Send delivers one frame on a new unidirectional stream. Frames sent to the
// loopback peer are handed to the node's message handler asynchronously.
func (p *Peer) Send(payload []byte) error {
	if p.closed.Load() {
		return errs.New(errs.ErrTransport, "peer %s is closed", p.id)
	}

	if p.IsLocal() {
		return p.node.deliverLocal(p, payload)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stream, err := p.conn.OpenUniStreamSync(context.Background())
	if err != nil {
		return errs.Transport(err, "open stream to %s", p.id)
	}

	if err := writeFrame(stream, payload); err != nil {
		stream.Close()
		return err
	}

	return stream.Close()
}

// Close closes the connection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) || p.IsLocal() {
		return nil
	}

	return p.conn.CloseWithError(0, "closed")
}

// receiveLoop accepts streams until the connection ends.
func (p *Peer) receiveLoop(ctx context.Context) {
	for {
		stream, err := p.conn.AcceptUniStream(ctx)
		if err != nil {
			logger.Debug("receive loop ended", "peer", p.id, "error", err)
			break
		}

		go p.handleStream(stream)
	}

	p.handleDisconnect()
}

// handleStream reads one frame and hands it to the node unless it is a duplicate.
func (p *Peer) handleStream(stream *quic.ReceiveStream) {
	payload, err := readFrame(stream)
	if err != nil {
		logger.Debug("stream read error", "peer", p.id, "error", err)
		return
	}

	if !p.node.dedup.Check(payload) {
		logger.Debug("duplicate frame dropped", "peer", p.id, "bytes", len(payload))
		return
	}

	p.node.callOnMessage(p, payload)
}

// handleDisconnect notifies the node once.
func (p *Peer) handleDisconnect() {
	if p.closed.Swap(true) {
		return
	}

	p.node.handlePeerDisconnect(p)
}
