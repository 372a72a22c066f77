// Package network moves envelopes between nodes over QUIC and routes them to
// the replica group of a data name by rendezvous hashing.
package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/logger"
)

const (
	// defaultReconnectDelay is the initial delay between reconnection attempts.
	defaultReconnectDelay = 5 * time.Second

	// maxReconnectDelay caps the reconnection backoff.
	maxReconnectDelay = 60 * time.Second

	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "vaultnet/1"
)

// Config holds the configuration of a Node.
type Config struct {
	PrivateKey     ed25519.PrivateKey // PrivateKey is the node's ed25519 key, its identity
	ListenAddr     string             // ListenAddr is the address to listen on (e.g. ":9000")
	ReconnectDelay time.Duration      // ReconnectDelay is the initial reconnection delay
	DedupTTL       time.Duration      // DedupTTL is how long duplicate frames are dropped
}

// Node accepts and initiates peer connections and delivers frames.
type Node struct {
	id         data.Identity // id is derived from the public key
	listenAddr string        // listenAddr is the address to listen on
	tlsConfig  *tls.Config   // tlsConfig is the TLS configuration
	quicConfig *quic.Config  // quicConfig is the QUIC configuration

	listener *quic.Listener // listener is the QUIC listener
	local    *Peer          // local is the loopback peer

	peers      map[data.Identity]*Peer  // peers by identity
	knownAddrs map[data.Identity]string // knownAddrs remembers addresses for reconnection
	peersMu    sync.RWMutex             // peersMu guards peers and knownAddrs

	reconnectDelay time.Duration // reconnectDelay is the initial reconnection delay

	dedup *Dedup // dedup drops repeated frames

	onConnect    func(*Peer)         // onConnect is called when a peer connects
	onMessage    func(*Peer, []byte) // onMessage is called for every frame
	onDisconnect func(*Peer)         // onDisconnect is called when a peer disconnects
	handlersMu   sync.RWMutex        // handlersMu guards the handlers

	ctx    context.Context    // ctx is cancelled by Close
	cancel context.CancelFunc // cancel cancels ctx
	wg     sync.WaitGroup     // wg waits for background goroutines
}

// NewNode creates a node. Start must be called before it accepts connections.
func NewNode(cfg Config) (*Node, error) {
	if cfg.PrivateKey == nil {
		return nil, errs.New(errs.ErrInvalidArgument, "private key is required")
	}

	if cfg.ListenAddr == "" {
		return nil, errs.New(errs.ErrInvalidArgument, "listen address is required")
	}

	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}

	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}

	cert, err := selfCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, errs.Wrap(err, "node certificate")
	}

	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		id:         identityOf(cfg.PrivateKey),
		listenAddr: cfg.ListenAddr,
		tlsConfig: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			ClientAuth:         tls.RequireAnyClientCert,
			InsecureSkipVerify: true, // peers are authenticated by their ed25519 key
			NextProtos:         []string{alpnProtocol},
		},
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		peers:          make(map[data.Identity]*Peer),
		knownAddrs:     make(map[data.Identity]string),
		reconnectDelay: cfg.ReconnectDelay,
		dedup:          NewDedupTTL(cfg.DedupTTL),
		ctx:            ctx,
		cancel:         cancel,
	}

	n.local = &Peer{id: n.id, address: "local", node: n}

	return n, nil
}

// Identity returns the node's identity.
func (n *Node) Identity() data.Identity {
	return n.id
}

// Addr returns the listener's address, empty before Start.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// Start listens for connections.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return errs.Transport(err, "listen on %s", n.listenAddr)
	}

	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	return nil
}

// Connect dials a node at addr.
func (n *Node) Connect(addr string) (*Peer, error) {
	conn, err := quic.DialAddr(n.ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, errs.Transport(err, "dial %s", addr)
	}

	peer, _, err := n.setupPeer(conn, addr, true)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, err
	}

	return peer, nil
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

// Peer returns the peer with id, the loopback for the node's own id, or nil.
func (n *Node) Peer(id data.Identity) *Peer {
	if id == n.id {
		return n.local
	}

	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	return n.peers[id]
}

// Members returns the identities of this node and its connected peers.
func (n *Node) Members() []data.Identity {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	members := make([]data.Identity, 0, len(n.peers)+1)
	members = append(members, n.id)

	for id := range n.peers {
		members = append(members, id)
	}

	return members
}

// Group returns the size nodes responsible for name among Members.
func (n *Node) Group(name data.Name, size int) []data.Identity {
	return Closest(name, n.Members(), size)
}

// SendToGroup sends payload to the size nodes responsible for name.
// Fails only when no member accepted the frame.
func (n *Node) SendToGroup(name data.Name, size int, payload []byte) error {
	group := n.Group(name, size)
	if len(group) == 0 {
		return errs.New(errs.ErrTransport, "no group for %s", name)
	}

	sent := 0

	for _, id := range group {
		peer := n.Peer(id)
		if peer == nil {
			continue
		}

		if err := peer.Send(payload); err != nil {
			logger.Warn("group send failed", "name", name, "peer", id, "error", err)
			continue
		}

		sent++
	}

	if sent == 0 {
		return errs.New(errs.ErrTransport, "no member of %s reachable", name)
	}

	return nil
}

// SendTo sends payload to the node with id.
func (n *Node) SendTo(id data.Identity, payload []byte) error {
	peer := n.Peer(id)
	if peer == nil {
		return errs.New(errs.ErrTransport, "peer %s not connected", id)
	}

	return peer.Send(payload)
}

// OnConnect sets the handler called when a peer connects.
func (n *Node) OnConnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onConnect = fn
	n.handlersMu.Unlock()
}

// OnMessage sets the handler called for each received frame.
func (n *Node) OnMessage(fn func(*Peer, []byte)) {
	n.handlersMu.Lock()
	n.onMessage = fn
	n.handlersMu.Unlock()
}

// OnDisconnect sets the handler called when a peer disconnects.
func (n *Node) OnDisconnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onDisconnect = fn
	n.handlersMu.Unlock()
}

// Close stops the node and closes all connections.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.peersMu.Lock()
	for _, p := range n.peers {
		p.Close()
	}
	n.peers = make(map[data.Identity]*Peer)
	n.peersMu.Unlock()

	n.wg.Wait()
	n.dedup.Close()

	return nil
}

// deliverLocal hands a loopback frame to the message handler.
func (n *Node) deliverLocal(p *Peer, payload []byte) error {
	if n.ctx.Err() != nil {
		return errs.New(errs.ErrCancelled, "node closed")
	}

	frame := append([]byte(nil), payload...)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.callOnMessage(p, frame)
	}()

	return nil
}

// acceptLoop accepts incoming connections.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}

		go n.handleIncoming(conn)
	}
}

// handleIncoming registers an incoming connection.
func (n *Node) handleIncoming(conn *quic.Conn) {
	peer, added, err := n.setupPeer(conn, conn.RemoteAddr().String(), false)
	if err != nil {
		logger.Debug("incoming connection rejected", "error", err)
		conn.CloseWithError(1, "setup failed")
		return
	}

	if added {
		n.callOnConnect(peer)
	}
}

// setupPeer creates a Peer from a QUIC connection and starts receiving.
// Only dialed addresses are remembered for reconnection. When both nodes dial
// each other, the connection dialed by the lower identity wins on both sides;
// the losing connection is closed and the surviving peer returned with added
// false.
func (n *Node) setupPeer(conn *quic.Conn, addr string, dialed bool) (*Peer, bool, error) {
	id, err := peerIdentity(conn.ConnectionState().TLS)
	if err != nil {
		return nil, false, errs.Wrap(err, "peer identity")
	}

	if id == n.id {
		return nil, false, errs.New(errs.ErrInvalidArgument, "connection to self")
	}

	peer := &Peer{id: id, address: addr, conn: conn, node: n, outbound: dialed}

	n.peersMu.Lock()
	if old, ok := n.peers[id]; ok && !old.closed.Load() {
		if n.preferred(old) && !n.preferred(peer) {
			n.peersMu.Unlock()
			conn.CloseWithError(0, "duplicate")
			return old, false, nil
		}

		old.closed.Store(true)
		old.conn.CloseWithError(0, "replaced")
	}
	n.peers[id] = peer
	if dialed {
		n.knownAddrs[id] = addr
	}
	n.peersMu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop(n.ctx)
	}()

	return peer, true, nil
}

// preferred reports whether p's connection was dialed by the lower identity.
func (n *Node) preferred(p *Peer) bool {
	lower := bytes.Compare(n.id[:], p.id[:]) < 0
	return p.outbound == lower
}

// handlePeerDisconnect removes p and schedules a reconnection.
func (n *Node) handlePeerDisconnect(p *Peer) {
	n.peersMu.Lock()
	if n.peers[p.id] == p {
		delete(n.peers, p.id)
	}
	n.peersMu.Unlock()

	n.callOnDisconnect(p)

	if n.ctx.Err() != nil {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.reconnect(p.id)
	}()
}

// reconnect redials a known peer with exponential backoff.
func (n *Node) reconnect(id data.Identity) {
	delay := n.reconnectDelay

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(delay):
		}

		n.peersMu.RLock()
		addr, known := n.knownAddrs[id]
		_, connected := n.peers[id]
		n.peersMu.RUnlock()

		if !known || connected {
			return
		}

		peer, err := n.Connect(addr)
		if err == nil {
			n.callOnConnect(peer)
			return
		}

		logger.Debug("reconnect failed", "peer", id, "error", err)

		delay = min(delay*2, maxReconnectDelay)
	}
}

// callOnConnect calls the onConnect handler if set.
func (n *Node) callOnConnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onConnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

// callOnMessage calls the onMessage handler if set.
func (n *Node) callOnMessage(p *Peer, payload []byte) {
	n.handlersMu.RLock()
	fn := n.onMessage
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p, payload)
	}
}

// callOnDisconnect calls the onDisconnect handler if set.
func (n *Node) callOnDisconnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onDisconnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}
