package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Vaultnet/internal/api"
	"Vaultnet/internal/client"
	"Vaultnet/internal/logger"
	"Vaultnet/internal/network"
	"Vaultnet/internal/protocol"
	"Vaultnet/internal/sdv"
	"Vaultnet/internal/storage"
	"Vaultnet/internal/vault"
)

// Node represents a running Vaultnet node: a replica for the names it is
// responsible for and a client of every other group.
type Node struct {
	cfg     *Config
	storage *storage.Storage
	network *network.Node
	vault   *vault.Service
	client  *client.Client
	sdv     *sdv.Network
	api     *api.Server
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initNetwork(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initVault(); err != nil {
		n.Close()
		return nil, err
	}

	n.initClient()

	if cfg.HTTPAddress != "" {
		n.api = api.New(cfg.HTTPAddress, n.sdv, n.network, cfg.GroupSize)
	}

	return n, nil
}

// initStorage initializes the Pebble storage.
func (n *Node) initStorage() error {
	dbPath := n.cfg.DataPath + "/db"

	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(dbPath)
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	n.storage = db

	return nil
}

// initNetwork initializes the P2P network node.
func (n *Node) initNetwork() error {
	node, err := network.NewNode(network.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.QUICAddress,
	})
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}

	n.network = node

	return nil
}

// initVault initializes the replica service and restores its handled requests.
func (n *Node) initVault() error {
	svc, err := vault.New(n.network.Identity(), n.storage, vault.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init vault:\n%w", err)
	}

	n.vault = svc

	return nil
}

// initClient initializes the group client and the version-tree facade over it.
func (n *Node) initClient() {
	dispatcher := client.NewGroupDispatcher(n.network, n.network.Identity(), n.cfg.GroupSize)

	n.client = client.New(client.Config{
		GroupSize: n.cfg.GroupSize,
		Timeout:   n.cfg.Timeout,
	}, dispatcher)

	n.sdv = sdv.NewNetwork(sdv.NewClientBackend(n.client, 0))
}

// Run starts the node and blocks until shutdown signal.
func (n *Node) Run() error {
	n.setupMessageHandlers()

	if err := n.network.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	n.connectToPeers()

	if n.api != nil {
		if err := n.api.Start(); err != nil {
			return fmt.Errorf("start api:\n%w", err)
		}
	}

	return n.waitForShutdown()
}

// connectToPeers dials the configured peers. Failures are logged; peers that
// dial us later join the membership anyway.
func (n *Node) connectToPeers() {
	for _, addr := range n.cfg.Peers {
		peer, err := n.network.Connect(addr)
		if err != nil {
			logger.Warn("failed to connect to peer", "addr", addr, "error", err)
			continue
		}

		logger.Info("connected to peer", "addr", addr, "peer", peer.Identity())
	}
}

// setupMessageHandlers routes responses to the client and requests to the vault.
func (n *Node) setupMessageHandlers() {
	n.network.OnConnect(func(p *network.Peer) {
		logger.Debug("peer connected", "peer", p.Identity(), "addr", p.Address())
	})

	n.network.OnDisconnect(func(p *network.Peer) {
		logger.Debug("peer disconnected", "peer", p.Identity())
	})

	n.network.OnMessage(n.handleMessage)
}

// handleMessage decodes one frame and dispatches it.
func (n *Node) handleMessage(peer *network.Peer, payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		logger.Debug("dropped malformed message", "peer", peer.Identity(), "error", err)
		return
	}

	if msg.Sender != peer.Identity() {
		logger.Warn("dropped message with forged sender", "peer", peer.Identity(), "sender", msg.Sender)
		return
	}

	if msg.Response {
		n.client.HandleResponse(msg)
		return
	}

	n.vault.Handle(msg, func(resp *protocol.Message) {
		if err := peer.Send(protocol.Encode(resp)); err != nil {
			logger.Debug("failed to send response", "peer", peer.Identity(), "kind", resp.Kind, "error", err)
		}
	})
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
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

	if n.sdv != nil {
		n.sdv.Close()
	}

	if n.network != nil {
		n.network.Close()
	}

	if n.vault != nil {
		if err := n.vault.Close(); err != nil {
			logger.Warn("failed to save handled requests", "error", err)
		}
	}

	if n.storage != nil {
		n.storage.Close()
	}

	return nil
}
