package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"Vaultnet/client"
)

// safeBuffer wraps bytes.Buffer with a mutex for concurrent read/write.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends data to the buffer (implements io.Writer).
func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.Write(p)
}

// String returns the buffer contents as a string.
func (sb *safeBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.String()
}

// Node represents a running Vaultnet node process.
type Node struct {
	index    int                // index is the node's position in the cluster
	cmd      *exec.Cmd          // cmd is the running process
	httpAddr string             // httpAddr is the HTTP API address
	quicAddr string             // quicAddr is the QUIC network address
	dataDir  string             // dataDir is the node's data directory
	keyPath  string             // keyPath is the node's private key file
	stdout   *safeBuffer        // stdout captures process output
	stderr   *safeBuffer        // stderr captures process errors
	cancel   context.CancelFunc // cancel stops the process
}

// HTTPAddr returns the node's HTTP address.
func (n *Node) HTTPAddr() string { return n.httpAddr }

// IsRunning checks if the node process is alive and started successfully.
func (n *Node) IsRunning() bool {
	if n.cmd == nil || n.cmd.Process == nil {
		return false
	}

	if !strings.Contains(n.stdout.String(), "starting Vaultnet node") {
		return false
	}

	return n.cmd.ProcessState == nil
}

// Logs returns the node's stdout output.
func (n *Node) Logs() string { return n.stdout.String() }

// Stop terminates the node process.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}

	if n.cmd != nil && n.cmd.Process != nil {
		n.cmd.Process.Kill()
		// Wait is already called by the background goroutine in startNode.
		time.Sleep(100 * time.Millisecond)
	}
}

// clusterOpts holds configuration for a Cluster.
type clusterOpts struct {
	httpBase  int           // httpBase is the starting HTTP port
	quicBase  int           // quicBase is the starting QUIC port
	groupSize int           // groupSize is the replicas per name (0 = cluster size)
	timeout   time.Duration // timeout bounds each group operation
}

// ClusterOption configures cluster behavior.
type ClusterOption func(*clusterOpts)

// WithGroupSize sets the replicas per name.
func WithGroupSize(n int) ClusterOption { return func(o *clusterOpts) { o.groupSize = n } }

// WithPortBase sets the starting HTTP and QUIC ports.
func WithPortBase(http, quic int) ClusterOption {
	return func(o *clusterOpts) { o.httpBase, o.quicBase = http, quic }
}

// Cluster manages a group of node processes.
type Cluster struct {
	t          *testing.T  // t is the test context
	nodes      []*Node     // nodes is the list of running nodes
	binaryPath string      // binaryPath is the compiled node binary
	testDir    string      // testDir is the temporary directory for node data
	opts       clusterOpts // opts is the cluster configuration
}

// NewCluster builds the binary, starts N fully connected nodes, and registers cleanup.
func NewCluster(t *testing.T, size int, options ...ClusterOption) *Cluster {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	opts := clusterOpts{
		httpBase: 28000,
		quicBase: 29000,
		timeout:  5 * time.Second,
	}
	for _, o := range options {
		o(&opts)
	}

	if opts.groupSize == 0 {
		opts.groupSize = size
	}

	c := &Cluster{
		t:          t,
		binaryPath: buildBinary(t),
		testDir:    t.TempDir(),
		opts:       opts,
	}

	c.nodes = make([]*Node, size)
	for i := range c.nodes {
		c.nodes[i] = c.startNode(i)
	}

	t.Cleanup(c.Stop)

	c.WaitReady(20 * time.Second)

	return c
}

// startNode starts node index, dialing every node started before it.
func (c *Cluster) startNode(index int) *Node {
	c.t.Helper()

	node := &Node{
		index:    index,
		httpAddr: fmt.Sprintf("127.0.0.1:%d", c.opts.httpBase+index),
		quicAddr: fmt.Sprintf("127.0.0.1:%d", c.opts.quicBase+index),
		dataDir:  filepath.Join(c.testDir, fmt.Sprintf("node-%d", index)),
		stdout:   &safeBuffer{},
		stderr:   &safeBuffer{},
	}
	node.keyPath = filepath.Join(node.dataDir, "key")

	if err := os.MkdirAll(node.dataDir, 0755); err != nil {
		c.t.Fatalf("create node dir %d: %v", index, err)
	}

	c.launch(node)

	return node
}

// launch starts the process of node.
func (c *Cluster) launch(node *Node) {
	c.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	node.cancel = cancel

	node.cmd = exec.CommandContext(ctx, c.binaryPath, c.buildNodeArgs(node)...)
	node.cmd.Stdout = node.stdout
	node.cmd.Stderr = node.stderr

	if err := node.cmd.Start(); err != nil {
		c.t.Fatalf("start node %d: %v", node.index, err)
	}

	// Wait in background so ProcessState gets set when the process exits.
	go node.cmd.Wait()
}

// buildNodeArgs constructs command-line arguments for a node.
func (c *Cluster) buildNodeArgs(node *Node) []string {
	var peers []string
	for i := 0; i < node.index; i++ {
		peers = append(peers, fmt.Sprintf("127.0.0.1:%d", c.opts.quicBase+i))
	}

	return []string{
		"--data", node.dataDir,
		"--http", node.httpAddr,
		"--quic", node.quicAddr,
		"--key", node.keyPath,
		"--peers", strings.Join(peers, ","),
		"--group-size", fmt.Sprintf("%d", c.opts.groupSize),
		"--timeout", c.opts.timeout.String(),
		"--log-level", "debug",
	}
}

// Restart stops node i and starts it again with the same key and data.
// The other nodes redial it on their own.
func (c *Cluster) Restart(i int) {
	c.t.Helper()

	node := c.nodes[i]
	node.Stop()

	node.stdout = &safeBuffer{}
	node.stderr = &safeBuffer{}
	c.launch(node)

	c.WaitReady(30 * time.Second)
}

// Stop kills all nodes in parallel.
func (c *Cluster) Stop() {
	var wg sync.WaitGroup

	for _, node := range c.nodes {
		if node == nil {
			continue
		}

		wg.Add(1)

		go func(n *Node) {
			defer wg.Done()
			n.Stop()
		}(node)
	}

	wg.Wait()
}

// Node returns a node by index.
func (c *Cluster) Node(i int) *Node { return c.nodes[i] }

// Size returns the number of nodes.
func (c *Cluster) Size() int { return len(c.nodes) }

// Client creates a client.Client connected to a node.
func (c *Cluster) Client(nodeIndex int) *client.Client {
	return client.NewClient(c.nodes[nodeIndex].httpAddr)
}

// WaitReady polls until every node reports the full membership.
func (c *Cluster) WaitReady(timeout time.Duration) {
	c.t.Helper()

	deadline := time.Now().Add(timeout)

	for i, node := range c.nodes {
		for {
			status, err := c.Client(i).Status()
			if err == nil && status.Members == len(c.nodes) {
				break
			}

			if time.Now().After(deadline) {
				c.t.Fatalf("node %d not ready (status %+v, err %v):\nSTDOUT:\n%s\nSTDERR:\n%s",
					i, status, err, node.Logs(), node.stderr.String())
			}

			time.Sleep(100 * time.Millisecond)
		}
	}
}

// buildBinary compiles the node binary into a temp file.
func buildBinary(t *testing.T) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "vaultnet_test_*")
	if err != nil {
		t.Fatalf("create temp binary file: %v", err)
	}

	binary := tmpFile.Name()
	tmpFile.Close()

	cmd := exec.Command("go", "build", "-o", binary, "./cmd/node")
	cmd.Dir = getProjectRoot(t)

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}

	t.Cleanup(func() { os.Remove(binary) })

	return binary
}

// getProjectRoot walks up from the working directory to the go.mod.
func getProjectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("get working dir: %v", err)
	}

	dir := wd
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		dir = filepath.Dir(dir)
	}

	t.Fatalf("could not find project root from %s", wd)

	return ""
}
