// Package client turns replicated, asynchronous request/response traffic with
// a replica group into single-resolution operations.
//
// Reads go through the GetHandler, which validates content against the
// requested name. Writes and version-tree operations are decided by an
// outcome.Op requiring a majority of the group.
package client

import (
	"sync/atomic"
	"time"

	"Vaultnet/internal/async"
	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/logger"
	"Vaultnet/internal/outcome"
	"Vaultnet/internal/protocol"
	"Vaultnet/internal/timer"
)

const (
	// DefaultGroupSize is the default replica group size.
	DefaultGroupSize = 4

	// DefaultTimeout bounds operations issued without an explicit timeout.
	DefaultTimeout = 10 * time.Second
)

// Config holds the read-only parameters of a Client.
type Config struct {
	GroupSize int           // GroupSize is the number of replicas per name
	Timeout   time.Duration // Timeout is used when an operation passes zero
}

// Client issues operations to replica groups and correlates their replies.
type Client struct {
	cfg        Config                       // cfg is fixed for the client's lifetime
	dispatcher Dispatcher                   // dispatcher sends requests
	timer      *timer.Timer[protocol.Reply] // timer correlates replies with tasks
	gets       *GetHandler                  // gets orchestrates reads
	closed     atomic.Bool                  // closed is set by Close
}

// New creates a client sending through dispatcher.
func New(cfg Config, dispatcher Dispatcher) *Client {
	if cfg.GroupSize < 1 {
		cfg.GroupSize = DefaultGroupSize
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	tm := timer.New(protocol.NoResponse())

	return &Client{
		cfg:        cfg,
		dispatcher: dispatcher,
		timer:      tm,
		gets:       NewGetHandler(tm, dispatcher, cfg.GroupSize),
	}
}

// GroupSize returns the configured replica group size.
func (c *Client) GroupSize() int {
	return c.cfg.GroupSize
}

// HandleResponse routes an inbound reply to the operation awaiting it.
func (c *Client) HandleResponse(msg *protocol.Message) {
	if !msg.Response {
		return
	}

	id := timer.TaskID(msg.TaskID)
	r := msg.Reply()

	if r.IsNoResponse() {
		logger.Debug("dropping no-response reply", "kind", msg.Kind, "task", msg.TaskID)
		return
	}

	if msg.Kind == protocol.KindGet {
		c.gets.AddResponse(id, r)
		return
	}

	c.timer.AddResponse(id, r)
}

// Get reads and validates the content of name.
func (c *Client) Get(name data.Name, timeout time.Duration) *async.Future[[]byte] {
	return c.gets.Get(name, c.timeout(timeout))
}

// Put stores content under name. The content must derive to name.
func (c *Client) Put(name data.Name, content []byte, timeout time.Duration) *async.Future[struct{}] {
	if !data.ValidateData(name, content) {
		return async.Failed[struct{}](errs.New(errs.ErrValidation, "content does not match %s", name))
	}

	return done(c.run(protocol.KindPut, timeout, func(id timer.TaskID) error {
		return c.dispatcher.SendPutRequest(id, name, content, data.Identity{})
	}))
}

// Delete removes name.
func (c *Client) Delete(name data.Name, timeout time.Duration) *async.Future[struct{}] {
	return done(c.run(protocol.KindDelete, timeout, func(id timer.TaskID) error {
		return c.dispatcher.SendDeleteRequest(id, name)
	}))
}

// CreateVersionTree creates the version tree of name rooted at root.
func (c *Client) CreateVersionTree(name data.Name, root data.VersionName, maxVersions, maxBranches uint32, timeout time.Duration) *async.Future[struct{}] {
	if maxVersions == 0 || maxBranches == 0 {
		return async.Failed[struct{}](errs.New(errs.ErrInvalidArgument, "version tree bounds must be positive"))
	}

	return done(c.run(protocol.KindCreateVersionTree, timeout, func(id timer.TaskID) error {
		return c.dispatcher.SendCreateVersionTreeRequest(id, name, root, maxVersions, maxBranches)
	}))
}

// PutVersion appends new after old in the version tree of name.
func (c *Client) PutVersion(name data.Name, old, new data.VersionName, timeout time.Duration) *async.Future[struct{}] {
	return done(c.run(protocol.KindPutVersion, timeout, func(id timer.TaskID) error {
		return c.dispatcher.SendPutVersionRequest(id, name, old, new)
	}))
}

// GetVersions returns the branch tips of the version tree of name.
func (c *Client) GetVersions(name data.Name, timeout time.Duration) *async.Future[[]data.VersionName] {
	return versions(c.run(protocol.KindGetVersions, timeout, func(id timer.TaskID) error {
		return c.dispatcher.SendGetVersionsRequest(id, name)
	}))
}

// GetBranch returns the versions from tip back to the root.
func (c *Client) GetBranch(name data.Name, tip data.VersionName, timeout time.Duration) *async.Future[[]data.VersionName] {
	return versions(c.run(protocol.KindGetBranch, timeout, func(id timer.TaskID) error {
		return c.dispatcher.SendGetBranchRequest(id, name, tip)
	}))
}

// DeleteBranchUntilFork removes the versions of the branch ending at tip
// down to the nearest fork point.
func (c *Client) DeleteBranchUntilFork(name data.Name, tip data.VersionName, timeout time.Duration) *async.Future[struct{}] {
	return done(c.run(protocol.KindDeleteBranchUntilFork, timeout, func(id timer.TaskID) error {
		return c.dispatcher.SendDeleteBranchUntilForkRequest(id, name, tip)
	}))
}

// Close fails every outstanding operation with errs.ErrCancelled.
func (c *Client) Close() {
	c.closed.Store(true)
	c.gets.close()
	c.timer.Close()
}

// run registers a majority-decided task and dispatches it with send.
// The future resolves with the deciding reply.
func (c *Client) run(kind protocol.Kind, timeout time.Duration, send func(timer.TaskID) error) *async.Future[protocol.Reply] {
	promise := async.NewPromise[protocol.Reply]()

	op, err := outcome.New(outcome.Majority(c.cfg.GroupSize), c.cfg.GroupSize, func(r protocol.Reply) {
		promise.Resolve(r)
	})
	if err != nil {
		return async.Failed[protocol.Reply](err)
	}

	id := c.timer.NewTaskID()

	onReply := func(r protocol.Reply) {
		if r.IsNoResponse() {
			if c.closed.Load() {
				promise.Reject(errs.New(errs.ErrCancelled, "%s: client closed", kind))
			}
			op.Expire()
			return
		}

		op.HandleReply(r)
	}

	if !c.timer.AddTask(c.timeout(timeout), onReply, c.cfg.GroupSize, id) {
		return async.Failed[protocol.Reply](errs.New(errs.ErrCancelled, "client closed"))
	}

	if err := send(id); err != nil {
		logger.Warn("dispatch failed", "kind", kind, "error", err)
		promise.Reject(err)
		c.timer.CancelTask(id)
	}

	return promise.Future()
}

// timeout substitutes the default for a zero timeout.
func (c *Client) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return c.cfg.Timeout
	}

	return d
}

// done converts a deciding reply into an error-only result.
func done(f *async.Future[protocol.Reply]) *async.Future[struct{}] {
	return async.Then(f, func(r protocol.Reply, err error) (struct{}, error) {
		if err != nil {
			return struct{}{}, err
		}

		return struct{}{}, r.Err()
	})
}

// versions decodes a deciding reply into a version list.
func versions(f *async.Future[protocol.Reply]) *async.Future[[]data.VersionName] {
	return async.Then(f, func(r protocol.Reply, err error) ([]data.VersionName, error) {
		if err != nil {
			return nil, err
		}

		if err := r.Err(); err != nil {
			return nil, err
		}

		return protocol.DecodeVersions(r.Content)
	})
}
