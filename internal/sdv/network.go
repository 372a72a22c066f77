package sdv

import (
	"sync"

	"Vaultnet/internal/async"
	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/logger"
)

// Network is the version-tree facade over a backend.
// Every operation resolves exactly once, including after Close.
type Network struct {
	backend   Interface // backend performs the operations
	pool      *waitPool // pool completes backend results
	closeOnce sync.Once // closeOnce guards Close
	closeErr  error     // closeErr is the backend close result
}

// NewNetwork creates a facade over backend.
func NewNetwork(backend Interface) *Network {
	return &Network{
		backend: backend,
		pool:    newWaitPool(),
	}
}

// CreateSDV creates the version tree of name rooted at root.
func (n *Network) CreateSDV(name data.Name, root data.VersionName, maxVersions, maxBranches uint32) *async.Future[struct{}] {
	return bridge(n, "create sdv", func() *async.Future[struct{}] {
		return n.backend.DoCreateSDV(name, root, maxVersions, maxBranches)
	})
}

// PutSDVVersion appends next after old.
func (n *Network) PutSDVVersion(name data.Name, old, next data.VersionName) *async.Future[struct{}] {
	return bridge(n, "put sdv version", func() *async.Future[struct{}] {
		return n.backend.DoPutSDVVersion(name, old, next)
	})
}

// GetBranches returns the tips of the version tree of name.
func (n *Network) GetBranches(name data.Name) *async.Future[[]data.VersionName] {
	return bridge(n, "get branches", func() *async.Future[[]data.VersionName] {
		return n.backend.DoGetBranches(name)
	})
}

// GetBranchVersions returns the versions from tip back to the root.
func (n *Network) GetBranchVersions(name data.Name, tip data.VersionName) *async.Future[[]data.VersionName] {
	return bridge(n, "get branch versions", func() *async.Future[[]data.VersionName] {
		return n.backend.DoGetBranchVersions(name, tip)
	})
}

// GetSDVVersions returns the versions of the single branch of name.
// More than one tip fails with errs.ErrFork, no tip with errs.ErrNotFound.
// Both backend steps complete as a single pool token.
func (n *Network) GetSDVVersions(name data.Name) *async.Future[[]data.VersionName] {
	return bridge(n, "get sdv versions", func() *async.Future[[]data.VersionName] {
		tips, err := start("get branches", func() *async.Future[[]data.VersionName] {
			return n.backend.DoGetBranches(name)
		})
		if err != nil {
			return async.Failed[[]data.VersionName](err)
		}

		return async.Then(tips, func(branches []data.VersionName, err error) ([]data.VersionName, error) {
			if err != nil {
				return nil, err
			}

			switch len(branches) {
			case 0:
				return nil, errs.New(errs.ErrNotFound, "no versions for %s", name)
			case 1:
			default:
				logger.Error("version tree forked", "name", name, "tips", len(branches))
				return nil, errs.New(errs.ErrFork, "%s has %d branches", name, len(branches))
			}

			f, err := start("get branch versions", func() *async.Future[[]data.VersionName] {
				return n.backend.DoGetBranchVersions(name, branches[0])
			})
			if err != nil {
				return nil, err
			}

			return f.Get()
		})
	})
}

// DeleteBranchUntilFork removes the branch ending at tip down to the fork point.
func (n *Network) DeleteBranchUntilFork(name data.Name, tip data.VersionName) *async.Future[struct{}] {
	return bridge(n, "delete branch", func() *async.Future[struct{}] {
		return n.backend.DoDeleteBranchUntilFork(name, tip)
	})
}

// PutChunk stores an immutable chunk.
func (n *Network) PutChunk(name data.Name, content []byte) *async.Future[struct{}] {
	return bridge(n, "put chunk", func() *async.Future[struct{}] {
		return n.backend.DoPutChunk(name, content)
	})
}

// GetChunk returns an immutable chunk.
func (n *Network) GetChunk(name data.Name) *async.Future[[]byte] {
	return bridge(n, "get chunk", func() *async.Future[[]byte] {
		return n.backend.DoGetChunk(name)
	})
}

// Close closes the backend, then waits for every in-flight operation to
// resolve. Operations issued afterwards fail with errs.ErrCancelled.
func (n *Network) Close() error {
	n.closeOnce.Do(func() {
		n.closeErr = n.backend.Close()
		n.pool.close()
	})

	return n.closeErr
}

// bridge starts a backend call and completes its result on the wait pool.
func bridge[T any](n *Network, op string, call func() *async.Future[T]) *async.Future[T] {
	f, err := start(op, call)
	if err != nil {
		return async.Failed[T](err)
	}

	promise := async.NewPromise[T]()

	if !n.pool.submit(f.Done(), func() { settle(promise, f, op) }) {
		return async.Failed[T](errs.New(errs.ErrCancelled, "%s: facade closed", op))
	}

	return promise.Future()
}

// start invokes call, turning a panic or a nil future into an error.
func start[T any](op string, call func() *async.Future[T]) (f *async.Future[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			f, err = nil, errs.New(errs.ErrTransport, "%s: backend panic: %v", op, r)
		}
	}()

	f = call()
	if f == nil {
		return nil, errs.New(errs.ErrTransport, "%s: backend returned no result", op)
	}

	return f, nil
}

// settle copies the backend result into promise, typing untyped failures as
// transport errors.
func settle[T any](promise *async.Promise[T], f *async.Future[T], op string) {
	v, err := f.Get()
	if err == nil {
		promise.Resolve(v)
		return
	}

	if errs.KindOf(err) == nil {
		err = errs.Transport(err, "%s", op)
	} else {
		err = errs.Wrap(err, "%s", op)
	}

	promise.Reject(err)
}
