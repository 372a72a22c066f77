package sdv

import (
	"context"
	"sync"

	"Vaultnet/internal/async"
	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/storage"
)

// Bucket prefixes of the disk backend.
const (
	TreePrefix  = "sdv:"
	ChunkPrefix = "chunk:"
)

// DiskBackend keeps version trees and chunks in a local store.
// Each operation runs on its own goroutine.
type DiskBackend struct {
	trees  *storage.Bucket // trees holds encoded version trees by name
	chunks *storage.Bucket // chunks holds chunk content by name

	mu     sync.Mutex // mu serializes tree read-modify-write and guards closed
	closed bool       // closed rejects new operations

	ctx    context.Context    // ctx is cancelled by Close
	cancel context.CancelFunc // cancel cancels ctx
	wg     sync.WaitGroup     // wg waits for running operations
}

// NewDiskBackend creates a backend over db. The store stays owned by the caller.
func NewDiskBackend(db *storage.Storage) *DiskBackend {
	ctx, cancel := context.WithCancel(context.Background())

	return &DiskBackend{
		trees:  db.Bucket(TreePrefix),
		chunks: db.Bucket(ChunkPrefix),
		ctx:    ctx,
		cancel: cancel,
	}
}

// DoCreateSDV stores a new tree rooted at root.
func (b *DiskBackend) DoCreateSDV(name data.Name, root data.VersionName, maxVersions, maxBranches uint32) *async.Future[struct{}] {
	return run(b, func() (struct{}, error) {
		b.mu.Lock()
		defer b.mu.Unlock()

		key := name.Bytes()

		exists, err := b.trees.Has(key)
		if err != nil {
			return struct{}{}, err
		}

		if exists {
			return struct{}{}, errs.New(errs.ErrAlreadyExists, "version tree %s", name)
		}

		tree, err := NewTree(maxVersions, maxBranches)
		if err != nil {
			return struct{}{}, err
		}

		if err := tree.Put(data.VersionName{}, root); err != nil {
			return struct{}{}, err
		}

		return struct{}{}, b.trees.Set(key, tree.Encode())
	})
}

// DoPutSDVVersion appends next after old.
func (b *DiskBackend) DoPutSDVVersion(name data.Name, old, next data.VersionName) *async.Future[struct{}] {
	return run(b, func() (struct{}, error) {
		return struct{}{}, b.update(name, func(t *Tree) error { return t.Put(old, next) })
	})
}

// DoGetBranches returns the tips of the tree.
func (b *DiskBackend) DoGetBranches(name data.Name) *async.Future[[]data.VersionName] {
	return run(b, func() ([]data.VersionName, error) {
		tree, err := b.load(name)
		if err != nil {
			return nil, err
		}

		return tree.Tips(), nil
	})
}

// DoGetBranchVersions returns the versions from tip back to the root.
func (b *DiskBackend) DoGetBranchVersions(name data.Name, tip data.VersionName) *async.Future[[]data.VersionName] {
	return run(b, func() ([]data.VersionName, error) {
		tree, err := b.load(name)
		if err != nil {
			return nil, err
		}

		return tree.Branch(tip)
	})
}

// DoDeleteBranchUntilFork removes the branch ending at tip.
// The tree is deleted once its last version is removed.
func (b *DiskBackend) DoDeleteBranchUntilFork(name data.Name, tip data.VersionName) *async.Future[struct{}] {
	return run(b, func() (struct{}, error) {
		return struct{}{}, b.update(name, func(t *Tree) error { return t.DeleteBranchUntilFork(tip) })
	})
}

// DoPutChunk stores content under name after checking it derives to name.
func (b *DiskBackend) DoPutChunk(name data.Name, content []byte) *async.Future[struct{}] {
	return run(b, func() (struct{}, error) {
		if !data.ValidateData(name, content) {
			return struct{}{}, errs.New(errs.ErrValidation, "chunk content does not match %s", name)
		}

		return struct{}{}, b.chunks.Set(name.Bytes(), content)
	})
}

// DoGetChunk returns the content stored under name.
func (b *DiskBackend) DoGetChunk(name data.Name) *async.Future[[]byte] {
	return run(b, func() ([]byte, error) {
		content, err := b.chunks.Get(name.Bytes())
		if err != nil {
			return nil, err
		}

		if content == nil {
			return nil, errs.New(errs.ErrNotFound, "chunk %s", name)
		}

		return content, nil
	})
}

// DoDeleteChunk removes the chunk stored under name.
func (b *DiskBackend) DoDeleteChunk(name data.Name) *async.Future[struct{}] {
	return run(b, func() (struct{}, error) {
		exists, err := b.chunks.Has(name.Bytes())
		if err != nil {
			return struct{}{}, err
		}

		if !exists {
			return struct{}{}, errs.New(errs.ErrNotFound, "chunk %s", name)
		}

		return struct{}{}, b.chunks.Delete(name.Bytes())
	})
}

// Close cancels pending operations and waits for running ones.
func (b *DiskBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	return nil
}

// load reads the tree of name.
func (b *DiskBackend) load(name data.Name) (*Tree, error) {
	raw, err := b.trees.Get(name.Bytes())
	if err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, errs.New(errs.ErrNotFound, "version tree %s", name)
	}

	return DecodeTree(raw)
}

// update applies fn to the tree of name and stores the result.
func (b *DiskBackend) update(name data.Name, fn func(*Tree) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tree, err := b.load(name)
	if err != nil {
		return err
	}

	if err := fn(tree); err != nil {
		return err
	}

	if tree.Len() == 0 {
		return b.trees.Delete(name.Bytes())
	}

	return b.trees.Set(name.Bytes(), tree.Encode())
}

// run executes fn on a goroutine unless the backend is closed.
func run[T any](b *DiskBackend, fn func() (T, error)) *async.Future[T] {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return async.Failed[T](errs.New(errs.ErrCancelled, "disk backend closed"))
	}

	b.wg.Add(1)
	b.mu.Unlock()

	promise := async.NewPromise[T]()

	go func() {
		defer b.wg.Done()

		if err := b.ctx.Err(); err != nil {
			promise.Reject(errs.Cancelled(err, "disk backend closed"))
			return
		}

		promise.Settle(fn())
	}()

	return promise.Future()
}
