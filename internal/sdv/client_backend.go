package sdv

import (
	"time"

	"Vaultnet/internal/async"
	"Vaultnet/internal/client"
	"Vaultnet/internal/data"
)

// ClientBackend serves version trees and chunks from replica groups.
type ClientBackend struct {
	client  *client.Client // client issues group operations
	timeout time.Duration  // timeout bounds each operation, zero for the client default
}

// NewClientBackend creates a backend over c. Close closes c.
func NewClientBackend(c *client.Client, timeout time.Duration) *ClientBackend {
	return &ClientBackend{client: c, timeout: timeout}
}

// DoCreateSDV creates the tree on the replica group.
func (b *ClientBackend) DoCreateSDV(name data.Name, root data.VersionName, maxVersions, maxBranches uint32) *async.Future[struct{}] {
	return b.client.CreateVersionTree(name, root, maxVersions, maxBranches, b.timeout)
}

// DoPutSDVVersion appends next after old on the replica group.
func (b *ClientBackend) DoPutSDVVersion(name data.Name, old, next data.VersionName) *async.Future[struct{}] {
	return b.client.PutVersion(name, old, next, b.timeout)
}

// DoGetBranches returns the tips held by the replica group.
func (b *ClientBackend) DoGetBranches(name data.Name) *async.Future[[]data.VersionName] {
	return b.client.GetVersions(name, b.timeout)
}

// DoGetBranchVersions returns the branch ending at tip.
func (b *ClientBackend) DoGetBranchVersions(name data.Name, tip data.VersionName) *async.Future[[]data.VersionName] {
	return b.client.GetBranch(name, tip, b.timeout)
}

// DoDeleteBranchUntilFork removes the branch ending at tip.
func (b *ClientBackend) DoDeleteBranchUntilFork(name data.Name, tip data.VersionName) *async.Future[struct{}] {
	return b.client.DeleteBranchUntilFork(name, tip, b.timeout)
}

// DoPutChunk stores a chunk on the replica group.
func (b *ClientBackend) DoPutChunk(name data.Name, content []byte) *async.Future[struct{}] {
	return b.client.Put(name, content, b.timeout)
}

// DoGetChunk reads a validated chunk from the replica group.
func (b *ClientBackend) DoGetChunk(name data.Name) *async.Future[[]byte] {
	return b.client.Get(name, b.timeout)
}

// Close fails every outstanding operation of the client.
func (b *ClientBackend) Close() error {
	b.client.Close()
	return nil
}
