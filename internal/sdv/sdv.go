// Package sdv manages structured data versions: single-branch version trees
// and the content chunks they point at.
//
// Network is the facade callers use. It forwards every operation to an
// Interface backend (local disk or a replica group), converts backend
// failures into typed errors, refuses forked trees and drains in-flight
// operations on Close.
package sdv

import (
	"Vaultnet/internal/async"
	"Vaultnet/internal/data"
)

// Interface is a version-tree and chunk backend.
// Every future must resolve, with errs.ErrCancelled once Close was called.
type Interface interface {
	DoCreateSDV(name data.Name, root data.VersionName, maxVersions, maxBranches uint32) *async.Future[struct{}]
	DoPutSDVVersion(name data.Name, old, new data.VersionName) *async.Future[struct{}]
	DoGetBranches(name data.Name) *async.Future[[]data.VersionName]
	DoGetBranchVersions(name data.Name, tip data.VersionName) *async.Future[[]data.VersionName]
	DoDeleteBranchUntilFork(name data.Name, tip data.VersionName) *async.Future[struct{}]
	DoPutChunk(name data.Name, content []byte) *async.Future[struct{}]
	DoGetChunk(name data.Name) *async.Future[[]byte]
	Close() error
}
