package sdv

import (
	"bytes"
	"path/filepath"
	"testing"

	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/storage"
)

// newDiskNetwork creates a facade over a disk backend in a temp dir.
func newDiskNetwork(t *testing.T) (*Network, *storage.Storage) {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	n := NewNetwork(NewDiskBackend(db))

	t.Cleanup(func() {
		n.Close()
		db.Close()
	})

	return n, db
}

func TestDiskVersionLifecycle(t *testing.T) {
	n, _ := newDiskNetwork(t)
	name := data.Immutable([]byte("tree"))
	root := version(0, 0x01)
	v1 := version(1, 0x01)

	if _, err := await(t, n.CreateSDV(name, root, 10, 1)); err != nil {
		t.Fatalf("CreateSDV: %v", err)
	}

	if _, err := await(t, n.CreateSDV(name, root, 10, 1)); !errs.Is(err, errs.ErrAlreadyExists) {
		t.Errorf("second CreateSDV err = %v, want already exists", err)
	}

	if _, err := await(t, n.PutSDVVersion(name, root, v1)); err != nil {
		t.Fatalf("PutSDVVersion: %v", err)
	}

	got, err := await(t, n.GetSDVVersions(name))
	if err != nil {
		t.Fatalf("GetSDVVersions: %v", err)
	}

	if len(got) != 2 || got[0] != v1 || got[1] != root {
		t.Errorf("versions = %v, want [%s %s]", got, v1, root)
	}

	if _, err := await(t, n.PutSDVVersion(name, root, version(1, 0x02))); !errs.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("branching put err = %v, want invalid argument", err)
	}

	if _, err := await(t, n.DeleteBranchUntilFork(name, v1)); err != nil {
		t.Fatalf("DeleteBranchUntilFork: %v", err)
	}

	if _, err := await(t, n.GetSDVVersions(name)); !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("after delete err = %v, want not found", err)
	}
}

func TestDiskForkDetected(t *testing.T) {
	n, _ := newDiskNetwork(t)
	name := data.Immutable([]byte("forked"))
	root := version(0, 0x01)

	if _, err := await(t, n.CreateSDV(name, root, 10, 2)); err != nil {
		t.Fatalf("CreateSDV: %v", err)
	}

	for _, tag := range []byte{0x0A, 0x0B} {
		if _, err := await(t, n.PutSDVVersion(name, root, version(1, tag))); err != nil {
			t.Fatalf("PutSDVVersion: %v", err)
		}
	}

	if _, err := await(t, n.GetSDVVersions(name)); !errs.Is(err, errs.ErrFork) {
		t.Errorf("err = %v, want fork", err)
	}

	tips, err := await(t, n.GetBranches(name))
	if err != nil || len(tips) != 2 {
		t.Errorf("GetBranches = (%v, %v), want two tips", tips, err)
	}
}

func TestDiskChunks(t *testing.T) {
	n, db := newDiskNetwork(t)
	content := []byte("chunk content")
	name := data.Immutable(content)

	if _, err := await(t, n.PutChunk(name, []byte("other"))); !errs.Is(err, errs.ErrValidation) {
		t.Errorf("mismatched put err = %v, want validation error", err)
	}

	if _, err := await(t, n.GetChunk(name)); !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("missing chunk err = %v, want not found", err)
	}

	if _, err := await(t, n.PutChunk(name, content)); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}

	got, err := await(t, n.GetChunk(name))
	if err != nil || !bytes.Equal(got, content) {
		t.Errorf("GetChunk = (%q, %v), want %q", got, err, content)
	}

	stored, err := db.Bucket(ChunkPrefix).Get(name.Bytes())
	if err != nil || !bytes.Equal(stored, content) {
		t.Errorf("stored chunk = (%q, %v)", stored, err)
	}

	backend := n.backend.(*DiskBackend)

	if _, err := await(t, backend.DoDeleteChunk(name)); err != nil {
		t.Fatalf("DoDeleteChunk: %v", err)
	}

	if _, err := await(t, backend.DoDeleteChunk(name)); !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("second delete err = %v, want not found", err)
	}
}

func TestDiskClosedBackendCancels(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer db.Close()

	backend := NewDiskBackend(db)
	backend.Close()

	if _, err := await(t, backend.DoGetChunk(data.Immutable(nil))); !errs.Is(err, errs.ErrCancelled) {
		t.Errorf("err = %v, want cancelled", err)
	}
}
