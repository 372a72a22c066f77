package client

import (
	"bytes"
	"encoding/hex"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"Vaultnet/internal/api"
	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/sdv"
	"Vaultnet/internal/storage"
)

// newTestNode serves the HTTP API over a local disk backend.
func newTestNode(t *testing.T) *Client {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	store := sdv.NewNetwork(sdv.NewDiskBackend(db))
	srv := httptest.NewServer(api.New("", store, nil, 1).Handler())

	t.Cleanup(func() {
		srv.Close()
		store.Close()
		db.Close()
	})

	return NewClient(strings.TrimPrefix(srv.URL, "http://"))
}

// treeName returns the path name of a version tree.
func treeName(label string) string {
	name := data.Immutable([]byte(label))
	return nameString(name)
}

// nameString returns the path form of a name.
func nameString(n data.Name) string {
	return hex.EncodeToString(n.Bytes())
}

func TestHealth(t *testing.T) {
	c := newTestNode(t)

	if err := c.Health(); err != nil {
		t.Fatalf("health: %v", err)
	}

	if _, err := c.Status(); !errs.Is(err, errs.ErrTransport) {
		t.Errorf("status without provider: got %v, want transport error", err)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	c := newTestNode(t)
	content := []byte("sdk chunk")

	name, err := c.PutChunk(content)
	if err != nil {
		t.Fatalf("put chunk: %v", err)
	}

	if name != nameString(data.Immutable(content)) {
		t.Errorf("name = %s, want %s", name, nameString(data.Immutable(content)))
	}

	got, err := c.GetChunk(name)
	if err != nil || !bytes.Equal(got, content) {
		t.Fatalf("get chunk = (%q, %v), want %q", got, err, content)
	}

	if _, err := c.GetChunk(nameString(data.Immutable([]byte("absent")))); !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("missing chunk: got %v, want not found", err)
	}
}

func TestVersionTree(t *testing.T) {
	c := newTestNode(t)
	name := treeName("sdk tree")
	root := NewVersion(0, [32]byte{0x01})
	a := NewVersion(1, [32]byte{0x0A})
	b := NewVersion(1, [32]byte{0x0B})

	if err := c.CreateTree(name, root, 10, 2); err != nil {
		t.Fatalf("create tree: %v", err)
	}

	if err := c.CreateTree(name, root, 10, 2); !errs.Is(err, errs.ErrAlreadyExists) {
		t.Errorf("second create: got %v, want already exists", err)
	}

	if err := c.PutVersion(name, root, a); err != nil {
		t.Fatalf("put version: %v", err)
	}

	versions, err := c.Versions(name)
	if err != nil || len(versions) != 2 || versions[0] != a || versions[1] != root {
		t.Fatalf("versions = (%v, %v), want [%s %s]", versions, err, a, root)
	}

	if err := c.PutVersion(name, root, b); err != nil {
		t.Fatalf("put forking version: %v", err)
	}

	if _, err := c.Versions(name); !errs.Is(err, errs.ErrFork) {
		t.Errorf("forked versions: got %v, want fork", err)
	}

	tips, err := c.Branches(name)
	if err != nil || len(tips) != 2 {
		t.Fatalf("branches = (%v, %v), want two tips", tips, err)
	}

	branch, err := c.Branch(name, b)
	if err != nil || len(branch) != 2 || branch[0] != b {
		t.Errorf("branch = (%v, %v), want [%s %s]", branch, err, b, root)
	}

	if err := c.DeleteBranch(name, b); err != nil {
		t.Fatalf("delete branch: %v", err)
	}

	if versions, err := c.Versions(name); err != nil || len(versions) != 2 {
		t.Errorf("after delete = (%v, %v), want the branch of %s", versions, err, a)
	}
}
