package sdv

import (
	"encoding/binary"
	"slices"

	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/protocol"
)

// treeHeaderSize is [4B max versions] [4B max branches] [4B count].
const treeHeaderSize = 12

// treeEntrySize is [40B version] [40B parent].
const treeEntrySize = 2 * data.VersionNameSize

// Tree is the version history of one structured data item.
// Versions form a tree rooted at the first version; tips are versions
// without successors. Not safe for concurrent use.
type Tree struct {
	maxVersions uint32                                  // maxVersions bounds the number of versions kept
	maxBranches uint32                                  // maxBranches bounds the number of tips
	root        data.VersionName                        // root is the oldest version kept
	parents     map[data.VersionName]data.VersionName   // parents maps a version to its predecessor
	children    map[data.VersionName][]data.VersionName // children maps a version to its successors
}

// NewTree creates an empty tree. Both bounds must be positive.
func NewTree(maxVersions, maxBranches uint32) (*Tree, error) {
	if maxVersions == 0 || maxBranches == 0 {
		return nil, errs.New(errs.ErrInvalidArgument, "tree bounds must be positive: %d versions, %d branches", maxVersions, maxBranches)
	}

	return &Tree{
		maxVersions: maxVersions,
		maxBranches: maxBranches,
		parents:     make(map[data.VersionName]data.VersionName),
		children:    make(map[data.VersionName][]data.VersionName),
	}, nil
}

// Len returns the number of versions.
func (t *Tree) Len() int {
	return len(t.parents)
}

// Root returns the oldest version kept.
func (t *Tree) Root() data.VersionName {
	return t.root
}

// MaxBranches returns the branch bound.
func (t *Tree) MaxBranches() uint32 {
	return t.maxBranches
}

// Put adds next as a successor of old. On an empty tree old must be zero and
// next becomes the root. Adding a successor to a version that already has
// one opens a branch, refused once maxBranches tips exist.
func (t *Tree) Put(old, next data.VersionName) error {
	if next.IsZero() {
		return errs.New(errs.ErrInvalidArgument, "zero version")
	}

	if _, exists := t.parents[next]; exists {
		return errs.New(errs.ErrAlreadyExists, "version %s", next)
	}

	if len(t.parents) == 0 {
		if !old.IsZero() {
			return errs.New(errs.ErrNotFound, "version %s in empty tree", old)
		}

		t.root = next
		t.parents[next] = data.VersionName{}

		return nil
	}

	if _, exists := t.parents[old]; !exists {
		return errs.New(errs.ErrNotFound, "version %s", old)
	}

	if next.Index <= old.Index {
		return errs.New(errs.ErrInvalidArgument, "version %s does not follow %s", next, old)
	}

	if len(t.children[old]) > 0 && uint32(t.tipCount()) >= t.maxBranches {
		return errs.New(errs.ErrInvalidArgument, "branch limit %d reached", t.maxBranches)
	}

	t.parents[next] = old
	t.children[old] = append(t.children[old], next)

	t.prune()

	return nil
}

// Tips returns the versions without successors, ordered by index then id.
func (t *Tree) Tips() []data.VersionName {
	var tips []data.VersionName

	for v := range t.parents {
		if len(t.children[v]) == 0 {
			tips = append(tips, v)
		}
	}

	slices.SortFunc(tips, compareVersions)

	return tips
}

// Branch returns the versions from tip back to the root.
func (t *Tree) Branch(tip data.VersionName) ([]data.VersionName, error) {
	if _, exists := t.parents[tip]; !exists {
		return nil, errs.New(errs.ErrNotFound, "version %s", tip)
	}

	var branch []data.VersionName

	for v := tip; !v.IsZero(); v = t.parents[v] {
		branch = append(branch, v)
	}

	return branch, nil
}

// DeleteBranchUntilFork removes tip and its predecessors up to, excluding,
// the nearest version that has another successor. A tree with a single
// branch is emptied.
func (t *Tree) DeleteBranchUntilFork(tip data.VersionName) error {
	if _, exists := t.parents[tip]; !exists {
		return errs.New(errs.ErrNotFound, "version %s", tip)
	}

	if len(t.children[tip]) > 0 {
		return errs.New(errs.ErrInvalidArgument, "version %s is not a tip", tip)
	}

	v := tip
	for !v.IsZero() {
		parent := t.parents[v]

		delete(t.parents, v)
		delete(t.children, v)

		if parent.IsZero() {
			t.root = data.VersionName{}
			break
		}

		t.children[parent] = slices.DeleteFunc(t.children[parent], func(c data.VersionName) bool {
			return c == v
		})

		if len(t.children[parent]) > 0 {
			break
		}

		delete(t.children, parent)
		v = parent
	}

	return nil
}

// prune drops the root while the tree holds more than maxVersions versions
// and the root has a single successor.
func (t *Tree) prune() {
	for uint32(len(t.parents)) > t.maxVersions {
		next := t.children[t.root]
		if len(next) != 1 {
			return
		}

		delete(t.parents, t.root)
		delete(t.children, t.root)

		t.root = next[0]
		t.parents[t.root] = data.VersionName{}
	}
}

// tipCount returns the number of tips.
func (t *Tree) tipCount() int {
	n := 0
	for v := range t.parents {
		if len(t.children[v]) == 0 {
			n++
		}
	}

	return n
}

// Encode serializes the tree.
// Format: [4B max versions] [4B max branches] [4B count] [count x (40B version, 40B parent)]
// Entries are ordered by index so every parent precedes its successors.
func (t *Tree) Encode() []byte {
	versions := make([]data.VersionName, 0, len(t.parents))
	for v := range t.parents {
		versions = append(versions, v)
	}

	slices.SortFunc(versions, compareVersions)

	buf := make([]byte, treeHeaderSize+len(versions)*treeEntrySize)
	binary.BigEndian.PutUint32(buf[0:4], t.maxVersions)
	binary.BigEndian.PutUint32(buf[4:8], t.maxBranches)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(versions)))

	off := treeHeaderSize
	for _, v := range versions {
		copy(buf[off:], protocol.EncodeVersion(v))
		copy(buf[off+data.VersionNameSize:], protocol.EncodeVersion(t.parents[v]))
		off += treeEntrySize
	}

	return buf
}

// DecodeTree parses a tree produced by Encode.
func DecodeTree(b []byte) (*Tree, error) {
	if len(b) < treeHeaderSize {
		return nil, errs.New(errs.ErrParsing, "tree too short: %d bytes", len(b))
	}

	t, err := NewTree(binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint32(b[4:8]))
	if err != nil {
		return nil, errs.Parsing(err, "tree header")
	}

	count := int(binary.BigEndian.Uint32(b[8:12]))
	if (len(b)-treeHeaderSize)%treeEntrySize != 0 || (len(b)-treeHeaderSize)/treeEntrySize != count {
		return nil, errs.New(errs.ErrParsing, "tree size: got %d bytes for %d versions", len(b), count)
	}

	off := treeHeaderSize
	for i := 0; i < count; i++ {
		v, _ := protocol.DecodeVersion(b[off : off+data.VersionNameSize])
		parent, _ := protocol.DecodeVersion(b[off+data.VersionNameSize : off+treeEntrySize])
		off += treeEntrySize

		if err := t.restore(v, parent); err != nil {
			return nil, errs.Parsing(err, "tree entry %d", i)
		}
	}

	return t, nil
}

// restore re-inserts one decoded entry without applying the bounds.
func (t *Tree) restore(v, parent data.VersionName) error {
	if v.IsZero() {
		return errs.New(errs.ErrParsing, "zero version")
	}

	if _, exists := t.parents[v]; exists {
		return errs.New(errs.ErrParsing, "duplicate version %s", v)
	}

	if parent.IsZero() {
		if len(t.parents) != 0 {
			return errs.New(errs.ErrParsing, "second root %s", v)
		}

		t.root = v
		t.parents[v] = parent

		return nil
	}

	if _, exists := t.parents[parent]; !exists {
		return errs.New(errs.ErrParsing, "version %s precedes its parent %s", v, parent)
	}

	t.parents[v] = parent
	t.children[parent] = append(t.children[parent], v)

	return nil
}

// compareVersions orders by index then id.
func compareVersions(a, b data.VersionName) int {
	switch {
	case a.Index < b.Index:
		return -1
	case a.Index > b.Index:
		return 1
	}

	return slices.Compare(a.ID[:], b.ID[:])
}
