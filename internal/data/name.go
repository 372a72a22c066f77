package data

import (
	"encoding/hex"
	"fmt"
)

const (
	// IDSize is the size of a data identifier in bytes.
	IDSize = 32

	// NameSize is the encoded size of a Name: [1B kind] [32B id].
	NameSize = 1 + IDSize

	// IdentitySize is the size of a node identity in bytes.
	IdentitySize = 32
)

// ID is the content-derived identifier of a piece of data.
type ID [IDSize]byte

// Identity identifies a network participant (its ed25519 public key).
type Identity [IdentitySize]byte

// Kind is the closed set of supported data kinds.
type Kind uint8

const (
	// KindImmutable is content-addressed data named by the hash of its content.
	KindImmutable Kind = iota + 1

	// KindStructured is owner-tagged data named by its type tag and owner.
	KindStructured

	// KindPublicKey is a BLS public key named by the hash of the key.
	KindPublicKey
)

// Name is a tagged data identity: the kind selects the naming rule for the ID.
type Name struct {
	Kind Kind // Kind selects the validation rule
	ID   ID   // ID is the identifier derived from the content
}

// String returns a short printable form of the kind.
func (k Kind) String() string {
	switch k {
	case KindImmutable:
		return "immutable"
	case KindStructured:
		return "structured"
	case KindPublicKey:
		return "public-key"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindImmutable, KindStructured, KindPublicKey:
		return true
	default:
		return false
	}
}

// String returns "kind:hexprefix".
func (n Name) String() string {
	return n.Kind.String() + ":" + hex.EncodeToString(n.ID[:8])
}

// IsZero reports whether n is the zero name.
func (n Name) IsZero() bool {
	return n == Name{}
}

// Bytes encodes the name.
// Format: [1B kind] [32B id]
func (n Name) Bytes() []byte {
	buf := make([]byte, NameSize)
	buf[0] = byte(n.Kind)
	copy(buf[1:], n.ID[:])

	return buf
}

// ParseName decodes a name produced by Bytes.
func ParseName(b []byte) (Name, error) {
	if len(b) != NameSize {
		return Name{}, fmt.Errorf("name size: got %d, want %d", len(b), NameSize)
	}

	n := Name{Kind: Kind(b[0])}
	if !n.Kind.Valid() {
		return Name{}, fmt.Errorf("unknown data kind %d", b[0])
	}

	copy(n.ID[:], b[1:])

	return n, nil
}

// String returns the hex prefix of the identity.
func (i Identity) String() string {
	return hex.EncodeToString(i[:8])
}

// IdentityFrom copies a byte slice into an Identity.
func IdentityFrom(b []byte) (Identity, error) {
	var id Identity
	if len(b) != IdentitySize {
		return id, fmt.Errorf("identity size: got %d, want %d", len(b), IdentitySize)
	}

	copy(id[:], b)

	return id, nil
}

// VersionNameSize is the encoded size of a VersionName: [8B index] [32B id].
const VersionNameSize = 8 + IDSize

// VersionName identifies one version of a structured data version tree.
type VersionName struct {
	Index uint64 // Index is the position in the chain, increasing from the root
	ID    ID     // ID is the identity of the version's content
}

// IsZero reports whether v is the zero version (used for "no parent").
func (v VersionName) IsZero() bool {
	return v == VersionName{}
}

// String returns "index:hexprefix".
func (v VersionName) String() string {
	return fmt.Sprintf("%d:%s", v.Index, hex.EncodeToString(v.ID[:4]))
}
