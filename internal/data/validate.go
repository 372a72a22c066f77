package data

import (
	"bytes"
	"encoding/binary"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// structuredHeaderSize is [8B type tag] [32B owner].
	structuredHeaderSize = 8 + IdentitySize

	// blsPublicKeySize is the size of a compressed BLS public key.
	blsPublicKeySize = 48

	// blsSignatureSize is the size of a compressed BLS signature.
	blsSignatureSize = 96

	// publicKeyContentSize is [48B public key] [96B proof of possession].
	publicKeyContentSize = blsPublicKeySize + blsSignatureSize
)

// structuredDomain separates structured-data names from content hashes.
var structuredDomain = []byte("sd")

// popDST is the domain separation tag for proof-of-possession signatures.
var popDST = []byte("BLS_POP_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

// ValidateData reports whether content really is the data called name.
// The identity is recomputed from the content with the kind's naming rule.
func ValidateData(name Name, content []byte) bool {
	id, err := Derive(name.Kind, content)
	if err != nil {
		return false
	}

	return id == name.ID
}

// Derive computes the identifier of content under the naming rule of kind.
func Derive(kind Kind, content []byte) (ID, error) {
	switch kind {
	case KindImmutable:
		return blake3.Sum256(content), nil
	case KindStructured:
		return deriveStructured(content)
	case KindPublicKey:
		return derivePublicKey(content)
	}

	return ID{}, fmt.Errorf("unknown data kind %d", kind)
}

// NameOf returns the Name of content under kind.
func NameOf(kind Kind, content []byte) (Name, error) {
	id, err := Derive(kind, content)
	if err != nil {
		return Name{}, err
	}

	return Name{Kind: kind, ID: id}, nil
}

// deriveStructured names structured data by BLAKE3("sd" || tag || owner).
// The payload after the header is mutable and not part of the name.
func deriveStructured(content []byte) (ID, error) {
	if len(content) < structuredHeaderSize {
		return ID{}, fmt.Errorf("structured data too short: %d < %d", len(content), structuredHeaderSize)
	}

	h := blake3.New()
	h.Write(structuredDomain)
	h.Write(content[:structuredHeaderSize])

	var id ID
	h.Sum(id[:0])

	return id, nil
}

// derivePublicKey names a key by BLAKE3(pubkey) after checking its proof of possession.
func derivePublicKey(content []byte) (ID, error) {
	if len(content) != publicKeyContentSize {
		return ID{}, fmt.Errorf("public key data size: got %d, want %d", len(content), publicKeyContentSize)
	}

	pubBytes := content[:blsPublicKeySize]
	sigBytes := content[blsPublicKeySize:]

	pk := new(blst.P1Affine).Uncompress(pubBytes)
	if pk == nil {
		return ID{}, fmt.Errorf("invalid BLS public key")
	}

	sig := new(blst.P2Affine).Uncompress(sigBytes)
	if sig == nil {
		return ID{}, fmt.Errorf("invalid BLS signature")
	}

	if !sig.Verify(true, pk, true, pubBytes, popDST) {
		return ID{}, fmt.Errorf("proof of possession does not verify")
	}

	return blake3.Sum256(pubBytes), nil
}

// Structured builds structured data content and returns it with its name.
// Format: [8B type tag] [32B owner] [payload]
func Structured(tag uint64, owner Identity, payload []byte) ([]byte, Name) {
	content := make([]byte, structuredHeaderSize+len(payload))
	binary.BigEndian.PutUint64(content[:8], tag)
	copy(content[8:structuredHeaderSize], owner[:])
	copy(content[structuredHeaderSize:], payload)

	id, _ := deriveStructured(content)

	return content, Name{Kind: KindStructured, ID: id}
}

// StructuredPayload returns the mutable payload of structured content.
func StructuredPayload(content []byte) []byte {
	if len(content) < structuredHeaderSize {
		return nil
	}

	return content[structuredHeaderSize:]
}

// Immutable returns the name of immutable content.
func Immutable(content []byte) Name {
	return Name{Kind: KindImmutable, ID: blake3.Sum256(content)}
}

// PublicKey builds public key content from a 32+ byte seed.
// Format: [48B BLS public key] [96B signature over the public key]
func PublicKey(seed []byte) ([]byte, Name, error) {
	if len(seed) < 32 {
		return nil, Name{}, fmt.Errorf("seed must be at least 32 bytes")
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, Name{}, fmt.Errorf("failed to generate BLS key")
	}

	pub := new(blst.P1Affine).From(secret).Compress()
	sig := new(blst.P2Affine).Sign(secret, pub, popDST).Compress()

	var buf bytes.Buffer
	buf.Write(pub)
	buf.Write(sig)

	return buf.Bytes(), Name{Kind: KindPublicKey, ID: blake3.Sum256(pub)}, nil
}
