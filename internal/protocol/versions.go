package protocol

import (
	"encoding/binary"

	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
)

// createArgsSize is [40B root] [4B max versions] [4B max branches].
const createArgsSize = data.VersionNameSize + 4 + 4

// CreateArgs are the arguments of a create-version-tree request.
type CreateArgs struct {
	Root        data.VersionName // Root is the first version
	MaxVersions uint32           // MaxVersions bounds the chain length
	MaxBranches uint32           // MaxBranches bounds the number of tips
}

// EncodeCreateArgs encodes create-version-tree arguments.
func EncodeCreateArgs(a CreateArgs) []byte {
	buf := make([]byte, createArgsSize)
	putVersion(buf, a.Root)
	binary.BigEndian.PutUint32(buf[data.VersionNameSize:], a.MaxVersions)
	binary.BigEndian.PutUint32(buf[data.VersionNameSize+4:], a.MaxBranches)

	return buf
}

// DecodeCreateArgs decodes create-version-tree arguments.
func DecodeCreateArgs(b []byte) (CreateArgs, error) {
	if len(b) != createArgsSize {
		return CreateArgs{}, errs.New(errs.ErrParsing, "create args size: got %d, want %d", len(b), createArgsSize)
	}

	return CreateArgs{
		Root:        getVersion(b),
		MaxVersions: binary.BigEndian.Uint32(b[data.VersionNameSize:]),
		MaxBranches: binary.BigEndian.Uint32(b[data.VersionNameSize+4:]),
	}, nil
}

// EncodeVersionPair encodes the (old, new) arguments of a put-version request.
// Format: [40B old] [40B new]
func EncodeVersionPair(old, new data.VersionName) []byte {
	buf := make([]byte, 2*data.VersionNameSize)
	putVersion(buf, old)
	putVersion(buf[data.VersionNameSize:], new)

	return buf
}

// DecodeVersionPair decodes put-version arguments.
func DecodeVersionPair(b []byte) (old, new data.VersionName, err error) {
	if len(b) != 2*data.VersionNameSize {
		return old, new, errs.New(errs.ErrParsing, "version pair size: got %d, want %d", len(b), 2*data.VersionNameSize)
	}

	return getVersion(b), getVersion(b[data.VersionNameSize:]), nil
}

// EncodeVersion encodes a single version name.
func EncodeVersion(v data.VersionName) []byte {
	buf := make([]byte, data.VersionNameSize)
	putVersion(buf, v)

	return buf
}

// DecodeVersion decodes a single version name.
func DecodeVersion(b []byte) (data.VersionName, error) {
	if len(b) != data.VersionNameSize {
		return data.VersionName{}, errs.New(errs.ErrParsing, "version size: got %d, want %d", len(b), data.VersionNameSize)
	}

	return getVersion(b), nil
}

// EncodeVersions encodes a list of version names.
// Format: [4B count] [count x 40B version]
func EncodeVersions(vs []data.VersionName) []byte {
	buf := make([]byte, 4+len(vs)*data.VersionNameSize)
	binary.BigEndian.PutUint32(buf, uint32(len(vs)))

	for i, v := range vs {
		putVersion(buf[4+i*data.VersionNameSize:], v)
	}

	return buf
}

// DecodeVersions decodes a list produced by EncodeVersions.
func DecodeVersions(b []byte) ([]data.VersionName, error) {
	if len(b) < 4 {
		return nil, errs.New(errs.ErrParsing, "version list too short: %d", len(b))
	}

	count := int(binary.BigEndian.Uint32(b))
	if len(b) != 4+count*data.VersionNameSize {
		return nil, errs.New(errs.ErrParsing, "version list size: got %d, want %d", len(b), 4+count*data.VersionNameSize)
	}

	vs := make([]data.VersionName, count)
	for i := range vs {
		vs[i] = getVersion(b[4+i*data.VersionNameSize:])
	}

	return vs, nil
}

// putVersion writes v into the first 40 bytes of buf.
func putVersion(buf []byte, v data.VersionName) {
	binary.BigEndian.PutUint64(buf[:8], v.Index)
	copy(buf[8:data.VersionNameSize], v.ID[:])
}

// getVersion reads a version from the first 40 bytes of b.
func getVersion(b []byte) data.VersionName {
	v := data.VersionName{Index: binary.BigEndian.Uint64(b[:8])}
	copy(v.ID[:], b[8:data.VersionNameSize])

	return v
}
