package network

import (
	"encoding/binary"
	"io"

	"Vaultnet/internal/errs"
)

const (
	// maxFrameSize bounds one envelope on the wire.
	maxFrameSize = 16 << 20

	// framePrefixSize is the size of the length prefix in bytes.
	framePrefixSize = 4
)

// writeFrame writes one length-prefixed frame.
// Format: [4B big-endian length] [payload]
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return errs.New(errs.ErrInvalidArgument, "frame too large: %d > %d", len(payload), maxFrameSize)
	}

	buf := make([]byte, framePrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[framePrefixSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return errs.Transport(err, "write frame")
	}

	return nil
}

// readFrame reads one length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var prefix [framePrefixSize]byte

	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, errs.Transport(err, "read frame length")
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxFrameSize {
		return nil, errs.New(errs.ErrParsing, "frame too large: %d > %d", length, maxFrameSize)
	}

	payload := make([]byte, length)

	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errs.Transport(err, "read frame payload")
	}

	return payload, nil
}
