package accumulator

import (
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"

	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/protocol"
	"Vaultnet/internal/types"
)

const (
	// stateVersion is the current handled-requests format version.
	stateVersion = 1

	// maxStateSize bounds the decompressed size of imported state.
	maxStateSize = 64 << 20
)

// Serialise exports the handled requests for owner.
// Format: zstd(FlatBuffers HandledRequests)
func (a *Accumulator) Serialise(owner data.Name) ([]byte, error) {
	return SerialiseHandled(owner, a.Handled())
}

// SerialiseHandled encodes entries as the transferable state of owner.
func SerialiseHandled(owner data.Name, entries []HandledRequest) ([]byte, error) {
	builder := flatbuffers.NewBuilder(256 + 64*len(entries))

	offsets := make([]flatbuffers.UOffsetT, len(entries))
	for i, e := range entries {
		senderOffset := builder.CreateByteVector(e.ID.Sender[:])

		var contentOffset flatbuffers.UOffsetT
		if len(e.Reply.Content) > 0 {
			contentOffset = builder.CreateByteVector(e.Reply.Content)
		}

		types.HandledRequestStart(builder)
		types.HandledRequestAddMessageId(builder, e.ID.MessageID)
		types.HandledRequestAddSender(builder, senderOffset)
		types.HandledRequestAddCode(builder, byte(e.Reply.Code))

		if contentOffset != 0 {
			types.HandledRequestAddContent(builder, contentOffset)
		}

		offsets[i] = types.HandledRequestEnd(builder)
	}

	types.HandledRequestsStartRequestsVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	requestsVector := builder.EndVector(len(offsets))

	ownerOffset := builder.CreateByteVector(owner.Bytes())

	types.HandledRequestsStart(builder)
	types.HandledRequestsAddVersion(builder, stateVersion)
	types.HandledRequestsAddOwner(builder, ownerOffset)
	types.HandledRequestsAddRequests(builder, requestsVector)
	offset := types.HandledRequestsEnd(builder)
	builder.Finish(offset)

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errs.Transport(err, "create encoder")
	}
	defer encoder.Close()

	return encoder.EncodeAll(builder.FinishedBytes(), nil), nil
}

// Parse decodes state produced by Serialise.
// Every malformation is reported as an errs.ErrParsing error.
func Parse(b []byte) (data.Name, []HandledRequest, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxStateSize))
	if err != nil {
		return data.Name{}, nil, errs.Transport(err, "create decoder")
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return data.Name{}, nil, errs.Parsing(err, "decompress handled requests")
	}

	return parseTable(raw)
}

// parseTable decodes the FlatBuffers table, converting accessor panics on
// malformed buffers into parsing errors.
func parseTable(raw []byte) (owner data.Name, entries []HandledRequest, err error) {
	defer func() {
		if r := recover(); r != nil {
			owner, entries = data.Name{}, nil
			err = errs.New(errs.ErrParsing, "malformed handled requests: %v", r)
		}
	}()

	if len(raw) < 8 {
		return data.Name{}, nil, errs.New(errs.ErrParsing, "handled requests too short: %d bytes", len(raw))
	}

	table := types.GetRootAsHandledRequests(raw, 0)

	if v := table.Version(); v != stateVersion {
		return data.Name{}, nil, errs.New(errs.ErrParsing, "unsupported handled requests version %d", v)
	}

	owner, err = data.ParseName(table.OwnerBytes())
	if err != nil {
		return data.Name{}, nil, errs.Parsing(err, "handled requests owner")
	}

	count := table.RequestsLength()
	entries = make([]HandledRequest, 0, count)

	var req types.HandledRequest
	for i := 0; i < count; i++ {
		if !table.Requests(&req, i) {
			return data.Name{}, nil, errs.New(errs.ErrParsing, "missing request %d", i)
		}

		entry, err := parseEntry(&req)
		if err != nil {
			return data.Name{}, nil, errs.Parsing(err, "request %d", i)
		}

		entries = append(entries, entry)
	}

	return owner, entries, nil
}

// parseEntry converts one table row.
func parseEntry(req *types.HandledRequest) (HandledRequest, error) {
	sender, err := data.IdentityFrom(req.SenderBytes())
	if err != nil {
		return HandledRequest{}, err
	}

	code := protocol.Code(req.Code())
	if !code.Valid() {
		return HandledRequest{}, errs.New(errs.ErrParsing, "unknown reply code %d", req.Code())
	}

	var content []byte
	if b := req.ContentBytes(); len(b) > 0 {
		content = make([]byte, len(b))
		copy(content, b)
	}

	return HandledRequest{
		ID:    RequestID{MessageID: req.MessageId(), Sender: sender},
		Reply: protocol.Reply{Code: code, Content: content},
	}, nil
}
