package protocol

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/types"
)

// Kind identifies the operation a message belongs to.
type Kind uint8

// Message kinds. Values are part of the wire format.
const (
	KindGet Kind = iota + 1
	KindPut
	KindDelete
	KindCreateVersionTree
	KindPutVersion
	KindGetVersions
	KindGetBranch
	KindDeleteBranchUntilFork

	// kindLimit is one past the highest known kind.
	kindLimit
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindGet:
		return "get"
	case KindPut:
		return "put"
	case KindDelete:
		return "delete"
	case KindCreateVersionTree:
		return "create-version-tree"
	case KindPutVersion:
		return "put-version"
	case KindGetVersions:
		return "get-versions"
	case KindGetBranch:
		return "get-branch"
	case KindDeleteBranchUntilFork:
		return "delete-branch-until-fork"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is one request or response exchanged with a replica group.
type Message struct {
	Kind      Kind          // Kind is the operation
	MessageID uint64        // MessageID identifies the logical request per sender
	TaskID    uint64        // TaskID correlates the response with the caller's task
	Sender    data.Identity // Sender is the node that sent this message
	Name      data.Name     // Name is the data the operation targets
	Response  bool          // Response is true for replies
	Code      Code          // Code is the reply outcome (responses only)
	Content   []byte        // Content is the data payload (put request or reply)
	Aux       []byte        // Aux carries operation arguments (version names)
}

// Reply returns the reply carried by a response message.
func (m *Message) Reply() Reply {
	return Reply{Code: m.Code, Content: m.Content}
}

// ResponseTo builds the response to m sent by sender.
func (m *Message) ResponseTo(sender data.Identity, r Reply) *Message {
	return &Message{
		Kind:      m.Kind,
		MessageID: m.MessageID,
		TaskID:    m.TaskID,
		Sender:    sender,
		Name:      m.Name,
		Response:  true,
		Code:      r.Code,
		Content:   r.Content,
	}
}

// Encode serializes the message as a FlatBuffers Envelope.
func Encode(m *Message) []byte {
	builder := flatbuffers.NewBuilder(128 + len(m.Content) + len(m.Aux))

	senderOffset := builder.CreateByteVector(m.Sender[:])
	nameOffset := builder.CreateByteVector(m.Name.Bytes())

	var contentOffset, auxOffset flatbuffers.UOffsetT

	if len(m.Content) > 0 {
		contentOffset = builder.CreateByteVector(m.Content)
	}

	if len(m.Aux) > 0 {
		auxOffset = builder.CreateByteVector(m.Aux)
	}

	types.EnvelopeStart(builder)
	types.EnvelopeAddKind(builder, byte(m.Kind))
	types.EnvelopeAddMessageId(builder, m.MessageID)
	types.EnvelopeAddTaskId(builder, m.TaskID)
	types.EnvelopeAddSender(builder, senderOffset)
	types.EnvelopeAddName(builder, nameOffset)
	types.EnvelopeAddCode(builder, byte(m.Code))

	if contentOffset != 0 {
		types.EnvelopeAddContent(builder, contentOffset)
	}

	if auxOffset != 0 {
		types.EnvelopeAddAux(builder, auxOffset)
	}

	types.EnvelopeAddResponse(builder, m.Response)
	offset := types.EnvelopeEnd(builder)
	builder.Finish(offset)

	return builder.FinishedBytes()
}

// Decode parses an Envelope. Malformed input yields an errs.ErrParsing error.
func Decode(buf []byte) (msg *Message, err error) {
	// The FlatBuffers accessors index the buffer without bounds checks of their own.
	defer func() {
		if r := recover(); r != nil {
			msg = nil
			err = errs.New(errs.ErrParsing, "malformed envelope: %v", r)
		}
	}()

	if len(buf) < 8 {
		return nil, errs.New(errs.ErrParsing, "envelope too short: %d bytes", len(buf))
	}

	env := types.GetRootAsEnvelope(buf, 0)

	kind := Kind(env.Kind())
	if kind == 0 || kind >= kindLimit {
		return nil, errs.New(errs.ErrParsing, "unknown message kind %d", env.Kind())
	}

	code := Code(env.Code())
	if !code.Valid() {
		return nil, errs.New(errs.ErrParsing, "unknown reply code %d", env.Code())
	}

	if env.Response() && code == CodeNoResponse {
		return nil, errs.New(errs.ErrParsing, "response carries the no-response sentinel")
	}

	sender, err := data.IdentityFrom(env.SenderBytes())
	if err != nil {
		return nil, errs.Parsing(err, "envelope sender")
	}

	name, err := data.ParseName(env.NameBytes())
	if err != nil {
		return nil, errs.Parsing(err, "envelope name")
	}

	return &Message{
		Kind:      kind,
		MessageID: env.MessageId(),
		TaskID:    env.TaskId(),
		Sender:    sender,
		Name:      name,
		Response:  env.Response(),
		Code:      code,
		Content:   cloneBytes(env.ContentBytes()),
		Aux:       cloneBytes(env.AuxBytes()),
	}, nil
}

// cloneBytes copies b so the message does not alias the receive buffer.
func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}
