package protocol

import (
	"fmt"

	"Vaultnet/internal/errs"
)

// Code is the outcome code carried by a reply.
type Code uint8

// Reply codes. Values are part of the wire and persisted formats.
const (
	// CodeOK is a successful reply.
	CodeOK Code = iota

	// CodeNoResponse is the sentinel for "no answer arrived at all".
	// It is never sent by a replica; the Timer synthesizes it on expiry.
	CodeNoResponse

	CodeNotFound
	CodeAlreadyExists
	CodeInvalidArgument
	CodeFork
	CodeParsing
	CodeInternal
	CodeTimedOut
	CodeCancelled
	CodeQuorumExhausted

	// codeLimit is one past the highest known code.
	codeLimit
)

// Valid reports whether c is a known code.
func (c Code) Valid() bool {
	return c < codeLimit
}

// String returns the code name.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeNoResponse:
		return "no-response"
	case CodeNotFound:
		return "not-found"
	case CodeAlreadyExists:
		return "already-exists"
	case CodeInvalidArgument:
		return "invalid-argument"
	case CodeFork:
		return "fork"
	case CodeParsing:
		return "parsing"
	case CodeInternal:
		return "internal"
	case CodeTimedOut:
		return "timed-out"
	case CodeCancelled:
		return "cancelled"
	case CodeQuorumExhausted:
		return "quorum-exhausted"
	default:
		return fmt.Sprintf("code(%d)", uint8(c))
	}
}

// Reply is the answer of one replica to one request.
type Reply struct {
	Code    Code   // Code is the outcome
	Content []byte // Content is the payload of a successful reply
}

// NoResponse returns the sentinel reply standing for a reply that never arrived.
func NoResponse() Reply {
	return Reply{Code: CodeNoResponse}
}

// Success returns a successful reply carrying content.
func Success(content []byte) Reply {
	return Reply{Code: CodeOK, Content: content}
}

// Failure returns an error reply.
func Failure(code Code) Reply {
	return Reply{Code: code}
}

// IsSuccess reports whether the reply is a success.
func (r Reply) IsSuccess() bool {
	return r.Code == CodeOK
}

// IsNoResponse reports whether r is exactly the no-answer sentinel.
func (r Reply) IsNoResponse() bool {
	return r.Code == CodeNoResponse && len(r.Content) == 0
}

// IsError reports whether r is an explicit error from a replica.
func (r Reply) IsError() bool {
	return r.Code != CodeOK && r.Code != CodeNoResponse
}

// Err converts the reply code into a typed error, nil on success.
func (r Reply) Err() error {
	switch r.Code {
	case CodeOK:
		return nil
	case CodeNoResponse, CodeTimedOut:
		return errs.New(errs.ErrTimedOut, "no usable reply")
	case CodeNotFound:
		return errs.New(errs.ErrNotFound, "data not found")
	case CodeFork:
		return errs.New(errs.ErrFork, "replica reported a fork")
	case CodeParsing:
		return errs.New(errs.ErrParsing, "replica could not parse request")
	case CodeCancelled:
		return errs.New(errs.ErrCancelled, "replica cancelled request")
	case CodeQuorumExhausted:
		return errs.New(errs.ErrQuorumExhausted, "no replica returned valid content")
	case CodeAlreadyExists:
		return errs.New(errs.ErrAlreadyExists, "data already exists")
	case CodeInvalidArgument:
		return errs.New(errs.ErrInvalidArgument, "replica rejected request")
	default:
		return errs.New(errs.ErrTransport, "replica failure: %s", r.Code)
	}
}

// CodeFromError maps a local error onto the reply code sent back to a client.
func CodeFromError(err error) Code {
	switch errs.KindOf(err) {
	case nil:
		if err == nil {
			return CodeOK
		}
		return CodeInternal
	case errs.ErrNotFound:
		return CodeNotFound
	case errs.ErrFork:
		return CodeFork
	case errs.ErrParsing:
		return CodeParsing
	case errs.ErrAlreadyExists:
		return CodeAlreadyExists
	case errs.ErrInvalidArgument, errs.ErrValidation:
		return CodeInvalidArgument
	case errs.ErrTimedOut:
		return CodeTimedOut
	case errs.ErrCancelled:
		return CodeCancelled
	case errs.ErrQuorumExhausted:
		return CodeQuorumExhausted
	default:
		return CodeInternal
	}
}
