package dispatch

import (
	"errors"

	"github.com/mattjoyce/couchgo/internal/protocol"
	"github.com/mattjoyce/couchgo/pkg/abi"
)

// Protocol error kinds.
const (
	KindUnsupported = "unsupported"
	KindNotFound    = "not_found"
	KindBadRequest  = "bad_request"
)

// ProtocolError reports a malformed or unknown command.
type ProtocolError struct {
	kind    string
	Message string
}

func (e *ProtocolError) Error() string { return e.kind + ": " + e.Message }

// Kind returns the protocol error kind.
func (e *ProtocolError) Kind() string { return e.kind }

func protocolError(kind, msg string) *ProtocolError {
	return &ProtocolError{kind: kind, Message: msg}
}

var (
	errUnsupported     = protocolError(KindUnsupported, "Operation is not supported by this query server")
	errUnknownDDoc     = protocolError(KindNotFound, "Unknown design document")
	errMissingFunction = protocolError(KindNotFound, "Required function not exists")
)

// streamError wraps a failure of the controller stream. It is fatal.
type streamError struct {
	err error
}

func (e *streamError) Error() string { return e.err.Error() }

func (e *streamError) Unwrap() error { return e.err }

type kinded interface {
	Kind() string
}

// envelope maps a per-command error to its response frame.
func envelope(err error) []any {
	var aerr *abi.Error
	if errors.As(err, &aerr) {
		return protocol.ErrorFrame(aerr.Kind, aerr.Message)
	}
	if p, ok := err.(*ProtocolError); ok {
		return protocol.ErrorFrame(p.kind, p.Message)
	}
	var k kinded
	if errors.As(err, &k) {
		return protocol.ErrorFrame(k.Kind(), err.Error())
	}
	return protocol.ErrorFrame(abi.KindGeneral, err.Error())
}
