package abi

// Error kinds understood by CouchDB or produced by the host.
const (
	KindNotFound           = "not_found"
	KindUnauthorized       = "unauthorized"
	KindForbidden          = "forbidden"
	KindValidationRejected = "validation_rejected"
	KindNotImplemented     = "not_implemented"
	KindGeneral            = "general_error"
)

// Error is a typed error returned by fragment code.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	return e.Kind + ": " + e.Message
}

// NewError creates an error of the given kind.
func NewError(kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func NotFoundError(msg string) *Error     { return NewError(KindNotFound, msg) }
func ForbiddenError(msg string) *Error    { return NewError(KindForbidden, msg) }
func UnauthorizedError(msg string) *Error { return NewError(KindUnauthorized, msg) }
