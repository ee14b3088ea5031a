// Package abi is the fixed boundary between the couchgo query server and the
// fragments it compiles into Go plugins.
//
// Every fragment is wrapped into a scaffold that dot-imports this package and
// declares
//
//	type Handler struct{ Base }
//	func NewProc() Proc { return &Handler{} }
//
// so the fragment body only has to declare the methods it implements:
//
//	func (h *Handler) MapDoc(doc Document) error {
//		h.Emit(doc.ID(), nil)
//		return nil
//	}
//
// Operations the fragment does not declare fall back to Base, which returns
// a not_implemented error.
//
// Errors never cross the boundary as panics. Fragments return *Error values
// (see NewError, NotFound, Forbidden, Unauthorized) and the host maps them to
// protocol error envelopes. Panics are recovered by the host at the call site.
//
// The package only depends on the standard library so that the plugin and the
// host agree on one build of it. Changing any exported type here requires a
// bump of InterfaceVersion, which invalidates all cached artifacts.
package abi
