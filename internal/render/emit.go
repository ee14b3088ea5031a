package render

import "github.com/mattjoyce/couchgo/pkg/abi"

// Rows collects emitted key/value pairs as [key, value] arrays.
type Rows struct {
	rows []any
}

var _ abi.Emitter = (*Rows)(nil)

// Emit implements abi.Emitter.
func (r *Rows) Emit(key, value abi.Value) {
	r.rows = append(r.rows, []any{key, value})
}

// Rows returns the collected pairs, never nil.
func (r *Rows) Rows() []any {
	if r.rows == nil {
		return []any{}
	}
	return r.rows
}

// Reset drops the collected pairs.
func (r *Rows) Reset() {
	r.rows = nil
}

// Flag records whether anything was emitted. It backs view-based filters.
type Flag struct {
	Set bool
}

// Emit implements abi.Emitter.
func (f *Flag) Emit(abi.Value, abi.Value) {
	f.Set = true
}
