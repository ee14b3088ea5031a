package abi

import (
	"encoding/json"
	"fmt"
)

// InterfaceVersion is folded into every cache key.
const InterfaceVersion = "2.0.0"

// EntrySymbol is the exported plugin symbol the loader resolves. Its type must
// be func() Proc.
const EntrySymbol = "NewProc"

// LogFunc receives log lines produced by a fragment.
type LogFunc func(msg string)

// Emitter collects rows produced by MapDoc.
type Emitter interface {
	Emit(key, value Value)
}

// QueryMode selects the result shape of Renderer.QueryView.
type QueryMode int

const (
	// AllRows returns, for each key, the array of matching rows.
	AllRows QueryMode = iota
	// AllRowsIncludeDocs is AllRows with the associated documents.
	AllRowsIncludeDocs
	// GroupRows returns one reduced row per key.
	GroupRows
)

// Renderer is the output channel of Show, Update and List.
type Renderer interface {
	// Start sets the response metadata. It has no effect after the first
	// Send or GetRow.
	Start(meta map[string]any)
	Send(text string)
	// GetRow fetches the next list row. ok is false at the end of the rows.
	GetRow() (row ListRow, ok bool)
	// Lookup returns the documents for ids in request order, nil where a
	// document does not exist.
	Lookup(ids []Value) ([]Value, error)
	// QueryView queries another view of the current design document (or a
	// "_design/..." path) for exact keys.
	QueryView(view string, keys []Value, mode QueryMode) ([]Value, error)
}

// Proc is the plugin interface every compiled fragment implements.
type Proc interface {
	SetLogger(fn LogFunc)
	SetEmitter(e Emitter)
	SetRenderer(r Renderer)

	MapDoc(doc Document) error
	Reduce(rows RowSet) (Value, error)
	Rereduce(values []Value) (Value, error)
	Show(doc Document, req Request) error
	Update(doc *DocRef, req Request) error
	List(head Value, req Request) error
	Filter(doc Document, req Request) (bool, error)
	Validate(doc Document, ctx Context) (ValidationResult, error)

	// OnClose is called exactly once before the module is released.
	OnClose()
}

// Base provides the host callbacks and default operations for fragments.
type Base struct {
	logFn    LogFunc
	emitter  Emitter
	renderer Renderer
}

func (b *Base) SetLogger(fn LogFunc)   { b.logFn = fn }
func (b *Base) SetEmitter(e Emitter)   { b.emitter = e }
func (b *Base) SetRenderer(r Renderer) { b.renderer = r }

// Emit writes a key/value pair to the current view. Only valid inside MapDoc.
func (b *Base) Emit(key, value Value) {
	if b.emitter != nil {
		b.emitter.Emit(key, value)
	}
}

// Log sends msg to the server log.
func (b *Base) Log(msg string) {
	if b.logFn != nil {
		b.logFn(msg)
	}
}

// Logf formats and logs a message.
func (b *Base) Logf(format string, args ...any) {
	b.Log(fmt.Sprintf(format, args...))
}

// LogData logs msg followed by data. Strings are appended as they are, other
// values as JSON.
func (b *Base) LogData(msg string, data Value) {
	if s, ok := data.(string); ok {
		b.Log(msg + s)
		return
	}
	enc, err := json.Marshal(data)
	if err != nil {
		b.Log(msg + fmt.Sprint(data))
		return
	}
	b.Log(msg + string(enc))
}

// Start initialises the response. code 0 leaves the status unset.
func (b *Base) Start(headers map[string]any, code int) {
	if b.renderer == nil {
		return
	}
	meta := map[string]any{}
	if headers != nil {
		meta["headers"] = headers
	}
	if code != 0 {
		meta["code"] = code
	}
	b.renderer.Start(meta)
}

// StartResponse passes a complete response object to the renderer.
func (b *Base) StartResponse(meta map[string]any) {
	if b.renderer != nil {
		b.renderer.Start(meta)
	}
}

// Send appends text to the response body.
func (b *Base) Send(text string) {
	if b.renderer != nil {
		b.renderer.Send(text)
	}
}

// SendJSON appends the JSON encoding of v to the response body.
func (b *Base) SendJSON(v Value) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sendJSON: %w", err)
	}
	b.Send(string(data))
	return nil
}

// GetRow receives the next row of the current list.
func (b *Base) GetRow() (ListRow, bool) {
	if b.renderer == nil {
		return nil, false
	}
	return b.renderer.GetRow()
}

// MapRows receives up to limit rows of the current list (all remaining rows
// when limit <= 0) and returns fn applied to each. An empty result means the
// rows are exhausted.
func (b *Base) MapRows(fn func(ListRow) Value, limit int) []Value {
	out := []Value{}
	for limit <= 0 || len(out) < limit {
		row, ok := b.GetRow()
		if !ok {
			break
		}
		out = append(out, fn(row))
	}
	return out
}

// Lookup fetches documents by id.
func (b *Base) Lookup(ids []Value) ([]Value, error) {
	if b.renderer == nil {
		return nil, NewError(KindGeneral, "lookup is only available in render functions")
	}
	return b.renderer.Lookup(ids)
}

// QueryView queries another view.
func (b *Base) QueryView(view string, keys []Value, mode QueryMode) ([]Value, error) {
	if b.renderer == nil {
		return nil, NewError(KindGeneral, "queryView is only available in render functions")
	}
	return b.renderer.QueryView(view, keys, mode)
}

func (b *Base) MapDoc(Document) error { return notImplemented("mapdoc") }

func (b *Base) Reduce(RowSet) (Value, error) { return nil, notImplemented("reduce") }

func (b *Base) Rereduce([]Value) (Value, error) { return nil, notImplemented("rereduce") }

func (b *Base) Show(Document, Request) error { return notImplemented("show") }

func (b *Base) Update(*DocRef, Request) error { return notImplemented("update") }

func (b *Base) List(Value, Request) error { return notImplemented("list") }

func (b *Base) Filter(Document, Request) (bool, error) { return false, notImplemented("filter") }

func (b *Base) Validate(Document, Context) (ValidationResult, error) {
	return ValidationResult{}, notImplemented("validate")
}

func (b *Base) OnClose() {}

func notImplemented(op string) error {
	return NewError(KindNotImplemented, op+" is not implemented by this function")
}
