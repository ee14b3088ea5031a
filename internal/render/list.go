package render

import (
	"fmt"

	"github.com/mattjoyce/couchgo/pkg/abi"
)

// Frame tags of the list sub-protocol.
const (
	TagStart  = "start"
	TagChunks = "chunks"
	TagEnd    = "end"
)

// Step is what a list call hands back to the protocol loop: either a frame
// that must be written before the next row is read, or the end of the call.
type Step struct {
	// Frame is set while the list function waits for a row.
	Frame []any
	// Done is set once the list function returned. End holds the final
	// frame; Err is the function's error, if any.
	Done bool
	End  []any
	Err  error
}

type resume struct {
	row abi.ListRow
	ok  bool
}

// ListCall runs a list function on its own goroutine and suspends it at
// every GetRow until the protocol loop supplies the next row.
//
// Only one of Begin/Resume may be in progress at a time; the protocol loop
// drives the call strictly step by step.
type ListCall struct {
	Response
	fn        func(abi.Renderer) error
	steps     chan Step
	resumes   chan resume
	needStart bool
	ended     bool
	running   bool
}

var _ abi.Renderer = (*ListCall)(nil)

// NewListCall prepares a call of fn. fn receives the renderer to bind into
// the plugin before invoking its List operation.
func NewListCall(req abi.Request, fetcher Fetcher, fn func(abi.Renderer) error) *ListCall {
	return &ListCall{
		Response:  Response{meta: map[string]any{}, req: req, fetcher: fetcher},
		fn:        fn,
		steps:     make(chan Step),
		resumes:   make(chan resume),
		needStart: true,
	}
}

// Begin starts the list function and returns its first step.
func (l *ListCall) Begin() Step {
	if l.running {
		panic("render: ListCall started twice")
	}
	l.running = true
	go l.run()
	return <-l.steps
}

// Resume delivers the next row (ok) or the end of the rows (!ok) to the
// suspended list function and returns its next step.
func (l *ListCall) Resume(row abi.ListRow, ok bool) Step {
	l.resumes <- resume{row: row, ok: ok}
	return <-l.steps
}

// Abort ends the row stream and waits for the list function to return.
func (l *ListCall) Abort(step Step) Step {
	for !step.Done {
		step = l.Resume(nil, false)
	}
	return step
}

// GetRow implements abi.Renderer.
func (l *ListCall) GetRow() (abi.ListRow, bool) {
	if l.ended {
		return nil, false
	}
	l.locked = true

	var frame []any
	if l.needStart {
		frame = []any{TagStart, l.buf.Chunks(true), l.meta}
		l.needStart = false
	} else {
		frame = []any{TagChunks, l.buf.Chunks(false)}
	}
	l.buf.Reset()

	l.steps <- Step{Frame: frame}
	r := <-l.resumes
	if !r.ok {
		l.ended = true
		return nil, false
	}
	return r.row, true
}

func (l *ListCall) run() {
	err := l.invoke()
	if l.needStart {
		l.GetRow()
	}
	l.steps <- Step{Done: true, End: []any{TagEnd, l.buf.Chunks(false)}, Err: err}
}

func (l *ListCall) invoke() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Recovered(r)
		}
	}()
	return l.fn(l)
}

// Recovered converts a panic value raised inside plugin code into an error.
func Recovered(r any) error {
	if err, ok := r.(*abi.Error); ok {
		return err
	}
	if err, ok := r.(error); ok {
		return abi.NewError(abi.KindGeneral, err.Error())
	}
	return abi.NewError(abi.KindGeneral, fmt.Sprintf("panic: %v", r))
}
