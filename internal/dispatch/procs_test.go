package dispatch

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/mattjoyce/couchgo/internal/module"
	"github.com/mattjoyce/couchgo/pkg/abi"
)

// fragment returns source whose artifact the fake loader resolves to the
// proc registered under name. variant only changes the cache key.
func fragment(name string, variant ...string) string {
	code := "// proc: " + name + "\n"
	for _, v := range variant {
		code += "// variant: " + v + "\n"
	}
	return code + "func (h *Handler) OnClose() {}\n"
}

var procMarker = regexp.MustCompile(`// proc: (\w+)`)

// fakeLoader opens the text artifacts written by the fake toolchain and
// returns the in-process proc named by their marker.
type fakeLoader struct {
	mu       sync.Mutex
	opens    map[string]int
	released []string
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{opens: make(map[string]int)}
}

func (l *fakeLoader) Open(path string) (abi.Proc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &module.LoadError{Path: path, Reason: "Cannot open assembly", Err: err}
	}
	m := procMarker.FindSubmatch(data)
	if m == nil {
		return nil, &module.LoadError{Path: path, Reason: "Assembly is corrupted"}
	}
	factory, ok := procs[string(m[1])]
	if !ok {
		return nil, &module.LoadError{Path: path, Reason: "Assembly is corrupted", Err: fmt.Errorf("no proc %q", m[1])}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.opens[string(m[1])]++
	return factory(), nil
}

func (l *fakeLoader) Release(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, path)
	return nil
}

func (l *fakeLoader) openCount(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens[name]
}

var procs = map[string]func() abi.Proc{
	"map":      func() abi.Proc { return &mapProc{} },
	"double":   func() abi.Proc { return &doubleProc{} },
	"keep":     func() abi.Proc { return &keepProc{} },
	"logger":   func() abi.Proc { return &loggerProc{} },
	"panicky":  func() abi.Proc { return &panicProc{} },
	"count":    func() abi.Proc { return &countProc{} },
	"hello":    func() abi.Proc { return &helloProc{} },
	"touch":    func() abi.Proc { return &touchProc{} },
	"listing":  func() abi.Proc { return &listProc{} },
	"quiet":    func() abi.Proc { return &quietListProc{} },
	"failing":  func() abi.Proc { return &failingListProc{} },
	"gate":     func() abi.Proc { return &gateProc{} },
	"validate": func() abi.Proc { return &validateProc{} },
}

type mapProc struct{ abi.Base }

func (p *mapProc) MapDoc(doc abi.Document) error {
	p.Emit(doc.ID(), 1)
	return nil
}

type doubleProc struct{ abi.Base }

func (p *doubleProc) MapDoc(doc abi.Document) error {
	p.Emit(doc.ID(), 1)
	p.Emit(doc.ID(), 2)
	return nil
}

type keepProc struct{ abi.Base }

func (p *keepProc) MapDoc(doc abi.Document) error {
	if doc["keep"] == true {
		p.Emit(doc.ID(), nil)
	}
	return nil
}

type loggerProc struct{ abi.Base }

func (p *loggerProc) MapDoc(doc abi.Document) error {
	p.Log("seen " + doc.ID())
	return nil
}

type panicProc struct{ abi.Base }

func (p *panicProc) MapDoc(abi.Document) error {
	panic("boom")
}

type countProc struct{ abi.Base }

func (p *countProc) Reduce(rows abi.RowSet) (abi.Value, error) {
	return len(rows), nil
}

func (p *countProc) Rereduce(values []abi.Value) (abi.Value, error) {
	var sum float64
	for _, v := range values {
		n, _ := v.(float64)
		sum += n
	}
	return sum, nil
}

type helloProc struct{ abi.Base }

func (p *helloProc) Show(doc abi.Document, _ abi.Request) error {
	p.Start(nil, 200)
	p.Send("hello " + doc.ID())
	return nil
}

type touchProc struct{ abi.Base }

func (p *touchProc) Update(ref *abi.DocRef, _ abi.Request) error {
	if doc := ref.Doc(); doc != nil {
		ref.Replace(doc.Replace("touched", true))
	}
	p.Send("ok")
	return nil
}

type listProc struct{ abi.Base }

func (p *listProc) List(_ abi.Value, _ abi.Request) error {
	p.StartResponse(map[string]any{"headers": map[string]any{"Content-Type": "text/plain"}})
	p.Send("head;")
	for {
		row, ok := p.GetRow()
		if !ok {
			break
		}
		p.Send(fmt.Sprint(row.Key()) + ";")
	}
	p.Send("tail")
	return nil
}

type quietListProc struct{ abi.Base }

func (p *quietListProc) List(abi.Value, abi.Request) error {
	p.Send("x")
	return nil
}

type failingListProc struct{ abi.Base }

func (p *failingListProc) List(abi.Value, abi.Request) error {
	p.GetRow()
	return abi.ForbiddenError("no listing for you")
}

type gateProc struct{ abi.Base }

func (p *gateProc) Filter(doc abi.Document, _ abi.Request) (bool, error) {
	return doc["keep"] == true, nil
}

type validateProc struct{ abi.Base }

func (p *validateProc) Validate(doc abi.Document, _ abi.Context) (abi.ValidationResult, error) {
	switch doc["decree"] {
	case "reject":
		return abi.Reject("nope"), nil
	case "forbid":
		return abi.Forbid("nope"), nil
	case "deny":
		return abi.Deny("nope"), nil
	}
	return abi.Accept(), nil
}
