package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mattjoyce/couchgo/internal/ddoc"
	"github.com/mattjoyce/couchgo/internal/protocol"
	"github.com/mattjoyce/couchgo/internal/render"
	"github.com/mattjoyce/couchgo/pkg/abi"
)

const newDocument = "new"

func (s *Server) designDoc(ctx context.Context, cmd protocol.Command) (any, error) {
	id, _ := cmd.Arg(0).(string)
	if id == newDocument {
		return s.registerDoc(ctx, cmd)
	}

	doc, err := s.ddocs.Get(id)
	if errors.Is(err, ddoc.ErrUnknownDocument) {
		return nil, errUnknownDDoc
	}
	if err != nil {
		return nil, err
	}

	path, ok := stringPath(cmd.Arg(1))
	if !ok {
		return nil, errMissingFunction
	}
	code, err := doc.Function(path)
	if err != nil {
		return nil, errMissingFunction
	}

	m, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	args, _ := cmd.Arg(2).([]any)
	proc := m.Proc

	switch path[0] {
	case ddoc.Shows:
		return s.show(proc, args)
	case ddoc.Updates:
		return s.update(proc, args)
	case ddoc.Lists:
		return s.list(proc, args)
	case ddoc.Filters:
		return filter(proc, args)
	case ddoc.Views:
		return viewFilter(proc, args)
	case ddoc.Validate:
		return validate(proc, args)
	default:
		return nil, protocolError(KindUnsupported, "Unsupported feature")
	}
}

func (s *Server) registerDoc(ctx context.Context, cmd protocol.Command) (any, error) {
	id, idOK := cmd.Arg(1).(string)
	body, bodyOK := cmd.Arg(2).(map[string]any)
	if !idOK || !bodyOK {
		return nil, abi.NewError(abi.KindGeneral, "Failed to update design document")
	}

	doc := ddoc.New(id, body)
	if s.precompile {
		if err := s.scheduler.Precompile(ctx, doc); err != nil {
			return nil, err
		}
	}
	s.ddocs.Put(doc)
	s.logger.Debug("design document registered", "ddoc", id)
	return true, nil
}

func stringPath(v any) ([]string, bool) {
	elems, ok := v.([]any)
	if !ok || len(elems) == 0 {
		return nil, false
	}
	path := make([]string, len(elems))
	for i, e := range elems {
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		path[i] = s
	}
	return path, true
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func requestArg(v any) abi.Request {
	m, _ := v.(map[string]any)
	if m == nil {
		return abi.Request{}
	}
	return abi.Request(m)
}

func (s *Server) show(proc abi.Proc, args []any) (any, error) {
	doc := abi.AsDocument(argAt(args, 0))
	req := requestArg(argAt(args, 1))

	resp := render.NewResponse(req, s.fetcher)
	err := guard(func() error {
		proc.SetRenderer(resp)
		defer proc.SetRenderer(nil)
		return proc.Show(doc, req)
	})
	if err != nil {
		return nil, err
	}
	return []any{protocol.TagResp, resp.Object()}, nil
}

func (s *Server) update(proc abi.Proc, args []any) (any, error) {
	ref := abi.NewDocRef(abi.AsDocument(argAt(args, 0)))
	req := requestArg(argAt(args, 1))

	resp := render.NewResponse(req, s.fetcher)
	err := guard(func() error {
		proc.SetRenderer(resp)
		defer proc.SetRenderer(nil)
		return proc.Update(ref, req)
	})
	if err != nil {
		return nil, err
	}

	var written any
	if doc, ok := ref.Result(); ok {
		written = doc
	}
	return []any{protocol.TagUp, written, resp.Object()}, nil
}

// list runs the list sub-protocol. A failure of the controller stream
// aborts the list function and is reported as a streamError.
func (s *Server) list(proc abi.Proc, args []any) (any, error) {
	head := argAt(args, 0)
	req := requestArg(argAt(args, 1))

	call := render.NewListCall(req, s.fetcher, func(r abi.Renderer) error {
		proc.SetRenderer(r)
		defer proc.SetRenderer(nil)
		return proc.List(head, req)
	})

	step := call.Begin()
	for !step.Done {
		if err := s.out.Write(step.Frame); err != nil {
			call.Abort(step)
			return nil, &streamError{err: err}
		}

		next, err := s.in.Read()
		var derr *protocol.DecodeError
		switch {
		case err == nil:
		case errors.As(err, &derr):
			next = nil
		case errors.Is(err, io.EOF):
			call.Abort(step)
			return nil, &streamError{err: fmt.Errorf("list: input ended while waiting for a row: %w", err)}
		default:
			call.Abort(step)
			return nil, &streamError{err: err}
		}

		if next.Name() == protocol.CmdListRow {
			row, _ := next.Arg(0).(map[string]any)
			step = call.Resume(abi.ListRow(row), true)
		} else {
			step = call.Resume(nil, false)
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.End, nil
}

func filter(proc abi.Proc, args []any) (any, error) {
	docs, _ := argAt(args, 0).([]any)
	req := requestArg(argAt(args, 1))

	results := make([]any, 0, len(docs))
	for _, d := range docs {
		doc := abi.AsDocument(d)
		var pass bool
		err := guard(func() error {
			var ferr error
			pass, ferr = proc.Filter(doc, req)
			return ferr
		})
		if err != nil {
			return nil, err
		}
		results = append(results, pass)
	}
	return []any{true, results}, nil
}

// viewFilter runs a map function as a changes filter: a document passes
// when the function emits anything for it.
func viewFilter(proc abi.Proc, args []any) (any, error) {
	docs, _ := argAt(args, 0).([]any)

	results := make([]any, 0, len(docs))
	flag := &render.Flag{}
	for _, d := range docs {
		doc := abi.AsDocument(d)
		flag.Set = false
		err := guard(func() error {
			proc.SetEmitter(flag)
			defer proc.SetEmitter(nil)
			return proc.MapDoc(doc)
		})
		if err != nil {
			return nil, err
		}
		results = append(results, flag.Set)
	}
	return []any{true, results}, nil
}

func validate(proc abi.Proc, args []any) (any, error) {
	doc := abi.AsDocument(argAt(args, 0))
	vctx := abi.Context{
		PrevDoc:  abi.AsDocument(argAt(args, 1)),
		User:     argAt(args, 2),
		Security: argAt(args, 3),
	}

	var res abi.ValidationResult
	err := guard(func() error {
		var verr error
		res, verr = proc.Validate(doc, vctx)
		return verr
	})
	if err != nil {
		return nil, err
	}

	switch res.Decree {
	case abi.Rejected:
		return protocol.ErrorFrame(abi.KindValidationRejected, res.Description), nil
	case abi.Unauthorized:
		return map[string]any{abi.KindUnauthorized: res.Description}, nil
	case abi.Forbidden:
		return map[string]any{abi.KindForbidden: res.Description}, nil
	default:
		return 1, nil
	}
}
