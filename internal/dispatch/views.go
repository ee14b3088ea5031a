package dispatch

import (
	"context"

	"github.com/mattjoyce/couchgo/internal/protocol"
	"github.com/mattjoyce/couchgo/internal/render"
	"github.com/mattjoyce/couchgo/pkg/abi"
)

func (s *Server) mapDoc(cmd protocol.Command) (any, error) {
	arg := cmd.Arg(0)
	if list, ok := arg.([]any); ok && len(list) > 0 {
		arg = list[len(list)-1]
	}
	doc := abi.AsDocument(arg)

	out := make([]any, 0, len(s.views))
	rows := &render.Rows{}
	for _, v := range s.views {
		m, err := s.modules.Get(v.key, v.path)
		if err != nil {
			return nil, err
		}
		rows.Reset()
		proc := m.Proc
		err = guard(func() error {
			proc.SetEmitter(rows)
			defer proc.SetEmitter(nil)
			return proc.MapDoc(doc)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, rows.Rows())
	}
	return out, nil
}

func (s *Server) reduce(ctx context.Context, cmd protocol.Command) (any, error) {
	fns, _ := cmd.Arg(0).([]any)
	raw, _ := cmd.Arg(1).([]any)
	rows := abi.NewRowSet(raw)

	results := make([]any, 0, len(fns))
	for _, fn := range fns {
		code, err := stringArg(fn)
		if err != nil {
			return nil, protocolError(KindBadRequest, err.Error())
		}
		m, err := s.load(ctx, code)
		if err != nil {
			return nil, err
		}
		var result abi.Value
		err = guard(func() error {
			var rerr error
			result, rerr = m.Proc.Reduce(rows)
			return rerr
		})
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return []any{true, results}, nil
}

func (s *Server) rereduce(ctx context.Context, cmd protocol.Command) (any, error) {
	fns, _ := cmd.Arg(0).([]any)
	values, _ := cmd.Arg(1).([]any)
	if values == nil {
		values = []any{}
	}

	results := make([]any, 0, len(fns))
	for _, fn := range fns {
		code, err := stringArg(fn)
		if err != nil {
			return nil, protocolError(KindBadRequest, err.Error())
		}
		m, err := s.load(ctx, code)
		if err != nil {
			return nil, err
		}
		var result abi.Value
		err = guard(func() error {
			var rerr error
			result, rerr = m.Proc.Rereduce(values)
			return rerr
		})
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return []any{true, results}, nil
}
