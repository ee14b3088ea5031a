package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mattjoyce/couchgo/internal/compiler"
	"github.com/mattjoyce/couchgo/internal/ddoc"
	"github.com/mattjoyce/couchgo/internal/log"
	"github.com/mattjoyce/couchgo/internal/module"
	"github.com/mattjoyce/couchgo/internal/protocol"
	"github.com/mattjoyce/couchgo/internal/render"
	"github.com/mattjoyce/couchgo/pkg/abi"
)

// Compiler is the part of the compile cache the server uses directly.
type Compiler interface {
	Hash(code string) compiler.Key
	Compile(ctx context.Context, code string) (compiler.Artifact, error)
	SetSharedCode(tree map[string]any)
	DropEnv() error
}

// Precompiler compiles every fragment of a design document.
type Precompiler interface {
	Precompile(ctx context.Context, doc *ddoc.Document) error
}

// Options configures a Server.
type Options struct {
	Compiler Compiler
	// Scheduler is required when Precompile is set.
	Scheduler  Precompiler
	Modules    *module.Cache
	Fetcher    render.Fetcher
	Precompile bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// view is a registered map function.
type view struct {
	key  compiler.Key
	path string
}

// Server holds the state of one query server session.
type Server struct {
	compiler   Compiler
	scheduler  Precompiler
	modules    *module.Cache
	fetcher    render.Fetcher
	precompile bool
	now        func() time.Time

	in  *protocol.Reader
	out *protocol.Writer

	views  []view
	ddocs  *ddoc.Registry
	logger *slog.Logger
}

// New creates a server reading commands from in and writing responses to out.
func New(opts Options, in io.Reader, out *protocol.Writer) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		compiler:   opts.Compiler,
		scheduler:  opts.Scheduler,
		modules:    opts.Modules,
		fetcher:    opts.Fetcher,
		precompile: opts.Precompile && opts.Scheduler != nil,
		now:        now,
		in:         protocol.NewReader(in),
		out:        out,
		ddocs:      ddoc.NewRegistry(),
		logger:     log.WithComponent("dispatch"),
	}
}

// Serve answers commands until the input ends. It returns nil at EOF and
// the stream error when reading or writing the controller stream fails.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("query server started")
	defer func() {
		if err := s.compiler.DropEnv(); err != nil {
			s.logger.Warn("failed to drop staging directory", "error", err)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		cmd, err := s.in.Read()
		if errors.Is(err, io.EOF) {
			s.logger.Info("query server stopped", "reason", "eof")
			return nil
		}
		var derr *protocol.DecodeError
		if errors.As(err, &derr) {
			s.logger.Warn("malformed command", "error", derr)
			if werr := s.out.Write(envelope(protocolError(KindBadRequest, derr.Error()))); werr != nil {
				return s.fatal(werr)
			}
			continue
		}
		if err != nil {
			return s.fatal(err)
		}

		resp, err := s.dispatch(ctx, cmd)
		var serr *streamError
		if errors.As(err, &serr) {
			return s.fatal(serr.err)
		}
		if err != nil {
			s.logger.Debug("command failed", "command", cmd.Name(), "error", err)
			resp = envelope(err)
		}
		if err := s.out.Write(resp); err != nil {
			return s.fatal(err)
		}
	}
}

// fatal attempts one last error frame and returns err.
func (s *Server) fatal(err error) error {
	s.logger.Error("controller stream failed", "error", err)
	_ = s.out.Write(protocol.ErrorFrame(abi.KindGeneral, err.Error()))
	return err
}

func (s *Server) dispatch(ctx context.Context, cmd protocol.Command) (any, error) {
	switch cmd.Name() {
	case protocol.CmdReset:
		return s.reset()
	case protocol.CmdAddLib:
		return s.addLib(cmd)
	case protocol.CmdAddFun:
		return s.addFun(ctx, cmd)
	case protocol.CmdMapDoc:
		return s.mapDoc(cmd)
	case protocol.CmdReduce:
		return s.reduce(ctx, cmd)
	case protocol.CmdRereduce:
		return s.rereduce(ctx, cmd)
	case protocol.CmdDDoc:
		return s.designDoc(ctx, cmd)
	default:
		return nil, errUnsupported
	}
}

// load returns the module for code, compiling it first if needed.
func (s *Server) load(ctx context.Context, code string) (*module.Module, error) {
	if m, ok := s.modules.Peek(s.compiler.Hash(code)); ok {
		return m, nil
	}
	art, err := s.compiler.Compile(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.modules.Get(art.Key, art.Path)
}

// guard runs a plugin operation and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = render.Recovered(r)
		}
	}()
	return fn()
}

func (s *Server) reset() (any, error) {
	s.views = nil
	if s.modules.Sweep(s.now()) {
		s.logger.Debug("module cache swept", "ddocs", s.ddocs.Len())
	}
	if err := s.compiler.DropEnv(); err != nil {
		s.logger.Warn("failed to drop staging directory", "error", err)
	}
	return true, nil
}

func (s *Server) addLib(cmd protocol.Command) (any, error) {
	lib, _ := cmd.Arg(0).(map[string]any)
	s.compiler.SetSharedCode(lib)
	return true, nil
}

func (s *Server) addFun(ctx context.Context, cmd protocol.Command) (any, error) {
	code, ok := cmd.Arg(0).(string)
	if !ok {
		return nil, protocolError(KindBadRequest, "add_fun expects the function source")
	}
	m, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	s.views = append(s.views, view{key: m.Key, path: m.Path})
	return true, nil
}

func stringArg(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a function source, got %T", v)
	}
	return s, nil
}
