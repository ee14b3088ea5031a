package compiler

import (
	"fmt"
	"strings"
)

// KindCompileError is the envelope kind of a failed toolchain run.
const KindCompileError = "compile_error"

// CompileError reports a non-zero toolchain exit.
type CompileError struct {
	Key         Key
	CommandLine string
	Output      string
	Err         error
}

func (e *CompileError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" && e.Err != nil {
		out = e.Err.Error()
	}
	return fmt.Sprintf("%s - cmdline: %s", out, e.CommandLine)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Kind returns the protocol error kind.
func (e *CompileError) Kind() string { return KindCompileError }
