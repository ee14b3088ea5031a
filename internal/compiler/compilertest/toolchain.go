// Package compilertest provides a scripted stand-in for the Go toolchain.
package compilertest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Marker makes the fake toolchain fail with a diagnostic naming the line
// that contains it.
const Marker = "SYNTAX_ERROR"

// Environment variables understood by the fake toolchain.
const (
	EnvCount = "FAKECC_COUNT"
	EnvDelay = "FAKECC_DELAY"
)

const script = `#!/bin/sh
out=""
src=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    *) src="$1"; shift ;;
  esac
done
if [ -n "$FAKECC_COUNT" ]; then
  echo "$src" >> "$FAKECC_COUNT"
fi
if grep -q SYNTAX_ERROR "$src"; then
  echo "fragment.go: syntax error: $(grep SYNTAX_ERROR "$src" | head -n 1)"
  exit 2
fi
if [ -n "$FAKECC_DELAY" ]; then
  head -c 16 "$src" > "$out"
  sleep "$FAKECC_DELAY"
fi
cat "$src" > "$out"
echo "CGO_LDFLAGS=$CGO_LDFLAGS" >> "$out"
`

// Toolchain is a fake compiler installed in a temp directory.
type Toolchain struct {
	Program   string
	CountFile string
}

// Install writes the fake toolchain and returns it.
func Install(t testing.TB) *Toolchain {
	t.Helper()
	dir := t.TempDir()
	program := filepath.Join(dir, "fakecc")
	if err := os.WriteFile(program, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake toolchain: %v", err)
	}
	return &Toolchain{Program: program, CountFile: filepath.Join(dir, "runs.log")}
}

// Env returns the toolchain environment that enables run counting.
func (tc *Toolchain) Env() map[string]string {
	return map[string]string{EnvCount: tc.CountFile}
}

// Runs returns how many times the toolchain has been invoked.
func (tc *Toolchain) Runs(t testing.TB) int {
	t.Helper()
	data, err := os.ReadFile(tc.CountFile)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	return len(strings.Fields(string(data)))
}
