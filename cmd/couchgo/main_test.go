package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/couchgo/internal/compiler/compilertest"
	"github.com/mattjoyce/couchgo/pkg/abi"
)

const fragmentSource = `func (h *Handler) MapDoc(doc Document) error {
	h.Emit(doc.ID(), nil)
	return nil
}
`

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runWith(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := runCLI(args, strings.NewReader(stdin), &stdout, &stderr)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// writeConfig writes a configuration using the fake toolchain and returns
// its path together with the cache directory.
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	tc := compilertest.Install(t)
	dir := t.TempDir()
	cfg := fmt.Sprintf(`cache: ./cache
compiler:
  program: %s
  env:
    %s: %s
log:
  level: error
%s`, tc.Program, compilertest.EnvCount, tc.CountFile, extra)
	path := filepath.Join(dir, "couchgo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, filepath.Join(dir, "cache")
}

func writeFragment(t *testing.T, name, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(code), 0o644))
	return path
}

func TestVersionJSON(t *testing.T) {
	res := runWith(t, "", "version", "--json")
	require.Equal(t, 0, res.code, res.stderr)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &info))
	assert.Equal(t, version, info.Version)
	assert.Equal(t, abi.InterfaceVersion, info.InterfaceVersion)
}

func TestMissingConfig(t *testing.T) {
	res := runWith(t, "", "-f", filepath.Join(t.TempDir(), "nope.yaml"), "doctor")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "config file not found")
}

func TestCompileReportsDiagnostics(t *testing.T) {
	cfgPath, cache := writeConfig(t, "")

	ok := runWith(t, "", "-f", cfgPath, "compile", writeFragment(t, "ok.go", fragmentSource))
	assert.Equal(t, 0, ok.code, ok.stderr)
	assert.Contains(t, ok.stderr, "compile: ")

	bad := runWith(t, "", "-f", cfgPath, "compile", writeFragment(t, "bad.go", "func x() { "+compilertest.Marker+" }\n"))
	assert.Equal(t, 1, bad.code)
	assert.Contains(t, bad.stderr, "syntax error")

	matches, err := filepath.Glob(filepath.Join(cache, "mod_*.so"))
	require.NoError(t, err)
	assert.Empty(t, matches, "compile must not publish artifacts")
}

func TestPopulateListVerifyClear(t *testing.T) {
	cfgPath, cache := writeConfig(t, "")
	a := writeFragment(t, "a.go", fragmentSource)
	b := writeFragment(t, "b.go", "// second\n"+fragmentSource)

	res := runWith(t, "", "-f", cfgPath, "populate", a, b)
	require.Equal(t, 0, res.code, res.stderr)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 2)

	res = runWith(t, "", "-f", cfgPath, "cache", "list", "--json")
	require.Equal(t, 0, res.code, res.stderr)
	var entries []entryJSON
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &entries))
	assert.Len(t, entries, 2)

	res = runWith(t, "", "-f", cfgPath, "cache", "verify")
	assert.Equal(t, 0, res.code, res.stdout)
	assert.Contains(t, res.stdout, "All artifacts verified")

	require.NoError(t, os.WriteFile(entries[0].Path, []byte("tampered"), 0o644))
	res = runWith(t, "", "-f", cfgPath, "cache", "verify")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "digest mismatch")

	res = runWith(t, "", "-f", cfgPath, "cache", "clear")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Removed 2 file(s)")
	matches, err := filepath.Glob(filepath.Join(cache, "mod_*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestPopulateWithoutFiles(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	res := runWith(t, "", "-f", cfgPath, "populate")
	assert.Equal(t, 0, res.code)
	assert.Contains(t, res.stderr, "Nothing to populate")
}

func TestCacheOverride(t *testing.T) {
	cfgPath, cache := writeConfig(t, "")
	override := filepath.Join(t.TempDir(), "elsewhere")

	res := runWith(t, "", "-f", cfgPath, "-o", override, "populate", writeFragment(t, "a.go", fragmentSource))
	require.Equal(t, 0, res.code, res.stderr)

	matches, err := filepath.Glob(filepath.Join(override, "mod_*.so"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	_, err = os.Stat(cache)
	assert.True(t, os.IsNotExist(err))
}

func TestServeAnswersProtocol(t *testing.T) {
	cfgPath, _ := writeConfig(t, "catalog:\n  enabled: false\n")
	input := strings.Join([]string{
		`["reset"]`,
		`["shutdown"]`,
		`["add_fun",` + mustJSON(t, fragmentSource) + `]`,
		`["map_doc",{"_id":"a"}]`,
	}, "\n") + "\n"

	res := runWith(t, input, "-f", cfgPath)
	require.Equal(t, 0, res.code, res.stderr)

	var frames [][]byte
	for _, line := range strings.Split(strings.TrimSpace(res.stdout), "\n") {
		frames = append(frames, []byte(line))
	}
	responses := withoutLogFrames(t, frames)
	require.Len(t, responses, 4)
	assert.Equal(t, "true", responses[0])
	assert.JSONEq(t, `["error","unsupported","Operation is not supported by this query server"]`, responses[1])

	// The fake toolchain does not produce a loadable plugin.
	var loadErr []any
	require.NoError(t, json.Unmarshal([]byte(responses[2]), &loadErr))
	assert.Equal(t, "error", loadErr[0])
	assert.Equal(t, "load_error", loadErr[1])
	assert.Equal(t, "[]", responses[3])
}

func TestServeLogsCompileCommandOnSideChannel(t *testing.T) {
	cfgPath, _ := writeConfig(t, "catalog:\n  enabled: false\n")
	input := `["add_fun",` + mustJSON(t, fragmentSource) + `]` + "\n"

	res := runWith(t, input, "-f", cfgPath, "serve")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, `["log","(couchgo) compile: `)
}

func TestFetchPrintsResponse(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/_all_dbs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`["alpha","beta"]`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	cfgPath, _ := writeConfig(t, "port: "+u.Port()+"\n")
	res := runWith(t, "", "-f", cfgPath, "fetch", "/_all_dbs")
	require.Equal(t, 0, res.code, res.stderr)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.EqualValues(t, 200, out["status"])
	assert.Equal(t, []any{"alpha", "beta"}, out["body"])
}

func TestDoctor(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	res := runWith(t, "", "-f", cfgPath, "doctor", "--json")
	require.Equal(t, 0, res.code, res.stdout)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, true, out["valid"])
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func withoutLogFrames(t *testing.T, lines [][]byte) []string {
	t.Helper()
	var out []string
	for _, line := range lines {
		var frame []any
		if json.Unmarshal(line, &frame) == nil && len(frame) > 0 && frame[0] == "log" {
			continue
		}
		out = append(out, string(line))
	}
	return out
}
