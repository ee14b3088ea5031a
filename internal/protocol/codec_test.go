package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderReadsCommands(t *testing.T) {
	input := `["reset"]

["add_fun", "code"]
["map_doc", {"_id": "abc"}]`
	r := NewReader(strings.NewReader(input))

	cmd, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, CmdReset, cmd.Name())
	assert.Nil(t, cmd.Arg(0))

	cmd, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, CmdAddFun, cmd.Name())
	assert.Equal(t, "code", cmd.Arg(0))

	cmd, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, CmdMapDoc, cmd.Name())
	assert.Equal(t, map[string]any{"_id": "abc"}, cmd.Arg(0))
	assert.Nil(t, cmd.Arg(1))

	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderMalformedLineIsRecoverable(t *testing.T) {
	r := NewReader(strings.NewReader("{\"not\": \"an array\"}\n[\"reset\"]\n"))

	_, err := r.Read()
	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr), "expected DecodeError, got %v", err)

	cmd, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, CmdReset, cmd.Name())
}

func TestReaderLongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	r := NewReader(strings.NewReader(`["add_fun", "` + long + "\"]\n"))

	cmd, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, long, cmd.Arg(0))
}

func TestCommandNameNonString(t *testing.T) {
	assert.Equal(t, "", Command{}.Name())
	assert.Equal(t, "", Command{float64(1)}.Name())
}

func TestWriterFrames(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Write(true))
	require.NoError(t, w.Write(ErrorFrame("compile_error", "a <b> & c")))
	w.Log("hello")

	assert.Equal(t,
		"true\n"+
			`["error","compile_error","a <b> & c"]`+"\n"+
			`["log","(couchgo) hello"]`+"\n",
		buf.String())
}

func TestWriterSerializesConcurrentLogs(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				w.Log(strings.Repeat("y", 512))
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 16*50)
	want := `["log","(couchgo) ` + strings.Repeat("y", 512) + `"]`
	for _, l := range lines {
		assert.Equal(t, want, l)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriterReportsStreamFailure(t *testing.T) {
	w := NewWriter(failingWriter{})
	err := w.Write([]any{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}
