package render

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/couchgo/pkg/abi"
)

func TestResponseObject(t *testing.T) {
	r := NewResponse(nil, nil)
	r.Start(map[string]any{"code": 201})
	r.Send("hello ")
	r.Send("world")
	r.Start(map[string]any{"code": 500})

	assert.Equal(t, map[string]any{"code": 201, "body": "hello world"}, r.Object())
	assert.Equal(t, map[string]any{"code": 201}, r.Meta())
}

func TestResponseDefaults(t *testing.T) {
	r := NewResponse(nil, nil)
	assert.Equal(t, map[string]any{"body": ""}, r.Object())

	row, ok := r.GetRow()
	assert.Nil(t, row)
	assert.False(t, ok)

	_, err := r.Lookup([]abi.Value{"a"})
	assert.Error(t, err)
}

type stubFetcher struct {
	req  abi.Request
	ids  []abi.Value
	view string
	mode abi.QueryMode
}

func (s *stubFetcher) Lookup(_ context.Context, req abi.Request, ids []abi.Value) ([]abi.Value, error) {
	s.req, s.ids = req, ids
	return []abi.Value{"doc"}, nil
}

func (s *stubFetcher) QueryView(_ context.Context, req abi.Request, view string, keys []abi.Value, mode abi.QueryMode) ([]abi.Value, error) {
	s.req, s.view, s.mode = req, view, mode
	return keys, nil
}

func TestResponseDelegatesToFetcher(t *testing.T) {
	f := &stubFetcher{}
	req := abi.Request{"info": map[string]any{"db_name": "db"}}
	r := NewResponse(req, f)

	docs, err := r.Lookup([]abi.Value{"a"})
	require.NoError(t, err)
	assert.Equal(t, []abi.Value{"doc"}, docs)
	assert.Equal(t, req, f.req)

	_, err = r.QueryView("by_type", []abi.Value{"k"}, abi.GroupRows)
	require.NoError(t, err)
	assert.Equal(t, "by_type", f.view)
	assert.Equal(t, abi.GroupRows, f.mode)
}

func TestEmitters(t *testing.T) {
	rows := &Rows{}
	assert.Equal(t, []any{}, rows.Rows())
	rows.Emit("k", 1)
	rows.Emit(nil, nil)
	assert.Equal(t, []any{[]any{"k", 1}, []any{nil, nil}}, rows.Rows())
	rows.Reset()
	assert.Empty(t, rows.Rows())

	flag := &Flag{}
	assert.False(t, flag.Set)
	flag.Emit(nil, nil)
	assert.True(t, flag.Set)
}

func TestTextBufferChunks(t *testing.T) {
	var b TextBuffer
	assert.Equal(t, []any{}, b.Chunks(false))
	assert.Equal(t, []any{""}, b.Chunks(true))
	b.Write("a")
	b.Write("")
	b.Write("b")
	assert.Equal(t, []any{"ab"}, b.Chunks(false))
	assert.Equal(t, 2, b.Len())
	b.Reset()
	assert.Equal(t, "", b.String())
}
