package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/couchgo/pkg/abi"
)

// controller replays input lines and records the interleaving of frame
// writes and line reads.
type controller struct {
	input  [][]any
	events []string
	frames [][]any
}

func (c *controller) drive(t *testing.T, call *ListCall) Step {
	t.Helper()
	step := call.Begin()
	for !step.Done {
		c.frames = append(c.frames, step.Frame)
		c.events = append(c.events, "write:"+step.Frame[0].(string))
		require.NotEmpty(t, c.input, "list asked for more rows than provided")
		line := c.input[0]
		c.input = c.input[1:]
		c.events = append(c.events, "read:"+line[0].(string))
		if line[0] == "list_row" {
			row, _ := line[1].(map[string]any)
			step = call.Resume(abi.ListRow(row), true)
		} else {
			step = call.Resume(nil, false)
		}
	}
	return step
}

func TestListRowOrdering(t *testing.T) {
	rowA := map[string]any{"key": "a"}
	rowB := map[string]any{"key": "b"}
	rowC := map[string]any{"key": "c"}

	var got []abi.ListRow
	call := NewListCall(nil, nil, func(r abi.Renderer) error {
		r.Send("head;")
		for {
			row, ok := r.GetRow()
			got = append(got, row)
			if !ok {
				break
			}
			r.Send(row.Key().(string))
		}
		r.Send(";tail")
		return nil
	})

	c := &controller{input: [][]any{
		{"list_row", rowA},
		{"list_row", rowB},
		{"list_row", rowC},
		{"list_done"},
	}}
	step := c.drive(t, call)

	require.NoError(t, step.Err)
	assert.Equal(t, []abi.ListRow{rowA, rowB, rowC, nil}, got)
	assert.Equal(t, []string{
		"write:start", "read:list_row",
		"write:chunks", "read:list_row",
		"write:chunks", "read:list_row",
		"write:chunks", "read:list_done",
	}, c.events)
	assert.Equal(t, []any{"start", []any{"head;"}, map[string]any{}}, c.frames[0])
	assert.Equal(t, []any{"chunks", []any{"a"}}, c.frames[1])
	assert.Equal(t, []any{"chunks", []any{"c"}}, c.frames[3])
	assert.Equal(t, []any{"end", []any{";tail"}}, step.End)
}

func TestListImplicitStartFrame(t *testing.T) {
	call := NewListCall(nil, nil, func(r abi.Renderer) error {
		r.Start(map[string]any{"headers": map[string]any{"Content-Type": "text/plain"}})
		return nil
	})

	c := &controller{input: [][]any{{"list_end"}}}
	step := c.drive(t, call)

	require.NoError(t, step.Err)
	require.Len(t, c.frames, 1)
	assert.Equal(t, []any{
		"start",
		[]any{""},
		map[string]any{"headers": map[string]any{"Content-Type": "text/plain"}},
	}, c.frames[0])
	assert.Equal(t, []any{"end", []any{}}, step.End)
}

func TestListStartIgnoredAfterFirstRow(t *testing.T) {
	call := NewListCall(nil, nil, func(r abi.Renderer) error {
		r.GetRow()
		r.Start(map[string]any{"code": 500})
		r.Send("x")
		return nil
	})

	c := &controller{input: [][]any{{"list_row", map[string]any{}}}}
	step := c.drive(t, call)

	require.NoError(t, step.Err)
	assert.Equal(t, map[string]any{}, c.frames[0][2])
	assert.Equal(t, map[string]any{}, call.Meta())
	assert.Equal(t, []any{"end", []any{"x"}}, step.End)
}

func TestListRowsEndOnce(t *testing.T) {
	calls := 0
	call := NewListCall(nil, nil, func(r abi.Renderer) error {
		for i := 0; i < 3; i++ {
			if _, ok := r.GetRow(); !ok {
				calls++
			}
		}
		return nil
	})

	c := &controller{input: [][]any{{"list_end"}}}
	step := c.drive(t, call)
	require.NoError(t, step.Err)
	assert.Equal(t, 3, calls)
	assert.Len(t, c.frames, 1, "no frames after the rows ended")
}

func TestListErrorAndPanic(t *testing.T) {
	call := NewListCall(nil, nil, func(abi.Renderer) error {
		return abi.ForbiddenError("nope")
	})
	step := (&controller{input: [][]any{{"x"}}}).drive(t, call)
	var aerr *abi.Error
	require.ErrorAs(t, step.Err, &aerr)
	assert.Equal(t, abi.KindForbidden, aerr.Kind)

	call = NewListCall(nil, nil, func(r abi.Renderer) error {
		r.GetRow()
		panic("kaboom")
	})
	step = (&controller{input: [][]any{{"list_row", map[string]any{}}}}).drive(t, call)
	require.ErrorAs(t, step.Err, &aerr)
	assert.Equal(t, abi.KindGeneral, aerr.Kind)
	assert.Contains(t, aerr.Message, "kaboom")
}

func TestListAbort(t *testing.T) {
	rows := 0
	call := NewListCall(nil, nil, func(r abi.Renderer) error {
		for {
			if _, ok := r.GetRow(); !ok {
				return nil
			}
			rows++
		}
	})

	step := call.Begin()
	require.False(t, step.Done)
	step = call.Abort(step)
	assert.True(t, step.Done)
	assert.Equal(t, 0, rows)
}
