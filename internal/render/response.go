package render

import (
	"context"

	"github.com/mattjoyce/couchgo/pkg/abi"
)

// Fetcher resolves documents and view rows on behalf of render functions.
type Fetcher interface {
	Lookup(ctx context.Context, req abi.Request, ids []abi.Value) ([]abi.Value, error)
	QueryView(ctx context.Context, req abi.Request, view string, keys []abi.Value, mode abi.QueryMode) ([]abi.Value, error)
}

// Response is the renderer of show and update functions.
type Response struct {
	buf     TextBuffer
	meta    map[string]any
	locked  bool
	req     abi.Request
	fetcher Fetcher
}

var _ abi.Renderer = (*Response)(nil)

// NewResponse returns a renderer for a call carrying req. fetcher may be nil.
func NewResponse(req abi.Request, fetcher Fetcher) *Response {
	return &Response{meta: map[string]any{}, req: req, fetcher: fetcher}
}

// Start implements abi.Renderer.
func (r *Response) Start(meta map[string]any) {
	if r.locked {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	r.meta = meta
}

// Send implements abi.Renderer.
func (r *Response) Send(text string) {
	r.locked = true
	r.buf.Write(text)
}

// GetRow implements abi.Renderer. Shows and updates have no rows.
func (r *Response) GetRow() (abi.ListRow, bool) {
	r.locked = true
	return nil, false
}

// Lookup implements abi.Renderer.
func (r *Response) Lookup(ids []abi.Value) ([]abi.Value, error) {
	if r.fetcher == nil {
		return nil, abi.NewError(abi.KindGeneral, "document lookup is not available")
	}
	return r.fetcher.Lookup(context.Background(), r.req, ids)
}

// QueryView implements abi.Renderer.
func (r *Response) QueryView(view string, keys []abi.Value, mode abi.QueryMode) ([]abi.Value, error) {
	if r.fetcher == nil {
		return nil, abi.NewError(abi.KindGeneral, "view queries are not available")
	}
	return r.fetcher.QueryView(context.Background(), r.req, view, keys, mode)
}

// Meta returns the response metadata.
func (r *Response) Meta() map[string]any {
	return r.meta
}

// Object returns a copy of the metadata with the buffered text as "body".
func (r *Response) Object() map[string]any {
	out := make(map[string]any, len(r.meta)+1)
	for k, v := range r.meta {
		out[k] = v
	}
	out["body"] = r.buf.String()
	return out
}
