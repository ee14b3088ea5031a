package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mattjoyce/couchgo/internal/log"
	"github.com/mattjoyce/couchgo/pkg/abi"
)

// TransportError reports a failed request or a non-200 reply.
type TransportError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed with error: %d %s", e.Op, e.Status, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Response is a decoded reply. Body holds the decoded JSON, or the raw text
// when the reply is not JSON.
type Response struct {
	Status  int
	Message string
	Headers http.Header
	Body    any
}

// Client talks to the local CouchDB node. Requests have no timeout.
type Client struct {
	http   *retryablehttp.Client
	base   string
	logger *slog.Logger
}

// New returns a client for http://127.0.0.1:<port>.
func New(port, retries int) *Client {
	return NewWithBaseURL(fmt.Sprintf("http://127.0.0.1:%d", port), retries)
}

// NewWithBaseURL returns a client for baseURL.
func NewWithBaseURL(baseURL string, retries int) *Client {
	logger := log.WithComponent("couch")

	hc := retryablehttp.NewClient()
	hc.RetryMax = retries
	hc.HTTPClient.Timeout = 0
	hc.Logger = logger
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http:   hc,
		base:   strings.TrimRight(baseURL, "/"),
		logger: logger,
	}
}

// Request sends body as JSON (POST) or, when body is nil, issues a GET.
func (c *Client) Request(ctx context.Context, uri string, body any, headers http.Header) (*Response, error) {
	method := http.MethodGet
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		method = http.MethodPost
		payload = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+uri, bytesOrNil(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// The passthrough handler returns the last reply along with the retry error.
	resp, err := c.http.Do(req)
	if resp == nil {
		if err == nil {
			err = fmt.Errorf("no response")
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &Response{
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode))),
		Headers: resp.Header,
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			out.Body = decoded
		} else {
			out.Body = string(raw)
		}
	}
	c.logger.Debug("couch request", "method", method, "uri", uri, "status", resp.StatusCode)
	return out, nil
}

func bytesOrNil(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

// Lookup fetches the documents for ids from the request's database. The
// result follows the order of ids with nil for missing documents.
func (c *Client) Lookup(ctx context.Context, req abi.Request, ids []abi.Value) ([]abi.Value, error) {
	target := targetOf(req)
	uri := "/" + url.PathEscape(target.db) + "/_all_docs?include_docs=true&conflicts=true"

	rows, err := c.postKeys(ctx, "lookup()", uri, ids, target.headers)
	if err != nil {
		return nil, err
	}
	keys, err := normalize(ids)
	if err != nil {
		return nil, err
	}

	out := make([]abi.Value, 0, len(keys))
	j := 0
	for _, key := range keys {
		if j < len(rows) && sameKey(key, rows[j]["key"]) {
			out = append(out, rows[j]["doc"])
			j++
			continue
		}
		out = append(out, nil)
	}
	if j < len(rows) {
		return nil, unexpectedKey(rows[j]["key"])
	}
	return out, nil
}

// QueryView queries a view of the request's design document, or a full
// "_design/..." path, for exact keys. Each element of the result is the
// array of matching rows (AllRows modes) or the single grouped row
// (GroupRows), nil for keys without rows.
func (c *Client) QueryView(ctx context.Context, req abi.Request, view string, keys []abi.Value, mode abi.QueryMode) ([]abi.Value, error) {
	target := targetOf(req)

	var flags string
	switch mode {
	case abi.AllRowsIncludeDocs:
		flags = "reduce=false&include_docs=true&conflicts=true&"
	case abi.GroupRows:
		flags = "group=true&"
	default:
		flags = "reduce=false&"
	}

	path := view
	if !strings.HasPrefix(view, "_design/") {
		path = "_design/" + url.PathEscape(target.ddoc) + "/_view/" + url.PathEscape(view)
	}
	uri := "/" + url.PathEscape(target.db) + "/" + path + "?" + flags + "stale=update_after"

	rows, err := c.postKeys(ctx, "queryView()", uri, keys, target.headers)
	if err != nil {
		return nil, err
	}
	want, err := normalize(keys)
	if err != nil {
		return nil, err
	}

	out := make([]abi.Value, 0, len(want))
	j := 0
	for _, key := range want {
		if j >= len(rows) || !sameKey(key, rows[j]["key"]) {
			out = append(out, nil)
			continue
		}
		if mode == abi.GroupRows {
			out = append(out, map[string]any(rows[j]))
			j++
			continue
		}
		var group []any
		for j < len(rows) && sameKey(key, rows[j]["key"]) {
			group = append(group, map[string]any(rows[j]))
			j++
		}
		out = append(out, group)
	}
	if j < len(rows) {
		return nil, unexpectedKey(rows[j]["key"])
	}
	return out, nil
}

type row map[string]any

func (c *Client) postKeys(ctx context.Context, op, uri string, keys []abi.Value, headers http.Header) ([]row, error) {
	if keys == nil {
		keys = []abi.Value{}
	}
	resp, err := c.Request(ctx, uri, map[string]any{"keys": keys}, headers)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.Status != http.StatusOK {
		return nil, &TransportError{Op: op, Status: resp.Status, Message: resp.Message}
	}

	body, _ := resp.Body.(map[string]any)
	list, _ := body["rows"].([]any)
	rows := make([]row, 0, len(list))
	for _, r := range list {
		m, _ := r.(map[string]any)
		rows = append(rows, row(m))
	}
	return rows, nil
}

type target struct {
	db      string
	ddoc    string
	headers http.Header
}

// targetOf extracts the database, design document and credentials of the
// request that triggered the render call.
func targetOf(req abi.Request) target {
	var t target
	if info, ok := req["info"].(map[string]any); ok {
		t.db, _ = info["db_name"].(string)
	}
	if path, ok := req["path"].([]any); ok && len(path) > 2 {
		t.ddoc, _ = path[2].(string)
	}
	t.headers = http.Header{}
	if h, ok := req["headers"].(map[string]any); ok {
		for _, name := range []string{"Authorization", "Cookie"} {
			if v, ok := h[name].(string); ok && v != "" {
				t.headers.Set(name, v)
			}
		}
	}
	return t
}

// normalize round-trips keys through JSON so they compare equal to decoded
// response keys.
func normalize(keys []abi.Value) ([]any, error) {
	data, err := json.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("encode keys: %w", err)
	}
	var out []any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode keys: %w", err)
	}
	return out, nil
}

func sameKey(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func unexpectedKey(key any) error {
	data, _ := json.Marshal(key)
	return abi.NewError(abi.KindGeneral, fmt.Sprintf(
		"Unexpected keys in the result: %s. Try \"options\":{\"collation\":\"raw\"} into the view", data))
}
