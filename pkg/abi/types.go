package abi

import (
	"fmt"
	"net/url"
	"strings"
)

// Value is any decoded JSON value.
type Value = any

// Request is the CouchDB request object passed to render functions.
type Request map[string]any

// Document is a JSON document.
type Document map[string]any

// AsDocument converts a decoded JSON value to a Document. Non-objects yield nil.
func AsDocument(v Value) Document {
	switch d := v.(type) {
	case Document:
		return d
	case map[string]any:
		return Document(d)
	}
	return nil
}

// ID returns the document id, or "" if absent.
func (d Document) ID() string {
	s, _ := d["_id"].(string)
	return s
}

// DocType returns the id prefix before sep ("user" for "user.123"), or "" if
// the id has no separator. An empty sep means ".".
func (d Document) DocType(sep string) string {
	if sep == "" {
		sep = "."
	}
	id := d.ID()
	i := strings.Index(id, sep)
	if i < 0 {
		return ""
	}
	return id[:i]
}

// Replace returns a shallow copy of d with key set to val. A nil val removes
// the key.
func (d Document) Replace(key string, val Value) Document {
	out := make(Document, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	if val == nil {
		delete(out, key)
	} else {
		out[key] = val
	}
	return out
}

// Attachments returns the _attachments object.
func (d Document) Attachments() map[string]any {
	a, _ := d["_attachments"].(map[string]any)
	return a
}

// Attachment returns the metadata for a single attachment.
func (d Document) Attachment(name string) Value {
	return d.Attachments()[name]
}

// SetAttachment returns a copy of d with the attachment replaced. A nil data
// deletes the attachment.
func (d Document) SetAttachment(name string, data Value) Document {
	atts := make(map[string]any)
	for k, v := range d.Attachments() {
		atts[k] = v
	}
	if data == nil {
		delete(atts, name)
	} else {
		atts[name] = data
	}
	return d.Replace("_attachments", atts)
}

// AttachmentURI returns the URI of an attachment relative to the server root.
// userCtx is either the request object or the user context; both carry "db".
func (d Document) AttachmentURI(name string, userCtx Value) (string, error) {
	ctx, _ := userCtx.(map[string]any)
	if ctx == nil {
		if r, ok := userCtx.(Request); ok {
			ctx = r
		}
	}
	db, ok := ctx["db"].(string)
	if !ok {
		if uc, _ := ctx["userCtx"].(map[string]any); uc != nil {
			db, ok = uc["db"].(string)
		}
	}
	if !ok {
		return "", fmt.Errorf("attachment uri: user context carries no db")
	}
	return db + "/" + url.PathEscape(d.ID()) + "/" + url.PathEscape(name), nil
}

// NoChange left in a DocRef means the update function does not write.
var NoChange Document

// DocRef is the document handed to Update. The host writes the document back
// only if the update function replaced it.
type DocRef struct {
	doc      Document
	replaced Document
	changed  bool
}

// NewDocRef wraps the current document (nil for a new one).
func NewDocRef(doc Document) *DocRef {
	return &DocRef{doc: doc}
}

// Doc returns the current document as seen by the update function. The map
// is shared with the caller: editing it in place does not schedule a write,
// only Replace does.
func (r *DocRef) Doc() Document {
	if r.changed {
		return r.replaced
	}
	return r.doc
}

// Replace sets the document to store. Replace(NoChange) cancels the write.
func (r *DocRef) Replace(doc Document) {
	if doc == nil {
		r.replaced, r.changed = nil, false
		return
	}
	r.replaced, r.changed = doc, true
}

// Result returns the replacement document and whether there is one.
func (r *DocRef) Result() (Document, bool) {
	return r.replaced, r.changed
}

// Row is one row of a reduce RowSet.
type Row struct {
	Key   Value
	Value Value
	DocID string
}

// RowSet holds the rows passed to Reduce.
type RowSet []Row

// NewRowSet parses the wire form [[[key, id], value], ...].
func NewRowSet(raw []any) RowSet {
	rows := make(RowSet, 0, len(raw))
	for _, r := range raw {
		pair, _ := r.([]any)
		var row Row
		if len(pair) > 0 {
			if kid, ok := pair[0].([]any); ok {
				if len(kid) > 0 {
					row.Key = kid[0]
				}
				if len(kid) > 1 {
					row.DocID, _ = kid[1].(string)
				}
			}
		}
		if len(pair) > 1 {
			row.Value = pair[1]
		}
		rows = append(rows, row)
	}
	return rows
}

// Values returns the value column.
func (rs RowSet) Values() []Value {
	out := make([]Value, len(rs))
	for i, r := range rs {
		out[i] = r.Value
	}
	return out
}

// ListRow is a row received by List through GetRow.
type ListRow map[string]any

func (r ListRow) Key() Value   { return r["key"] }
func (r ListRow) Value() Value { return r["value"] }
func (r ListRow) ID() Value    { return r["id"] }

// Doc returns the included document, nil if the view was not queried with
// include_docs.
func (r ListRow) Doc() Document { return AsDocument(r["doc"]) }

// Context is the validation context.
type Context struct {
	// PrevDoc is nil for a new document.
	PrevDoc  Document
	User     Value
	Security Value
}

// Decree is a validation outcome.
type Decree int

const (
	Accepted Decree = iota
	Rejected
	Forbidden
	Unauthorized
)

func (d Decree) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Forbidden:
		return "forbidden"
	case Unauthorized:
		return "unauthorized"
	}
	return fmt.Sprintf("decree(%d)", int(d))
}

// ValidationResult is returned by Validate.
type ValidationResult struct {
	Decree      Decree
	Description string
}

// Accept accepts the update.
func Accept() ValidationResult { return ValidationResult{Decree: Accepted} }

// Reject rejects the update with a description.
func Reject(desc string) ValidationResult {
	return ValidationResult{Decree: Rejected, Description: desc}
}

// Forbid refuses the update as forbidden.
func Forbid(desc string) ValidationResult {
	return ValidationResult{Decree: Forbidden, Description: desc}
}

// Deny refuses the update as unauthorized.
func Deny(desc string) ValidationResult {
	return ValidationResult{Decree: Unauthorized, Description: desc}
}

// Verdict maps a boolean to Accept or Reject.
func Verdict(ok bool, desc string) ValidationResult {
	if ok {
		return Accept()
	}
	return Reject(desc)
}
