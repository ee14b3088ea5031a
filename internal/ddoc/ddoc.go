package ddoc

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Function categories of a design document.
const (
	Views    = "views"
	Shows    = "shows"
	Lists    = "lists"
	Updates  = "updates"
	Filters  = "filters"
	Validate = "validate_doc_update"
)

// LibKey is the entry under views holding the shared library tree.
const LibKey = "lib"

var (
	// ErrUnknownDocument is returned for an id that was never registered.
	ErrUnknownDocument = errors.New("unknown design document")
	// ErrFunctionNotFound is returned when a path does not lead to a function.
	ErrFunctionNotFound = errors.New("required function not exists")
)

// Fragment is one function source found in a design document.
type Fragment struct {
	Category string
	Name     string
	Code     string
}

// Document is a registered design document.
type Document struct {
	ID   string
	Body map[string]any
}

// New returns a document wrapping body.
func New(id string, body map[string]any) *Document {
	return &Document{ID: id, Body: body}
}

// Lib returns the shared library tree (views.lib), nil if absent.
func (d *Document) Lib() map[string]any {
	views, _ := d.Body[Views].(map[string]any)
	lib, _ := views[LibKey].(map[string]any)
	return lib
}

// Fragments returns every distinct non-empty function source: validate,
// lists, shows, updates, filters, then each view's map and reduce.
func (d *Document) Fragments() []Fragment {
	var out []Fragment
	seen := make(map[string]bool)
	add := func(category, name string, v any) {
		code, _ := v.(string)
		if code == "" || seen[code] {
			return
		}
		seen[code] = true
		out = append(out, Fragment{Category: category, Name: name, Code: code})
	}

	add(Validate, Validate, d.Body[Validate])
	for _, category := range []string{Lists, Shows, Updates, Filters} {
		bucket, _ := d.Body[category].(map[string]any)
		for _, name := range sortedKeys(bucket) {
			add(category, name, bucket[name])
		}
	}

	views, _ := d.Body[Views].(map[string]any)
	for _, name := range sortedKeys(views) {
		if name == LibKey {
			continue
		}
		view, _ := views[name].(map[string]any)
		add(Views, name+".map", view["map"])
		add(Views, name+".reduce", view["reduce"])
	}
	return out
}

// Function walks path through the document and returns the function source
// at its end. The first element is the category.
func (d *Document) Function(path []string) (string, error) {
	if len(path) == 0 {
		return "", ErrFunctionNotFound
	}
	var cur any = d.Body
	for _, elem := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", ErrFunctionNotFound
		}
		cur, ok = obj[elem]
		if !ok || cur == nil {
			return "", ErrFunctionNotFound
		}
	}
	code, ok := cur.(string)
	if !ok {
		return "", fmt.Errorf("%w: %v is not a function", ErrFunctionNotFound, path)
	}
	return code, nil
}

// Registry holds design documents by id.
type Registry struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{docs: make(map[string]*Document)}
}

// Put stores doc, replacing any document with the same id.
func (r *Registry) Put(doc *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
}

// Get returns the document registered under id.
func (r *Registry) Get(id string) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrUnknownDocument
	}
	return doc, nil
}

// Len returns the number of registered documents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
