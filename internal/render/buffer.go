package render

import "strings"

// TextBuffer accumulates response text between frames.
type TextBuffer struct {
	parts []string
}

// Write appends s.
func (b *TextBuffer) Write(s string) {
	if s != "" {
		b.parts = append(b.parts, s)
	}
}

// String returns the buffered text.
func (b *TextBuffer) String() string {
	return strings.Join(b.parts, "")
}

// Len returns the number of buffered bytes.
func (b *TextBuffer) Len() int {
	n := 0
	for _, p := range b.parts {
		n += len(p)
	}
	return n
}

// Chunks returns the buffered text as a frame payload: empty when nothing
// is buffered, otherwise a single string. With always set, an empty buffer
// yields one empty string.
func (b *TextBuffer) Chunks(always bool) []any {
	if len(b.parts) == 0 && !always {
		return []any{}
	}
	return []any{b.String()}
}

// Reset empties the buffer.
func (b *TextBuffer) Reset() {
	b.parts = b.parts[:0]
}
