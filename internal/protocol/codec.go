package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Reader decodes newline-delimited JSON commands.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r. Lines may be arbitrarily long.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Read returns the next command. It returns io.EOF at the end of input, a
// *DecodeError for a line that is not a JSON array, and any other error when
// the stream itself failed. Blank lines are skipped.
func (r *Reader) Read() (Command, error) {
	for {
		line, err := r.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read command: %w", err)
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			if err != nil {
				return nil, io.EOF
			}
			continue
		}

		var cmd Command
		if uerr := json.Unmarshal(trimmed, &cmd); uerr != nil {
			return nil, &DecodeError{Line: trimmed, Err: uerr}
		}
		return cmd, nil
	}
}

// Writer encodes frames one per line. It is safe for concurrent use; each
// frame is written with a single call so lines never interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write serializes v and writes it followed by a newline.
func (w *Writer) Write(v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if f, ok := w.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush frame: %w", err)
		}
	}
	return nil
}

// Log writes a ["log", text] side-channel frame. Errors are dropped; a broken
// output stream is reported by the next response write.
func (w *Writer) Log(msg string) {
	_ = w.Write([]any{TagLog, LogPrefix + msg})
}
