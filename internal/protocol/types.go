package protocol

import "fmt"

// Command names sent by CouchDB.
const (
	CmdReset    = "reset"
	CmdAddLib   = "add_lib"
	CmdAddFun   = "add_fun"
	CmdMapDoc   = "map_doc"
	CmdReduce   = "reduce"
	CmdRereduce = "rereduce"
	CmdDDoc     = "ddoc"
	CmdListRow  = "list_row"
)

// Frame tags written by the server.
const (
	TagLog    = "log"
	TagError  = "error"
	TagResp   = "resp"
	TagUp     = "up"
	TagStart  = "start"
	TagChunks = "chunks"
	TagEnd    = "end"
)

// LogPrefix is prepended to every log side-channel line.
const LogPrefix = "(couchgo) "

// Command is one request line: [name, args...].
type Command []any

// Name returns the command tag, "" if the first element is not a string.
func (c Command) Name() string {
	if len(c) == 0 {
		return ""
	}
	s, _ := c[0].(string)
	return s
}

// Arg returns the i-th argument (0 is the first element after the name), nil
// when absent.
func (c Command) Arg(i int) any {
	if i+1 >= len(c) {
		return nil
	}
	return c[i+1]
}

// ErrorFrame builds ["error", kind, message].
func ErrorFrame(kind, msg string) []any {
	return []any{TagError, kind, msg}
}

// DecodeError reports a request line that is not a JSON array. It does not
// break the stream; the server answers it with an error frame.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed request line: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
