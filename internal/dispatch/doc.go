// Package dispatch runs the query server protocol loop.
//
// The server reads one command per line from CouchDB, runs it against the
// compiled fragments and writes exactly one response line before reading the
// next command. The only exception is the list sub-protocol, where a single
// ddoc command performs nested frame/row round-trips.
//
// Commands:
//   - reset: drop registered map functions, sweep loaded modules if the GC
//     cooldown has passed, remove the staging directory
//   - add_lib: replace the shared library tree used by later compiles
//   - add_fun: compile, load and register a map function
//   - map_doc: run every registered map function over one document
//   - reduce / rereduce: run reduce functions over rows or values
//   - ddoc new: store (and optionally precompile) a design document
//   - ddoc <id> <path> <args>: run shows, lists, updates, filters, views
//     filters or validate_doc_update from a stored design document
//
// Error handling:
//   - Compile, load, plugin and protocol errors become ["error", kind, msg]
//     and the loop continues
//   - Panics in plugin code are recovered and reported as general_error
//   - A failure of the input or output stream ends Serve after one final
//     error frame is attempted
package dispatch
