// Package lowlevel implements the client-side SFTP wire-protocol engine:
// a concurrent multiplexor that serializes many in-process callers'
// requests onto a single full-duplex byte-stream pair (typically the
// stdin/stdout of a spawned ssh -s sftp subprocess) and dispatches the
// server's responses back to the caller that issued the matching request.
//
// It does not know how to spawn the remote process, does not retry failed
// requests, and does not interpret response payloads beyond the shape the
// wire framing already tells it (header / bulk data / extended reply).
// Those concerns, along with the byte-level encoding of individual
// request and response payloads, live in the sibling protocol package and
// in callers built on top of this one.
package lowlevel
