package rustmcp

import (
	"context"
	"encoding/json"
	"iter"
)

// ServerTransport provides the server-side communication layer. A transport
// is responsible for framing only: it yields raw JSON frames and writes raw
// JSON frames, and never inspects their content. Decoding, dialect
// classification and routing belong to the Server, so a malformed frame can
// still be answered with a parse-error response.
type ServerTransport interface {
	// Sessions returns an iterator that yields new client sessions as they
	// are initiated. Each yielded Session represents a unique client
	// connection. The implementation must guarantee that each session ID is
	// unique across all active connections, and should exit the iteration
	// when Shutdown is called.
	Sessions() iter.Seq[Session]

	// Shutdown gracefully shuts down the transport to clean up resources.
	// The implementation should not close the sessions it produced; the
	// caller does that. The caller is guaranteed to call this method only
	// once.
	Shutdown(ctx context.Context) error
}

// Session represents one client connection carrying raw JSON frames.
type Session interface {
	// ID returns the unique identifier for this session.
	ID() string

	// Send writes one frame to this connection only. Responses are never
	// fanned out to other connections.
	Send(ctx context.Context, frame json.RawMessage) error

	// Messages returns an iterator that yields inbound frames. The
	// iteration ends when the connection closes or the session is stopped.
	Messages() iter.Seq[json.RawMessage]

	// Stop stops the session. The caller is guaranteed to call this method
	// once; implementations should not call it themselves.
	Stop()
}
