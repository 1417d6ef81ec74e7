// Package rustmcp implements the protocol layer of a Rust code-analysis
// server. It routes JSON messages arriving over a byte stream, a WebSocket,
// or an SSE connection through a single dispatcher that understands two
// coexisting envelope dialects, validates tool invocations against their
// declared schemas, and hands the actual analysis work to out-of-process
// tooling.
package rustmcp
