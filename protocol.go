package rustmcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Dialect identifies which wire envelope a message arrived in. It is decided
// once, when the raw frame is decoded, and carried through to response
// encoding so a reply always uses the shape of the request that triggered it.
type Dialect int

const (
	// DialectRPC is the {version, id, method|result|error} envelope.
	DialectRPC Dialect = iota
	// DialectLegacy is the {type, data} envelope.
	DialectLegacy
)

const (
	// ProtocolVersion is the version tag carried by every RPC-shape message.
	ProtocolVersion = "2.0"

	// MethodInitialize returns the server and capability summary.
	MethodInitialize = "initialize"
	// MethodPing answers with an empty result, for liveness checks.
	MethodPing = "ping"
	// MethodToolsList lists the registered tools and their input schemas.
	MethodToolsList = "tools/list"
	// MethodToolsCall invokes a registered tool by name.
	MethodToolsCall = "tools/call"
	// MethodResourcesList lists the registered resources.
	MethodResourcesList = "resources/list"
)

// Standard JSON-RPC error codes surfaced by the dispatcher.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// LegacyTypeError is the type tag of legacy-shape error responses.
const LegacyTypeError = "error"

// legacyResultSuffix is appended to the request type to form the type tag of
// a legacy-shape success response, so clients can correlate by type even
// though the legacy dialect carries no id.
const legacyResultSuffix = ".result"

var (
	errInvalidJSON    = errors.New("invalid json")
	errUnknownDialect = errors.New("unknown message dialect")

	jsonNull = json.RawMessage("null")
)

// RPCMessage is the RPC-shape wire envelope. A request populates ID, Method
// and Params; a response populates ID and either Result or Error. The ID is
// kept as raw JSON so numeric and string ids round-trip byte-for-byte.
type RPCMessage struct {
	Version string          `json:"version"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// LegacyMessage is the legacy-shape wire envelope.
type LegacyMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ResponseError is the protocol-level error object of RPC-shape responses.
// It implements error so dispatch paths can return it directly.
type ResponseError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e ResponseError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s", e.Code, e.Message)
}

// Envelope is one decoded inbound message tagged with its dialect. Exactly
// one of the two field groups is populated, matching the Dialect value.
type Envelope struct {
	Dialect Dialect

	// RPC-shape fields. ID is never nil for a decoded RPC request; an
	// absent id decodes as the JSON null literal.
	ID     json.RawMessage
	Method string
	Params json.RawMessage

	// Legacy-shape fields.
	Type string
	Data json.RawMessage
}

// DecodeEnvelope parses one raw frame and classifies its dialect. The
// returned error distinguishes malformed JSON (rendered as a -32700
// response) from a well-formed value that matches neither dialect
// (rendered as -32600).
func DecodeEnvelope(raw []byte) (Envelope, error) {
	if !json.Valid(raw) {
		return Envelope{}, errInvalidJSON
	}

	var probe struct {
		Version string          `json:"version"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Type    string          `json:"type"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		// Valid JSON that is not an object cannot carry either envelope.
		return Envelope{}, fmt.Errorf("%w: %s", errUnknownDialect, err)
	}

	switch {
	case probe.Version == ProtocolVersion && probe.Method != "":
		id := probe.ID
		if id == nil {
			id = jsonNull
		}
		return Envelope{
			Dialect: DialectRPC,
			ID:      id,
			Method:  probe.Method,
			Params:  probe.Params,
		}, nil
	case probe.Type != "":
		return Envelope{
			Dialect: DialectLegacy,
			Type:    probe.Type,
			Data:    probe.Data,
		}, nil
	default:
		return Envelope{}, errUnknownDialect
	}
}

// EncodeResult builds the success response for env in env's own dialect.
// The result value is marshaled as the result (RPC) or data (legacy) field;
// the request id, when present, is echoed untouched.
func EncodeResult(env Envelope, result any) (json.RawMessage, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	switch env.Dialect {
	case DialectLegacy:
		return json.Marshal(LegacyMessage{
			Type: env.Type + legacyResultSuffix,
			Data: payload,
		})
	default:
		return json.Marshal(RPCMessage{
			Version: ProtocolVersion,
			ID:      env.ID,
			Result:  payload,
		})
	}
}

// EncodeError builds the error response for env in env's own dialect. The
// legacy shape carries only the message text; the code is an RPC concept.
func EncodeError(env Envelope, respErr ResponseError) json.RawMessage {
	switch env.Dialect {
	case DialectLegacy:
		data, _ := json.Marshal(map[string]string{"message": respErr.Message})
		frame, _ := json.Marshal(LegacyMessage{
			Type: LegacyTypeError,
			Data: data,
		})
		return frame
	default:
		id := env.ID
		if id == nil {
			id = jsonNull
		}
		frame, _ := json.Marshal(RPCMessage{
			Version: ProtocolVersion,
			ID:      id,
			Error:   &respErr,
		})
		return frame
	}
}

// EncodeParseError builds the RPC-shape response for a frame that never
// decoded into an envelope. The id is the null literal because the dialect
// and id cannot be known before parsing succeeds.
func EncodeParseError(detail string) json.RawMessage {
	return EncodeError(Envelope{Dialect: DialectRPC, ID: jsonNull}, ResponseError{
		Code:    CodeParseError,
		Message: "Parse error: " + detail,
	})
}
