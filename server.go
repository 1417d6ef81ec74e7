package rustmcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server is the protocol dispatcher. It consumes raw frames from a
// ServerTransport, classifies each one into an envelope dialect, resolves
// built-in methods and registered tools, and writes the response back to the
// originating session in the dialect of the request.
//
// The dispatcher is stateless across messages: the only shared state is the
// read-only registry, so any number of sessions and in-flight invocations
// can run concurrently. Responses correlate to requests by id only; two
// concurrent calls may complete out of order.
type Server struct {
	info      Info
	registry  *Registry
	transport ServerTransport

	sendTimeout time.Duration

	logger *slog.Logger

	onClientConnected    func(string)
	onClientDisconnected func(string)

	sessionsWaitGroup *sync.WaitGroup
	done              chan struct{}
}

// Info contains metadata about the server instance.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities summarizes what the server supports, as reported by
// initialize.
type ServerCapabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

type listResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// CallToolParams is the params object of a tools/call request: the tool name
// and the arguments forwarded to the tool's handler.
type CallToolParams struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params"`
}

type serverSession struct {
	session  Session
	registry *Registry
	info     Info
	logger   *slog.Logger

	sendTimeout time.Duration
}

var defaultServerSendTimeout = 30 * time.Second

// NewServer creates a new dispatcher serving the given registry over the
// given transport.
func NewServer(info Info, transport ServerTransport, registry *Registry, options ...ServerOption) Server {
	s := Server{
		info:              info,
		registry:          registry,
		transport:         transport,
		logger:            slog.Default(),
		sessionsWaitGroup: &sync.WaitGroup{},
		done:              make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	if s.sendTimeout == 0 {
		s.sendTimeout = defaultServerSendTimeout
	}
	return s
}

// WithServerSendTimeout returns a ServerOption that configures how long a
// response write may block before it is abandoned.
func WithServerSendTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sendTimeout = timeout
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("component", "server"),
		)
	}
}

// WithServerOnClientConnected sets the callback for when a client connects.
// The callback's parameter is the session ID of the client.
func WithServerOnClientConnected(onClientConnected func(string)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = onClientConnected
	}
}

// WithServerOnClientDisconnected sets the callback for when a client
// disconnects. The callback's parameter is the session ID of the client.
func WithServerOnClientDisconnected(onClientDisconnected func(string)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = onClientDisconnected
	}
}

// Serve starts the dispatcher and blocks until the server is shut down. Each
// session runs its own message loop, and each message is handled in its own
// goroutine, so one slow or failing invocation never stalls another.
func (s Server) Serve() {
	// This loop breaks when the transport is shut down.
	for sess := range s.transport.Sessions() {
		ss := serverSession{
			session:     sess,
			registry:    s.registry,
			info:        s.info,
			logger:      s.logger.With(slog.String("sessionID", sess.ID())),
			sendTimeout: s.sendTimeout,
		}

		s.sessionsWaitGroup.Add(1)

		// Stop the session when the server shuts down. Stop is called
		// exactly once per session, from here.
		go func() {
			<-s.done
			ss.session.Stop()
		}()

		go func() {
			defer s.sessionsWaitGroup.Done()

			if s.onClientConnected != nil {
				s.onClientConnected(ss.session.ID())
			}

			ss.start()

			if s.onClientDisconnected != nil {
				s.onClientDisconnected(ss.session.ID())
			}
		}()
	}
}

// Shutdown gracefully shuts down the server by stopping all active sessions
// and closing the transport. It returns an error if the context is cancelled
// before the shutdown completes.
func (s Server) Shutdown(ctx context.Context) error {
	// Signal session watchers to stop their sessions.
	close(s.done)

	// Wait for all in-flight sessions to finish.
	s.sessionsWaitGroup.Wait()

	// Close the transport so the Sessions loop in Serve breaks.
	if err := s.transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown transport: %w", err)
	}

	return nil
}

func (ss serverSession) start() {
	// All handler invocations of this session are cancelled when the
	// message loop ends.
	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()

	var inflight sync.WaitGroup

	// This loop breaks when the session is closed.
	for frame := range ss.session.Messages() {
		inflight.Add(1)
		go func(frame json.RawMessage) {
			defer inflight.Done()
			ss.handleFrame(baseCtx, frame)
		}(frame)
	}

	inflight.Wait()
}

func (ss serverSession) handleFrame(ctx context.Context, frame json.RawMessage) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		if errors.Is(err, errUnknownDialect) {
			ss.logger.Info("unclassifiable message", slog.String("err", err.Error()))
			ss.send(EncodeError(Envelope{Dialect: DialectRPC}, ResponseError{
				Code:    CodeInvalidRequest,
				Message: "Invalid request: message matches no known dialect",
			}))
			return
		}
		ss.logger.Info("malformed frame", slog.String("err", err.Error()))
		ss.send(EncodeParseError(err.Error()))
		return
	}

	switch env.Dialect {
	case DialectLegacy:
		ss.handleLegacy(ctx, env)
	default:
		ss.handleRPC(ctx, env)
	}
}

func (ss serverSession) handleRPC(ctx context.Context, env Envelope) {
	switch env.Method {
	case MethodPing:
		ss.reply(env, struct{}{})
	case MethodInitialize:
		ss.reply(env, initializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: ServerCapabilities{
				Tools:     true,
				Resources: len(ss.registry.Resources()) > 0,
			},
			ServerInfo: ss.info,
		})
	case MethodToolsList:
		ss.reply(env, listToolsResult{Tools: ss.registry.Tools()})
	case MethodResourcesList:
		ss.reply(env, listResourcesResult{Resources: ss.registry.Resources()})
	case MethodToolsCall:
		var params CallToolParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			ss.replyError(env, ResponseError{
				Code:    CodeInvalidParams,
				Message: fmt.Sprintf("failed to unmarshal params: %s", err),
			})
			return
		}
		ss.callTool(ctx, env, params.Name, params.Params)
	default:
		ss.replyError(env, ResponseError{
			Code:    CodeMethodNotFound,
			Message: "Method not found: " + env.Method,
		})
	}
}

// handleLegacy routes a {type, data} message. Type values map 1:1 to tool
// names, so the legacy dialect reaches exactly the registered tool surface.
func (ss serverSession) handleLegacy(ctx context.Context, env Envelope) {
	if _, ok := ss.registry.Lookup(env.Type); !ok {
		ss.replyError(env, ResponseError{
			Code:    CodeMethodNotFound,
			Message: "Unsupported message type: " + env.Type,
		})
		return
	}
	ss.callTool(ctx, env, env.Type, env.Data)
}

func (ss serverSession) callTool(ctx context.Context, env Envelope, name string, args json.RawMessage) {
	tool, ok := ss.registry.Lookup(name)
	if !ok {
		ss.replyError(env, ResponseError{
			Code:    CodeMethodNotFound,
			Message: "Method not found: " + name,
		})
		return
	}

	if err := ss.registry.ValidateArguments(name, args); err != nil {
		ss.replyError(env, ResponseError{
			Code:    CodeInvalidParams,
			Message: "Invalid params: " + err.Error(),
		})
		return
	}

	result, err := ss.invoke(ctx, tool, args)
	if err != nil {
		respErr := ResponseError{
			Code:    CodeInternalError,
			Message: err.Error(),
		}
		var re ResponseError
		if errors.As(err, &re) {
			respErr = re
		}
		ss.logger.Error("tool invocation failed",
			slog.String("tool", name),
			slog.String("err", err.Error()))
		ss.replyError(env, respErr)
		return
	}

	ss.reply(env, result)
}

// invoke runs the handler, converting a panic into an error so one bad
// invocation never takes the session down.
func (ss serverSession) invoke(ctx context.Context, tool Tool, args json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return tool.Handler(ctx, args)
}

func (ss serverSession) reply(env Envelope, result any) {
	frame, err := EncodeResult(env, result)
	if err != nil {
		ss.logger.Error("failed to encode result", slog.String("err", err.Error()))
		ss.send(EncodeError(env, ResponseError{
			Code:    CodeInternalError,
			Message: err.Error(),
		}))
		return
	}
	ss.send(frame)
}

func (ss serverSession) replyError(env Envelope, respErr ResponseError) {
	ss.send(EncodeError(env, respErr))
}

func (ss serverSession) send(frame json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), ss.sendTimeout)
	defer cancel()

	if err := ss.session.Send(ctx, frame); err != nil {
		ss.logger.Error("failed to send response", slog.String("err", err.Error()))
	}
}
