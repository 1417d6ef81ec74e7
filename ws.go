package rustmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSServer implements the socket transport over WebSocket connections. Each
// accepted connection becomes one Session carrying one JSON value per text
// frame. Responses are written to the originating connection only; there is
// no broadcast.
//
// The Handler method returns the http.Handler that upgrades connections; it
// can be mounted on any mux. Instances must be created with NewWSServer and
// shut down with Shutdown.
type WSServer struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	sessions        chan wsSession
	removedSessions chan string

	done   chan struct{}
	closed chan struct{}
}

// WSServerOption configures a WSServer.
type WSServerOption func(*WSServer)

// WithWSLogger sets the logger used for connection-level errors.
func WithWSLogger(logger *slog.Logger) WSServerOption {
	return func(s *WSServer) {
		s.logger = logger.With(slog.String("transport", "ws"))
	}
}

type wsSession struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	sendFrames   chan wsSendFrame
	receivedMsgs chan json.RawMessage

	done        chan struct{}
	readClosed  chan struct{}
	writeClosed chan struct{}
}

type wsSendFrame struct {
	frame []byte
	errs  chan error
}

const wsWriteWait = 10 * time.Second

// NewWSServer creates a WebSocket server transport. The transport is
// operational once its Handler is mounted on an HTTP server.
func NewWSServer(options ...WSServerOption) *WSServer {
	s := &WSServer{
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sessions:        make(chan wsSession, 5),
		removedSessions: make(chan string),
		done:            make(chan struct{}),
		closed:          make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Sessions implements the ServerTransport interface by yielding one session
// per accepted WebSocket connection.
func (s *WSServer) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		for {
			select {
			case <-s.done:
				return
			case sess := <-s.sessions:
				go sess.readPump()
				go sess.writePump()

				if !yield(sess) {
					return
				}
			case <-s.removedSessions:
				// Connection ended on its own; nothing to clean up here,
				// the session owner observes the end of its Messages loop.
			}
		}
	}
}

// Shutdown implements the ServerTransport interface.
func (s *WSServer) Shutdown(ctx context.Context) error {
	close(s.done)

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close WebSocket server: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// Handler returns the http.Handler that upgrades incoming requests to
// WebSocket connections and registers them as sessions.
func (s *WSServer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error("failed to upgrade connection", slog.String("err", err.Error()))
			return
		}

		sess := wsSession{
			id:           uuid.New().String(),
			conn:         conn,
			logger:       s.logger,
			sendFrames:   make(chan wsSendFrame, 5),
			receivedMsgs: make(chan json.RawMessage, 5),
			done:         make(chan struct{}),
			readClosed:   make(chan struct{}),
			writeClosed:  make(chan struct{}),
		}

		select {
		case <-s.done:
			conn.Close()
			return
		case s.sessions <- sess:
		}

		// Keep the handler alive until the session ends so the server can
		// track connection lifetime.
		<-sess.readClosed

		select {
		case s.removedSessions <- sess.id:
		case <-s.done:
		}
	})
}

func (s wsSession) ID() string { return s.id }

func (s wsSession) Send(ctx context.Context, frame json.RawMessage) error {
	sf := wsSendFrame{
		frame: frame,
		errs:  make(chan error, 1),
	}

	// Queue the frame; gorilla/websocket allows only one concurrent writer.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("session is closed")
	case s.sendFrames <- sf:
	}

	select {
	case err := <-sf.errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("session is closed")
	}
}

func (s wsSession) Messages() iter.Seq[json.RawMessage] {
	return func(yield func(json.RawMessage) bool) {
		for {
			select {
			case <-s.done:
				return
			case msg, ok := <-s.receivedMsgs:
				if !ok {
					return
				}
				if !yield(msg) {
					return
				}
			}
		}
	}
}

func (s wsSession) Stop() {
	close(s.done)
	s.conn.Close()
	<-s.readClosed
	<-s.writeClosed
}

func (s wsSession) readPump() {
	defer func() {
		close(s.receivedMsgs)
		close(s.readClosed)
	}()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warn("failed to read frame", slog.String("err", err.Error()))
				}
			}
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		select {
		case <-s.done:
			return
		case s.receivedMsgs <- json.RawMessage(data):
		}
	}
}

func (s wsSession) writePump() {
	defer close(s.writeClosed)

	for {
		var sf wsSendFrame
		select {
		case <-s.done:
			return
		case sf = <-s.sendFrames:
		}

		s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		err := s.conn.WriteMessage(websocket.TextMessage, sf.frame)
		if err != nil {
			s.logger.Warn("failed to write frame", slog.String("err", err.Error()))
		}

		sf.errs <- err
	}
}
