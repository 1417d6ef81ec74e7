package rustmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEServer implements a transport where server-to-client frames stream over
// Server-Sent Events and client-to-server frames arrive via HTTP POST. A GET
// on the SSE endpoint opens a session; the first event carries the message
// endpoint URL the client must POST to, tagged with the session ID.
//
// The HandleSSE and HandleMessage handlers are framework-agnostic and can be
// mounted on any mux. Instances must be created with NewSSEServer and shut
// down with Shutdown.
type SSEServer struct {
	messageURL string
	logger     *slog.Logger

	sessions         chan sseSession
	removedSessions  chan string
	receivedMessages chan sseSessionFrame

	done   chan struct{}
	closed chan struct{}
}

// SSEServerOption configures an SSEServer.
type SSEServerOption func(*SSEServer)

// WithSSELogger sets the logger used for connection-level errors.
func WithSSELogger(logger *slog.Logger) SSEServerOption {
	return func(s *SSEServer) {
		s.logger = logger.With(slog.String("transport", "sse"))
	}
}

type sseSession struct {
	id     string
	sess   *sse.Session
	logger *slog.Logger

	sendMsgs     chan sseSendFrame
	receivedMsgs chan json.RawMessage

	done           chan struct{}
	sendClosed     chan struct{}
	receivedClosed chan struct{}
}

type sseSessionFrame struct {
	sessID string
	frame  json.RawMessage
}

type sseSendFrame struct {
	msg  *sse.Message
	errs chan<- error
}

// NewSSEServer creates an SSE server transport whose clients POST frames to
// messageURL.
func NewSSEServer(messageURL string, options ...SSEServerOption) *SSEServer {
	s := &SSEServer{
		messageURL:       messageURL,
		logger:           slog.Default(),
		sessions:         make(chan sseSession, 5),
		removedSessions:  make(chan string),
		receivedMessages: make(chan sseSessionFrame),
		done:             make(chan struct{}),
		closed:           make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Sessions implements the ServerTransport interface by yielding one session
// per connected SSE client.
func (s *SSEServer) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		// Track active sessions so POSTed frames can be routed to them.
		sessionsMap := make(map[string]sseSession)

		for {
			select {
			case <-s.done:
				return
			case sess := <-s.sessions:
				go sess.processSendFrames()

				sessionsMap[sess.id] = sess

				if !yield(sess) {
					return
				}
			case sessID := <-s.removedSessions:
				delete(sessionsMap, sessID)
			case frame := <-s.receivedMessages:
				session, ok := sessionsMap[frame.sessID]
				if !ok {
					// The session might already be closed; drop the frame.
					continue
				}

				select {
				case <-s.done:
					return
				case session.receivedMsgs <- frame.frame:
				}
			}
		}
	}
}

// Shutdown implements the ServerTransport interface.
func (s *SSEServer) Shutdown(ctx context.Context) error {
	close(s.done)

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close SSE server: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// HandleSSE returns an http.Handler for establishing SSE connections over
// GET requests. The connection remains open until the client disconnects or
// the session is stopped.
func (s *SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		sessID := uuid.New().String()

		// Tell the client where to POST its frames for this session.
		url := fmt.Sprintf("%s?sessionID=%s", s.messageURL, sessID)

		msg := sse.Message{
			Type: sse.Type("endpoint"),
		}
		msg.AppendData(url)
		if err := sess.Send(&msg); err != nil {
			s.logger.Error("failed to write SSE endpoint", "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := sess.Flush(); err != nil {
			s.logger.Error("failed to flush SSE endpoint", "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		srvSession := sseSession{
			id:             sessID,
			sess:           sess,
			logger:         s.logger,
			sendMsgs:       make(chan sseSendFrame, 5),
			receivedMsgs:   make(chan json.RawMessage, 5),
			done:           make(chan struct{}),
			sendClosed:     make(chan struct{}),
			receivedClosed: make(chan struct{}),
		}

		select {
		case <-s.done:
			return
		case s.sessions <- srvSession:
		}

		// Keep the connection open until the session is stopped.
		<-srvSession.sendClosed
		<-srvSession.receivedClosed

		select {
		case s.removedSessions <- sessID:
		case <-s.done:
		}
	})
}

// HandleMessage returns an http.Handler for client frames sent via POST.
// The handler expects a sessionID query parameter; the body is one raw JSON
// frame routed untouched to the matching session's message stream.
func (s *SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			s.logger.Warn("missing sessionID query parameter")
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.logger.Warn("failed to read message body", slog.String("err", err.Error()))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// The body is forwarded even when it is not valid JSON: the
		// dispatcher answers malformed frames with a parse-error response.
		select {
		case <-s.done:
			return
		case s.receivedMessages <- sseSessionFrame{sessID: sessID, frame: body}:
		}
	})
}

func (s sseSession) ID() string { return s.id }

func (s sseSession) Send(ctx context.Context, frame json.RawMessage) error {
	sseMsg := &sse.Message{
		Type: sse.Type("message"),
	}
	sseMsg.AppendData(string(frame))

	errs := make(chan error, 1)

	// Queue the message for sending to avoid races in the sse library.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("session is closed")
	case s.sendMsgs <- sseSendFrame{sseMsg, errs}:
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return fmt.Errorf("session is closed")
	}
}

func (s sseSession) Messages() iter.Seq[json.RawMessage] {
	return func(yield func(json.RawMessage) bool) {
		defer close(s.receivedClosed)

		for {
			select {
			case msg := <-s.receivedMsgs:
				if !yield(msg) {
					return
				}
			case <-s.done:
				return
			}
		}
	}
}

func (s sseSession) Stop() {
	close(s.done)

	<-s.sendClosed
	<-s.receivedClosed
}

func (s sseSession) processSendFrames() {
	defer close(s.sendClosed)

	for {
		select {
		case sf := <-s.sendMsgs:
			if err := s.sess.Send(sf.msg); err != nil {
				s.logger.Warn("failed to send message", slog.String("err", err.Error()))
				sf.errs <- err
				continue
			}
			if err := s.sess.Flush(); err != nil {
				s.logger.Warn("failed to flush message", slog.String("err", err.Error()))
				sf.errs <- err
				continue
			}

			sf.errs <- nil
		case <-s.done:
			return
		}
	}
}
