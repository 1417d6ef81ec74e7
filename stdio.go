package rustmcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// StdIO implements a stream transport over an io.Reader/io.Writer pair,
// typically stdin/stdout. Frames are newline-delimited JSON values, and the
// transport exposes a single persistent session for its whole lifetime.
//
// A line that is not valid JSON is still yielded as a frame: the dispatcher
// owns decoding and must answer such input with a parse-error response
// without closing the stream.
//
// Instances must be created with NewStdIO, and Shutdown must be called when
// the transport is no longer needed.
type StdIO struct {
	sess   stdIOSession
	closed chan struct{}
}

type stdIOSession struct {
	id     string
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	writeFrames chan stdIOFrame
	done        chan struct{}
	readClosed  chan struct{}
	writeClosed chan struct{}
}

type stdIOFrame struct {
	frame []byte
	errs  chan error
}

// StdIOOption configures a StdIO transport.
type StdIOOption func(*StdIO)

// WithStdIOLogger sets the logger used for transport-level I/O errors.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.sess.logger = logger.With(slog.String("transport", "stdio"))
	}
}

// NewStdIO creates a new StdIO transport reading frames from reader and
// writing frames to writer.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) StdIO {
	s := StdIO{
		sess: stdIOSession{
			id:          uuid.New().String(),
			reader:      reader,
			writer:      writer,
			logger:      slog.Default(),
			writeFrames: make(chan stdIOFrame),
			done:        make(chan struct{}),
			readClosed:  make(chan struct{}),
			writeClosed: make(chan struct{}),
		},
		closed: make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	return s
}

// Sessions implements the ServerTransport interface by yielding the single
// persistent session. The iteration ends when the session is stopped.
func (s StdIO) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		go s.sess.processWriteFrames()

		yield(s.sess)
		<-s.sess.done
	}
}

// Shutdown implements the ServerTransport interface. It waits for the
// Sessions iteration to end.
func (s StdIO) Shutdown(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
	}
	return nil
}

func (s stdIOSession) ID() string {
	return s.id
}

func (s stdIOSession) Send(ctx context.Context, frame json.RawMessage) error {
	// Append newline to maintain the one-value-per-line framing.
	out := make([]byte, 0, len(frame)+1)
	out = append(out, frame...)
	out = append(out, '\n')

	ioFrame := stdIOFrame{
		frame: out,
		errs:  make(chan error, 1),
	}

	// Queue the frame so concurrent senders never interleave writes.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while queueing frame")
		return nil
	case s.writeFrames <- ioFrame:
	}

	select {
	case err := <-ioFrame.errs:
		if err != nil {
			s.logger.Error("failed to write frame", slog.String("err", err.Error()))
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while waiting for write result")
		return nil
	}
}

func (s stdIOSession) Messages() iter.Seq[json.RawMessage] {
	return func(yield func(json.RawMessage) bool) {
		defer close(s.readClosed)

		// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
		reader := bufio.NewReader(s.reader)
		for {
			type lineWithErr struct {
				line string
				err  error
			}

			lines := make(chan lineWithErr, 1)

			// Read in a goroutine so a stalled reader never blocks Stop.
			go func() {
				line, err := reader.ReadString('\n')
				if err != nil {
					lines <- lineWithErr{err: err}
					return
				}
				lines <- lineWithErr{line: strings.TrimSuffix(line, "\n")}
			}()

			var lwe lineWithErr
			select {
			case <-s.done:
				return
			case lwe = <-lines:
			}

			if lwe.err != nil {
				if !errors.Is(lwe.err, io.EOF) {
					s.logger.Error("failed to read frame", "err", lwe.err)
				}
				return
			}

			if strings.TrimSpace(lwe.line) == "" {
				continue
			}

			if !yield(json.RawMessage(lwe.line)) {
				return
			}
		}
	}
}

func (s stdIOSession) Stop() {
	close(s.done)
	<-s.writeClosed
}

func (s stdIOSession) processWriteFrames() {
	defer close(s.writeClosed)

	for {
		var f stdIOFrame
		select {
		case <-s.done:
			return
		case f = <-s.writeFrames:
		}

		_, err := s.writer.Write(f.frame)
		if err != nil {
			err = fmt.Errorf("failed to write frame: %w", err)
		}

		f.errs <- err
	}
}
