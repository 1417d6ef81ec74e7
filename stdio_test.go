package rustmcp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	rustmcp "github.com/MaxParisotto/rust-mcp-server"
)

func startStdIO(t *testing.T, reader io.Reader, writer io.Writer) (rustmcp.StdIO, rustmcp.Session) {
	t.Helper()

	transport := rustmcp.NewStdIO(reader, writer)

	sessions := make(chan rustmcp.Session, 1)
	go func() {
		for sess := range transport.Sessions() {
			sessions <- sess
		}
	}()

	select {
	case sess := <-sessions:
		return transport, sess
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for session")
		return rustmcp.StdIO{}, nil
	}
}

func TestStdIOYieldsRawFrames(t *testing.T) {
	inReader, inWriter := io.Pipe()

	transport, sess := startStdIO(t, inReader, io.Discard)

	frames := []string{
		`{"version":"2.0","id":1,"method":"ping"}`,
		`{"type":"rust.analyze","data":{"code":""}}`,
		`this is not json`,
	}

	received := make(chan json.RawMessage, len(frames))
	go func() {
		for msg := range sess.Messages() {
			received <- msg
		}
		close(received)
	}()

	go func() {
		for _, frame := range frames {
			// Blank lines are framing noise and must be skipped.
			_, _ = inWriter.Write([]byte(frame + "\n\n"))
		}
	}()

	for _, want := range frames {
		select {
		case got := <-received:
			// Frames pass through untouched, including ones that are not
			// valid JSON; decoding is the dispatcher's job.
			if string(got) != want {
				t.Errorf("frame = %s, want %s", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for frame")
		}
	}

	sess.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := transport.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestStdIOSendAppendsNewline(t *testing.T) {
	outReader, outWriter := io.Pipe()

	transport, sess := startStdIO(t, nopReader{}, outWriter)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frame := json.RawMessage(`{"version":"2.0","id":1,"result":{}}`)

	errs := make(chan error, 1)
	go func() {
		errs <- sess.Send(ctx, frame)
	}()

	line, err := bufio.NewReader(outReader).ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read written frame: %v", err)
	}
	if line != string(frame)+"\n" {
		t.Errorf("wrote %q, want %q", line, string(frame)+"\n")
	}
	if err := <-errs; err != nil {
		t.Errorf("Send() error = %v", err)
	}

	sess.Stop()
	if err := transport.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestStdIOSendContextCancellation(t *testing.T) {
	// Never read from the pipe, so the pending write blocks and Send has to
	// give up on the context.
	outReader, outWriter := io.Pipe()

	transport, sess := startStdIO(t, nopReader{}, outWriter)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := sess.Send(ctx, json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error from cancelled send")
	}

	// Unblock the stuck write so Stop can drain the write loop.
	_ = outReader.Close()
	sess.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := transport.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

// nopReader blocks forever, standing in for an idle stdin.
type nopReader struct{}

func (nopReader) Read([]byte) (int, error) {
	select {}
}
