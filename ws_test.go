package rustmcp_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	rustmcp "github.com/MaxParisotto/rust-mcp-server"
)

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(httpURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	return conn
}

func TestWSServerRawFrames(t *testing.T) {
	transport := rustmcp.NewWSServer()

	sessions := make(chan rustmcp.Session, 1)
	go func() {
		for sess := range transport.Sessions() {
			sessions <- sess
		}
	}()

	httpSrv := httptest.NewServer(transport.Handler())
	defer httpSrv.Close()

	conn := dialWS(t, httpSrv.URL)
	defer conn.Close()

	var sess rustmcp.Session
	select {
	case sess = <-sessions:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for session")
	}

	received := make(chan json.RawMessage, 4)
	go func() {
		for msg := range sess.Messages() {
			received <- msg
		}
	}()

	// Binary frames are not protocol frames and must be skipped.
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x1, 0x2}); err != nil {
		t.Fatalf("failed to write binary frame: %v", err)
	}

	frame := `{"version":"2.0","id":1,"method":"ping"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("failed to write text frame: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != frame {
			t.Errorf("frame = %s, want %s", got, frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for frame")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply := json.RawMessage(`{"version":"2.0","id":1,"result":{}}`)
	if err := sess.Send(ctx, reply); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read reply: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Errorf("message type = %d, want text", msgType)
	}
	if string(data) != string(reply) {
		t.Errorf("reply = %s, want %s", data, reply)
	}

	sess.Stop()
	if err := transport.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestWSServerEndToEnd(t *testing.T) {
	transport := rustmcp.NewWSServer()
	srv := rustmcp.NewServer(
		rustmcp.Info{Name: "test-server", Version: "0.0.1"},
		transport,
		echoRegistry(t),
	)
	go srv.Serve()

	httpSrv := httptest.NewServer(transport.Handler())
	defer httpSrv.Close()

	conn := dialWS(t, httpSrv.URL)
	defer conn.Close()

	request := `{"version":"2.0","id":7,"method":"tools/call",` +
		`"params":{"name":"echo","params":{"text":"over ws"}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(request)); err != nil {
		t.Fatalf("failed to write request: %v", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}

	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("failed to unmarshal response %s: %v", data, err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if string(resp.ID) != "7" {
		t.Errorf("id = %s, want 7", resp.ID)
	}
	if string(resp.Result) != `{"text":"over ws"}` {
		t.Errorf("result = %s", resp.Result)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
