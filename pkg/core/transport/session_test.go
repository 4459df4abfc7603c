package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mitra-ai/mitra-live/pkg/core"
	"github.com/mitra-ai/mitra-live/pkg/core/protocol"
)

// liveEndpoint is a test double for the socket endpoint: it records the
// frames it receives and replays scripted server messages.
type liveEndpoint struct {
	upgrader websocket.Upgrader

	frames chan []byte
	conns  chan *websocket.Conn
}

func newLiveEndpoint() *liveEndpoint {
	return &liveEndpoint{
		frames: make(chan []byte, 32),
		conns:  make(chan *websocket.Conn, 1),
	}
}

func (e *liveEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	e.conns <- conn
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		e.frames <- data
	}
}

func (e *liveEndpoint) nextFrame(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-e.frames:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return nil
	}
}

func (e *liveEndpoint) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-e.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func openSession(t *testing.T) (*Session, *liveEndpoint, func()) {
	t.Helper()
	endpoint := newLiveEndpoint()
	server := httptest.NewServer(endpoint)

	session := New(Config{
		URL:   wsURL(server),
		Setup: protocol.NewSetupMessage("test persona"),
	})
	if err := session.Connect(context.Background()); err != nil {
		server.Close()
		t.Fatalf("connect: %v", err)
	}
	return session, endpoint, func() {
		_ = session.Close()
		server.Close()
	}
}

func TestSession_SetupIsFirstFrame(t *testing.T) {
	session, endpoint, cleanup := openSession(t)
	defer cleanup()

	if got := session.Status(); got != StatusOpen {
		t.Fatalf("status = %s, want %s", got, StatusOpen)
	}

	// Queue a media send behind the setup frame.
	_ = session.Send(protocol.RealtimeInput{
		MediaChunks: []protocol.MediaChunk{{MimeType: protocol.MimeAudioPCM, Data: "AAA="}},
	})

	var setup protocol.SetupMessage
	if err := json.Unmarshal(endpoint.nextFrame(t), &setup); err != nil {
		t.Fatalf("first frame is not a setup message: %v", err)
	}
	if setup.Setup.SystemInstruction.Parts[0].Text != "test persona" {
		t.Fatalf("unexpected setup: %+v", setup)
	}

	var media protocol.RealtimeInputMessage
	if err := json.Unmarshal(endpoint.nextFrame(t), &media); err != nil {
		t.Fatalf("second frame is not a media message: %v", err)
	}
	if len(media.RealtimeInput.MediaChunks) != 1 {
		t.Fatalf("unexpected media frame: %+v", media)
	}
}

func TestSession_InboundTextAndAudio(t *testing.T) {
	session, endpoint, cleanup := openSession(t)
	defer cleanup()

	conn := endpoint.conn(t)
	if err := conn.WriteJSON(protocol.ServerMessage{Text: "Hello", Audio: "AAE="}); err != nil {
		t.Fatalf("server write: %v", err)
	}

	var gotText, gotAudio bool
	deadline := time.After(2 * time.Second)
	for !(gotText && gotAudio) {
		select {
		case event := <-session.Events():
			switch e := event.(type) {
			case TextEvent:
				if e.Text != "Hello" {
					t.Fatalf("text = %q, want Hello", e.Text)
				}
				gotText = true
			case AudioEvent:
				if e.Data != "AAE=" {
					t.Fatalf("audio = %q, want AAE=", e.Data)
				}
				gotAudio = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for inbound events")
		}
	}
}

func TestSession_CloseIsIdempotentAndInvalidatesSend(t *testing.T) {
	session, _, cleanup := openSession(t)
	defer cleanup()

	if err := session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	err := session.Send(protocol.RealtimeInput{})
	if !core.IsType(err, core.ErrSendClosed) {
		t.Fatalf("send after close = %v, want send-on-closed error", err)
	}
	if got := session.Status(); got != StatusClosed && got != StatusClosing {
		t.Fatalf("status after close = %s", got)
	}
}

func TestSession_ServerCloseEmitsClosedEvent(t *testing.T) {
	session, endpoint, cleanup := openSession(t)
	defer cleanup()

	conn := endpoint.conn(t)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-session.Events():
			if !ok {
				t.Fatal("events channel closed without a ClosedEvent")
			}
			if closed, isClosed := event.(ClosedEvent); isClosed {
				if closed.Err != nil {
					t.Fatalf("clean close reported error: %v", closed.Err)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for ClosedEvent")
		}
	}
}

func TestSession_ConnectAfterCloseIsRejected(t *testing.T) {
	endpoint := newLiveEndpoint()
	server := httptest.NewServer(endpoint)
	defer server.Close()

	session := New(Config{
		URL:   wsURL(server),
		Setup: protocol.NewSetupMessage("p"),
	})
	if err := session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	err := session.Connect(context.Background())
	if !core.IsType(err, core.ErrTransportConnect) {
		t.Fatalf("connect on closed session = %v, want transport connect error", err)
	}
	if got := session.Status(); got != StatusClosed {
		t.Fatalf("status = %s, want %s", got, StatusClosed)
	}
	if _, ok := <-session.Events(); ok {
		t.Fatal("events channel must already be closed")
	}

	// A server-side disconnect after the rejected connect must be inert.
	select {
	case conn := <-endpoint.conns:
		_ = conn.Close()
	default:
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	session := New(Config{
		URL:            "ws://127.0.0.1:1/live-session",
		Setup:          protocol.NewSetupMessage("p"),
		ConnectTimeout: 500 * time.Millisecond,
	})
	err := session.Connect(context.Background())
	if !core.IsType(err, core.ErrTransportConnect) {
		t.Fatalf("connect error = %v, want transport connect error", err)
	}
	if got := session.Status(); got != StatusError {
		t.Fatalf("status = %s, want %s", got, StatusError)
	}
}
