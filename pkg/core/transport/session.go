// Package transport owns the duplex socket connection of a live session:
// dialing, the one-time setup declaration, outbound media frames and the
// inbound message stream.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mitra-ai/mitra-live/pkg/core"
	"github.com/mitra-ai/mitra-live/pkg/core/protocol"
)

const defaultConnectTimeout = 15 * time.Second

// Status is the observable connection state. Rendering and orchestration
// subscribe to it; the transport never reaches into other components.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusClosing      Status = "closing"
	StatusClosed       Status = "closed"
	StatusError        Status = "error"
)

// Event is an inbound transport event.
type Event interface {
	transportEventType() string
}

// TextEvent carries assistant text for the conversation log.
type TextEvent struct {
	Text string
}

func (e TextEvent) transportEventType() string { return "text" }

// AudioEvent carries one transport-encoded synthesized audio chunk.
// Decoding happens in the playback pipeline that consumes it.
type AudioEvent struct {
	Data string
}

func (e AudioEvent) transportEventType() string { return "audio" }

// StatusEvent reports a connection status change.
type StatusEvent struct {
	Status Status
}

func (e StatusEvent) transportEventType() string { return "status" }

// ClosedEvent is the terminal event. Err is nil on a clean close.
type ClosedEvent struct {
	Err error
}

func (e ClosedEvent) transportEventType() string { return "closed" }

// Config configures a Session.
type Config struct {
	// URL is the socket endpoint (ws:// or wss://).
	URL string

	// Setup is declared exactly once, as the first frame after the
	// connection opens, before any media chunk.
	Setup protocol.SetupMessage

	// ConnectTimeout bounds the dial+handshake. Default 15s.
	ConnectTimeout time.Duration

	// ChannelSize is the inbound event buffer. Default 256.
	ChannelSize int

	Logger *slog.Logger
}

// Session is a live websocket session. At most one Connect per Session;
// the zero of its lifecycle is StatusDisconnected.
type Session struct {
	cfg Config

	connMu sync.Mutex
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}

	status atomic.Value // Status

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	emitMu       sync.Mutex
	eventsClosed bool

	errMu sync.Mutex
	err   error

	logger *slog.Logger
}

// New creates a disconnected session.
func New(cfg Config) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Session{
		cfg:    cfg,
		events: make(chan Event, cfg.ChannelSize),
		done:   make(chan struct{}),
		logger: cfg.Logger.With("component", "transport"),
	}
	s.status.Store(StatusDisconnected)
	return s
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	return s.status.Load().(Status)
}

// Events yields inbound events in arrival order. The channel closes when
// the session ends.
func (s *Session) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// Connect dials the endpoint and, on success, sends the setup declaration
// as the first and only automatic action of the open state.
func (s *Session) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return core.NewTransportConnectError("transport already closed", nil)
	}
	s.setStatus(StatusConnecting)

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}

	dialer := websocket.DefaultDialer
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}

	conn, resp, err := dialer.DialContext(dialCtx, s.cfg.URL, nil)
	if err != nil {
		s.setStatus(StatusError)
		s.setErr(core.NewTransportConnectError("websocket dial failed", err))
		if resp != nil {
			s.logger.Error("dial failed", "url", s.cfg.URL, "status", resp.StatusCode, "error", err)
		}
		return s.terminalErr()
	}

	if err := conn.WriteJSON(s.cfg.Setup); err != nil {
		_ = conn.Close()
		s.setStatus(StatusError)
		s.setErr(core.NewTransportConnectError("send setup message", err))
		return s.terminalErr()
	}

	// Commit the connection only if no Close landed while dialing; the
	// never-connected Close branch has already finished the session, so
	// the fresh connection is torn down instead of published.
	s.connMu.Lock()
	if s.closed.Load() {
		s.connMu.Unlock()
		_ = conn.Close()
		return core.NewTransportConnectError("transport closed during connect", nil)
	}
	s.conn = conn
	s.connMu.Unlock()

	s.setStatus(StatusOpen)
	go s.readLoop()
	return nil
}

// Send writes one outbound media frame. Valid only while open;
// fire-and-forget, at-most-once, no retry. Sends racing a closing
// transport are suppressed with a local diagnostic.
func (s *Session) Send(input protocol.RealtimeInput) error {
	if s.closed.Load() || s.Status() != StatusOpen {
		s.logger.Debug("dropping send on non-open transport", "status", s.Status())
		return core.NewSendClosedError()
	}
	if err := s.writeJSON(protocol.RealtimeInputMessage{RealtimeInput: input}); err != nil {
		s.logger.Debug("send failed", "error", err)
		return core.NewSendClosedError()
	}
	return nil
}

func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close ends the session. Idempotent; closing an already-closed session is
// a no-op.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			// Never connected. An in-flight Connect observes closed
			// before committing its connection.
			s.setStatus(StatusClosed)
			s.closeEvents()
			close(s.done)
			return
		}
		s.setStatus(StatusClosing)
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = conn.Close()
	})
	<-s.done
	return nil
}

// Err returns the terminal session error, if any, once the session ends.
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	return s.terminalErr()
}

func (s *Session) terminalErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) setStatus(status Status) {
	s.status.Store(status)
	s.emit(StatusEvent{Status: status})
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer s.closeEvents()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.status.Store(StatusClosed)
				s.emit(ClosedEvent{})
				return
			}
			protoErr := core.NewTransportProtocolError("connection lost", err)
			s.setErr(protoErr)
			s.status.Store(StatusError)
			s.emit(ClosedEvent{Err: protoErr})
			return
		}

		var msg protocol.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// One malformed frame does not end the session.
			s.logger.Warn("dropping malformed inbound frame", "error", err)
			continue
		}
		if msg.Text != "" {
			s.emit(TextEvent{Text: msg.Text})
		}
		if msg.Audio != "" {
			s.emit(AudioEvent{Data: msg.Audio})
		}
	}
}

func (s *Session) emit(event Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- event:
	default:
		// Avoid deadlocking the read loop if the consumer stops draining.
		s.logger.Warn("event channel full, dropping event")
	}
}

func (s *Session) closeEvents() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.eventsClosed {
		return
	}
	s.eventsClosed = true
	close(s.events)
}
