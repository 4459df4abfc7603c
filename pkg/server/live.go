package server

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mitra-ai/mitra-live/pkg/core/protocol"
)

// MediaPart is one fragment of a model turn coming back from the upstream
// live session.
type MediaPart struct {
	Text  string
	Audio []byte
}

// Upstream is one open live session against the model provider.
type Upstream interface {
	// SendMedia forwards one decoded media chunk.
	SendMedia(mimeType string, data []byte) error
	// Receive blocks for the next batch of model turn parts. io.EOF ends
	// the stream cleanly.
	Receive() ([]MediaPart, error)
	Close() error
}

// UpstreamDialer opens an upstream live session with the client's declared
// setup.
type UpstreamDialer func(ctx context.Context, setup protocol.Setup) (Upstream, error)

// LiveHandler bridges /live-session websocket clients to an upstream live
// model session: media chunks up, text and audio parts down.
type LiveHandler struct {
	Config Config
	Dial   UpstreamDialer
	Logger *slog.Logger
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "live")

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxMessageBytes)
	}

	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, firstFrame, err := conn.ReadMessage()
	if err != nil {
		logger.Warn("no setup frame received", "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	// A malformed first frame degrades to an empty setup rather than
	// rejecting the session.
	var setup protocol.Setup
	if frame, decodeErr := protocol.DecodeClientFrame(firstFrame); decodeErr == nil && frame.Setup != nil {
		setup = *frame.Setup
	} else if decodeErr != nil {
		logger.Warn("invalid setup frame, using defaults", "error", decodeErr)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	upstream, err := h.Dial(ctx, setup)
	if err != nil {
		logger.Error("upstream connect failed", "error", err)
		return
	}

	bridge := &liveBridge{
		conn:     conn,
		upstream: upstream,
		logger:   logger,
		cancel:   cancel,
	}
	defer bridge.shutdown()
	bridge.run()
}

// liveBridge pumps frames both directions until either side disconnects.
type liveBridge struct {
	conn     *websocket.Conn
	upstream Upstream
	logger   *slog.Logger
	cancel   context.CancelFunc

	shutdownOnce sync.Once
}

func (b *liveBridge) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer b.shutdown()
		b.forwardToUpstream()
	}()
	go func() {
		defer wg.Done()
		defer b.shutdown()
		b.forwardToClient()
	}()
	wg.Wait()
}

func (b *liveBridge) shutdown() {
	b.shutdownOnce.Do(func() {
		b.cancel()
		_ = b.upstream.Close()
		_ = b.conn.Close()
	})
}

// forwardToUpstream reads client frames and pushes their media chunks to
// the model session. Unparseable frames and chunks are skipped.
func (b *liveBridge) forwardToUpstream() {
	for {
		_, msg, err := b.conn.ReadMessage()
		if err != nil {
			if isExpectedClose(err) {
				b.logger.Info("client disconnected")
			} else {
				b.logger.Warn("client read failed", "error", err)
			}
			return
		}

		frame, err := protocol.DecodeClientFrame(msg)
		if err != nil {
			b.logger.Warn("skipping malformed client frame", "error", err)
			continue
		}
		if frame.RealtimeInput == nil {
			continue
		}
		for _, chunk := range frame.RealtimeInput.MediaChunks {
			if chunk.MimeType == "" || chunk.Data == "" {
				continue
			}
			data, decodeErr := base64.StdEncoding.DecodeString(chunk.Data)
			if decodeErr != nil {
				b.logger.Warn("skipping undecodable media chunk", "mime_type", chunk.MimeType, "error", decodeErr)
				continue
			}
			if err := b.upstream.SendMedia(chunk.MimeType, data); err != nil {
				b.logger.Warn("media forward failed", "mime_type", chunk.MimeType, "error", err)
			}
		}
	}
}

// forwardToClient reads model turn parts and writes them back as separate
// {text} and {audio} frames.
func (b *liveBridge) forwardToClient() {
	for {
		parts, err := b.upstream.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				b.logger.Warn("upstream receive failed", "error", err)
			}
			return
		}
		for _, part := range parts {
			if part.Text != "" {
				if err := b.conn.WriteJSON(protocol.ServerMessage{Text: part.Text}); err != nil {
					return
				}
			}
			if len(part.Audio) > 0 {
				encoded := base64.StdEncoding.EncodeToString(part.Audio)
				if err := b.conn.WriteJSON(protocol.ServerMessage{Audio: encoded}); err != nil {
					return
				}
			}
		}
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) || errors.Is(err, net.ErrClosed)
}
