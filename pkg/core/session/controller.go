// Package session orchestrates a live conversation: it opens media
// devices, starts the transport, wires capture output to the socket and
// inbound audio to playback, and tears everything down symmetrically,
// handing control back to the turn-based chat flow.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mitra-ai/mitra-live/pkg/core"
	"github.com/mitra-ai/mitra-live/pkg/core/capture"
	"github.com/mitra-ai/mitra-live/pkg/core/protocol"
	"github.com/mitra-ai/mitra-live/pkg/core/transport"
)

// State is the controller's observable lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateOpening State = "opening"
	StateActive  State = "active"
	StateClosing State = "closing"
)

// DefaultCheckInDelay is the pause before the post-live check-in request.
const DefaultCheckInDelay = 1500 * time.Millisecond

// AssistantName prefixes inbound text in the conversation log.
const AssistantName = "MITRA"

// Event is a controller event for subscribers (status display, chat log).
type Event interface {
	sessionEventType() string
}

// StateEvent reports a lifecycle state change.
type StateEvent struct {
	State State
}

func (e StateEvent) sessionEventType() string { return "state" }

// LogEvent appends one line to the live conversation log.
type LogEvent struct {
	Speaker string
	Text    string
}

func (e LogEvent) sessionEventType() string { return "log" }

// Line renders the log entry the way the overlay shows it.
func (e LogEvent) Line() string {
	return fmt.Sprintf("%s: %s", e.Speaker, e.Text)
}

// NoticeEvent is a dismissable user-facing notice (degraded capture,
// session ended, connection failed).
type NoticeEvent struct {
	Message string
}

func (e NoticeEvent) sessionEventType() string { return "notice" }

// CheckInEvent reports the outcome of the post-live check-in request.
type CheckInEvent struct {
	Reply    string
	AudioMP3 []byte
	Err      error
}

func (e CheckInEvent) sessionEventType() string { return "check_in" }

// Transport is the duplex connection the controller drives.
type Transport interface {
	Connect(ctx context.Context) error
	Send(input protocol.RealtimeInput) error
	Close() error
	Events() <-chan transport.Event
}

// AudioCapture produces timed outbound chunks.
type AudioCapture interface {
	Start() error
	Stop()
}

// VideoCapture retains the most recent webcam frame.
type VideoCapture interface {
	Start()
	Latest() []byte
	Stop()
}

// Playback consumes inbound synthesized audio.
type Playback interface {
	Enqueue(encoded string) error
	Close()
}

// CheckInClient issues the single synthetic request that hands control
// back to the turn-based chat flow after a live session.
type CheckInClient interface {
	PostLiveCheckIn(ctx context.Context) (reply string, audioMP3 []byte, err error)
}

// Config wires the controller. Factories run per session so a closed
// controller can open again; device factories returning a device access
// error degrade the session instead of failing it.
type Config struct {
	NewTransport    func() Transport
	NewAudioCapture func(sink func(capture.Chunk)) (AudioCapture, error)
	NewVideoCapture func() (VideoCapture, error)
	NewPlayback     func() Playback

	CheckIn      CheckInClient
	CheckInDelay time.Duration // default 1.5s

	Logger *slog.Logger
}

// Controller runs at most one live session at a time.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	state State
	run   *sessionRun

	events chan Event
}

// sessionRun holds the per-session collaborators and once-guards so
// teardown steps execute exactly once no matter how many paths race into
// closing.
type sessionRun struct {
	id        string
	transport Transport
	audio     AudioCapture
	video     VideoCapture
	playback  Playback

	teardownOnce sync.Once
	checkInOnce  sync.Once
	done         chan struct{}

	// stopRequested records a Stop that arrived while the run was still
	// being constructed. Guarded by Controller.mu; Start honors it before
	// going active.
	stopRequested bool
}

// New creates an idle controller.
func New(cfg Config) *Controller {
	if cfg.CheckInDelay <= 0 {
		cfg.CheckInDelay = DefaultCheckInDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "session"),
		state:  StateIdle,
		events: make(chan Event, 128),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events yields controller events. The channel is shared across sessions
// and never closes.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Start opens a live session: acquire devices, connect the transport, wire
// the pipelines. Only valid from idle; re-entry before the previous
// session has fully closed is rejected.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return core.NewTransportConnectError(fmt.Sprintf("live session already %s", c.state), nil)
	}
	c.state = StateOpening
	run := &sessionRun{
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}
	c.run = run
	c.mu.Unlock()
	c.emit(StateEvent{State: StateOpening})

	run.playback = c.cfg.NewPlayback()

	// Camera denial degrades to audio-only; microphone denial still lets
	// the session reach active (assistant audio out, nothing in).
	if video, err := c.cfg.NewVideoCapture(); err != nil {
		c.reportDeviceError("camera", err)
	} else {
		run.video = video
	}
	audio, err := c.cfg.NewAudioCapture(func(chunk capture.Chunk) {
		c.sendChunk(run, chunk)
	})
	if err != nil {
		c.reportDeviceError("microphone", err)
	} else {
		run.audio = audio
	}

	run.transport = c.cfg.NewTransport()
	if err := run.transport.Connect(ctx); err != nil {
		c.emit(NoticeEvent{Message: "Connection failed"})
		c.teardown(run, false)
		return err
	}

	if run.video != nil {
		run.video.Start()
	}
	if run.audio != nil {
		if err := run.audio.Start(); err != nil {
			c.reportDeviceError("microphone", err)
			run.audio = nil
		}
	}

	// A Stop that raced the opening sequence is honored here, once every
	// collaborator exists for teardown to release.
	c.mu.Lock()
	if run.stopRequested {
		c.mu.Unlock()
		c.teardown(run, true)
		return nil
	}
	c.state = StateActive
	c.mu.Unlock()
	c.emit(StateEvent{State: StateActive})
	go c.eventLoop(run)
	return nil
}

// Stop closes the active session. A no-op when already idle; during
// opening it marks the run, and Start tears down as soon as the
// collaborators are in place.
func (c *Controller) Stop() {
	c.mu.Lock()
	run := c.run
	state := c.state
	if state == StateOpening && run != nil {
		run.stopRequested = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if run == nil || state == StateIdle || state == StateClosing {
		return
	}
	c.teardown(run, true)
}

// eventLoop consumes the transport's inbound stream for the life of the
// connection: text to the conversation log, audio to playback, closure to
// teardown.
func (c *Controller) eventLoop(run *sessionRun) {
	for event := range run.transport.Events() {
		switch e := event.(type) {
		case transport.TextEvent:
			c.emit(LogEvent{Speaker: AssistantName, Text: e.Text})
		case transport.AudioEvent:
			// Malformed chunks are dropped inside playback; the session
			// continues without user-visible interruption.
			_ = run.playback.Enqueue(e.Data)
		case transport.ClosedEvent:
			if e.Err != nil {
				c.emit(NoticeEvent{Message: "Connection error"})
			} else {
				c.emit(NoticeEvent{Message: "Live session ended"})
			}
			c.teardown(run, true)
			return
		}
	}
}

// sendChunk packages one flushed audio chunk, attaching the most recent
// webcam frame when one is available, and hands it to the transport.
func (c *Controller) sendChunk(run *sessionRun, chunk capture.Chunk) {
	input := protocol.RealtimeInput{
		MediaChunks: []protocol.MediaChunk{{
			MimeType: protocol.MimeAudioPCM,
			Data:     chunk.Encoded(),
		}},
	}
	if run.video != nil {
		if frame := run.video.Latest(); frame != nil {
			input.MediaChunks = append(input.MediaChunks, protocol.MediaChunk{
				MimeType: protocol.MimeImageJPEG,
				Data:     protocol.EncodeFrame(frame),
			})
		}
	}

	if err := run.transport.Send(input); err != nil {
		// Capture timers race a closing transport; that is expected and
		// stays a local diagnostic.
		if core.IsType(err, core.ErrSendClosed) {
			c.logger.Debug("chunk dropped, transport closed", "session_id", run.id)
			return
		}
		c.logger.Warn("chunk send failed", "session_id", run.id, "error", err)
	}
}

// teardown stops capture, closes the transport and releases devices
// exactly once, then schedules the single post-live check-in and returns
// the controller to idle.
func (c *Controller) teardown(run *sessionRun, checkIn bool) {
	run.teardownOnce.Do(func() {
		c.setState(StateClosing)

		if run.audio != nil {
			run.audio.Stop()
		}
		if run.video != nil {
			run.video.Stop()
		}
		if err := run.transport.Close(); err != nil {
			c.logger.Warn("transport close", "session_id", run.id, "error", err)
		}
		run.playback.Close()

		if checkIn {
			c.scheduleCheckIn(run)
		}

		c.mu.Lock()
		c.state = StateIdle
		c.run = nil
		c.mu.Unlock()
		c.emit(StateEvent{State: StateIdle})
		close(run.done)
	})
}

// scheduleCheckIn issues exactly one synthetic "returning from live
// session" request after a short pause. The session is already idle when
// the request fires; the reply belongs to the turn-based chat flow.
func (c *Controller) scheduleCheckIn(run *sessionRun) {
	if c.cfg.CheckIn == nil {
		return
	}
	run.checkInOnce.Do(func() {
		time.AfterFunc(c.cfg.CheckInDelay, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			reply, audio, err := c.cfg.CheckIn.PostLiveCheckIn(ctx)
			if err != nil {
				c.logger.Warn("post-live check-in failed", "session_id", run.id, "error", err)
			}
			c.emit(CheckInEvent{Reply: reply, AudioMP3: audio, Err: err})
		})
	})
}

// Done reports when the current session has fully closed; nil when idle.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	return c.run.done
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.emit(StateEvent{State: state})
}

func (c *Controller) reportDeviceError(device string, err error) {
	c.logger.Warn("device unavailable", "device", device, "error", err)
	switch device {
	case "camera":
		c.emit(NoticeEvent{Message: "Camera access denied. Voice-only mode will be used."})
	case "microphone":
		c.emit(NoticeEvent{Message: "Microphone access denied"})
	}
}

func (c *Controller) emit(event Event) {
	select {
	case c.events <- event:
	default:
		c.logger.Warn("event channel full, dropping event")
	}
}
