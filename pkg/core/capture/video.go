package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultFrameWidth and DefaultFrameHeight bound the capture resolution.
	DefaultFrameWidth  = 640
	DefaultFrameHeight = 480

	// DefaultFrameInterval is the still-frame refresh period. It runs on
	// its own timer with no phase coupling to the audio flush timer.
	DefaultFrameInterval = 3000 * time.Millisecond
)

// FrameSource produces one JPEG-encoded still frame per call.
type FrameSource interface {
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}

// FrameSlot holds the single most recent captured frame. Single writer
// (the capture timer), single reader (the send path); it always holds a
// complete frame or none.
type FrameSlot struct {
	mu    sync.Mutex
	frame []byte
}

// Set overwrites the slot. Superseded frames are discarded, never queued.
func (s *FrameSlot) Set(jpeg []byte) {
	s.mu.Lock()
	s.frame = jpeg
	s.mu.Unlock()
}

// Latest returns the current frame, or nil if none has been captured yet.
// The frame stays in the slot until the next capture replaces it.
func (s *FrameSlot) Latest() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// VideoConfig configures the webcam pipeline.
type VideoConfig struct {
	Interval time.Duration // default 3s
	Logger   *slog.Logger
}

func (c VideoConfig) withDefaults() VideoConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultFrameInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// VideoPipeline refreshes a FrameSlot from a FrameSource on a fixed timer.
type VideoPipeline struct {
	cfg  VideoConfig
	src  FrameSource
	slot FrameSlot

	stopOnce sync.Once
	done     chan struct{}
}

// NewVideoPipeline wires a frame source to a latest-frame slot.
func NewVideoPipeline(src FrameSource, cfg VideoConfig) *VideoPipeline {
	return &VideoPipeline{
		cfg:  cfg.withDefaults(),
		src:  src,
		done: make(chan struct{}),
	}
}

// Start begins the capture timer.
func (p *VideoPipeline) Start() {
	go p.captureLoop()
}

// Latest returns the most recent complete frame, or nil.
func (p *VideoPipeline) Latest() []byte {
	return p.slot.Latest()
}

func (p *VideoPipeline) captureLoop() {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.captureOnce()
		case <-p.done:
			return
		}
	}
}

func (p *VideoPipeline) captureOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Interval)
	defer cancel()

	frame, err := p.src.Capture(ctx)
	if err != nil {
		// A missed frame is not fatal; the previous frame stays current.
		p.cfg.Logger.Debug("frame capture failed", "error", err)
		return
	}
	p.slot.Set(frame)
}

// Stop cancels the capture timer and releases the camera. Safe to call
// multiple times.
func (p *VideoPipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		if err := p.src.Close(); err != nil {
			p.cfg.Logger.Warn("frame source close", "error", err)
		}
	})
}
