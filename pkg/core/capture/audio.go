// Package capture produces the outbound media of a live session: timed
// microphone audio chunks and an opportunistically refreshed webcam frame.
package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mitra-ai/mitra-live/pkg/core/pcm"
	"github.com/mitra-ai/mitra-live/pkg/core/protocol"
)

const (
	// DefaultBlockFrames is the per-callback block size requested from the
	// capture device.
	DefaultBlockFrames = 4096

	// DefaultFlushInterval is the wall-clock chunking period.
	DefaultFlushInterval = 3000 * time.Millisecond
)

// AudioSource delivers normalized float sample blocks from a microphone.
// The block callback runs on the device's realtime thread and must not
// block or perform I/O.
type AudioSource interface {
	Start(onBlock func([]float32)) error
	Stop() error
}

// Chunk is one bounded run of captured samples, immutable once produced.
// Chunk boundaries are time-based: a quiet device shrinks a chunk, never
// pads it.
type Chunk struct {
	Samples []int16
}

// Encoded returns the chunk's transport representation.
func (c Chunk) Encoded() string {
	return pcm.Encode(pcm.Int16ToBytes(c.Samples))
}

// AudioConfig configures the microphone pipeline.
type AudioConfig struct {
	SampleRate    int           // default 16000
	FlushInterval time.Duration // default 3s
	Logger        *slog.Logger
}

func (c AudioConfig) withDefaults() AudioConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = protocol.CaptureSampleRateHz
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// accumulator is the pending sample buffer shared between the device
// callback (append) and the flush timer (drain).
type accumulator struct {
	mu      sync.Mutex
	pending []int16
}

func (a *accumulator) append(samples []int16) {
	a.mu.Lock()
	a.pending = append(a.pending, samples...)
	a.mu.Unlock()
}

func (a *accumulator) drain() []int16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pending
	a.pending = nil
	return out
}

// AudioPipeline accumulates microphone samples and flushes them as one
// chunk per interval.
type AudioPipeline struct {
	cfg AudioConfig
	src AudioSource
	acc accumulator

	sink func(Chunk)

	stopOnce sync.Once
	done     chan struct{}
}

// NewAudioPipeline wires an audio source to a chunk sink.
func NewAudioPipeline(src AudioSource, cfg AudioConfig, sink func(Chunk)) *AudioPipeline {
	return &AudioPipeline{
		cfg:  cfg.withDefaults(),
		src:  src,
		sink: sink,
		done: make(chan struct{}),
	}
}

// Start begins capture and the flush timer.
func (p *AudioPipeline) Start() error {
	if err := p.src.Start(p.onBlock); err != nil {
		return err
	}
	go p.flushLoop()
	return nil
}

// onBlock runs on the device's realtime callback: convert and append only.
func (p *AudioPipeline) onBlock(samples []float32) {
	p.acc.append(pcm.FloatToInt16(samples))
}

func (p *AudioPipeline) flushLoop() {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.flushOnce()
		case <-p.done:
			return
		}
	}
}

// flushOnce packages everything accumulated since the previous flush into
// one immutable chunk. A flush with zero samples still produces an empty
// chunk; the remote side tolerates it and the browser client it replaces
// behaved the same way.
func (p *AudioPipeline) flushOnce() {
	samples := p.acc.drain()
	if len(samples) == 0 {
		p.cfg.Logger.Debug("audio flush with no accumulated samples")
	}
	p.sink(Chunk{Samples: samples})
}

// Stop disconnects the device callback, releases the device and cancels the
// flush timer. Safe to call multiple times; each teardown step runs once.
func (p *AudioPipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		if err := p.src.Stop(); err != nil {
			p.cfg.Logger.Warn("audio source stop", "error", err)
		}
	})
}
