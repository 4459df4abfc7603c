// Package playback turns bursty inbound synthesized-audio chunks into
// continuous output. Chunks are queued on arrival; the output device pulls
// samples at its own pace and hears silence, not a glitch, when the queue
// runs dry.
package playback

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/mitra-ai/mitra-live/pkg/core/pcm"
	"github.com/mitra-ai/mitra-live/pkg/core/protocol"
)

const (
	bytesPerSample = 2

	// DefaultMaxBuffered bounds the queue. The remote side offers no
	// backpressure signal, so overflow drops the oldest audio rather than
	// growing without bound.
	DefaultMaxBuffered = 30 * time.Second
)

// Config configures a Player.
type Config struct {
	SampleRate  int           // default 24000
	Channels    int           // default 1
	MaxBuffered time.Duration // queue bound, default 30s

	// NoSpeaker runs the queue without an output device, for tests and
	// headless use.
	NoSpeaker bool

	// DumpPath, when set, appends every decoded chunk to a WAV file.
	DumpPath string

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = protocol.PlaybackSampleRateHz
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = DefaultMaxBuffered
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Player queues decoded PCM and feeds the output device. The device is
// initialized lazily, exactly once, on the first chunk.
type Player struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	queue    []byte
	maxBytes int
	dropped  int64
	closed   bool

	initOnce sync.Once
	initErr  error
	inited   bool
	otoCtx   *oto.Context
	player   *oto.Player

	dumpOnce sync.Once
	dump     *os.File
	dumpPCM  []byte
}

// New creates an uninitialized player.
func New(cfg Config) *Player {
	cfg = cfg.withDefaults()
	return &Player{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "playback"),
		maxBytes: int(cfg.MaxBuffered.Seconds() * float64(cfg.SampleRate*cfg.Channels*bytesPerSample)),
	}
}

// Ready reports whether output initialization has completed.
func (p *Player) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inited
}

// Enqueue decodes one transport-encoded chunk and queues it for playback.
// A malformed chunk is dropped (decode error returned); the session
// continues.
func (p *Player) Enqueue(encoded string) error {
	data, err := pcm.Decode(encoded)
	if err != nil {
		p.logger.Warn("dropping malformed audio chunk", "error", err)
		return err
	}
	p.push(data)
	return nil
}

func (p *Player) push(data []byte) {
	p.initOnce.Do(p.initDevice)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.queue = append(p.queue, data...)
	if over := len(p.queue) - p.maxBytes; over > 0 {
		// Drop the oldest audio; the newest chunks stay closest to live.
		p.queue = p.queue[over:]
		p.dropped += int64(over)
		p.logger.Warn("playback queue overflow", "dropped_bytes", over)
	}

	p.writeDump(data)
}

// initDevice runs once, on the first chunk.
func (p *Player) initDevice() {
	if p.cfg.NoSpeaker {
		p.mu.Lock()
		p.inited = true
		p.mu.Unlock()
		return
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   p.cfg.SampleRate,
		ChannelCount: p.cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		p.initErr = err
		p.logger.Error("speaker init failed", "error", err)
		return
	}
	<-ready

	// Some platforms hand the context over suspended.
	_ = otoCtx.Resume()

	player := otoCtx.NewPlayer(p)
	p.mu.Lock()
	p.otoCtx = otoCtx
	p.player = player
	p.inited = true
	p.mu.Unlock()
	player.Play()
}

// Read implements io.Reader for the output device's pull callback. It runs
// on the device's schedule and must not block: when the queue is empty it
// returns silence so output stays continuous across chunk gaps.
func (p *Player) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := copy(buf, p.queue)
	p.queue = p.queue[n:]
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return len(buf), nil
}

// Buffered returns the duration of audio currently queued.
func (p *Player) Buffered() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	bytesPerSecond := p.cfg.SampleRate * p.cfg.Channels * bytesPerSample
	return time.Duration(len(p.queue)) * time.Second / time.Duration(bytesPerSecond)
}

// Dropped returns the total bytes discarded on queue overflow.
func (p *Player) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close stops playback and releases the device. Idempotent.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.queue = nil
	player := p.player
	p.player = nil
	dump := p.dump
	dumpPCM := p.dumpPCM
	p.dump = nil
	p.mu.Unlock()

	if player != nil {
		_ = player.Close()
	}
	if dump != nil {
		p.finishDump(dump, dumpPCM)
	}
}

func (p *Player) writeDump(data []byte) {
	if p.cfg.DumpPath == "" {
		return
	}
	p.dumpOnce.Do(func() {
		f, err := os.Create(p.cfg.DumpPath)
		if err != nil {
			p.logger.Warn("audio dump unavailable", "error", err)
			return
		}
		p.dump = f
	})
	if p.dump == nil {
		return
	}
	p.dumpPCM = append(p.dumpPCM, data...)
}

func (p *Player) finishDump(f *os.File, pcmData []byte) {
	if _, err := f.Write(pcm.ToWAV(pcmData, p.cfg.SampleRate, 16, p.cfg.Channels)); err != nil {
		p.logger.Warn("audio dump write failed", "error", err)
	}
	_ = f.Close()
}
