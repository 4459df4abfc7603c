package capture

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/mitra-ai/mitra-live/pkg/core"
)

// MicSource captures single-channel float samples from the default
// microphone via malgo.
type MicSource struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	sampleRate  int
	blockFrames int

	mu      sync.Mutex
	stopped bool
}

// NewMicSource initializes the audio backend. Failure to reach the
// subsystem is a device access error.
func NewMicSource(sampleRate, blockFrames int) (*MicSource, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if blockFrames <= 0 {
		blockFrames = DefaultBlockFrames
	}

	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, core.NewDeviceAccessError("microphone", err)
	}
	return &MicSource{
		ctx:         ctx,
		sampleRate:  sampleRate,
		blockFrames: blockFrames,
	}, nil
}

// Start requests exclusive capture access and registers the block callback.
// The callback runs on malgo's realtime thread.
func (m *MicSource) Start(onBlock func([]float32)) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(m.blockFrames)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, frameCount uint32) {
			onBlock(bytesToFloat32(pInputSamples, int(frameCount)))
		},
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return core.NewDeviceAccessError("microphone", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return core.NewDeviceAccessError("microphone", err)
	}
	m.device = device
	return nil
}

// Stop releases the device and the backend context.
func (m *MicSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true

	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
	return nil
}

func bytesToFloat32(data []byte, frames int) []float32 {
	if frames > len(data)/4 {
		frames = len(data) / 4
	}
	out := make([]float32, frames)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
