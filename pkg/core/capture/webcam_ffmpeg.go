package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os/exec"
	"runtime"

	"github.com/mitra-ai/mitra-live/pkg/core"
)

// WebcamSource captures single JPEG stills from the default camera by
// running ffmpeg once per frame.
type WebcamSource struct {
	deviceIndex int
	width       int
	height      int
	ffmpegPath  string
}

// NewWebcamSource probes for ffmpeg and prepares a capture source bounded
// to the given resolution. A missing binary or camera is a device access
// error; callers degrade to audio-only.
func NewWebcamSource(deviceIndex, width, height int) (*WebcamSource, error) {
	if width <= 0 {
		width = DefaultFrameWidth
	}
	if height <= 0 {
		height = DefaultFrameHeight
	}

	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, core.NewDeviceAccessError("camera", fmt.Errorf("ffmpeg not found: %w", err))
	}
	return &WebcamSource{
		deviceIndex: deviceIndex,
		width:       width,
		height:      height,
		ffmpegPath:  path,
	}, nil
}

// Capture grabs one frame as JPEG bytes.
func (w *WebcamSource) Capture(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, w.ffmpegPath, w.args()...)
	output, err := cmd.Output()
	if err != nil {
		return nil, core.NewDeviceAccessError("camera", err)
	}

	// Only complete, decodable frames enter the slot.
	if _, err := jpeg.DecodeConfig(bytes.NewReader(output)); err != nil {
		return nil, core.NewDeviceAccessError("camera", fmt.Errorf("invalid frame: %w", err))
	}
	return output, nil
}

// Close releases the camera. One-shot captures hold no persistent handle.
func (w *WebcamSource) Close() error { return nil }

func (w *WebcamSource) args() []string {
	size := fmt.Sprintf("%dx%d", w.width, w.height)

	var in []string
	switch runtime.GOOS {
	case "darwin":
		in = []string{
			"-f", "avfoundation",
			"-video_size", size,
			"-i", fmt.Sprintf("%d", w.deviceIndex),
		}
	case "windows":
		in = []string{
			"-f", "dshow",
			"-video_size", size,
			"-i", "video=default",
		}
	default:
		in = []string{
			"-f", "v4l2",
			"-video_size", size,
			"-i", fmt.Sprintf("/dev/video%d", w.deviceIndex),
		}
	}

	return append(in,
		"-frames:v", "1",
		"-f", "mjpeg",
		"-loglevel", "error",
		"-",
	)
}
