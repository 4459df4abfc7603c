package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

type fakeFrameSource struct {
	n      atomic.Int64
	fail   atomic.Bool
	closed atomic.Int64
}

func (f *fakeFrameSource) Capture(context.Context) ([]byte, error) {
	if f.fail.Load() {
		return nil, errors.New("camera unavailable")
	}
	return []byte(fmt.Sprintf("frame-%d", f.n.Add(1))), nil
}

func (f *fakeFrameSource) Close() error {
	f.closed.Add(1)
	return nil
}

func TestFrameSlot_LatestWins(t *testing.T) {
	var slot FrameSlot
	if slot.Latest() != nil {
		t.Fatal("empty slot should return nil")
	}

	for i := 1; i <= 5; i++ {
		slot.Set([]byte(fmt.Sprintf("frame-%d", i)))
	}
	if got := string(slot.Latest()); got != "frame-5" {
		t.Fatalf("slot holds %q, want frame-5", got)
	}
	// Reading does not consume the frame.
	if got := string(slot.Latest()); got != "frame-5" {
		t.Fatalf("second read = %q, want frame-5", got)
	}
}

func TestVideoPipeline_RefreshesLatestFrame(t *testing.T) {
	src := &fakeFrameSource{}
	p := NewVideoPipeline(src, VideoConfig{Interval: 5 * time.Millisecond})
	p.Start()
	defer p.Stop()

	deadline := time.Now().Add(time.Second)
	for src.n.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("pipeline never captured 3 frames")
		}
		time.Sleep(time.Millisecond)
	}

	if p.Latest() == nil {
		t.Fatal("expected a retained frame")
	}
}

func TestVideoPipeline_FailedCaptureKeepsPreviousFrame(t *testing.T) {
	src := &fakeFrameSource{}
	p := NewVideoPipeline(src, VideoConfig{Interval: time.Hour})

	p.captureOnce()
	first := string(p.Latest())
	if first != "frame-1" {
		t.Fatalf("first capture = %q", first)
	}

	src.fail.Store(true)
	p.captureOnce()
	if got := string(p.Latest()); got != first {
		t.Fatalf("failed capture replaced frame: %q", got)
	}
}

func TestVideoPipeline_StopClosesSourceOnce(t *testing.T) {
	src := &fakeFrameSource{}
	p := NewVideoPipeline(src, VideoConfig{Interval: time.Hour})
	p.Start()

	p.Stop()
	p.Stop()

	if got := src.closed.Load(); got != 1 {
		t.Fatalf("source closed %d times, want 1", got)
	}
}
