// Command mitra-live runs a live voice/video conversation with the Mitra
// assistant from a terminal.
//
// Usage:
//
//	go run ./cmd/mitra-live
//
// Environment variables:
//
//	MITRA_SERVER_URL - Server base URL (default http://localhost:8000)
//
// Controls:
//
//	q - End the live session
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mitra-ai/mitra-live/pkg/chat"
	"github.com/mitra-ai/mitra-live/pkg/core/capture"
	"github.com/mitra-ai/mitra-live/pkg/core/playback"
	"github.com/mitra-ai/mitra-live/pkg/core/protocol"
	"github.com/mitra-ai/mitra-live/pkg/core/session"
	"github.com/mitra-ai/mitra-live/pkg/core/transport"
)

const systemInstruction = "You are Mitra, a compassionate mental health support assistant. " +
	"Speak warmly and naturally, keep replies short, and never provide diagnoses or prescriptions. " +
	"If the user indicates self-harm or immediate danger, gently encourage them to contact local crisis services."

func main() {
	_ = godotenv.Load()

	baseURL := os.Getenv("MITRA_SERVER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	var (
		serverFlag = flag.String("server", baseURL, "server base URL")
		camera     = flag.Int("camera", 0, "camera device index")
		noSpeaker  = flag.Bool("no-speaker", false, "run without audio output")
		dumpPath   = flag.String("dump", "", "write received audio to a WAV file")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(*serverFlag, "/"), "http") + "/live-session"

	ctrl := session.New(session.Config{
		NewTransport: func() session.Transport {
			return transport.New(transport.Config{
				URL:    wsURL,
				Setup:  protocol.NewSetupMessage(systemInstruction),
				Logger: logger,
			})
		},
		NewAudioCapture: func(sink func(capture.Chunk)) (session.AudioCapture, error) {
			mic, err := capture.NewMicSource(protocol.CaptureSampleRateHz, capture.DefaultBlockFrames)
			if err != nil {
				return nil, err
			}
			return capture.NewAudioPipeline(mic, capture.AudioConfig{Logger: logger}, sink), nil
		},
		NewVideoCapture: func() (session.VideoCapture, error) {
			cam, err := capture.NewWebcamSource(*camera, capture.DefaultFrameWidth, capture.DefaultFrameHeight)
			if err != nil {
				return nil, err
			}
			return capture.NewVideoPipeline(cam, capture.VideoConfig{Logger: logger}), nil
		},
		NewPlayback: func() session.Playback {
			return playback.New(playback.Config{
				NoSpeaker: *noSpeaker,
				DumpPath:  *dumpPath,
				Logger:    logger,
			})
		},
		CheckIn: chat.New(chat.Config{BaseURL: *serverFlag, Logger: logger}),
		Logger:  logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nEnding session...")
		ctrl.Stop()
		cancel()
	}()

	fmt.Println("Connecting to", *serverFlag, "...")
	if err := ctrl.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "failed to start live session:", err)
		os.Exit(1)
	}
	fmt.Println("Live session active. Speak naturally; press q then Enter to end.")

	// Stdin control loop.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if strings.TrimSpace(scanner.Text()) == "q" {
				fmt.Println("Ending session...")
				ctrl.Stop()
				return
			}
		}
	}()

	for event := range ctrl.Events() {
		switch e := event.(type) {
		case session.LogEvent:
			fmt.Println(e.Line())
		case session.NoticeEvent:
			fmt.Println("[!]", e.Message)
		case session.StateEvent:
			logger.Debug("session state", "state", e.State)
		case session.CheckInEvent:
			if e.Err != nil {
				fmt.Fprintln(os.Stderr, "check-in failed:", e.Err)
			} else if e.Reply != "" {
				fmt.Println(session.AssistantName + ": " + e.Reply)
			}
			return
		}
	}
}
