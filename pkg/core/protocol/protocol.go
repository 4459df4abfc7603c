// Package protocol defines the text frames exchanged on the live session
// socket. Frames are JSON; audio and image payloads travel base64-encoded
// inside them.
package protocol

import (
	"encoding/base64"
	"encoding/json"
)

const (
	MimeAudioPCM  = "audio/pcm"
	MimeImageJPEG = "image/jpeg"

	ModalityAudio = "AUDIO"
	ModalityText  = "TEXT"

	// Capture and synthesis rates are fixed by the remote service.
	CaptureSampleRateHz  = 16000
	PlaybackSampleRateHz = 24000
)

// TextPart is a single text fragment of a system instruction.
type TextPart struct {
	Text string `json:"text"`
}

// SystemInstruction carries the session persona.
type SystemInstruction struct {
	Parts []TextPart `json:"parts"`
}

// GenerationConfig declares the requested response modality.
type GenerationConfig struct {
	ResponseModalities []string `json:"response_modalities"`
}

// Setup is the session configuration declared on connect.
type Setup struct {
	SystemInstruction SystemInstruction `json:"system_instruction"`
	GenerationConfig  GenerationConfig  `json:"generation_config"`
}

// SetupMessage is the first and only configuration frame. It must be sent
// exactly once, immediately after the transport opens, before any media.
type SetupMessage struct {
	Setup Setup `json:"setup"`
}

// NewSetupMessage builds a setup frame requesting audio replies for the
// given persona instructions.
func NewSetupMessage(systemInstruction string) SetupMessage {
	return SetupMessage{
		Setup: Setup{
			SystemInstruction: SystemInstruction{
				Parts: []TextPart{{Text: systemInstruction}},
			},
			GenerationConfig: GenerationConfig{
				ResponseModalities: []string{ModalityAudio},
			},
		},
	}
}

// EncodeFrame encodes a JPEG frame for transport inside a media chunk.
func EncodeFrame(jpeg []byte) string {
	return base64.StdEncoding.EncodeToString(jpeg)
}

// MediaChunk is one encoded media payload inside an outbound frame.
type MediaChunk struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// RealtimeInput carries the media chunks of one outbound frame: always one
// audio chunk, plus at most one image chunk when a frame is available.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"media_chunks"`
}

// RealtimeInputMessage is an outbound media frame.
type RealtimeInputMessage struct {
	RealtimeInput RealtimeInput `json:"realtime_input"`
}

// ServerMessage is an inbound frame. Either or both fields may be present;
// Audio holds base64 PCM16 at the playback sample rate.
type ServerMessage struct {
	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"`
}

// ClientFrame is the union of frames a server can receive from a client.
// Exactly one of Setup or RealtimeInput is set per frame.
type ClientFrame struct {
	Setup         *Setup         `json:"setup,omitempty"`
	RealtimeInput *RealtimeInput `json:"realtime_input,omitempty"`
}

// DecodeClientFrame parses one client text frame.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ClientFrame{}, err
	}
	return frame, nil
}
