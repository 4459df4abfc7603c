package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewSetupMessage_WireShape(t *testing.T) {
	msg := NewSetupMessage("You are a helpful assistant.")
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal setup: %v", err)
	}

	payload := string(data)
	for _, want := range []string{
		`"setup"`,
		`"system_instruction"`,
		`"parts"`,
		`"generation_config"`,
		`"response_modalities":["AUDIO"]`,
	} {
		if !strings.Contains(payload, want) {
			t.Fatalf("setup frame missing %s: %s", want, payload)
		}
	}
}

func TestDecodeClientFrame_Distinguishes(t *testing.T) {
	setup, err := DecodeClientFrame([]byte(`{"setup":{"system_instruction":{"parts":[{"text":"hi"}]},"generation_config":{"response_modalities":["AUDIO"]}}}`))
	if err != nil {
		t.Fatalf("decode setup: %v", err)
	}
	if setup.Setup == nil || setup.RealtimeInput != nil {
		t.Fatal("expected a setup frame")
	}
	if setup.Setup.SystemInstruction.Parts[0].Text != "hi" {
		t.Fatalf("unexpected instruction: %+v", setup.Setup)
	}

	media, err := DecodeClientFrame([]byte(`{"realtime_input":{"media_chunks":[{"mime_type":"audio/pcm","data":"AAA="}]}}`))
	if err != nil {
		t.Fatalf("decode media: %v", err)
	}
	if media.RealtimeInput == nil || media.Setup != nil {
		t.Fatal("expected a realtime_input frame")
	}
	if media.RealtimeInput.MediaChunks[0].MimeType != MimeAudioPCM {
		t.Fatalf("unexpected mime type: %+v", media.RealtimeInput)
	}
}

func TestServerMessage_BothFieldsOptional(t *testing.T) {
	var msg ServerMessage
	if err := json.Unmarshal([]byte(`{"text":"Hello","audio":"AAE="}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Text != "Hello" || msg.Audio != "AAE=" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
