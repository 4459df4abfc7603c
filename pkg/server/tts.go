package server

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

// CloudTTS synthesizes reply text to MP3 through Google Cloud
// Text-to-Speech.
type CloudTTS struct {
	client   *texttospeech.Client
	voice    string
	language string
}

func NewCloudTTS(ctx context.Context, cfg Config) (*CloudTTS, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating text-to-speech client: %w", err)
	}
	return &CloudTTS{
		client:   client,
		voice:    cfg.TTSVoice,
		language: cfg.TTSLanguage,
	}, nil
}

func (t *CloudTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := t.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: t.language,
			Name:         t.voice,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_FEMALE,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.AudioContent, nil
}

func (t *CloudTTS) Close() error {
	return t.client.Close()
}
