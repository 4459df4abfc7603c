package server

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/mitra-ai/mitra-live/pkg/core/protocol"
)

// GenAI backs the live bridge and the chat generator with the Gemini API.
type GenAI struct {
	client    *genai.Client
	liveModel string
	chatModel string
}

func NewGenAI(ctx context.Context, cfg Config) (*GenAI, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GoogleAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GenAI{
		client:    client,
		liveModel: cfg.LiveModel,
		chatModel: cfg.ChatModel,
	}, nil
}

// DialLive opens a Gemini Live session configured from the client's setup
// declaration. It satisfies UpstreamDialer.
func (g *GenAI) DialLive(ctx context.Context, setup protocol.Setup) (Upstream, error) {
	cfg := &genai.LiveConnectConfig{}

	modalities := setup.GenerationConfig.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{protocol.ModalityAudio}
	}
	for _, m := range modalities {
		cfg.ResponseModalities = append(cfg.ResponseModalities, genai.Modality(m))
	}

	var instruction strings.Builder
	for _, part := range setup.SystemInstruction.Parts {
		instruction.WriteString(part.Text)
	}
	if text := instruction.String(); text != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: text}},
		}
	}

	session, err := g.client.Live.Connect(ctx, g.liveModel, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to live model: %w", err)
	}
	return &genaiUpstream{session: session}, nil
}

// Generate produces one chat reply from a fully assembled prompt.
func (g *GenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.chatModel, genai.Text(prompt), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// DetectIntent runs the function-calling crisis screen: the model is given
// two declarations and calls one when the message warrants it.
func (g *GenAI) DetectIntent(ctx context.Context, message string) (Intent, error) {
	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        string(IntentCrisis),
					Description: "Detects explicit expressions of self-harm, suicidal ideation, or other immediate, severe mental health distress.",
				},
				{
					Name:        string(IntentCalm),
					Description: "Detects when a user is expressing that they are feeling better or have calmed down.",
				},
			},
		}},
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.chatModel, genai.Text(message), config)
	if err != nil {
		return IntentNone, err
	}
	for _, call := range resp.FunctionCalls() {
		switch call.Name {
		case string(IntentCrisis):
			return IntentCrisis, nil
		case string(IntentCalm):
			return IntentCalm, nil
		}
	}
	return IntentNone, nil
}

type genaiUpstream struct {
	session *genai.Session
}

func (u *genaiUpstream) SendMedia(mimeType string, data []byte) error {
	return u.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{MIMEType: mimeType, Data: data},
	})
}

func (u *genaiUpstream) Receive() ([]MediaPart, error) {
	msg, err := u.session.Receive()
	if err != nil {
		return nil, err
	}
	if msg.ServerContent == nil || msg.ServerContent.ModelTurn == nil {
		return nil, nil
	}
	var parts []MediaPart
	for _, part := range msg.ServerContent.ModelTurn.Parts {
		if part == nil {
			continue
		}
		out := MediaPart{Text: part.Text}
		if part.InlineData != nil {
			out.Audio = part.InlineData.Data
		}
		if out.Text != "" || len(out.Audio) > 0 {
			parts = append(parts, out)
		}
	}
	return parts, nil
}

func (u *genaiUpstream) Close() error {
	return u.session.Close()
}
