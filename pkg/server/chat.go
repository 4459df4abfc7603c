package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Intent is the outcome of the crisis screen run on each wellness turn.
type Intent string

const (
	IntentNone   Intent = ""
	IntentCrisis Intent = "report_crisis"
	IntentCalm   Intent = "report_calm"
)

// ContentGenerator produces assistant replies and runs the crisis screen.
type ContentGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	DetectIntent(ctx context.Context, message string) (Intent, error)
}

// SpeechSynthesizer renders reply text to MP3.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type chatMode string

const (
	modeText  chatMode = "text"
	modeVoice chatMode = "voice_assistant"
)

type turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// sessionState is one conversation's mutable state. mu serializes turns:
// a handler holds it from form decode to response write, so concurrent
// posts for the same session are applied one at a time.
type sessionState struct {
	mu           sync.Mutex
	history      []turn
	mode         chatMode
	careerActive bool
}

// sessionStore keeps per-session conversation state in memory.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*sessionState)}
}

func (s *sessionStore) ensure(id string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		st = &sessionState{mode: modeText}
		s.sessions[id] = st
	}
	return st
}

// chatResponse is the JSON body of every chat reply.
type chatResponse struct {
	Reply               string `json:"reply,omitempty"`
	TextReply           string `json:"text_reply,omitempty"`
	Mode                string `json:"mode"`
	Audio               string `json:"audio,omitempty"`
	CareerSuggestActive bool   `json:"career_suggest_active"`
	SearchPerformed     bool   `json:"search_performed"`
	CrisisDetected      bool   `json:"crisis_detected,omitempty"`
	PostLiveCheckin     bool   `json:"post_live_checkin,omitempty"`
	Error               string `json:"error,omitempty"`
}

// ChatHandler serves the turn-based /chat endpoint.
type ChatHandler struct {
	Config    Config
	Generator ContentGenerator
	Speech    SpeechSynthesizer
	Logger    *slog.Logger

	store *sessionStore
	logMu sync.Mutex
}

func NewChatHandler(cfg Config, gen ContentGenerator, speech SpeechSynthesizer, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		Config:    cfg,
		Generator: gen,
		Speech:    speech,
		Logger:    logger.With("component", "chat"),
		store:     newSessionStore(),
	}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, chatResponse{Error: "method not allowed", Mode: string(modeText)})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: "invalid form body", Mode: string(modeText)})
		return
	}

	message := strings.TrimSpace(r.PostForm.Get("message"))
	if message == "" {
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: "message is required", Mode: string(modeText)})
		return
	}
	sessionID := r.PostForm.Get("session_id")
	if sessionID == "" {
		sessionID = "default"
	}
	systemKey := r.PostForm.Get("system_key")
	if systemKey == "" {
		systemKey = SystemKeyWellness
	}
	userContext := r.PostForm.Get("context")
	careerSuggest, _ := strconv.ParseBool(r.PostForm.Get("career_suggest"))
	postLive, _ := strconv.ParseBool(r.PostForm.Get("post_live_session"))

	st := h.store.ensure(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.careerActive = careerSuggest

	if postLive {
		h.serveCheckIn(w, r.Context(), st, careerSuggest)
		return
	}

	if careerSuggest {
		systemKey = SystemKeyCareer
	} else {
		if done := h.screenForCrisis(w, r.Context(), sessionID, st, message, careerSuggest); done {
			return
		}
	}

	systemPrompt, ok := SystemPrompts[systemKey]
	if !ok {
		systemPrompt = SystemPrompts[SystemKeyWellness]
	}
	history := trimHistory(st.history, h.Config.MaxHistoryTurns)
	prompt := buildPrompt(systemPrompt, userContext, history, message)

	reply, err := h.Generator.Generate(r.Context(), prompt)
	if err != nil {
		h.Logger.Error("generation failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, chatResponse{
			Error:               "I encountered an error processing your request. Please try again.",
			Mode:                string(modeText),
			CareerSuggestActive: careerSuggest,
		})
		return
	}
	if reply == "" {
		reply = FallbackReply
	}

	st.history = append(st.history, turn{Role: "user", Text: message}, turn{Role: "assistant", Text: reply})

	if st.mode == modeVoice {
		audio, synthErr := h.synthesize(r.Context(), reply)
		if synthErr != nil {
			h.Logger.Error("synthesis failed", "session_id", sessionID, "error", synthErr)
		}
		writeJSON(w, http.StatusOK, chatResponse{
			Mode:                string(modeVoice),
			Audio:               audio,
			TextReply:           reply,
			CareerSuggestActive: careerSuggest,
		})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Reply:               reply,
		Mode:                string(modeText),
		CareerSuggestActive: careerSuggest,
	})
}

// serveCheckIn answers the synthetic turn sent after a live session: a fixed
// reply in voice mode, spoken aloud.
func (h *ChatHandler) serveCheckIn(w http.ResponseWriter, ctx context.Context, st *sessionState, careerSuggest bool) {
	st.mode = modeVoice
	audio, err := h.synthesize(ctx, CheckInReply)
	if err != nil {
		h.Logger.Error("check-in synthesis failed", "error", err)
	}
	st.history = append(st.history, turn{Role: "assistant", Text: CheckInReply})
	writeJSON(w, http.StatusOK, chatResponse{
		Mode:                string(modeVoice),
		Audio:               audio,
		TextReply:           CheckInReply,
		CareerSuggestActive: careerSuggest,
		PostLiveCheckin:     true,
	})
}

// screenForCrisis runs intent detection on wellness turns. It reports true
// when it has written the response itself. Detection failures fall through
// to normal generation.
func (h *ChatHandler) screenForCrisis(w http.ResponseWriter, ctx context.Context, sessionID string, st *sessionState, message string, careerSuggest bool) bool {
	intent, err := h.Generator.DetectIntent(ctx, message)
	if err != nil {
		h.Logger.Warn("intent detection failed", "session_id", sessionID, "error", err)
		return false
	}

	switch {
	case intent == IntentCrisis && st.mode == modeText:
		h.logCrisisEvent(sessionID, message)
		st.mode = modeVoice
		audio, synthErr := h.synthesize(ctx, CrisisResponse)
		if synthErr != nil {
			h.Logger.Error("crisis synthesis failed", "session_id", sessionID, "error", synthErr)
		}
		st.history = append(st.history,
			turn{Role: "user", Text: message},
			turn{Role: "assistant", Text: CrisisResponse})
		writeJSON(w, http.StatusOK, chatResponse{
			Mode:                string(modeVoice),
			Audio:               audio,
			TextReply:           CrisisResponse,
			CareerSuggestActive: careerSuggest,
			CrisisDetected:      true,
		})
		return true

	case intent == IntentCalm && st.mode == modeVoice:
		st.mode = modeText
		st.history = append(st.history,
			turn{Role: "user", Text: message},
			turn{Role: "assistant", Text: CalmResponse})
		writeJSON(w, http.StatusOK, chatResponse{
			Reply:               CalmResponse,
			Mode:                string(modeText),
			CareerSuggestActive: careerSuggest,
		})
		return true
	}
	return false
}

func (h *ChatHandler) synthesize(ctx context.Context, text string) (string, error) {
	if h.Speech == nil {
		return "", nil
	}
	mp3, err := h.Speech.Synthesize(ctx, text)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(mp3), nil
}

// logCrisisEvent records a detected crisis to the logger and, when
// configured, appends it to the JSONL crisis log.
func (h *ChatHandler) logCrisisEvent(sessionID, message string) {
	h.Logger.Warn("crisis detected", "session_id", sessionID)
	if h.Config.CrisisLogPath == "" {
		return
	}
	entry, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"message":    message,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	h.logMu.Lock()
	defer h.logMu.Unlock()
	f, err := os.OpenFile(h.Config.CrisisLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		h.Logger.Warn("crisis log open failed", "path", h.Config.CrisisLogPath, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(entry, '\n')); err != nil {
		h.Logger.Warn("crisis log write failed", "error", err)
	}
}

func trimHistory(history []turn, max int) []turn {
	if len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}

func buildPrompt(systemPrompt, context string, history []turn, userMessage string) string {
	var b strings.Builder
	b.WriteString("SYSTEM INSTRUCTIONS:\n")
	b.WriteString(strings.TrimSpace(systemPrompt))
	if context != "" {
		b.WriteString("\n\nCONTEXT / FACTS:\n")
		b.WriteString(strings.TrimSpace(context))
	}
	if len(history) > 0 {
		b.WriteString("\n\nCONVERSATION HISTORY (most recent last):\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(m.Role), m.Text)
		}
	}
	b.WriteString("\n\nUSER:\n")
	b.WriteString(strings.TrimSpace(userMessage))
	b.WriteString("\n\nASSISTANT:")
	return b.String()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
