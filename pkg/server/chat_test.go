package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	reply     string
	replyErr  error
	intent    Intent
	intentErr error

	prompts  []string
	screened []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.replyErr
}

func (f *fakeGenerator) DetectIntent(ctx context.Context, message string) (Intent, error) {
	f.screened = append(f.screened, message)
	return f.intent, f.intentErr
}

type fakeSpeech struct {
	mp3 []byte
	err error
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f.mp3, f.err
}

func testConfig() Config {
	return Config{
		ChatModel:       "test-model",
		MaxHistoryTurns: 6,
		CrisisLogPath:   "", // no file writes from tests
	}
}

func postChat(t *testing.T, h http.Handler, form url.Values) (*httptest.ResponseRecorder, chatResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestChat_TextTurn(t *testing.T) {
	gen := &fakeGenerator{reply: "That sounds difficult. I'm here to listen."}
	h := NewChatHandler(testConfig(), gen, &fakeSpeech{}, nil)

	rec, resp := postChat(t, h, url.Values{
		"message":    {"I had a rough day"},
		"session_id": {"s1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "That sounds difficult. I'm here to listen.", resp.Reply)
	assert.Equal(t, "text", resp.Mode)
	assert.Empty(t, resp.Audio)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "SYSTEM INSTRUCTIONS:")
	assert.Contains(t, gen.prompts[0], "I had a rough day")
	require.Len(t, gen.screened, 1)
}

func TestChat_HistoryCarriesAcrossTurns(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	h := NewChatHandler(testConfig(), gen, &fakeSpeech{}, nil)

	postChat(t, h, url.Values{"message": {"first message"}, "session_id": {"s1"}})
	postChat(t, h, url.Values{"message": {"second message"}, "session_id": {"s1"}})

	require.Len(t, gen.prompts, 2)
	assert.NotContains(t, gen.prompts[0], "CONVERSATION HISTORY")
	assert.Contains(t, gen.prompts[1], "CONVERSATION HISTORY")
	assert.Contains(t, gen.prompts[1], "USER: first message")
}

func TestChat_PostLiveCheckIn(t *testing.T) {
	mp3 := []byte{0x49, 0x44, 0x33}
	gen := &fakeGenerator{reply: "unused"}
	h := NewChatHandler(testConfig(), gen, &fakeSpeech{mp3: mp3}, nil)

	rec, resp := postChat(t, h, url.Values{
		"message":           {"I just returned from the live session"},
		"session_id":        {"s1"},
		"post_live_session": {"true"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.PostLiveCheckin)
	assert.Equal(t, "voice_assistant", resp.Mode)
	assert.Equal(t, CheckInReply, resp.TextReply)
	assert.Equal(t, base64.StdEncoding.EncodeToString(mp3), resp.Audio)

	// The check-in is fixed text; the model is never consulted.
	assert.Empty(t, gen.prompts)
	assert.Empty(t, gen.screened)
}

func TestChat_CrisisSwitchesToVoice(t *testing.T) {
	mp3 := []byte{0x49, 0x44, 0x33}
	gen := &fakeGenerator{intent: IntentCrisis}
	h := NewChatHandler(testConfig(), gen, &fakeSpeech{mp3: mp3}, nil)

	rec, resp := postChat(t, h, url.Values{
		"message":    {"I can't go on anymore"},
		"session_id": {"s1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.CrisisDetected)
	assert.Equal(t, "voice_assistant", resp.Mode)
	assert.Equal(t, CrisisResponse, resp.TextReply)
	assert.NotEmpty(t, resp.Audio)
	assert.Empty(t, gen.prompts)

	// Subsequent turns stay in voice mode.
	gen.intent = IntentNone
	gen.reply = "I'm still here with you."
	_, resp = postChat(t, h, url.Values{
		"message":    {"thank you"},
		"session_id": {"s1"},
	})
	assert.Equal(t, "voice_assistant", resp.Mode)
	assert.Equal(t, "I'm still here with you.", resp.TextReply)
}

func TestChat_CalmReturnsToText(t *testing.T) {
	gen := &fakeGenerator{intent: IntentCrisis}
	h := NewChatHandler(testConfig(), gen, &fakeSpeech{mp3: []byte{1}}, nil)

	postChat(t, h, url.Values{"message": {"I feel hopeless"}, "session_id": {"s1"}})

	gen.intent = IntentCalm
	_, resp := postChat(t, h, url.Values{
		"message":    {"I'm feeling much better now"},
		"session_id": {"s1"},
	})
	assert.Equal(t, "text", resp.Mode)
	assert.Equal(t, CalmResponse, resp.Reply)
	assert.False(t, resp.CrisisDetected)
}

func TestChat_CalmInTextModeIsIgnored(t *testing.T) {
	gen := &fakeGenerator{intent: IntentCalm, reply: "Glad to hear it."}
	h := NewChatHandler(testConfig(), gen, &fakeSpeech{}, nil)

	_, resp := postChat(t, h, url.Values{
		"message":    {"I'm feeling better"},
		"session_id": {"s1"},
	})
	// Already in text mode; the calm signal changes nothing.
	assert.Equal(t, "Glad to hear it.", resp.Reply)
	require.Len(t, gen.prompts, 1)
}

func TestChat_CareerModeSkipsCrisisScreen(t *testing.T) {
	gen := &fakeGenerator{reply: "<h3>JEE preparation</h3>"}
	h := NewChatHandler(testConfig(), gen, &fakeSpeech{}, nil)

	_, resp := postChat(t, h, url.Values{
		"message":        {"How do I prepare for JEE?"},
		"session_id":     {"s1"},
		"career_suggest": {"true"},
	})
	assert.True(t, resp.CareerSuggestActive)
	assert.Empty(t, gen.screened)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "career counselor")
}

func TestChat_ConcurrentTurnsShareOneSessionSafely(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	h := NewChatHandler(testConfig(), gen, &fakeSpeech{}, nil)

	const turns = 8
	var wg sync.WaitGroup
	codes := make([]int, turns)
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			form := url.Values{
				"message":    {"turn " + strconv.Itoa(i)},
				"session_id": {"shared"},
			}
			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		require.Equal(t, http.StatusOK, code, "turn %d", i)
	}
	require.Len(t, gen.prompts, turns)

	// Every prior turn landed in history, trimmed to the configured cap.
	_, resp := postChat(t, h, url.Values{
		"message":    {"one more"},
		"session_id": {"shared"},
	})
	assert.Equal(t, "ok", resp.Reply)
	require.Len(t, gen.prompts, turns+1)
	assert.Contains(t, gen.prompts[turns], "CONVERSATION HISTORY")
}

func TestChat_MissingMessageRejected(t *testing.T) {
	h := NewChatHandler(testConfig(), &fakeGenerator{}, &fakeSpeech{}, nil)
	rec, resp := postChat(t, h, url.Values{"session_id": {"s1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, resp.Error)
}

func TestChat_GenerationFailure(t *testing.T) {
	gen := &fakeGenerator{replyErr: context.DeadlineExceeded}
	h := NewChatHandler(testConfig(), gen, &fakeSpeech{}, nil)
	rec, resp := postChat(t, h, url.Values{"message": {"hello"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, resp.Error)
}

func TestChat_IntentFailureFallsThrough(t *testing.T) {
	gen := &fakeGenerator{intentErr: context.DeadlineExceeded, reply: "still works"}
	h := NewChatHandler(testConfig(), gen, &fakeSpeech{}, nil)
	rec, resp := postChat(t, h, url.Values{"message": {"hello"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "still works", resp.Reply)
}
