package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// GoogleAPIKey authenticates the Gemini client. Text-to-Speech uses
	// application default credentials.
	GoogleAPIKey string

	LiveModel string
	ChatModel string

	TTSVoice    string
	TTSLanguage string

	// CrisisLogPath is a JSONL file appended to on crisis detection.
	// Empty disables file logging; events still go to the logger.
	CrisisLogPath string

	// MaxHistoryTurns bounds the conversation history included in each
	// prompt.
	MaxHistoryTurns int

	LiveHandshakeTimeout time.Duration
	LiveMaxMessageBytes  int64

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("MITRA_ADDR", ":8000"),
		GoogleAPIKey:         strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		LiveModel:            envOr("MITRA_LIVE_MODEL", "gemini-2.0-flash-exp"),
		ChatModel:            envOr("MITRA_CHAT_MODEL", "gemini-2.0-flash-001"),
		TTSVoice:             envOr("MITRA_TTS_VOICE", "en-US-Wavenet-F"),
		TTSLanguage:          envOr("MITRA_TTS_LANGUAGE", "en-US"),
		CrisisLogPath:        envOr("MITRA_CRISIS_LOG", "crisis_log.jsonl"),
		MaxHistoryTurns:      envIntOr("MITRA_MAX_HISTORY_TURNS", 6),
		LiveHandshakeTimeout: envDurationOr("MITRA_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		LiveMaxMessageBytes:  envInt64Or("MITRA_LIVE_MAX_MESSAGE_BYTES", 4<<20),
		ReadHeaderTimeout:    envDurationOr("MITRA_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("MITRA_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.MaxHistoryTurns <= 0 {
		return Config{}, fmt.Errorf("MITRA_MAX_HISTORY_TURNS must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("MITRA_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.LiveMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("MITRA_LIVE_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("MITRA_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("MITRA_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
