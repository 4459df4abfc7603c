package server

import (
	"log/slog"
	"net/http"
)

// Dependencies are the provider-backed collaborators; tests substitute
// fakes.
type Dependencies struct {
	Dial      UpstreamDialer
	Generator ContentGenerator
	Speech    SpeechSynthesizer
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	mux    *http.ServeMux
}

func New(cfg Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	s.mux.Handle("/health", healthHandler{cfg: cfg})
	s.mux.Handle("/live-session", LiveHandler{
		Config: cfg,
		Dial:   deps.Dial,
		Logger: logger,
	})
	s.mux.Handle("/chat", NewChatHandler(cfg, deps.Generator, deps.Speech, logger))

	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

type healthHandler struct {
	cfg Config
}

func (h healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "healthy",
		"model":      h.cfg.ChatModel,
		"live_model": h.cfg.LiveModel,
	})
}
