// Package server exposes the viewer WebSocket endpoint and a small HTTP API
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/ppiankov/uhmm/internal/broadcast"
	"github.com/ppiankov/uhmm/internal/logger"
	"github.com/ppiankov/uhmm/internal/model"
)

const (
	serviceName = "uhmm fact-checker"

	// TestSessionID is the session injected test transcripts belong to
	TestSessionID = "test"

	defaultSpeaker    = "Test User"
	maxTestTranscript = 1000
	maxSpeaker        = 100
)

// Ingester accepts transcript fragments
type Ingester interface {
	Ingest(ctx context.Context, f model.TranscriptFragment) error
}

// Counter reports the number of cached verdicts
type Counter interface {
	Len() int
}

// Deps are the collaborators the server routes to
type Deps struct {
	Broadcaster *broadcast.Broadcaster
	Ingester    Ingester
	Cache       Counter
	Metrics     http.Handler     // Optional Prometheus handler
	Ready       func() error     // Optional readiness check
	Stats       func() any       // Optional pipeline counters for /stats
	Now         func() time.Time // Defaults to time.Now
}

// Server is a thin wrapper over chi + stdlib http.Server
type Server struct {
	cfg      model.ServerConfig
	deps     Deps
	mux      *chi.Mux
	srv      *http.Server
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// New builds the router and the underlying http.Server
func New(cfg model.ServerConfig, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  chi.NewRouter(),
		log:  logger.Named("http"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.routes()

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.Use(chimw.RealIP, chimw.RequestID, chimw.Recoverer)
	s.mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	s.mux.Get("/", s.handleStatus)
	s.mux.Get("/healthz", s.handleHealth)
	s.mux.Get("/readyz", s.handleReady)
	s.mux.Get("/ws", s.handleWebSocket)
	s.mux.Get("/stats", s.handleStats)
	s.mux.Post("/test/transcript", s.handleTestTranscript)
	s.mux.Post("/test/mock_data", s.handleMockData)
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics)
	}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the listening address
func (s *Server) Addr() string { return s.cfg.Addr }

// Run starts the server and blocks
func (s *Server) Run(ctx context.Context) error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("http listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully. Hijacked WebSocket connections are
// not tracked by http.Server and are closed by the broadcaster.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.AllowedOrigins
}

// checkOrigin applies the CORS origin list to WebSocket upgrades
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
		// chrome-extension://* style wildcards
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok && strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

type statusResponse struct {
	Service          string `json:"service"`
	Status           string `json:"status"`
	WebSocketURL     string `json:"websocket_url"`
	ConnectedClients int    `json:"connected_clients"`
	CachedVerdicts   int    `json:"cached_verdicts"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}

	resp := statusResponse{
		Service:      serviceName,
		Status:       "running",
		WebSocketURL: scheme + "://" + r.Host + "/ws",
	}
	if s.deps.Broadcaster != nil {
		resp.ConnectedClients = s.deps.Broadcaster.Count()
	}
	if s.deps.Cache != nil {
		resp.CachedVerdicts = s.deps.Cache.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statsResponse struct {
	ConnectedClients int `json:"connected_clients"`
	CachedVerdicts   int `json:"cached_verdicts"`
	Pipeline         any `json:"pipeline,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	if s.deps.Broadcaster != nil {
		resp.ConnectedClients = s.deps.Broadcaster.Count()
	}
	if s.deps.Cache != nil {
		resp.CachedVerdicts = s.deps.Cache.Len()
	}
	if s.deps.Stats != nil {
		resp.Pipeline = s.deps.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMockData broadcasts a canned transcript and verdict so viewer UIs
// can be exercised without a live speech source
func (s *Server) handleMockData(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "broadcaster unavailable")
		return
	}

	const text = "The iPhone was released in 2008"
	now := s.deps.Now()
	events := []broadcast.Event{
		broadcast.TranscriptEvent{Text: text, Speaker: defaultSpeaker, IsFinal: true, Timestamp: now},
		broadcast.VerdictEvent{
			Transcript: text,
			Speaker:    defaultSpeaker,
			Verdict: model.Verdict{
				ClaimText:   text,
				Status:      model.StatusContradicted,
				Confidence:  0.95,
				Rationale:   "The first iPhone was released on June 29, 2007",
				EvidenceURL: "https://www.apple.com/newsroom/2007/06/29Apple-Reinvents-the-Phone-with-iPhone/",
				VerifiedAt:  now,
			},
			Timestamp: now,
		},
	}
	for _, e := range events {
		if err := s.deps.Broadcaster.Publish(e); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "mock data sent",
		"clients_notified": s.deps.Broadcaster.Count(),
	})
}

type testTranscriptRequest struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

type testTranscriptResponse struct {
	Status  string `json:"status"`
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

func (s *Server) handleTestTranscript(w http.ResponseWriter, r *http.Request) {
	var req testTranscriptRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	text, speaker, err := normalizeTestTranscript(req.Text, req.Speaker)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := s.injectTranscript(r.Context(), text, speaker); err != nil {
		s.log.Error().Err(err).Msg("injecting test transcript")
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}

	writeJSON(w, http.StatusOK, testTranscriptResponse{Status: "processed", Text: text, Speaker: speaker})
}

func normalizeTestTranscript(text, speaker string) (string, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", errors.New("text is required")
	}
	if len([]rune(text)) > maxTestTranscript {
		return "", "", errors.New("text exceeds 1000 characters")
	}
	speaker = strings.TrimSpace(speaker)
	if speaker == "" {
		speaker = defaultSpeaker
	}
	if len([]rune(speaker)) > maxSpeaker {
		return "", "", errors.New("speaker exceeds 100 characters")
	}
	return text, speaker, nil
}

// injectTranscript feeds a manual transcript through the pipeline as a
// final fragment
func (s *Server) injectTranscript(ctx context.Context, text, speaker string) error {
	if s.deps.Ingester == nil {
		return errors.New("no pipeline configured")
	}
	return s.deps.Ingester.Ingest(ctx, model.TranscriptFragment{
		SessionID:       TestSessionID,
		Text:            text,
		Speaker:         speaker,
		IsFinal:         true,
		SourceTimestamp: s.deps.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
