package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/antoniostano/lumen/internal/memory"
	"github.com/antoniostano/lumen/internal/observability"
	"github.com/antoniostano/lumen/internal/protocol"
	"github.com/antoniostano/lumen/internal/voice"
)

// Orchestrator is the turn pipeline as seen by the HTTP layer.
type Orchestrator interface {
	CreateSession(ctx context.Context) (int64, error)
	RunTurn(ctx context.Context, in voice.TurnInput) (voice.TurnResult, error)
	Memory(ctx context.Context) (map[string]string, error)
	Interactions(ctx context.Context, sessionID int64) ([]memory.Interaction, error)
	Ready(ctx context.Context) error
}

type Options struct {
	CORSOrigins []string
	// MaxBodyBytes caps request bodies. Zero means 32 MiB.
	MaxBodyBytes int64
	// AdminToken mounts the decrypted-data inspection routes behind a
	// bearer check. Empty leaves them unmounted.
	AdminToken string
}

type Server struct {
	orchestrator Orchestrator
	metrics      *observability.Metrics
	log          zerolog.Logger
	opts         Options
}

func New(orchestrator Orchestrator, metrics *observability.Metrics, log zerolog.Logger, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 << 20
	}
	return &Server{
		orchestrator: orchestrator,
		metrics:      metrics,
		log:          log.With().Str("component", "http").Logger(),
		opts:         opts,
	}
}

// BodyLimitForAudio sizes the request cap so a base64 clip of maxAudioBytes
// plus its JSON envelope fits.
func BodyLimitForAudio(maxAudioBytes int) int64 {
	return int64(base64.StdEncoding.EncodedLen(maxAudioBytes)) + 1<<20
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Post("/session", s.handleCreateSession)
	r.Post("/interact", s.handleInteract)
	if s.opts.AdminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/session/{id}/interactions", s.handleInteractions)
			r.Get("/memory", s.handleMemory)
		})
	}
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/perf/latency/reset", s.handlePerfReset)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, protocol.StatusResponse{Status: "Lumen AI backend is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, protocol.StatusResponse{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.Ready(r.Context()); err != nil {
		s.log.Warn().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("readiness check failed")
		respondError(w, http.StatusServiceUnavailable, "not_ready", "store is not reachable")
		return
	}
	respondJSON(w, http.StatusOK, protocol.StatusResponse{Status: "ready"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.orchestrator.CreateSession(r.Context())
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, protocol.SessionResponse{SessionID: id})
}

func (s *Server) handleInteract(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req, err := protocol.ParseTurnRequest(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.orchestrator.RunTurn(r.Context(), voice.TurnInput{
		SessionID:   req.SessionID,
		AudioBase64: req.AudioB64,
		Facial:      req.Facial(),
		History:     req.ChatHistory,
		Memory:      req.Memory(),
	})
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, turnResponse(res))
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	facts, err := s.orchestrator.Memory(r.Context())
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.MemoryResponse{LongTermMemory: facts})
}

func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session id must be a positive integer")
		return
	}
	items, err := s.orchestrator.Interactions(r.Context(), id)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	if items == nil {
		items = []memory.Interaction{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":   id,
		"interactions": items,
	})
}

func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, voice.ErrNoSpeech):
		respondError(w, http.StatusBadRequest, "no_speech", err.Error())
	case errors.Is(err, voice.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, voice.ErrServiceUnavailable):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
	default:
		s.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	want := []byte(s.opts.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="lumen"`)
			respondError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func turnResponse(res voice.TurnResult) protocol.TurnResponse {
	out := protocol.TurnResponse{
		TurnID:              res.TurnID,
		AIText:              res.Text,
		ExtractedMemory:     res.ExtractedFacts,
		UpdatedChatHistory:  res.History,
		VocalAnalysisResult: res.Vocal,
		ProfilingData:       res.Profiling,
	}
	if res.Audio != nil {
		encoded := base64.StdEncoding.EncodeToString(res.Audio)
		out.AIAudioB64 = &encoded
	}
	if out.ExtractedMemory == nil {
		out.ExtractedMemory = map[string]string{}
	}
	return out
}

// accessLog logs one line per request and counts it by route pattern.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		s.metrics.ObserveHTTPRequest(route, status)

		ev := s.log.Debug()
		if status >= 500 {
			ev = s.log.Warn()
		}
		ev.Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, protocol.ErrorResponse{Error: strings.TrimSpace(message), Code: code, Detail: strings.TrimSpace(message)})
}
