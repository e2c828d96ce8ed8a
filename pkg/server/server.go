// Package server exposes the dispatcher over HTTP and streams session
// events over websockets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zen-systems/thinkgate/pkg/dispatch"
	"github.com/zen-systems/thinkgate/pkg/record"
	"github.com/zen-systems/thinkgate/pkg/signal"
)

// Error codes carried in error responses.
const (
	ErrCodeBadRequest = "BAD_REQUEST"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeBusy       = "AT_CAPACITY"
	ErrCodeInternal   = "INTERNAL_ERROR"
	ErrCodeNoStore    = "NO_STORE"
)

const (
	defaultListLimit = 50
	writeWait        = 10 * time.Second
)

// Server routes HTTP requests to a dispatcher and a session store.
type Server struct {
	dispatcher *dispatch.Dispatcher
	store      record.Store
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCheckOrigin overrides the websocket origin check.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// New builds a server. store may be nil, in which case history routes
// answer 503.
func New(d *dispatch.Dispatcher, store record.Store, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		store:      store,
		logger:     slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/plan", s.handlePlan)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleBegin)
			r.Get("/", s.handleList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Delete("/", s.handleCancel)
				r.Get("/events", s.handleEvents)
				r.Post("/feedback", s.handleFeedback)
			})
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// BeginRequest starts a session.
type BeginRequest struct {
	Query  string       `json:"query"`
	Signal signal.Input `json:"signal"`
}

// PlanRequest asks for a decision and budget without running a session.
type PlanRequest struct {
	Query  string       `json:"query"`
	Signal signal.Input `json:"signal"`
}

// FeedbackRequest carries a post-hoc rating.
type FeedbackRequest struct {
	Rating int `json:"rating"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.dispatcher.Active(),
	})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	decision, b, err := s.dispatcher.Plan(req.Signal.Resolve(req.Query))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decision": decision, "budget": b})
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req BeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	h, err := s.dispatcher.Begin(req.Query, req.Signal.Resolve(req.Query))
	switch {
	case errors.Is(err, dispatch.ErrEmptyQuery):
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case errors.Is(err, dispatch.ErrAtCapacity), errors.Is(err, dispatch.ErrShuttingDown):
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeBusy, err.Error())
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": h.ID,
		"decision":   h.Decision,
		"budget":     h.Budget,
		"events":     "/v1/sessions/" + h.ID + "/events",
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeNoStore, "no session store configured")
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	sessions, err := s.store.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if sessions == nil {
		sessions = []record.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(sessions), "sessions": sessions})
}

// handleGet prefers the live session, then the store.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h, ok := s.dispatcher.Lookup(id); ok {
		select {
		case <-h.Done():
			sess, _ := h.Wait(r.Context())
			writeJSON(w, http.StatusOK, sess)
		default:
			writeJSON(w, http.StatusOK, map[string]any{
				"id":       h.ID,
				"query":    h.Query,
				"status":   "running",
				"decision": h.Decision,
				"budget":   h.Budget,
			})
		}
		return
	}

	if s.store == nil {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	sess, err := s.store.Get(r.Context(), id)
	if errors.Is(err, record.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.dispatcher.Cancel(id) {
		writeJSON(w, http.StatusAccepted, map[string]any{"session_id": id, "cancelled": true})
		return
	}
	// Cancelling a sealed session is a no-op.
	sealed := map[string]any{"session_id": id, "cancelled": false, "status": "sealed"}
	if _, ok := s.dispatcher.Lookup(id); ok {
		writeJSON(w, http.StatusOK, sealed)
		return
	}
	if s.store != nil {
		_, err := s.store.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, sealed)
			return
		}
		if !errors.Is(err, record.ErrNotFound) {
			writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, err.Error())
			return
		}
	}
	writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "session not found")
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeNoStore, "no session store configured")
		return
	}
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if err := record.ValidateRating(req.Rating); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	err := s.store.RecordFeedback(r.Context(), id, req.Rating)
	if errors.Is(err, record.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "rating": req.Rating})
}

// handleEvents streams a session's events as JSON text frames and closes
// after the terminal event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h, ok := s.dispatcher.Lookup(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	if !h.Claim() {
		writeError(w, r, http.StatusConflict, ErrCodeConflict, "event stream already has a subscriber")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("session", id), slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	// A client closing the socket cancels the session.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session sealed"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Warn("event write failed", slog.String("session", id), slog.String("error", err.Error()))
				s.dispatcher.Cancel(id)
				return
			}
		case <-gone:
			s.dispatcher.Cancel(id)
			return
		}
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Code: code, Message: message, RequestID: middleware.GetReqID(r.Context())},
	})
}
