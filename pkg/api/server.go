package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lumyn-io/lumyn/pkg/cache"
	"github.com/lumyn-io/lumyn/pkg/contracts"
	"github.com/lumyn-io/lumyn/pkg/lumyn"
)

// maxBodyBytes caps request bodies on all endpoints.
const maxBodyBytes = 1 << 20

// Server wires the decision engine to its HTTP surface.
type Server struct {
	engine  *lumyn.Engine
	cache   cache.RecordCache
	logger  *slog.Logger
	metrics DecisionMetrics
}

// DecisionMetrics receives one measurement per decide call.
type DecisionMetrics interface {
	RecordDecision(ctx context.Context, verdict string, elapsed time.Duration)
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithCache enables the read-through record cache.
func WithCache(c cache.RecordCache) ServerOption {
	return func(s *Server) { s.cache = c }
}

// WithServerLogger injects a structured logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithMetrics records decide counts and latency.
func WithMetrics(m DecisionMetrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds a Server over an engine.
func NewServer(engine *lumyn.Engine, opts ...ServerOption) *Server {
	s := &Server{
		engine: engine,
		cache:  cache.Nop(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP mux for the decision API.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v0/decide", s.handleDecide)
	mux.HandleFunc("GET /v0/decisions/{id}", s.handleGetDecision)
	mux.HandleFunc("POST /v0/decisions/{id}/events", s.handleAppendEvent)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var request contracts.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	start := time.Now()
	record, err := s.engine.Decide(r.Context(), request)
	if err != nil {
		var validationErr *contracts.ValidationError
		if errors.As(err, &validationErr) {
			WriteUnprocessable(w, validationErr.Message)
			return
		}
		WriteInternal(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordDecision(r.Context(), string(record.Evaluation.Verdict), time.Since(start))
	}

	if err := s.cache.Set(r.Context(), record); err != nil {
		s.logger.WarnContext(r.Context(), "record cache set failed",
			"decision_id", record.DecisionID, "error", err)
	}

	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	decisionID := r.PathValue("id")

	if record, err := s.cache.Get(r.Context(), decisionID); err == nil && record != nil {
		writeJSON(w, http.StatusOK, record)
		return
	}

	record, err := s.engine.GetDecisionRecord(r.Context(), decisionID)
	if err != nil {
		if errors.Is(err, contracts.ErrNotFound) {
			WriteNotFound(w, "decision not found")
			return
		}
		WriteInternal(w, err)
		return
	}

	if err := s.cache.Set(r.Context(), record); err != nil {
		s.logger.WarnContext(r.Context(), "record cache set failed",
			"decision_id", decisionID, "error", err)
	}

	writeJSON(w, http.StatusOK, record)
}

// appendEventRequest is the body of POST /v0/decisions/{id}/events.
type appendEventRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	decisionID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req appendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		WriteUnprocessable(w, "event type must be a non-empty string")
		return
	}

	data := map[string]any{}
	if len(req.Data) > 0 {
		// json.Unmarshal accepts "null" into a map by nilling it, so check
		// the result, not just the error.
		if err := json.Unmarshal(req.Data, &data); err != nil || data == nil {
			WriteUnprocessable(w, "event data must be an object")
			return
		}
	}

	eventID, err := s.engine.AppendDecisionEvent(r.Context(), decisionID, req.Type, data)
	if err != nil {
		var validationErr *contracts.ValidationError
		switch {
		case errors.As(err, &validationErr):
			WriteUnprocessable(w, validationErr.Message)
		case errors.Is(err, contracts.ErrNotFound):
			WriteNotFound(w, "decision not found")
		default:
			WriteInternal(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"event_id": eventID})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
