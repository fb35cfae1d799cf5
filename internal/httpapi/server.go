// ABOUTME: Thin HTTP collaborator: input ingress and SSE output streaming.
// ABOUTME: Owns wire framing only; ordering and backpressure live in the core.

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cortexcore/cortex/internal/bus"
	"github.com/cortexcore/cortex/internal/mcp"
	"github.com/cortexcore/cortex/internal/stream"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Server exposes the input and stream endpoints. The core trusts user_id as
// already verified; authentication belongs to an upstream collaborator.
type Server struct {
	bus         *bus.Bus
	broadcaster *stream.Broadcaster
	registry    *mcp.Registry
	logger      *slog.Logger
}

// NewServer creates the HTTP API over the core components. Pass nil logger
// for default.
func NewServer(b *bus.Bus, broadcaster *stream.Broadcaster, registry *mcp.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		bus:         b,
		broadcaster: broadcaster,
		registry:    registry,
		logger:      logger.With("component", "httpapi"),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/input", s.handleInput)
	mux.HandleFunc("/v1/stream", s.handleStream)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// inputRequest is the POST /v1/input body.
type inputRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// handleInput publishes an input event for the orchestrator.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req inputRequest
	body := http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.ConversationID == "" || req.Content == "" {
		s.sendJSONError(w, http.StatusBadRequest, "user_id, conversation_id and content are required")
		return
	}

	err := s.bus.Publish(&bus.Event{
		Type:           bus.EventTypeInput,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Payload:        map[string]any{bus.PayloadKeyContent: req.Content},
	})
	if errors.Is(err, bus.ErrBusClosed) {
		s.sendJSONError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	if err != nil {
		s.logger.Error("publishing input failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// handleStream serves GET /v1/stream?user_id=&conversation_id= as SSE.
// Each output event becomes one SSE message whose data is the event JSON;
// the event's sequence doubles as the SSE id for reconnection bookkeeping.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	conversationID := r.URL.Query().Get("conversation_id")
	if userID == "" || conversationID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "user_id and conversation_id are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	handle := s.broadcaster.Attach(userID, conversationID)
	defer s.broadcaster.Detach(handle)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		ev, err := handle.Next(r.Context())
		if err != nil {
			// Client disconnect or broadcaster shutdown ends the stream.
			return
		}

		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("encoding event failed", "error", err)
			continue
		}
		fmt.Fprintf(w, "id: %d\n", ev.Sequence)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

// handleHealth reports the registry's service descriptor statuses.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type serviceHealth struct {
		Name      string `json:"name"`
		Transport string `json:"transport"`
		Status    string `json:"status"`
	}

	descs := s.registry.Descriptors()
	services := make([]serviceHealth, 0, len(descs))
	healthy := true
	for _, d := range descs {
		services = append(services, serviceHealth{
			Name:      d.Name,
			Transport: string(d.Transport),
			Status:    string(d.Status),
		})
		if d.Status == mcp.StatusUnreachable {
			healthy = false
		}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   status,
		"services": services,
	})
}

func (s *Server) sendJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
