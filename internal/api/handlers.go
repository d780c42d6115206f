// Package api provides HTTP handlers for RecoveryCompanion endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/RecoveryCompanion/internal/flow"
	"github.com/BTreeMap/RecoveryCompanion/internal/models"
)

// Streamed event types on the turn endpoint. Tokens arrive first; the
// metadata event is terminal on success, the error event terminal on a
// mid-stream failure.
const (
	streamEventToken    = "token"
	streamEventMetadata = "metadata"
	streamEventError    = "error"
)

// streamEvent is one server-sent event on the turn stream.
type streamEvent struct {
	Type             string                  `json:"type"`
	Text             string                  `json:"text,omitempty"`
	ConversationID   string                  `json:"conversation_id,omitempty"`
	Phase            models.Phase            `json:"phase,omitempty"`
	SuggestedReplies []models.SuggestedReply `json:"suggested_replies,omitempty"`
	Message          string                  `json:"message,omitempty"`
}

// turnHandler processes one conversation turn (POST /turn), streaming the
// reply as server-sent events followed by a terminal metadata event.
func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.turnHandler: processing turn request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.turnHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.turnHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.UserID == "" {
		slog.Warn("Server.turnHandler: missing user id")
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing required field: user_id"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.turnHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("Server.turnHandler: response writer does not support streaming")
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Streaming not supported"))
		return
	}

	// Headers are not sent until the first event, so engine errors that
	// occur before any token can still produce a clean JSON status.
	streaming := false
	onDelta := func(delta string) error {
		if !streaming {
			startEventStream(w)
			streaming = true
		}
		if err := writeStreamEvent(w, streamEvent{Type: streamEventToken, Text: delta}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	result, err := s.engine.ProcessTurn(r.Context(), req.UserID, req.ConversationID, req.Message, onDelta)
	if err != nil {
		s.writeTurnError(w, flusher, streaming, err)
		return
	}

	if !streaming {
		startEventStream(w)
	}
	metadata := streamEvent{
		Type:             streamEventMetadata,
		ConversationID:   result.ConversationID,
		Phase:            result.Phase,
		SuggestedReplies: result.SuggestedReplies,
	}
	if err := writeStreamEvent(w, metadata); err != nil {
		slog.Error("Server.turnHandler: failed to write metadata event", "error", err)
		return
	}
	flusher.Flush()
	slog.Info("Server.turnHandler: turn streamed", "userID", req.UserID, "conversationID", result.ConversationID, "phase", result.Phase)
}

// writeTurnError reports a turn failure in whichever channel is still
// usable: a JSON status before streaming began, a terminal error event
// after.
func (s *Server) writeTurnError(w http.ResponseWriter, flusher http.Flusher, streaming bool, err error) {
	slog.Error("Server.turnHandler: turn failed", "error", err)
	if streaming {
		if writeErr := writeStreamEvent(w, streamEvent{Type: streamEventError, Message: "Turn processing failed"}); writeErr != nil {
			slog.Error("Server.turnHandler: failed to write error event", "error", writeErr)
			return
		}
		flusher.Flush()
		return
	}
	switch {
	case errors.Is(err, flow.ErrConversationNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
	case errors.Is(err, models.ErrEmptyUserID), errors.Is(err, models.ErrEmptyMessageContent):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process turn"))
	}
}

// phaseHandler reports the user's current phase and suggested replies
// (GET /phase?user_id=...).
func (s *Server) phaseHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.phaseHandler: processing phase request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.phaseHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		slog.Warn("Server.phaseHandler: missing user id")
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing required parameter: user_id"))
		return
	}

	status, err := s.engine.PhaseStatus(r.Context(), userID)
	if err != nil {
		slog.Error("Server.phaseHandler: failed to fetch phase status", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch phase status"))
		return
	}

	slog.Debug("Server.phaseHandler: phase status fetched", "userID", userID, "phase", status.Phase)
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

// startEventStream sends the event-stream headers.
func startEventStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

// writeStreamEvent writes one event in SSE framing.
func writeStreamEvent(w http.ResponseWriter, event streamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal stream event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write stream event: %w", err)
	}
	return nil
}
