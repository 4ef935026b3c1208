package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/papergent/papergent/internal/chat"
)

// maxRequestBody bounds chat request bodies.
const maxRequestBody = 1 << 20 // 1 MiB

// chatHandler serves the session CRUD and chat endpoints.
type chatHandler struct {
	store   *chat.Store
	service *chat.Service
	logger  *slog.Logger
}

// createSessionRequest is the body of POST /api/chat/sessions.
type createSessionRequest struct {
	Title string `json:"title"`
}

// chatRequest is the body of POST /api/chat/message and /api/chat/stream.
type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Stream    bool   `json:"stream"`
}

// sessionDetail embeds a session's messages in its JSON representation.
type sessionDetail struct {
	*chat.Session
	Messages []*chat.Message `json:"messages"`
}

func (h *chatHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.store.CreateSession(r.Context(), req.Title)
	if err != nil {
		h.logger.Error("creating session", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	WriteJSON(w, http.StatusOK, sess)
}

func (h *chatHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	// All active sessions, no pagination cap.
	sessions, err := h.store.Sessions(r.Context(), 0, 0)
	if err != nil {
		h.logger.Error("listing sessions", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*chat.Session{}
	}

	WriteJSON(w, http.StatusOK, sessions)
}

func (h *chatHandler) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sess, err := h.store.Session(r.Context(), id)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error("getting session", "id", id, "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	messages, err := h.store.Messages(r.Context(), id, 0)
	if err != nil {
		h.logger.Error("getting session messages", "id", id, "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if messages == nil {
		messages = []*chat.Message{}
	}

	WriteJSON(w, http.StatusOK, sessionDetail{Session: sess, Messages: messages})
}

func (h *chatHandler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error("deleting session", "id", id, "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"message": "Session deleted"})
}

func (h *chatHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	messages, err := h.store.Messages(r.Context(), id, 0)
	if err != nil {
		h.logger.Error("listing messages", "session_id", id, "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []*chat.Message{}
	}

	WriteJSON(w, http.StatusOK, messages)
}

// sendMessage handles the synchronous chat endpoint.
func (h *chatHandler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Stream {
		WriteError(w, http.StatusBadRequest, "Use /stream endpoint for streaming")
		return
	}
	if req.Message == "" {
		WriteError(w, http.StatusBadRequest, "message must not be empty")
		return
	}
	if req.SessionID == "" {
		WriteError(w, http.StatusBadRequest, "session_id must not be empty")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid session_id")
		return
	}

	result, err := h.service.ProcessChat(r.Context(), sessionID, req.Message)
	if err != nil {
		h.logger.Error("processing chat", "session_id", sessionID, "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// streamMessage handles the streaming chat endpoint. Each chunk is sent
// as an SSE data event; the stream always ends with the [DONE] sentinel.
func (h *chatHandler) streamMessage(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		WriteError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	var sessionID *uuid.UUID
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid session_id")
			return
		}
		sessionID = &id
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	start, chunks := h.service.ProcessStreamChat(r.Context(), sessionID, req.Message)
	h.logger.Debug("stream started",
		"session_id", start.SessionID, "created", start.Created)

	for chunk := range chunks {
		data, err := json.Marshal(chunk)
		if err != nil {
			h.logger.Error("marshaling stream chunk", "error", err)
			break
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			h.logger.Debug("client disconnected mid-stream", "error", err)
			break
		}
		flusher.Flush()
	}

	// Terminal sentinel is sent regardless of how the stream ended.
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		h.logger.Debug("writing stream sentinel", "error", err)
	}
	flusher.Flush()
}

// pathID parses the {id} path segment, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}
