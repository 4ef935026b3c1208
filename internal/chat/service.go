package chat

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"
)

// Turn is one prior conversation turn handed to the responder as history.
type Turn struct {
	Role        string
	Content     string
	ToolCalls   []ToolCall
	ToolResults ToolResults
}

// Reply is the responder's complete answer for one turn.
type Reply struct {
	Content     string
	ToolCalls   []ToolCall
	ToolResults ToolResults
}

// StreamChunk is one slice of a streamed reply. The final chunk carries
// IsFinal=true and any tool-call metadata.
type StreamChunk struct {
	Content   string     `json:"content"`
	IsFinal   bool       `json:"is_final"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Responder produces assistant replies from a user message plus history.
// Implementations absorb their own failures: Respond always returns a
// well-formed reply, embedding error text in Content when generation
// fails.
type Responder interface {
	Respond(ctx context.Context, message string, history []Turn) *Reply
	RespondStream(ctx context.Context, message string, history []Turn) iter.Seq[StreamChunk]
}

// TurnResult is the outcome of a synchronous chat turn.
type TurnResult struct {
	SessionID  uuid.UUID `json:"session_id"`
	Message    *Message  `json:"message"`
	IsComplete bool      `json:"is_complete"`
}

// Service composes the persistence store and the responder into chat
// turns. It owns no state beyond its dependencies and is safe for
// concurrent use.
type Service struct {
	store     *Store
	responder Responder
	logger    *slog.Logger
}

// NewService creates a chat service.
func NewService(store *Store, responder Responder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		responder: responder,
		logger:    logger,
	}
}

// ProcessChat runs one synchronous chat turn: load history, persist the
// user message, generate a reply, persist it, and return the assistant
// message record.
//
// The session ID is required here. If the session row itself is missing
// the store's fallback creates one, and the returned SessionID reflects
// the session actually written to.
func (s *Service) ProcessChat(ctx context.Context, sessionID uuid.UUID, message string) (*TurnResult, error) {
	if message == "" {
		return nil, ErrEmptyContent
	}

	// History is captured before the user message is persisted so the
	// responder does not see the new message twice.
	history, err := s.history(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	s.logger.Info("processing chat turn",
		"session_id", sessionID, "history_len", len(history))

	userMsg, err := s.store.CreateMessage(ctx, CreateMessageParams{
		SessionID: &sessionID,
		Role:      RoleUser,
		Content:   message,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	reply := s.responder.Respond(ctx, message, history)

	assistantMsg, err := s.store.CreateMessage(ctx, CreateMessageParams{
		SessionID:   &userMsg.SessionID,
		Role:        RoleAssistant,
		Content:     reply.Content,
		ToolCalls:   reply.ToolCalls,
		ToolResults: reply.ToolResults,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting assistant message: %w", err)
	}

	return &TurnResult{
		SessionID:  assistantMsg.SessionID,
		Message:    assistantMsg,
		IsComplete: true,
	}, nil
}

// StreamStart carries the session resolved for a streaming turn.
type StreamStart struct {
	SessionID uuid.UUID
	Created   bool
}

// ProcessStreamChat runs one streaming chat turn and returns the
// resolved session plus a chunk sequence.
//
// When sessionID is nil a new session is created, titled from the
// first characters of the message. The user message is persisted
// before streaming begins; the assistant message is persisted after
// the sequence is exhausted, with the accumulated content and the
// last-seen tool calls.
//
// Failures during setup or generation surface as a single final chunk
// whose content carries the error text. The sequence always terminates.
func (s *Service) ProcessStreamChat(ctx context.Context, sessionID *uuid.UUID, message string) (*StreamStart, iter.Seq[StreamChunk]) {
	start := &StreamStart{}

	var setupErr error
	if sessionID == nil {
		sess, err := s.store.CreateSession(ctx, DeriveTitle(message))
		if err != nil {
			setupErr = fmt.Errorf("creating session: %w", err)
		} else {
			start.SessionID = sess.ID
			start.Created = true
		}
	} else {
		start.SessionID = *sessionID
	}

	seq := func(yield func(StreamChunk) bool) {
		if setupErr != nil {
			yield(errorChunk(setupErr))
			return
		}

		userMsg, err := s.store.CreateMessage(ctx, CreateMessageParams{
			SessionID: &start.SessionID,
			Role:      RoleUser,
			Content:   message,
		})
		if err != nil {
			yield(errorChunk(fmt.Errorf("persisting user message: %w", err)))
			return
		}
		// A fallback session may have replaced the requested one.
		start.SessionID = userMsg.SessionID

		// Exclude the just-persisted user message from replay history.
		history, err := s.history(ctx, start.SessionID, 0)
		if err != nil {
			yield(errorChunk(fmt.Errorf("loading history: %w", err)))
			return
		}
		if n := len(history); n > 0 {
			history = history[:n-1]
		}

		s.logger.Info("processing stream chat turn",
			"session_id", start.SessionID, "history_len", len(history))

		var (
			fullContent string
			toolCalls   []ToolCall
		)
		for chunk := range s.responder.RespondStream(ctx, message, history) {
			fullContent += chunk.Content
			if len(chunk.ToolCalls) > 0 {
				toolCalls = chunk.ToolCalls
			}

			out := StreamChunk{Content: chunk.Content, IsFinal: chunk.IsFinal}
			if chunk.IsFinal {
				out.ToolCalls = toolCalls
			}
			if !yield(out) {
				return
			}
		}

		if fullContent == "" {
			return
		}
		if _, err := s.store.CreateMessage(ctx, CreateMessageParams{
			SessionID: &start.SessionID,
			Role:      RoleAssistant,
			Content:   fullContent,
			ToolCalls: toolCalls,
		}); err != nil {
			s.logger.Error("failed to persist assistant message",
				"session_id", start.SessionID, "error", err)
		}
	}

	return start, seq
}

// history loads a session's messages as responder turns.
func (s *Service) history(ctx context.Context, sessionID uuid.UUID, limit int32) ([]Turn, error) {
	messages, err := s.store.Messages(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		turns = append(turns, Turn{
			Role:        msg.Role,
			Content:     msg.Content,
			ToolCalls:   msg.ToolCalls,
			ToolResults: msg.ToolResults,
		})
	}
	return turns, nil
}

func errorChunk(err error) StreamChunk {
	return StreamChunk{
		Content: fmt.Sprintf("Error: %v", err),
		IsFinal: true,
	}
}
