package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier defines the interface for database operations on sessions and
// messages. Following Go best practices: interfaces are defined by the
// consumer, not the provider.
//
// This interface allows Store to depend on abstraction rather than
// concrete implementation, improving testability and flexibility.
type Querier interface {
	// Session operations
	CreateSession(ctx context.Context, title string) (*Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	ListSessions(ctx context.Context, limit, offset int32) ([]*Session, error)
	TouchSession(ctx context.Context, id uuid.UUID) error
	UpdateSessionTitle(ctx context.Context, id uuid.UUID, title string) error
	DeactivateSession(ctx context.Context, id uuid.UUID) error

	// Message operations
	InsertMessage(ctx context.Context, arg InsertMessageParams) (*Message, error)
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int32) ([]*Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	DeleteSessionMessages(ctx context.Context, sessionID uuid.UUID) (int64, error)
}

// Store manages session and message persistence with a PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	querier Querier
	pool    *pgxpool.Pool // Database pool for transaction support
	logger  *slog.Logger
}

// NewStore creates a new Store instance.
//
// pool may be nil in tests that use a mock querier; transactional
// operations then run against the querier directly.
func NewStore(querier Querier, pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		querier: querier,
		pool:    pool,
		logger:  logger,
	}
}

// CreateSession creates a new conversation session.
// An empty title gets DefaultTitle.
func (s *Store) CreateSession(ctx context.Context, title string) (*Session, error) {
	sess, err := s.querier.CreateSession(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "title", sess.Title)
	return sess, nil
}

// Session retrieves an active session by ID.
// Returns ErrNotFound for missing or soft-deleted sessions.
func (s *Store) Session(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.querier.GetSession(ctx, id)
}

// Sessions lists active sessions ordered by updated_at descending.
// A limit of 0 returns all active sessions.
func (s *Store) Sessions(ctx context.Context, limit, offset int32) ([]*Session, error) {
	if limit < 0 {
		limit = 0
	}
	sessions, err := s.querier.ListSessions(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("listed sessions", "count", len(sessions), "limit", limit, "offset", offset)
	return sessions, nil
}

// RecentSessions returns the most recently active sessions.
func (s *Store) RecentSessions(ctx context.Context, limit int32) ([]*Session, error) {
	return s.Sessions(ctx, limit, 0)
}

// RenameSession replaces a session's title.
func (s *Store) RenameSession(ctx context.Context, id uuid.UUID, title string) error {
	if title == "" {
		title = DefaultTitle
	}
	return s.querier.UpdateSessionTitle(ctx, id, title)
}

// DeleteSession soft-deletes a session by marking it inactive.
// Messages are retained for potential recovery.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if err := s.querier.DeactivateSession(ctx, id); err != nil {
		return err
	}

	s.logger.Debug("deactivated session", "id", id)
	return nil
}

// CreateMessageParams carries the fields for CreateMessage.
// A nil SessionID requests a fallback session.
type CreateMessageParams struct {
	SessionID   *uuid.UUID
	Role        string
	Content     string
	ToolCalls   []ToolCall
	ToolResults ToolResults
	Tokens      *int32
}

// CreateMessage persists a message and bumps its session's updated_at.
//
// If the referenced session does not exist (or no session ID is given),
// a new default session is created and the message attaches to it. The
// returned message's SessionID identifies the session actually used.
//
// The session lookup, optional fallback creation, insert, and timestamp
// bump run in a single transaction.
func (s *Store) CreateMessage(ctx context.Context, arg CreateMessageParams) (*Message, error) {
	if arg.Content == "" {
		return nil, ErrEmptyContent
	}
	if !ValidRole(arg.Role) {
		return nil, fmt.Errorf("role %q: %w", arg.Role, ErrInvalidRole)
	}

	// If pool is nil (testing with mock), use non-transactional mode
	if s.pool == nil {
		return s.createMessageWith(ctx, s.querier, arg)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback if not committed
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			s.logger.Debug("transaction rollback (may be already committed)", "error", err)
		}
	}()

	msg, err := s.createMessageWith(ctx, NewQueries(tx), arg)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return msg, nil
}

// createMessageWith runs the CreateMessage steps against q, which is
// either a transaction-scoped querier or a mock.
func (s *Store) createMessageWith(ctx context.Context, q Querier, arg CreateMessageParams) (*Message, error) {
	sessionID, err := s.resolveSession(ctx, q, arg)
	if err != nil {
		return nil, err
	}

	msg, err := q.InsertMessage(ctx, InsertMessageParams{
		SessionID:   sessionID,
		Role:        arg.Role,
		Content:     arg.Content,
		ToolCalls:   arg.ToolCalls,
		ToolResults: arg.ToolResults,
		Tokens:      arg.Tokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := q.TouchSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to update session timestamp: %w", err)
	}

	s.logger.Debug("created message",
		"id", msg.ID, "session_id", msg.SessionID, "role", msg.Role)
	return msg, nil
}

// resolveSession returns the session ID the message should attach to,
// creating a fallback session when the referenced one is absent.
func (s *Store) resolveSession(ctx context.Context, q Querier, arg CreateMessageParams) (uuid.UUID, error) {
	if arg.SessionID != nil {
		sess, err := q.GetSession(ctx, *arg.SessionID)
		if err == nil {
			return sess.ID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return uuid.Nil, fmt.Errorf("failed to check session: %w", err)
		}
		s.logger.Warn("session not found, creating fallback session",
			"requested_id", *arg.SessionID)
	}

	// The fallback is always a plain default session; deriving titles
	// from message content is reserved for explicit session creation.
	sess, err := q.CreateSession(ctx, DefaultTitle)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create fallback session: %w", err)
	}
	return sess.ID, nil
}

// Messages retrieves a session's messages in chronological order.
// The limit is normalized via NormalizeMessageLimit.
func (s *Store) Messages(ctx context.Context, sessionID uuid.UUID, limit int32) ([]*Message, error) {
	limit = NormalizeMessageLimit(limit)
	messages, err := s.querier.ListMessages(ctx, sessionID, limit, 0)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("retrieved messages", "session_id", sessionID, "count", len(messages))
	return messages, nil
}

// Message retrieves a single message by ID.
func (s *Store) Message(ctx context.Context, id uuid.UUID) (*Message, error) {
	return s.querier.GetMessage(ctx, id)
}

// DeleteMessages removes all messages in a session and returns the
// number deleted. The session itself is untouched.
func (s *Store) DeleteMessages(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	count, err := s.querier.DeleteSessionMessages(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("deleted messages", "session_id", sessionID, "count", count)
	return count, nil
}
