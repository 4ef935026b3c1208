package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the subset of pgx operations the query layer needs.
// Both *pgxpool.Pool and pgx.Tx satisfy it, so the same queries run
// inside and outside transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries implements Querier against a PostgreSQL connection or transaction.
type Queries struct {
	db DBTX
}

// NewQueries creates a query layer over db.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries instance scoped to the given transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const createSessionSQL = `
INSERT INTO chat_sessions (title)
VALUES ($1)
RETURNING id, title, created_at, updated_at, is_active`

// CreateSession inserts a new session. An empty title gets
// DefaultTitle.
func (q *Queries) CreateSession(ctx context.Context, title string) (*Session, error) {
	if title == "" {
		title = DefaultTitle
	}
	row := q.db.QueryRow(ctx, createSessionSQL, title)
	return scanSession(row)
}

const getSessionSQL = `
SELECT id, title, created_at, updated_at, is_active
FROM chat_sessions
WHERE id = $1 AND is_active = TRUE`

// GetSession retrieves an active session by ID.
// Returns ErrNotFound for missing or soft-deleted sessions.
func (q *Queries) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := q.db.QueryRow(ctx, getSessionSQL, uuidToPgUUID(id))
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return sess, nil
}

const listSessionsSQL = `
SELECT id, title, created_at, updated_at, is_active
FROM chat_sessions
WHERE is_active = TRUE
ORDER BY updated_at DESC
LIMIT NULLIF($1, 0) OFFSET $2`

// ListSessions lists active sessions ordered by most recent activity.
// A limit of 0 returns all active sessions.
func (q *Queries) ListSessions(ctx context.Context, limit, offset int32) ([]*Session, error) {
	rows, err := q.db.Query(ctx, listSessionsSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

const touchSessionSQL = `
UPDATE chat_sessions SET updated_at = now()
WHERE id = $1 AND is_active = TRUE`

// TouchSession bumps a session's updated_at timestamp.
func (q *Queries) TouchSession(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, touchSessionSQL, uuidToPgUUID(id))
	if err != nil {
		return fmt.Errorf("touching session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

const updateSessionTitleSQL = `
UPDATE chat_sessions SET title = $2, updated_at = now()
WHERE id = $1 AND is_active = TRUE`

// UpdateSessionTitle replaces a session's title.
func (q *Queries) UpdateSessionTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := q.db.Exec(ctx, updateSessionTitleSQL, uuidToPgUUID(id), title)
	if err != nil {
		return fmt.Errorf("updating session title %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

const deactivateSessionSQL = `
UPDATE chat_sessions SET is_active = FALSE, updated_at = now()
WHERE id = $1 AND is_active = TRUE`

// DeactivateSession soft-deletes a session. Messages are retained.
func (q *Queries) DeactivateSession(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, deactivateSessionSQL, uuidToPgUUID(id))
	if err != nil {
		return fmt.Errorf("deactivating session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// InsertMessageParams carries the fields for a new message.
type InsertMessageParams struct {
	SessionID   uuid.UUID
	Role        string
	Content     string
	ToolCalls   []ToolCall
	ToolResults ToolResults
	Tokens      *int32
}

const insertMessageSQL = `
INSERT INTO chat_messages (session_id, role, content, tool_calls, tool_results, tokens)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, session_id, role, content, tool_calls, tool_results, tokens, created_at`

// InsertMessage inserts a message and returns the stored row.
func (q *Queries) InsertMessage(ctx context.Context, arg InsertMessageParams) (*Message, error) {
	toolCallsJSON, err := marshalNullable(arg.ToolCalls)
	if err != nil {
		return nil, fmt.Errorf("marshaling tool calls: %w", err)
	}
	toolResultsJSON, err := marshalNullable(arg.ToolResults)
	if err != nil {
		return nil, fmt.Errorf("marshaling tool results: %w", err)
	}

	row := q.db.QueryRow(ctx, insertMessageSQL,
		uuidToPgUUID(arg.SessionID), arg.Role, arg.Content,
		toolCallsJSON, toolResultsJSON, arg.Tokens)
	return scanMessage(row)
}

const listMessagesSQL = `
SELECT id, session_id, role, content, tool_calls, tool_results, tokens, created_at
FROM chat_messages
WHERE session_id = $1
ORDER BY created_at ASC
LIMIT $2 OFFSET $3`

// ListMessages returns a session's messages in chronological order.
func (q *Queries) ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int32) ([]*Message, error) {
	rows, err := q.db.Query(ctx, listMessagesSQL, uuidToPgUUID(sessionID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

const getMessageSQL = `
SELECT id, session_id, role, content, tool_calls, tool_results, tokens, created_at
FROM chat_messages
WHERE id = $1`

// GetMessage retrieves a single message by ID.
func (q *Queries) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := q.db.QueryRow(ctx, getMessageSQL, uuidToPgUUID(id))
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return msg, nil
}

const deleteSessionMessagesSQL = `
DELETE FROM chat_messages WHERE session_id = $1`

// DeleteSessionMessages removes all messages in a session and returns
// the number deleted.
func (q *Queries) DeleteSessionMessages(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteSessionMessagesSQL, uuidToPgUUID(sessionID))
	if err != nil {
		return 0, fmt.Errorf("deleting messages for session %s: %w", sessionID, err)
	}
	return tag.RowsAffected(), nil
}

// scanSession reads a session row.
func scanSession(row pgx.Row) (*Session, error) {
	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
		sess      Session
	)
	if err := row.Scan(&id, &sess.Title, &createdAt, &updatedAt, &sess.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.ID = pgUUIDToUUID(id)
	sess.CreatedAt = createdAt.Time
	sess.UpdatedAt = updatedAt.Time
	return &sess, nil
}

// scanMessage reads a message row, decoding the JSONB tool columns.
func scanMessage(row pgx.Row) (*Message, error) {
	var (
		id          pgtype.UUID
		sessionID   pgtype.UUID
		toolCalls   []byte
		toolResults []byte
		createdAt   pgtype.Timestamptz
		msg         Message
	)
	if err := row.Scan(&id, &sessionID, &msg.Role, &msg.Content,
		&toolCalls, &toolResults, &msg.Tokens, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	msg.ID = pgUUIDToUUID(id)
	msg.SessionID = pgUUIDToUUID(sessionID)
	msg.CreatedAt = createdAt.Time

	if len(toolCalls) > 0 {
		if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshaling tool calls: %w", err)
		}
	}
	if len(toolResults) > 0 {
		if err := json.Unmarshal(toolResults, &msg.ToolResults); err != nil {
			return nil, fmt.Errorf("unmarshaling tool results: %w", err)
		}
	}
	return &msg, nil
}

// marshalNullable marshals v to JSON, returning nil (SQL NULL) for
// nil slices and maps.
func marshalNullable(v any) ([]byte, error) {
	switch x := v.(type) {
	case []ToolCall:
		if x == nil {
			return nil, nil
		}
	case ToolResults:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// uuidToPgUUID converts uuid.UUID to pgtype.UUID.
func uuidToPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// pgUUIDToUUID converts pgtype.UUID to uuid.UUID.
func pgUUIDToUUID(pgUUID pgtype.UUID) uuid.UUID {
	if !pgUUID.Valid {
		return uuid.Nil
	}
	return pgUUID.Bytes
}
