package api

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/papergent/papergent/internal/chat"
	"github.com/papergent/papergent/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memQuerier is an in-memory chat.Querier for handler tests.
type memQuerier struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*chat.Session
	messages []*chat.Message
}

func newMemQuerier() *memQuerier {
	return &memQuerier{sessions: make(map[uuid.UUID]*chat.Session)}
}

func (m *memQuerier) CreateSession(_ context.Context, title string) (*chat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if title == "" {
		title = chat.DefaultTitle
	}
	now := time.Now()
	sess := &chat.Session{ID: uuid.New(), Title: title, CreatedAt: now, UpdatedAt: now, IsActive: true}
	m.sessions[sess.ID] = sess
	return sess, nil
}

func (m *memQuerier) GetSession(_ context.Context, id uuid.UUID) (*chat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || !sess.IsActive {
		return nil, fmt.Errorf("session %s: %w", id, chat.ErrNotFound)
	}
	return sess, nil
}

func (m *memQuerier) ListSessions(_ context.Context, limit, offset int32) ([]*chat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*chat.Session
	for _, sess := range m.sessions {
		if sess.IsActive {
			out = append(out, sess)
		}
	}
	if limit > 0 && int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memQuerier) TouchSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || !sess.IsActive {
		return fmt.Errorf("session %s: %w", id, chat.ErrNotFound)
	}
	sess.UpdatedAt = time.Now()
	return nil
}

func (m *memQuerier) UpdateSessionTitle(_ context.Context, id uuid.UUID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || !sess.IsActive {
		return fmt.Errorf("session %s: %w", id, chat.ErrNotFound)
	}
	sess.Title = title
	return nil
}

func (m *memQuerier) DeactivateSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || !sess.IsActive {
		return fmt.Errorf("session %s: %w", id, chat.ErrNotFound)
	}
	sess.IsActive = false
	return nil
}

func (m *memQuerier) InsertMessage(_ context.Context, arg chat.InsertMessageParams) (*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &chat.Message{
		ID:          uuid.New(),
		SessionID:   arg.SessionID,
		Role:        arg.Role,
		Content:     arg.Content,
		ToolCalls:   arg.ToolCalls,
		ToolResults: arg.ToolResults,
		Tokens:      arg.Tokens,
		CreatedAt:   time.Now(),
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *memQuerier) ListMessages(_ context.Context, sessionID uuid.UUID, limit, offset int32) ([]*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*chat.Message
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memQuerier) GetMessage(_ context.Context, id uuid.UUID) (*chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", id, chat.ErrNotFound)
}

func (m *memQuerier) DeleteSessionMessages(_ context.Context, sessionID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*chat.Message
	var deleted int64
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			deleted++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return deleted, nil
}

// messageCount reports how many messages exist across all sessions.
func (m *memQuerier) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// scriptedResponder returns a fixed reply for every turn.
type scriptedResponder struct {
	reply chat.Reply
}

func (r *scriptedResponder) Respond(context.Context, string, []chat.Turn) *chat.Reply {
	reply := r.reply
	return &reply
}

func (r *scriptedResponder) RespondStream(context.Context, string, []chat.Turn) iter.Seq[chat.StreamChunk] {
	return func(yield func(chat.StreamChunk) bool) {
		runes := []rune(r.reply.Content)
		for i := 0; i < len(runes); i += 10 {
			end := min(i+10, len(runes))
			chunk := chat.StreamChunk{Content: string(runes[i:end]), IsFinal: end == len(runes)}
			if chunk.IsFinal {
				chunk.ToolCalls = r.reply.ToolCalls
			}
			if !yield(chunk) {
				return
			}
		}
	}
}

// newTestServer builds a server over in-memory storage with a scripted
// responder.
func newTestServer(t *testing.T, reply chat.Reply) (*httptest.Server, *memQuerier) {
	t.Helper()

	q := newMemQuerier()
	store := chat.NewStore(q, nil, log.NewNop())
	service := chat.NewService(store, &scriptedResponder{reply: reply}, log.NewNop())

	srv, err := NewServer(ServerConfig{
		Logger:      log.NewNop(),
		Store:       store,
		Service:     service,
		CORSOrigins: []string{"http://localhost:5173"},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, q
}

func TestNewServerRequiresDependencies(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Fatal("expected error for missing store")
	}

	store := chat.NewStore(newMemQuerier(), nil, log.NewNop())
	if _, err := NewServer(ServerConfig{Store: store}); err == nil {
		t.Fatal("expected error for missing service")
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, chat.Reply{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestRootEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, chat.Reply{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t, chat.Reply{})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/chat/sessions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("allow-origin = %q", got)
	}
}

func TestCORSUnknownOriginGetsNoHeaders(t *testing.T) {
	ts, _ := newTestServer(t, chat.Reply{})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/chat/sessions", nil)
	req.Header.Set("Origin", "http://evil.example")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow-origin = %q, want empty", got)
	}
}
