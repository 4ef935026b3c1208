package chat

import (
	"context"
	"iter"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papergent/papergent/internal/log"
)

// stubResponder returns canned replies and records the history it saw.
type stubResponder struct {
	reply  Reply
	chunks []StreamChunk

	lastMessage string
	lastHistory []Turn
}

func (r *stubResponder) Respond(_ context.Context, message string, history []Turn) *Reply {
	r.lastMessage = message
	r.lastHistory = history
	reply := r.reply
	return &reply
}

func (r *stubResponder) RespondStream(_ context.Context, message string, history []Turn) iter.Seq[StreamChunk] {
	r.lastMessage = message
	r.lastHistory = history
	return func(yield func(StreamChunk) bool) {
		for _, c := range r.chunks {
			if !yield(c) {
				return
			}
		}
	}
}

func newTestService(responder Responder) (*Service, *mockQuerier) {
	q := newMockQuerier()
	store := NewStore(q, nil, log.NewNop())
	return NewService(store, responder, log.NewNop()), q
}

func TestProcessChat(t *testing.T) {
	responder := &stubResponder{reply: Reply{Content: "Hi there"}}
	svc, _ := newTestService(responder)
	ctx := context.Background()

	sess, err := svc.store.CreateSession(ctx, "Test")
	require.NoError(t, err)

	result, err := svc.ProcessChat(ctx, sess.ID, "Hello")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, result.SessionID)
	assert.True(t, result.IsComplete)
	assert.Equal(t, RoleAssistant, result.Message.Role)
	assert.Equal(t, "Hi there", result.Message.Content)

	// Both sides of the turn are persisted in order.
	msgs, err := svc.store.Messages(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
}

func TestProcessChatHistoryExcludesCurrentMessage(t *testing.T) {
	responder := &stubResponder{reply: Reply{Content: "second answer"}}
	svc, _ := newTestService(responder)
	ctx := context.Background()

	sess, err := svc.store.CreateSession(ctx, "Test")
	require.NoError(t, err)

	_, err = svc.ProcessChat(ctx, sess.ID, "first question")
	require.NoError(t, err)

	_, err = svc.ProcessChat(ctx, sess.ID, "second question")
	require.NoError(t, err)

	// History for the second turn holds only the first turn's messages.
	require.Len(t, responder.lastHistory, 2)
	assert.Equal(t, "first question", responder.lastHistory[0].Content)
	assert.Equal(t, "second question", responder.lastMessage)
}

func TestProcessChatEmptyMessage(t *testing.T) {
	svc, _ := newTestService(&stubResponder{})

	_, err := svc.ProcessChat(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestProcessChatPersistsToolMetadata(t *testing.T) {
	responder := &stubResponder{reply: Reply{
		Content:     "Found 3 papers",
		ToolCalls:   []ToolCall{{ID: "c1", Name: "search_arxiv", Args: map[string]any{"query": "RLHF"}}},
		ToolResults: ToolResults{"c1": "paper list"},
	}}
	svc, _ := newTestService(responder)
	ctx := context.Background()

	sess, err := svc.store.CreateSession(ctx, "Test")
	require.NoError(t, err)

	result, err := svc.ProcessChat(ctx, sess.ID, "find papers on RLHF")
	require.NoError(t, err)
	require.Len(t, result.Message.ToolCalls, 1)
	assert.Equal(t, "search_arxiv", result.Message.ToolCalls[0].Name)
	assert.Equal(t, "paper list", result.Message.ToolResults["c1"])
}

func TestProcessStreamChatCreatesSession(t *testing.T) {
	responder := &stubResponder{chunks: []StreamChunk{
		{Content: "Hello, wor"},
		{Content: "ld!", IsFinal: true},
	}}
	svc, q := newTestService(responder)
	ctx := context.Background()

	start, seq := svc.ProcessStreamChat(ctx, nil, "Tell me about the world")

	var chunks []StreamChunk
	for c := range seq {
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 2)
	assert.False(t, chunks[0].IsFinal)
	assert.True(t, chunks[1].IsFinal)

	assert.True(t, start.Created)
	sess, err := svc.store.Session(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Tell me about the world", sess.Title)

	// Accumulated content is persisted as one assistant message.
	msgs, err := svc.store.Messages(ctx, start.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Tell me about the world", msgs[0].Content)
	assert.Equal(t, "Hello, world!", msgs[1].Content)
	assert.Equal(t, 1, q.createSessionCalls)
}

func TestProcessStreamChatExistingSession(t *testing.T) {
	responder := &stubResponder{chunks: []StreamChunk{
		{Content: "answer", IsFinal: true},
	}}
	svc, _ := newTestService(responder)
	ctx := context.Background()

	sess, err := svc.store.CreateSession(ctx, "Existing")
	require.NoError(t, err)
	_, err = svc.ProcessChat(ctx, sess.ID, "earlier question")
	require.NoError(t, err)

	start, seq := svc.ProcessStreamChat(ctx, &sess.ID, "followup")
	for range seq {
	}

	assert.False(t, start.Created)
	assert.Equal(t, sess.ID, start.SessionID)

	// History excludes the just-persisted user message.
	require.NotEmpty(t, responder.lastHistory)
	last := responder.lastHistory[len(responder.lastHistory)-1]
	assert.NotEqual(t, "followup", last.Content)
}

func TestProcessStreamChatToolCallsOnFinalChunk(t *testing.T) {
	toolCalls := []ToolCall{{ID: "c1", Name: "search_arxiv"}}
	responder := &stubResponder{chunks: []StreamChunk{
		{Content: "part one "},
		{Content: "part two", IsFinal: true, ToolCalls: toolCalls},
	}}
	svc, _ := newTestService(responder)

	start, seq := svc.ProcessStreamChat(context.Background(), nil, "query")
	var chunks []StreamChunk
	for c := range seq {
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 2)
	assert.Nil(t, chunks[0].ToolCalls)
	assert.Equal(t, toolCalls, chunks[1].ToolCalls)

	msgs, err := svc.store.Messages(context.Background(), start.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, toolCalls, msgs[1].ToolCalls)
}

func TestProcessStreamChatEmptyContentNotPersisted(t *testing.T) {
	responder := &stubResponder{chunks: nil}
	svc, _ := newTestService(responder)

	start, seq := svc.ProcessStreamChat(context.Background(), nil, "question")
	for range seq {
	}

	// Only the user message exists when the responder produced nothing.
	msgs, err := svc.store.Messages(context.Background(), start.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)
}

func TestProcessStreamChatSetupErrorChunk(t *testing.T) {
	q := newMockQuerier()
	q.insertMessageErr = assert.AnError
	store := NewStore(q, nil, log.NewNop())
	svc := NewService(store, &stubResponder{}, log.NewNop())

	id := uuid.New()
	_, seq := svc.ProcessStreamChat(context.Background(), &id, "hello")

	var chunks []StreamChunk
	for c := range seq {
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsFinal)
	assert.Contains(t, chunks[0].Content, "Error:")
}

func TestProcessStreamChatEarlyTermination(t *testing.T) {
	responder := &stubResponder{chunks: []StreamChunk{
		{Content: "one"},
		{Content: "two"},
		{Content: "three", IsFinal: true},
	}}
	svc, _ := newTestService(responder)

	start, seq := svc.ProcessStreamChat(context.Background(), nil, "question")
	for range seq {
		break
	}

	// Stopping early means no assistant message is persisted.
	msgs, err := svc.store.Messages(context.Background(), start.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}
