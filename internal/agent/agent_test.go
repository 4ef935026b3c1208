package agent

import (
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papergent/papergent/internal/chat"
)

func TestHistoryMessages(t *testing.T) {
	history := []chat.Turn{
		{Role: chat.RoleUser, Content: "find papers on attention"},
		{Role: chat.RoleAssistant, Content: "Here are three papers."},
		{Role: chat.RoleSystem, Content: "you are a helpful assistant"},
		{Role: chat.RoleTool, Content: "raw tool output"},
		{Role: chat.RoleUser, Content: "summarize the first one"},
	}

	messages := historyMessages(history)

	// System and tool turns are dropped from replay.
	require.Len(t, messages, 3)
	assert.Equal(t, ai.RoleUser, messages[0].Role)
	assert.Equal(t, "find papers on attention", messages[0].Text())
	assert.Equal(t, ai.RoleModel, messages[1].Role)
	assert.Equal(t, ai.RoleUser, messages[2].Role)
}

func TestHistoryMessagesEmpty(t *testing.T) {
	assert.Empty(t, historyMessages(nil))
}

func TestChunkReplyPartitioning(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantChunks []string
	}{
		{
			name:       "multiple of chunk size",
			content:    strings.Repeat("a", 20),
			wantChunks: []string{strings.Repeat("a", 10), strings.Repeat("a", 10)},
		},
		{
			name:       "remainder chunk",
			content:    strings.Repeat("b", 23),
			wantChunks: []string{strings.Repeat("b", 10), strings.Repeat("b", 10), "bbb"},
		},
		{
			name:       "shorter than chunk size",
			content:    "short",
			wantChunks: []string{"short"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []chat.StreamChunk
			for c := range chunkReply(&chat.Reply{Content: tt.content}) {
				got = append(got, c)
			}

			require.Len(t, got, len(tt.wantChunks))
			var rebuilt strings.Builder
			for i, c := range got {
				assert.Equal(t, tt.wantChunks[i], c.Content)
				assert.Equal(t, i == len(got)-1, c.IsFinal)
				rebuilt.WriteString(c.Content)
			}
			assert.Equal(t, tt.content, rebuilt.String())
		})
	}
}

func TestChunkReplyMultibyte(t *testing.T) {
	// 25 CJK characters: chunk boundaries count characters, not bytes.
	content := strings.Repeat("研", 25)

	var got []chat.StreamChunk
	for c := range chunkReply(&chat.Reply{Content: content}) {
		got = append(got, c)
	}

	require.Len(t, got, 3)
	assert.Equal(t, strings.Repeat("研", 10), got[0].Content)
	assert.Equal(t, strings.Repeat("研", 5), got[2].Content)
	assert.True(t, got[2].IsFinal)
}

func TestChunkReplyEmptyContent(t *testing.T) {
	toolCalls := []chat.ToolCall{{ID: "c1", Name: ArxivToolName}}

	var got []chat.StreamChunk
	for c := range chunkReply(&chat.Reply{Content: "", ToolCalls: toolCalls}) {
		got = append(got, c)
	}

	// Even an empty reply produces one final chunk so the sequence
	// always terminates with IsFinal.
	require.Len(t, got, 1)
	assert.True(t, got[0].IsFinal)
	assert.Equal(t, toolCalls, got[0].ToolCalls)
}

func TestChunkReplyToolCallsOnlyOnFinal(t *testing.T) {
	toolCalls := []chat.ToolCall{{ID: "c1", Name: ArxivToolName}}
	reply := &chat.Reply{Content: strings.Repeat("x", 30), ToolCalls: toolCalls}

	var got []chat.StreamChunk
	for c := range chunkReply(reply) {
		got = append(got, c)
	}

	require.Len(t, got, 3)
	assert.Nil(t, got[0].ToolCalls)
	assert.Nil(t, got[1].ToolCalls)
	assert.Equal(t, toolCalls, got[2].ToolCalls)
}

func TestChunkReplyEarlyStop(t *testing.T) {
	reply := &chat.Reply{Content: strings.Repeat("y", 100)}

	count := 0
	for range chunkReply(reply) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestToolCallsFrom(t *testing.T) {
	resp := &ai.ModelResponse{
		Message: &ai.Message{
			Role: ai.RoleModel,
			Content: []*ai.Part{
				ai.NewToolRequestPart(&ai.ToolRequest{
					Ref:   "call-1",
					Name:  ArxivToolName,
					Input: map[string]any{"query": "diffusion models"},
				}),
			},
		},
	}

	calls := toolCallsFrom(resp)
	require.Len(t, calls, 1)
	assert.Equal(t, "call-1", calls[0].ID)
	assert.Equal(t, ArxivToolName, calls[0].Name)
	assert.Equal(t, "diffusion models", calls[0].Args["query"])
}

func TestToolCallsFromNoRequests(t *testing.T) {
	resp := &ai.ModelResponse{
		Message: ai.NewModelMessage(ai.NewTextPart("plain answer")),
	}
	assert.Nil(t, toolCallsFrom(resp))
}

func TestToolResultsFrom(t *testing.T) {
	resp := &ai.ModelResponse{
		Message: ai.NewModelMessage(ai.NewTextPart("done")),
		Request: &ai.ModelRequest{
			Messages: []*ai.Message{
				ai.NewUserMessage(ai.NewTextPart("question")),
				{
					Role: ai.RoleTool,
					Content: []*ai.Part{
						ai.NewToolResponsePart(&ai.ToolResponse{
							Ref:    "call-1",
							Name:   ArxivToolName,
							Output: "two papers found",
						}),
						ai.NewToolResponsePart(&ai.ToolResponse{
							Name:   "unref_tool",
							Output: map[string]any{"count": 2},
						}),
					},
				},
			},
		},
	}

	results := toolResultsFrom(resp)
	require.Len(t, results, 2)
	assert.Equal(t, "two papers found", results["call-1"])
	// Structured outputs are rendered as JSON, keyed by name when the
	// call reference is absent.
	assert.JSONEq(t, `{"count":2}`, results["unref_tool"])
}

func TestToolResultsFromNoRequest(t *testing.T) {
	resp := &ai.ModelResponse{Message: ai.NewModelMessage(ai.NewTextPart("hi"))}
	assert.Nil(t, toolResultsFrom(resp))
}

func TestArgsMap(t *testing.T) {
	direct := map[string]any{"query": "q"}
	assert.Equal(t, direct, argsMap(direct))

	assert.Nil(t, argsMap(nil))

	type input struct {
		Query string `json:"query"`
	}
	m := argsMap(input{Query: "structured"})
	require.NotNil(t, m)
	assert.Equal(t, "structured", m["query"])
}

func TestRenderOutput(t *testing.T) {
	assert.Equal(t, "plain", renderOutput("plain"))
	assert.Equal(t, "", renderOutput(nil))
	assert.JSONEq(t, `{"n":1}`, renderOutput(map[string]any{"n": 1}))
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"generic", assert.AnError, false},
		{"429", errString("got 429 Too Many Requests"), true},
		{"server error", errString("upstream 503"), true},
		{"timeout", errString("context deadline: TIMEOUT waiting"), true},
		{"auth failure", errString("invalid api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryableError(tt.err))
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestConfigValidate(t *testing.T) {
	err := Config{}.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "genkit")
}
