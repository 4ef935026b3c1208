// Package agent wraps a tool-augmented research model behind the chat
// responder contract.
//
// Responsibilities: convert stored history into model turns, invoke the
// model with the paper-search tool attached, and surface tool activity
// as structured data. Generation failures are absorbed into the reply
// content so a chat turn always produces a well-formed answer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/papergent/papergent/internal/chat"
)

const (
	// ChunkSize is the number of characters per streamed slice.
	ChunkSize = 10

	// fallbackResponseMessage is returned when the model produces an
	// empty response with no tool requests.
	fallbackResponseMessage = "I apologize, but I couldn't generate a response. Please try rephrasing your question."
)

// systemPrompt positions the model as a research assistant with the
// paper-search tool.
const systemPrompt = `You are a professional research assistant who helps users find, understand, and summarize academic papers.

You have access to the following tool:
1. search_arxiv - search arXiv for academic papers

Follow these steps when helping users:
1. Understand the user's research need
2. Use the tool to search for relevant papers when appropriate
3. Provide the key information for each paper: title, authors, abstract, key contributions
4. Provide a detailed summary of a paper when asked
5. Keep answers professional, accurate, and useful

Answer in the same language the user writes in.`

// Config contains all required parameters for the Agent.
type Config struct {
	Genkit *genkit.Genkit
	Logger *slog.Logger
	Tools  []ai.Tool // Pre-registered tools

	// ModelName is the provider-qualified model name
	// (e.g., "deepseek/deepseek-chat").
	ModelName   string
	Temperature float64
	MaxTokens   int
	MaxTurns    int // Maximum agentic loop turns

	// Resilience configuration
	Retry       RetryConfig   // zero-value uses defaults
	RateLimiter *rate.Limiter // nil = use default
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Agent generates assistant replies using a tool-augmented model.
//
// Agent is stateless; all configuration is captured immutably at
// construction, so one instance is shared by all requests.
type Agent struct {
	g *genkit.Genkit

	modelName   string
	temperature float64
	maxTokens   int
	maxTurns    int

	retry       RetryConfig
	rateLimiter *rate.Limiter

	logger    *slog.Logger
	toolRefs  []ai.ToolRef // Cached at construction
	toolNames string       // Cached as comma-separated for logging
}

// New creates an Agent from cfg.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 5
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	// Default: 10 requests/sec sustained, burst of 30
	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	names := make([]string, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
		names[i] = t.Name()
	}

	a := &Agent{
		g:           cfg.Genkit,
		modelName:   cfg.ModelName,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxTurns:    maxTurns,
		retry:       retry,
		rateLimiter: rl,
		logger:      logger,
		toolRefs:    toolRefs,
		toolNames:   strings.Join(names, ", "),
	}

	a.logger.Info("agent initialized",
		"model", a.modelName,
		"tools", a.toolNames,
		"maxTurns", a.maxTurns,
	)
	return a, nil
}

// Respond generates a reply for message given prior history.
//
// History turns with roles other than user/assistant are dropped from
// replay; the model only sees plain conversation turns, tool activity
// is re-derived on each call.
//
// Respond never returns an error: any failure from the model or its
// tools is embedded in the reply content with empty tool metadata.
func (a *Agent) Respond(ctx context.Context, message string, history []chat.Turn) *chat.Reply {
	messages := historyMessages(history)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(message)))

	a.logger.Debug("generating response",
		"model", a.modelName,
		"history_len", len(messages)-1,
		"query_len", len(message),
	)

	opts := []ai.GenerateOption{
		ai.WithModelName(a.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(messages...),
		ai.WithMaxTurns(a.maxTurns),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     a.temperature,
			MaxOutputTokens: a.maxTokens,
		}),
	}
	if len(a.toolRefs) > 0 {
		opts = append(opts, ai.WithTools(a.toolRefs...))
	}

	resp, err := a.generateWithRetry(ctx, opts)
	if err != nil {
		a.logger.Error("generation failed", "error", err)
		return &chat.Reply{Content: fmt.Sprintf("Error processing message: %v", err)}
	}

	content := resp.Text()
	toolCalls := toolCallsFrom(resp)
	if strings.TrimSpace(content) == "" && len(toolCalls) == 0 {
		a.logger.Warn("model returned empty response with no tool requests")
		content = fallbackResponseMessage
	}

	return &chat.Reply{
		Content:     content,
		ToolCalls:   toolCalls,
		ToolResults: toolResultsFrom(resp),
	}
}

// RespondStream generates a complete reply, then replays its content as
// fixed-size character slices. The final slice carries IsFinal and the
// reply's tool calls.
//
// This is chunked replay of a buffered response, not incremental
// generation: chunk boundaries fall every ChunkSize characters
// regardless of token boundaries.
func (a *Agent) RespondStream(ctx context.Context, message string, history []chat.Turn) iter.Seq[chat.StreamChunk] {
	return func(yield func(chat.StreamChunk) bool) {
		reply := a.Respond(ctx, message, history)
		for chunk := range chunkReply(reply) {
			if !yield(chunk) {
				return
			}
		}
	}
}

// chunkReply partitions a reply's content into ChunkSize-character
// slices. Character means rune; multi-byte text is never split
// mid-character.
func chunkReply(reply *chat.Reply) iter.Seq[chat.StreamChunk] {
	return func(yield func(chat.StreamChunk) bool) {
		runes := []rune(reply.Content)
		if len(runes) == 0 {
			yield(chat.StreamChunk{IsFinal: true, ToolCalls: reply.ToolCalls})
			return
		}

		for i := 0; i < len(runes); i += ChunkSize {
			end := min(i+ChunkSize, len(runes))
			chunk := chat.StreamChunk{
				Content: string(runes[i:end]),
				IsFinal: end == len(runes),
			}
			if chunk.IsFinal {
				chunk.ToolCalls = reply.ToolCalls
			}
			if !yield(chunk) {
				return
			}
		}
	}
}

// historyMessages converts stored turns into model messages, keeping
// only user and assistant turns.
func historyMessages(history []chat.Turn) []*ai.Message {
	messages := make([]*ai.Message, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Role {
		case chat.RoleUser:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(turn.Content)))
		case chat.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(turn.Content)))
		}
	}
	return messages
}

// toolCallsFrom extracts the tool invocations the model made.
func toolCallsFrom(resp *ai.ModelResponse) []chat.ToolCall {
	requests := resp.ToolRequests()
	if len(requests) == 0 {
		return nil
	}
	calls := make([]chat.ToolCall, 0, len(requests))
	for _, req := range requests {
		calls = append(calls, chat.ToolCall{
			ID:   req.Ref,
			Name: req.Name,
			Args: argsMap(req.Input),
		})
	}
	return calls
}

// toolResultsFrom collects tool outputs from the request message log,
// keyed by call reference (falling back to tool name).
func toolResultsFrom(resp *ai.ModelResponse) chat.ToolResults {
	if resp.Request == nil {
		return nil
	}
	var results chat.ToolResults
	for _, msg := range resp.Request.Messages {
		for _, part := range msg.Content {
			if part.ToolResponse == nil {
				continue
			}
			key := part.ToolResponse.Ref
			if key == "" {
				key = part.ToolResponse.Name
			}
			if results == nil {
				results = make(chat.ToolResults)
			}
			results[key] = renderOutput(part.ToolResponse.Output)
		}
	}
	return results
}

func argsMap(input any) map[string]any {
	if m, ok := input.(map[string]any); ok {
		return m
	}
	if input == nil {
		return nil
	}
	// Tool inputs arrive as JSON; round-trip anything else.
	data, err := json.Marshal(input)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func renderOutput(output any) string {
	switch v := output.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
