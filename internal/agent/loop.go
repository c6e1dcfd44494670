// Package agent implements the core agent loop.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/TimChild/mcp-chat/internal/llm"
	"github.com/TimChild/mcp-chat/internal/tools"
)

// MaxIterationsMessage is appended as a final assistant message when
// the loop stops because it ran out of iterations.
const MaxIterationsMessage = "Max iterations reached. You can ask me to continue."

// DefaultMaxIterations bounds inference steps when Config leaves it unset.
const DefaultMaxIterations = 10

// ConfigurableModelName is the Request.Configurable key selecting the model.
const ConfigurableModelName = "model_name"

// ToolSource opens a tool scope for one run. release ends the scope and
// is called exactly once.
type ToolSource interface {
	OpenTools(ctx context.Context) (registry *tools.Registry, release func() error, err error)
}

// History loads and persists conversations.
type History interface {
	Load(ctx context.Context, id string) ([]llm.Message, error)
	Save(ctx context.Context, id string, previous []llm.Message, question string, responses []llm.Message) error
}

// Config tunes a Loop.
type Config struct {
	SystemPrompt  string
	DefaultModel  string
	MaxIterations int
}

// Request is one question to the agent.
type Request struct {
	Question       string
	ConversationID string

	// Configurable carries per-run options. "model_name" selects the
	// model; other keys are ignored.
	Configurable map[string]any
}

// Loop alternates model inference and tool execution until the model
// answers without requesting tools or the iteration cap is reached.
type Loop struct {
	logger  *slog.Logger
	llm     llm.Client
	tools   ToolSource
	history History
	cfg     Config
}

// NewLoop creates a new agent loop. A nil tools source offers no tools
// and a nil history disables persistence.
func NewLoop(logger *slog.Logger, client llm.Client, toolSource ToolSource, history History, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Loop{
		logger:  logger.With("component", "agent"),
		llm:     client,
		tools:   toolSource,
		history: history,
		cfg:     cfg,
	}
}

// Run answers req and returns the messages produced during this run:
// assistant turns, tool results, and possibly the max-iterations
// notice. The conversation is saved under req.ConversationID when set.
func (l *Loop) Run(ctx context.Context, req *Request) ([]llm.Message, error) {
	start := time.Now()
	model := l.model(req)
	log := l.logger.With("conversation_id", req.ConversationID, "model", model)

	log.Info("agent loop started", "question_len", len(req.Question))

	registry, release, err := l.openTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("open tools: %w", err)
	}
	released := false
	releaseTools := func() {
		if released {
			return
		}
		released = true
		if err := release(); err != nil {
			log.Warn("release tools failed", "error", err)
		}
	}
	defer releaseTools()

	previous, err := l.load(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	log.Debug("loaded history", "count", len(previous))

	messages := make([]llm.Message, 0, len(previous)+2)
	messages = append(messages, llm.SystemMessage(l.cfg.SystemPrompt))
	messages = append(messages, previous...)
	messages = append(messages, llm.HumanMessage(req.Question))

	var toolDefs []map[string]any
	if registry.Len() > 0 {
		toolDefs = registry.List()
	}

	var responses []llm.Message
	finished := false
	for iter := 1; iter <= l.cfg.MaxIterations; iter++ {
		log.Debug("calling LLM", "iteration", iter, "messages", len(messages), "tools", len(toolDefs))

		resp, err := l.llm.Chat(ctx, model, messages, toolDefs)
		if err != nil {
			log.Error("LLM call failed", "iteration", iter, "error", err)
			return nil, fmt.Errorf("inference (iteration %d): %w", iter, err)
		}

		msg := resp.Message
		msg.Role = llm.RoleAssistant
		assignCallIDs(&msg)
		messages = append(messages, msg)
		responses = append(responses, msg)

		if len(msg.ToolCalls) == 0 {
			finished = true
			break
		}

		results, err := tools.CallTools(ctx, registry, msg)
		if err != nil {
			return nil, fmt.Errorf("call tools (iteration %d): %w", iter, err)
		}
		for _, r := range results {
			if r.IsError {
				log.Warn("tool call failed", "tool", r.Name, "tool_call_id", r.ToolCallID, "result", r.Content)
			}
		}
		messages = append(messages, results...)
		responses = append(responses, results...)
	}

	if !finished {
		log.Warn("max iterations reached", "max_iterations", l.cfg.MaxIterations)
		responses = append(responses, llm.AIMessage(MaxIterationsMessage))
	}

	releaseTools()

	if l.history != nil {
		if err := l.history.Save(ctx, req.ConversationID, previous, req.Question, responses); err != nil {
			return nil, err
		}
	}

	log.Info("agent loop completed",
		"responses", len(responses),
		"finished", finished,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return responses, nil
}

// model returns the model requested in req.Configurable, or the default.
func (l *Loop) model(req *Request) string {
	if v, ok := req.Configurable[ConfigurableModelName]; ok {
		if name, ok := v.(string); ok && name != "" {
			return name
		}
		l.logger.Warn("ignoring non-string model_name", "value", v)
	}
	return l.cfg.DefaultModel
}

func (l *Loop) openTools(ctx context.Context) (*tools.Registry, func() error, error) {
	if l.tools == nil {
		return tools.NewRegistry(), func() error { return nil }, nil
	}
	return l.tools.OpenTools(ctx)
}

func (l *Loop) load(ctx context.Context, id string) ([]llm.Message, error) {
	if l.history == nil {
		return nil, nil
	}
	return l.history.Load(ctx, id)
}

// assignCallIDs gives every tool call without a provider id a generated
// one so tool results can always be correlated.
func assignCallIDs(msg *llm.Message) {
	if len(msg.ToolCalls) == 0 {
		return
	}
	calls := make([]llm.ToolCall, len(msg.ToolCalls))
	copy(calls, msg.ToolCalls)
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + uuid.NewString()
		}
	}
	msg.ToolCalls = calls
}
