package main

import (
	"fmt"

	"github.com/TimChild/mcp-chat/internal/agent"
	"github.com/TimChild/mcp-chat/internal/config"
	"github.com/TimChild/mcp-chat/internal/conversation"
	"github.com/TimChild/mcp-chat/internal/kvstore"
	"github.com/TimChild/mcp-chat/internal/llm"
	"github.com/TimChild/mcp-chat/internal/mcp"
)

// connectionSpecs converts the configured servers, in name order.
func connectionSpecs(cfg *config.Config) []mcp.ConnectionSpec {
	specs := make([]mcp.ConnectionSpec, 0, len(cfg.Servers))
	for _, name := range cfg.ServerNames() {
		s := cfg.Servers[name]
		specs = append(specs, mcp.ConnectionSpec{
			Name:      name,
			Transport: mcp.TransportKind(s.Transport),
			Stdio: mcp.StdioParams{
				Command: s.Command,
				Args:    s.Args,
				Env:     s.Env,
			},
			Stream: mcp.StreamParams{
				URL:     s.URL,
				Headers: s.Headers,
			},
		})
	}
	return specs
}

func (a *app) newManager() (*mcp.Manager, error) {
	return mcp.NewManager(mcp.ManagerConfig{
		Servers:      connectionSpecs(a.cfg),
		ProbeTimeout: a.cfg.Session.ProbeTimeout,
		InitTimeout:  a.cfg.Session.InitTimeout,
		Logger:       a.logger,
	})
}

// newLLMClient builds a multi-provider client from the configuration.
// Ollama is always registered; hosted providers only when a key is set.
func (a *app) newLLMClient() *llm.MultiClient {
	multi := llm.NewMultiClient()
	multi.AddProvider("ollama", llm.NewOllamaClient(a.cfg.Ollama.URL, a.logger))

	if a.cfg.Anthropic.Configured() {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey: a.cfg.Anthropic.APIKey,
		}, a.logger))
	}
	if a.cfg.OpenAI.Configured() {
		multi.AddProvider("openai", llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  a.cfg.OpenAI.APIKey,
			BaseURL: a.cfg.OpenAI.BaseURL,
		}, a.logger))
	}

	for _, m := range a.cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider, m.Model)
	}
	a.logger.Debug("LLM client initialized", "default_model", a.cfg.Models.Default, "models", multi.Models())
	return multi
}

// openHistory opens the configured key-value store. The caller closes
// the returned store.
func (a *app) openHistory() (*conversation.Store, kvstore.Store, error) {
	kv, err := kvstore.Open(a.cfg.Store.Driver, a.cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return conversation.NewStore(kv, a.logger), kv, nil
}

func (a *app) newLoop(manager *mcp.Manager, history *conversation.Store) *agent.Loop {
	return agent.NewLoop(a.logger, a.newLLMClient(), manager, history, agent.Config{
		SystemPrompt:  a.cfg.Agent.SystemPrompt,
		DefaultModel:  a.cfg.Models.Default,
		MaxIterations: a.cfg.Agent.MaxIterations,
	})
}
