package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// route maps a user-facing model name to a provider and the provider's
// own model identifier.
type route struct {
	provider string
	upstream string
}

// MultiClient routes requests to the appropriate provider based on model name.
type MultiClient struct {
	clients map[string]Client // provider name → client
	models  map[string]route  // model name → route
}

// NewMultiClient creates an empty router.
func NewMultiClient() *MultiClient {
	return &MultiClient{
		clients: make(map[string]Client),
		models:  make(map[string]route),
	}
}

// AddProvider registers a client for a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// AddModel maps a model name to a provider. upstream is the name the
// provider knows the model by; empty means the same as modelName.
func (m *MultiClient) AddModel(modelName, providerName, upstream string) {
	if upstream == "" {
		upstream = modelName
	}
	m.models[modelName] = route{provider: providerName, upstream: upstream}
}

// Models returns the routable model names in sorted order.
func (m *MultiClient) Models() []string {
	names := make([]string, 0, len(m.models))
	for name := range m.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolve returns the client and upstream model name for model.
func (m *MultiClient) resolve(model string) (Client, string, error) {
	r, ok := m.models[model]
	if !ok {
		return nil, "", &UnknownModelError{Model: model}
	}
	client, ok := m.clients[r.provider]
	if !ok {
		return nil, "", fmt.Errorf("model %q: provider %q is not configured", model, r.provider)
	}
	return client, r.upstream, nil
}

// Chat sends a request to the appropriate provider for the model.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	client, upstream, err := m.resolve(model)
	if err != nil {
		return nil, err
	}
	return client.Chat(ctx, upstream, messages, tools)
}

// Ping checks every registered provider.
func (m *MultiClient) Ping(ctx context.Context) error {
	if len(m.clients) == 0 {
		return errors.New("no providers configured")
	}
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := m.clients[name].Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
