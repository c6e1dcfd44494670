// Package conversation persists chat histories keyed by conversation
// id. Each save rewrites the whole history, so saving the same inputs
// twice leaves the same record.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/TimChild/mcp-chat/internal/kvstore"
	"github.com/TimChild/mcp-chat/internal/llm"
)

// Namespace is the kvstore namespace holding conversation records.
const Namespace = "messages"

// Store loads and saves conversations through a kvstore.Store.
type Store struct {
	kv     kvstore.Store
	logger *slog.Logger
}

// NewStore wraps kv.
func NewStore(kv kvstore.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger.With("component", "conversation_store")}
}

// Load returns the stored history for id. An empty id or a missing
// record yields an empty history.
func (s *Store) Load(ctx context.Context, id string) ([]llm.Message, error) {
	if id == "" {
		return []llm.Message{}, nil
	}

	data, err := s.kv.Get(ctx, Namespace, id)
	if errors.Is(err, kvstore.ErrNotFound) {
		return []llm.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}

	msgs, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	s.logger.Debug("loaded conversation", "conversation_id", id, "messages", len(msgs))
	return msgs, nil
}

// Save writes previous, the question as a human message, and
// responses under id. An empty id disables persistence.
func (s *Store) Save(ctx context.Context, id string, previous []llm.Message, question string, responses []llm.Message) error {
	if id == "" {
		return nil
	}

	all := make([]llm.Message, 0, len(previous)+1+len(responses))
	all = append(all, previous...)
	all = append(all, llm.HumanMessage(question))
	all = append(all, responses...)

	data, err := Encode(all)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", id, err)
	}
	if err := s.kv.Put(ctx, Namespace, id, data); err != nil {
		return fmt.Errorf("save conversation %s: %w", id, err)
	}

	s.logger.Debug("saved conversation", "conversation_id", id, "messages", len(all))
	return nil
}

// List returns the stored conversations ordered by id.
func (s *Store) List(ctx context.Context) ([]kvstore.Entry, error) {
	return s.kv.List(ctx, Namespace)
}

// Delete removes the conversation with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, Namespace, id)
}
