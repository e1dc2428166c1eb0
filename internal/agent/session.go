package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"attobot/internal/domain"
)

// SessionManager maps session keys ("channel:chat_id") onto persisted
// conversations and long-term memory. A conversation's ID is its session
// key, so continuity survives restarts without a lookup table.
type SessionManager struct {
	store  domain.MemoryStore
	logger *slog.Logger

	mu    sync.Mutex
	known map[string]bool // session keys with an ensured conversation row
}

func NewSessionManager(store domain.MemoryStore, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		store:  store,
		logger: logger.With("component", "session"),
		known:  make(map[string]bool),
	}
}

// ensure creates the conversation row for key if it does not exist yet.
func (m *SessionManager) ensure(ctx context.Context, key string) error {
	m.mu.Lock()
	ok := m.known[key]
	m.mu.Unlock()
	if ok {
		return nil
	}

	conv, err := m.store.GetConversation(ctx, key)
	if err != nil {
		return fmt.Errorf("get conversation %s: %w", key, err)
	}
	if conv == nil {
		now := time.Now()
		err = m.store.CreateConversation(ctx, domain.Conversation{
			ID:        key,
			Title:     key,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("create conversation %s: %w", key, err)
		}
	}

	m.mu.Lock()
	m.known[key] = true
	m.mu.Unlock()
	return nil
}

// GetHistory returns the last limit messages of the session, oldest
// first, converted to model messages.
func (m *SessionManager) GetHistory(ctx context.Context, key string, limit int) ([]domain.Message, error) {
	if err := m.ensure(ctx, key); err != nil {
		return nil, err
	}
	records, err := m.store.GetMessages(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages %s: %w", key, err)
	}

	history := make([]domain.Message, 0, len(records))
	for _, r := range records {
		msg := domain.Message{
			Role:       r.Role,
			Content:    r.Content,
			ToolCallID: r.ToolCallID,
			ToolName:   r.ToolName,
		}
		if r.ToolCalls != "" {
			var calls []domain.ToolCall
			if err := json.Unmarshal([]byte(r.ToolCalls), &calls); err == nil {
				msg.ToolCalls = calls
			}
		}
		history = append(history, msg)
	}
	return history, nil
}

// SaveExchange appends the user turn and the final assistant turn.
// Persistence failures are logged, not returned; losing one exchange is
// preferable to failing the reply.
func (m *SessionManager) SaveExchange(ctx context.Context, key, userContent, assistantContent string, toolsUsed []string) {
	if err := m.ensure(ctx, key); err != nil {
		m.logger.Warn("ensure session failed", "session", key, "err", err)
		return
	}

	if err := m.store.AddMessage(ctx, key, domain.MessageRecord{Role: "user", Content: userContent}); err != nil {
		m.logger.Warn("save user message failed", "session", key, "err", err)
	}

	assistant := domain.MessageRecord{Role: "assistant", Content: assistantContent}
	if len(toolsUsed) > 0 {
		assistant.ToolName = strings.Join(toolsUsed, ",")
	}
	if err := m.store.AddMessage(ctx, key, assistant); err != nil {
		m.logger.Warn("save assistant message failed", "session", key, "err", err)
	}
}

// ClearSession drops the conversation and its messages. Long-term
// memories are kept.
func (m *SessionManager) ClearSession(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.known, key)
	m.mu.Unlock()
	return m.store.DeleteConversation(ctx, key)
}

// ConsolidateIfNeeded folds the older half of an over-long session into
// a long-term memory entry and trims the stored history, keeping the
// most recent window/2 messages verbatim.
func (m *SessionManager) ConsolidateIfNeeded(ctx context.Context, key string, window int) error {
	if window <= 0 {
		return nil
	}
	if err := m.ensure(ctx, key); err != nil {
		return err
	}

	count, err := m.store.CountMessages(ctx, key)
	if err != nil {
		return fmt.Errorf("count messages %s: %w", key, err)
	}
	if count <= window {
		return nil
	}

	keep := window / 2
	if keep < 1 {
		keep = 1
	}
	records, err := m.store.GetMessages(ctx, key, count)
	if err != nil {
		return fmt.Errorf("get messages %s: %w", key, err)
	}
	if len(records) <= keep {
		return nil
	}

	old := records[:len(records)-keep]
	cutoffID := records[len(records)-keep].ID

	var summary strings.Builder
	summary.WriteString("Session " + key + " history:\n")
	for _, r := range old {
		line := r.Content
		if len(line) > 500 {
			line = line[:500] + "..."
		}
		summary.WriteString("[" + r.CreatedAt.Format("2006-01-02 15:04") + "] " + strings.ToUpper(r.Role) + ": " + line + "\n")
	}

	err = m.store.SaveMemory(ctx, domain.MemoryEntry{
		Category: "summary",
		Content:  summary.String(),
		Source:   key,
	})
	if err != nil {
		return fmt.Errorf("save summary memory %s: %w", key, err)
	}

	if err := m.store.DeleteMessagesBefore(ctx, key, cutoffID); err != nil {
		return fmt.Errorf("trim messages %s: %w", key, err)
	}

	m.logger.Info("consolidated session history", "session", key, "archived", len(old), "kept", keep)
	return nil
}
