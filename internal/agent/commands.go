package agent

import (
	"context"
	"strings"

	"attobot/internal/domain"
)

const helpText = `Attobot commands:
/new - Start a new conversation
/stop - Stop current task
/help - Show commands`

// handleCommand recognizes the session-level control commands. A command
// must be the entire message body, case-insensitive, after trimming
// whitespace. Returns handled=false for ordinary messages.
func (a *AgentLoop) handleCommand(ctx context.Context, msg domain.InboundMessage, sessionKey string) (*domain.OutboundMessage, bool) {
	switch strings.ToLower(strings.TrimSpace(msg.Content)) {
	case "/new":
		if err := a.sessions.ClearSession(ctx, sessionKey); err != nil {
			a.logger.Warn("clear session failed", "session", sessionKey, "err", err)
		}
		return &domain.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: "New session started.",
		}, true

	case "/help":
		return &domain.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: helpText,
		}, true

	case "/stop":
		if !a.taskInProgress.Load() {
			return &domain.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: "No active task is running.",
			}, true
		}
		a.cancelRequested.Store(true)
		return &domain.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: stoppingAck,
		}, true
	}
	return nil, false
}
