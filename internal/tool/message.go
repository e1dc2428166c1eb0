package tool

import (
	"context"
	"fmt"

	"attobot/internal/domain"
)

// MessageTool publishes an outbound message to a channel, letting the agent
// proactively notify the user (cron results, subagent updates).
type MessageTool struct {
	bus domain.Bus
}

func NewMessageTool(bus domain.Bus) *MessageTool {
	return &MessageTool{bus: bus}
}

func (t *MessageTool) Name() string { return "message" }

func (t *MessageTool) Description() string {
	return "Send a message to the user on a specific channel. Use when you need to deliver a notification outside the current reply."
}

func (t *MessageTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"channel": {Type: "string", Description: "Channel name (e.g. 'telegram', 'cli')"},
			"chat_id": {Type: "string", Description: "Chat or conversation ID on that channel"},
			"content": {Type: "string", Description: "Message text to send"},
		},
		[]string{"channel", "chat_id", "content"},
	)
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	channel := ArgsString(args, "channel")
	chatID := ArgsString(args, "chat_id")
	content := ArgsString(args, "content")
	if channel == "" || chatID == "" || content == "" {
		return "", fmt.Errorf("channel, chat_id, and content are all required")
	}
	t.bus.PublishOutbound(domain.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
	})
	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
}

var _ domain.Tool = (*MessageTool)(nil)
