package domain

import "context"

// Channel is a chat surface (CLI, Telegram, Discord, Slack). A channel
// publishes user messages onto the bus and subscribes for outbound replies
// addressed to its name.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus Bus) error
	Stop() error
	Send(ctx context.Context, chatID string, content string) error
}

// Bus routes messages between channels and the agent. Kept as an interface so
// channel packages do not depend on the bus implementation.
type Bus interface {
	PublishInbound(msg InboundMessage)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(channelName string, handler func(OutboundMessage))
}
