package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"attobot/internal/domain"
	"attobot/internal/tool"
)

const (
	// stopPollBatch bounds how many pending inbound messages one
	// cancellation poll may drain, so /stop is observed within one batch
	// without starving the main consume loop.
	stopPollBatch = 8

	// announceDrainBatch bounds the system-announcement drain after a
	// direct turn.
	announceDrainBatch = 32

	stoppedSentinel = "Stopped."
	stoppingAck     = "Stopping current task..."
	emptyTurnReply  = "I've completed processing but have no response to give."
)

// MessageBus is the slice of the bus the loop needs. *bus.MessageBus
// satisfies it.
type MessageBus interface {
	PublishInbound(msg domain.InboundMessage)
	PublishOutbound(msg domain.OutboundMessage)
	ConsumeInbound(ctx context.Context) (domain.InboundMessage, bool)
	TryConsumeInbound() (domain.InboundMessage, bool)
}

// Config holds the loop's tunables.
type Config struct {
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
	MemoryWindow  int // messages kept in-session before consolidation
}

// AgentLoop is the single consumer of the bus's inbound queue. For each
// message it resolves a session, runs a bounded tool-calling turn against
// the model, and publishes the reply outbound. A /stop command for the
// active session cancels the running turn cooperatively; unrelated
// messages observed while polling are deferred and republished when the
// turn's scope exits.
type AgentLoop struct {
	bus      MessageBus
	provider domain.Provider
	tools    *tool.Registry
	sessions *SessionManager
	prompts  *PromptBuilder
	cfg      Config
	logger   *slog.Logger

	taskInProgress  atomic.Bool
	cancelRequested atomic.Bool

	deferredMu sync.Mutex
	deferred   []domain.InboundMessage
}

func New(cfg Config, b MessageBus, provider domain.Provider, tools *tool.Registry, sessions *SessionManager, prompts *PromptBuilder, logger *slog.Logger) *AgentLoop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentLoop{
		bus:      b,
		provider: provider,
		tools:    tools,
		sessions: sessions,
		prompts:  prompts,
		cfg:      cfg,
		logger:   logger.With("component", "agent"),
	}
}

// Run consumes inbound messages until ctx is cancelled or the shutdown
// sentinel arrives. It is the loop's only worker; call it from exactly
// one goroutine.
func (a *AgentLoop) Run(ctx context.Context) {
	a.logger.Info("agent loop started", "model", a.cfg.Model, "max_iterations", a.cfg.MaxIterations)
	for {
		msg, ok := a.bus.ConsumeInbound(ctx)
		if !ok {
			a.logger.Info("agent loop stopped")
			return
		}
		if isShutdownSentinel(msg) {
			a.logger.Info("agent loop received shutdown sentinel")
			return
		}
		if out := a.processMessage(ctx, msg, ""); out != nil {
			a.bus.PublishOutbound(*out)
		}
	}
}

// Stop publishes the shutdown sentinel; the Run goroutine exits after
// consuming it.
func (a *AgentLoop) Stop() {
	a.bus.PublishInbound(domain.InboundMessage{
		Channel:  "system",
		SenderID: "system",
		ChatID:   "system",
		Content:  "stop",
	})
}

func isShutdownSentinel(msg domain.InboundMessage) bool {
	return msg.Channel == "system" && msg.Content == "stop"
}

// ProcessDirect runs one turn synchronously outside the Run worker.
// Used by the CLI REPL and the cron fire callback. Any subagent results
// addressed to this session that arrived during the turn are drained and
// appended to the reply.
func (a *AgentLoop) ProcessDirect(ctx context.Context, content, channel, chatID string) string {
	msg := domain.InboundMessage{
		Channel:  channel,
		SenderID: "user",
		ChatID:   chatID,
		Content:  content,
	}
	out := a.processMessage(ctx, msg, channel+":"+chatID)
	reply := ""
	if out != nil {
		reply = out.Content
	}
	return reply + a.drainSystemAnnouncements(ctx, channel, chatID)
}

func (a *AgentLoop) processMessage(ctx context.Context, msg domain.InboundMessage, sessionOverride string) *domain.OutboundMessage {
	if msg.Channel == "system" {
		return a.processSystemMessage(ctx, msg)
	}

	key := sessionOverride
	if key == "" {
		key = msg.SessionKey()
	}

	if out, handled := a.handleCommand(ctx, msg, key); handled {
		return out
	}

	if err := a.sessions.ConsolidateIfNeeded(ctx, key, a.cfg.MemoryWindow); err != nil {
		a.logger.Warn("memory consolidation failed", "session", key, "err", err)
	}

	a.beginRun()
	defer a.endRun()

	history, err := a.sessions.GetHistory(ctx, key, a.cfg.MemoryWindow)
	if err != nil {
		a.logger.Error("load history failed", "session", key, "err", err)
	}
	messages, err := a.prompts.BuildMessages(ctx, history, msg.Content, msg.Channel, msg.ChatID)
	if err != nil {
		return &domain.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: fmt.Sprintf("Sorry, I encountered an error: %v", err),
		}
	}

	final, toolsUsed := a.runTurn(ctx, messages, msg.Channel, msg.ChatID)

	a.sessions.SaveExchange(ctx, key, msg.Content, final, toolsUsed)

	return &domain.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  final,
		Metadata: msg.Metadata,
	}
}

// processSystemMessage handles control/announcement traffic (subagent
// results, scheduler notes). The origin session key is embedded in
// ChatID as "channel:chat_id"; the content is run as a turn in that
// session and the result is addressed back to the origin.
func (a *AgentLoop) processSystemMessage(ctx context.Context, msg domain.InboundMessage) *domain.OutboundMessage {
	originChannel, originChatID := "cli", "direct"
	if i := strings.IndexByte(msg.ChatID, ':'); i >= 0 {
		originChannel = msg.ChatID[:i]
		originChatID = msg.ChatID[i+1:]
	} else if msg.ChatID != "" {
		originChatID = msg.ChatID
	}
	key := originChannel + ":" + originChatID

	a.beginRun()
	defer a.endRun()

	history, err := a.sessions.GetHistory(ctx, key, a.cfg.MemoryWindow)
	if err != nil {
		a.logger.Error("load history failed", "session", key, "err", err)
	}
	messages, err := a.prompts.BuildMessages(ctx, history, msg.Content, originChannel, originChatID)
	if err != nil {
		a.logger.Error("build messages failed", "session", key, "err", err)
		return nil
	}

	final, _ := a.runTurn(ctx, messages, originChannel, originChatID)

	a.sessions.SaveExchange(ctx, key, "[System] "+msg.Content, final, nil)

	return &domain.OutboundMessage{
		Channel: originChannel,
		ChatID:  originChatID,
		Content: final,
	}
}

// runTurn is the bounded tool-calling state machine. Cancellation is
// polled before and after each model call and before each tool call;
// once observed, the turn's final content is the fixed stopped sentinel
// and no further model or tool calls are made.
func (a *AgentLoop) runTurn(ctx context.Context, messages []domain.Message, channel, chatID string) (string, []string) {
	var (
		final         string
		lastAssistant string
		toolsUsed     []string
	)

	for iteration := 0; iteration < a.cfg.MaxIterations; iteration++ {
		if a.pollForStop(channel, chatID) {
			final = stoppedSentinel
			break
		}

		resp, err := a.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       a.tools.GetDefinitions(),
			Model:       a.cfg.Model,
			MaxTokens:   a.cfg.MaxTokens,
			Temperature: a.cfg.Temperature,
		})
		if err != nil {
			a.logger.Error("model call failed", "err", err)
			final = fmt.Sprintf("Sorry, I encountered an error: %v", err)
			break
		}
		if strings.TrimSpace(resp.Content) != "" {
			lastAssistant = resp.Content
		}

		if a.pollForStop(channel, chatID) {
			final = stoppedSentinel
			break
		}

		toolCalls := resp.ToolCalls
		if len(toolCalls) == 0 {
			// Some models emit tool calls as JSON in the content
			// instead of the structured field.
			toolCalls = extractToolCallsFromContent(resp.Content)
		}

		if len(toolCalls) == 0 {
			final = stripRolePrefix(resp.Content)
			break
		}

		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: toolCalls,
		})

		for _, tc := range toolCalls {
			if a.pollForStop(channel, chatID) {
				final = stoppedSentinel
				break
			}
			toolsUsed = append(toolsUsed, tc.Name)
			result := a.tools.Execute(ctx, tc.Name, tc.Arguments)
			messages = append(messages, domain.Message{
				Role:       "tool",
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Content:    result,
			})
		}
		if final != "" {
			break
		}

		messages = append(messages, domain.Message{
			Role:    "user",
			Content: "Reflect on the results and decide next steps.",
		})
	}

	if final == "" {
		if lastAssistant == "" {
			final = emptyTurnReply
		} else {
			final = stripRolePrefix(lastAssistant)
		}
	}
	return final, toolsUsed
}

// pollForStop drains up to stopPollBatch pending inbound messages
// without blocking. A /stop addressed to the active session sets the
// cancel flag (the first observation also publishes an acknowledgment);
// everything else is deferred for republishing at scope exit.
func (a *AgentLoop) pollForStop(activeChannel, activeChatID string) bool {
	if a.cancelRequested.Load() {
		return true
	}
	for i := 0; i < stopPollBatch; i++ {
		msg, ok := a.bus.TryConsumeInbound()
		if !ok {
			break
		}
		cmd := strings.ToLower(strings.TrimSpace(msg.Content))
		if msg.Channel == activeChannel && msg.ChatID == activeChatID && cmd == "/stop" {
			if !a.cancelRequested.Swap(true) {
				a.bus.PublishOutbound(domain.OutboundMessage{
					Channel: activeChannel,
					ChatID:  activeChatID,
					Content: stoppingAck,
				})
			}
		} else {
			a.stashDeferred(msg)
		}
	}
	return a.cancelRequested.Load()
}

func (a *AgentLoop) stashDeferred(msg domain.InboundMessage) {
	a.deferredMu.Lock()
	a.deferred = append(a.deferred, msg)
	a.deferredMu.Unlock()
}

// flushDeferred republishes deferred messages in their original order.
func (a *AgentLoop) flushDeferred() {
	a.deferredMu.Lock()
	pending := a.deferred
	a.deferred = nil
	a.deferredMu.Unlock()
	for _, msg := range pending {
		a.bus.PublishInbound(msg)
	}
}

func (a *AgentLoop) beginRun() {
	a.taskInProgress.Store(true)
	a.cancelRequested.Store(false)
}

// endRun is the only place the cancellation flags are cleared, so a
// stale cancel request can never leak into the next turn. Runs on every
// exit path via defer.
func (a *AgentLoop) endRun() {
	a.flushDeferred()
	a.cancelRequested.Store(false)
	a.taskInProgress.Store(false)
}

// drainSystemAnnouncements pulls a bounded batch off the inbound queue
// looking for system messages addressed to the given session (subagent
// results that completed while the direct turn ran), processes each as a
// nested turn, and republishes everything else.
func (a *AgentLoop) drainSystemAnnouncements(ctx context.Context, originChannel, originChatID string) string {
	target := originChannel + ":" + originChatID
	var deferred []domain.InboundMessage
	var appended strings.Builder

	for i := 0; i < announceDrainBatch; i++ {
		msg, ok := a.bus.TryConsumeInbound()
		if !ok {
			break
		}
		if msg.Channel == "system" && msg.ChatID == target {
			if out := a.processSystemMessage(ctx, msg); out != nil && strings.TrimSpace(out.Content) != "" {
				appended.WriteString("\n\n")
				appended.WriteString(out.Content)
			}
		} else {
			deferred = append(deferred, msg)
		}
	}

	for _, msg := range deferred {
		a.bus.PublishInbound(msg)
	}
	return appended.String()
}
