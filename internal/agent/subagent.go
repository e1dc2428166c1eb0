package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"attobot/internal/domain"
	"attobot/internal/tool"
)

const subagentLabelMax = 30

// SubagentManager spawns detached background workers that run an
// independent, smaller tool-calling loop against a task string and
// publish their result back onto the bus as a synthetic system message.
// No concurrency cap is enforced; the running count is advisory only.
type SubagentManager struct {
	provider      domain.Provider
	bus           MessageBus
	newTools      func() *tool.Registry
	workspace     string
	model         string
	maxTokens     int
	temperature   float64
	maxIterations int
	logger        *slog.Logger

	runningCount atomic.Int32

	mu     sync.Mutex
	active map[string]chan struct{} // task id -> closed on completion
}

func NewSubagentManager(provider domain.Provider, b MessageBus, newTools func() *tool.Registry, workspace string, cfg Config, logger *slog.Logger) *SubagentManager {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 15
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubagentManager{
		provider:      provider,
		bus:           b,
		newTools:      newTools,
		workspace:     workspace,
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		maxIterations: maxIter,
		logger:        logger.With("component", "subagent"),
		active:        make(map[string]chan struct{}),
	}
}

// Spawn detaches a worker for the task and returns an acknowledgment
// immediately. The worker's result arrives later as a system
// InboundMessage addressed to originChannel:originChatID.
func (m *SubagentManager) Spawn(task, label, originChannel, originChatID string) string {
	if m.provider == nil || m.bus == nil {
		return "Error: Subagent runtime is unavailable"
	}

	taskID := uuid.NewString()[:8]
	displayLabel := strings.TrimSpace(label)
	if displayLabel == "" {
		displayLabel = summarizeLabel(task)
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.active[taskID] = done
	m.mu.Unlock()
	m.runningCount.Add(1)

	go func() {
		defer func() {
			m.runningCount.Add(-1)
			m.mu.Lock()
			delete(m.active, taskID)
			m.mu.Unlock()
			close(done)
		}()
		m.run(taskID, task, displayLabel, originChannel, originChatID)
	}()

	return fmt.Sprintf("Subagent [%s] started (id: %s). I'll notify you when it completes.", displayLabel, taskID)
}

// RunningCount reports how many subagents are currently executing. For
// observability only; nothing coordinates on it.
func (m *SubagentManager) RunningCount() int {
	return int(m.runningCount.Load())
}

// Wait blocks until the subagent with the given task id completes, or
// the timeout elapses. Returns false on timeout or unknown id (which
// also means already completed).
func (m *SubagentManager) Wait(taskID string, timeout time.Duration) bool {
	m.mu.Lock()
	done, ok := m.active[taskID]
	m.mu.Unlock()
	if !ok {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (m *SubagentManager) run(taskID, task, label, originChannel, originChatID string) {
	status := "ok"
	final := m.runToolLoop(task)
	if strings.HasPrefix(final, "Error:") {
		status = "error"
	}
	if strings.TrimSpace(final) == "" {
		final = "Task completed but no final response was generated."
	}

	statusText := "completed successfully"
	if status != "ok" {
		statusText = "failed"
	}

	content := fmt.Sprintf(
		"[Subagent '%s' %s]\n\nTask: %s\n\nResult:\n%s\n\n"+
			"Summarize this naturally for the user. Keep it brief (1-2 sentences). "+
			"Do not mention technical details like subagent internals or task IDs.",
		label, statusText, task, final)

	m.bus.PublishInbound(domain.InboundMessage{
		Channel:  "system",
		SenderID: "subagent",
		ChatID:   originChannel + ":" + originChatID,
		Content:  content,
	})
	m.logger.Info("subagent finished", "id", taskID, "status", status)
}

// runToolLoop is the same bounded tool-calling state machine as the main
// loop, capped lower and without cancellation support.
func (m *SubagentManager) runToolLoop(task string) string {
	ctx := context.Background()
	tools := m.newTools()

	messages := []domain.Message{
		{Role: "system", Content: m.systemPrompt()},
		{Role: "user", Content: task},
	}

	var final string
	for i := 0; i < m.maxIterations; i++ {
		resp, err := m.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       tools.GetDefinitions(),
			Model:       m.model,
			MaxTokens:   m.maxTokens,
			Temperature: m.temperature,
		})
		if err != nil {
			return fmt.Sprintf("Error: %v", err)
		}

		if !resp.HasToolCalls() {
			final = resp.Content
			break
		}

		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result := tools.Execute(ctx, tc.Name, tc.Arguments)
			messages = append(messages, domain.Message{
				Role:       "tool",
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Content:    result,
			})
		}
	}
	return final
}

func (m *SubagentManager) systemPrompt() string {
	var b strings.Builder
	b.WriteString("# Subagent\n\n")
	b.WriteString("Current time: " + time.Now().Format(time.RFC3339) + "\n\n")
	b.WriteString("You are a background subagent. Complete only the requested task.\n")
	b.WriteString("Rules:\n")
	b.WriteString("1. Stay focused on the assigned task.\n")
	b.WriteString("2. Use tools when needed.\n")
	b.WriteString("3. Return a concise final result.\n")
	b.WriteString("4. Do not start side tasks.\n")
	b.WriteString("Workspace: " + m.workspace + "\n")
	return b.String()
}

func summarizeLabel(task string) string {
	if len(task) <= subagentLabelMax {
		return task
	}
	return task[:subagentLabelMax] + "..."
}

var _ tool.Spawner = (*SubagentManager)(nil)
