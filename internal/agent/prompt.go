package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"attobot/internal/domain"
	"attobot/internal/skill"
)

const promptCacheTTL = 60 * time.Second

type cachedPrompt struct {
	content   string
	expiresAt time.Time
}

// PromptBuilder assembles the system prompt and full message list for a
// model call. System prompts are cached per session for a short TTL
// because the memory lookup hits the database.
type PromptBuilder struct {
	workspace         string
	memory            domain.MemoryStore
	skills            []domain.SkillDefinition
	systemPromptExtra string
	logger            *slog.Logger

	promptCache sync.Map // "channel:chatID" -> *cachedPrompt
}

type PromptConfig struct {
	Workspace         string
	SystemPromptExtra string
	Skills            []domain.SkillDefinition
}

func NewPromptBuilder(cfg PromptConfig, memory domain.MemoryStore, logger *slog.Logger) *PromptBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptBuilder{
		workspace:         cfg.Workspace,
		memory:            memory,
		skills:            cfg.Skills,
		systemPromptExtra: cfg.SystemPromptExtra,
		logger:            logger.With("component", "prompt"),
	}
}

func (p *PromptBuilder) BuildSystemPrompt(ctx context.Context, channel, chatID string) string {
	cacheKey := channel + ":" + chatID
	if cached, ok := p.promptCache.Load(cacheKey); ok {
		if cp, ok := cached.(*cachedPrompt); ok && time.Now().Before(cp.expiresAt) {
			return cp.content
		}
		p.promptCache.Delete(cacheKey)
	}

	workspacePath, err := filepath.Abs(p.workspace)
	if err != nil {
		workspacePath = p.workspace
	}

	var b strings.Builder
	fmt.Fprintf(&b, `# Attobot

You are Attobot, a personal automation assistant with access to tools. You can:
- Read, write, and list files in the workspace
- Execute shell commands
- Search the web, fetch pages, and render JavaScript-heavy sites
- Schedule reminders and recurring tasks (cron)
- Delegate long tasks to background subagents
- Send messages to the user on any connected channel

## Current Time
%s

## Runtime
%s %s, Go %s

## Workspace
%s

## Session
Channel: %s | Chat ID: %s

## Rules
1. When the user asks you to DO something, use the appropriate tool. Never say "I can't" without trying first.
2. For long or independent work, spawn a subagent instead of blocking the conversation.
3. Do NOT output raw JSON in your response. Use the tool calling mechanism.
4. After tool execution, present results clearly. Do not mention tool names to the user.
5. Respond in the same language the user writes in.
6. Be helpful, accurate, and concise.`,
		time.Now().Format("2006-01-02 15:04 (Monday)"),
		runtime.GOOS, runtime.GOARCH, runtime.Version(),
		workspacePath, channel, chatID)

	if section := skill.PromptSection(p.skills); section != "" {
		b.WriteString("\n\n")
		b.WriteString(section)
	}

	if p.systemPromptExtra != "" {
		b.WriteString("\n\n## Custom Instructions\n")
		b.WriteString(p.systemPromptExtra)
	}

	if p.memory != nil {
		memories, err := p.memory.GetRecentMemories(ctx, 5)
		if err != nil {
			p.logger.Warn("load recent memories failed", "err", err)
		} else if len(memories) > 0 {
			b.WriteString("\n\n## Long-term Memory (recent)\n")
			for _, m := range memories {
				b.WriteString("- [" + m.Category + "] " + m.Content + "\n")
			}
		}
	}

	content := b.String()
	p.promptCache.Store(cacheKey, &cachedPrompt{
		content:   content,
		expiresAt: time.Now().Add(promptCacheTTL),
	})
	return content
}

// BuildMessages constructs [system + history + user message] for a model
// call.
func (p *PromptBuilder) BuildMessages(ctx context.Context, history []domain.Message, currentMessage, channel, chatID string) ([]domain.Message, error) {
	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.Message{
		Role:    "system",
		Content: p.BuildSystemPrompt(ctx, channel, chatID),
	})
	messages = append(messages, history...)
	messages = append(messages, domain.Message{Role: "user", Content: currentMessage})
	return messages, nil
}
