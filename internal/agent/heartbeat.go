package agent

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const heartbeatPrompt = "Read HEARTBEAT.md in the workspace and act on any pending items. " +
	"If nothing needs attention, reply with just 'ok'."

// Heartbeat periodically wakes the agent with a standing prompt so it
// can act on items listed in the workspace's HEARTBEAT.md. Ticks are
// skipped while the file is absent or has no actionable content, so an
// idle bot costs no model calls.
type Heartbeat struct {
	loop      *AgentLoop
	workspace string
	interval  time.Duration
	logger    *slog.Logger

	// OnResult receives each non-empty heartbeat reply. Optional.
	OnResult func(string)
}

func NewHeartbeat(loop *AgentLoop, workspace string, intervalSeconds int, logger *slog.Logger) *Heartbeat {
	interval := time.Duration(intervalSeconds) * time.Second
	if interval < time.Minute {
		interval = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		loop:      loop,
		workspace: workspace,
		interval:  interval,
		logger:    logger.With("component", "heartbeat"),
	}
}

// Start runs the heartbeat loop until ctx is cancelled.
func (h *Heartbeat) Start(ctx context.Context) {
	h.logger.Info("heartbeat started", "interval", h.interval)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *Heartbeat) tick(ctx context.Context) {
	path := filepath.Join(h.workspace, "HEARTBEAT.md")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if !hasActionableContent(string(data)) {
		h.logger.Debug("heartbeat skipped, no actionable content")
		return
	}

	result := h.loop.ProcessDirect(ctx, heartbeatPrompt, "cli", "heartbeat")
	if strings.TrimSpace(result) != "" && h.OnResult != nil {
		h.OnResult(result)
	}
}

// hasActionableContent reports whether the heartbeat file contains
// anything beyond blank lines, headers, comments, and unchecked/empty
// checkbox scaffolding.
func hasActionableContent(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "<!--") {
			continue
		}
		if line == "- [ ]" || line == "* [ ]" || line == "-" || line == "*" {
			continue
		}
		return true
	}
	return false
}
