package tool

import (
	"context"
	"fmt"

	"attobot/internal/domain"
)

// Spawner launches a detached background worker for a task and returns an
// acknowledgment string. Implemented by the subagent manager.
type Spawner interface {
	Spawn(task, label, originChannel, originChatID string) string
}

// SpawnTool hands long-running work to a subagent so the main loop stays
// responsive.
type SpawnTool struct {
	spawner Spawner
}

func NewSpawnTool(spawner Spawner) *SpawnTool {
	return &SpawnTool{spawner: spawner}
}

func (t *SpawnTool) Name() string { return "spawn_subagent" }

func (t *SpawnTool) Description() string {
	return "Delegate a task to a background subagent. Returns immediately; the subagent's result arrives later as a system message. Use for long or independent tasks."
}

func (t *SpawnTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"task":           {Type: "string", Description: "Full task description for the subagent"},
			"label":          {Type: "string", Description: "Optional short label; derived from the task if omitted"},
			"origin_channel": {Type: "string", Description: "Channel of the conversation the result should return to"},
			"origin_chat_id": {Type: "string", Description: "Chat ID of the conversation the result should return to"},
		},
		[]string{"task", "origin_channel", "origin_chat_id"},
	)
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	task := ArgsString(args, "task")
	if task == "" {
		return "", fmt.Errorf("missing argument: task")
	}
	ack := t.spawner.Spawn(task, ArgsString(args, "label"), ArgsString(args, "origin_channel"), ArgsString(args, "origin_chat_id"))
	return ack, nil
}

var _ domain.Tool = (*SpawnTool)(nil)
