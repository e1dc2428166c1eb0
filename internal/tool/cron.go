package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"attobot/internal/cron"
)

// CronTool lets the agent manage scheduled jobs through the cron service.
type CronTool struct {
	service *cron.Service
}

func NewCronTool(service *cron.Service) *CronTool {
	return &CronTool{service: service}
}

func (t *CronTool) Name() string { return "cron" }

func (t *CronTool) Description() string {
	return "Manage scheduled jobs. Actions: 'list' (show jobs), 'add' (create a job; provide name, message, and one of cron_expr / every_seconds / at_epoch_ms), 'remove' (delete by id), 'enable'/'disable' (toggle by id), 'run_now' (fire by id)."
}

func (t *CronTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"action":        {Type: "string", Description: "Action: list, add, remove, enable, disable, run_now"},
			"id":            {Type: "string", Description: "Job ID (for remove, enable, disable, run_now)"},
			"name":          {Type: "string", Description: "Job name (for add)"},
			"message":       {Type: "string", Description: "Message the agent runs when the job fires (for add)"},
			"cron_expr":     {Type: "string", Description: "Crontab expression like '0 9 * * 1' (for add)"},
			"every_seconds": {Type: "number", Description: "Repeat interval in seconds (for add)"},
			"at_epoch_ms":   {Type: "number", Description: "One-shot fire time in epoch milliseconds (for add)"},
			"deliver":       {Type: "boolean", Description: "Deliver the result to a channel (for add)"},
			"channel":       {Type: "string", Description: "Delivery channel name (for add with deliver)"},
			"to":            {Type: "string", Description: "Delivery chat ID (for add with deliver)"},
		},
		[]string{"action"},
	)
}

func (t *CronTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	action := ArgsString(args, "action")
	switch action {
	case "list":
		jobs := t.service.ListJobs(true)
		if len(jobs) == 0 {
			return "No scheduled jobs.", nil
		}
		var lines []string
		for _, j := range jobs {
			lines = append(lines, formatJob(j))
		}
		return strings.Join(lines, "\n"), nil

	case "add":
		name := ArgsString(args, "name")
		message := ArgsString(args, "message")
		if name == "" || message == "" {
			return "Error: name and message are required for add.", nil
		}
		schedule, err := scheduleFromArgs(args)
		if err != nil {
			return "Error: " + err.Error(), nil
		}
		deliver := ArgsBool(args, "deliver")
		job := t.service.AddJob(name, schedule, message,
			deliver, ArgsString(args, "channel"), ArgsString(args, "to"),
			schedule.Kind == "at")
		if job.State.NextRunAtMs == 0 && schedule.Kind == "cron" {
			return fmt.Sprintf("Job created: %s (ID: %s), but the cron expression %q is invalid — it will never fire.", name, job.ID, schedule.Expr), nil
		}
		return fmt.Sprintf("Job created: %s (ID: %s), next run %s", name, job.ID, formatMs(job.State.NextRunAtMs)), nil

	case "remove":
		id := ArgsString(args, "id")
		if id == "" {
			return "Error: id is required for remove.", nil
		}
		if !t.service.RemoveJob(id) {
			return fmt.Sprintf("No job with ID %s.", id), nil
		}
		return fmt.Sprintf("Job removed: %s", id), nil

	case "enable", "disable":
		id := ArgsString(args, "id")
		if id == "" {
			return fmt.Sprintf("Error: id is required for %s.", action), nil
		}
		job, ok := t.service.EnableJob(id, action == "enable")
		if !ok {
			return fmt.Sprintf("No job with ID %s.", id), nil
		}
		return fmt.Sprintf("Job %s: %s", action+"d", formatJob(*job)), nil

	case "run_now":
		id := ArgsString(args, "id")
		if id == "" {
			return "Error: id is required for run_now.", nil
		}
		if !t.service.RunJobNow(id, false) {
			return fmt.Sprintf("Job %s not found or disabled.", id), nil
		}
		return fmt.Sprintf("Job fired: %s", id), nil

	default:
		return "Unknown action. Use: list, add, remove, enable, disable, run_now.", nil
	}
}

func scheduleFromArgs(args map[string]any) (cron.Schedule, error) {
	expr := ArgsString(args, "cron_expr")
	everyS := ArgsInt(args, "every_seconds")
	atMs := ArgsInt(args, "at_epoch_ms")

	switch {
	case expr != "":
		return cron.Schedule{Kind: "cron", Expr: expr}, nil
	case everyS > 0:
		return cron.Schedule{Kind: "every", EveryMs: everyS * 1000}, nil
	case atMs > 0:
		return cron.Schedule{Kind: "at", AtMs: atMs}, nil
	}
	return cron.Schedule{}, fmt.Errorf("provide one of cron_expr, every_seconds, or at_epoch_ms")
}

func formatJob(j cron.Job) string {
	status := "enabled"
	if !j.Enabled {
		status = "disabled"
	}
	sched := j.Schedule.Kind
	switch j.Schedule.Kind {
	case "cron":
		sched = fmt.Sprintf("cron %q", j.Schedule.Expr)
	case "every":
		sched = fmt.Sprintf("every %ds", j.Schedule.EveryMs/1000)
	case "at":
		sched = "at " + formatMs(j.Schedule.AtMs)
	}
	line := fmt.Sprintf("- [%s] %s: %q %s (%s) next: %s", j.ID, j.Name, j.Payload.Message, sched, status, formatMs(j.State.NextRunAtMs))
	if j.State.LastStatus != "" {
		line += " last: " + j.State.LastStatus
		if j.State.LastError != "" {
			line += " (" + j.State.LastError + ")"
		}
	}
	return line
}

func formatMs(ms int64) string {
	if ms <= 0 {
		return "never"
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}
