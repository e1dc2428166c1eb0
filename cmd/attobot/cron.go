package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"attobot/internal/cron"
)

// cronCmd manages the persisted job store directly; a running gateway
// picks up external edits on restart.
func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronRemoveCmd())
	cmd.AddCommand(cronEnableCmd(true))
	cmd.AddCommand(cronEnableCmd(false))
	cmd.AddCommand(cronRunCmd())
	return cmd
}

func openCronService() *cron.Service {
	cfg := loadConfig()
	return cron.NewService(cfg.Cron.StorePath, nil, logger)
}

func cronListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := openCronService()
			jobs := svc.ListJobs(all)
			if len(jobs) == 0 {
				fmt.Println("No scheduled jobs.")
				return nil
			}
			for _, j := range jobs {
				next := "-"
				if j.State.NextRunAtMs > 0 {
					next = time.UnixMilli(j.State.NextRunAtMs).Format("2006-01-02 15:04")
				}
				status := "enabled"
				if !j.Enabled {
					status = "disabled"
				}
				fmt.Printf("%-10s %-20s %-8s %-8s next=%s\n", j.ID, j.Name, j.Schedule.Kind, status, next)
				if j.State.LastError != "" {
					fmt.Printf("           last error: %s\n", j.State.LastError)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include disabled jobs")
	return cmd
}

func cronAddCmd() *cobra.Command {
	var (
		name         string
		message      string
		everySeconds int64
		cronExpr     string
		at           string
		channel      string
		to           string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("--message is required")
			}

			var schedule cron.Schedule
			deleteAfter := false
			switch {
			case everySeconds > 0:
				schedule = cron.Schedule{Kind: "every", EveryMs: everySeconds * 1000}
			case cronExpr != "":
				schedule = cron.Schedule{Kind: "cron", Expr: cronExpr}
			case at != "":
				t, err := time.ParseInLocation("2006-01-02T15:04:05", at, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --at datetime (expected YYYY-MM-DDTHH:MM:SS): %w", err)
				}
				schedule = cron.Schedule{Kind: "at", AtMs: t.UnixMilli()}
				deleteAfter = true
			default:
				return fmt.Errorf("one of --every, --cron, or --at is required")
			}

			if name == "" {
				name = message
				if len(name) > 30 {
					name = name[:30]
				}
			}

			svc := openCronService()
			job := svc.AddJob(name, schedule, message, channel != "" && to != "", channel, to, deleteAfter)
			fmt.Printf("Created job '%s' (id: %s)\n", job.Name, job.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name (defaults to the message)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message the agent runs when the job fires")
	cmd.Flags().Int64Var(&everySeconds, "every", 0, "fixed interval in seconds")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "five-field cron expression")
	cmd.Flags().StringVar(&at, "at", "", "one-shot local datetime (YYYY-MM-DDTHH:MM:SS)")
	cmd.Flags().StringVar(&channel, "channel", "", "channel to deliver the result to")
	cmd.Flags().StringVar(&to, "to", "", "chat ID to deliver the result to")
	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [job-id]",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := openCronService()
			if !svc.RemoveJob(args[0]) {
				return fmt.Errorf("job %s not found", args[0])
			}
			fmt.Printf("Removed job %s\n", args[0])
			return nil
		},
	}
}

func cronEnableCmd(enable bool) *cobra.Command {
	use, short := "enable [job-id]", "Enable a job"
	if !enable {
		use, short = "disable [job-id]", "Disable a job"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := openCronService()
			job, ok := svc.EnableJob(args[0], enable)
			if !ok {
				return fmt.Errorf("job %s not found", args[0])
			}
			state := "disabled"
			if job.Enabled {
				state = "enabled"
			}
			fmt.Printf("Job %s %s\n", job.ID, state)
			return nil
		},
	}
}

func cronRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [job-id]",
		Short: "Mark a job due immediately (fires on the next gateway wake)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := openCronService()
			if !svc.RunJobNow(args[0], true) {
				return fmt.Errorf("job %s not found", args[0])
			}
			fmt.Printf("Job %s scheduled to run now\n", args[0])
			return nil
		},
	}
}
