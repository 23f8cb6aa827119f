package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genstudio/internal/domain"
	"genstudio/internal/service"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage generation jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsGetCommand(ctx))
	jobsCmd.AddCommand(newJobsDeleteCommand(ctx))
	jobsCmd.AddCommand(newJobsSubmitCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list <userId>",
		Short: "List a user's jobs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(cmd.Context(), func(b backend) error {
				jobs, err := b.ListJobsForUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, jobs)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Status", "Prompt", "Result", "Created"},
					buildJobRows(jobs),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newJobsGetCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <jobId>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(cmd.Context(), func(b backend) error {
				job, err := b.GetJob(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("job %s: %w", args[0], err)
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Field", "Value"},
					buildJobDetailRows(job),
					[]columnAlignment{alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newJobsDeleteCommand(ctx *commandContext) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "delete <jobId>",
		Short: "Delete a job on behalf of its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(cmd.Context(), func(b backend) error {
				if err := b.DeleteJob(cmd.Context(), args[0], userID); err != nil {
					return fmt.Errorf("delete job %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Owner of the job")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newJobsSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		userID string
		prompt string
		params domain.GenerationParams
		seed   int
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a generation job for a running worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if seed > 0 {
				params.Seed = &seed
			}
			params.IsRemix = strings.TrimSpace(params.ImageInputURL) != ""
			return ctx.withBackend(cmd.Context(), func(b backend) error {
				id, err := b.EnqueueJob(cmd.Context(), service.EnqueueInput{UserID: userID, Prompt: prompt, Params: params})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Owner of the job")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt text")
	cmd.Flags().StringVar(&params.Model, "model", "", "Model (v1, v2, v2a, ...)")
	cmd.Flags().StringVar(&params.StyleType, "style", "", "Style type")
	cmd.Flags().StringVar(&params.AspectRatio, "aspect", "", "Aspect ratio such as 16:9")
	cmd.Flags().StringVar(&params.MagicPromptOption, "magic-prompt", "", "Magic prompt option (on, off, auto)")
	cmd.Flags().StringVar(&params.NegativePrompt, "negative", "", "Negative prompt")
	cmd.Flags().StringVar(&params.ImageInputURL, "remix-from", "", "Reference image URL; runs a remix")
	cmd.Flags().IntVar(&seed, "seed", 0, "Seed (random when unset)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func buildJobRows(jobs []domain.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		result := job.ResultURL
		if job.Status == domain.JobStatusFailed {
			result = job.ErrorMessage
		}
		rows = append(rows, []string{
			job.ID,
			job.Status.Upper(),
			truncate(job.Prompt, 40),
			truncate(result, 48),
			formatTime(job.CreatedAt),
		})
	}
	return rows
}

func buildJobDetailRows(job *domain.Job) [][]string {
	return [][]string{
		{"ID", job.ID},
		{"User", job.UserID},
		{"Status", job.Status.Upper()},
		{"Prompt", job.Prompt},
		{"Enhanced prompt", job.PromptEnhanced},
		{"Model", string(job.Model)},
		{"Style", string(job.StyleType)},
		{"Aspect ratio", string(job.AspectRatio)},
		{"Seed", strconv.Itoa(job.Seed)},
		{"Result", job.ResultURL},
		{"Error", job.ErrorMessage},
		{"Created", formatTime(job.CreatedAt)},
		{"Updated", formatTime(job.UpdatedAt)},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
