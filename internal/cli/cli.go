// Package cli implements the jobctl commands on top of a job store.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/tagqueue/internal/domain"
	"github.com/cuongbtq/tagqueue/internal/events"
	"github.com/cuongbtq/tagqueue/internal/store"
)

// Dependencies holds what the commands need
type Dependencies struct {
	Store     store.Store
	Publisher events.Publisher
	Logger    *slog.Logger
}

// NewRootCmd builds the jobctl command tree
func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}

	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "Manage the tag-aware job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example: `  jobctl add --tags hotel,flight
  jobctl add --tags payment --data '{"amount": 100}'
  jobctl list
  jobctl status <job-id>`,
	}

	root.AddCommand(AddCmd(deps))
	root.AddCommand(ListCmd(deps.Store))
	root.AddCommand(StatusCmd(deps.Store))
	root.AddCommand(StatsCmd(deps.Store))
	return root
}

// Execute runs one command and closes the store afterwards. Errors are
// printed to the command's output.
func Execute(ctx context.Context, deps *Dependencies, args []string, out io.Writer) error {
	root := NewRootCmd(deps)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)

	err := root.ExecuteContext(ctx)
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.Error("CLI error", slog.Any("error", err))
		}
		fmt.Fprintf(out, "Error: %v\n", err)
	}

	if cerr := deps.Store.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close store: %w", cerr)
	}
	return err
}

// AddCmd creates a job
func AddCmd(deps *Dependencies) *cobra.Command {
	var (
		tags string
		data string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a new job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			payload := map[string]any{}
			if data != "" {
				parsed, err := domain.ParseData([]byte(data))
				if err != nil {
					fmt.Fprintln(out, "Invalid JSON data")
				} else {
					payload = parsed
				}
			}

			job := domain.NewJob(domain.ParseTags(tags), payload)
			if err := deps.Store.Enqueue(cmd.Context(), job); err != nil {
				return fmt.Errorf("failed to enqueue job: %w", err)
			}

			if err := deps.Publisher.Publish(cmd.Context(), events.NewEvent(events.JobEnqueued, job, "")); err != nil && deps.Logger != nil {
				deps.Logger.Warn("Failed to publish event",
					slog.String("job_id", job.ID),
					slog.Any("error", err),
				)
			}

			fmt.Fprintf(out, "Job created: %s\n", job.ID)
			if len(job.Tags) > 0 {
				fmt.Fprintf(out, "Tags: %s\n", strings.Join(job.Tags, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tags, "tags", "", "Comma-separated tags, e.g. hotel,flight")
	cmd.Flags().StringVar(&data, "data", "", "Optional JSON object attached to the job")
	return cmd
}

// ListCmd prints every job ever enqueued
func ListCmd(s store.Store) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			jobs, err := s.AllJobs(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}

			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs in queue")
				return nil
			}

			fmt.Fprintln(out, "\nJobs in queue:")
			fmt.Fprintln(out, strings.Repeat("-", 80))
			for _, job := range jobs {
				fmt.Fprintf(out, "ID: %s\n", job.ID)
				fmt.Fprintf(out, "  Status: %s\n", job.Status)
				if len(job.Tags) > 0 {
					fmt.Fprintf(out, "  Tags: %s\n", strings.Join(job.Tags, ", "))
				}
				fmt.Fprintf(out, "  Created: %s\n\n", formatTime(job.CreatedAt))
			}
			return nil
		},
	}
}

// StatusCmd prints one job
func StatusCmd(s store.Store) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Get job status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				fmt.Fprintln(out, "Job ID required")
				return nil
			}

			job, err := s.GetJob(cmd.Context(), args[0])
			if errors.Is(err, domain.ErrJobNotFound) {
				fmt.Fprintf(out, "Job not found: %s\n", args[0])
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to get job: %w", err)
			}

			fmt.Fprintf(out, "Job: %s\n", job.ID)
			fmt.Fprintf(out, "Status: %s\n", job.Status)
			if len(job.Tags) > 0 {
				fmt.Fprintf(out, "Tags: %s\n", strings.Join(job.Tags, ", "))
			}
			fmt.Fprintf(out, "Created: %s\n", formatTime(job.CreatedAt))
			if job.StartedAt != nil {
				fmt.Fprintf(out, "Started: %s\n", formatTime(*job.StartedAt))
			}
			if job.CompletedAt != nil {
				fmt.Fprintf(out, "Completed: %s\n", formatTime(*job.CompletedAt))
			}
			if job.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", job.Error)
			}
			return nil
		},
	}
}

// StatsCmd prints queue depth, processing count and active tags
func StatsCmd(s store.Store) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			size, err := s.QueueSize(ctx)
			if err != nil {
				return fmt.Errorf("failed to get queue size: %w", err)
			}
			processing, err := s.ProcessingJobs(ctx)
			if err != nil {
				return fmt.Errorf("failed to get processing jobs: %w", err)
			}
			active, err := s.ActiveTags(ctx)
			if err != nil {
				return fmt.Errorf("failed to get active tags: %w", err)
			}

			fmt.Fprintf(out, "Queue size: %d\n", size)
			fmt.Fprintf(out, "Processing: %d\n", len(processing))
			fmt.Fprintf(out, "Active tags: %s\n", strings.Join(active, ", "))
			return nil
		},
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
