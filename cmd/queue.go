package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxresponder/internal/queue"
)

// queueTimeout bounds the queue maintenance commands.
const queueTimeout = 30 * time.Second

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the job queue",
		Long: `Inspect and repair the job queue shared by the poller and the worker.

Jobs that failed on every attempt are dead. Their messages carry no
PROCESSED label and stay out of the queue until retried.`,
	}
	cmd.AddCommand(newQueueStatsCmd())
	cmd.AddCommand(newQueueDeadCmd())
	cmd.AddCommand(newQueueRetryCmd())
	return cmd
}

// withQueue opens the configured queue for the duration of fn.
func withQueue(cmd *cobra.Command, fn func(ctx context.Context, q queue.Queue) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	q, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), queueTimeout)
	defer cancel()
	return fn(ctx, q)
}

func newQueueStatsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd, func(ctx context.Context, q queue.Queue) error {
				stats, err := q.Stats(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), stats)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "queued\t%d\n", stats.Queued)
				fmt.Fprintf(tw, "running\t%d\n", stats.Running)
				fmt.Fprintf(tw, "succeeded\t%d\n", stats.Succeeded)
				fmt.Fprintf(tw, "dead\t%d\n", stats.Dead)
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// deadJob is the listing form of a dead job. The body is omitted.
type deadJob struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	Subject   string    `json:"subject"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

func newQueueDeadCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "dead",
		Short: "List dead jobs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd, func(ctx context.Context, q queue.Queue) error {
				jobs, err := q.Dead(ctx, limit)
				if err != nil {
					return err
				}

				list := make([]deadJob, 0, len(jobs))
				for _, j := range jobs {
					list = append(list, deadJob{
						ID:        j.ID,
						MessageID: j.MessageID,
						Subject:   j.Subject,
						Attempts:  j.Attempt,
						LastError: j.LastError,
						FailedAt:  j.UpdatedAt,
					})
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), list)
				}

				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No dead jobs.")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "JOB\tMESSAGE\tATTEMPTS\tFAILED\tERROR")
				for _, j := range list {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
						j.ID, j.MessageID, j.Attempts, j.FailedAt.Format(time.RFC3339), j.LastError)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newQueueRetryCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Move dead jobs back to the queue",
		Long: `Move dead jobs back to the queue with a fresh attempt budget.

Pass job IDs as shown by 'queue dead', or --all to retry every dead job.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass job IDs or --all")
			}
			return withQueue(cmd, func(ctx context.Context, q queue.Queue) error {
				ids := args
				if all {
					jobs, err := q.Dead(ctx, 0)
					if err != nil {
						return err
					}
					for _, j := range jobs {
						ids = append(ids, j.ID)
					}
				}

				for _, id := range ids {
					if err := q.Retry(ctx, id); err != nil {
						return fmt.Errorf("failed to retry job %s: %w", id, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s).\n", len(ids))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Retry every dead job")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
