package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mindgrate/backend/internal/client"
	"mindgrate/backend/pkg/models"
)

var collabCmd = &cobra.Command{
	Use:   "collab",
	Short: "Collaborate with MindOps you follow",
}

var collabAskCmd = &cobra.Command{
	Use:   "ask MINDOP_ID QUESTION",
	Short: "Send a question to a followed MindOp",
	Long: `Creates a collaboration task for the target MindOp. With --wait the
command polls for the answer and marks it delivered once printed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		syncFlag, _ := cmd.Flags().GetBool("sync")
		resp, err := c.Query(ctx, models.QueryRequest{
			Query:          args[1],
			Mode:           models.QueryModeCollaboration,
			TargetMindOpID: args[0],
			Metadata:       models.Metadata{"source": "mindctl"},
			Sync:           syncFlag,
		})
		if err != nil {
			return err
		}
		task := resp.Task
		if task == nil {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "task %s is %s\n", task.ID, task.Status)

		if wait, _ := cmd.Flags().GetBool("wait"); !wait {
			return nil
		}
		if task.Status == models.TaskComplete || task.Status == models.TaskFailed {
			return deliverOne(ctx, c, task, cmd.OutOrStdout())
		}

		interval, _ := cmd.Flags().GetDuration("interval")
		return awaitTask(ctx, c, task.ID, interval, cmd.OutOrStdout())
	},
}

// awaitTask polls until the task finishes, then prints and delivers it.
// Other finished tasks are left for `collab watch`.
func awaitTask(ctx context.Context, c *client.Client, id string, interval time.Duration, w io.Writer) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		tasks, err := c.ListCollaborations(ctx, models.TaskRoleRequester, models.TaskComplete, models.TaskFailed)
		if err != nil && ctx.Err() == nil {
			return err
		}
		for _, t := range tasks {
			if t.ID == id {
				return deliverOne(ctx, c, t, w)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func deliverOne(ctx context.Context, c *client.Client, task *models.CollaborationTask, w io.Writer) error {
	printTask(w, task)
	if task.Status != models.TaskComplete {
		return nil
	}
	_, err := c.MarkDelivered(ctx, task.ID)
	return err
}

var collabWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print answers to your collaboration requests as they arrive",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetDuration("interval")
		out := cmd.OutOrStdout()
		poller := client.NewDeliveryPoller(c, interval, func(_ context.Context, t *models.CollaborationTask) error {
			printTask(out, t)
			return nil
		}, newLogger())
		return poller.Run(ctx)
	},
}

var collabListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collaboration tasks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		role, _ := cmd.Flags().GetString("role")
		rawStatuses, _ := cmd.Flags().GetStringSlice("status")
		statuses := make([]models.TaskStatus, 0, len(rawStatuses))
		for _, s := range rawStatuses {
			st, err := models.ParseTaskStatus(s)
			if err != nil {
				return err
			}
			statuses = append(statuses, st)
		}
		tasks, err := c.ListCollaborations(cmd.Context(), models.TaskRole(role), statuses...)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tATTEMPTS\tUPDATED\tQUERY")
		for _, t := range tasks {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", t.ID, t.Status, t.Attempts, t.UpdatedAt.Format(time.DateTime), truncate(t.Query, 60))
		}
		return tw.Flush()
	},
}

var collabRetryCmd = &cobra.Command{
	Use:   "retry TASK_ID",
	Short: "Queue a failed collaboration task again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		task, err := c.RetryCollaboration(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "task %s is %s (attempt %d)\n", task.ID, task.Status, task.Attempts+1)
		return nil
	},
}

func printTask(w io.Writer, t *models.CollaborationTask) {
	fmt.Fprintf(w, "== %s [%s]\nQ: %s\n", t.ID, t.Status, t.Query)
	switch {
	case t.Response != nil:
		fmt.Fprintf(w, "A: %s\n", *t.Response)
	case t.ErrorMessage != nil:
		fmt.Fprintf(w, "error: %s\n", *t.ErrorMessage)
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	collabAskCmd.Flags().Bool("sync", false, "Have the server answer before returning")
	collabAskCmd.Flags().Bool("wait", false, "Wait for the answer")
	collabAskCmd.Flags().Duration("interval", 3*time.Second, "Polling interval while waiting")
	collabWatchCmd.Flags().Duration("interval", 5*time.Second, "Polling interval")
	collabListCmd.Flags().String("role", string(models.TaskRoleRequester), "requester or target")
	collabListCmd.Flags().StringSlice("status", nil, "Only list tasks in these statuses")
	collabCmd.AddCommand(collabAskCmd, collabWatchCmd, collabListCmd, collabRetryCmd)
}
