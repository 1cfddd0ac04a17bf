package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage pipeline runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunTriggerCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunExecutionsCmd(clientFn, outputFn),
		newRunLedgerCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var pipelineID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				PipelineID: pipelineID,
				Status:     status,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "PIPELINE", "BRANCH", "EVENT", "STATUS", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.Context.Pipeline, r.Context.Branch, r.Context.Event, r.Status, compactTime(r.CreatedAt)}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelineID, "pipeline-id", "", "Filter by pipeline ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var branch string
	var event string
	var commitSHA string
	var actor string
	var meta []string

	cmd := &cobra.Command{
		Use:   "trigger PIPELINE_ID",
		Short: "Trigger a new run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := TriggerRunRequest{
				Branch:    branch,
				Event:     event,
				CommitSHA: commitSHA,
				Actor:     actor,
			}

			if len(meta) > 0 {
				req.Meta = make(map[string]string)
				for _, kv := range meta {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid meta format %q, expected KEY=VALUE", kv)
					}
					req.Meta[parts[0]] = parts[1]
				}
			}

			run, err := client.TriggerRun(args[0], req)
			if err != nil {
				return err
			}

			out.Successf("Run triggered: %s", run.ID)
			out.Detail([][2]string{
				{"ID", run.ID},
				{"Pipeline", run.Context.Pipeline},
				{"Branch", run.Context.Branch},
				{"Event", run.Context.Event},
				{"Status", run.Status},
				{"Created", compactTime(run.CreatedAt)},
			}, run)
			return nil
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Branch to run against (required)")
	cmd.Flags().StringVar(&event, "event", "", "Trigger event kind (push, pull_request, tag, manual, schedule)")
	cmd.Flags().StringVar(&commitSHA, "commit", "", "Commit SHA")
	cmd.Flags().StringVar(&actor, "actor", "", "Who triggers the run")
	cmd.Flags().StringSliceVar(&meta, "meta", nil, "Context metadata as KEY=VALUE (repeatable)")
	cmd.MarkFlagRequired("branch")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			out.Detail([][2]string{
				{"ID", run.ID},
				{"Pipeline", run.Context.Pipeline},
				{"Branch", run.Context.Branch},
				{"Event", run.Context.Event},
				{"Status", run.Status},
				{"Error", run.Error},
				{"Created", compactTime(run.CreatedAt)},
				{"Started", compactTime(run.StartedAt)},
				{"Finished", compactTime(run.FinishedAt)},
			}, run)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var actor string
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0], CancelRunRequest{
				Actor:  actor,
				Reason: reason,
			})
			if err != nil {
				return err
			}

			out.Successf("Cancellation requested: %s", run.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Who cancels the run")
	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")

	return cmd
}

func newRunExecutionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "executions RUN_ID",
		Short: "List job executions in a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			executions, err := client.ListExecutions(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "JOB", "STATUS", "DETAIL", "FINISHED"}
			rows := make([][]string, len(executions))
			for i, e := range executions {
				rows[i] = []string{e.ID, e.JobID, e.Status, e.Detail, compactTime(e.FinishedAt)}
			}

			out.Print(headers, rows, executions)
			return nil
		},
	}
}

func newRunLedgerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger RUN_ID",
		Short: "Show the status transition journal of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			entries, err := client.GetRunLedger(args[0])
			if err != nil {
				return err
			}

			headers := []string{"AT", "JOB", "FROM", "TO", "DETAIL"}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{compactTime(e.At), e.JobID, e.From, e.To, e.Detail}
			}

			out.Print(headers, rows, entries)
			return nil
		},
	}
}
