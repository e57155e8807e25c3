package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/enrolld/enrolld/pkg/history"
)

func newRunsCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show provisioning run history",
		Long: `List past provisioning runs, newest first, or show one run with its
full per-task timeline.`,
		Example: `  # List recent runs
  enrolld runs

  # Page through older history
  enrolld runs --limit 20 --offset 20

  # Inspect one run
  enrolld runs 5f2b1c9e-8a41-4a7d-9c1f-0d3e7a2b6c44`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return showRun(cmd, args[0])
			}
			return listRuns(cmd, limit, offset)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	return cmd
}

func listRuns(cmd *cobra.Command, limit, offset int) error {
	path := fmt.Sprintf("/v1/runs?limit=%d&offset=%d", limit, offset)

	var runs []*history.Run
	if err := newAPIClient().do(cmd.Context(), "GET", path, nil, &runs); err != nil {
		return err
	}

	return printResult(runs, func() {
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tACTION\tSTATE\tSTARTED\tDURATION")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				run.ID, run.Action, run.State,
				run.StartedAt.Format(time.RFC3339), runDuration(run))
		}
		w.Flush()
	})
}

type runDetail struct {
	Run    *history.Run         `json:"run"`
	Events []*history.TaskEvent `json:"events"`
}

func showRun(cmd *cobra.Command, id string) error {
	var detail runDetail
	if err := newAPIClient().do(cmd.Context(), "GET", "/v1/runs/"+id, nil, &detail); err != nil {
		return err
	}

	return printResult(detail, func() {
		run := detail.Run
		fmt.Printf("Run:     %s\n", run.ID)
		fmt.Printf("Action:  %s\n", run.Action)
		fmt.Printf("Admin:   %s\n", run.Admin)
		fmt.Printf("State:   %s\n", run.State)
		fmt.Printf("Started: %s\n", run.StartedAt.Format(time.RFC3339))
		if run.CompletedAt != nil {
			fmt.Printf("Took:    %s\n", runDuration(run))
		}
		if run.ErrorCode != nil {
			fmt.Printf("Error:   %s\n", *run.ErrorCode)
		}
		if run.FailedTask != nil {
			fmt.Printf("Failed:  %s\n", *run.FailedTask)
		}

		if len(detail.Events) == 0 {
			return
		}
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tSTAGE\tRESULT\tERROR")
		for _, ev := range detail.Events {
			result := "ok"
			if !ev.Succeeded {
				result = "failed"
			}
			errText := ""
			if ev.Error != nil {
				errText = *ev.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.TaskID, ev.Stage, result, errText)
		}
		w.Flush()
	})
}

func runDuration(run *history.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}
