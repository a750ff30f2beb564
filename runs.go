package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-replicate/internal/journal"
)

const defaultRunsLimit = 20

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show run history from the journal",
		Long: `List recent copy runs recorded in the journal, newest first. With
--failures, list every failed item of one run instead.`,
		Args: cobra.NoArgs,
		RunE: runRuns,
	}

	cmd.Flags().Int("limit", defaultRunsLimit, "number of runs to show (0 = all)")
	cmd.Flags().String("failures", "", "list the failed items of this run ID")

	return cmd
}

func runRuns(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	if cc.Cfg.State.Disabled {
		return fmt.Errorf("the run journal is disabled in the config (state.disabled)")
	}

	if _, err := os.Stat(cc.Cfg.State.Journal); os.IsNotExist(err) {
		cc.Statusf("No runs recorded yet (%s does not exist)\n", cc.Cfg.State.Journal)

		if cc.Flags.JSON {
			fmt.Fprintln(os.Stdout, "[]")
		}

		return nil
	}

	j, err := journal.Open(ctx, cc.Cfg.State.Journal, cc.Logger)
	if err != nil {
		return err
	}
	defer j.Close()

	if runID, _ := cmd.Flags().GetString("failures"); runID != "" {
		failures, err := j.Failures(ctx, runID)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printJSON(os.Stdout, failuresJSON(failures))
		}

		printFailuresTable(os.Stdout, failures)

		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")

	runs, err := j.Runs(ctx, limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, runsJSON(runs))
	}

	printRunsTable(os.Stdout, runs)

	return nil
}

type runJSON struct {
	ID             string     `json:"id"`
	SourceID       string     `json:"source_id"`
	DestID         string     `json:"dest_id"`
	DryRun         bool       `json:"dry_run"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Status         string     `json:"status"`
	Copied         int        `json:"copied"`
	Skipped        int        `json:"skipped"`
	Failed         int        `json:"failed"`
	NotAttempted   int        `json:"not_attempted"`
	FoldersCreated int        `json:"folders_created"`
	Bytes          int64      `json:"bytes"`
	Error          string     `json:"error,omitempty"`
}

func runsJSON(runs []journal.RunInfo) []runJSON {
	out := make([]runJSON, 0, len(runs))

	for i := range runs {
		r := &runs[i]

		rj := runJSON{
			ID:             r.ID,
			SourceID:       r.SourceID,
			DestID:         r.DestID,
			DryRun:         r.DryRun,
			StartedAt:      r.StartedAt.UTC(),
			Status:         r.Status,
			Copied:         r.Copied,
			Skipped:        r.Skipped,
			Failed:         r.Failed,
			NotAttempted:   r.NotAttempted,
			FoldersCreated: r.FoldersCreated,
			Bytes:          r.Bytes,
			Error:          r.Error,
		}

		if !r.FinishedAt.IsZero() {
			finished := r.FinishedAt.UTC()
			rj.FinishedAt = &finished
		}

		out = append(out, rj)
	}

	return out
}

type failureJSON struct {
	SourceID string `json:"source_id"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
	Error    string `json:"error,omitempty"`
}

func failuresJSON(failures []journal.Failure) []failureJSON {
	out := make([]failureJSON, 0, len(failures))

	for _, f := range failures {
		out = append(out, failureJSON(f))
	}

	return out
}

func printRunsTable(w io.Writer, runs []journal.RunInfo) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	headers := []string{"RUN", "STARTED", "TOOK", "STATUS", "COPIED", "FAILED", "SIZE", "SOURCE", "DEST"}
	rows := make([][]string, 0, len(runs))

	for i := range runs {
		r := &runs[i]

		status := r.Status
		if r.DryRun {
			status += " (dry run)"
		}

		rows = append(rows, []string{
			r.ID,
			formatTime(r.StartedAt),
			formatElapsed(r.StartedAt, r.FinishedAt),
			status,
			strconv.Itoa(r.Copied),
			strconv.Itoa(r.Failed),
			formatSize(r.Bytes),
			r.SourceID,
			r.DestID,
		})
	}

	printTable(w, headers, rows)
}

func printFailuresTable(w io.Writer, failures []journal.Failure) {
	if len(failures) == 0 {
		fmt.Fprintln(w, "No failed items.")
		return
	}

	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{f.Reason, f.Kind, f.SourceID, f.Path, f.Error})
	}

	printTable(w, []string{"REASON", "KIND", "ID", "PATH", "ERROR"}, rows)
}
