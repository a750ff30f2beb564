package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-replicate/internal/journal"
	"github.com/tonimelisma/gdrive-replicate/internal/replicate"
)

// errItemsFailed is returned after a run that finished with failed items.
var errItemsFailed = errors.New("some items failed")

// maxListedFailures caps the failures printed in the text summary.
const maxListedFailures = 50

func newCopyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy <source-folder-id> <dest-folder-id>",
		Short: "Replicate a folder tree into a destination folder",
		Long: `Copy every file and subfolder under the source folder into the
destination folder. Files are duplicated server-side first; when the owner
has disabled copying, they are streamed through this process instead.

Use --dry-run to see what would be copied without changing anything, and
--resume to continue an interrupted run for the same source and destination.`,
		Args: cobra.ExactArgs(2),
		RunE: runCopy,
	}

	cmd.Flags().Bool("dry-run", false, "walk and report without creating anything")
	cmd.Flags().Bool("resume", false, "skip work recorded by earlier runs of the same source and destination")
	cmd.Flags().Int("workers", 1, "concurrent file transfers")
	cmd.Flags().Int("max-items", 0, "stop after this many files (0 = no limit)")
	cmd.Flags().Bool("create-root", false, "create a folder named after the source inside the destination")
	cmd.Flags().String("chunk-size", "", "stream-copy chunk size, a multiple of 256KiB (e.g. 8MiB)")

	return cmd
}

func runCopy(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	sourceID, destID := args[0], args[1]

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	resume, _ := cmd.Flags().GetBool("resume")

	if resume && cc.Cfg.State.Disabled {
		return fmt.Errorf("--resume needs the run journal, which is disabled in the config (state.disabled)")
	}

	sd := shutdownContext(cmd.Context(), logger)
	ctx := sd.Context()
	opts := engineOptions(cc, dryRun)
	totals := &runTotals{}

	if dryRun {
		cc.Statusf("Dry run: nothing will be created in the destination\n")
	}

	session, err := newSession(ctx, cc, opts)
	if err != nil {
		return err
	}

	var run *journal.Run

	if !cc.Cfg.State.Disabled {
		release, lockErr := acquireRunLock(cc.Cfg.State.Journal + ".lock")
		if lockErr != nil {
			return lockErr
		}
		defer release()

		j, openErr := journal.Open(ctx, cc.Cfg.State.Journal, logger)
		if openErr != nil {
			return openErr
		}
		defer j.Close()

		if resume {
			rs, rsErr := j.ResumeState(ctx, sourceID, destID)
			if rsErr != nil {
				return rsErr
			}

			opts.Resume = rs
		}

		run, err = j.BeginRun(ctx, sourceID, destID, dryRun)
		if err != nil {
			return err
		}

		opts.Sink = run
		sd.finishOnForce(run, totals.get)
	}

	progress := newProgressLine(os.Stderr, !cc.Flags.Quiet && !cc.Flags.JSON && isTerminal(os.Stderr))
	opts.Progress = func(s replicate.Snapshot) {
		totals.set(s)
		progress.update(s)
	}

	ledger, runErr := replicate.Run(ctx, session.Client, sourceID, destID, opts)
	progress.done()

	if ledger == nil {
		return runErr
	}

	runID := ""

	if run != nil {
		runID = run.ID
		sd.onForceExit(nil)

		if err := run.Finish(ledger.Snapshot(), runErr); err != nil {
			logger.Warn("failed to finish run record",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	report := newCopyReport(ledger, sourceID, runID, dryRun)

	if cc.Flags.JSON {
		if err := printJSON(os.Stdout, report); err != nil {
			return err
		}
	} else if !cc.Flags.Quiet || report.Failed > 0 {
		printCopySummary(os.Stdout, report)
	}

	if runErr != nil {
		return runErr
	}

	if report.Failed > 0 {
		return errItemsFailed
	}

	return nil
}

// runTotals holds the latest ledger snapshot for the forced-exit path.
type runTotals struct {
	mu   sync.Mutex
	snap replicate.Snapshot
}

func (t *runTotals) set(s replicate.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap = s
}

func (t *runTotals) get() replicate.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snap
}

// copyReport is the end-of-run summary.
type copyReport struct {
	RunID          string          `json:"run_id,omitempty"`
	DestRootID     string          `json:"dest_root_id,omitempty"`
	DryRun         bool            `json:"dry_run"`
	Copied         int             `json:"copied"`
	Skipped        int             `json:"skipped"`
	Failed         int             `json:"failed"`
	NotAttempted   int             `json:"not_attempted"`
	Special        int             `json:"special"`
	FellBack       int             `json:"stream_copied"`
	FoldersCreated int             `json:"folders_created"`
	SubtreesFailed int             `json:"subtrees_failed"`
	Bytes          int64           `json:"bytes"`
	Failures       []reportFailure `json:"failures"`
	SpecialPaths   []string        `json:"special_paths"`
}

type reportFailure struct {
	SourceID string `json:"source_id"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
	Error    string `json:"error,omitempty"`
}

func newCopyReport(ledger *replicate.Ledger, sourceID, runID string, dryRun bool) copyReport {
	snap := ledger.Snapshot()
	destRoot, _ := ledger.FolderFor(sourceID)

	r := copyReport{
		RunID:          runID,
		DestRootID:     destRoot,
		DryRun:         dryRun,
		Copied:         snap.Copied,
		Skipped:        snap.Skipped,
		Failed:         snap.Failed,
		NotAttempted:   snap.NotAttempted,
		Special:        snap.Special,
		FellBack:       snap.FellBack,
		FoldersCreated: snap.FoldersCreated,
		SubtreesFailed: snap.SubtreesFailed,
		Bytes:          snap.Bytes,
		Failures:       []reportFailure{},
		SpecialPaths:   []string{},
	}

	for _, o := range ledger.Outcomes() {
		switch {
		case o.Status == replicate.StatusFailed:
			r.Failures = append(r.Failures, reportFailure{
				SourceID: o.SourceID,
				Path:     o.Path,
				Kind:     string(o.Kind),
				Reason:   o.Reason,
				Error:    o.ErrString(),
			})
		case o.Kind == replicate.KindSpecial && o.Status.Succeeded():
			r.SpecialPaths = append(r.SpecialPaths, o.Path)
		}
	}

	return r
}

func printCopySummary(w io.Writer, r copyReport) {
	verb := "Copied"
	if r.DryRun {
		verb = "Would copy"
	}

	fmt.Fprintf(w, "%s %d files (%s), %d folders created\n", verb, r.Copied, formatSize(r.Bytes), r.FoldersCreated)

	if r.FellBack > 0 {
		fmt.Fprintf(w, "  %d streamed because the owner disabled copying\n", r.FellBack)
	}

	if r.Special > 0 {
		fmt.Fprintf(w, "  %d OS artifact files copied and flagged\n", r.Special)
	}

	if r.Skipped > 0 {
		fmt.Fprintf(w, "  %d skipped\n", r.Skipped)
	}

	if r.NotAttempted > 0 {
		fmt.Fprintf(w, "  %d not attempted\n", r.NotAttempted)
	}

	if r.Failed == 0 {
		if r.RunID != "" {
			fmt.Fprintf(w, "Run %s\n", r.RunID)
		}

		return
	}

	fmt.Fprintf(w, "%d failed", r.Failed)

	if r.SubtreesFailed > 0 {
		fmt.Fprintf(w, " (%d folders could not be read or created)", r.SubtreesFailed)
	}

	fmt.Fprintln(w, ":")

	rows := make([][]string, 0, min(len(r.Failures), maxListedFailures))
	for i, f := range r.Failures {
		if i == maxListedFailures {
			break
		}

		rows = append(rows, []string{f.Reason, f.SourceID, f.Path})
	}

	printTable(w, []string{"REASON", "ID", "PATH"}, rows)

	if len(r.Failures) > maxListedFailures {
		fmt.Fprintf(w, "... and %d more", len(r.Failures)-maxListedFailures)

		if r.RunID != "" {
			fmt.Fprintf(w, " (gdrive-replicate runs --failures %s)", r.RunID)
		}

		fmt.Fprintln(w)
	}
}

// progressLine rewrites a single status line on a terminal.
type progressLine struct {
	w       io.Writer
	enabled bool
	written bool
}

func newProgressLine(w io.Writer, enabled bool) *progressLine {
	return &progressLine{w: w, enabled: enabled}
}

func (p *progressLine) update(s replicate.Snapshot) {
	if !p.enabled {
		return
	}

	p.written = true
	fmt.Fprintf(p.w, "\r%s copied, %s failed, %s skipped, %s  ",
		strconv.Itoa(s.Copied), strconv.Itoa(s.Failed), strconv.Itoa(s.Skipped), formatSize(s.Bytes))
}

func (p *progressLine) done() {
	if p.written {
		fmt.Fprintln(p.w)
	}
}
