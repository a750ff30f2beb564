package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-replicate/internal/replicate"
)

// errVerifyMismatch is returned when the copy differs from its source.
var errVerifyMismatch = errors.New("destination differs from source")

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <source-folder-id> <dest-folder-id>",
		Short: "Compare a copied tree against its source",
		Long: `Walk the source and destination trees side by side and compare them by
relative path. Files must match in size and, where Drive reports a checksum
for both, in MD5. Reports missing, extra, and mismatched items.

Exit code 0 if the trees match; exit code 1 if any mismatches are found.`,
		Args: cobra.ExactArgs(2),
		RunE: runVerify,
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger).Context()

	session, err := newSession(ctx, cc, engineOptions(cc, true))
	if err != nil {
		return err
	}

	report, err := session.Replicator.Verify(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if err := printJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		printVerifyTable(os.Stdout, report)
	}

	if len(report.Mismatches) > 0 || len(report.Unreadable) > 0 {
		return errVerifyMismatch
	}

	return nil
}

func printVerifyTable(w io.Writer, report *replicate.VerifyReport) {
	fmt.Fprintf(w, "Verified: %d files\n", report.Verified)

	for _, p := range report.Unreadable {
		if p == "" {
			p = "(root)"
		}

		fmt.Fprintf(w, "Could not list: %s\n", p)
	}

	if len(report.Mismatches) == 0 {
		if len(report.Unreadable) == 0 {
			fmt.Fprintln(w, "All files verified successfully.")
		}

		return
	}

	fmt.Fprintf(w, "Mismatches: %d\n\n", len(report.Mismatches))

	headers := []string{"PATH", "STATUS", "EXPECTED", "ACTUAL"}
	rows := make([][]string, len(report.Mismatches))

	for i := range report.Mismatches {
		m := &report.Mismatches[i]
		rows[i] = []string{m.Path, m.Status, m.Expected, m.Actual}
	}

	printTable(w, headers, rows)
}
