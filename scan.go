package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-replicate/internal/replicate"
)

const scanTopExtensions = 10

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <folder-id>",
		Short: "Count what a copy of a folder tree would meet",
		Long: `Walk the source tree without copying anything and report how many
folders, files, OS artifact files, shortcuts, and Google-native documents it
holds, with their total size and the most common file extensions.`,
		Args: cobra.ExactArgs(1),
		RunE: runScan,
	}

	cmd.Flags().Int("max-depth", 0, "stop descending below this many levels (0 = no limit)")

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger).Context()

	maxDepth, _ := cmd.Flags().GetInt("max-depth")
	if maxDepth < 0 {
		return fmt.Errorf("--max-depth must be >= 0, got %d", maxDepth)
	}

	session, err := newSession(ctx, cc, engineOptions(cc, true))
	if err != nil {
		return err
	}

	stats, err := session.Replicator.Scan(ctx, args[0], maxDepth)
	if err != nil {
		return err
	}

	report := newScanReport(stats)

	if cc.Flags.JSON {
		return printJSON(os.Stdout, report)
	}

	printScanSummary(os.Stdout, report)

	return nil
}

// scanReport is the JSON shape of a scan.
type scanReport struct {
	Folders       int                  `json:"folders"`
	Files         int                  `json:"files"`
	Special       int                  `json:"special"`
	Shortcuts     int                  `json:"shortcuts"`
	Native        int                  `json:"native"`
	Bytes         int64                `json:"bytes"`
	Unreadable    []string             `json:"unreadable"`
	TopExtensions []scanExtensionCount `json:"top_extensions"`
}

type scanExtensionCount struct {
	Ext   string `json:"ext"`
	Count int    `json:"count"`
}

func newScanReport(stats *replicate.ScanStats) scanReport {
	r := scanReport{
		Folders:       stats.Folders,
		Files:         stats.Files,
		Special:       stats.Special,
		Shortcuts:     stats.Shortcuts,
		Native:        stats.Native,
		Bytes:         stats.Bytes,
		Unreadable:    append([]string{}, stats.Unreadable...),
		TopExtensions: []scanExtensionCount{},
	}

	for _, ec := range stats.TopExtensions(scanTopExtensions) {
		r.TopExtensions = append(r.TopExtensions, scanExtensionCount{Ext: ec.Ext, Count: ec.Count})
	}

	return r
}

func printScanSummary(w io.Writer, r scanReport) {
	fmt.Fprintf(w, "%d folders, %d files (%s)\n", r.Folders, r.Files, formatSize(r.Bytes))

	if r.Special > 0 {
		fmt.Fprintf(w, "  %d OS artifact files\n", r.Special)
	}

	if r.Native > 0 {
		fmt.Fprintf(w, "  %d Google-native documents (cannot be stream-copied)\n", r.Native)
	}

	if r.Shortcuts > 0 {
		fmt.Fprintf(w, "  %d shortcuts (will be skipped)\n", r.Shortcuts)
	}

	if len(r.TopExtensions) > 0 {
		fmt.Fprintln(w)

		rows := make([][]string, 0, len(r.TopExtensions))
		for _, ec := range r.TopExtensions {
			ext := ec.Ext
			if ext == "" {
				ext = "(none)"
			}

			rows = append(rows, []string{ext, fmt.Sprintf("%d", ec.Count)})
		}

		printTable(w, []string{"EXT", "FILES"}, rows)
	}

	if len(r.Unreadable) > 0 {
		fmt.Fprintf(w, "\n%d folders could not be listed:\n", len(r.Unreadable))

		for _, p := range r.Unreadable {
			if p == "" {
				p = "(root)"
			}

			fmt.Fprintf(w, "  %s\n", p)
		}
	}
}
