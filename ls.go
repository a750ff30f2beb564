package main

import (
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-replicate/internal/gdrive"
	"github.com/tonimelisma/gdrive-replicate/internal/replicate"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <folder-id>",
		Short: "List a folder's children as the copy would classify them",
		Args:  cobra.ExactArgs(1),
		RunE:  runLs,
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	session, err := newSession(ctx, cc, engineOptions(cc, true))
	if err != nil {
		return err
	}

	items, err := session.Replicator.ListAll(ctx, args[0])
	if err != nil {
		return err
	}

	entries := lsEntries(items, session.Replicator.Classify)

	if cc.Flags.JSON {
		return printJSON(os.Stdout, entries)
	}

	printLsTable(os.Stdout, entries)

	return nil
}

// lsEntry is one row of ls output.
type lsEntry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// lsEntries classifies items and sorts folders first, then by name.
func lsEntries(items []gdrive.Item, classify func(*gdrive.Item) replicate.Kind) []lsEntry {
	out := make([]lsEntry, 0, len(items))

	for i := range items {
		item := &items[i]

		kind := string(classify(item))
		if item.IsShortcut() {
			kind = "shortcut"
		}

		out = append(out, lsEntry{
			ID:         item.ID,
			Name:       item.Name,
			Kind:       kind,
			MimeType:   item.MimeType,
			Size:       item.Size,
			ModifiedAt: item.ModifiedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		fi, fj := out[i].Kind == string(replicate.KindFolder), out[j].Kind == string(replicate.KindFolder)
		if fi != fj {
			return fi
		}

		return out[i].Name < out[j].Name
	})

	return out
}

func printLsTable(w io.Writer, entries []lsEntry) {
	headers := []string{"NAME", "KIND", "SIZE", "MODIFIED", "ID"}
	rows := make([][]string, 0, len(entries))

	for i := range entries {
		e := &entries[i]

		name := e.Name
		size := formatSize(e.Size)

		if e.Kind == string(replicate.KindFolder) {
			name += "/"
			size = "-"
		}

		rows = append(rows, []string{name, e.Kind, size, formatTime(e.ModifiedAt), e.ID})
	}

	printTable(w, headers, rows)
}
