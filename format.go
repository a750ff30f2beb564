package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Statusf prints a progress note to stderr. --quiet and --json silence it so
// stdout carries only the report.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if cc.Flags.Quiet || cc.Flags.JSON {
		return
	}

	fmt.Fprintf(os.Stderr, format, args...)
}

// iecUnits are the binary units transfer.chunk_size and
// transfer.bandwidth_limit are written in.
var iecUnits = []string{"KiB", "MiB", "GiB", "TiB"}

// formatSize renders bytes in the same IEC units the config accepts: whole
// multiples print without a fraction ("8 MiB"), others with one decimal
// ("1.5 GiB").
func formatSize(bytes int64) string {
	if bytes < 1024 {
		return strconv.FormatInt(bytes, 10) + " B"
	}

	div, unit := int64(1024), 0
	for unit < len(iecUnits)-1 && bytes >= div*1024 {
		div *= 1024
		unit++
	}

	if bytes%div == 0 {
		return fmt.Sprintf("%d %s", bytes/div, iecUnits[unit])
	}

	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), iecUnits[unit])
}

// formatTime renders a Drive or journal timestamp in local time. The zero
// time (a run still going, an item without modifiedTime) prints as "-".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t = t.Local()

	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// formatElapsed renders how long a run took, or "running" when it has no
// finish time.
func formatElapsed(started, finished time.Time) string {
	if finished.IsZero() {
		return "running"
	}

	return finished.Sub(started).Round(time.Second).String()
}

// printTable writes left-aligned columns. Widths count runes, since Drive
// names are often not ASCII. Line breaks inside a cell (Drive error messages
// carry them) are flattened so each row stays on one line.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
	}

	clean := make([][]string, len(rows))

	for r, row := range rows {
		clean[r] = make([]string, len(row))

		for i, cell := range row {
			cell = flattenCell(cell)
			clean[r][i] = cell

			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range clean {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

func flattenCell(s string) string {
	if !strings.ContainsAny(s, "\r\n\t") {
		return s
	}

	return strings.Join(strings.Fields(s), " ")
}

// printJSON writes v as indented JSON for --json output.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
