package replicate

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/tonimelisma/gdrive-replicate/internal/gdrive"
)

// ScanStats summarizes a source tree without copying anything.
type ScanStats struct {
	Folders     int
	Files       int
	Special     int
	Shortcuts   int
	Native      int // Google Docs/Sheets/...: duplicable, not streamable
	Bytes       int64
	Unreadable  []string // paths of folders whose listing failed
	ByExtension map[string]int
}

// ExtensionCount is one row of TopExtensions.
type ExtensionCount struct {
	Ext   string
	Count int
}

// TopExtensions returns the n most common file extensions, most common
// first, ties by name.
func (s *ScanStats) TopExtensions(n int) []ExtensionCount {
	out := make([]ExtensionCount, 0, len(s.ByExtension))
	for ext, c := range s.ByExtension {
		out = append(out, ExtensionCount{Ext: ext, Count: c})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}

		return out[i].Ext < out[j].Ext
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}

	return out
}

// Scan walks the tree under folderID and counts what a copy would meet.
// maxDepth > 0 stops descending below that many levels. A folder that
// cannot be listed is noted and skipped; invalid credentials and
// cancellation end the scan.
func (r *Replicator) Scan(ctx context.Context, folderID string, maxDepth int) (*ScanStats, error) {
	stats := &ScanStats{ByExtension: make(map[string]int)}
	visited := map[string]bool{folderID: true}

	if err := r.scanFolder(ctx, folderID, "", 1, maxDepth, stats, visited); err != nil {
		return stats, err
	}

	r.logger.Info("scan finished",
		slog.Int("folders", stats.Folders),
		slog.Int("files", stats.Files),
		slog.Int64("bytes", stats.Bytes),
	)

	return stats, nil
}

func (r *Replicator) scanFolder(
	ctx context.Context, folderID, dir string, depth, maxDepth int, stats *ScanStats, visited map[string]bool,
) error {
	children, _, err := r.listAll(ctx, folderID)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, gdrive.ErrUnauthorized) {
			return err
		}

		r.logger.Warn("cannot list folder",
			slog.String("path", dir),
			slog.String("error", err.Error()),
		)

		stats.Unreadable = append(stats.Unreadable, dir)

		return nil
	}

	for i := range children {
		item := &children[i]
		p := path.Join(dir, item.Name)

		switch kind := r.classifier.Classify(item); {
		case item.IsShortcut():
			stats.Shortcuts++
		case kind == KindFolder:
			stats.Folders++

			if visited[item.ID] || (maxDepth > 0 && depth >= maxDepth) {
				continue
			}

			visited[item.ID] = true

			if err := r.scanFolder(ctx, item.ID, p, depth+1, maxDepth, stats, visited); err != nil {
				return err
			}
		default:
			stats.Files++
			stats.Bytes += item.Size
			stats.ByExtension[extension(item.Name)]++

			if kind == KindSpecial {
				stats.Special++
			}

			if item.IsNative() {
				stats.Native++
			}
		}
	}

	return nil
}

// extension returns the lower-cased extension without the dot, or "" for
// names without one. Dot files like ".DS_Store" have no extension.
func extension(name string) string {
	ext := path.Ext(name)
	if ext == "" || ext == name {
		return ""
	}

	return strings.ToLower(ext[1:])
}
