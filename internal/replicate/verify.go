package replicate

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"path"
	"slices"
	"strconv"

	"github.com/tonimelisma/gdrive-replicate/internal/gdrive"
)

// Verify status constants (used in VerifyResult.Status).
const (
	VerifyMissing       = "missing"
	VerifyExtra         = "extra"
	VerifySizeMismatch  = "size_mismatch"
	VerifyHashMismatch  = "hash_mismatch"
	VerifyTypeMismatch  = "type_mismatch"
	VerifyCountMismatch = "count_mismatch"
)

// VerifyResult is one difference between a source tree and its copy.
type VerifyResult struct {
	Path     string `json:"path"`
	Status   string `json:"status"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// VerifyReport is the outcome of comparing a source tree with its copy.
type VerifyReport struct {
	Verified   int            `json:"verified"`
	Mismatches []VerifyResult `json:"mismatches"`
	Unreadable []string       `json:"unreadable"`
}

// Verify compares the tree under sourceID with the tree under destID by
// relative path. Files must match in size and, where Drive reports one for
// both sides, MD5 checksum. Excluded items and shortcuts in the source are
// not expected in the destination. Read-only: nothing is created.
func (r *Replicator) Verify(ctx context.Context, sourceID, destID string) (*VerifyReport, error) {
	report := &VerifyReport{Mismatches: []VerifyResult{}, Unreadable: []string{}}
	vw := &verifyWalk{
		report:  report,
		visited: map[string]bool{sourceID: true},
		missing: make(map[string]VerifyResult),
	}

	if err := r.verifyFolder(ctx, sourceID, destID, "", vw); err != nil {
		return report, err
	}

	vw.flushMissing()

	r.logger.Info("verify finished",
		slog.Int("verified", report.Verified),
		slog.Int("mismatches", len(report.Mismatches)),
	)

	return report, nil
}

// verifyWalk is the state of one Verify call. A folder with several parents
// is copied under one of them only, so a source folder missing from the copy
// is held in missing until the walk ends; finding it under another parent
// clears it.
type verifyWalk struct {
	report  *VerifyReport
	visited map[string]bool
	missing map[string]VerifyResult
}

func (vw *verifyWalk) flushMissing() {
	pending := make([]VerifyResult, 0, len(vw.missing))
	for _, res := range vw.missing {
		pending = append(pending, res)
	}

	slices.SortFunc(pending, func(a, b VerifyResult) int { return cmp.Compare(a.Path, b.Path) })
	vw.report.Mismatches = append(vw.report.Mismatches, pending...)
	clear(vw.missing)
}

func (r *Replicator) verifyFolder(ctx context.Context, srcID, dstID, dir string, vw *verifyWalk) error {
	report := vw.report

	srcItems, ok, err := r.verifyList(ctx, srcID, dir, report)
	if !ok {
		return err
	}

	dstItems, ok, err := r.verifyList(ctx, dstID, dir, report)
	if !ok {
		return err
	}

	src := make(map[string][]gdrive.Item)
	names := make(map[string]bool)

	for i := range srcItems {
		item := srcItems[i]
		names[item.Name] = true

		if r.classifier.Excluded(&item) || item.IsShortcut() {
			continue
		}

		// Already compared under another parent.
		if item.IsFolder() && vw.visited[item.ID] {
			continue
		}

		src[item.Name] = append(src[item.Name], item)
	}

	dst := make(map[string][]gdrive.Item)

	for i := range dstItems {
		item := dstItems[i]
		dst[item.Name] = append(dst[item.Name], item)

		if !names[item.Name] {
			report.Mismatches = append(report.Mismatches, VerifyResult{
				Path:   path.Join(dir, item.Name),
				Status: VerifyExtra,
				Actual: item.ID,
			})
		}
	}

	for _, name := range sortedKeys(src) {
		p := path.Join(dir, name)
		want, got := src[name], dst[name]

		if len(got) == 0 {
			res := VerifyResult{Path: p, Status: VerifyMissing, Expected: want[0].ID}
			if len(want) == 1 && want[0].IsFolder() {
				vw.missing[want[0].ID] = res
			} else {
				report.Mismatches = append(report.Mismatches, res)
			}

			continue
		}

		if len(want) != len(got) {
			report.Mismatches = append(report.Mismatches, VerifyResult{
				Path:     p,
				Status:   VerifyCountMismatch,
				Expected: strconv.Itoa(len(want)),
				Actual:   strconv.Itoa(len(got)),
			})

			continue
		}

		// Same-named siblings are paired in a stable content order.
		sortForPairing(want)
		sortForPairing(got)

		for i := range want {
			if err := r.verifyPair(ctx, &want[i], &got[i], p, vw); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *Replicator) verifyPair(ctx context.Context, want, got *gdrive.Item, p string, vw *verifyWalk) error {
	report := vw.report

	if want.IsFolder() != got.IsFolder() {
		report.Mismatches = append(report.Mismatches, VerifyResult{
			Path:     p,
			Status:   VerifyTypeMismatch,
			Expected: want.MimeType,
			Actual:   got.MimeType,
		})

		return nil
	}

	if want.IsFolder() {
		if vw.visited[want.ID] {
			return nil
		}

		vw.visited[want.ID] = true
		delete(vw.missing, want.ID)

		return r.verifyFolder(ctx, want.ID, got.ID, p, vw)
	}

	if !want.IsNative() && want.Size != got.Size {
		report.Mismatches = append(report.Mismatches, VerifyResult{
			Path:     p,
			Status:   VerifySizeMismatch,
			Expected: strconv.FormatInt(want.Size, 10),
			Actual:   strconv.FormatInt(got.Size, 10),
		})

		return nil
	}

	if want.MD5 != "" && got.MD5 != "" && want.MD5 != got.MD5 {
		report.Mismatches = append(report.Mismatches, VerifyResult{
			Path:     p,
			Status:   VerifyHashMismatch,
			Expected: want.MD5,
			Actual:   got.MD5,
		})

		return nil
	}

	report.Verified++

	return nil
}

// verifyList lists one side. ok is false when the caller must stop
// descending; err is non-nil only when the whole verify must stop.
func (r *Replicator) verifyList(ctx context.Context, folderID, dir string, report *VerifyReport) ([]gdrive.Item, bool, error) {
	items, _, err := r.listAll(ctx, folderID)
	if err == nil {
		return items, true, nil
	}

	if ctx.Err() != nil || errors.Is(err, gdrive.ErrUnauthorized) {
		return nil, false, err
	}

	r.logger.Warn("cannot list folder",
		slog.String("folder_id", folderID),
		slog.String("path", dir),
		slog.String("error", err.Error()),
	)

	report.Unreadable = append(report.Unreadable, dir)

	return nil, false, nil
}

func sortForPairing(items []gdrive.Item) {
	slices.SortStableFunc(items, func(a, b gdrive.Item) int {
		return cmp.Or(
			cmp.Compare(a.MimeType, b.MimeType),
			cmp.Compare(a.Size, b.Size),
			cmp.Compare(a.MD5, b.MD5),
		)
	})
}

func sortedKeys(m map[string][]gdrive.Item) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
