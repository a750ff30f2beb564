package replicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/gdrive-replicate/internal/gdrive"
	"github.com/tonimelisma/gdrive-replicate/internal/retry"
)

// DryRunFolderPrefix marks folder IDs invented by a dry run.
const DryRunFolderPrefix = "dry-run-folder:"

// maxWorkers bounds Options.Workers.
const maxWorkers = 64

// ErrNotFolder is returned when the source of a run is not a folder.
var ErrNotFolder = errors.New("replicate: source is not a folder")

// errItemLimit stops the walk once Options.MaxItems files were dispatched.
var errItemLimit = errors.New("replicate: item limit reached")

// Options configures one run. The zero value is a sequential, non-dry run
// with the default retry policy.
type Options struct {
	DryRun         bool
	Workers        int   // concurrent file transfers; <= 1 is sequential
	MaxItems       int   // stop dispatching after this many files; 0 = no limit
	CreateRoot     bool  // create a folder named after the source inside the destination
	ChunkSize      int64 // stream-copy chunk size; 0 = DefaultChunkSize
	BandwidthLimit int64 // stream-copy bytes/sec; 0 = unlimited

	Exclude         []string
	SpecialPatterns []string

	Retry  retry.Policy // zero value = retry.DefaultPolicy()
	Resume *ResumeState

	Sink     Sink
	Progress ProgressFunc

	Clock  clockwork.Clock // backoff waits and outcome timestamps
	Sleep  retry.SleepFunc // overrides Clock for backoff waits
	Logger *slog.Logger
}

// Replicator walks a source folder tree and replicates it.
type Replicator struct {
	remote     Remote
	inv        *retry.Invoker
	strategist *Strategist
	classifier *Classifier
	opts       Options
	logger     *slog.Logger
}

// New builds a Replicator for remote.
func New(remote Remote, opts Options) (*Replicator, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Workers < 1 {
		opts.Workers = 1
	}

	if opts.Workers > maxWorkers {
		return nil, fmt.Errorf("replicate: workers must be at most %d, got %d", maxWorkers, opts.Workers)
	}

	if opts.MaxItems < 0 {
		return nil, fmt.Errorf("replicate: max items must not be negative, got %d", opts.MaxItems)
	}

	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy()
	}

	classifier, err := NewClassifier(opts.SpecialPatterns, opts.Exclude)
	if err != nil {
		return nil, err
	}

	var invOpts []retry.Option
	if opts.Clock != nil {
		invOpts = append(invOpts, retry.WithClock(opts.Clock))
	}

	if opts.Sleep != nil {
		invOpts = append(invOpts, retry.WithSleep(opts.Sleep))
	}

	inv := retry.NewInvoker(opts.Retry, gdrive.Classify, opts.Logger, invOpts...)

	var limiter *BandwidthLimiter
	if !opts.DryRun {
		limiter = NewBandwidthLimiter(opts.BandwidthLimit, opts.Logger)
	}

	return &Replicator{
		remote:     remote,
		inv:        inv,
		strategist: NewStrategist(remote, inv, limiter, opts.ChunkSize, opts.DryRun, opts.Logger),
		classifier: classifier,
		opts:       opts,
		logger:     opts.Logger,
	}, nil
}

// NewLedger returns a Ledger wired to the Replicator's sink, progress
// callback, and clock.
func (r *Replicator) NewLedger() *Ledger {
	opts := []LedgerOption{WithSink(r.opts.Sink), WithProgress(r.opts.Progress)}
	if r.opts.Clock != nil {
		opts = append(opts, WithLedgerClock(r.opts.Clock))
	}

	return NewLedger(r.logger, opts...)
}

// Run replicates the tree under sourceID into destID and returns the
// ledger. The ledger is returned even when err is non-nil; err is set only
// for run-level failures (cancellation, invalid credentials, an unreadable
// source root). Item-level failures are in the ledger.
func Run(ctx context.Context, remote Remote, sourceID, destID string, opts Options) (*Ledger, error) {
	r, err := New(remote, opts)
	if err != nil {
		return nil, err
	}

	ledger := r.NewLedger()

	if opts.Resume != nil {
		for src, dst := range opts.Resume.Folders {
			ledger.SeedFolder(src, dst)
		}
	}

	root := destID

	if opts.CreateRoot {
		root, err = r.createRoot(ctx, sourceID, destID, ledger)
		if err != nil {
			return ledger, err
		}
	}

	return ledger, r.Replicate(ctx, sourceID, root, ledger)
}

// createRoot makes a folder named after the source inside destID, or reuses
// the one a resumed run already made.
func (r *Replicator) createRoot(ctx context.Context, sourceID, destID string, ledger *Ledger) (string, error) {
	src, _, err := retry.Call(ctx, r.inv, "get source folder", func(ctx context.Context) (*gdrive.Item, error) {
		return r.remote.GetItem(ctx, sourceID)
	})
	if err != nil {
		return "", fmt.Errorf("replicate: get source folder %s: %w", sourceID, err)
	}

	if !src.IsFolder() {
		return "", fmt.Errorf("%w: %s (%s)", ErrNotFolder, src.Name, src.MimeType)
	}

	id, err := ledger.EnsureFolder(ctx, sourceID, func(ctx context.Context) (string, error) {
		return r.makeFolder(ctx, src, destID, nil)
	})
	if err != nil {
		return "", fmt.Errorf("replicate: create root folder %q: %w", src.Name, err)
	}

	r.logger.Info("destination root ready",
		slog.String("name", src.Name),
		slog.String("dest_id", id),
	)

	return id, nil
}

// Replicate copies the children of sourceFolderID into destParentID,
// recursively, recording every item in ledger.
func (r *Replicator) Replicate(ctx context.Context, sourceFolderID, destParentID string, ledger *Ledger) error {
	ledger.SeedFolder(sourceFolderID, destParentID)

	w := &walker{
		Replicator: r,
		ledger:     ledger,
		visited:    map[string]bool{sourceFolderID: true},
	}

	children, _, err := w.listAll(ctx, sourceFolderID)
	if err != nil {
		ledger.MarkSubtreeFailed()

		return fmt.Errorf("replicate: list source folder %s: %w", sourceFolderID, err)
	}

	walkCtx := ctx

	if r.opts.Workers > 1 {
		var g *errgroup.Group

		g, walkCtx = errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Workers)
		w.group = g
	}

	walkErr := w.walk(walkCtx, children, destParentID, "")

	if w.group != nil {
		if poolErr := w.group.Wait(); poolErr != nil {
			return poolErr
		}
	}

	switch {
	case errors.Is(walkErr, errItemLimit):
		r.logger.Info("item limit reached, stopping",
			slog.Int("max_items", r.opts.MaxItems),
		)

		return nil
	case walkErr != nil:
		return walkErr
	}

	snap := ledger.Snapshot()
	r.logger.Info("replication finished",
		slog.Int("copied", snap.Copied),
		slog.Int("skipped", snap.Skipped),
		slog.Int("failed", snap.Failed),
		slog.Int("folders_created", snap.FoldersCreated),
		slog.Int64("bytes", snap.Bytes),
		slog.Bool("dry_run", r.opts.DryRun),
	)

	return nil
}

// walker holds the state of one Replicate call. Only the walking goroutine
// touches visited and dispatched.
type walker struct {
	*Replicator
	ledger     *Ledger
	group      *errgroup.Group // nil when sequential
	visited    map[string]bool
	dispatched int
}

// walk processes one folder's children in listing order: folders are
// created and descended into before the next sibling, files are dispatched.
// On a run-stopping error every remaining child is recorded not_attempted.
func (w *walker) walk(ctx context.Context, children []gdrive.Item, destID, dir string) error {
	for i := range children {
		if err := ctx.Err(); err != nil {
			w.abandon(children[i:], destID, dir, ReasonCanceled)
			return fmt.Errorf("replicate: %w", err)
		}

		if w.opts.MaxItems > 0 && w.dispatched >= w.opts.MaxItems {
			w.abandon(children[i:], destID, dir, ReasonItemLimit)
			return errItemLimit
		}

		if err := w.visit(ctx, &children[i], destID, path.Join(dir, children[i].Name)); err != nil {
			reason := ReasonCanceled
			if errors.Is(err, errItemLimit) {
				reason = ReasonItemLimit
			}

			w.abandon(children[i+1:], destID, dir, reason)

			return err
		}
	}

	return nil
}

func (w *walker) visit(ctx context.Context, item *gdrive.Item, destID, p string) error {
	kind := w.classifier.Classify(item)

	switch {
	case w.classifier.Excluded(item):
		w.ledger.Record(w.skipped(item, kind, destID, p, ReasonExcluded))
		return nil
	case item.IsShortcut():
		w.ledger.Record(w.skipped(item, kind, destID, p, ReasonShortcut))
		return nil
	case kind == KindFolder:
		return w.descend(ctx, item, destID, p)
	}

	if w.opts.Resume != nil {
		if done, ok := w.opts.Resume.Completed[item.ID]; ok {
			out := w.skipped(item, kind, destID, p, ReasonAlreadyCopied)
			out.DestID = done
			w.ledger.Record(out)

			return nil
		}
	}

	plan := &TransferPlan{
		SourceID:     item.ID,
		Name:         item.Name,
		MimeType:     item.MimeType,
		Size:         item.Size,
		Kind:         kind,
		DestParentID: destID,
		Path:         p,
		Strategy:     StrategyServerDuplicate,
	}

	w.dispatched++

	if w.group == nil {
		return w.transfer(ctx, plan)
	}

	w.group.Go(func() error {
		return w.transfer(ctx, plan)
	})

	return nil
}

// transfer executes one plan and records its outcome. A plan whose turn
// comes after cancellation is recorded not_attempted.
func (w *walker) transfer(ctx context.Context, plan *TransferPlan) error {
	if ctx.Err() != nil {
		w.ledger.Record(TransferOutcome{
			SourceID:     plan.SourceID,
			Name:         plan.Name,
			Path:         plan.Path,
			Kind:         plan.Kind,
			DestParentID: plan.DestParentID,
			Strategy:     plan.Strategy,
			Status:       StatusNotAttempted,
			Reason:       ReasonCanceled,
		})

		return nil
	}

	out := w.strategist.Execute(ctx, plan)
	w.ledger.Record(out)

	if errors.Is(out.Err, gdrive.ErrUnauthorized) {
		return fmt.Errorf("replicate: %s: %w", plan.Path, out.Err)
	}

	return nil
}

// descend creates (or looks up) the destination folder for item, lists
// its children, and walks them. Creation and listing failures are recorded
// against the folder and mark its subtree failed; the walk continues with
// the folder's siblings.
func (w *walker) descend(ctx context.Context, item *gdrive.Item, parentDestID, p string) error {
	out := TransferOutcome{
		SourceID:     item.ID,
		Name:         item.Name,
		Path:         p,
		Kind:         KindFolder,
		DestParentID: parentDestID,
		DryRun:       w.opts.DryRun,
	}

	if w.visited[item.ID] {
		out.Status = StatusSkipped
		out.Reason = ReasonAlreadyVisited
		w.ledger.Record(out)

		return nil
	}

	w.visited[item.ID] = true

	destID, err := w.ledger.EnsureFolder(ctx, item.ID, func(ctx context.Context) (string, error) {
		return w.makeFolder(ctx, item, parentDestID, &out.Retries)
	})
	if err != nil {
		return w.folderFailed(ctx, &out, err, ReasonCreateFailed)
	}

	out.DestID = destID

	children, retries, err := w.listAll(ctx, item.ID)
	out.Retries += retries

	if err != nil {
		return w.folderFailed(ctx, &out, err, ReasonListFailed)
	}

	out.Status = StatusSuccess
	if out.Retries > 0 {
		out.Status = StatusRetriedSuccess
	}

	w.ledger.Record(out)

	return w.walk(ctx, children, destID, p)
}

func (w *walker) folderFailed(ctx context.Context, out *TransferOutcome, err error, reason string) error {
	out.Status = StatusFailed
	out.Err = err
	out.Reason = reason

	switch {
	case ctx.Err() != nil:
		out.Reason = ReasonCanceled
		w.ledger.Record(*out)

		return fmt.Errorf("replicate: %w", ctx.Err())
	case errors.Is(err, gdrive.ErrUnauthorized):
		out.Reason = ReasonUnauthorized
		w.ledger.Record(*out)

		return fmt.Errorf("replicate: %s: %w", out.Path, err)
	}

	w.ledger.Record(*out)
	w.ledger.MarkSubtreeFailed()

	w.logger.Warn("folder subtree failed",
		slog.String("path", out.Path),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)

	return nil
}

// makeFolder creates item's counterpart under parentID. retries, when not
// nil, accumulates the retries spent.
func (r *Replicator) makeFolder(ctx context.Context, item *gdrive.Item, parentID string, retries *int) (string, error) {
	if r.opts.DryRun {
		return DryRunFolderPrefix + item.ID, nil
	}

	created, st, err := retry.Call(ctx, r.inv, "create folder", func(ctx context.Context) (*gdrive.Item, error) {
		return r.remote.CreateFolder(ctx, parentID, item.Name)
	})

	if retries != nil {
		*retries += st.Retries
	}

	if err != nil {
		return "", err
	}

	r.logger.Debug("created folder",
		slog.String("name", item.Name),
		slog.String("source_id", item.ID),
		slog.String("dest_id", created.ID),
	)

	return created.ID, nil
}

// listAll reads every page of folderID's listing, each page through the
// Invoker.
func (r *Replicator) listAll(ctx context.Context, folderID string) ([]gdrive.Item, int, error) {
	var (
		items   []gdrive.Item
		token   string
		retries int
	)

	for {
		page, st, err := retry.Call(ctx, r.inv, "list children", func(ctx context.Context) (*gdrive.ChildrenPage, error) {
			return r.remote.ListChildrenPage(ctx, folderID, token)
		})
		retries += st.Retries

		if err != nil {
			return nil, retries, err
		}

		items = append(items, page.Items...)

		if page.NextPageToken == "" {
			return items, retries, nil
		}

		token = page.NextPageToken
	}
}

// ListAll returns every child of folderID, reading all pages through the
// Replicator's Invoker.
func (r *Replicator) ListAll(ctx context.Context, folderID string) ([]gdrive.Item, error) {
	items, _, err := r.listAll(ctx, folderID)

	return items, err
}

// Classify exposes the Replicator's item classifier.
func (r *Replicator) Classify(item *gdrive.Item) Kind {
	return r.classifier.Classify(item)
}

func (w *walker) skipped(item *gdrive.Item, kind Kind, destID, p, reason string) TransferOutcome {
	return TransferOutcome{
		SourceID:     item.ID,
		Name:         item.Name,
		Path:         p,
		Kind:         kind,
		DestParentID: destID,
		Strategy:     StrategySkip,
		Status:       StatusSkipped,
		Reason:       reason,
		DryRun:       w.opts.DryRun,
	}
}

// abandon records items that will not be visited. Folders are not
// descended into, so their contents get no outcome.
func (w *walker) abandon(items []gdrive.Item, destID, dir, reason string) {
	for i := range items {
		w.ledger.Record(TransferOutcome{
			SourceID:     items[i].ID,
			Name:         items[i].Name,
			Path:         path.Join(dir, items[i].Name),
			Kind:         w.classifier.Classify(&items[i]),
			DestParentID: destID,
			Status:       StatusNotAttempted,
			Reason:       reason,
			DryRun:       w.opts.DryRun,
		})
	}
}
