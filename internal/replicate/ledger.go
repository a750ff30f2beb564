package replicate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Snapshot is a point-in-time view of a Ledger's totals. Copied counts
// files that reached the destination (or would have, in a dry run); Failed
// counts failed files and folders.
type Snapshot struct {
	Copied         int
	Skipped        int
	Failed         int
	NotAttempted   int
	Special        int
	FellBack       int
	FoldersCreated int
	SubtreesFailed int
	Bytes          int64
	Items          int
}

// Ledger accumulates the outcomes of one run and owns the source->destination
// folder map. All mutation is serialized by mu; the Sink and progress
// callback run under it.
type Ledger struct {
	mu       sync.Mutex
	outcomes []TransferOutcome
	folders  map[string]string
	totals   Snapshot

	creating singleflight.Group

	sink     Sink
	progress ProgressFunc
	clock    clockwork.Clock
	logger   *slog.Logger
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithSink persists every outcome and folder mapping.
func WithSink(s Sink) LedgerOption {
	return func(l *Ledger) { l.sink = s }
}

// WithProgress registers a callback run after every recorded outcome.
func WithProgress(fn ProgressFunc) LedgerOption {
	return func(l *Ledger) { l.progress = fn }
}

// WithLedgerClock sets the clock used for RecordedAt.
func WithLedgerClock(c clockwork.Clock) LedgerOption {
	return func(l *Ledger) { l.clock = c }
}

// NewLedger creates an empty Ledger.
func NewLedger(logger *slog.Logger, opts ...LedgerOption) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Ledger{
		folders: make(map[string]string),
		clock:   clockwork.NewRealClock(),
		logger:  logger,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Record appends an outcome and updates the totals.
func (l *Ledger) Record(o TransferOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if o.RecordedAt.IsZero() {
		o.RecordedAt = l.clock.Now()
	}

	l.outcomes = append(l.outcomes, o)
	l.totals.Items++

	switch {
	case o.Status.Succeeded():
		if o.Kind != KindFolder {
			l.totals.Copied++
			l.totals.Bytes += o.Bytes
		}

		if o.FellBack {
			l.totals.FellBack++
		}
	case o.Status == StatusFailed:
		l.totals.Failed++
	case o.Status == StatusSkipped:
		l.totals.Skipped++
	case o.Status == StatusNotAttempted:
		l.totals.NotAttempted++
	}

	if o.Kind == KindSpecial {
		l.totals.Special++
	}

	if l.sink != nil {
		if err := l.sink.RecordOutcome(o); err != nil {
			l.logger.Warn("failed to persist outcome",
				slog.String("source_id", o.SourceID),
				slog.String("error", err.Error()),
			)
		}
	}

	if l.progress != nil {
		l.progress(l.totals)
	}
}

// MarkSubtreeFailed counts a folder whose contents could not be replicated.
// The folder's own failed outcome is recorded separately.
func (l *Ledger) MarkSubtreeFailed() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totals.SubtreesFailed++
}

// SeedFolder records a mapping that already exists (the run's destination
// root, or a folder created by an earlier run). It does not count as
// created and is not sent to the Sink.
func (l *Ledger) SeedFolder(sourceID, destID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.folders[sourceID]; ok {
		return
	}

	l.folders[sourceID] = destID
}

// FolderFor returns the destination folder mapped to sourceID.
func (l *Ledger) FolderFor(sourceID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.folders[sourceID]

	return id, ok
}

// EnsureFolder returns the destination folder for sourceID, calling create
// only when the map has no entry. Concurrent callers for the same source ID
// share one create call, so at most one destination folder is made per
// source folder per run.
func (l *Ledger) EnsureFolder(
	ctx context.Context, sourceID string, create func(context.Context) (string, error),
) (string, error) {
	if id, ok := l.FolderFor(sourceID); ok {
		return id, nil
	}

	v, err, _ := l.creating.Do(sourceID, func() (any, error) {
		if id, ok := l.FolderFor(sourceID); ok {
			return id, nil
		}

		id, createErr := create(ctx)
		if createErr != nil {
			return nil, createErr
		}

		l.mu.Lock()
		defer l.mu.Unlock()

		l.folders[sourceID] = id
		l.totals.FoldersCreated++

		if l.sink != nil {
			if sinkErr := l.sink.RecordFolder(sourceID, id); sinkErr != nil {
				l.logger.Warn("failed to persist folder mapping",
					slog.String("source_id", sourceID),
					slog.String("error", sinkErr.Error()),
				)
			}
		}

		return id, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil //nolint:forcetypeassert // only strings are returned
}

// Snapshot returns the current totals.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.totals
}

// Outcomes returns a copy of every recorded outcome in record order.
func (l *Ledger) Outcomes() []TransferOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]TransferOutcome, len(l.outcomes))
	copy(out, l.outcomes)

	return out
}

// Failures returns the failed outcomes in record order.
func (l *Ledger) Failures() []TransferOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []TransferOutcome

	for i := range l.outcomes {
		if l.outcomes[i].Status == StatusFailed {
			out = append(out, l.outcomes[i])
		}
	}

	return out
}

// Folders returns a copy of the folder map.
func (l *Ledger) Folders() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]string, len(l.folders))
	for k, v := range l.folders {
		out[k] = v
	}

	return out
}
