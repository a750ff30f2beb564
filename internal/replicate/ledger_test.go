package replicate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu       sync.Mutex
	outcomes []TransferOutcome
	folders  map[string]string
	err      error
}

func (s *memorySink) RecordOutcome(o TransferOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes = append(s.outcomes, o)

	return s.err
}

func (s *memorySink) RecordFolder(sourceID, destID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.folders == nil {
		s.folders = make(map[string]string)
	}

	s.folders[sourceID] = destID

	return s.err
}

func TestLedger_RecordTotals(t *testing.T) {
	l := NewLedger(slog.Default())

	l.Record(TransferOutcome{SourceID: "a", Kind: KindFile, Status: StatusSuccess, Bytes: 10})
	l.Record(TransferOutcome{SourceID: "b", Kind: KindSpecial, Status: StatusRetriedSuccess, Bytes: 4, FellBack: true})
	l.Record(TransferOutcome{SourceID: "c", Kind: KindFile, Status: StatusFailed, Reason: ReasonAccessDenied})
	l.Record(TransferOutcome{SourceID: "d", Kind: KindFile, Status: StatusSkipped, Reason: ReasonShortcut})
	l.Record(TransferOutcome{SourceID: "e", Kind: KindFile, Status: StatusNotAttempted, Reason: ReasonCanceled})
	l.Record(TransferOutcome{SourceID: "f", Kind: KindFolder, Status: StatusSuccess})

	snap := l.Snapshot()
	assert.Equal(t, 2, snap.Copied)
	assert.Equal(t, int64(14), snap.Bytes)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.Skipped)
	assert.Equal(t, 1, snap.NotAttempted)
	assert.Equal(t, 1, snap.Special)
	assert.Equal(t, 1, snap.FellBack)
	assert.Equal(t, 6, snap.Items)

	failures := l.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "c", failures[0].SourceID)

	assert.Len(t, l.Outcomes(), 6)
}

func TestLedger_RecordedAtFromClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := NewLedger(slog.Default(), WithLedgerClock(clock))

	l.Record(TransferOutcome{SourceID: "a", Status: StatusSuccess})

	assert.Equal(t, clock.Now(), l.Outcomes()[0].RecordedAt)
}

func TestLedger_SinkAndProgress(t *testing.T) {
	sink := &memorySink{}

	var snaps []Snapshot

	l := NewLedger(slog.Default(), WithSink(sink), WithProgress(func(s Snapshot) {
		snaps = append(snaps, s)
	}))

	l.Record(TransferOutcome{SourceID: "a", Kind: KindFile, Status: StatusSuccess, Bytes: 3})
	l.Record(TransferOutcome{SourceID: "b", Kind: KindFile, Status: StatusFailed})

	require.Len(t, snaps, 2)
	assert.Equal(t, 1, snaps[0].Items)
	assert.Equal(t, 2, snaps[1].Items)
	assert.Len(t, sink.outcomes, 2)
}

func TestLedger_SinkErrorDoesNotLoseOutcome(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	l := NewLedger(slog.Default(), WithSink(sink))

	l.Record(TransferOutcome{SourceID: "a", Status: StatusSuccess})

	assert.Equal(t, 1, l.Snapshot().Items)
}

func TestLedger_EnsureFolderCreatesOnce(t *testing.T) {
	sink := &memorySink{}
	l := NewLedger(slog.Default(), WithSink(sink))

	calls := 0
	create := func(context.Context) (string, error) {
		calls++
		return "dst-1", nil
	}

	id, err := l.EnsureFolder(context.Background(), "src-1", create)
	require.NoError(t, err)
	assert.Equal(t, "dst-1", id)

	id, err = l.EnsureFolder(context.Background(), "src-1", create)
	require.NoError(t, err)
	assert.Equal(t, "dst-1", id)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, l.Snapshot().FoldersCreated)
	assert.Equal(t, map[string]string{"src-1": "dst-1"}, sink.folders)
}

func TestLedger_EnsureFolderConcurrentCallers(t *testing.T) {
	l := NewLedger(slog.Default())

	var calls atomic.Int32

	release := make(chan struct{})
	create := func(context.Context) (string, error) {
		calls.Add(1)
		<-release

		return "dst-1", nil
	}

	const callers = 8

	var wg sync.WaitGroup

	ids := make([]string, callers)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			id, err := l.EnsureFolder(context.Background(), "src-1", create)
			assert.NoError(t, err)

			ids[i] = id
		}()
	}

	// Give the callers time to pile up behind the first create.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, l.Snapshot().FoldersCreated)

	for _, id := range ids {
		assert.Equal(t, "dst-1", id)
	}
}

func TestLedger_EnsureFolderErrorNotCached(t *testing.T) {
	l := NewLedger(slog.Default())

	_, err := l.EnsureFolder(context.Background(), "src-1", func(context.Context) (string, error) {
		return "", errors.New("boom")
	})
	require.Error(t, err)

	_, ok := l.FolderFor("src-1")
	assert.False(t, ok)
	assert.Equal(t, 0, l.Snapshot().FoldersCreated)
}

func TestLedger_SeedFolderNotCounted(t *testing.T) {
	sink := &memorySink{}
	l := NewLedger(slog.Default(), WithSink(sink))

	l.SeedFolder("root", "dest")
	l.SeedFolder("root", "other")

	id, err := l.EnsureFolder(context.Background(), "root", func(context.Context) (string, error) {
		t.Fatal("create called for seeded folder")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "dest", id)
	assert.Equal(t, 0, l.Snapshot().FoldersCreated)
	assert.Empty(t, sink.folders)
	assert.Equal(t, map[string]string{"root": "dest"}, l.Folders())
}

func TestLedger_ConcurrentRecord(t *testing.T) {
	l := NewLedger(slog.Default())

	var wg sync.WaitGroup

	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			l.Record(TransferOutcome{Kind: KindFile, Status: StatusSuccess, Bytes: 2})
		}()
	}

	wg.Wait()

	snap := l.Snapshot()
	assert.Equal(t, 50, snap.Copied)
	assert.Equal(t, int64(100), snap.Bytes)
}
