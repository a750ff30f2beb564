package replicate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/gdrive-replicate/internal/gdrive"
	"github.com/tonimelisma/gdrive-replicate/internal/retry"
)

// DefaultChunkSize is the stream-copy chunk size.
const DefaultChunkSize = 8 * 1024 * 1024

// maxStalledChunks bounds consecutive chunk PUTs that commit nothing.
const maxStalledChunks = 3

// errUploadStalled is returned when the server keeps committing nothing.
var errUploadStalled = errors.New("replicate: upload made no progress")

// DryRunIDPrefix marks destination IDs invented by a dry run.
const DryRunIDPrefix = "dry-run:"

// Strategist executes one TransferPlan: server-side duplicate first, one
// stream copy if the duplicate is refused for permission reasons.
type Strategist struct {
	remote    Remote
	inv       *retry.Invoker
	limiter   *BandwidthLimiter
	chunkSize int64
	dryRun    bool
	logger    *slog.Logger
}

// NewStrategist creates a Strategist. chunkSize <= 0 selects
// DefaultChunkSize; limiter may be nil.
func NewStrategist(
	remote Remote, inv *retry.Invoker, limiter *BandwidthLimiter,
	chunkSize int64, dryRun bool, logger *slog.Logger,
) *Strategist {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Strategist{
		remote:    remote,
		inv:       inv,
		limiter:   limiter,
		chunkSize: chunkSize,
		dryRun:    dryRun,
		logger:    logger,
	}
}

// Execute runs plan and returns its outcome. It never returns without an
// outcome; failures are reported in it.
func (s *Strategist) Execute(ctx context.Context, plan *TransferPlan) TransferOutcome {
	out := TransferOutcome{
		SourceID:     plan.SourceID,
		Name:         plan.Name,
		Path:         plan.Path,
		Kind:         plan.Kind,
		DestParentID: plan.DestParentID,
		Strategy:     plan.Strategy,
	}

	if plan.Strategy == StrategySkip {
		out.Status = StatusSkipped
		out.Reason = plan.SkipReason

		return out
	}

	if s.dryRun {
		out.Status = StatusSuccess
		out.DryRun = true
		out.Bytes = plan.Size
		out.DestID = DryRunIDPrefix + plan.SourceID

		return out
	}

	destID, err := s.serverDuplicate(ctx, plan, &out)
	if errors.Is(err, ErrFallbackRequired) {
		s.logger.Info("server duplicate refused, streaming instead",
			slog.String("path", plan.Path),
			slog.String("reason", gdrive.Reason(err)),
		)

		out.Strategy = StrategyStreamCopy
		out.FellBack = true
		destID, err = s.streamCopy(ctx, plan, &out)
	}

	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		out.Reason = reasonFor(err)

		s.logger.Warn("transfer failed",
			slog.String("path", plan.Path),
			slog.String("strategy", string(out.Strategy)),
			slog.String("reason", out.Reason),
			slog.Int("retries", out.Retries),
			slog.String("error", err.Error()),
		)

		return out
	}

	out.DestID = destID
	out.Bytes = plan.Size
	out.Status = StatusSuccess

	if out.Retries > 0 {
		out.Status = StatusRetriedSuccess
	}

	s.logger.Debug("transfer complete",
		slog.String("path", plan.Path),
		slog.String("strategy", string(out.Strategy)),
		slog.Int64("bytes", out.Bytes),
		slog.Int("retries", out.Retries),
	)

	return out
}

// serverDuplicate asks Drive to copy the file. A permission refusal becomes
// ErrFallbackRequired; it is not retried.
func (s *Strategist) serverDuplicate(ctx context.Context, plan *TransferPlan, out *TransferOutcome) (string, error) {
	item, st, err := retry.Call(ctx, s.inv, "copy file", func(ctx context.Context) (*gdrive.Item, error) {
		return s.remote.CopyFile(ctx, plan.SourceID, plan.DestParentID, plan.Name)
	})
	out.Retries += st.Retries

	if err != nil {
		if gdrive.IsPermissionFailure(err) {
			return "", fmt.Errorf("%w: %w", ErrFallbackRequired, err)
		}

		return "", err
	}

	return item.ID, nil
}

// streamCopy reads the source in chunks and writes them to a resumable
// upload session. Each read and each write goes through the Invoker on its
// own; the server's committed offset decides where the next read starts.
// A zero-byte file is one empty final write.
func (s *Strategist) streamCopy(ctx context.Context, plan *TransferPlan, out *TransferOutcome) (string, error) {
	meta, st, err := retry.Call(ctx, s.inv, "get item", func(ctx context.Context) (*gdrive.Item, error) {
		return s.remote.GetItem(ctx, plan.SourceID)
	})
	out.Retries += st.Retries

	if err != nil {
		return "", err
	}

	if meta.IsNative() {
		return "", fmt.Errorf("%w: %s has native type %s", gdrive.ErrNotDownloadable, plan.Name, meta.MimeType)
	}

	session, st, err := retry.Call(ctx, s.inv, "create upload session", func(ctx context.Context) (*gdrive.UploadSession, error) {
		return s.remote.CreateUploadSession(ctx, plan.DestParentID, plan.Name, meta.MimeType, meta.Size)
	})
	out.Retries += st.Retries

	if err != nil {
		return "", err
	}

	var (
		buf     bytes.Buffer
		offset  int64
		stalled int
	)

	for {
		n := min(s.chunkSize, meta.Size-offset)

		buf.Reset()

		if n > 0 {
			st, err = s.inv.Do(ctx, "download range", func(ctx context.Context) error {
				buf.Reset()
				_, readErr := s.remote.DownloadRange(ctx, plan.SourceID, offset, n, s.limiter.WrapWriter(ctx, &buf))

				return readErr
			})
			out.Retries += st.Retries

			if err != nil {
				return "", err
			}
		}

		if err := s.limiter.Wait(ctx, buf.Len()); err != nil {
			return "", fmt.Errorf("replicate: bandwidth wait: %w", err)
		}

		res, st, err := retry.Call(ctx, s.inv, "upload chunk", func(ctx context.Context) (*gdrive.ChunkResult, error) {
			return s.remote.UploadChunk(ctx, session, buf.Bytes(), offset)
		})
		out.Retries += st.Retries

		if err != nil {
			return "", err
		}

		if res.Done() {
			return res.Item.ID, nil
		}

		if res.Committed <= offset {
			stalled++
			if stalled >= maxStalledChunks {
				return "", fmt.Errorf("%w: %s stuck at byte %d", errUploadStalled, plan.Name, offset)
			}
		} else {
			stalled = 0
		}

		offset = res.Committed
	}
}

// reasonFor maps a terminal error to a reason code.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	case errors.Is(err, gdrive.ErrUnauthorized):
		return ReasonUnauthorized
	case errors.Is(err, gdrive.ErrAccessDenied), errors.Is(err, gdrive.ErrCopyRestricted):
		return ReasonAccessDenied
	case errors.Is(err, gdrive.ErrNotDownloadable):
		return ReasonNotDownloadable
	case errors.Is(err, gdrive.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, gdrive.ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, retry.ErrRetriesExhausted):
		return ReasonTransient
	default:
		return ReasonError
	}
}
