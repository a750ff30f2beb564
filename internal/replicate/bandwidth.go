package replicate

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/time/rate"
)

// burstMultiplier sizes the token bucket relative to the per-second rate.
const burstMultiplier = 2

// BandwidthLimiter caps the aggregate stream-copy throughput of all
// workers. A nil *BandwidthLimiter is unlimited.
type BandwidthLimiter struct {
	limiter *rate.Limiter
}

// NewBandwidthLimiter returns nil when bytesPerSec is 0 or less.
func NewBandwidthLimiter(bytesPerSec int64, logger *slog.Logger) *BandwidthLimiter {
	if bytesPerSec <= 0 {
		return nil
	}

	burst := int(bytesPerSec) * burstMultiplier

	logger.Info("bandwidth limiter enabled",
		slog.Int64("bytes_per_sec", bytesPerSec),
		slog.Int("burst", burst),
	)

	return &BandwidthLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// WrapWriter returns w throttled by the limiter.
func (bl *BandwidthLimiter) WrapWriter(ctx context.Context, w io.Writer) io.Writer {
	if bl == nil {
		return w
	}

	return &rateLimitedWriter{w: w, bl: bl, ctx: ctx}
}

// Wait blocks until n bytes may be sent.
func (bl *BandwidthLimiter) Wait(ctx context.Context, n int) error {
	if bl == nil {
		return nil
	}

	burst := bl.limiter.Burst()

	// WaitN rejects requests larger than the burst.
	for n > 0 {
		take := min(n, burst)

		if err := bl.limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}

type rateLimitedWriter struct {
	w   io.Writer
	bl  *BandwidthLimiter
	ctx context.Context
}

func (w *rateLimitedWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		if waitErr := w.bl.Wait(w.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}
