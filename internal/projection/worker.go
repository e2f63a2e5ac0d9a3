package projection

import (
	"context"
	"time"

	"MarginIndexer/internal/core"
	"MarginIndexer/internal/observability"

	"github.com/rs/zerolog"
)

// Worker drains core outputs and batch-writes balance history. The indexer
// sends to its channel without blocking, so a slow sink drops outputs
// instead of stalling ingestion; history is eventually consistent.
type Worker struct {
	sink         Sink
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewWorker(
	sink Sink,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Worker {
	if batchSize <= 0 {
		batchSize = 256
	}
	if flushTimeout <= 0 {
		flushTimeout = 200 * time.Millisecond
	}
	return &Worker{
		sink:         sink,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches outputs and flushes when the batch is full or the flush
// timeout expires. Blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]Row, 0, w.batchSize)
	var (
		watermark int64
		pending   bool
	)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) {
		if !pending {
			return
		}
		w.flushWithRetry(ctx, batch, watermark)
		batch = batch[:0]
		pending = false
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background())
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				flush(context.Background())
				return nil
			}
			batch = append(batch, RowsFromOutput(out)...)
			watermark = out.Envelope.Sequence
			pending = true

			if len(batch) >= w.batchSize {
				flush(ctx)
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			flush(ctx)
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt is made.
func (w *Worker) flushWithRetry(ctx context.Context, rows []Row, watermark int64) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("rows", len(rows)).Msg("projection retry")
			select {
			case <-ctx.Done():
				if err := w.write(context.Background(), rows, watermark); err != nil {
					w.logger.Error().Err(err).Int64("watermark", watermark).Msg("final projection flush failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.write(ctx, rows, watermark)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("projection flush succeeded")
			}
			return
		}
		w.logger.Warn().Err(err).Msg("projection flush failed")
	}
}

func (w *Worker) write(ctx context.Context, rows []Row, watermark int64) error {
	if err := w.sink.Write(ctx, rows, watermark); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.ProjectionRows.Add(float64(len(rows)))
		w.metrics.ProjectionMark.Set(float64(watermark))
	}
	return nil
}
