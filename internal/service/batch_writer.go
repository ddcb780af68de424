package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/logger"
	"github.com/trailhead/trailimport/internal/repository"
	"github.com/trailhead/trailimport/internal/retry"
)

// TrailStore is the write side of the trail table.
type TrailStore interface {
	UpsertTrails(ctx context.Context, records []domain.TrailRecord) (repository.UpsertResult, error)
}

// BatchResult is the outcome of one successful chunk upsert.
type BatchResult struct {
	Inserted int
	Updated  int
}

// BatchEvent is reported after every chunk, successful or not.
type BatchEvent struct {
	Index   int // 1-based
	Total   int
	Size    int
	Result  BatchResult
	Failed  int
	Err     error
	Records []domain.TrailRecord
}

type WriteOptions struct {
	BatchSize   int
	Concurrency int
	WavePause   time.Duration
	// Source labels metrics and log lines.
	Source  string
	OnBatch func(BatchEvent)
}

// WriteSummary totals a WriteAll call. TotalProcessed always equals
// TotalAdded + TotalUpdated + TotalFailed.
type WriteSummary struct {
	TotalProcessed   int
	TotalAdded       int
	TotalUpdated     int
	TotalFailed      int
	Batches          int
	FailedBatches    int
	FatalBatches     int
	PermissionDenied bool
	StoreUnavailable bool
	Errors           []error
}

// Fatal reports whether every chunk was refused by the store for a reason
// retrying cannot fix.
func (s *WriteSummary) Fatal() bool {
	return s.Batches > 0 && s.FatalBatches == s.Batches
}

type BatchWriterConfig struct {
	BatchSize      int
	Concurrency    int
	WavePause      time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultBatchWriterConfig returns the production chunking and retry settings.
func DefaultBatchWriterConfig() BatchWriterConfig {
	return BatchWriterConfig{
		BatchSize:      1000,
		Concurrency:    2,
		WavePause:      100 * time.Millisecond,
		RetryAttempts:  3,
		RetryBaseDelay: 200 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
	}
}

// BatchWriter chunks records and upserts them in concurrent waves.
type BatchWriter struct {
	store   TrailStore
	cfg     BatchWriterConfig
	metrics *Metrics
	logger  *logger.Logger
}

func NewBatchWriter(store TrailStore, cfg BatchWriterConfig, metrics *Metrics, log *logger.Logger) *BatchWriter {
	def := DefaultBatchWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &BatchWriter{
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		logger:  log.WithField(logger.FieldComponent, "batch_writer"),
	}
}

// Options returns WriteOptions filled from the writer's configuration.
func (w *BatchWriter) Options(source string, onBatch func(BatchEvent)) WriteOptions {
	return WriteOptions{
		BatchSize:   w.cfg.BatchSize,
		Concurrency: w.cfg.Concurrency,
		WavePause:   w.cfg.WavePause,
		Source:      source,
		OnBatch:     onBatch,
	}
}

// WriteBatch upserts one chunk, retrying transient store failures with
// exponential backoff. Permission and availability errors are returned
// at once; exhausted retries are reported as ErrPermanentWrite.
func (w *BatchWriter) WriteBatch(ctx context.Context, records []domain.TrailRecord) (BatchResult, error) {
	if len(records) == 0 {
		return BatchResult{}, nil
	}

	var res repository.UpsertResult
	policy := retry.Policy{
		MaxAttempts: w.cfg.RetryAttempts,
		Delay:       retry.Exponential(w.cfg.RetryBaseDelay, w.cfg.RetryMaxDelay),
		Retryable: func(err error) bool {
			return errors.Is(err, domain.ErrTransientWrite)
		},
		OnRetry: func(attempt int, err error) {
			w.metrics.observeRetry()
			logger.FromContext(ctx).WithFields(logger.Fields{
				logger.FieldAttempt: attempt,
				logger.FieldCount:   len(records),
			}).WithError(err).Warn("Chunk upsert failed, retrying")
		},
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		res, err = w.store.UpsertTrails(ctx, records)
		return err
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			return BatchResult{}, fmt.Errorf("%w: %w", domain.ErrPermanentWrite, err)
		}
		return BatchResult{}, err
	}
	return BatchResult{Inserted: res.Inserted, Updated: res.Updated}, nil
}

// WriteAll splits records into chunks of opts.BatchSize and writes them in
// waves of opts.Concurrency. A failed chunk counts all of its records as
// failed without affecting its siblings. Waves are separated by
// opts.WavePause. Cancelling ctx stops further waves; the chunks not
// attempted are counted as failed.
//
// Records sharing a key are collapsed before chunking, last one wins, so
// no key is written by two chunks of the same wave. Each dropped copy is
// counted with the chunk holding its key: updated if that chunk succeeds,
// failed otherwise.
func (w *BatchWriter) WriteAll(ctx context.Context, records []domain.TrailRecord, opts WriteOptions) WriteSummary {
	if opts.BatchSize <= 0 {
		opts.BatchSize = w.cfg.BatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = w.cfg.Concurrency
	}

	unique, dups := dedupeByKey(records)
	chunks := chunk(unique, opts.BatchSize)
	summary := WriteSummary{Batches: len(chunks)}
	if len(chunks) == 0 {
		return summary
	}
	extra := make([]int, len(chunks))
	for i, n := range dups {
		extra[i/opts.BatchSize] += n
	}
	if collapsed := len(records) - len(unique); collapsed > 0 {
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldSource: opts.Source,
			logger.FieldCount:  collapsed,
		}).Debug("Collapsed records sharing a key")
	}

	var mu sync.Mutex
	record := func(ev BatchEvent) {
		mu.Lock()
		summary.TotalProcessed += ev.Size
		summary.TotalAdded += ev.Result.Inserted
		summary.TotalUpdated += ev.Result.Updated
		summary.TotalFailed += ev.Failed
		if ev.Err != nil {
			summary.FailedBatches++
			summary.Errors = append(summary.Errors, fmt.Errorf("batch %d/%d: %w", ev.Index, ev.Total, ev.Err))
			switch {
			case errors.Is(ev.Err, domain.ErrPermission):
				summary.PermissionDenied = true
				summary.FatalBatches++
			case errors.Is(ev.Err, domain.ErrStoreUnavailable):
				summary.StoreUnavailable = true
				summary.FatalBatches++
			}
		}
		mu.Unlock()
		if opts.OnBatch != nil {
			opts.OnBatch(ev)
		}
	}

	log := logger.FromContext(ctx)
	for start := 0; start < len(chunks); start += opts.Concurrency {
		if start > 0 && opts.WavePause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.WavePause):
			}
		}

		end := start + opts.Concurrency
		if end > len(chunks) {
			end = len(chunks)
		}

		if err := ctx.Err(); err != nil {
			for i := start; i < len(chunks); i++ {
				n := len(chunks[i]) + extra[i]
				record(BatchEvent{Index: i + 1, Total: len(chunks), Size: n, Failed: n, Err: err, Records: chunks[i]})
			}
			break
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				batch := chunks[i]
				ev := BatchEvent{Index: i + 1, Total: len(chunks), Size: len(batch) + extra[i], Records: batch}

				res, err := w.WriteBatch(ctx, batch)
				if err != nil {
					ev.Err = err
					ev.Failed = ev.Size
					w.metrics.observeChunkFailure(errorClass(err))
					log.WithFields(logger.Fields{
						logger.FieldSource: opts.Source,
						logger.FieldBatch:  ev.Index,
						logger.FieldCount:  len(batch),
					}).WithError(err).Error("Chunk write failed")
				} else {
					ev.Result = res
					ev.Result.Updated += extra[i]
				}
				w.metrics.observeChunk(opts.Source, ev.Result, ev.Failed)
				record(ev)
			}(i)
		}
		wg.Wait()
	}

	return summary
}

// dedupeByKey keeps the last record per key at the position of the key's
// first occurrence. dups[i] is the number of earlier copies out[i] replaced.
func dedupeByKey(records []domain.TrailRecord) (out []domain.TrailRecord, dups []int) {
	index := make(map[string]int, len(records))
	out = make([]domain.TrailRecord, 0, len(records))
	dups = make([]int, 0, len(records))
	for _, rec := range records {
		if i, ok := index[rec.Key()]; ok {
			out[i] = rec
			dups[i]++
			continue
		}
		index[rec.Key()] = len(out)
		out = append(out, rec)
		dups = append(dups, 0)
	}
	return out, dups
}

func chunk(records []domain.TrailRecord, size int) [][]domain.TrailRecord {
	if size <= 0 {
		size = len(records)
	}
	var out [][]domain.TrailRecord
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[start:end])
	}
	return out
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, domain.ErrPermission):
		return "permission"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrPermanentWrite):
		return "exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
