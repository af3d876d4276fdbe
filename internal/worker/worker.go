package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docdigest/constants"
	"docdigest/internal/common"
	"docdigest/internal/extract"
	"docdigest/internal/metrics"
	"docdigest/internal/queue"
	"docdigest/internal/status"
)

// Backends maps each processing mode to its backend. Both modes must be
// wired; an entry whose mode has no backend fails terminally.
type Backends map[constants.Mode]extract.Backend

// Worker claims one entry at a time and drives it to a terminal status.
// Delivery is at-least-once, so every step tolerates redelivery: status
// writes are idempotent and progress never moves backwards.
type Worker struct {
	queue    queue.Queue
	store    status.Store
	backends Backends
	cfg      common.WorkerConfig
	consumer string
	log      *slog.Logger
}

func New(q queue.Queue, store status.Store, backends Backends, cfg common.WorkerConfig, consumer string, logger *slog.Logger) *Worker {
	if cfg.ClaimBlock <= 0 {
		cfg.ClaimBlock = time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryPolicy == "" {
		cfg.RetryPolicy = common.RetryPolicyRetry
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:    q,
		store:    store,
		backends: backends,
		cfg:      cfg,
		consumer: consumer,
		log:      logger.With("consumer", consumer),
	}
}

// Run claims and processes entries until ctx is cancelled. Queue errors are
// retried with exponential backoff rather than crashing the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker.start",
		"retry_policy", w.cfg.RetryPolicy,
		"max_attempts", w.cfg.MaxAttempts,
	)

	backoff := w.cfg.BackoffBase
	for {
		if ctx.Err() != nil {
			w.log.Info("worker.stop")
			return ctx.Err()
		}

		entries, err := w.queue.Claim(ctx, w.consumer, 1, w.cfg.ClaimBlock)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("worker.stop")
				return ctx.Err()
			}
			w.log.Error("worker.claim.failed", "error", err, "backoff", backoff.String())
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, w.cfg.BackoffMax)
			continue
		}
		backoff = w.cfg.BackoffBase

		for _, e := range entries {
			w.handle(ctx, e)
		}
	}
}

// handle drives one claimed entry to either an ack or a deliberate non-ack.
func (w *Worker) handle(ctx context.Context, e queue.Entry) {
	start := time.Now()
	log := w.log.With("entry_id", e.ID, "doc_id", e.DocumentID)
	log.Info("worker.entry.claimed", "mode", string(e.Mode))

	// A redelivered entry whose document already reached a terminal state
	// means a previous attempt finished but its ack was lost. Ack and move
	// on; the terminal record must not be reopened or overwritten.
	if rec, err := w.store.Get(ctx, e.DocumentID); err == nil && rec.State.Terminal() {
		log.Info("worker.entry.already_terminal", "state", string(rec.State))
		if err := w.queue.Ack(ctx, e.ID); err != nil {
			log.Error("worker.entry.ack_failed", "error", err)
		}
		return
	}

	w.progress(ctx, e.DocumentID, constants.StepDecode, constants.StepDescription(constants.StepDecode))

	data, err := queue.DecodePayload(e.Encoded)
	if err != nil {
		log.Error("worker.entry.decode_failed", "error", err)
		w.failTerminal(ctx, e, "invalid payload encoding", "decode", start)
		return
	}

	backend, ok := w.backends[e.Mode]
	if !ok {
		log.Error("worker.entry.unknown_mode", "mode", string(e.Mode))
		w.failTerminal(ctx, e, fmt.Sprintf("unknown processing mode %q", e.Mode), "unknown_mode", start)
		return
	}

	sink := func(step int, message string) {
		w.progress(ctx, e.DocumentID, step, message)
	}

	res, err := backend.Process(ctx, data, sink)
	if err != nil {
		w.handleFailure(ctx, e, err, start)
		return
	}

	if err := w.store.Complete(ctx, e.DocumentID, res.Content, res.Summary); err != nil {
		// Leave the entry pending; redelivery will reprocess and write the
		// terminal status then.
		log.Error("worker.entry.complete_write_failed", "error", err)
		metrics.EntriesRetried.Inc()
		return
	}
	if err := w.queue.Ack(ctx, e.ID); err != nil {
		log.Error("worker.entry.ack_failed", "error", err)
		return
	}

	metrics.DocumentsCompleted.WithLabelValues(string(e.Mode)).Inc()
	metrics.ProcessingDuration.WithLabelValues(string(e.Mode), "completed").Observe(time.Since(start).Seconds())
	log.Info("worker.entry.completed",
		"pages", res.Pages,
		"content_bytes", len(res.Content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}

// handleFailure decides between terminal failure, bounded retry, and
// dead-lettering for a backend error.
func (w *Worker) handleFailure(ctx context.Context, e queue.Entry, procErr error, start time.Time) {
	log := w.log.With("entry_id", e.ID, "doc_id", e.DocumentID)

	if errors.Is(procErr, extract.ErrUnprocessable) {
		log.Warn("worker.entry.unprocessable", "error", procErr)
		w.failTerminal(ctx, e, procErr.Error(), "unprocessable", start)
		return
	}

	if w.cfg.RetryPolicy == common.RetryPolicyAck {
		log.Error("worker.entry.failed", "error", procErr)
		w.failTerminal(ctx, e, procErr.Error(), "backend", start)
		return
	}

	deliveries, err := w.queue.Deliveries(ctx, e.ID)
	if err != nil {
		log.Error("worker.entry.deliveries_lookup_failed", "error", err)
		deliveries = int64(w.cfg.MaxAttempts) // fail safe: stop retrying blind
	}

	if deliveries < int64(w.cfg.MaxAttempts) {
		// Deliberately not acked: the entry stays pending and will be
		// reclaimed after the idle threshold.
		log.Warn("worker.entry.retry_scheduled",
			"error", procErr,
			"delivery", deliveries,
			"max_attempts", w.cfg.MaxAttempts,
		)
		metrics.EntriesRetried.Inc()
		return
	}

	log.Error("worker.entry.attempts_exhausted",
		"error", procErr,
		"delivery", deliveries,
		"max_attempts", w.cfg.MaxAttempts,
	)
	if err := w.store.Fail(ctx, e.DocumentID, procErr.Error()); err != nil {
		log.Error("worker.entry.fail_write_failed", "error", err)
	}
	if err := w.queue.DeadLetter(ctx, e, procErr.Error()); err != nil {
		log.Error("worker.entry.dead_letter_failed", "error", err)
		return
	}
	metrics.EntriesDeadLettered.Inc()
	metrics.DocumentsFailed.WithLabelValues(string(e.Mode), "attempts_exhausted").Inc()
	metrics.ProcessingDuration.WithLabelValues(string(e.Mode), "error").Observe(time.Since(start).Seconds())
}

// failTerminal writes the error status and acks so the entry is never
// redelivered. Used for failures that are deterministic for the entry.
func (w *Worker) failTerminal(ctx context.Context, e queue.Entry, msg, reason string, start time.Time) {
	if err := w.store.Fail(ctx, e.DocumentID, msg); err != nil {
		w.log.Error("worker.entry.fail_write_failed", "entry_id", e.ID, "doc_id", e.DocumentID, "error", err)
	}
	if err := w.queue.Ack(ctx, e.ID); err != nil {
		w.log.Error("worker.entry.ack_failed", "entry_id", e.ID, "error", err)
	}
	metrics.DocumentsFailed.WithLabelValues(string(e.Mode), reason).Inc()
	metrics.ProcessingDuration.WithLabelValues(string(e.Mode), "error").Observe(time.Since(start).Seconds())
}

// progress failures are logged and swallowed: losing a progress update must
// not fail the document.
func (w *Worker) progress(ctx context.Context, docID string, step int, message string) {
	if err := w.store.Progress(ctx, docID, step, message); err != nil {
		w.log.Warn("worker.progress.write_failed", "doc_id", docID, "step", step, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
