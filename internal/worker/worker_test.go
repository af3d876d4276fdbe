package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdigest/constants"
	"docdigest/internal/common"
	"docdigest/internal/extract"
	"docdigest/internal/queue"
	"docdigest/internal/status"
)

// scriptedBackend returns the queued responses in order, repeating the last
// one when exhausted.
type scriptedBackend struct {
	results []extract.Result
	errs    []error
	calls   int
}

func (b *scriptedBackend) Process(_ context.Context, _ []byte, progress extract.ProgressFunc) (extract.Result, error) {
	i := b.calls
	if i >= len(b.errs) {
		i = len(b.errs) - 1
	}
	b.calls++
	if b.errs[i] != nil {
		return extract.Result{}, b.errs[i]
	}
	if progress != nil {
		progress(constants.StepExtract, "extracting text")
		progress(constants.StepSummarize, "generating summary")
	}
	return b.results[i], nil
}

type harness struct {
	worker *Worker
	queue  *queue.RedisQueue
	store  *status.RedisStore
	client *redis.Client
}

func newHarness(t *testing.T, cfg common.WorkerConfig, backend extract.Backend) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := queue.NewRedisQueue(context.Background(), client, queue.Options{
		Stream: "documents",
		Group:  "doc-workers",
	}, nil)
	require.NoError(t, err)

	st := status.NewRedisStore(client, nil)
	backends := Backends{
		constants.ModeTextExtraction: backend,
		constants.ModeVisionOCR:      backend,
	}
	return &harness{
		worker: New(q, st, backends, cfg, "test-worker", nil),
		queue:  q,
		store:  st,
		client: client,
	}
}

// submit mimics the producer: record first, then queue entry, then a claim.
func (h *harness) submit(t *testing.T, docID string, payload []byte) queue.Entry {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.Create(ctx, docID, status.Meta{Mode: constants.ModeTextExtraction}))
	_, err := h.queue.Append(ctx, queue.Entry{
		DocumentID: docID,
		Payload:    payload,
		Mode:       constants.ModeTextExtraction,
	})
	require.NoError(t, err)

	entries, err := h.queue.Claim(ctx, "test-worker", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestHandleCompletesDocument(t *testing.T) {
	backend := &scriptedBackend{
		results: []extract.Result{{Content: "full text", Summary: "short digest", Pages: 3}},
		errs:    []error{nil},
	}
	h := newHarness(t, common.WorkerConfig{}, backend)
	ctx := context.Background()

	e := h.submit(t, "doc-1", []byte("%PDF-1.7"))
	h.worker.handle(ctx, e)

	rec, err := h.store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, constants.StateCompleted, rec.State)
	assert.Equal(t, "full text", rec.Content)
	assert.Equal(t, "short digest", rec.Summary)
	assert.Equal(t, constants.TotalSteps, rec.CurrentStep)

	n, err := h.queue.Deliveries(ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "entry acked after completion")
}

func TestHandleDecodeFailureIsTerminal(t *testing.T) {
	backend := &scriptedBackend{results: []extract.Result{{}}, errs: []error{nil}}
	h := newHarness(t, common.WorkerConfig{}, backend)
	ctx := context.Background()

	e := h.submit(t, "doc-1", []byte("%PDF-1.7"))
	e.Encoded = "not hex"
	h.worker.handle(ctx, e)

	rec, err := h.store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, constants.StateError, rec.State)
	assert.Equal(t, "invalid payload encoding", rec.Error)
	assert.Zero(t, backend.calls, "backend never invoked")

	n, err := h.queue.Deliveries(ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "poisoned entry acked, not retried")
}

func TestHandleUnknownModeIsTerminal(t *testing.T) {
	backend := &scriptedBackend{results: []extract.Result{{}}, errs: []error{nil}}
	h := newHarness(t, common.WorkerConfig{}, backend)
	ctx := context.Background()

	e := h.submit(t, "doc-1", []byte("%PDF-1.7"))
	e.Mode = constants.Mode("telepathy")
	h.worker.handle(ctx, e)

	rec, err := h.store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, constants.StateError, rec.State)
	assert.Contains(t, rec.Error, "unknown processing mode")
	assert.Zero(t, backend.calls)
}

func TestHandleRetriesThenSucceeds(t *testing.T) {
	backend := &scriptedBackend{
		results: []extract.Result{{}, {Content: "text", Summary: "digest"}},
		errs:    []error{errors.New("model timeout"), nil},
	}
	h := newHarness(t, common.WorkerConfig{MaxAttempts: 3}, backend)
	ctx := context.Background()

	e := h.submit(t, "doc-1", []byte("%PDF-1.7"))
	h.worker.handle(ctx, e)

	// First attempt failed transiently: not acked, not terminal.
	n, err := h.queue.Deliveries(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	rec, err := h.store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, rec.State.Terminal())

	// Redelivery succeeds.
	entries, err := h.queue.Claim(ctx, "test-worker", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	h.worker.handle(ctx, entries[0])

	rec, err = h.store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, constants.StateCompleted, rec.State)
	assert.Equal(t, 2, backend.calls)
}

func TestHandleExhaustedAttemptsDeadLetters(t *testing.T) {
	backend := &scriptedBackend{
		results: []extract.Result{{}},
		errs:    []error{errors.New("model down")},
	}
	h := newHarness(t, common.WorkerConfig{MaxAttempts: 1}, backend)
	ctx := context.Background()

	e := h.submit(t, "doc-1", []byte("%PDF-1.7"))
	h.worker.handle(ctx, e)

	rec, err := h.store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, constants.StateError, rec.State)
	assert.Equal(t, "model down", rec.Error)

	// Acked on the work stream, preserved on the dead stream.
	n, err := h.queue.Deliveries(ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	msgs, err := h.client.XRange(ctx, "documents.dead", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "doc-1", msgs[0].Values["doc_id"])
}

func TestHandleAckPolicyFailsImmediately(t *testing.T) {
	backend := &scriptedBackend{
		results: []extract.Result{{}},
		errs:    []error{errors.New("model timeout")},
	}
	h := newHarness(t, common.WorkerConfig{RetryPolicy: common.RetryPolicyAck, MaxAttempts: 5}, backend)
	ctx := context.Background()

	e := h.submit(t, "doc-1", []byte("%PDF-1.7"))
	h.worker.handle(ctx, e)

	rec, err := h.store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, constants.StateError, rec.State)

	n, err := h.queue.Deliveries(ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "acked on first failure under the ack policy")
	assert.Equal(t, 1, backend.calls)
}

func TestHandleUnprocessableSkipsRetry(t *testing.T) {
	backend := &scriptedBackend{
		results: []extract.Result{{}},
		errs:    []error{fmt.Errorf("%w: no extractable text", extract.ErrUnprocessable)},
	}
	h := newHarness(t, common.WorkerConfig{MaxAttempts: 5}, backend)
	ctx := context.Background()

	e := h.submit(t, "doc-1", []byte("%PDF-1.7"))
	h.worker.handle(ctx, e)

	rec, err := h.store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, constants.StateError, rec.State)
	assert.Contains(t, rec.Error, "no extractable text")

	n, err := h.queue.Deliveries(ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "deterministic failures are not retried")
}

func TestHandleRedeliveryAfterLostAck(t *testing.T) {
	backend := &scriptedBackend{
		results: []extract.Result{{Content: "text", Summary: "digest"}},
		errs:    []error{nil},
	}
	h := newHarness(t, common.WorkerConfig{}, backend)
	ctx := context.Background()

	e := h.submit(t, "doc-1", []byte("%PDF-1.7"))

	// Simulate a crash between Complete and Ack: the terminal status is
	// written but the entry stays pending and gets redelivered.
	require.NoError(t, h.store.Complete(ctx, "doc-1", "text", "digest"))
	h.worker.handle(ctx, e)

	rec, err := h.store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, constants.StateCompleted, rec.State)
	assert.Equal(t, "text", rec.Content)
	assert.Zero(t, backend.calls, "terminal documents are not reprocessed")

	n, err := h.queue.Deliveries(ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "redelivered entry acked")
}

func TestRunStopsOnCancel(t *testing.T) {
	backend := &scriptedBackend{results: []extract.Result{{}}, errs: []error{nil}}
	h := newHarness(t, common.WorkerConfig{ClaimBlock: 10 * time.Millisecond}, backend)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
