package producer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"docdigest/constants"
	"docdigest/internal/common"
	"docdigest/internal/queue"
	"docdigest/internal/status"
)

// Producer validates submissions, writes the initial status record, then
// appends the work entry. The record is written first so a document never
// becomes claimable before it is pollable.
type Producer struct {
	queue queue.Queue
	store status.Store
	log   *slog.Logger
}

func New(q queue.Queue, store status.Store, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{queue: q, store: store, log: logger}
}

// Submit accepts raw PDF bytes plus a processing mode and returns the new
// document ID. Validation failures wrap common.ErrInvalidInput.
func (p *Producer) Submit(ctx context.Context, data []byte, mode constants.Mode, filename string) (string, error) {
	start := time.Now()

	if len(data) == 0 {
		return "", common.NewAppError("EMPTY_UPLOAD", "uploaded file is empty", common.ErrInvalidInput)
	}
	if !constants.IsPDF(data) {
		return "", common.NewAppError("NOT_A_PDF", "uploaded file is not a PDF", common.ErrInvalidInput)
	}
	if _, ok := constants.ParseMode(string(mode)); !ok {
		return "", common.NewAppError("UNKNOWN_MODE", fmt.Sprintf("unknown processing mode %q", mode), common.ErrInvalidInput)
	}

	// Page count is metadata only; a PDF that pdfcpu cannot parse may still
	// rasterize, so failures are not rejections.
	pages := 0
	if n, err := api.PageCount(bytes.NewReader(data), nil); err != nil {
		p.log.Warn("producer.page_count.failed", "filename", filename, "error", err)
	} else {
		pages = n
	}

	docID := uuid.NewString()

	if err := p.store.Create(ctx, docID, status.Meta{
		Mode:     mode,
		Filename: filename,
		Pages:    pages,
	}); err != nil {
		p.log.Error("producer.submit.record_failed", "doc_id", docID, "error", err)
		return "", common.WrapError(err, "create status record")
	}

	entryID, err := p.queue.Append(ctx, queue.Entry{
		DocumentID: docID,
		Payload:    data,
		Mode:       mode,
	})
	if err != nil {
		// The record exists but no work entry does. Leave the record in
		// "queued" so the client sees a stuck submission rather than a 404,
		// and make the orphan visible to operators.
		p.log.Error("producer.append.orphaned_record",
			"doc_id", docID,
			"error", err,
			"hint", "status record exists with no queue entry",
		)
		return "", common.WrapError(err, "append work entry")
	}

	p.log.Info("producer.submit.ok",
		"doc_id", docID,
		"entry_id", entryID,
		"mode", string(mode),
		"filename", filename,
		"size_bytes", len(data),
		"pages", pages,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return docID, nil
}
