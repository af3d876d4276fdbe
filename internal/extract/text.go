package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	"docdigest/constants"
	"docdigest/internal/llm"
)

// TextBackend extracts embedded text from a digital PDF page by page, then
// asks the summarizer for a digest.
type TextBackend struct {
	summarizer llm.Summarizer
	log        *slog.Logger
}

func NewTextBackend(summarizer llm.Summarizer, logger *slog.Logger) *TextBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextBackend{summarizer: summarizer, log: logger}
}

func (b *TextBackend) Process(ctx context.Context, data []byte, progress ProgressFunc) (Result, error) {
	if progress == nil {
		progress = func(int, string) {}
	}

	reader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		b.log.Warn("extract.text.open_failed", "error", err)
		return Result{}, fmt.Errorf("open pdf: %w: %w", ErrUnprocessable, err)
	}
	numPages, err := reader.GetNumPages()
	if err != nil {
		return Result{}, fmt.Errorf("page count: %w: %w", ErrUnprocessable, err)
	}
	if numPages == 0 {
		return Result{}, fmt.Errorf("%w: pdf has no pages", ErrUnprocessable)
	}

	var buf strings.Builder
	for i := 1; i <= numPages; i++ {
		progress(constants.StepExtract, fmt.Sprintf("extracting text (page %d/%d)", i, numPages))

		page, err := reader.GetPage(i)
		if err != nil {
			return Result{}, fmt.Errorf("get page %d: %w: %w", i, ErrUnprocessable, err)
		}
		ex, err := extractor.New(page)
		if err != nil {
			return Result{}, fmt.Errorf("page %d extractor: %w: %w", i, ErrUnprocessable, err)
		}
		text, err := ex.ExtractText()
		if err != nil {
			return Result{}, fmt.Errorf("extract page %d: %w: %w", i, ErrUnprocessable, err)
		}
		if text != "" {
			if buf.Len() > 0 {
				buf.WriteString("\n\n")
			}
			buf.WriteString(text)
		}
	}

	content := strings.TrimSpace(buf.String())
	if content == "" {
		return Result{}, fmt.Errorf("%w: no extractable text (scanned document?)", ErrUnprocessable)
	}
	b.log.Info("extract.text.ok", "pages", numPages, "content_bytes", len(content))

	progress(constants.StepSummarize, constants.StepDescription(constants.StepSummarize))
	digest, err := b.summarizer.Summarize(ctx, content)
	if err != nil {
		return Result{}, fmt.Errorf("summarize: %w", err)
	}

	progress(constants.StepFinalize, constants.StepDescription(constants.StepFinalize))
	return Result{Content: content, Summary: digest.Summary, Pages: numPages}, nil
}
