package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docdigest/constants"
	"docdigest/internal/common"
	"docdigest/internal/llm"
)

// VisionBackend rasterizes each page with pdftoppm and sends the images to a
// vision model for transcription, then summarizes the combined text. Used for
// scanned documents where the PDF carries no embedded text.
type VisionBackend struct {
	recognizer llm.PageRecognizer
	summarizer llm.Summarizer
	runner     Runner
	cfg        common.RasterConfig
	log        *slog.Logger
}

func NewVisionBackend(recognizer llm.PageRecognizer, summarizer llm.Summarizer, runner Runner, cfg common.RasterConfig, logger *slog.Logger) *VisionBackend {
	if runner == nil {
		runner = NewRunner()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionBackend{
		recognizer: recognizer,
		summarizer: summarizer,
		runner:     runner,
		cfg:        cfg,
		log:        logger,
	}
}

func (b *VisionBackend) Process(ctx context.Context, data []byte, progress ProgressFunc) (Result, error) {
	if progress == nil {
		progress = func(int, string) {}
	}

	tmpDir, err := os.MkdirTemp("", "dd-pp-*")
	if err != nil {
		return Result{}, fmt.Errorf("temp dir: %w", err)
	}
	defer func(path string) {
		if err := os.RemoveAll(path); err != nil {
			b.log.Warn("extract.vision.tmp_cleanup_failed", "path", path, "error", err)
		}
	}(tmpDir)

	in := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return Result{}, fmt.Errorf("write pdf: %w", err)
	}

	progress(constants.StepExtract, "rendering pages")

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := b.runner.Run(ctx, b.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", b.cfg.DPI), "-png", in, prefix)
	if err != nil {
		return Result{}, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 1<<10))
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if b.cfg.MaxPages > 0 && len(matches) > b.cfg.MaxPages {
		b.log.Warn("extract.vision.pages_capped", "rendered", len(matches), "max", b.cfg.MaxPages)
		matches = matches[:b.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return Result{}, fmt.Errorf("%w: pdftoppm produced no images", ErrUnprocessable)
	}

	var buf strings.Builder
	for i, img := range matches {
		page := i + 1
		progress(constants.StepExtract, fmt.Sprintf("recognizing page %d/%d", page, len(matches)))

		png, err := os.ReadFile(img)
		if err != nil {
			return Result{}, fmt.Errorf("read page image %d: %w", page, err)
		}
		text, err := b.recognizer.RecognizePage(ctx, png, page)
		if err != nil {
			return Result{}, fmt.Errorf("recognize page %d: %w", page, err)
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\f\n") // keep a clear page break marker
		}
		buf.WriteString(text)
	}

	content := strings.TrimSpace(buf.String())
	if content == "" {
		return Result{}, fmt.Errorf("%w: vision model returned no text", ErrUnprocessable)
	}
	b.log.Info("extract.vision.ok", "pages", len(matches), "content_bytes", len(content))

	progress(constants.StepSummarize, constants.StepDescription(constants.StepSummarize))
	digest, err := b.summarizer.Summarize(ctx, content)
	if err != nil {
		return Result{}, fmt.Errorf("summarize: %w", err)
	}

	progress(constants.StepFinalize, constants.StepDescription(constants.StepFinalize))
	return Result{Content: content, Summary: digest.Summary, Pages: len(matches)}, nil
}
