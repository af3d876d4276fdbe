package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdigest/constants"
	"docdigest/internal/common"
	"docdigest/internal/llm"
)

// fakeRunner pretends to be pdftoppm: it drops n page images next to the
// output prefix given as the last argument.
type fakeRunner struct {
	pages int
	err   error
}

func (f fakeRunner) Run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	if f.err != nil {
		return nil, []byte("render error"), f.err
	}
	prefix := args[len(args)-1]
	for i := 1; i <= f.pages; i++ {
		if err := os.WriteFile(fmt.Sprintf("%s-%d.png", prefix, i), []byte(fmt.Sprintf("png-%d", i)), 0o600); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

type fakeRecognizer struct {
	err error
}

func (f fakeRecognizer) RecognizePage(_ context.Context, image []byte, page int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("text of page %d (%s)", page, image), nil
}

type fakeSummarizer struct {
	digest llm.Digest
	err    error
	gotLen int
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (llm.Digest, error) {
	f.gotLen = len(text)
	if f.err != nil {
		return llm.Digest{}, f.err
	}
	return f.digest, nil
}

func TestVisionBackendProcess(t *testing.T) {
	sum := &fakeSummarizer{digest: llm.Digest{Summary: "a scanned contract"}}
	b := NewVisionBackend(fakeRecognizer{}, sum, fakeRunner{pages: 2}, common.RasterConfig{}, nil)

	var steps []int
	res, err := b.Process(context.Background(), []byte("%PDF-"), func(step int, _ string) {
		steps = append(steps, step)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pages)
	assert.Contains(t, res.Content, "text of page 1 (png-1)")
	assert.Contains(t, res.Content, "text of page 2 (png-2)")
	assert.Contains(t, res.Content, "\f", "pages separated by a page break marker")
	assert.Equal(t, "a scanned contract", res.Summary)
	assert.Positive(t, sum.gotLen)

	assert.Contains(t, steps, constants.StepExtract)
	assert.Contains(t, steps, constants.StepSummarize)
	assert.Contains(t, steps, constants.StepFinalize)
}

func TestVisionBackendMaxPagesCap(t *testing.T) {
	sum := &fakeSummarizer{digest: llm.Digest{Summary: "s"}}
	b := NewVisionBackend(fakeRecognizer{}, sum, fakeRunner{pages: 5}, common.RasterConfig{MaxPages: 2}, nil)

	res, err := b.Process(context.Background(), []byte("%PDF-"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.NotContains(t, res.Content, "page 3")
}

func TestVisionBackendNoPagesRendered(t *testing.T) {
	b := NewVisionBackend(fakeRecognizer{}, &fakeSummarizer{}, fakeRunner{pages: 0}, common.RasterConfig{}, nil)

	_, err := b.Process(context.Background(), []byte("%PDF-"), nil)
	assert.ErrorIs(t, err, ErrUnprocessable)
}

func TestVisionBackendRenderFailure(t *testing.T) {
	boom := errors.New("exit status 1")
	b := NewVisionBackend(fakeRecognizer{}, &fakeSummarizer{}, fakeRunner{err: boom}, common.RasterConfig{}, nil)

	_, err := b.Process(context.Background(), []byte("%PDF-"), nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnprocessable, "render failures stay retryable")
}

func TestVisionBackendRecognizerFailure(t *testing.T) {
	boom := errors.New("rate limited")
	b := NewVisionBackend(fakeRecognizer{err: boom}, &fakeSummarizer{}, fakeRunner{pages: 1}, common.RasterConfig{}, nil)

	_, err := b.Process(context.Background(), []byte("%PDF-"), nil)
	assert.ErrorIs(t, err, boom)
}

func TestVisionBackendSummarizerFailure(t *testing.T) {
	boom := errors.New("upstream down")
	b := NewVisionBackend(fakeRecognizer{}, &fakeSummarizer{err: boom}, fakeRunner{pages: 1}, common.RasterConfig{}, nil)

	_, err := b.Process(context.Background(), []byte("%PDF-"), nil)
	assert.ErrorIs(t, err, boom)
}

func TestTextBackendRejectsCorruptPDF(t *testing.T) {
	b := NewTextBackend(&fakeSummarizer{}, nil)

	_, err := b.Process(context.Background(), []byte("not a pdf at all"), nil)
	assert.ErrorIs(t, err, ErrUnprocessable)
}
