package extract

import (
	"context"
	"errors"
)

// ErrUnprocessable marks a document that will fail the same way on every
// attempt, such as a PDF with no extractable text. Workers fail these
// terminally instead of retrying.
var ErrUnprocessable = errors.New("document cannot be processed")

// Result is the output of a processing backend.
type Result struct {
	Content string // full extracted text
	Summary string // model-generated digest
	Pages   int    // pages actually processed
}

// ProgressFunc reports pipeline progress while a backend runs. step is one of
// the constants.Step values; message is human-readable.
type ProgressFunc func(step int, message string)

// Backend turns raw PDF bytes into extracted text plus a summary. progress
// may be nil.
type Backend interface {
	Process(ctx context.Context, data []byte, progress ProgressFunc) (Result, error)
}
