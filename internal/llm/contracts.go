package llm

import "context"

// Digest is the normalized shape we want back from the model for a
// document summary.
type Digest struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics,omitempty"`
}

// Summarizer condenses extracted document text into a short digest.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (Digest, error)
}

// PageRecognizer transcribes one rendered page image into plain text.
// Page numbers are 1-based and only used for logging.
type PageRecognizer interface {
	RecognizePage(ctx context.Context, image []byte, page int) (string, error)
}
