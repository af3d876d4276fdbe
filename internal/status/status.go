package status

import (
	"context"
	"time"

	"docdigest/constants"
)

// Record is the durable, queryable state of one submitted document.
// All fields live in a single flat hash keyed by the document ID; every
// write is a whole-field set, never an increment, so redelivered work can
// overwrite safely.
type Record struct {
	DocumentID      string             `json:"document_id"`
	State           constants.DocState `json:"state"`
	ProgressMessage string             `json:"progress_message"`
	CurrentStep     int                `json:"current_step"`
	TotalSteps      int                `json:"total_steps"`
	Content         string             `json:"content,omitempty"`
	Summary         string             `json:"summary,omitempty"`
	Error           string             `json:"error,omitempty"`
	Mode            constants.Mode     `json:"mode"`
	Filename        string             `json:"filename,omitempty"`
	Pages           int                `json:"pages,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Meta carries the submission-time fields the producer records.
type Meta struct {
	Mode     constants.Mode
	Filename string
	Pages    int
}

// Store is the per-document state the client polls and the worker writes.
// The producer creates a record before the matching job entry is appended;
// records are never deleted here.
type Store interface {
	// Create writes a fresh record in state queued, step 0 of TotalSteps.
	Create(ctx context.Context, docID string, meta Meta) error

	// Get returns the record, or common.ErrNotFound when the document id
	// is unknown.
	Get(ctx context.Context, docID string) (Record, error)

	// Progress moves the record to processing with the given step and
	// message. A step lower than the stored one is ignored, keeping
	// current_step monotone across redeliveries.
	Progress(ctx context.Context, docID string, step int, message string) error

	// Complete marks terminal success; content and summary are always
	// written together and current_step is set to total_steps. Idempotent.
	Complete(ctx context.Context, docID, content, summary string) error

	// Fail marks terminal failure with the given error message.
	Fail(ctx context.Context, docID, errMsg string) error

	// List returns every record, for reporting. Order is unspecified.
	List(ctx context.Context) ([]Record, error)
}
