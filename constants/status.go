package constants

// DocState is the canonical top-level state for a document record.
type DocState string

// Stable values (store these exact strings in Redis).
const (
	StateQueued     DocState = "queued"     // submitted, not yet claimed
	StateProcessing DocState = "processing" // claimed by a worker
	StateCompleted  DocState = "completed"  // terminal success
	StateError      DocState = "error"      // terminal failure
)

// Terminal reports whether the state admits no further transition.
func (s DocState) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// Pipeline sub-steps, reported through current_step while processing.
// On completion current_step is set to TotalSteps.
const (
	StepDecode    = 0
	StepExtract   = 1
	StepSummarize = 2
	StepFinalize  = 3

	TotalSteps = 4
)

// StepDescription returns the progress message used for a pipeline step.
func StepDescription(step int) string {
	switch step {
	case StepDecode:
		return "decoding document"
	case StepExtract:
		return "extracting text"
	case StepSummarize:
		return "generating summary"
	case StepFinalize:
		return "finalizing"
	default:
		return "processing"
	}
}
