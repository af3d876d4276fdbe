package constants

import "bytes"

// Mode selects the processing backend for a submitted document.
type Mode string

const (
	ModeTextExtraction Mode = "text-extraction" // in-process text pull
	ModeVisionOCR      Mode = "vision-ocr"      // page raster + vision model
)

// Modes holds the accepted processing modes.
var Modes = []Mode{ModeTextExtraction, ModeVisionOCR}

// ParseMode resolves a submitted mode string, reporting whether it is known.
// The mode is resolved once at submission time and carried through the job
// entry unchanged.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeTextExtraction:
		return ModeTextExtraction, true
	case ModeVisionOCR:
		return ModeVisionOCR, true
	default:
		return "", false
	}
}

// pdfSignature is the magic prefix every PDF body starts with.
var pdfSignature = []byte("%PDF-")

// IsPDF reports whether data bears the PDF file signature.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfSignature)
}
