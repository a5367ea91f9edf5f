package ocr

import (
	"strings"
	"unicode/utf8"

	"answer-ocr/api/internal/util"
)

// Thresholds are the two independent confidence cutoffs of the pipeline.
type Thresholds struct {
	// EnhancedRetry: below it a second OCR pass runs on enhanced bytes.
	EnhancedRetry float64
	// Correction: below it the text goes through the correction pass.
	Correction float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{EnhancedRetry: 0.5, Correction: 0.95}
}

func (t Thresholds) needsEnhanced(conf float64) bool   { return conf < t.EnhancedRetry }
func (t Thresholds) needsCorrection(conf float64) bool { return conf < t.Correction }

// minCorrectionRatio guards against a degenerate correction silently
// replacing the transcription.
const minCorrectionRatio = 0.3

// better keeps the successful attempt with the higher confidence. Ties go to a.
func better(a, b attempt) attempt {
	switch {
	case !b.ok():
		return a
	case !a.ok():
		return b
	case b.rec.Confidence > a.rec.Confidence:
		return b
	default:
		return a
	}
}

// acceptCorrection returns the cleaned correction and whether it may replace
// the original text.
func acceptCorrection(original, corrected string) (string, bool) {
	corrected = strings.TrimSpace(util.StripCodeFences(corrected))
	if corrected == "" {
		return "", false
	}
	if float64(utf8.RuneCountInString(corrected)) < minCorrectionRatio*float64(utf8.RuneCountInString(original)) {
		return "", false
	}
	return corrected, corrected != strings.TrimSpace(original)
}
