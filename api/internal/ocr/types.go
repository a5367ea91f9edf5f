package ocr

import (
	"time"

	"answer-ocr/api/internal/errs"
)

// Request is one recognition call. Image is never written to.
type Request struct {
	Image      []byte
	DomainHint string        // free text about the task, biases correction
	Timeout    time.Duration // 0 uses the recognizer default
}

// Recognition is what a single engine pass returns.
type Recognition struct {
	Text       string
	Lines      []string
	Confidence float64
	Measured   bool // false when Confidence is a fixed placeholder
	Model      string
}

// Result is the only thing a caller ever gets back. Build it with
// NewSuccess or NewFailure; later stages replace it, never patch it.
type Result struct {
	Success            bool      `json:"success"`
	Text               string    `json:"text"`
	Confidence         float64   `json:"confidence"`
	ConfidenceMeasured bool      `json:"confidence_measured"`
	Corrected          bool      `json:"corrected"`
	Enhanced           bool      `json:"enhanced,omitempty"`
	Provider           string    `json:"provider,omitempty"`
	Error              string    `json:"error,omitempty"`
	ErrorKind          errs.Kind `json:"error_kind,omitempty"`
	Warning            string    `json:"warning,omitempty"`
	RequestID          string    `json:"request_id,omitempty"`
}

const (
	MsgNoText      = "no text detected"
	MsgUnreadable  = "image could not be read"
	MsgUnavailable = "text recognition is temporarily unavailable"

	WarnRetake        = "check image quality: retake the photo with better lighting"
	WarnTypeInstead   = "please type your answer instead"
	WarnLowConfidence = "low recognition confidence"
)

func NewSuccess(provider, text string, confidence float64, measured bool) Result {
	return Result{
		Success:            true,
		Text:               text,
		Confidence:         clampConfidence(confidence),
		ConfidenceMeasured: measured,
		Provider:           provider,
	}
}

// NewFailure maps a terminal error kind to the user-facing message and hint.
func NewFailure(kind errs.Kind) Result {
	r := Result{ErrorKind: kind}
	switch kind {
	case errs.KindEmptyResult:
		r.Error, r.Warning = MsgNoText, WarnRetake
	case errs.KindInvalidInput:
		r.Error, r.Warning = MsgUnreadable, WarnRetake
	default:
		r.Error, r.Warning = MsgUnavailable, WarnTypeInstead
	}
	return r
}

// withCorrection returns a copy carrying the corrected text.
func (r Result) withCorrection(text string) Result {
	if !r.Success {
		return r
	}
	r.Text = text
	r.Corrected = true
	return r
}

func (r Result) withWarning(w string) Result {
	r.Warning = w
	return r
}

func (r Result) withEnhanced() Result {
	r.Enhanced = true
	return r
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// attempt records one engine pass inside the orchestrator.
type attempt struct {
	provider  string
	rec       Recognition
	err       error
	retryable bool
	enhanced  bool
}

func (a attempt) ok() bool { return a.err == nil }
