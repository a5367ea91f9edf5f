package ocr

import "context"

// Engine is one recognition backend.
type Engine interface {
	Name() string
	// Available reports whether credentials are configured. It is checked
	// once per request and never involves I/O.
	Available() bool
	Recognize(ctx context.Context, image []byte, hint string) (Recognition, error)
}

// Corrector repairs OCR artifacts in already recognized text.
type Corrector interface {
	Name() string
	Available() bool
	Correct(ctx context.Context, text, hint string) (string, error)
}

type providerStatus int

const (
	statusUnavailable providerStatus = iota
	statusReady
)

func (s providerStatus) String() string {
	if s == statusReady {
		return "ready"
	}
	return "unavailable"
}

func engineStatus(e Engine) providerStatus {
	if e != nil && e.Available() {
		return statusReady
	}
	return statusUnavailable
}

func correctorStatus(c Corrector) providerStatus {
	if c != nil && c.Available() {
		return statusReady
	}
	return statusUnavailable
}
