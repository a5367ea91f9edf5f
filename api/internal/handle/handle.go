package handle

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"answer-ocr/api/internal/ocr"
)

// Recognizer is the part of ocr.Recognizer the handlers need.
type Recognizer interface {
	Run(ctx context.Context, req ocr.Request) ocr.Result
	Providers() map[string]string
}

type Handle struct {
	rec Recognizer
	log *logrus.Entry
}

func New(rec Recognizer) *Handle {
	return &Handle{
		rec: rec,
		log: logrus.WithField("component", "handle"),
	}
}

// Routes registers every endpoint on mux.
func (h *Handle) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/v1/recognize", h.Recognize)
}

func (h *Handle) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": h.rec.Providers(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
