package handle

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"answer-ocr/api/internal/errs"
	"answer-ocr/api/internal/ocr"
	"answer-ocr/api/internal/util"
)

const maxBodyBytes = 40 << 20

type RecognizeRequest struct {
	ImageB64   string  `json:"image_b64"`
	DomainHint string  `json:"domain_hint,omitempty"`
	TimeoutSec float64 `json:"timeout_sec,omitempty"`
}

// Recognize answers with the ocr.Result JSON. Provider failures are a
// regular result with success=false; only unusable input gets a 4xx.
func (h *Handle) Recognize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST only"})
		return
	}
	var req RecognizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json: " + err.Error()})
		return
	}

	img, _, err := util.DecodeBase64MaybeDataURL(req.ImageB64)
	if err != nil || len(img) == 0 {
		h.log.WithError(err).Debug("bad image_b64")
		writeJSON(w, http.StatusBadRequest, ocr.NewFailure(errs.KindInvalidInput))
		return
	}

	res := h.rec.Run(r.Context(), ocr.Request{
		Image:      img,
		DomainHint: req.DomainHint,
		Timeout:    requestTimeout(r, req.TimeoutSec),
	})

	code := http.StatusOK
	if !res.Success && res.ErrorKind == errs.KindInvalidInput {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, res)
}

// requestTimeout: body field, then X-Request-Timeout header, then ?timeoutSec.
// Zero leaves the recognizer default.
func requestTimeout(r *http.Request, bodySec float64) time.Duration {
	if bodySec > 0 {
		return time.Duration(bodySec * float64(time.Second))
	}
	for _, ts := range []string{r.Header.Get("X-Request-Timeout"), r.URL.Query().Get("timeoutSec")} {
		if v, _ := strconv.Atoi(ts); v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return 0
}
