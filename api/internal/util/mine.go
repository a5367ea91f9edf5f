package util

import (
	"bytes"
	"encoding/base64"
	"strings"
)

var (
	sigJPEG = []byte{0xFF, 0xD8, 0xFF}
	sigPNG  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	sigGIF  = []byte("GIF8")
	sigPDF  = []byte("%PDF-")
)

// SniffMimeForOCR возвращает mimeType в формате Yandex OCR (JPEG|PNG|PDF) или "".
func SniffMimeForOCR(b []byte) string {
	switch {
	case bytes.HasPrefix(b, sigJPEG[:2]):
		return "JPEG"
	case bytes.HasPrefix(b, sigPNG):
		return "PNG"
	case bytes.HasPrefix(b, sigPDF):
		return "PDF"
	}
	return ""
}

// SniffImageMIME определяет media type картинки по сигнатуре. Пустая строка,
// если формат не из jpeg/png/gif/webp.
func SniffImageMIME(b []byte) string {
	switch {
	case bytes.HasPrefix(b, sigJPEG):
		return "image/jpeg"
	case bytes.HasPrefix(b, sigPNG):
		return "image/png"
	case bytes.HasPrefix(b, sigGIF):
		return "image/gif"
	case len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WEBP":
		return "image/webp"
	}
	return ""
}

// DecodeBase64MaybeDataURL декодирует base64. Если это data:URI, вернёт MIME из префикса.
func DecodeBase64MaybeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var hintMIME string
	if strings.HasPrefix(s, "data:") {
		// data:<mime>;base64,<payload>
		if idx := strings.IndexByte(s, ','); idx > 0 {
			meta := s[len("data:"):idx] // "<mime>;base64"
			if semi := strings.IndexByte(meta, ';'); semi >= 0 {
				hintMIME = meta[:semi]
			} else {
				hintMIME = meta
			}
			s = s[idx+1:]
		}
	}
	// Стандартная база64, затем URL-safe, на случай вариаций
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, hintMIME, nil
	} else if b2, err2 := base64.URLEncoding.DecodeString(s); err2 == nil {
		return b2, hintMIME, nil
	} else {
		return nil, "", err
	}
}
