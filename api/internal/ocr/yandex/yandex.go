// Package yandex is the Yandex Vision OCR engine.
package yandex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"answer-ocr/api/internal/errs"
	"answer-ocr/api/internal/ocr"
	"answer-ocr/api/internal/transport"
	"answer-ocr/api/internal/util"
)

const (
	Name            = "yandex"
	DefaultEndpoint = "https://ocr.api.cloud.yandex.net/ocr/v1/recognizeText"
	DefaultModel    = "handwritten"
)

type Config struct {
	APIKey      string
	OAuthToken  string
	FolderID    string
	Languages   []string // ["ru","en"]
	Model       string   // "handwritten", "page"
	DataLogging bool
	Transport   transport.Config
	IAMEndpoint string
}

type Engine struct {
	cfg    Config
	client *Client
	log    *logrus.Entry
}

// New builds the engine. iam may be shared with other Yandex clients; when
// nil and an OAuth token is configured a private one is created.
func New(cfg Config, iam *IamClient, opts ...transport.Option) (*Engine, error) {
	if cfg.Transport.Name == "" {
		cfg.Transport.Name = Name
	}
	if cfg.Transport.Endpoint == "" {
		cfg.Transport.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"ru", "en"}
	}
	tr, err := transport.New(cfg.Transport, opts...)
	if err != nil {
		return nil, err
	}

	creds := Credentials{APIKey: cfg.APIKey}
	if cfg.APIKey == "" && cfg.OAuthToken != "" {
		if iam == nil {
			iam, err = NewIamClient(cfg.OAuthToken, transport.Config{
				Endpoint:  cfg.IAMEndpoint,
				Retries:   cfg.Transport.Retries,
				BaseDelay: cfg.Transport.BaseDelay,
				ProxyURL:  cfg.Transport.ProxyURL,
			})
			if err != nil {
				return nil, err
			}
		}
		creds.IAM = iam
	}

	return &Engine{
		cfg:    cfg,
		client: NewClient(tr, creds, cfg.FolderID, cfg.DataLogging),
		log:    logrus.WithField("component", "yandex-ocr"),
	}, nil
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Available() bool {
	return e.cfg.FolderID != "" && e.client.creds.Configured()
}

type request struct {
	Content       string   `json:"content"`
	MimeType      string   `json:"mimeType"`                // "JPEG" | "PNG" | "PDF"
	LanguageCodes []string `json:"languageCodes,omitempty"` // ["ru","en"]
	Model         string   `json:"model,omitempty"`
}

type word struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type line struct {
	Text  string `json:"text"`
	Words []word `json:"words"`
}

type response struct {
	Result *struct {
		TextAnnotation *struct {
			FullText string `json:"fullText"`
			Blocks   []struct {
				Lines []line `json:"lines"`
			} `json:"blocks"`
		} `json:"textAnnotation"`
	} `json:"result"`
}

// Recognize runs a single OCR pass. Escalation is the caller's business.
func (e *Engine) Recognize(ctx context.Context, image []byte, _ string) (ocr.Recognition, error) {
	mime := util.SniffMimeForOCR(image)
	if mime == "" {
		return ocr.Recognition{}, errs.New(Name, errs.KindInvalidInput, "unsupported image format")
	}
	body, err := json.Marshal(request{
		Content:       base64.StdEncoding.EncodeToString(image),
		MimeType:      mime,
		LanguageCodes: e.cfg.Languages,
		Model:         e.cfg.Model,
	})
	if err != nil {
		return ocr.Recognition{}, errs.Wrap(Name, errs.KindInvalidInput, err)
	}

	raw, err := e.client.Post(ctx, body)
	if err != nil {
		return ocr.Recognition{}, err
	}
	rec, err := parse(raw)
	if err != nil {
		return ocr.Recognition{}, err
	}
	rec.Model = e.cfg.Model

	e.log.WithFields(logrus.Fields{
		"lines":      len(rec.Lines),
		"confidence": rec.Confidence,
		"measured":   rec.Measured,
	}).Debug("recognized")
	return rec, nil
}

func parse(raw []byte) (ocr.Recognition, error) {
	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return ocr.Recognition{}, errs.Wrap(Name, errs.KindMalformed, err)
	}
	if out.Result == nil || out.Result.TextAnnotation == nil {
		return ocr.Recognition{}, errs.New(Name, errs.KindEmptyResult, "no text annotation")
	}
	ta := out.Result.TextAnnotation

	var (
		rec   ocr.Recognition
		sum   float64
		rated int
	)
	for _, b := range ta.Blocks {
		for _, l := range b.Lines {
			if s := strings.TrimSpace(l.Text); s != "" {
				rec.Lines = append(rec.Lines, s)
			}
			for _, w := range l.Words {
				if w.Confidence != nil {
					sum += *w.Confidence
					rated++
				}
			}
		}
	}
	rec.Text = strings.Join(rec.Lines, "\n")
	if rec.Text == "" {
		// fallback: fullText без разбивки на строки
		rec.Text = strings.TrimSpace(ta.FullText)
		if rec.Text != "" {
			rec.Lines = strings.Split(rec.Text, "\n")
		}
	}
	if rec.Text == "" {
		return ocr.Recognition{}, errs.New(Name, errs.KindEmptyResult, "empty text")
	}
	if rated > 0 {
		rec.Confidence = sum / float64(rated)
		rec.Measured = true
	}
	return rec, nil
}
