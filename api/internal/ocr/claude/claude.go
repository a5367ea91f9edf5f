// Package claude transcribes answer photos with an Anthropic vision model.
package claude

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"answer-ocr/api/internal/errs"
	"answer-ocr/api/internal/ocr"
	"answer-ocr/api/internal/transport"
	"answer-ocr/api/internal/util"
)

const (
	Name             = "claude"
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens = 2048
	APIVersion       = "2023-06-01"

	messagesPath = "/v1/messages"

	// The model reports no confidence of its own.
	fixedConfidence = 0.95
)

type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	// Transport.Endpoint may be a reverse proxy base URL; the messages
	// path is appended when missing.
	Transport transport.Config
}

type Engine struct {
	cfg Config
	tr  *transport.Transport
	log *logrus.Entry
}

func New(cfg Config, opts ...transport.Option) (*Engine, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Transport.Name == "" {
		cfg.Transport.Name = Name
	}
	cfg.Transport.Endpoint = MessagesURL(cfg.Transport.Endpoint)
	proxied := cfg.Transport.ProxyURL != "" || cfg.Transport.Endpoint != MessagesURL("")
	if proxied {
		// proxies cut idle connections; a stream keeps bytes flowing
		cfg.Transport.Streaming = true
	}

	tr, err := transport.New(cfg.Transport, opts...)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, tr: tr, log: logrus.WithField("component", "claude")}, nil
}

// MessagesURL turns a base URL (or nothing) into the messages endpoint.
func MessagesURL(base string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	if strings.Contains(base, messagesPath) {
		return base
	}
	return strings.TrimRight(base, "/") + messagesPath
}

func (e *Engine) Name() string    { return Name }
func (e *Engine) Available() bool { return e.cfg.APIKey != "" }

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
	Messages    []message `json:"messages"`
}

func (e *Engine) Recognize(ctx context.Context, image []byte, hint string) (ocr.Recognition, error) {
	mediaType := util.SniffImageMIME(image)
	if mediaType == "" {
		return ocr.Recognition{}, errs.New(Name, errs.KindInvalidInput, "unsupported image format")
	}

	body, err := json.Marshal(request{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: 0,
		Stream:      e.tr.Config().Streaming,
		Messages: []message{{
			Role: "user",
			Content: []contentBlock{
				{Type: "image", Source: &imageSource{
					Type:      "base64",
					MediaType: mediaType,
					Data:      base64.StdEncoding.EncodeToString(image),
				}},
				{Type: "text", Text: Prompt(hint)},
			},
		}},
	})
	if err != nil {
		return ocr.Recognition{}, errs.Wrap(Name, errs.KindInvalidInput, err)
	}

	h := http.Header{}
	h.Set("x-api-key", e.cfg.APIKey)
	h.Set("anthropic-version", APIVersion)

	_, raw, err := e.tr.Execute(ctx, transport.Payload{Header: h, Body: body})
	if err != nil {
		return ocr.Recognition{}, err
	}

	var msg transport.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ocr.Recognition{}, errs.Wrap(Name, errs.KindMalformed, err)
	}
	text := strings.TrimSpace(util.StripCodeFences(msg.Text()))
	e.log.WithFields(logrus.Fields{
		"model":         msg.Model,
		"input_tokens":  msg.Usage.InputTokens,
		"output_tokens": msg.Usage.OutputTokens,
		"stop_reason":   msg.StopReason,
		"streamed":      e.tr.Config().Streaming,
	}).Debug("vision response")
	if text == "" {
		return ocr.Recognition{}, errs.New(Name, errs.KindEmptyResult, "no text detected")
	}

	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(l); s != "" {
			lines = append(lines, s)
		}
	}
	model := msg.Model
	if model == "" {
		model = e.cfg.Model
	}
	return ocr.Recognition{
		Text:       text,
		Lines:      lines,
		Confidence: fixedConfidence,
		Measured:   false,
		Model:      model,
	}, nil
}
