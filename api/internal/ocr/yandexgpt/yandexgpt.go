// Package yandexgpt repairs OCR artifacts with the YandexGPT completion API.
package yandexgpt

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"answer-ocr/api/internal/errs"
	"answer-ocr/api/internal/ocr"
	"answer-ocr/api/internal/ocr/yandex"
	"answer-ocr/api/internal/transport"
)

const (
	Name             = "yandexgpt"
	DefaultEndpoint  = "https://llm.api.cloud.yandex.net/foundationModels/v1/completion"
	DefaultModel     = "yandexgpt-lite"
	DefaultMaxTokens = 2000
	temperature      = 0.1
)

type Config struct {
	APIKey    string
	FolderID  string
	Model     string // "yandexgpt-lite", "yandexgpt/latest"
	MaxTokens int
	Transport transport.Config
}

type Corrector struct {
	cfg    Config
	creds  yandex.Credentials
	client *yandex.Client
	log    *logrus.Entry
}

// New builds the corrector. iam is used when no API key is configured.
func New(cfg Config, iam *yandex.IamClient, opts ...transport.Option) (*Corrector, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Transport.Name == "" {
		cfg.Transport.Name = Name
	}
	if cfg.Transport.Endpoint == "" {
		cfg.Transport.Endpoint = DefaultEndpoint
	}
	tr, err := transport.New(cfg.Transport, opts...)
	if err != nil {
		return nil, err
	}
	creds := yandex.Credentials{APIKey: cfg.APIKey}
	if cfg.APIKey == "" {
		creds.IAM = iam
	}
	return &Corrector{
		cfg:    cfg,
		creds:  creds,
		client: yandex.NewClient(tr, creds, cfg.FolderID, false),
		log:    logrus.WithField("component", "yandexgpt"),
	}, nil
}

func (c *Corrector) Name() string { return Name }

func (c *Corrector) Available() bool {
	return c.cfg.FolderID != "" && c.creds.Configured()
}

// ModelURI is gpt://<folder>/<model>, unless the model is already a URI.
func (c *Corrector) ModelURI() string {
	if strings.Contains(c.cfg.Model, "://") {
		return c.cfg.Model
	}
	return "gpt://" + c.cfg.FolderID + "/" + c.cfg.Model
}

type completionMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type completionRequest struct {
	ModelURI          string `json:"modelUri"`
	CompletionOptions struct {
		Stream      bool    `json:"stream"`
		Temperature float64 `json:"temperature"`
		MaxTokens   string  `json:"maxTokens"`
	} `json:"completionOptions"`
	Messages []completionMessage `json:"messages"`
}

type completionResponse struct {
	Result struct {
		Alternatives []struct {
			Message completionMessage `json:"message"`
			Status  string            `json:"status"`
		} `json:"alternatives"`
		Usage struct {
			InputTextTokens  string `json:"inputTextTokens"`
			CompletionTokens string `json:"completionTokens"`
		} `json:"usage"`
		ModelVersion string `json:"modelVersion"`
	} `json:"result"`
}

func (c *Corrector) Correct(ctx context.Context, text, hint string) (string, error) {
	var req completionRequest
	req.ModelURI = c.ModelURI()
	req.CompletionOptions.Temperature = temperature
	req.CompletionOptions.MaxTokens = strconv.Itoa(c.cfg.MaxTokens)
	req.Messages = []completionMessage{
		{Role: "system", Text: ocr.CorrectionSystemPrompt},
		{Role: "user", Text: ocr.CorrectionUserPrompt(text, hint)},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", errs.Wrap(Name, errs.KindInvalidInput, err)
	}

	raw, err := c.client.Post(ctx, body)
	if err != nil {
		return "", err
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", errs.Wrap(Name, errs.KindMalformed, err)
	}
	if len(out.Result.Alternatives) == 0 {
		return "", errs.New(Name, errs.KindMalformed, "no alternatives")
	}
	alt := out.Result.Alternatives[0]
	c.log.WithFields(logrus.Fields{
		"status":            alt.Status,
		"model_version":     out.Result.ModelVersion,
		"input_tokens":      out.Result.Usage.InputTextTokens,
		"completion_tokens": out.Result.Usage.CompletionTokens,
	}).Debug("correction response")

	res := strings.TrimSpace(alt.Message.Text)
	if res == "" {
		return "", errs.New(Name, errs.KindEmptyResult, "empty completion")
	}
	return res, nil
}
