// Package pipeline assembles the recognizer and its providers from config.
package pipeline

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"answer-ocr/api/internal/config"
	"answer-ocr/api/internal/ocr"
	"answer-ocr/api/internal/ocr/claude"
	"answer-ocr/api/internal/ocr/gemini"
	"answer-ocr/api/internal/ocr/yandex"
	"answer-ocr/api/internal/ocr/yandexgpt"
	"answer-ocr/api/internal/transport"
)

const (
	CorrectorYandexGPT = "yandexgpt"
	CorrectorGemini    = "gemini"
	CorrectorNone      = "none"
)

var log = logrus.WithField("component", "pipeline")

func Build(cfg *config.Config) (*ocr.Recognizer, error) {
	vision, err := Vision(cfg)
	if err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}

	// Один IAM-клиент на OCR и GPT
	var iam *yandex.IamClient
	if cfg.YandexAPIKey == "" && cfg.YCOAuthToken != "" {
		iam, err = yandex.NewIamClient(cfg.YCOAuthToken, transport.Config{
			Retries:   cfg.YandexOCR.Retries,
			BaseDelay: cfg.YandexOCR.Delay,
		})
		if err != nil {
			return nil, fmt.Errorf("yandex iam: %w", err)
		}
	}

	reader, err := yandex.New(yandex.Config{
		APIKey:     cfg.YandexAPIKey,
		OAuthToken: cfg.YCOAuthToken,
		FolderID:   cfg.YCFolderID,
		Languages:  cfg.YandexOCRLangs,
		Model:      cfg.YandexOCRModel,
		Transport:  retryConfig(cfg.YandexOCR),
	}, iam)
	if err != nil {
		return nil, fmt.Errorf("yandex ocr: %w", err)
	}

	corrector, err := Corrector(cfg, iam)
	if err != nil {
		return nil, fmt.Errorf("corrector: %w", err)
	}

	r := ocr.NewRecognizer(vision, reader, corrector,
		ocr.WithThresholds(ocr.Thresholds{
			EnhancedRetry: cfg.EnhancedRetryThreshold,
			Correction:    cfg.CorrectionThreshold,
		}),
		ocr.WithTimeout(cfg.RecognizeTimeout),
	)
	log.WithFields(logrus.Fields{
		"providers": r.Providers(),
		"corrector": cfg.Corrector,
	}).Info("recognizer ready")
	return r, nil
}

// Vision builds the Claude engine with its optional forward proxy, TLS
// fingerprint and request rate limit.
func Vision(cfg *config.Config) (*claude.Engine, error) {
	tc := retryConfig(cfg.Claude)
	tc.Endpoint = cfg.AnthropicBase
	tc.ProxyURL = cfg.AnthropicProxy
	tc.Impersonate = cfg.ClaudeTLS

	var opts []transport.Option
	if cfg.ClaudeRPS > 0 {
		opts = append(opts, transport.WithLimiter(rate.NewLimiter(rate.Limit(cfg.ClaudeRPS), 1)))
	}
	return claude.New(claude.Config{
		APIKey:    cfg.AnthropicAPIKey,
		Model:     cfg.ClaudeModel,
		MaxTokens: cfg.ClaudeMaxTokens,
		Transport: tc,
	}, opts...)
}

// Corrector picks the correction pass named by OCR_CORRECTOR. A nil result
// disables correction.
func Corrector(cfg *config.Config, iam *yandex.IamClient) (ocr.Corrector, error) {
	switch cfg.Corrector {
	case CorrectorNone, "off", "":
		return nil, nil
	case CorrectorGemini:
		return gemini.New(gemini.Config{
			APIKey:    cfg.GeminiAPIKey,
			Model:     cfg.GeminiModel,
			Timeout:   cfg.Gemini.Timeout,
			Retries:   cfg.Gemini.Retries,
			BaseDelay: cfg.Gemini.Delay,
		}), nil
	case CorrectorYandexGPT:
		c, err := yandexgpt.New(yandexgpt.Config{
			APIKey:    cfg.YandexAPIKey,
			FolderID:  cfg.YCFolderID,
			Model:     cfg.YandexGPTModel,
			Transport: retryConfig(cfg.YandexGPT),
		}, iam)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown corrector %q", cfg.Corrector)
	}
}

func retryConfig(r config.Retry) transport.Config {
	return transport.Config{
		Timeout:   r.Timeout,
		Retries:   r.Retries,
		BaseDelay: r.Delay,
	}
}
