package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	TelegramBotToken string
	WebhookURL       string
	DatabaseURL      string

	// Claude vision
	AnthropicAPIKey string
	ClaudeModel     string
	ClaudeMaxTokens int
	AnthropicBase   string // reverse proxy base URL
	AnthropicProxy  string // forward proxy: http, https, socks5
	ClaudeTLS       bool   // browser TLS fingerprint
	Claude          Retry
	ClaudeRPS       float64

	// Yandex Cloud
	YandexAPIKey   string
	YCOAuthToken   string
	YCFolderID     string
	YandexOCRModel string
	YandexOCRLangs []string
	YandexOCR      Retry
	YandexGPTModel string
	YandexGPT      Retry

	// Correction
	Corrector    string // yandexgpt | gemini | none
	GeminiAPIKey string
	GeminiModel  string
	Gemini       Retry

	EnhancedRetryThreshold float64
	CorrectionThreshold    float64
	RecognizeTimeout       time.Duration
}

// Retry is the per-provider timeout and retry budget.
type Retry struct {
	Timeout time.Duration
	Retries int
	Delay   time.Duration
}

var log = logrus.WithField("component", "config")

// MustEnv returns the variable or stops the process.
func MustEnv(k string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		log.Fatalf("missing required env %s", k)
	}
	return v
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

// firstEnv returns the first non-empty variable out of keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func getInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.WithError(err).Warnf("bad %s=%q, using %d", k, v, def)
		return def
	}
	return n
}

func getFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.WithError(err).Warnf("bad %s=%q, using %v", k, v, def)
		return def
	}
	return f
}

func getBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.WithError(err).Warnf("bad %s=%q, using %v", k, v, def)
		return def
	}
	return b
}

// getDuration accepts Go durations ("1m30s") and plain seconds ("90", "1.5").
func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if s, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(s * float64(time.Second))
	}
	log.Warnf("bad %s=%q, using %v", k, v, def)
	return def
}

func getList(k, def string) []string {
	var out []string
	for _, s := range strings.Split(getEnv(k, def), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getRetry(prefix string, timeout time.Duration, retries int, delay time.Duration) Retry {
	return Retry{
		Timeout: getDuration(prefix+"_TIMEOUT", timeout),
		Retries: getInt(prefix+"_RETRIES", retries),
		Delay:   getDuration(prefix+"_RETRY_DELAY", delay),
	}
}

func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "8000"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ""),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		ClaudeModel:     getEnv("CLAUDE_MODEL", ""),
		ClaudeMaxTokens: getInt("CLAUDE_MAX_TOKENS", 2048),
		AnthropicBase:   getEnv("ANTHROPIC_PROXY_URL", ""),
		AnthropicProxy:  getEnv("ANTHROPIC_HTTP_PROXY", ""),
		ClaudeTLS:       getBool("CLAUDE_IMPERSONATE_TLS", false),
		Claude:          getRetry("CLAUDE", 60*time.Second, 3, 2*time.Second),
		ClaudeRPS:       getFloat("CLAUDE_RPS", 0),

		YandexAPIKey:   firstEnv("YANDEX_API_KEY", "YANDEX_GPT_API_KEY"),
		YCOAuthToken:   getEnv("YC_OAUTH_TOKEN", ""),
		YCFolderID:     firstEnv("YC_FOLDER_ID", "YANDEX_GPT_FOLDER_ID"),
		YandexOCRModel: getEnv("YANDEX_OCR_MODEL", "handwritten"),
		YandexOCRLangs: getList("YANDEX_OCR_LANGS", "ru,en"),
		YandexOCR:      getRetry("YANDEX_OCR", 30*time.Second, 3, time.Second),
		YandexGPTModel: getEnv("YANDEX_GPT_MODEL", "yandexgpt-lite"),
		YandexGPT:      getRetry("YANDEX_GPT", 30*time.Second, 2, time.Second),

		Corrector:    strings.ToLower(getEnv("OCR_CORRECTOR", "yandexgpt")),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		Gemini:       getRetry("GEMINI", 60*time.Second, 3, 300*time.Millisecond),

		EnhancedRetryThreshold: getFloat("OCR_ENHANCED_RETRY_THRESHOLD", 0.5),
		CorrectionThreshold:    getFloat("OCR_LLM_CORRECTION_THRESHOLD", 0.95),
		RecognizeTimeout:       getDuration("RECOGNIZE_TIMEOUT", 90*time.Second),
	}
}
