// Package gemini is the alternate correction pass on Google Gemini.
package gemini

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"answer-ocr/api/internal/errs"
	"answer-ocr/api/internal/ocr"
	"answer-ocr/api/internal/transport"
	"answer-ocr/api/internal/util"
)

const (
	Name         = "gemini"
	DefaultModel = "gemini-2.0-flash"
)

type Config struct {
	APIKey    string
	Model     string
	Timeout   time.Duration
	Retries   int
	BaseDelay time.Duration
}

// generateFunc sends one system+user exchange and returns the raw text.
type generateFunc func(ctx context.Context, system, user string) (string, error)

type Corrector struct {
	cfg      Config
	generate generateFunc
	log      *logrus.Entry

	mu     sync.Mutex
	client *genai.Client // создаётся при первом вызове, живёт до Close
}

func New(cfg Config) *Corrector {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Retries < 1 {
		cfg.Retries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 300 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := &Corrector{cfg: cfg, log: logrus.WithField("component", "gemini")}
	c.generate = c.sdkGenerate
	return c
}

func (c *Corrector) Name() string    { return Name }
func (c *Corrector) Available() bool { return c.cfg.APIKey != "" }

func (c *Corrector) Correct(ctx context.Context, text, hint string) (string, error) {
	user := ocr.CorrectionUserPrompt(text, hint)

	// Ретраи на случай 5xx/транзиентных сбоёв
	for attempt := 1; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		out, err := c.generate(actx, ocr.CorrectionSystemPrompt, user)
		cancel()
		if err == nil {
			out = strings.TrimSpace(util.StripCodeFences(out))
			if out == "" {
				return "", errs.New(Name, errs.KindEmptyResult, "empty response")
			}
			return out, nil
		}

		e := classify(ctx, err)
		e.Attempts = attempt
		if !e.Retryable() || attempt >= c.cfg.Retries {
			return "", e
		}
		c.log.WithError(e).WithField("attempt", attempt).Warn("gemini call failed, retrying")
		if err := transport.Sleep(ctx, c.cfg.BaseDelay*time.Duration(attempt)); err != nil {
			return "", errs.Wrap(Name, errs.KindCanceled, err)
		}
	}
}

// Close releases the SDK client. The corrector stays usable; the next call dials again.
func (c *Corrector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// sdkClient returns the shared client. A failed dial is not cached.
func (c *Corrector) sdkClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	// клиент переживает попытку, поэтому без её дедлайна
	cl, err := genai.NewClient(context.WithoutCancel(ctx), option.WithAPIKey(c.cfg.APIKey))
	if err != nil {
		return nil, err
	}
	c.client = cl
	return cl, nil
}

func (c *Corrector) sdkGenerate(ctx context.Context, system, user string) (string, error) {
	cl, err := c.sdkClient(ctx)
	if err != nil {
		return "", err
	}

	m := cl.GenerativeModel(c.cfg.Model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	resp, err := m.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", err
	}
	return firstText(resp), nil
}

// classify maps SDK errors (REST or gRPC flavoured) onto error kinds.
func classify(ctx context.Context, err error) *errs.Error {
	var e *errs.Error
	if errors.As(err, &e) {
		return e
	}
	if ctx.Err() != nil {
		return errs.Wrap(Name, errs.KindCanceled, ctx.Err())
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return errs.FromStatus(Name, gerr.Code, []byte(gerr.Message))
	}
	if st, ok := status.FromError(err); ok {
		kind := errs.KindUnknown
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			kind = errs.KindAuth
		case codes.ResourceExhausted:
			kind = errs.KindRateLimited
		case codes.Unavailable, codes.Internal, codes.Aborted:
			kind = errs.KindServer
		case codes.DeadlineExceeded:
			kind = errs.KindTimeout
		case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition, codes.OutOfRange:
			kind = errs.KindBadRequest
		case codes.Canceled:
			kind = errs.KindCanceled
		}
		if kind != errs.KindUnknown {
			return &errs.Error{Provider: Name, Kind: kind, Message: st.Message(), Cause: err}
		}
	}
	return errs.FromTransport(ctx, Name, err)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
