// Package transport executes provider HTTP calls with retries, optional
// browser-fingerprint TLS and reassembly of streamed responses.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"answer-ocr/api/internal/errs"
)

// Doer is the part of *http.Client the transport needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Payload is one POST request body plus headers.
type Payload struct {
	Header http.Header
	Body   []byte
}

type Transport struct {
	cfg     Config
	client  Doer
	limiter *rate.Limiter
	log     *logrus.Entry
}

type Option func(*Transport)

// WithHTTPClient replaces the client picked from the config.
func WithHTTPClient(c Doer) Option {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithLimiter makes every attempt wait on l first.
func WithLimiter(l *rate.Limiter) Option {
	return func(t *Transport) { t.limiter = l }
}

func WithLogger(l *logrus.Entry) Option {
	return func(t *Transport) {
		if l != nil {
			t.log = l
		}
	}
}

// New builds a transport bound to cfg. The HTTP client strategy is chosen
// here, so callers never need to know which one is in use.
func New(cfg Config, opts ...Option) (*Transport, error) {
	t := &Transport{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{"component": "transport", "provider": cfg.Name}),
	}
	for _, o := range opts {
		o(t)
	}
	if t.client == nil {
		c, err := NewClient(cfg)
		if err != nil {
			return nil, err
		}
		t.client = c
	}
	return t, nil
}

// Execute builds a one-shot transport for cfg and runs a single call.
func Execute(ctx context.Context, cfg Config, p Payload) (int, []byte, error) {
	t, err := New(cfg)
	if err != nil {
		return 0, nil, errs.Wrap(cfg.Name, errs.KindInvalidInput, err)
	}
	return t.Execute(ctx, p)
}

func (t *Transport) Config() Config { return t.cfg }

// Execute posts p to the configured endpoint and returns the status and body
// of the first successful attempt. Streamed responses are reassembled into the
// equivalent non-streamed JSON body. Errors are always *errs.Error.
func (t *Transport) Execute(ctx context.Context, p Payload) (int, []byte, error) {
	attempts := t.cfg.attempts()
	var last *errs.Error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, nil, errs.Wrap(t.cfg.Name, errs.KindCanceled, err)
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return 0, nil, errs.FromTransport(ctx, t.cfg.Name, err)
			}
		}

		status, body, err := t.once(ctx, p)
		if err == nil {
			return status, body, nil
		}

		last = errs.FromTransport(ctx, t.cfg.Name, err)
		if last.Provider == "" {
			last.Provider = t.cfg.Name
		}
		last.Attempts = attempt
		log := t.log.WithFields(logrus.Fields{"attempt": attempt, "kind": last.Kind, "status": last.StatusCode})
		if !last.Retryable() {
			log.WithError(last).Warn("request failed, not retrying")
			return status, nil, last
		}
		if attempt == attempts {
			log.WithError(last).Error("request failed, retries exhausted")
			break
		}
		delay := t.cfg.BaseDelay * time.Duration(attempt)
		log.WithError(last).WithField("delay", delay).Warn("request failed, retrying")
		if err := Sleep(ctx, delay); err != nil {
			return 0, nil, errs.Wrap(t.cfg.Name, errs.KindCanceled, err)
		}
	}
	return last.StatusCode, nil, last
}

// once performs one attempt under its own deadline. The response body is
// closed before returning on every path.
func (t *Transport) once(parent context.Context, p Payload) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(parent, t.cfg.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(p.Body))
	if err != nil {
		return 0, nil, errs.Wrap(t.cfg.Name, errs.KindInvalidInput, err)
	}
	for k, vs := range p.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.cfg.Streaming {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		x, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return resp.StatusCode, nil, errs.FromStatus(t.cfg.Name, resp.StatusCode, x)
	}

	if !t.cfg.Streaming {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, nil, err
		}
		return resp.StatusCode, body, nil
	}

	msg, err := Reassemble(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if msg.Skipped > 0 {
		t.log.WithField("skipped", msg.Skipped).Warn("malformed stream events skipped")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("encode reassembled message: %w", err)
	}
	return resp.StatusCode, body, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
