package ocr

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"answer-ocr/api/internal/errs"
	"answer-ocr/api/internal/preprocess"
)

// Recognizer drives one request through vision, OCR, enhanced OCR and
// correction. It holds no per-request state and is safe for concurrent use.
type Recognizer struct {
	vision    Engine
	reader    Engine
	corrector Corrector

	thresholds Thresholds
	timeout    time.Duration

	prepVision   preprocess.Func
	prepStandard preprocess.Func
	prepEnhanced preprocess.Func

	log *logrus.Entry
}

type Option func(*Recognizer)

func WithThresholds(t Thresholds) Option {
	return func(r *Recognizer) { r.thresholds = t }
}

// WithTimeout sets the budget for requests that do not carry their own.
func WithTimeout(d time.Duration) Option {
	return func(r *Recognizer) { r.timeout = d }
}

// WithPreprocessors replaces the image profiles. nil keeps the default.
func WithPreprocessors(vision, standard, enhanced preprocess.Func) Option {
	return func(r *Recognizer) {
		if vision != nil {
			r.prepVision = vision
		}
		if standard != nil {
			r.prepStandard = standard
		}
		if enhanced != nil {
			r.prepEnhanced = enhanced
		}
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(r *Recognizer) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRecognizer wires the pipeline. Any of the three collaborators may be
// nil, which is the same as one that is not available.
func NewRecognizer(vision, reader Engine, corrector Corrector, opts ...Option) *Recognizer {
	r := &Recognizer{
		vision:       vision,
		reader:       reader,
		corrector:    corrector,
		thresholds:   DefaultThresholds(),
		timeout:      90 * time.Second,
		prepVision:   preprocess.ForVision,
		prepStandard: preprocess.Standard,
		prepEnhanced: preprocess.Enhanced,
		log:          logrus.WithField("component", "recognizer"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Recognize is the inbound surface used by front-ends.
func (r *Recognizer) Recognize(ctx context.Context, image []byte, hint string) Result {
	return r.Run(ctx, Request{Image: image, DomainHint: hint})
}

type state int

const (
	stateStart state = iota
	stateVision
	stateOCR
	stateEnhancedOCR
	stateMaybeCorrect
	stateCorrection
	stateDone
)

var stateNames = [...]string{"start", "vision", "ocr", "enhanced_ocr", "maybe_correct", "correction", "done"}

func (s state) String() string { return stateNames[s] }

// call is the per-request scratch space walked by the state methods.
type call struct {
	id  string
	req Request
	log *logrus.Entry

	vision, reader, corrector providerStatus

	best   attempt
	result Result
}

// Run executes the state machine and always returns exactly one Result.
func (r *Recognizer) Run(ctx context.Context, req Request) Result {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c := &call{id: uuid.NewString(), req: req}
	c.log = r.log.WithField("request_id", c.id)

	started := time.Now()
	for st := stateStart; st != stateDone; {
		next := r.step(ctx, c, st)
		c.log.WithFields(logrus.Fields{"from": st, "to": next}).Debug("transition")
		st = next
	}

	c.result.RequestID = c.id
	c.log.WithFields(logrus.Fields{
		"success":    c.result.Success,
		"provider":   c.result.Provider,
		"confidence": c.result.Confidence,
		"corrected":  c.result.Corrected,
		"enhanced":   c.result.Enhanced,
		"error_kind": c.result.ErrorKind,
		"took":       time.Since(started).Round(time.Millisecond),
	}).Info("recognition finished")
	return c.result
}

func (r *Recognizer) step(ctx context.Context, c *call, st state) state {
	switch st {
	case stateStart:
		return r.start(c)
	case stateVision:
		return r.tryVision(ctx, c)
	case stateOCR:
		return r.runOCR(ctx, c)
	case stateEnhancedOCR:
		return r.runEnhancedOCR(ctx, c)
	case stateMaybeCorrect:
		return r.maybeCorrect(ctx, c)
	case stateCorrection:
		return r.runCorrection(ctx, c)
	default:
		return stateDone
	}
}

func (r *Recognizer) start(c *call) state {
	if len(c.req.Image) == 0 {
		c.result = NewFailure(errs.KindInvalidInput)
		return stateDone
	}
	c.vision = engineStatus(r.vision)
	c.reader = engineStatus(r.reader)
	c.corrector = correctorStatus(r.corrector)
	c.log.WithFields(logrus.Fields{
		"vision":     c.vision,
		"ocr":        c.reader,
		"corrector":  c.corrector,
		"image_size": len(c.req.Image),
	}).Debug("providers resolved")

	switch {
	case c.vision == statusReady:
		return stateVision
	case c.reader == statusReady:
		return stateOCR
	default:
		c.log.Error("no recognition provider configured")
		c.result = NewFailure(errs.KindUnavailable)
		return stateDone
	}
}

func (r *Recognizer) tryVision(ctx context.Context, c *call) state {
	rec, err := r.vision.Recognize(ctx, r.prepVision(c.req.Image), c.req.DomainHint)
	if err == nil && strings.TrimSpace(rec.Text) == "" {
		err = errs.New(r.vision.Name(), errs.KindEmptyResult, MsgNoText)
	}
	if err == nil {
		c.result = NewSuccess(r.vision.Name(), strings.TrimSpace(rec.Text), rec.Confidence, rec.Measured)
		return stateDone
	}

	kind := errs.KindOf(err)
	l := c.log.WithError(err).WithField("kind", kind)
	switch {
	case kind == errs.KindCanceled || ctx.Err() != nil:
		l.Warn("vision canceled")
		c.result = NewFailure(errs.KindCanceled)
		return stateDone
	case kind == errs.KindInvalidInput:
		l.Warn("vision rejected the image")
		c.result = NewFailure(kind)
		return stateDone
	case c.reader != statusReady:
		l.Error("vision failed and no OCR fallback")
		c.result = NewFailure(kind)
		return stateDone
	}
	l.Warn("vision failed, falling back to OCR")
	return stateOCR
}

func (r *Recognizer) runOCR(ctx context.Context, c *call) state {
	a := r.ocrPass(ctx, c, r.prepStandard, false)
	if !a.ok() {
		c.result = NewFailure(terminalKind(ctx, a.err))
		return stateDone
	}
	c.best = a
	if r.thresholds.needsEnhanced(a.rec.Confidence) {
		return stateEnhancedOCR
	}
	return stateMaybeCorrect
}

func (r *Recognizer) runEnhancedOCR(ctx context.Context, c *call) state {
	a := r.ocrPass(ctx, c, r.prepEnhanced, true)
	if !a.ok() {
		c.log.WithError(a.err).Warn("enhanced pass failed, keeping first pass")
	}
	c.best = better(c.best, a)
	return stateMaybeCorrect
}

func (r *Recognizer) maybeCorrect(ctx context.Context, c *call) state {
	b := c.best
	c.result = NewSuccess(b.provider, strings.TrimSpace(b.rec.Text), b.rec.Confidence, b.rec.Measured)
	if b.enhanced {
		c.result = c.result.withEnhanced()
	}
	if r.thresholds.needsEnhanced(b.rec.Confidence) {
		c.result = c.result.withWarning(WarnLowConfidence)
	}

	if c.corrector != statusReady || !r.thresholds.needsCorrection(b.rec.Confidence) || ctx.Err() != nil {
		return stateDone
	}
	return stateCorrection
}

func (r *Recognizer) runCorrection(ctx context.Context, c *call) state {
	l := c.log.WithField("corrector", r.corrector.Name())
	out, err := r.corrector.Correct(ctx, c.result.Text, c.req.DomainHint)
	if err != nil {
		l.WithError(err).Warn("correction failed, keeping OCR text")
		return stateDone
	}
	text, ok := acceptCorrection(c.result.Text, out)
	if !ok {
		l.WithFields(logrus.Fields{"in_len": len(c.result.Text), "out_len": len(out)}).Info("correction rejected")
		return stateDone
	}
	c.result = c.result.withCorrection(text)
	return stateDone
}

func (r *Recognizer) ocrPass(ctx context.Context, c *call, prep preprocess.Func, enhanced bool) attempt {
	name := r.reader.Name()
	rec, err := r.reader.Recognize(ctx, prep(c.req.Image), c.req.DomainHint)
	if err == nil && strings.TrimSpace(rec.Text) == "" {
		err = errs.New(name, errs.KindEmptyResult, MsgNoText)
	}
	a := attempt{provider: name, rec: rec, err: err, retryable: errs.IsRetryable(err), enhanced: enhanced}

	l := c.log.WithFields(logrus.Fields{"provider": name, "enhanced": enhanced})
	if err != nil {
		l.WithError(err).WithField("retryable", a.retryable).Warn("OCR pass failed")
		return a
	}
	l.WithFields(logrus.Fields{"confidence": rec.Confidence, "lines": len(rec.Lines)}).Info("OCR pass done")
	return a
}

func terminalKind(ctx context.Context, err error) errs.Kind {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return errs.KindCanceled
	}
	return errs.KindOf(err)
}

// Providers reports the configuration status of each collaborator, keyed by
// role, for health endpoints.
func (r *Recognizer) Providers() map[string]string {
	return map[string]string{
		"vision":    engineStatus(r.vision).String(),
		"ocr":       engineStatus(r.reader).String(),
		"corrector": correctorStatus(r.corrector).String(),
	}
}
