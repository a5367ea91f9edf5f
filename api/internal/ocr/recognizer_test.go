package ocr

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"answer-ocr/api/internal/errs"
)

type pass struct {
	rec Recognition
	err error
}

// fakeEngine returns its scripted passes in order and repeats the last one.
type fakeEngine struct {
	name      string
	available bool
	passes    []pass

	mu     sync.Mutex
	calls  int
	images [][]byte
}

func (f *fakeEngine) Name() string    { return f.name }
func (f *fakeEngine) Available() bool { return f.available }

func (f *fakeEngine) Recognize(ctx context.Context, image []byte, _ string) (Recognition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, image)
	f.calls++
	if err := ctx.Err(); err != nil {
		return Recognition{}, errs.Wrap(f.name, errs.KindCanceled, err)
	}
	p := f.passes[min(f.calls, len(f.passes))-1]
	return p.rec, p.err
}

type fakeCorrector struct {
	available bool
	out       string
	err       error

	calls   int
	gotText string
	gotHint string
}

func (f *fakeCorrector) Name() string    { return "fake-corrector" }
func (f *fakeCorrector) Available() bool { return f.available }

func (f *fakeCorrector) Correct(_ context.Context, text, hint string) (string, error) {
	f.calls++
	f.gotText, f.gotHint = text, hint
	return f.out, f.err
}

func ocrPass(text string, conf float64) pass {
	return pass{rec: Recognition{Text: text, Lines: strings.Split(text, "\n"), Confidence: conf, Measured: true}}
}

func failPass(kind errs.Kind) pass {
	return pass{err: errs.New("fake", kind, string(kind))}
}

func visionPass(text string) pass {
	return pass{rec: Recognition{Text: text, Confidence: 0.95}}
}

// tag marks which profile produced the bytes so tests can check routing.
func tag(prefix string) func([]byte) []byte {
	return func(b []byte) []byte { return append([]byte(prefix), b...) }
}

func newTestRecognizer(vision, reader Engine, corr Corrector) *Recognizer {
	return NewRecognizer(vision, reader, corr,
		WithPreprocessors(tag("V:"), tag("S:"), tag("E:")),
	)
}

var img = []byte("image-bytes")

func assertInvariants(t *testing.T, r Result) {
	t.Helper()
	if !r.Success {
		assert.Empty(t, r.Text, "failed result must have no text")
		assert.Zero(t, r.Confidence, "failed result must have zero confidence")
		assert.NotEmpty(t, r.Error)
	}
	if r.Corrected {
		assert.True(t, r.Success, "corrected implies success")
	}
	assert.GreaterOrEqual(t, r.Confidence, 0.0)
	assert.LessOrEqual(t, r.Confidence, 1.0)
	assert.NotEmpty(t, r.RequestID)
}

func TestRecognizer_VisionSuccess(t *testing.T) {
	vision := &fakeEngine{name: "claude", available: true, passes: []pass{visionPass("  Ответ: 42 \n")}}
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{ocrPass("x", 0.9)}}
	corr := &fakeCorrector{available: true, out: "y"}

	res := newTestRecognizer(vision, reader, corr).Recognize(context.Background(), img, "")
	assertInvariants(t, res)

	assert.True(t, res.Success)
	assert.Equal(t, "Ответ: 42", res.Text)
	assert.Equal(t, "claude", res.Provider)
	assert.Equal(t, 0.95, res.Confidence)
	assert.False(t, res.ConfidenceMeasured)
	assert.False(t, res.Corrected)
	assert.Zero(t, reader.calls)
	assert.Zero(t, corr.calls)
	assert.Equal(t, []byte("V:image-bytes"), vision.images[0])
}

func TestRecognizer_FallbackWhenVisionUnavailable(t *testing.T) {
	vision := &fakeEngine{name: "claude", available: false}
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{ocrPass("мама мыла раму", 0.97)}}
	corr := &fakeCorrector{available: true, out: "should not be used"}

	res := newTestRecognizer(vision, reader, corr).Recognize(context.Background(), img, "")
	assertInvariants(t, res)

	assert.True(t, res.Success)
	assert.Equal(t, "мама мыла раму", res.Text)
	assert.False(t, res.Corrected)
	assert.True(t, res.ConfidenceMeasured)
	assert.Equal(t, "yandex", res.Provider)
	assert.Zero(t, vision.calls)
	assert.Zero(t, corr.calls)
	assert.Equal(t, []byte("S:image-bytes"), reader.images[0])
}

func TestRecognizer_FallbackOnVisionFailure(t *testing.T) {
	for _, kind := range []errs.Kind{
		errs.KindAuth, errs.KindRateLimited, errs.KindServer, errs.KindTimeout,
		errs.KindConnection, errs.KindMalformed, errs.KindBadRequest, errs.KindEmptyResult,
	} {
		t.Run(string(kind), func(t *testing.T) {
			vision := &fakeEngine{name: "claude", available: true, passes: []pass{failPass(kind)}}
			reader := &fakeEngine{name: "yandex", available: true, passes: []pass{ocrPass("текст", 0.99)}}

			res := newTestRecognizer(vision, reader, nil).Recognize(context.Background(), img, "")
			assertInvariants(t, res)
			assert.True(t, res.Success)
			assert.Equal(t, "текст", res.Text)
			assert.Equal(t, 1, reader.calls)
		})
	}
}

func TestRecognizer_VisionEmptyTextFallsBack(t *testing.T) {
	vision := &fakeEngine{name: "claude", available: true, passes: []pass{visionPass("   ")}}
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{ocrPass("текст", 0.99)}}

	res := newTestRecognizer(vision, reader, nil).Recognize(context.Background(), img, "")
	assert.True(t, res.Success)
	assert.Equal(t, "yandex", res.Provider)
}

func TestRecognizer_EnhancedPassWins(t *testing.T) {
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{
		ocrPass("мама мыпа раму", 0.3),
		ocrPass("мама мыла раму", 0.8),
	}}

	res := newTestRecognizer(nil, reader, nil).Recognize(context.Background(), img, "")
	assertInvariants(t, res)

	require.Equal(t, 2, reader.calls)
	assert.Equal(t, []byte("E:image-bytes"), reader.images[1])
	assert.Equal(t, "мама мыла раму", res.Text)
	assert.Equal(t, 0.8, res.Confidence)
	assert.True(t, res.Enhanced)
	assert.Empty(t, res.Warning)
}

func TestRecognizer_EnhancedPassWorseKeepsFirst(t *testing.T) {
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{
		ocrPass("first", 0.4),
		ocrPass("second", 0.2),
	}}

	res := newTestRecognizer(nil, reader, nil).Recognize(context.Background(), img, "")
	assert.Equal(t, "first", res.Text)
	assert.False(t, res.Enhanced)
	assert.Equal(t, WarnLowConfidence, res.Warning)
}

func TestRecognizer_EnhancedPassFailureKeepsFirst(t *testing.T) {
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{
		ocrPass("first", 0.4),
		failPass(errs.KindServer),
	}}

	res := newTestRecognizer(nil, reader, nil).Recognize(context.Background(), img, "")
	assertInvariants(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, "first", res.Text)
	assert.Equal(t, 0.4, res.Confidence)
}

func TestRecognizer_NoEnhancedPassAboveThreshold(t *testing.T) {
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{ocrPass("ok", 0.5)}}

	res := newTestRecognizer(nil, reader, nil).Recognize(context.Background(), img, "")
	assert.Equal(t, 1, reader.calls)
	assert.Equal(t, "ok", res.Text)
}

func TestRecognizer_Correction(t *testing.T) {
	tests := []struct {
		name          string
		ocrText       string
		conf          float64
		corr          *fakeCorrector
		wantText      string
		wantCorrected bool
		wantCalls     int
	}{
		{
			name:    "accepted",
			ocrText: "мама мыпа рамy", conf: 0.7,
			corr:     &fakeCorrector{available: true, out: "мама мыла раму"},
			wantText: "мама мыла раму", wantCorrected: true, wantCalls: 1,
		},
		{
			name:    "code fences stripped",
			ocrText: "мама мыпа рамy", conf: 0.7,
			corr:     &fakeCorrector{available: true, out: "```\nмама мыла раму\n```"},
			wantText: "мама мыла раму", wantCorrected: true, wantCalls: 1,
		},
		{
			name:    "too short is rejected",
			ocrText: "мама мыла раму очень долго", conf: 0.7,
			corr:     &fakeCorrector{available: true, out: "мама"},
			wantText: "мама мыла раму очень долго", wantCalls: 1,
		},
		{
			name:    "exactly thirty percent is accepted",
			ocrText: "0123456789", conf: 0.7,
			corr:     &fakeCorrector{available: true, out: "abc"},
			wantText: "abc", wantCorrected: true, wantCalls: 1,
		},
		{
			name:    "unchanged text is not marked corrected",
			ocrText: "всё верно", conf: 0.7,
			corr:     &fakeCorrector{available: true, out: "всё верно\n"},
			wantText: "всё верно", wantCalls: 1,
		},
		{
			name:    "empty correction is rejected",
			ocrText: "текст", conf: 0.7,
			corr:     &fakeCorrector{available: true, out: "  "},
			wantText: "текст", wantCalls: 1,
		},
		{
			name:    "corrector error keeps OCR text",
			ocrText: "текст", conf: 0.7,
			corr:     &fakeCorrector{available: true, err: errs.New("gpt", errs.KindServer, "boom")},
			wantText: "текст", wantCalls: 1,
		},
		{
			name:    "high confidence skips correction",
			ocrText: "текст", conf: 0.95,
			corr:     &fakeCorrector{available: true, out: "другое"},
			wantText: "текст",
		},
		{
			name:    "unavailable corrector is skipped",
			ocrText: "текст", conf: 0.7,
			corr:     &fakeCorrector{available: false, out: "другое"},
			wantText: "текст",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &fakeEngine{name: "yandex", available: true, passes: []pass{ocrPass(tt.ocrText, tt.conf)}}

			res := newTestRecognizer(nil, reader, tt.corr).Recognize(context.Background(), img, "задание 5")
			assertInvariants(t, res)

			assert.True(t, res.Success)
			assert.Equal(t, tt.wantText, res.Text)
			assert.Equal(t, tt.wantCorrected, res.Corrected)
			assert.Equal(t, tt.conf, res.Confidence)
			assert.Equal(t, tt.wantCalls, tt.corr.calls)
			if tt.wantCalls > 0 {
				assert.Equal(t, tt.ocrText, tt.corr.gotText)
				assert.Equal(t, "задание 5", tt.corr.gotHint)
			}
		})
	}
}

func TestRecognizer_BlankImageEndToEnd(t *testing.T) {
	vision := &fakeEngine{name: "claude", available: true, passes: []pass{visionPass("")}}
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{ocrPass("", 0)}}
	corr := &fakeCorrector{available: true, out: "invented"}

	res := newTestRecognizer(vision, reader, corr).Recognize(context.Background(), img, "")
	assertInvariants(t, res)

	assert.False(t, res.Success)
	assert.Equal(t, MsgNoText, res.Error)
	assert.Equal(t, WarnRetake, res.Warning)
	assert.Zero(t, res.Confidence)
	assert.Equal(t, errs.KindEmptyResult, res.ErrorKind)
	assert.Equal(t, 1, reader.calls)
	assert.Zero(t, corr.calls)
}

func TestRecognizer_OCRFailureIsFinal(t *testing.T) {
	vision := &fakeEngine{name: "claude", available: true, passes: []pass{failPass(errs.KindServer)}}
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{failPass(errs.KindTimeout)}}

	res := newTestRecognizer(vision, reader, nil).Recognize(context.Background(), img, "")
	assertInvariants(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, MsgUnavailable, res.Error)
	assert.Equal(t, WarnTypeInstead, res.Warning)
	assert.Equal(t, errs.KindTimeout, res.ErrorKind)
	assert.Equal(t, 1, reader.calls)
}

func TestRecognizer_VisionFailureWithoutOCR(t *testing.T) {
	vision := &fakeEngine{name: "claude", available: true, passes: []pass{failPass(errs.KindEmptyResult)}}

	res := newTestRecognizer(vision, nil, nil).Recognize(context.Background(), img, "")
	assertInvariants(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, MsgNoText, res.Error)
}

func TestRecognizer_NoProviders(t *testing.T) {
	res := newTestRecognizer(&fakeEngine{name: "a"}, &fakeEngine{name: "b"}, nil).Recognize(context.Background(), img, "")
	assertInvariants(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, errs.KindUnavailable, res.ErrorKind)
}

func TestRecognizer_EmptyImage(t *testing.T) {
	vision := &fakeEngine{name: "claude", available: true, passes: []pass{visionPass("x")}}
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{ocrPass("x", 1)}}

	res := newTestRecognizer(vision, reader, nil).Recognize(context.Background(), nil, "")
	assertInvariants(t, res)
	assert.Equal(t, MsgUnreadable, res.Error)
	assert.Zero(t, vision.calls)
	assert.Zero(t, reader.calls)
}

func TestRecognizer_VisionInvalidInputIsFinal(t *testing.T) {
	vision := &fakeEngine{name: "claude", available: true, passes: []pass{failPass(errs.KindInvalidInput)}}
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{ocrPass("x", 1)}}

	res := newTestRecognizer(vision, reader, nil).Recognize(context.Background(), img, "")
	assert.Equal(t, MsgUnreadable, res.Error)
	assert.Zero(t, reader.calls)
}

func TestRecognizer_CanceledDoesNotFallBack(t *testing.T) {
	vision := &fakeEngine{name: "claude", available: true, passes: []pass{visionPass("x")}}
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{ocrPass("x", 1)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := newTestRecognizer(vision, reader, nil).Recognize(ctx, img, "")
	assertInvariants(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, errs.KindCanceled, res.ErrorKind)
	assert.Zero(t, reader.calls)
}

func TestRecognizer_DoesNotModifyImage(t *testing.T) {
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{ocrPass("x", 0.1), ocrPass("y", 0.2)}}
	in := []byte("original")
	res := newTestRecognizer(nil, reader, nil).Run(context.Background(), Request{Image: in})
	assert.True(t, res.Success)
	assert.Equal(t, []byte("original"), in)
}

func TestRecognizer_CustomThresholds(t *testing.T) {
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{ocrPass("abc", 0.6), ocrPass("abd", 0.65)}}
	corr := &fakeCorrector{available: true, out: "abe"}

	r := NewRecognizer(nil, reader, corr,
		WithPreprocessors(tag("V:"), tag("S:"), tag("E:")),
		WithThresholds(Thresholds{EnhancedRetry: 0.7, Correction: 0.6}),
	)
	res := r.Recognize(context.Background(), img, "")
	assert.Equal(t, 2, reader.calls)
	assert.Equal(t, "abd", res.Text)
	assert.Zero(t, corr.calls)
	assert.Equal(t, WarnLowConfidence, res.Warning)
}

func TestRecognizer_ConcurrentCallsAreIndependent(t *testing.T) {
	reader := &fakeEngine{name: "yandex", available: true, passes: []pass{ocrPass("same", 0.99)}}
	r := newTestRecognizer(nil, reader, nil)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = r.Recognize(context.Background(), img, "").RequestID
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestRecognizer_Providers(t *testing.T) {
	r := NewRecognizer(&fakeEngine{name: "v", available: true}, nil, &fakeCorrector{})
	assert.Equal(t, map[string]string{
		"vision":    "ready",
		"ocr":       "unavailable",
		"corrector": "unavailable",
	}, r.Providers())
}
