package yandex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"answer-ocr/api/internal/errs"
	"answer-ocr/api/internal/transport"
)

var jpeg = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

const okResponse = `{
  "result": {
    "textAnnotation": {
      "fullText": "Мама мыла\nраму",
      "blocks": [{
        "lines": [
          {"text": "Мама мыла", "words": [{"text": "Мама", "confidence": 0.9}, {"text": "мыла", "confidence": 0.7}]},
          {"text": "  ", "words": []},
          {"text": "раму", "words": [{"text": "раму", "confidence": 0.5}]}
        ]
      }]
    }
  }
}`

func newEngine(t *testing.T, cfg Config, endpoint string) *Engine {
	t.Helper()
	cfg.Transport = transport.Config{Endpoint: endpoint, Retries: 2, BaseDelay: time.Millisecond, Timeout: 2 * time.Second}
	e, err := New(cfg, nil)
	require.NoError(t, err)
	return e
}

func TestRecognize_APIKey(t *testing.T) {
	var got request
	var hdr http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(okResponse))
	}))
	defer srv.Close()

	e := newEngine(t, Config{APIKey: "k1", FolderID: "f1"}, srv.URL)
	require.True(t, e.Available())

	rec, err := e.Recognize(context.Background(), jpeg, "")
	require.NoError(t, err)

	assert.Equal(t, "Api-Key k1", hdr.Get("Authorization"))
	assert.Equal(t, "f1", hdr.Get("x-folder-id"))
	assert.Equal(t, "false", hdr.Get("x-data-logging-enabled"))
	assert.Equal(t, "JPEG", got.MimeType)
	assert.Equal(t, "handwritten", got.Model)
	assert.Equal(t, []string{"ru", "en"}, got.LanguageCodes)
	assert.Equal(t, base64.StdEncoding.EncodeToString(jpeg), got.Content)

	assert.Equal(t, "Мама мыла\nраму", rec.Text)
	assert.Equal(t, []string{"Мама мыла", "раму"}, rec.Lines)
	assert.InDelta(t, 0.7, rec.Confidence, 1e-9)
	assert.True(t, rec.Measured)
}

func TestAvailable(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"api key", Config{APIKey: "k", FolderID: "f"}, true},
		{"oauth", Config{OAuthToken: "o", FolderID: "f"}, true},
		{"no folder", Config{APIKey: "k"}, false},
		{"no credentials", Config{FolderID: "f"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Available())
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		text     string
		conf     float64
		measured bool
		kind     errs.Kind
	}{
		{name: "no words means zero confidence", body: `{"result":{"textAnnotation":{"blocks":[{"lines":[{"text":"abc"}]}]}}}`, text: "abc"},
		{name: "words without confidence", body: `{"result":{"textAnnotation":{"blocks":[{"lines":[{"text":"abc","words":[{"text":"abc"}]}]}]}}}`, text: "abc"},
		{name: "full text fallback", body: `{"result":{"textAnnotation":{"fullText":" one\ntwo ","blocks":[]}}}`, text: "one\ntwo"},
		{name: "partial confidences", body: `{"result":{"textAnnotation":{"blocks":[{"lines":[{"text":"a b","words":[{"text":"a","confidence":1},{"text":"b"}]}]}]}}}`, text: "a b", conf: 1, measured: true},
		{name: "empty text", body: `{"result":{"textAnnotation":{"fullText":"","blocks":[{"lines":[]}]}}}`, kind: errs.KindEmptyResult},
		{name: "no annotation", body: `{"result":{}}`, kind: errs.KindEmptyResult},
		{name: "not json", body: `<html>`, kind: errs.KindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := parse([]byte(tt.body))
			if tt.kind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.kind, errs.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.text, rec.Text)
			assert.Equal(t, tt.conf, rec.Confidence)
			assert.Equal(t, tt.measured, rec.Measured)
		})
	}
}

func TestRecognize_UnsupportedFormat(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	e := newEngine(t, Config{APIKey: "k", FolderID: "f"}, srv.URL)
	_, err := e.Recognize(context.Background(), []byte("GIF89a"), "")
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestRecognize_ServerErrorsAreRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := newEngine(t, Config{APIKey: "k", FolderID: "f"}, srv.URL)
	_, err := e.Recognize(context.Background(), jpeg, "")
	assert.Equal(t, errs.KindServer, errs.KindOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func iamServer(t *testing.T, tokens ...string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["yandexPassportOauthToken"] != "oauth" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		tok := tokens[min(int(n), len(tokens))-1]
		_ = json.NewEncoder(w).Encode(map[string]string{"iamToken": tok})
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestRecognize_IAMTokenIsCached(t *testing.T) {
	iam, iamHits := iamServer(t, "t1")
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(okResponse))
	}))
	defer srv.Close()

	e := newEngine(t, Config{OAuthToken: "oauth", FolderID: "f", IAMEndpoint: iam.URL}, srv.URL)
	for i := 0; i < 3; i++ {
		_, err := e.Recognize(context.Background(), jpeg, "")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(iamHits))
	assert.Equal(t, []string{"Bearer t1", "Bearer t1", "Bearer t1"}, auths)
}

func TestRecognize_StaleIAMTokenIsRefreshedOnce(t *testing.T) {
	iam, iamHits := iamServer(t, "stale", "fresh")
	var ocrHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ocrHits, 1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(okResponse))
	}))
	defer srv.Close()

	e := newEngine(t, Config{OAuthToken: "oauth", FolderID: "f", IAMEndpoint: iam.URL}, srv.URL)
	rec, err := e.Recognize(context.Background(), jpeg, "")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Text)
	assert.Equal(t, int32(2), atomic.LoadInt32(iamHits))
	assert.Equal(t, int32(2), atomic.LoadInt32(&ocrHits))
}

func TestRecognize_AuthFailureAfterRefresh(t *testing.T) {
	iam, _ := iamServer(t, "t1", "t2")
	var ocrHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ocrHits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	e := newEngine(t, Config{OAuthToken: "oauth", FolderID: "f", IAMEndpoint: iam.URL}, srv.URL)
	_, err := e.Recognize(context.Background(), jpeg, "")
	assert.Equal(t, errs.KindAuth, errs.KindOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&ocrHits))
}

func TestIamClient_Expiry(t *testing.T) {
	iam, hits := iamServer(t, "t1", "t2")
	c, err := NewIamClient("oauth", transport.Config{Endpoint: iam.URL})
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t1", tok)

	now = now.Add(10 * time.Hour)
	tok, _ = c.Token(context.Background())
	assert.Equal(t, "t1", tok)

	now = now.Add(time.Hour)
	tok, _ = c.Token(context.Background())
	assert.Equal(t, "t2", tok)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestIamClient_BadOAuth(t *testing.T) {
	iam, _ := iamServer(t, "t1")
	c, err := NewIamClient("wrong", transport.Config{Endpoint: iam.URL})
	require.NoError(t, err)

	_, err = c.Token(context.Background())
	assert.Equal(t, errs.KindAuth, errs.KindOf(err))
}
