package yandex

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"answer-ocr/api/internal/errs"
	"answer-ocr/api/internal/transport"
)

const (
	DefaultIAMEndpoint = "https://iam.api.cloud.yandex.net/iam/v1/tokens"
	iamTokenTTL        = 11 * time.Hour
)

// IamClient обменивает OAuth-токен на IAM-токен и кэширует его.
// Один клиент на процесс, общий для OCR и GPT.
type IamClient struct {
	tr    *transport.Transport
	oauth string

	mu     sync.Mutex
	token  string
	expiry time.Time
	now    func() time.Time
}

func NewIamClient(oauth string, cfg transport.Config, opts ...transport.Option) (*IamClient, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultIAMEndpoint
	}
	if cfg.Name == "" {
		cfg.Name = "yandex-iam"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	tr, err := transport.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &IamClient{tr: tr, oauth: oauth, now: time.Now}, nil
}

func (c *IamClient) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiry.Add(-time.Minute)) {
		return c.token, nil
	}

	b, _ := json.Marshal(map[string]string{"yandexPassportOauthToken": c.oauth})
	_, body, err := c.tr.Execute(ctx, transport.Payload{Body: b})
	if err != nil {
		return "", err
	}

	var out struct {
		IamToken  string    `json:"iamToken"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.IamToken == "" {
		return "", errs.New(c.tr.Config().Name, errs.KindMalformed, "no iamToken in response")
	}

	c.token = out.IamToken
	c.expiry = c.now().Add(iamTokenTTL)
	if !out.ExpiresAt.IsZero() && out.ExpiresAt.Before(c.expiry) {
		c.expiry = out.ExpiresAt
	}
	return c.token, nil
}

// Invalidate drops the cached token so the next call exchanges a new one.
func (c *IamClient) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
