package yandex

import (
	"context"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"answer-ocr/api/internal/errs"
	"answer-ocr/api/internal/transport"
)

// Credentials выбирает заголовок Authorization: статический API-ключ
// или IAM-токен, полученный по OAuth.
type Credentials struct {
	APIKey string
	IAM    *IamClient
}

func (c Credentials) Configured() bool { return c.APIKey != "" || c.IAM != nil }

func (c Credentials) header(ctx context.Context) (string, error) {
	if c.APIKey != "" {
		return "Api-Key " + c.APIKey, nil
	}
	if c.IAM == nil {
		return "", errs.New("yandex", errs.KindUnavailable, "no credentials")
	}
	tok, err := c.IAM.Token(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + tok, nil
}

// Client posts JSON to one Yandex Cloud endpoint with folder headers.
type Client struct {
	tr          *transport.Transport
	creds       Credentials
	folderID    string
	dataLogging bool
	log         *logrus.Entry
}

func NewClient(tr *transport.Transport, creds Credentials, folderID string, dataLogging bool) *Client {
	return &Client{
		tr:          tr,
		creds:       creds,
		folderID:    folderID,
		dataLogging: dataLogging,
		log:         logrus.WithFields(logrus.Fields{"component": "yandex", "endpoint": tr.Config().Name}),
	}
}

func (c *Client) Post(ctx context.Context, body []byte) ([]byte, error) {
	for try := 0; ; try++ {
		auth, err := c.creds.header(ctx)
		if err != nil {
			return nil, err
		}
		h := http.Header{}
		h.Set("Authorization", auth)
		h.Set("x-folder-id", c.folderID)
		h.Set("x-data-logging-enabled", strconv.FormatBool(c.dataLogging))

		_, out, err := c.tr.Execute(ctx, transport.Payload{Header: h, Body: body})
		if errs.KindOf(err) == errs.KindAuth && try == 0 && c.creds.APIKey == "" && c.creds.IAM != nil {
			// IAM-токен мог протухнуть раньше срока: один повтор со свежим
			c.log.Warn("auth rejected, refreshing IAM token")
			c.creds.IAM.Invalidate()
			continue
		}
		return out, err
	}
}
