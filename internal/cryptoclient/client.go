// Package cryptoclient calls the crypto round-trip service. Callers never see
// a failure: when the service cannot answer, the text is passed through and
// the Result says so.
package cryptoclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/trunov/captionhub/internal/cipher"
	"github.com/trunov/captionhub/internal/metrics"
)

var ErrNotConfigured = errors.New("crypto service url not configured")

// Result is the outcome of one transform. Transformed is false when Text is
// the caller's input returned unchanged.
type Result struct {
	Text        string
	Transformed bool
}

type request struct {
	Text   string        `json:"text"`
	Action cipher.Action `json:"action"`
}

type response struct {
	Result *string `json:"result"`
	Error  string  `json:"error"`
}

type Client struct {
	url  string
	http *http.Client
	log  *logrus.Entry
}

func New(url string, timeout time.Duration, log *logrus.Entry) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
		log:  log.WithField("component", "crypto-client"),
	}
}

// Transform calls the service and returns its error unchanged.
func (c *Client) Transform(ctx context.Context, action cipher.Action, text string) (string, error) {
	if c.url == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(request{Text: text, Action: action})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call crypto service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read crypto response: %w", err)
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode crypto response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("crypto service status %d: %s", resp.StatusCode, out.Error)
	}
	if out.Result == nil {
		return "", errors.New("crypto service response has no result")
	}
	return *out.Result, nil
}

// Protect encrypts a caption, falling back to the plaintext.
func (c *Client) Protect(ctx context.Context, text string) Result {
	return c.transformOrPass(ctx, cipher.ActionEncrypt, text)
}

// Reveal decrypts a caption, falling back to the stored text.
func (c *Client) Reveal(ctx context.Context, text string) Result {
	return c.transformOrPass(ctx, cipher.ActionDecrypt, text)
}

func (c *Client) transformOrPass(ctx context.Context, action cipher.Action, text string) Result {
	if text == "" || c.url == "" {
		return Result{Text: text}
	}

	out, err := c.Transform(ctx, action, text)
	if err != nil {
		metrics.CryptoFallbacks.WithLabelValues(string(action)).Inc()
		c.log.WithError(err).WithField("action", action).Warn("crypto service unavailable, passing text through")
		sentry.CaptureException(err)
		return Result{Text: text}
	}
	return Result{Text: out, Transformed: true}
}
