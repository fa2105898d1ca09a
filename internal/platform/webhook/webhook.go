// Package webhook delivers goal and patient events to external HTTP endpoints
// with HMAC-SHA256 signed payloads.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/psyrehab/rehab/internal/platform/notification"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
	TimestampHeader = "X-Webhook-Timestamp"
)

// SignPayload computes an HMAC-SHA256 signature of the payload using the given secret,
// returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the HMAC-SHA256
// of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Option configures a Sink.
type Option func(*Sink)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.client = c }
}

// Sink POSTs every event to a fixed list of endpoints. It implements
// notification.Sink; a failed endpoint does not stop delivery to the rest.
type Sink struct {
	endpoints []string
	secret    string
	client    *http.Client
}

// NewSink validates the endpoint URLs and returns a Sink signing with secret.
func NewSink(endpoints []string, secret string, opts ...Option) (*Sink, error) {
	for _, raw := range endpoints {
		if err := validateURL(raw); err != nil {
			return nil, err
		}
	}
	s := &Sink{
		endpoints: endpoints,
		secret:    secret,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// validateURL checks that the URL is non-empty and uses http or https.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid webhook url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url %q must use http or https", raw)
	}
	return nil
}

func (s *Sink) Name() string { return "webhook" }

// Deliver implements notification.Sink. The returned error names the first
// endpoint that failed.
func (s *Sink) Deliver(ctx context.Context, event notification.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	sig := SignPayload(payload, s.secret)

	var firstErr error
	for _, ep := range s.endpoints {
		if err := s.post(ctx, ep, event, payload, sig); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Sink) post(ctx context.Context, endpoint string, event notification.Event, payload []byte, sig string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+sig)
	req.Header.Set(EventHeader, string(event.Type))
	req.Header.Set(TimestampHeader, time.Now().UTC().Format(time.RFC3339))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: non-2xx response: %d", endpoint, resp.StatusCode)
	}
	return nil
}
