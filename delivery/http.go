package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/vinayprograms/activitykit/bus"
	"github.com/vinayprograms/activitykit/errors"
	"github.com/vinayprograms/activitykit/telemetry"
)

// HTTPConfig configures the HTTP sender.
type HTTPConfig struct {
	// Endpoint is the collector URL batches are POSTed to.
	Endpoint string

	// Timeout bounds one request. Zero leaves it to the transport.
	Timeout time.Duration

	// UserAgent is sent with each request.
	UserAgent string

	// Cookies are seeded into the jar for Endpoint so the collector can
	// associate batches with a signed-in user.
	Cookies []*http.Cookie

	// Headers are added to every request.
	Headers map[string]string
}

// DefaultHTTPConfig returns configuration with sensible defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:   30 * time.Second,
		UserAgent: "activitykit",
	}
}

// HTTPSender POSTs batches as JSON. Credentials ride in a cookie jar and
// connections are kept alive between flushes.
type HTTPSender struct {
	config   HTTPConfig
	endpoint *url.URL
	client   *http.Client
}

var _ Sender = (*HTTPSender)(nil)

// NewHTTPSender creates an HTTP sender.
func NewHTTPSender(cfg HTTPConfig) (*HTTPSender, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", cfg.Endpoint)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if len(cfg.Cookies) > 0 {
		jar.SetCookies(u, cfg.Cookies)
	}

	return &HTTPSender{
		config:   cfg,
		endpoint: u,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Jar:       jar,
			Transport: newKeepAliveTransport(),
		},
	}, nil
}

func newKeepAliveTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}

// Endpoint returns the configured endpoint URL.
func (s *HTTPSender) Endpoint() string {
	return s.endpoint.String()
}

// Send POSTs one batch. Any non-2xx status is an error.
func (s *HTTPSender) Send(ctx context.Context, p Payload) error {
	req, err := s.newRequest(ctx, p)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInternal, "building request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "POST "+s.endpoint.Path)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if e := errors.FromStatus(resp.StatusCode, "POST "+s.endpoint.Path); e != nil {
		return e
	}
	return nil
}

func (s *HTTPSender) newRequest(ctx context.Context, p Payload) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint.String(), bytes.NewReader(p.Body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	}
	if p.ID != "" {
		req.Header.Set(bus.HeaderBatchID, p.ID)
	}
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}
	telemetry.InjectHTTP(ctx, req.Header)
	return req, nil
}
