package robots

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

/*
Session

Responsibilities:
- Carry the per-site HTTP identity (user agent, extra headers, proxy)
- Skip TLS certificate verification
- Turn a 420 answer carrying Warcprox-Meta into a ReachedLimitError on every GET
- Report an unusable proxy as a ProxyError

A Session does not interpret robots.txt and never retries.
*/

// Session is an HTTP client configured for one site.
type Session struct {
	client  *http.Client
	headers http.Header
	proxy   string
}

// SessionFactory builds Sessions that share a default identity and timeout.
type SessionFactory struct {
	userAgent string
	timeout   time.Duration
	transport *http.Transport
}

// NewSessionFactory creates a factory. An empty userAgent falls back to
// DefaultUserAgent, a non-positive timeout to 30 seconds.
func NewSessionFactory(userAgent string, timeout time.Duration) *SessionFactory {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &SessionFactory{
		userAgent: userAgent,
		timeout:   timeout,
		transport: transport,
	}
}

// UserAgent is the default identity of sessions built by this factory.
func (f *SessionFactory) UserAgent() string {
	return f.userAgent
}

// NewSession builds a Session for site. proxy is a "host:port" address; an
// empty proxy means direct connections. A proxy that cannot be turned into a
// URL is reported as *ProxyError.
func (f *SessionFactory) NewSession(site Site, proxy string) (*Session, error) {
	transport := f.transport
	if proxy != "" {
		proxyURL, err := parseProxy(proxy)
		if err != nil {
			return nil, &ProxyError{Proxy: proxy, Err: err}
		}
		transport = f.transport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	headers := make(http.Header)
	headers.Set("Accept", "text/plain,text/html,*/*")
	headers.Set("Accept-Language", "en-US,en;q=0.9")
	headers.Set("User-Agent", f.userAgent)
	for name, value := range site.ExtraHeaders {
		headers.Set(name, value)
	}
	if site.UserAgent != "" {
		headers.Set("User-Agent", site.UserAgent)
	}

	return &Session{
		client: &http.Client{
			Timeout:   f.timeout,
			Transport: transport,
		},
		headers: headers,
		proxy:   proxy,
	}, nil
}

func parseProxy(proxy string) (*url.URL, error) {
	if strings.Contains(proxy, "://") {
		return nil, fmt.Errorf("proxy must be host:port, got %q", proxy)
	}
	host, port, err := net.SplitHostPort(proxy)
	if err != nil {
		return nil, err
	}
	if host == "" || port == "" {
		return nil, fmt.Errorf("proxy must be host:port, got %q", proxy)
	}
	return &url.URL{Scheme: "http", Host: proxy}, nil
}

// UserAgent is the identity sent with every request of this session.
func (s *Session) UserAgent() string {
	return s.headers.Get("User-Agent")
}

// Proxy is the "host:port" this session routes through, empty when direct.
func (s *Session) Proxy() string {
	return s.proxy
}

// Get issues a GET for rawURL. The caller owns the response body.
//
// A 420 response with a Warcprox-Meta header is consumed and returned as
// *ReachedLimitError. Every other response passes through unchanged.
func (s *Session) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for name, values := range s.headers {
		req.Header[name] = append([]string(nil), values...)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.classifyTransportError(err)
	}

	if resp.StatusCode == StatusReachedLimit {
		if _, present := resp.Header[http.CanonicalHeaderKey(HeaderWarcproxMeta)]; present {
			return nil, reachedLimit(resp)
		}
	}
	return resp, nil
}

func reachedLimit(resp *http.Response) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RobotsError{
			Message:   err.Error(),
			Retryable: true,
			Cause:     ErrCauseReadBodyFailure,
			Err:       err,
		}
	}

	var meta map[string]any
	if err := json.Unmarshal([]byte(resp.Header.Get(HeaderWarcproxMeta)), &meta); err != nil {
		return &RobotsError{
			Message:   err.Error(),
			Retryable: true,
			Cause:     ErrCauseInvalidLimitMeta,
			Err:       err,
		}
	}

	return &ReachedLimitError{Meta: meta, Body: string(body)}
}

// classifyTransportError reports proxy dial failures as *ProxyError. The
// transport tags them with the "proxyconnect" operation.
func (s *Session) classifyTransportError(err error) error {
	if s.proxy != "" {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "proxyconnect" {
			return &ProxyError{Proxy: s.proxy, Err: err}
		}
	}
	return &RobotsError{
		Message:   err.Error(),
		Retryable: true,
		Cause:     ErrCauseHttpFetchFailure,
		Err:       err,
	}
}
