package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
	"github.com/ymparistovahti/vahti/pkg/utils/safe"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxBody  = 10 << 20 // 10 MB
	defaultInterval = time.Second
	maxAttempts     = 4 // initial try + 3 retries
)

// backoffs between retry attempts
var backoffs = []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

// Response is a fully-read upstream response
type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	FinalURL    string
	ContentType string
}

// Text returns the body as a string
func (r *Response) Text() string {
	return string(r.Body)
}

// Gateway performs SSRF-safe, rate-limited, retrying HTTP fetches with
// polite headers. One Gateway is shared process-wide so the per-host
// rate limit holds across connectors and stages.
type Gateway struct {
	userAgent string
	timeout   time.Duration
	maxBody   int64
	limiter   *hostLimiter
	resolver  *net.Resolver
	sleep     func(context.Context, time.Duration) error

	// allowLoopback disables the private-range guard, for tests against
	// local listeners only
	allowLoopback bool
}

// Option configures a Gateway
type Option func(*Gateway)

// WithContact sets the contact address embedded into the User-Agent
func WithContact(email string) Option {
	return func(g *Gateway) {
		g.userAgent = fmt.Sprintf("vahti/1.0 (+municipal decision monitor; %s)", email)
	}
}

// WithTimeout overrides the per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// WithMaxBody overrides the response body cap
func WithMaxBody(n int64) Option {
	return func(g *Gateway) {
		g.maxBody = n
	}
}

// WithRateInterval overrides the per-host minimum request interval
func WithRateInterval(d time.Duration) Option {
	return func(g *Gateway) {
		g.limiter = newHostLimiter(d)
	}
}

// WithSleep overrides the backoff sleep, for tests
func WithSleep(f func(context.Context, time.Duration) error) Option {
	return func(g *Gateway) {
		g.sleep = f
	}
}

// New creates a Gateway
func New(opts ...Option) *Gateway {
	g := &Gateway{
		userAgent: "vahti/1.0 (+municipal decision monitor; ops@example.org)",
		timeout:   defaultTimeout,
		maxBody:   defaultMaxBody,
		limiter:   newHostLimiter(defaultInterval),
		resolver:  net.DefaultResolver,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch retrieves a URL with validation, rate limiting and retries
func (g *Gateway) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	return g.fetch(ctx, rawURL, "")
}

// Download retrieves a URL into destPath, validating the content type
// against expectedMIME when given (response header or magic bytes must
// match). The file is fsynced before return. Returns the byte count and
// the detected MIME type.
func (g *Gateway) Download(ctx context.Context, rawURL, destPath, expectedMIME string) (int64, string, error) {
	resp, err := g.fetch(ctx, rawURL, expectedMIME)
	if err != nil {
		return 0, "", err
	}

	mime := detectMIME(resp)
	if expectedMIME != "" && !mimeMatches(resp, expectedMIME) {
		return 0, "", goerr.New("content type mismatch", goerr.T(TagContentMismatch),
			goerr.V("url", rawURL), goerr.V("expected", expectedMIME), goerr.V("got", mime))
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, "", goerr.Wrap(err, "failed to create storage directory", goerr.V("path", destPath))
	}
	f, err := os.Create(destPath)
	if err != nil {
		return 0, "", goerr.Wrap(err, "failed to create file", goerr.V("path", destPath))
	}
	if _, err := f.Write(resp.Body); err != nil {
		safe.Close(ctx, f)
		return 0, "", goerr.Wrap(err, "failed to write file", goerr.V("path", destPath))
	}
	// Durable before any DB commit references the file.
	if err := f.Sync(); err != nil {
		safe.Close(ctx, f)
		return 0, "", goerr.Wrap(err, "failed to sync file", goerr.V("path", destPath))
	}
	if err := f.Close(); err != nil {
		return 0, "", goerr.Wrap(err, "failed to close file", goerr.V("path", destPath))
	}

	return int64(len(resp.Body)), mime, nil
}

func (g *Gateway) fetch(ctx context.Context, rawURL, expectedMIME string) (*Response, error) {
	u, ip, err := vetURL(ctx, g.resolver, rawURL, g.allowLoopback)
	if err != nil {
		return nil, err
	}

	if err := g.limiter.wait(ctx, u.Hostname()); err != nil {
		return nil, goerr.Wrap(err, "rate limit wait interrupted", goerr.T(TagTransportError),
			goerr.V("url", rawURL))
	}

	client := g.clientFor(u.Hostname(), ip)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := backoffs[attempt-1]
			if ra := retryAfter(lastErr); ra > 0 {
				wait = ra
			}
			if err := g.sleep(ctx, wait); err != nil {
				return nil, goerr.Wrap(err, "retry backoff interrupted", goerr.T(TagTransportError),
					goerr.V("url", rawURL))
			}
		}

		resp, err := g.attempt(ctx, client, u.String(), expectedMIME)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		logging.From(ctx).Debug("retrying fetch",
			"url", rawURL, "attempt", attempt+1, "error", err.Error())
	}

	return nil, lastErr
}

// clientFor builds a client that dials the vetted IP regardless of what
// the hostname resolves to at connect time.
func (g *Gateway) clientFor(host string, ip net.IP) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			_, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		},
		TLSClientConfig:   &tls.Config{ServerName: host},
		ForceAttemptHTTP2: true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   g.timeout,
		// Redirect targets must pass the same vetting as the original URL.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			_, _, err := vetURL(req.Context(), g.resolver, req.URL.String(), g.allowLoopback)
			return err
		},
	}
}

func (g *Gateway) attempt(ctx context.Context, client *http.Client, url, expectedMIME string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build request", goerr.T(TagTransportError), goerr.V("url", url))
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept-Language", "fi-FI,fi;q=0.9,en;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if expectedMIME != "" {
		req.Header.Set("Accept", expectedMIME+", */*;q=0.5")
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, goerr.Wrap(err, "request timed out", goerr.T(TagTimeout), goerr.V("url", url))
		}
		return nil, goerr.Wrap(err, "request failed", goerr.T(TagTransportError), goerr.V("url", url))
	}
	defer safe.Close(ctx, resp.Body)

	if resp.StatusCode >= 400 {
		tag := TagStatus4xx
		if resp.StatusCode >= 500 {
			tag = TagStatus5xx
		}
		gerr := goerr.New("upstream returned error status", goerr.T(tag),
			goerr.V("url", url), goerr.V("status", resp.StatusCode),
			goerr.V("retryAfter", resp.Header.Get("Retry-After")))
		return nil, gerr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBody+1))
	if err != nil {
		if isTimeout(err) {
			return nil, goerr.Wrap(err, "response read timed out", goerr.T(TagTimeout), goerr.V("url", url))
		}
		return nil, goerr.Wrap(err, "failed to read response", goerr.T(TagTransportError), goerr.V("url", url))
	}
	if int64(len(body)) > g.maxBody {
		return nil, goerr.New("response exceeds size limit", goerr.T(TagOversize),
			goerr.V("url", url), goerr.V("limit", g.maxBody))
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        body,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// retryable reports whether the failure is transient: network errors,
// timeouts, 5xx, and the retry-inviting 408/429 statuses.
func retryable(err error) bool {
	if goerr.HasTag(err, TagTransportError) || goerr.HasTag(err, TagTimeout) || goerr.HasTag(err, TagStatus5xx) {
		return true
	}
	if goerr.HasTag(err, TagStatus4xx) {
		if status, ok := errValue[int](err, "status"); ok {
			return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
		}
	}
	return false
}

// retryAfter extracts an upstream Retry-After hint from a status error,
// either as seconds or an HTTP date.
func retryAfter(err error) time.Duration {
	raw, ok := errValue[string](err, "retryAfter")
	if !ok || raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func errValue[T any](err error, key string) (T, bool) {
	var zero T
	var ge *goerr.Error
	if !errors.As(err, &ge) {
		return zero, false
	}
	v, ok := ge.Values()[key]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func detectMIME(resp *Response) string {
	if ct := resp.ContentType; ct != "" {
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}
		return strings.TrimSpace(ct)
	}
	return http.DetectContentType(resp.Body)
}

// mimeMatches accepts the response when either the declared content type
// or the magic bytes agree with the expectation.
func mimeMatches(resp *Response, expected string) bool {
	if strings.HasPrefix(detectMIME(resp), expected) {
		return true
	}
	if expected == "application/pdf" {
		return bytes.HasPrefix(resp.Body, []byte("%PDF-"))
	}
	return strings.HasPrefix(http.DetectContentType(resp.Body), expected)
}
