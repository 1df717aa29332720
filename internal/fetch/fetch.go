// Package fetch provides HTTP retrieval of manifests and documents.
// This package centralizes HTTP logic used by the manifest loader and the metadata probes.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; EbookCatalog/1.0)"

// ErrBodyTooLarge is returned when a response body exceeds Options.MaxBodySize.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Result holds the body and status of a GET request.
type Result struct {
	URL         string
	Body        []byte
	ContentType string
	StatusCode  int
}

// HeadResult holds what a HEAD request reported about a resource.
type HeadResult struct {
	URL        string
	StatusCode int
	// ContentLength is -1 when the server sent no usable length header.
	ContentLength int64
}

// HasLength reports whether the response carried a length header.
func (h *HeadResult) HasLength() bool {
	return h.ContentLength >= 0
}

// Error represents an error during URL fetching.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Options configures the fetch behavior.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
	// Client overrides the per-call client. Timeout is ignored when set.
	Client *http.Client
	// MaxBodySize caps how many bytes URL reads. Zero means no limit.
	MaxBodySize int64
}

// DefaultOptions returns sensible defaults for fetching.
func DefaultOptions() *Options {
	return &Options{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}

// URL retrieves the full body of a URL with a GET request.
// A non-2xx status returns the Result together with an *Error.
func URL(ctx context.Context, urlStr string, opts *Options) (*Result, error) {
	resp, err := do(ctx, http.MethodGet, urlStr, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var body io.Reader = resp.Body
	limit := int64(0)
	if opts != nil {
		limit = opts.MaxBodySize
	}
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}

	bodyBytes, err := io.ReadAll(body)
	if err != nil {
		return nil, &Error{
			URL:     urlStr,
			Message: "failed to read response body",
			Cause:   err,
		}
	}
	if limit > 0 && int64(len(bodyBytes)) > limit {
		return nil, &Error{
			URL:     urlStr,
			Message: fmt.Sprintf("body larger than %d bytes", limit),
			Cause:   ErrBodyTooLarge,
		}
	}

	result := &Result{
		URL:         urlStr,
		Body:        bodyBytes,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}

	if !isSuccess(resp.StatusCode) {
		return result, &Error{
			URL:     urlStr,
			Message: fmt.Sprintf("HTTP status %d", resp.StatusCode),
		}
	}

	return result, nil
}

// Head issues a header-only request for a URL.
// A non-2xx status returns the HeadResult together with an *Error.
func Head(ctx context.Context, urlStr string, opts *Options) (*HeadResult, error) {
	resp, err := do(ctx, http.MethodHead, urlStr, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	result := &HeadResult{
		URL:           urlStr,
		StatusCode:    resp.StatusCode,
		ContentLength: contentLength(resp),
	}

	if !isSuccess(resp.StatusCode) {
		return result, &Error{
			URL:     urlStr,
			Message: fmt.Sprintf("HTTP status %d", resp.StatusCode),
		}
	}

	return result, nil
}

func do(ctx context.Context, method, urlStr string, opts *Options) (*http.Response, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	// Validate URL
	parsedURL, err := url.Parse(urlStr)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, &Error{
			URL:     urlStr,
			Message: "invalid URL",
			Cause:   err,
		}
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return nil, &Error{
			URL:     urlStr,
			Message: "failed to create request",
			Cause:   err,
		}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{
			URL:     urlStr,
			Message: "HTTP request failed",
			Cause:   err,
		}
	}
	return resp, nil
}

// contentLength prefers the raw header and falls back to what net/http parsed.
func contentLength(resp *http.Response) int64 {
	if raw := resp.Header.Get("Content-Length"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	return -1
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// IsRemote reports whether a location should be fetched over HTTP.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ResolveReference resolves ref against the location of the document that mentions it.
// Absolute URLs are returned unchanged, as are absolute paths next to a local manifest.
func ResolveReference(base, ref string) string {
	if ref == "" || base == "" || IsRemote(ref) {
		return ref
	}
	if refURL, err := url.Parse(ref); err == nil && refURL.Scheme != "" {
		return ref
	}

	if IsRemote(base) {
		baseURL, err := url.Parse(base)
		if err != nil {
			return ref
		}
		refURL, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return baseURL.ResolveReference(refURL).String()
	}

	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(filepath.Dir(LocalPath(base)), filepath.FromSlash(ref))
}

// LocalPath strips a file:// scheme from a location.
func LocalPath(location string) string {
	if u, err := url.Parse(location); err == nil && u.Scheme == "file" {
		return filepath.FromSlash(u.Path)
	}
	return location
}
