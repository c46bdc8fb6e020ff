package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"sort"
)

// Transport opens a byte stream for a URL. Implementations signal
// transport-layer failures through the returned error.
type Transport interface {
	Open(ctx context.Context, u *url.URL) (io.ReadCloser, error)
}

// Registry maps URL schemes to Transport implementations.
type Registry struct {
	transports map[string]Transport
}

// NewRegistry creates a new empty transport registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// DefaultRegistry returns a registry with the built-in http, https and file
// transports.
func DefaultRegistry(client HTTPClient) *Registry {
	r := NewRegistry()
	h := &HTTPTransport{Client: client}
	r.Register("http", h)
	r.Register("https", h)
	r.Register("file", &FileTransport{})
	return r
}

// Register adds a transport for the given scheme.
func (r *Registry) Register(scheme string, t Transport) {
	r.transports[scheme] = t
}

// Get returns the transport for the given scheme.
func (r *Registry) Get(scheme string) (Transport, error) {
	t, ok := r.transports[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported url scheme '%s', supported schemes: %s", scheme, r.supportedSchemes())
	}
	return t, nil
}

func (r *Registry) supportedSchemes() string {
	schemes := make([]string, 0, len(r.transports))
	for s := range r.transports {
		schemes = append(schemes, s)
	}
	if len(schemes) == 0 {
		return "(none registered)"
	}
	sort.Strings(schemes)
	return fmt.Sprintf("%v", schemes)
}

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient returns an HTTPClient using http.DefaultClient.
type DefaultHTTPClient struct{}

func (DefaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return http.DefaultClient.Do(req)
}

// StatusError is a non-200 HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.Code, e.URL)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// HTTPTransport fetches http and https URLs.
type HTTPTransport struct {
	Client    HTTPClient
	UserAgent string
}

func (t *HTTPTransport) Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	client := t.Client
	if client == nil {
		client = DefaultHTTPClient{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	ua := t.UserAgent
	if ua == "" {
		ua = "formulary"
	}
	req.Header.Set("User-Agent", ua)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{URL: u.String(), Code: resp.StatusCode}
	}
	return resp.Body, nil
}

// FileTransport reads file:// URLs from the local filesystem.
type FileTransport struct{}

func (FileTransport) Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", p)
	}
	return f, nil
}

// retryable classifies transport errors. Missing local files, permission
// errors and client-side HTTP errors are permanent; everything else (dial
// failures, resets, 5xx) is worth retrying.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
