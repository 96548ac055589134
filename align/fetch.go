package align

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for asset fetches.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of fetch attempts.
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// maxAssetBytes limits a fetched model or scan to 256 MB
	maxAssetBytes = 256 << 20
)

// FetchOption configures FetchAsset
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// IsRemote reports whether location is an http(s) URL rather than a file path
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// FetchAsset downloads a model or scan, retrying transient failures with
// exponential backoff. 4xx responses other than 408 and 429 are not retried.
func FetchAsset(ctx context.Context, rawURL string, opts ...FetchOption) ([]byte, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("fetch asset: URL is empty: %w", ErrInvalidInput)
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
	}
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	for attempt := range cfg.maxRetries {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch asset: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, retry, err := doFetch(ctx, client, rawURL)
		if err == nil {
			return body, nil
		}
		if !retry {
			return nil, fmt.Errorf("fetch asset: %w", err)
		}
		lastErr = err
		log.Printf("[FETCH] attempt %d/%d for %s failed: %v", attempt+1, cfg.maxRetries, rawURL, err)
	}

	return nil, fmt.Errorf("fetch asset: all %d attempts failed: %w", cfg.maxRetries, lastErr)
}

// doFetch performs one GET; retry reports whether the failure may be transient
func doFetch(ctx context.Context, client *http.Client, rawURL string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("HTTP GET %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode >= 500 ||
			resp.StatusCode == http.StatusRequestTimeout ||
			resp.StatusCode == http.StatusTooManyRequests
		return nil, transient, fmt.Errorf("HTTP GET %s: status %d", rawURL, resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("reading response from %s: %w", rawURL, err)
	}
	if len(body) > maxAssetBytes {
		return nil, false, fmt.Errorf("response from %s exceeds %d bytes: %w", rawURL, maxAssetBytes, ErrInvalidInput)
	}
	return body, false, nil
}

// remoteExt returns the file extension of a URL's path
func remoteExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}

// LoadMesh reads a mesh from a file path or an http(s) URL
func LoadMesh(ctx context.Context, location string, opts ...FetchOption) (*Mesh, error) {
	if !IsRemote(location) {
		return ParseMeshFile(location)
	}
	data, err := FetchAsset(ctx, location, opts...)
	if err != nil {
		return nil, err
	}
	return ParseMeshData(data, remoteExt(location))
}

// LoadScan reads a scan from a file path or an http(s) URL
func LoadScan(ctx context.Context, location string, opts ...FetchOption) (*Scan, error) {
	if !IsRemote(location) {
		return ParseScanFile(location)
	}
	data, err := FetchAsset(ctx, location, opts...)
	if err != nil {
		return nil, err
	}
	return ParseScanData(data, remoteExt(location))
}
