package provision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Transport fetches a remote artifact to a local destination path.
// Implementations must follow redirects and replace any partial file.
type Transport interface {
	Name() string
	Fetch(ctx context.Context, url, dest string) error
}

// httpTransport is the primary transport, a plain net/http download
type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport creates the primary download transport
func NewHTTPTransport(timeout time.Duration) Transport {
	return &httpTransport{client: &http.Client{Timeout: timeout}}
}

func (t *httpTransport) Name() string { return "http" }

func (t *httpTransport) Fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", url, err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}
	return writeToFile(dest, resp.Body)
}

// retryableTransport is the secondary transport. It is an independent
// implementation with its own retry policy, used when the primary fails.
type retryableTransport struct {
	client *retryablehttp.Client
}

// NewRetryableTransport creates the secondary download transport
func NewRetryableTransport(timeout time.Duration, retries int) Transport {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = timeout
	client.RetryMax = retries
	client.Logger = nil
	return &retryableTransport{client: client}
}

func (t *retryableTransport) Name() string { return "retryable-http" }

func (t *retryableTransport) Fetch(ctx context.Context, url, dest string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", url, err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}
	return writeToFile(dest, resp.Body)
}

func writeToFile(dest string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", dest, err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return nil
}
