// Package fetch downloads the release tooling over HTTP.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dbrelease/internal/logging"
)

// Fetcher downloads url to dest.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// HTTPFetcher fetches with net/http, following redirects and failing on
// non-2xx responses.
type HTTPFetcher struct {
	client   *http.Client
	progress io.Writer
	logger   *logging.Logger
}

// NewHTTPFetcher creates a fetcher. A nil client uses http.DefaultClient;
// a nil progress writer disables the progress bar.
func NewHTTPFetcher(client *http.Client, progress io.Writer, logger *logging.Logger) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HTTPFetcher{client: client, progress: progress, logger: logger}
}

// Fetch implements Fetcher. The body is written to a temporary file next to
// dest and renamed into place, so dest never holds a partial download.
func (f *HTTPFetcher) Fetch(ctx context.Context, url, dest string) error {
	f.logger.Info(ctx, "downloading", zap.String("url", url), zap.String("dest", dest))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("setting temp file mode: %w", err)
	}

	var body io.Reader = resp.Body
	if f.progress != nil {
		bar := pb.Full.New(0)
		bar.SetTotal(resp.ContentLength)
		bar.Set(pb.Bytes, true)
		bar.SetWriter(f.progress)
		bar.Start()
		defer bar.Finish()
		body = bar.NewProxyReader(resp.Body)
	}

	n, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("moving download into place: %w", err)
	}

	f.logger.Debug(ctx, "downloaded", zap.String("dest", dest), zap.Int64("bytes", n))
	return nil
}
