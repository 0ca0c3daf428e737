package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/metrics"
	"github.com/scribe-audio/scribe/sources"
)

// downloadDirect streams a raw audio URL into the cache. The size cap is
// checked against Content-Length up front and enforced again on the stream
// for servers that do not declare one.
func (d *Downloader) downloadDirect(ctx context.Context, requestID string, src sources.Source) (*Result, error) {
	parsed, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("error parsing audio URL: %w", err)
	}
	filename := path.Base(parsed.Path)
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(parsed.Path), "."))
	if ext == "" {
		return nil, fmt.Errorf("unsupported source: no audio extension in %s", log.RedactURL(src.URL))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("error building download request: %w", err)
	}

	resp, err := newDownloadClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading %s: %w", log.RedactURL(src.URL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("error downloading %s: status %d", log.RedactURL(src.URL), resp.StatusCode)
	}
	if resp.ContentLength > 0 && resp.ContentLength > d.MaxBytes {
		return nil, fmt.Errorf("%w: server reports %d bytes", ErrSizeExceeded, resp.ContentLength)
	}

	dest := d.cachePath(src.ID, ext)
	pending, err := renameio.NewPendingFile(dest, renameio.WithPermissions(0644))
	if err != nil {
		return nil, fmt.Errorf("error creating cache file: %w", err)
	}
	defer pending.Cleanup()

	written, err := io.Copy(pending, io.LimitReader(resp.Body, d.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("error streaming audio: %w", err)
	}
	if written > d.MaxBytes {
		return nil, fmt.Errorf("%w: stream passed %d bytes", ErrSizeExceeded, d.MaxBytes)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return nil, fmt.Errorf("error committing cache file: %w", err)
	}
	metrics.Metrics.DownloadedAudioBytes.Observe(float64(written))

	title := strings.TrimSuffix(filename, path.Ext(filename))
	return &Result{
		AudioPath: dest,
		Format:    ext,
		Title:     strOrNil(title),
	}, nil
}

func newDownloadClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.Logger = log.NewRetryableHTTPLogger()
	return client
}
