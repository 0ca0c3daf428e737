package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// probeDuration reads the container duration from a local audio file. Sources
// that ship duration in their own metadata never get here.
func probeDuration(ctx context.Context, path string) (float64, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(ctx, 60*time.Second)
		defer probeCancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0 // don't impose a timeout as part of the retries
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3)); err != nil {
		return 0, fmt.Errorf("error probing %s: %w", path, err)
	}

	if data.Format == nil || data.Format.DurationSeconds <= 0 {
		return 0, fmt.Errorf("no duration reported for %s", path)
	}
	return data.Format.DurationSeconds, nil
}
