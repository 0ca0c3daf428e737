package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/sources"
)

// ErrSizeExceeded marks audio rejected for being over the configured cap.
// Detection happens before the file is committed to the cache.
var ErrSizeExceeded = errors.New("audio exceeds the configured size limit")

// acceptedFormats are the containers the ASR service ingests directly.
// Anything else gets transcoded to m4a after download.
var acceptedFormats = map[string]bool{
	"mp3":  true,
	"m4a":  true,
	"wav":  true,
	"ogg":  true,
	"flac": true,
	"aac":  true,
}

// Result is what one successful download contributes to the record. All
// metadata fields are best-effort and may be nil.
type Result struct {
	AudioPath       string
	Format          string
	Title           *string
	Channel         *string
	ThumbnailURL    *string
	UploadDate      *string
	DurationSeconds *float64
	Description     *string
}

// Downloader deposits exactly one audio file per canonical ID into the cache
// directory. Filenames are <id>.<ext> so concurrent runs never collide.
type Downloader struct {
	CacheDir string
	MaxBytes int64
	Timeout  time.Duration
}

func New(cacheDir string, maxBytes int64, timeout time.Duration) *Downloader {
	return &Downloader{
		CacheDir: cacheDir,
		MaxBytes: maxBytes,
		Timeout:  timeout,
	}
}

// Download fetches the audio for src and returns the cached path plus
// whatever metadata the source exposes. The whole operation, including any
// post-processing, runs under one wall-clock timeout.
func (d *Downloader) Download(ctx context.Context, requestID string, src sources.Source) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	if err := os.MkdirAll(d.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating audio cache directory: %w", err)
	}

	var (
		res *Result
		err error
	)
	switch src.Type {
	case sources.TypeDirectAudio:
		res, err = d.downloadDirect(ctx, requestID, src)
	default:
		res, err = d.downloadPlatform(ctx, requestID, src)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("download timed out after %s", d.Timeout)
		}
		return nil, err
	}

	if !acceptedFormats[res.Format] {
		converted, cerr := d.transcodeToM4A(requestID, res.AudioPath, src.ID)
		if cerr != nil {
			removeQuietly(res.AudioPath)
			return nil, cerr
		}
		removeQuietly(res.AudioPath)
		res.AudioPath = converted
		res.Format = "m4a"
	}

	if res.DurationSeconds == nil {
		if dur, perr := probeDuration(ctx, res.AudioPath); perr != nil {
			log.Log(requestID, "unable to probe audio duration", "path", res.AudioPath, "err", perr)
		} else {
			res.DurationSeconds = &dur
		}
	}

	log.Log(requestID, "audio download complete",
		"source_type", src.Type, "path", res.AudioPath, "format", res.Format)
	return res, nil
}

func (d *Downloader) cachePath(id, ext string) string {
	return filepath.Join(d.CacheDir, id+"."+ext)
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.LogNoRequestID("error removing file", "path", path, "err", err)
	}
}
