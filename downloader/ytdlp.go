package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/metrics"
	"github.com/scribe-audio/scribe/sources"
	"github.com/scribe-audio/scribe/subprocess"
)

// descriptionLimit caps how much of a source's description we carry around
// as creator notes.
const descriptionLimit = 4000

type ytdlpMetadata struct {
	Title          string  `json:"title"`
	Channel        string  `json:"channel"`
	Uploader       string  `json:"uploader"`
	Thumbnail      string  `json:"thumbnail"`
	UploadDate     string  `json:"upload_date"`
	Duration       float64 `json:"duration"`
	Description    string  `json:"description"`
	FilesizeApprox int64   `json:"filesize_approx"`
}

// downloadPlatform handles every source type yt-dlp has an extractor for.
func (d *Downloader) downloadPlatform(ctx context.Context, requestID string, src sources.Source) (*Result, error) {
	meta, err := d.fetchMetadata(ctx, requestID, src.URL)
	if err != nil {
		return nil, err
	}
	if meta.FilesizeApprox > 0 && meta.FilesizeApprox > d.MaxBytes {
		return nil, fmt.Errorf("%w: source reports approximately %d bytes", ErrSizeExceeded, meta.FilesizeApprox)
	}

	audioPath, format, err := d.fetchAudio(ctx, requestID, src)
	if err != nil {
		return nil, err
	}

	res := &Result{
		AudioPath:    audioPath,
		Format:       format,
		Title:        strOrNil(meta.Title),
		Channel:      strOrNil(firstNonEmpty(meta.Channel, meta.Uploader)),
		ThumbnailURL: strOrNil(meta.Thumbnail),
		UploadDate:   strOrNil(meta.UploadDate),
		Description:  strOrNil(truncate(meta.Description, descriptionLimit)),
	}
	if meta.Duration > 0 {
		dur := meta.Duration
		res.DurationSeconds = &dur
	}
	return res, nil
}

func (d *Downloader) fetchMetadata(ctx context.Context, requestID, url string) (*ytdlpMetadata, error) {
	log.Log(requestID, "fetching source metadata", "url", url)

	cmd := exec.CommandContext(ctx, "yt-dlp", "--no-playlist", "--no-warnings", "--dump-single-json", url)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := subprocess.LogStderr(cmd); err != nil {
		return nil, err
	}
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("unsupported source, yt-dlp could not read %s: %w", url, err)
	}

	var meta ytdlpMetadata
	if err := json.Unmarshal(stdout.Bytes(), &meta); err != nil {
		return nil, fmt.Errorf("error parsing yt-dlp metadata: %w", err)
	}
	return &meta, nil
}

func (d *Downloader) fetchAudio(ctx context.Context, requestID string, src sources.Source) (string, string, error) {
	// leftovers from an interrupted run would confuse the output scan
	d.removeCached(src.ID)

	outTemplate := filepath.Join(d.CacheDir, src.ID+".%(ext)s")
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"--no-playlist", "--no-warnings",
		"-f", "bestaudio/best",
		"--max-filesize", strconv.FormatInt(d.MaxBytes, 10),
		"-o", outTemplate,
		src.URL,
	)
	if err := subprocess.LogOutputs(cmd); err != nil {
		return "", "", err
	}
	log.Log(requestID, "downloading audio", "url", src.URL, "id", src.ID)
	if err := cmd.Run(); err != nil {
		return "", "", fmt.Errorf("error downloading audio from %s: %w", src.URL, err)
	}

	audioPath := d.findCached(src.ID)
	if audioPath == "" {
		// yt-dlp skips oversized files without a nonzero exit
		return "", "", fmt.Errorf("%w: yt-dlp produced no file", ErrSizeExceeded)
	}
	fi, err := os.Stat(audioPath)
	if err != nil {
		return "", "", fmt.Errorf("error checking downloaded audio: %w", err)
	}
	if fi.Size() > d.MaxBytes {
		removeQuietly(audioPath)
		return "", "", fmt.Errorf("%w: downloaded %d bytes", ErrSizeExceeded, fi.Size())
	}
	metrics.Metrics.DownloadedAudioBytes.Observe(float64(fi.Size()))

	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(audioPath), "."))
	return audioPath, format, nil
}

// findCached locates the one cached file for id, ignoring partial downloads.
func (d *Downloader) findCached(id string) string {
	matches, err := filepath.Glob(filepath.Join(d.CacheDir, id+".*"))
	if err != nil {
		return ""
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") {
			return m
		}
	}
	return ""
}

func (d *Downloader) removeCached(id string) {
	matches, err := filepath.Glob(filepath.Join(d.CacheDir, id+".*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		removeQuietly(m)
	}
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
