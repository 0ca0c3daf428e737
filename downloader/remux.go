package downloader

import (
	"fmt"
	"os"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/scribe-audio/scribe/log"
)

// transcodeToM4A converts containers the ASR service will not accept (webm
// and opus are the usual suspects from bestaudio) into m4a.
func (d *Downloader) transcodeToM4A(requestID, inputPath, id string) (string, error) {
	outputPath := d.cachePath(id, "m4a")
	log.Log(requestID, "transcoding audio to m4a", "input", inputPath)

	err := ffmpeg.Input(inputPath).
		Output(outputPath, ffmpeg.KwArgs{"vn": "", "acodec": "aac", "b:a": "192k", "movflags": "faststart"}).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return "", fmt.Errorf("failed to transcode %s to m4a: %s", inputPath, err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		return "", fmt.Errorf("transcode error: failed to stat m4a file: %s", err)
	}
	return outputPath, nil
}
