package subprocess

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/scribe-audio/scribe/log"
)

// forward copies src to dst one line at a time so output from concurrent
// subprocesses stays readable. A final line without a trailing newline is
// still written out.
func forward(stream string, src io.Reader, dst io.Writer) {
	r := bufio.NewReader(src)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := dst.Write(line); werr != nil {
				log.LogNoRequestID("subprocess output write failed", "stream", stream, "err", werr)
				return
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			log.LogNoRequestID("subprocess output read failed", "stream", stream, "err", err)
			return
		}
	}
}

// LogOutputs forwards cmd's stdout and stderr to ours. Must be called before
// cmd is started.
func LogOutputs(cmd *exec.Cmd) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	go forward("stdout", stdout, os.Stdout)
	go forward("stderr", stderr, os.Stderr)
	return nil
}

// LogStderr forwards only cmd's stderr, leaving stdout for the caller to
// capture. Used when a subprocess prints structured output on stdout.
func LogStderr(cmd *exec.Cmd) error {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	go forward("stderr", stderr, os.Stderr)
	return nil
}
