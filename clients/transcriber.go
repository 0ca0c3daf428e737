package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/metrics"
)

const (
	healthTimeout = 5 * time.Second
	submitTimeout = 10 * time.Minute
	pollTimeout   = 15 * time.Second
)

// TranscriberClient talks to the external ASR service: submit one audio file,
// then poll the job until it reaches a terminal state.
type TranscriberClient struct {
	baseURL      string
	httpClient   *retryablehttp.Client
	pollInterval time.Duration
	waitTimeout  time.Duration
}

type TranscriberSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult is the terminal payload of a completed job.
type TranscriptionResult struct {
	Language string               `json:"language"`
	Model    string               `json:"model"`
	Duration float64              `json:"duration"`
	Segments []TranscriberSegment `json:"segments"`
}

type transcriberJob struct {
	JobID    string               `json:"job_id"`
	ID       string               `json:"id"`
	Status   string               `json:"status"`
	Error    string               `json:"error"`
	Language string               `json:"language"`
	Model    string               `json:"model"`
	Duration float64              `json:"duration"`
	Segments []TranscriberSegment `json:"segments"`
}

func NewTranscriberClient(baseURL string, pollInterval, waitTimeout time.Duration) *TranscriberClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2                          // Retry a maximum of this+1 times
	client.RetryWaitMin = 200 * time.Millisecond // Wait at least this long between retries
	client.RetryWaitMax = 1 * time.Second        // Wait at most this long between retries (exponential backoff)
	client.HTTPClient = &http.Client{}           // request lifetimes come from per-call contexts
	client.Logger = log.NewRetryableHTTPLogger()
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			metrics.Metrics.TranscriberClient.RetryCount.WithLabelValues(req.URL.Host).Set(float64(attempt))
		}
	}
	client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		if resp.StatusCode >= 400 {
			metrics.Metrics.TranscriberClient.FailureCount.
				WithLabelValues(resp.Request.URL.Host, strconv.Itoa(resp.StatusCode)).Inc()
		}
	}

	return &TranscriberClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   client,
		pollInterval: pollInterval,
		waitTimeout:  waitTimeout,
	}
}

// Healthcheck probes the ASR service. Callers treat a failure as a warning,
// not a startup blocker.
func (c *TranscriberClient) Healthcheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("transcriber unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transcriber health probe returned %d", resp.StatusCode)
	}
	return nil
}

// Submit uploads the audio file and returns the ASR job id. The multipart
// body is streamed from disk, rebuilt per retry attempt.
func (c *TranscriberClient) Submit(ctx context.Context, requestID, audioPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	boundary := multipart.NewWriter(io.Discard).Boundary()
	makeBody := func() (io.Reader, error) {
		file, err := os.Open(audioPath)
		if err != nil {
			return nil, fmt.Errorf("error opening audio for upload: %w", err)
		}
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		if err := mw.SetBoundary(boundary); err != nil {
			file.Close()
			return nil, err
		}
		go func() {
			part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
			if err == nil {
				_, err = io.Copy(part, file)
			}
			file.Close()
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			pw.CloseWithError(mw.Close())
		}()
		return pr, nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", retryablehttp.ReaderFunc(makeBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)

	log.Log(requestID, "submitting audio to transcriber", "path", audioPath)
	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("error submitting audio to transcriber: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("transcriber rejected the submission with status %d", resp.StatusCode)
	}

	var job transcriberJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", fmt.Errorf("error parsing transcriber response: %w", err)
	}
	jobID := job.JobID
	if jobID == "" {
		jobID = job.ID
	}
	if jobID == "" {
		return "", fmt.Errorf("transcriber response carried no job id")
	}
	log.Log(requestID, "transcription job accepted", "job_id", jobID)
	return jobID, nil
}

// WaitForCompletion polls the job until completed or failed. Transient poll
// errors are logged and the loop keeps going; the deadline is the only hard
// stop.
func (c *TranscriberClient) WaitForCompletion(ctx context.Context, requestID, jobID string) (*TranscriptionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for transcription job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}

		job, err := c.getJob(ctx, jobID)
		if err != nil {
			log.LogError(requestID, "transcriber poll failed", err, "job_id", jobID)
			continue
		}

		switch job.Status {
		case "completed":
			if len(job.Segments) == 0 {
				return nil, fmt.Errorf("transcription job %s completed with no segments", jobID)
			}
			return &TranscriptionResult{
				Language: job.Language,
				Model:    job.Model,
				Duration: job.Duration,
				Segments: job.Segments,
			}, nil
		case "failed":
			if job.Error != "" {
				return nil, fmt.Errorf("transcription failed: %s", job.Error)
			}
			return nil, fmt.Errorf("transcription job %s failed", jobID)
		}
	}
}

func (c *TranscriberClient) getJob(ctx context.Context, jobID string) (*transcriberJob, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcriber job status returned %d", resp.StatusCode)
	}

	var job transcriberJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("error parsing job status: %w", err)
	}
	return &job, nil
}

func (c *TranscriberClient) do(req *retryablehttp.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.Metrics.TranscriberClient.RequestDuration.
		WithLabelValues(req.URL.Host).Observe(time.Since(start).Seconds())
	return resp, err
}
