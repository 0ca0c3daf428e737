package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/store"
)

const (
	frontendOpTimeout      = 30 * time.Second
	frontendSummaryTimeout = 150 * time.Second
	frontendPollInterval   = 5 * time.Second
)

// FrontendClient is how the mail worker drives the Scribe API: submit URLs,
// wait for terminal records, request summaries, record episode sources.
type FrontendClient struct {
	baseURL      string
	httpClient   *retryablehttp.Client
	waitTimeout  time.Duration
	pollInterval time.Duration
}

// TagConfigInfo is the public view of one tag configuration.
type TagConfigInfo struct {
	Name              string   `json:"name"`
	APIEndpoint       string   `json:"api_endpoint"`
	Model             string   `json:"model"`
	SystemPrompt      string   `json:"system_prompt"`
	APIKeyRef         string   `json:"api_key_ref"`
	DestinationEmails []string `json:"destination_emails"`
}

type duplicateResponse struct {
	Detail     string `json:"detail"`
	ExistingID string `json:"existing_id"`
}

func NewFrontendClient(baseURL string, waitTimeout time.Duration) *FrontendClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.HTTPClient = &http.Client{}
	client.Logger = log.NewRetryableHTTPLogger()

	return &FrontendClient{
		baseURL:      strings.TrimSuffix(baseURL, "/") + "/api",
		httpClient:   client,
		waitTimeout:  waitTimeout,
		pollInterval: frontendPollInterval,
	}
}

// Submit asks the frontend to transcribe sourceURL. When the URL was already
// transcribed the existing record comes back with duplicate=true.
func (c *FrontendClient) Submit(ctx context.Context, requestID, sourceURL string, tags []string) (rec *store.Transcription, duplicate bool, err error) {
	body, err := json.Marshal(map[string]interface{}{"url": sourceURL, "tags": tags})
	if err != nil {
		return nil, false, err
	}

	status, data, err := c.doJSON(ctx, http.MethodPost, "/transcribe", body, frontendOpTimeout)
	if err != nil {
		return nil, false, err
	}

	switch status {
	case http.StatusAccepted:
		var t store.Transcription
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, false, fmt.Errorf("error parsing transcribe response: %w", err)
		}
		return &t, false, nil
	case http.StatusConflict:
		var dup duplicateResponse
		if err := json.Unmarshal(data, &dup); err != nil {
			return nil, false, fmt.Errorf("error parsing duplicate response: %w", err)
		}
		log.Log(requestID, "url already transcribed", "url", log.RedactURL(sourceURL), "existing_id", dup.ExistingID)
		existing, err := c.Transcription(ctx, dup.ExistingID)
		if err != nil {
			return nil, false, err
		}
		return existing, true, nil
	default:
		return nil, false, fmt.Errorf("transcribe submission returned %d", status)
	}
}

// Transcription fetches one full record.
func (c *FrontendClient) Transcription(ctx context.Context, id string) (*store.Transcription, error) {
	status, data, err := c.doJSON(ctx, http.MethodGet, "/transcriptions/"+url.PathEscape(id), nil, frontendOpTimeout)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("transcription fetch returned %d", status)
	}
	var t store.Transcription
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("error parsing transcription: %w", err)
	}
	return &t, nil
}

// AwaitCompletion polls until the record is terminal. A failed record is
// returned as an error carrying its error message.
func (c *FrontendClient) AwaitCompletion(ctx context.Context, requestID, id string) (*store.Transcription, error) {
	ctx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for transcription %s: %w", id, ctx.Err())
		case <-ticker.C:
		}

		t, err := c.Transcription(ctx, id)
		if err != nil {
			log.LogError(requestID, "status poll failed", err, "id", id)
			continue
		}
		if !t.Status.Terminal() {
			continue
		}
		if t.Status == store.StatusFailed {
			msg := "transcription failed"
			if t.ErrorMessage != nil {
				msg = *t.ErrorMessage
			}
			return nil, fmt.Errorf("transcription %s failed: %s", id, msg)
		}
		return t, nil
	}
}

// UsedTags returns the tags currently present on records, for subject-line
// tag matching.
func (c *FrontendClient) UsedTags(ctx context.Context) ([]string, error) {
	status, data, err := c.doJSON(ctx, http.MethodGet, "/tags", nil, frontendOpTimeout)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("tags fetch returned %d", status)
	}
	var payload struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("error parsing tags: %w", err)
	}
	return payload.Tags, nil
}

// TagConfig fetches one tag's configuration, nil when the tag has none.
func (c *FrontendClient) TagConfig(ctx context.Context, name string) (*TagConfigInfo, error) {
	status, data, err := c.doJSON(ctx, http.MethodGet, "/tags/"+url.PathEscape(name), nil, frontendOpTimeout)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("tag config fetch returned %d", status)
	}
	var info TagConfigInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("error parsing tag config: %w", err)
	}
	return &info, nil
}

// RequestSummary generates and persists a summary for a transcription. The
// suffix is how mail flows ask for HTML output.
func (c *FrontendClient) RequestSummary(ctx context.Context, requestID, transcriptionID, systemPromptSuffix string) (*store.Summary, error) {
	payload := map[string]string{"transcription_id": transcriptionID}
	if systemPromptSuffix != "" {
		payload["system_prompt_suffix"] = systemPromptSuffix
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	status, data, err := c.doJSON(ctx, http.MethodPost, "/summaries", body, frontendSummaryTimeout)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("summary request returned %d", status)
	}
	var sum store.Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("error parsing summary: %w", err)
	}
	log.Log(requestID, "summary generated", "summary_id", sum.ID, "transcription_id", transcriptionID)
	return &sum, nil
}

// CreateEpisodeSource links an inbound newsletter email to the transcription
// it produced.
func (c *FrontendClient) CreateEpisodeSource(ctx context.Context, es *store.EpisodeSource) (*store.EpisodeSource, error) {
	payload := map[string]interface{}{
		"transcription_id": es.TranscriptionID,
		"source_text":      es.SourceText,
		"matched_url":      es.MatchedURL,
	}
	if es.EmailSubject != nil {
		payload["email_subject"] = *es.EmailSubject
	}
	if es.EmailFrom != nil {
		payload["email_from"] = *es.EmailFrom
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	status, data, err := c.doJSON(ctx, http.MethodPost, "/episode-sources", body, frontendOpTimeout)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("episode source creation returned %d", status)
	}
	var created store.EpisodeSource
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, fmt.Errorf("error parsing episode source: %w", err)
	}
	return &created, nil
}

func (c *FrontendClient) doJSON(ctx context.Context, method, path string, body []byte, timeout time.Duration) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rawBody interface{}
	if body != nil {
		rawBody = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, rawBody)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("frontend request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("error reading frontend response: %w", err)
	}
	return resp.StatusCode, data, nil
}
