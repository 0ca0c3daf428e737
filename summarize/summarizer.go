package summarize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/scribe-audio/scribe/config"
	catErrs "github.com/scribe-audio/scribe/errors"
	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/metrics"
	"github.com/scribe-audio/scribe/store"
	"github.com/scribe-audio/scribe/tagconfig"
)

// DefaultTimeout bounds one LLM call, long transcripts take a while.
const DefaultTimeout = 120 * time.Second

// sourceContextTemplate frames creator show notes ahead of the transcript
// when a record carries them.
const sourceContextTemplate = `The creator provided the following show notes for this episode:

---
%s
---

If any of this context is relevant to the summarization task below, use it to guide what you extract. Ignore any show notes content that isn't relevant to the specific request.

Transcript:
%s`

// ErrTranscriptionIncomplete is returned when the record exists but has no
// completed transcript yet.
var ErrTranscriptionIncomplete = errors.New("transcription has no completed transcript to summarize")

// LLMError marks upstream model failures: network errors, timeouts and
// malformed responses. The API layer maps these to 502.
type LLMError struct {
	Err error
}

func (e *LLMError) Error() string { return fmt.Sprintf("llm request failed: %s", e.Err) }
func (e *LLMError) Unwrap() error { return e.Err }

func IsLLMError(err error) bool {
	var le *LLMError
	return errors.As(err, &le)
}

// chatCompleter is the slice of the OpenAI client we use. *openai.Client
// implements it, tests inject fakes.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type clientFactory func(endpoint, apiKey string, timeout time.Duration) chatCompleter

// Summarizer turns completed transcripts into LLM summaries and persists
// them. Config resolution is tag-driven with caller overrides on top.
type Summarizer struct {
	store     *store.Store
	configs   *tagconfig.Store
	timeout   time.Duration
	newClient clientFactory
}

func New(db *store.Store, configs *tagconfig.Store) *Summarizer {
	return &Summarizer{
		store:     db,
		configs:   configs,
		timeout:   DefaultTimeout,
		newClient: newOpenAIClient,
	}
}

// SetTimeout overrides the per-call LLM timeout.
func (s *Summarizer) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

func newOpenAIClient(endpoint, apiKey string, timeout time.Duration) chatCompleter {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURLFromEndpoint(endpoint)
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(cfg)
}

// baseURLFromEndpoint maps a configured chat completions URL onto the client
// base URL. Tag configs store the full endpoint while the client appends
// /chat/completions itself.
func baseURLFromEndpoint(endpoint string) string {
	base := strings.TrimSuffix(endpoint, "/")
	return strings.TrimSuffix(base, "/chat/completions")
}

// Request names the transcription to summarize plus optional overrides over
// the tag-resolved config. SystemPromptSuffix is appended to whatever system
// prompt wins resolution, the mail worker uses it to ask for HTML output.
type Request struct {
	TranscriptionID    string
	APIEndpoint        string
	Model              string
	APIKey             string
	SystemPrompt       string
	SystemPromptSuffix string
}

// Summarize runs one generation and stores the result. It returns
// ObjectNotFoundError for unknown records, ErrTranscriptionIncomplete for
// records without a transcript and LLMError for upstream failures.
func (s *Summarizer) Summarize(ctx context.Context, requestID string, req Request) (*store.Summary, error) {
	t, err := s.store.Get(req.TranscriptionID)
	if err != nil {
		return nil, fmt.Errorf("error loading transcription: %w", err)
	}
	if t == nil {
		return nil, catErrs.NewObjectNotFoundError("transcription not found", nil)
	}
	if t.Status != store.StatusCompleted || t.FullText == nil {
		return nil, ErrTranscriptionIncomplete
	}

	resolved, err := s.configs.Resolve(t.Tags, tagconfig.Overrides{
		APIEndpoint:  req.APIEndpoint,
		Model:        req.Model,
		APIKey:       req.APIKey,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("error resolving summarizer config: %w", err)
	}

	systemPrompt := resolved.SystemPrompt
	if req.SystemPromptSuffix != "" {
		systemPrompt += "\n\n" + req.SystemPromptSuffix
	}
	userMessage := *t.FullText
	if t.SourceContext != nil && *t.SourceContext != "" {
		userMessage = fmt.Sprintf(sourceContextTemplate, *t.SourceContext, *t.FullText)
	}

	log.Log(requestID, "requesting summary", "id", t.ID, "config_source", resolved.ConfigSource,
		"model", resolved.Model, "endpoint", log.RedactURL(resolved.APIEndpoint), "key_used", resolved.APIKey != "")

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client := s.newClient(resolved.APIEndpoint, resolved.APIKey, s.timeout)
	start := time.Now()
	resp, err := client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: resolved.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
	})
	duration := time.Since(start)
	metrics.Metrics.SummaryDurationSec.Observe(duration.Seconds())
	if err != nil {
		metrics.Metrics.SummariesGenerated.WithLabelValues(resolved.ConfigSource, "false").Inc()
		log.LogError(requestID, "summary generation failed", err, "id", t.ID, "duration", duration)
		return nil, &LLMError{Err: err}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		metrics.Metrics.SummariesGenerated.WithLabelValues(resolved.ConfigSource, "false").Inc()
		return nil, &LLMError{Err: errors.New("model returned no content")}
	}

	sum := &store.Summary{
		ID:               config.SummaryID(),
		TranscriptionID:  t.ID,
		APIEndpoint:      resolved.APIEndpoint,
		Model:            resolved.Model,
		SystemPrompt:     systemPrompt,
		APIKeyUsed:       resolved.APIKey != "",
		Tags:             t.Tags,
		ConfigSource:     resolved.ConfigSource,
		SummaryText:      resp.Choices[0].Message.Content,
		GenerationTimeMS: duration.Milliseconds(),
	}
	if resp.Usage.PromptTokens > 0 {
		v := resp.Usage.PromptTokens
		sum.PromptTokens = &v
	}
	if resp.Usage.CompletionTokens > 0 {
		v := resp.Usage.CompletionTokens
		sum.CompletionTokens = &v
	}
	if err := s.store.CreateSummary(sum); err != nil {
		return nil, fmt.Errorf("error saving summary: %w", err)
	}
	metrics.Metrics.SummariesGenerated.WithLabelValues(resolved.ConfigSource, "true").Inc()
	log.Log(requestID, "summary generated", "id", t.ID, "summary_id", sum.ID, "duration", duration,
		"length", len(sum.SummaryText))
	return sum, nil
}
