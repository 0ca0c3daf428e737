package store

import (
	"time"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusDownloading  Status = "downloading"
	StatusTranscribing Status = "transcribing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress bands published at each stage of a run. Progress only ever moves
// forward; the update statements clamp against regressions.
const (
	ProgressPending      = 0
	ProgressDownloading  = 10
	ProgressTranscribing = 50
	ProgressSaving       = 90
	ProgressCompleted    = 100
)

// Transcription is the central record: one per canonical ID, unique per
// source URL. Metadata fields stay null until the downloader reports them.
type Transcription struct {
	ID               string     `json:"id"`
	SourceType       string     `json:"source_type"`
	SourceURL        string     `json:"source_url"`
	Title            *string    `json:"title"`
	Channel          *string    `json:"channel"`
	ThumbnailURL     *string    `json:"thumbnail_url"`
	UploadDate       *string    `json:"upload_date"`
	DurationSeconds  *float64   `json:"duration_seconds"`
	AudioPath        *string    `json:"audio_path"`
	AudioFormat      *string    `json:"audio_format"`
	AudioCachedUntil *time.Time `json:"audio_cached_until"`

	Status        Status     `json:"status"`
	Progress      int        `json:"progress"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at"`
	TranscribedAt *time.Time `json:"transcribed_at"`

	Language          *string  `json:"language"`
	ModelUsed         *string  `json:"model_used"`
	WordCount         *int     `json:"word_count"`
	SegmentsCount     *int     `json:"segments_count"`
	FullText          *string  `json:"full_text"`
	ErrorMessage      *string  `json:"error_message"`
	RetryCount        int      `json:"retry_count"`
	Tags              []string `json:"tags"`
	SourceContext     *string  `json:"source_context"`
	TranscriptionPath *string  `json:"transcription_path"`
}

// Segment is one ASR-produced span. IDs are assigned by the ASR service and
// preserved verbatim in artifacts; exports renumber from 1 themselves.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Summary records one LLM generation. The resolved API key itself is never
// stored, only whether one was used.
type Summary struct {
	ID               string    `json:"id"`
	TranscriptionID  string    `json:"transcription_id"`
	APIEndpoint      string    `json:"api_endpoint"`
	Model            string    `json:"model"`
	SystemPrompt     string    `json:"system_prompt"`
	APIKeyUsed       bool      `json:"api_key_used"`
	Tags             []string  `json:"tags"`
	ConfigSource     string    `json:"config_source"`
	SummaryText      string    `json:"summary_text"`
	CreatedAt        time.Time `json:"created_at"`
	GenerationTimeMS int64     `json:"generation_time_ms"`
	PromptTokens     *int      `json:"prompt_tokens"`
	CompletionTokens *int      `json:"completion_tokens"`
}

// EpisodeSource preserves the email that produced a transcription, for
// downstream evaluation of the newsletter pipeline.
type EpisodeSource struct {
	ID              string    `json:"id"`
	TranscriptionID string    `json:"transcription_id"`
	EmailSubject    *string   `json:"email_subject"`
	EmailFrom       *string   `json:"email_from"`
	SourceText      string    `json:"source_text"`
	MatchedURL      string    `json:"matched_url"`
	CreatedAt       time.Time `json:"created_at"`
}
