package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTranscription(row rowScanner) (*Transcription, error) {
	var (
		t                Transcription
		title            sql.NullString
		channel          sql.NullString
		thumbnailURL     sql.NullString
		uploadDate       sql.NullString
		durationSeconds  sql.NullFloat64
		audioPath        sql.NullString
		audioFormat      sql.NullString
		audioCachedUntil sql.NullString
		createdAt        string
		startedAt        sql.NullString
		transcribedAt    sql.NullString
		language         sql.NullString
		modelUsed        sql.NullString
		wordCount        sql.NullInt64
		segmentsCount    sql.NullInt64
		fullText         sql.NullString
		errorMessage     sql.NullString
		tagsJSON         string
		sourceContext    sql.NullString
		transcriptionRel sql.NullString
	)

	err := row.Scan(
		&t.ID, &t.SourceType, &t.SourceURL, &title, &channel, &thumbnailURL, &uploadDate,
		&durationSeconds, &audioPath, &audioFormat, &audioCachedUntil, &t.Status, &t.Progress,
		&createdAt, &startedAt, &transcribedAt, &language, &modelUsed, &wordCount,
		&segmentsCount, &fullText, &errorMessage, &t.RetryCount, &tagsJSON, &sourceContext, &transcriptionRel,
	)
	if err != nil {
		return nil, err
	}

	t.Title = nullableString(title)
	t.Channel = nullableString(channel)
	t.ThumbnailURL = nullableString(thumbnailURL)
	t.UploadDate = nullableString(uploadDate)
	if durationSeconds.Valid {
		t.DurationSeconds = &durationSeconds.Float64
	}
	t.AudioPath = nullableString(audioPath)
	t.AudioFormat = nullableString(audioFormat)
	t.AudioCachedUntil = nullableTime(audioCachedUntil)
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("error parsing created_at: %w", err)
	}
	t.StartedAt = nullableTime(startedAt)
	t.TranscribedAt = nullableTime(transcribedAt)
	t.Language = nullableString(language)
	t.ModelUsed = nullableString(modelUsed)
	if wordCount.Valid {
		n := int(wordCount.Int64)
		t.WordCount = &n
	}
	if segmentsCount.Valid {
		n := int(segmentsCount.Int64)
		t.SegmentsCount = &n
	}
	t.FullText = nullableString(fullText)
	t.ErrorMessage = nullableString(errorMessage)
	if t.Tags, err = tagsFromJSON(tagsJSON); err != nil {
		return nil, err
	}
	t.SourceContext = nullableString(sourceContext)
	t.TranscriptionPath = nullableString(transcriptionRel)
	return &t, nil
}

func scanSummary(row rowScanner) (*Summary, error) {
	var (
		sum              Summary
		tagsJSON         string
		createdAt        string
		promptTokens     sql.NullInt64
		completionTokens sql.NullInt64
	)
	err := row.Scan(
		&sum.ID, &sum.TranscriptionID, &sum.APIEndpoint, &sum.Model, &sum.SystemPrompt, &sum.APIKeyUsed,
		&tagsJSON, &sum.ConfigSource, &sum.SummaryText, &createdAt,
		&sum.GenerationTimeMS, &promptTokens, &completionTokens,
	)
	if err != nil {
		return nil, err
	}
	if sum.Tags, err = tagsFromJSON(tagsJSON); err != nil {
		return nil, err
	}
	if sum.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("error parsing created_at: %w", err)
	}
	if promptTokens.Valid {
		n := int(promptTokens.Int64)
		sum.PromptTokens = &n
	}
	if completionTokens.Valid {
		n := int(completionTokens.Int64)
		sum.CompletionTokens = &n
	}
	return &sum, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// timeLayout keeps a fixed number of fraction digits so stored timestamps
// order lexicographically. RFC3339Nano would drop trailing zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func tagsToJSON(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func tagsFromJSON(raw string) ([]string, error) {
	tags := []string{}
	if raw == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("error parsing tags column: %w", err)
	}
	return tags, nil
}

// ftsQuery turns free text into an FTS5 query. Each token is quoted so user
// input cannot inject MATCH operators.
func ftsQuery(search string) string {
	fields := strings.Fields(search)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

func prefixColumns(prefix string) string {
	cols := strings.Split(transcriptionColumns, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
