package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scribe-audio/scribe/config"
)

// ErrDuplicateSource is returned by CreatePending when the source URL already
// has a record. The caller receives the surviving record's ID alongside it.
var ErrDuplicateSource = errors.New("source URL already has a transcription")

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS transcriptions (
	id TEXT PRIMARY KEY,
	source_type TEXT NOT NULL,
	source_url TEXT NOT NULL UNIQUE,
	title TEXT,
	channel TEXT,
	thumbnail_url TEXT,
	upload_date TEXT,
	duration_seconds REAL,
	audio_path TEXT,
	audio_format TEXT,
	audio_cached_until TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	progress INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	started_at TEXT,
	transcribed_at TEXT,
	language TEXT,
	model_used TEXT,
	word_count INTEGER,
	segments_count INTEGER,
	full_text TEXT,
	error_message TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	tags TEXT NOT NULL DEFAULT '[]',
	source_context TEXT,
	transcription_path TEXT
);

CREATE INDEX IF NOT EXISTS idx_transcriptions_status ON transcriptions(status);
CREATE INDEX IF NOT EXISTS idx_transcriptions_created ON transcriptions(created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS transcriptions_fts USING fts5(
	title, channel, full_text,
	content='transcriptions', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS transcriptions_fts_insert AFTER INSERT ON transcriptions BEGIN
	INSERT INTO transcriptions_fts(rowid, title, channel, full_text)
	VALUES (new.rowid, new.title, new.channel, new.full_text);
END;

CREATE TRIGGER IF NOT EXISTS transcriptions_fts_delete AFTER DELETE ON transcriptions BEGIN
	INSERT INTO transcriptions_fts(transcriptions_fts, rowid, title, channel, full_text)
	VALUES ('delete', old.rowid, old.title, old.channel, old.full_text);
END;

CREATE TRIGGER IF NOT EXISTS transcriptions_fts_update AFTER UPDATE ON transcriptions BEGIN
	INSERT INTO transcriptions_fts(transcriptions_fts, rowid, title, channel, full_text)
	VALUES ('delete', old.rowid, old.title, old.channel, old.full_text);
	INSERT INTO transcriptions_fts(rowid, title, channel, full_text)
	VALUES (new.rowid, new.title, new.channel, new.full_text);
END;

CREATE TABLE IF NOT EXISTS summaries (
	id TEXT PRIMARY KEY,
	transcription_id TEXT NOT NULL REFERENCES transcriptions(id) ON DELETE CASCADE,
	api_endpoint TEXT NOT NULL,
	model TEXT NOT NULL,
	system_prompt TEXT NOT NULL,
	api_key_used INTEGER NOT NULL DEFAULT 0,
	tags TEXT NOT NULL DEFAULT '[]',
	config_source TEXT NOT NULL,
	summary_text TEXT NOT NULL,
	created_at TEXT NOT NULL,
	generation_time_ms INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER,
	completion_tokens INTEGER
);

CREATE INDEX IF NOT EXISTS idx_summaries_transcription ON summaries(transcription_id);

CREATE TABLE IF NOT EXISTS episode_sources (
	id TEXT PRIMARY KEY,
	transcription_id TEXT NOT NULL REFERENCES transcriptions(id) ON DELETE CASCADE,
	email_subject TEXT,
	email_from TEXT,
	source_text TEXT NOT NULL,
	matched_url TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episode_sources_transcription ON episode_sources(transcription_id);
`

// New opens (creating if needed) the database at dbPath and ensures the
// schema. All timestamps are stored as RFC3339 UTC strings.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("error creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Single-writer discipline: all access is serialized through one
	// connection, writes happen in short transactions
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const transcriptionColumns = `id, source_type, source_url, title, channel, thumbnail_url, upload_date,
	duration_seconds, audio_path, audio_format, audio_cached_until, status, progress,
	created_at, started_at, transcribed_at, language, model_used, word_count,
	segments_count, full_text, error_message, retry_count, tags, source_context, transcription_path`

// CreatePending inserts a fresh pending record for t.ID. Lookup and insert
// happen in one transaction so two concurrent submissions of the same URL
// cannot both create records; the loser gets ErrDuplicateSource with the
// winner's ID.
func (s *Store) CreatePending(t *Transcription) (string, error) {
	tags, err := NormalizeTags(t.Tags)
	if err != nil {
		return "", err
	}
	t.Tags = tags
	t.Status = StatusPending
	t.Progress = ProgressPending
	t.CreatedAt = config.Clock.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("error starting transaction: %w", err)
	}

	var existing string
	err = tx.QueryRow(`SELECT id FROM transcriptions WHERE source_url = ?`, t.SourceURL).Scan(&existing)
	if err == nil {
		_ = tx.Rollback()
		return existing, ErrDuplicateSource
	}
	if !errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return "", fmt.Errorf("error checking for duplicate source: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO transcriptions (id, source_type, source_url, status, progress, created_at, retry_count, tags, source_context)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		t.ID, t.SourceType, t.SourceURL, t.Status, t.Progress, fmtTime(t.CreatedAt), tagsToJSON(t.Tags), t.SourceContext,
	)
	if err != nil {
		_ = tx.Rollback()
		// a writer outside this process may have won the race; report it
		// as a duplicate rather than a constraint failure
		var raceWinner string
		if qerr := s.db.QueryRow(`SELECT id FROM transcriptions WHERE source_url = ?`, t.SourceURL).Scan(&raceWinner); qerr == nil {
			return raceWinner, ErrDuplicateSource
		}
		return "", fmt.Errorf("error inserting transcription: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("error committing transcription: %w", err)
	}
	return "", nil
}

// Get returns the record for id, or nil when it does not exist.
func (s *Store) Get(id string) (*Transcription, error) {
	row := s.db.QueryRow(`SELECT `+transcriptionColumns+` FROM transcriptions WHERE id = ?`, id)
	t, err := scanTranscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// GetBySourceURL returns the record owning a source URL, or nil.
func (s *Store) GetBySourceURL(sourceURL string) (*Transcription, error) {
	row := s.db.QueryRow(`SELECT `+transcriptionColumns+` FROM transcriptions WHERE source_url = ?`, sourceURL)
	t, err := scanTranscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

type ListOptions struct {
	Skip   int
	Limit  int
	Status string
	Search string
	Tag    string
}

// List returns one page of records plus the total count for the same filter.
// With a search term, results come from the full-text index ordered by
// relevance; otherwise newest first.
func (s *Store) List(opts ListOptions) ([]Transcription, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	var (
		conds []string
		args  []interface{}
	)
	if opts.Status != "" {
		conds = append(conds, "t.status = ?")
		args = append(args, opts.Status)
	}
	if opts.Tag != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(t.tags) WHERE json_each.value = ?)")
		args = append(args, opts.Tag)
	}

	var baseQuery, countQuery, order string
	if opts.Search != "" {
		conds = append([]string{"transcriptions_fts MATCH ?"}, conds...)
		args = append([]interface{}{ftsQuery(opts.Search)}, args...)
		baseQuery = `SELECT ` + prefixColumns("t.") + ` FROM transcriptions_fts
			JOIN transcriptions t ON t.rowid = transcriptions_fts.rowid`
		countQuery = `SELECT COUNT(*) FROM transcriptions_fts
			JOIN transcriptions t ON t.rowid = transcriptions_fts.rowid`
		order = ` ORDER BY transcriptions_fts.rank`
	} else {
		baseQuery = `SELECT ` + prefixColumns("t.") + ` FROM transcriptions t`
		countQuery = `SELECT COUNT(*) FROM transcriptions t`
		order = ` ORDER BY t.created_at DESC, t.rowid DESC`
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRow(countQuery+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting transcriptions: %w", err)
	}

	rows, err := s.db.Query(baseQuery+where+order+` LIMIT ? OFFSET ?`, append(args, opts.Limit, opts.Skip)...)
	if err != nil {
		return nil, 0, fmt.Errorf("error listing transcriptions: %w", err)
	}
	defer rows.Close()

	out := []Transcription{}
	for rows.Next() {
		t, err := scanTranscription(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}

// MarkDownloading moves a record into the downloading state and stamps the
// start of the run.
func (s *Store) MarkDownloading(id string) error {
	return s.exec(
		`UPDATE transcriptions SET status = ?, progress = MAX(progress, ?), started_at = ? WHERE id = ?`,
		StatusDownloading, ProgressDownloading, fmtTime(config.Clock.Now()), id,
	)
}

// MediaMetadata carries what the downloader learned about the source.
type MediaMetadata struct {
	Title            *string
	Channel          *string
	ThumbnailURL     *string
	UploadDate       *string
	DurationSeconds  *float64
	AudioPath        string
	AudioFormat      string
	AudioCachedUntil time.Time
}

// SaveDownloadResult persists downloader metadata. Nil fields stay null.
func (s *Store) SaveDownloadResult(id string, meta MediaMetadata) error {
	return s.exec(
		`UPDATE transcriptions SET title = ?, channel = ?, thumbnail_url = ?, upload_date = ?,
			duration_seconds = ?, audio_path = ?, audio_format = ?, audio_cached_until = ?
		 WHERE id = ?`,
		meta.Title, meta.Channel, meta.ThumbnailURL, meta.UploadDate,
		meta.DurationSeconds, meta.AudioPath, meta.AudioFormat, fmtTime(meta.AudioCachedUntil), id,
	)
}

func (s *Store) MarkTranscribing(id string) error {
	return s.exec(
		`UPDATE transcriptions SET status = ?, progress = MAX(progress, ?) WHERE id = ?`,
		StatusTranscribing, ProgressTranscribing, id,
	)
}

// SetProgress advances the progress band without changing status. Regressions
// are clamped away to keep progress monotonic.
func (s *Store) SetProgress(id string, progress int) error {
	return s.exec(`UPDATE transcriptions SET progress = MAX(progress, ?) WHERE id = ?`, progress, id)
}

// CompletionResult carries everything a finished ASR run contributes to the
// indexed record.
type CompletionResult struct {
	Language          string
	ModelUsed         string
	WordCount         int
	SegmentsCount     int
	FullText          string
	TranscriptionPath string
}

func (s *Store) Complete(id string, res CompletionResult) error {
	return s.exec(
		`UPDATE transcriptions SET status = ?, progress = ?, transcribed_at = ?, language = ?,
			model_used = ?, word_count = ?, segments_count = ?, full_text = ?, transcription_path = ?,
			error_message = NULL
		 WHERE id = ?`,
		StatusCompleted, ProgressCompleted, fmtTime(config.Clock.Now()),
		res.Language, res.ModelUsed, res.WordCount, res.SegmentsCount, res.FullText, res.TranscriptionPath, id,
	)
}

func (s *Store) Fail(id string, errMsg string) error {
	return s.exec(
		`UPDATE transcriptions SET status = ?, error_message = ? WHERE id = ?`,
		StatusFailed, errMsg, id,
	)
}

// UpdateTags replaces a record's tags with the normalized form of tags.
func (s *Store) UpdateTags(id string, tags []string) (bool, error) {
	normalized, err := NormalizeTags(tags)
	if err != nil {
		return false, err
	}
	result, err := s.db.Exec(`UPDATE transcriptions SET tags = ? WHERE id = ?`, tagsToJSON(normalized), id)
	if err != nil {
		return false, fmt.Errorf("error updating tags: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the record; summaries and episode sources cascade away with
// it. Returns false when the id is unknown.
func (s *Store) Delete(id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM transcriptions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("error deleting transcription: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UsedTags returns every tag present on at least one record, alphabetically.
func (s *Store) UsedTags() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT json_each.value FROM transcriptions, json_each(transcriptions.tags) ORDER BY json_each.value`,
	)
	if err != nil {
		return nil, fmt.Errorf("error listing tags: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ExpiredAudioRecord identifies one cached audio file past its TTL.
type ExpiredAudioRecord struct {
	ID        string
	AudioPath string
}

// ExpiredAudio lists records whose cached audio expired before now.
func (s *Store) ExpiredAudio(now time.Time) ([]ExpiredAudioRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, audio_path FROM transcriptions
		 WHERE audio_path IS NOT NULL AND audio_cached_until IS NOT NULL AND audio_cached_until < ?`,
		fmtTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("error listing expired audio: %w", err)
	}
	defer rows.Close()

	var out []ExpiredAudioRecord
	for rows.Next() {
		var rec ExpiredAudioRecord
		if err := rows.Scan(&rec.ID, &rec.AudioPath); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ClearAudio drops the stored audio path after the file is gone.
func (s *Store) ClearAudio(id string) error {
	return s.exec(
		`UPDATE transcriptions SET audio_path = NULL, audio_cached_until = NULL WHERE id = ?`, id,
	)
}

// StaleFailed lists failed records created before the cutoff.
func (s *Store) StaleFailed(cutoff time.Time) ([]Transcription, error) {
	rows, err := s.db.Query(
		`SELECT `+transcriptionColumns+` FROM transcriptions WHERE status = ? AND created_at < ?`,
		StatusFailed, fmtTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("error listing stale failed records: %w", err)
	}
	defer rows.Close()

	var out []Transcription
	for rows.Next() {
		t, err := scanTranscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) CreateSummary(sum *Summary) error {
	sum.CreatedAt = config.Clock.Now()
	return s.exec(
		`INSERT INTO summaries (id, transcription_id, api_endpoint, model, system_prompt, api_key_used,
			tags, config_source, summary_text, created_at, generation_time_ms, prompt_tokens, completion_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.TranscriptionID, sum.APIEndpoint, sum.Model, sum.SystemPrompt, sum.APIKeyUsed,
		tagsToJSON(sum.Tags), sum.ConfigSource, sum.SummaryText, fmtTime(sum.CreatedAt),
		sum.GenerationTimeMS, sum.PromptTokens, sum.CompletionTokens,
	)
}

const summaryColumns = `id, transcription_id, api_endpoint, model, system_prompt, api_key_used,
	tags, config_source, summary_text, created_at, generation_time_ms, prompt_tokens, completion_tokens`

func (s *Store) GetSummary(id string) (*Summary, error) {
	row := s.db.QueryRow(`SELECT `+summaryColumns+` FROM summaries WHERE id = ?`, id)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sum, err
}

// ListSummaries returns summaries, newest first, optionally filtered by
// transcription.
func (s *Store) ListSummaries(transcriptionID string) ([]Summary, error) {
	query := `SELECT ` + summaryColumns + ` FROM summaries`
	var args []interface{}
	if transcriptionID != "" {
		query += ` WHERE transcription_id = ?`
		args = append(args, transcriptionID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing summaries: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSummary(id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM summaries WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("error deleting summary: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) CreateEpisodeSource(es *EpisodeSource) error {
	es.CreatedAt = config.Clock.Now()
	return s.exec(
		`INSERT INTO episode_sources (id, transcription_id, email_subject, email_from, source_text, matched_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		es.ID, es.TranscriptionID, es.EmailSubject, es.EmailFrom, es.SourceText, es.MatchedURL, fmtTime(es.CreatedAt),
	)
}

func (s *Store) ListEpisodeSources(transcriptionID string) ([]EpisodeSource, error) {
	rows, err := s.db.Query(
		`SELECT id, transcription_id, email_subject, email_from, source_text, matched_url, created_at
		 FROM episode_sources WHERE transcription_id = ? ORDER BY created_at DESC, rowid DESC`,
		transcriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("error listing episode sources: %w", err)
	}
	defer rows.Close()

	out := []EpisodeSource{}
	for rows.Next() {
		var (
			es      EpisodeSource
			subject sql.NullString
			from    sql.NullString
			created string
		)
		if err := rows.Scan(&es.ID, &es.TranscriptionID, &subject, &from, &es.SourceText, &es.MatchedURL, &created); err != nil {
			return nil, err
		}
		es.EmailSubject = nullableString(subject)
		es.EmailFrom = nullableString(from)
		es.CreatedAt, _ = parseTime(created)
		out = append(out, es)
	}
	return out, rows.Err()
}

func (s *Store) exec(query string, args ...interface{}) error {
	_, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("error in store write: %w", err)
	}
	return err
}
