package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scribe-audio/scribe/config"
)

var testStart = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "scribe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func setClock(t *testing.T, ts time.Time) {
	t.Helper()
	prev := config.Clock
	config.Clock = config.FixedTimestampGenerator{Timestamp: ts}
	t.Cleanup(func() { config.Clock = prev })
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func pendingRecord(id, url string, tags ...string) *Transcription {
	return &Transcription{
		ID:         id,
		SourceType: "youtube",
		SourceURL:  url,
		Tags:       tags,
	}
}

func TestCreatePendingAndGet(t *testing.T) {
	setClock(t, testStart)
	st := newTestStore(t)

	existing, err := st.CreatePending(pendingRecord("youtube_dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "Recipes", "recipes", "tech"))
	require.NoError(t, err)
	require.Empty(t, existing)

	got, err := st.Get("youtube_dQw4w9WgXcQ")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, StatusPending, got.Status)
	require.Equal(t, ProgressPending, got.Progress)
	require.Equal(t, []string{"recipes", "tech"}, got.Tags)
	require.Equal(t, testStart, got.CreatedAt)
	require.Nil(t, got.Title)
	require.Nil(t, got.StartedAt)

	missing, err := st.Get("youtube_00000000000")
	require.NoError(t, err)
	require.Nil(t, missing)

	byURL, err := st.GetBySourceURL("https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	require.NoError(t, err)
	require.NotNil(t, byURL)
	require.Equal(t, "youtube_dQw4w9WgXcQ", byURL.ID)
}

func TestCreatePendingRejectsDuplicateSource(t *testing.T) {
	setClock(t, testStart)
	st := newTestStore(t)

	url := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	_, err := st.CreatePending(pendingRecord("youtube_dQw4w9WgXcQ", url))
	require.NoError(t, err)

	existing, err := st.CreatePending(pendingRecord("youtube_dQw4w9WgXcQ", url))
	require.ErrorIs(t, err, ErrDuplicateSource)
	require.Equal(t, "youtube_dQw4w9WgXcQ", existing)

	_, total, err := st.List(ListOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestStateTransitions(t *testing.T) {
	setClock(t, testStart)
	st := newTestStore(t)

	id := "youtube_dQw4w9WgXcQ"
	_, err := st.CreatePending(pendingRecord(id, "https://youtu.be/dQw4w9WgXcQ"))
	require.NoError(t, err)

	require.NoError(t, st.MarkDownloading(id))
	got, err := st.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusDownloading, got.Status)
	require.Equal(t, ProgressDownloading, got.Progress)
	require.NotNil(t, got.StartedAt)
	require.Equal(t, testStart, *got.StartedAt)

	require.NoError(t, st.SaveDownloadResult(id, MediaMetadata{
		Title:            strPtr("Never Gonna Give You Up"),
		Channel:          strPtr("Rick Astley"),
		DurationSeconds:  floatPtr(212.5),
		AudioPath:        "/data/cache/audio/youtube_dQw4w9WgXcQ.m4a",
		AudioFormat:      "m4a",
		AudioCachedUntil: testStart.Add(7 * 24 * time.Hour),
	}))

	require.NoError(t, st.MarkTranscribing(id))
	got, err = st.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusTranscribing, got.Status)
	require.Equal(t, ProgressTranscribing, got.Progress)
	require.Equal(t, "Never Gonna Give You Up", *got.Title)
	require.Equal(t, 212.5, *got.DurationSeconds)

	require.NoError(t, st.SetProgress(id, ProgressSaving))
	got, err = st.Get(id)
	require.NoError(t, err)
	require.Equal(t, ProgressSaving, got.Progress)
	require.Equal(t, StatusTranscribing, got.Status)

	// progress never regresses
	require.NoError(t, st.SetProgress(id, ProgressDownloading))
	got, err = st.Get(id)
	require.NoError(t, err)
	require.Equal(t, ProgressSaving, got.Progress)

	require.NoError(t, st.Complete(id, CompletionResult{
		Language:          "en",
		ModelUsed:         "large-v3",
		WordCount:         812,
		SegmentsCount:     96,
		FullText:          "never gonna give you up",
		TranscriptionPath: "2025/03/youtube_dQw4w9WgXcQ.json",
	}))
	got, err = st.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, ProgressCompleted, got.Progress)
	require.True(t, got.Status.Terminal())
	require.NotNil(t, got.TranscribedAt)
	require.Equal(t, "en", *got.Language)
	require.Equal(t, 812, *got.WordCount)
	require.Equal(t, "2025/03/youtube_dQw4w9WgXcQ.json", *got.TranscriptionPath)
}

func TestFailKeepsErrorMessage(t *testing.T) {
	setClock(t, testStart)
	st := newTestStore(t)

	id := "direct_audio_0a1b2c3d4e5f"
	_, err := st.CreatePending(pendingRecord(id, "https://example.com/episode.mp3"))
	require.NoError(t, err)
	require.NoError(t, st.MarkDownloading(id))
	require.NoError(t, st.Fail(id, "download failed: audio exceeds the size limit"))

	got, err := st.Get(id)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.True(t, got.Status.Terminal())
	require.Equal(t, "download failed: audio exceeds the size limit", *got.ErrorMessage)
	require.Equal(t, ProgressDownloading, got.Progress)
}

func TestListFiltersAndPagination(t *testing.T) {
	st := newTestStore(t)

	setClock(t, testStart)
	_, err := st.CreatePending(pendingRecord("youtube_aaaaaaaaaaa", "https://youtu.be/aaaaaaaaaaa", "tech"))
	require.NoError(t, err)
	setClock(t, testStart.Add(time.Minute))
	_, err = st.CreatePending(pendingRecord("youtube_bbbbbbbbbbb", "https://youtu.be/bbbbbbbbbbb", "recipes"))
	require.NoError(t, err)
	setClock(t, testStart.Add(2*time.Minute))
	_, err = st.CreatePending(pendingRecord("youtube_ccccccccccc", "https://youtu.be/ccccccccccc", "recipes", "tech"))
	require.NoError(t, err)

	items, total, err := st.List(ListOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, items, 3)
	require.Equal(t, "youtube_ccccccccccc", items[0].ID)
	require.Equal(t, "youtube_aaaaaaaaaaa", items[2].ID)

	items, total, err = st.List(ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, items, 2)

	items, total, err = st.List(ListOptions{Skip: 2, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, items, 1)
	require.Equal(t, "youtube_aaaaaaaaaaa", items[0].ID)

	require.NoError(t, st.Fail("youtube_bbbbbbbbbbb", "boom"))
	items, total, err = st.List(ListOptions{Status: "failed"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "youtube_bbbbbbbbbbb", items[0].ID)

	items, total, err = st.List(ListOptions{Tag: "recipes"})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, items, 2)

	items, total, err = st.List(ListOptions{Tag: "recipes", Status: "failed"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "youtube_bbbbbbbbbbb", items[0].ID)
}

func TestSearchUsesFullTextIndex(t *testing.T) {
	setClock(t, testStart)
	st := newTestStore(t)

	_, err := st.CreatePending(pendingRecord("youtube_aaaaaaaaaaa", "https://youtu.be/aaaaaaaaaaa"))
	require.NoError(t, err)
	require.NoError(t, st.SaveDownloadResult("youtube_aaaaaaaaaaa", MediaMetadata{
		Title:            strPtr("Baking Bread At Home"),
		AudioPath:        "/tmp/a.m4a",
		AudioFormat:      "m4a",
		AudioCachedUntil: testStart.Add(time.Hour),
	}))
	require.NoError(t, st.Complete("youtube_aaaaaaaaaaa", CompletionResult{
		Language: "en", ModelUsed: "large-v3",
		FullText: "a good sourdough starter needs patience and flour",
	}))

	_, err = st.CreatePending(pendingRecord("youtube_bbbbbbbbbbb", "https://youtu.be/bbbbbbbbbbb"))
	require.NoError(t, err)
	require.NoError(t, st.Complete("youtube_bbbbbbbbbbb", CompletionResult{
		Language: "en", ModelUsed: "large-v3",
		FullText: "container orchestration at scale",
	}))

	items, total, err := st.List(ListOptions{Search: "sourdough"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "youtube_aaaaaaaaaaa", items[0].ID)

	// title text is indexed too
	items, _, err = st.List(ListOptions{Search: "baking"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	// operators and quotes in user input are inert
	_, _, err = st.List(ListOptions{Search: `sourdough" OR rowid:1`})
	require.NoError(t, err)

	items, total, err = st.List(ListOptions{Search: "nonexistentterm"})
	require.NoError(t, err)
	require.Equal(t, 0, total)
	require.Empty(t, items)
}

func TestUpdateTags(t *testing.T) {
	setClock(t, testStart)
	st := newTestStore(t)

	id := "youtube_aaaaaaaaaaa"
	_, err := st.CreatePending(pendingRecord(id, "https://youtu.be/aaaaaaaaaaa", "old"))
	require.NoError(t, err)

	found, err := st.UpdateTags(id, []string{"Tech", "ai", "tech"})
	require.NoError(t, err)
	require.True(t, found)

	got, err := st.Get(id)
	require.NoError(t, err)
	require.Equal(t, []string{"tech", "ai"}, got.Tags)

	found, err = st.UpdateTags("youtube_00000000000", []string{"tech"})
	require.NoError(t, err)
	require.False(t, found)

	_, err = st.UpdateTags(id, []string{"Bad Tag!"})
	require.Error(t, err)
}

func TestUsedTags(t *testing.T) {
	setClock(t, testStart)
	st := newTestStore(t)

	_, err := st.CreatePending(pendingRecord("youtube_aaaaaaaaaaa", "https://youtu.be/aaaaaaaaaaa", "zebra", "tech"))
	require.NoError(t, err)
	_, err = st.CreatePending(pendingRecord("youtube_bbbbbbbbbbb", "https://youtu.be/bbbbbbbbbbb", "tech", "ai"))
	require.NoError(t, err)
	_, err = st.CreatePending(pendingRecord("youtube_ccccccccccc", "https://youtu.be/ccccccccccc"))
	require.NoError(t, err)

	tags, err := st.UsedTags()
	require.NoError(t, err)
	require.Equal(t, []string{"ai", "tech", "zebra"}, tags)
}

func TestDeleteCascades(t *testing.T) {
	setClock(t, testStart)
	st := newTestStore(t)

	id := "youtube_aaaaaaaaaaa"
	_, err := st.CreatePending(pendingRecord(id, "https://youtu.be/aaaaaaaaaaa"))
	require.NoError(t, err)

	require.NoError(t, st.CreateSummary(&Summary{
		ID:              "sum_0123456789abcdef",
		TranscriptionID: id,
		APIEndpoint:     "https://api.openai.com/v1/chat/completions",
		Model:           "gpt-4o-mini",
		SystemPrompt:    "Summarize the transcript.",
		ConfigSource:    "system_default",
		SummaryText:     "A summary.",
	}))
	require.NoError(t, st.CreateEpisodeSource(&EpisodeSource{
		ID:              "es_0123456789abcdef",
		TranscriptionID: id,
		SourceText:      "newsletter body",
		MatchedURL:      "https://youtu.be/aaaaaaaaaaa",
	}))

	found, err := st.Delete(id)
	require.NoError(t, err)
	require.True(t, found)

	got, err := st.Get(id)
	require.NoError(t, err)
	require.Nil(t, got)

	sum, err := st.GetSummary("sum_0123456789abcdef")
	require.NoError(t, err)
	require.Nil(t, sum)

	sources, err := st.ListEpisodeSources(id)
	require.NoError(t, err)
	require.Empty(t, sources)

	found, err = st.Delete(id)
	require.NoError(t, err)
	require.False(t, found)
}

func TestExpiredAudio(t *testing.T) {
	setClock(t, testStart)
	st := newTestStore(t)

	_, err := st.CreatePending(pendingRecord("youtube_aaaaaaaaaaa", "https://youtu.be/aaaaaaaaaaa"))
	require.NoError(t, err)
	require.NoError(t, st.SaveDownloadResult("youtube_aaaaaaaaaaa", MediaMetadata{
		AudioPath:        "/data/cache/audio/youtube_aaaaaaaaaaa.m4a",
		AudioFormat:      "m4a",
		AudioCachedUntil: testStart.Add(-time.Hour),
	}))
	_, err = st.CreatePending(pendingRecord("youtube_bbbbbbbbbbb", "https://youtu.be/bbbbbbbbbbb"))
	require.NoError(t, err)
	require.NoError(t, st.SaveDownloadResult("youtube_bbbbbbbbbbb", MediaMetadata{
		AudioPath:        "/data/cache/audio/youtube_bbbbbbbbbbb.m4a",
		AudioFormat:      "m4a",
		AudioCachedUntil: testStart.Add(time.Hour),
	}))

	expired, err := st.ExpiredAudio(testStart)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "youtube_aaaaaaaaaaa", expired[0].ID)
	require.Equal(t, "/data/cache/audio/youtube_aaaaaaaaaaa.m4a", expired[0].AudioPath)

	require.NoError(t, st.ClearAudio("youtube_aaaaaaaaaaa"))
	got, err := st.Get("youtube_aaaaaaaaaaa")
	require.NoError(t, err)
	require.Nil(t, got.AudioPath)
	require.Nil(t, got.AudioCachedUntil)

	expired, err = st.ExpiredAudio(testStart)
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestStaleFailed(t *testing.T) {
	st := newTestStore(t)

	setClock(t, testStart.Add(-8*24*time.Hour))
	_, err := st.CreatePending(pendingRecord("youtube_aaaaaaaaaaa", "https://youtu.be/aaaaaaaaaaa"))
	require.NoError(t, err)
	require.NoError(t, st.Fail("youtube_aaaaaaaaaaa", "boom"))

	setClock(t, testStart)
	_, err = st.CreatePending(pendingRecord("youtube_bbbbbbbbbbb", "https://youtu.be/bbbbbbbbbbb"))
	require.NoError(t, err)
	require.NoError(t, st.Fail("youtube_bbbbbbbbbbb", "boom"))

	stale, err := st.StaleFailed(testStart.Add(-7 * 24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, "youtube_aaaaaaaaaaa", stale[0].ID)
}

func TestSummaryRoundTrip(t *testing.T) {
	setClock(t, testStart)
	st := newTestStore(t)

	id := "youtube_aaaaaaaaaaa"
	_, err := st.CreatePending(pendingRecord(id, "https://youtu.be/aaaaaaaaaaa"))
	require.NoError(t, err)

	prompt := 420
	completion := 69
	require.NoError(t, st.CreateSummary(&Summary{
		ID:               "sum_0123456789abcdef",
		TranscriptionID:  id,
		APIEndpoint:      "https://api.openai.com/v1/chat/completions",
		Model:            "gpt-4o-mini",
		SystemPrompt:     "Summarize the transcript.",
		APIKeyUsed:       true,
		Tags:             []string{"recipes"},
		ConfigSource:     "tag:recipes",
		SummaryText:      "<p>A summary.</p>",
		GenerationTimeMS: 1234,
		PromptTokens:     &prompt,
		CompletionTokens: &completion,
	}))

	got, err := st.GetSummary("sum_0123456789abcdef")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.APIKeyUsed)
	require.Equal(t, "tag:recipes", got.ConfigSource)
	require.Equal(t, []string{"recipes"}, got.Tags)
	require.Equal(t, int64(1234), got.GenerationTimeMS)
	require.Equal(t, 420, *got.PromptTokens)
	require.Equal(t, testStart, got.CreatedAt)

	setClock(t, testStart.Add(time.Minute))
	require.NoError(t, st.CreateSummary(&Summary{
		ID:              "sum_fedcba9876543210",
		TranscriptionID: id,
		APIEndpoint:     "http://localhost:11434/v1/chat/completions",
		Model:           "llama3",
		SystemPrompt:    "Summarize.",
		ConfigSource:    "system_default",
		SummaryText:     "Another.",
	}))

	sums, err := st.ListSummaries(id)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	require.Equal(t, "sum_fedcba9876543210", sums[0].ID)
	require.False(t, sums[0].APIKeyUsed)
	require.Nil(t, sums[0].PromptTokens)

	all, err := st.ListSummaries("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	found, err := st.DeleteSummary("sum_0123456789abcdef")
	require.NoError(t, err)
	require.True(t, found)
	gone, err := st.GetSummary("sum_0123456789abcdef")
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestEpisodeSources(t *testing.T) {
	setClock(t, testStart)
	st := newTestStore(t)

	id := "youtube_aaaaaaaaaaa"
	_, err := st.CreatePending(pendingRecord(id, "https://youtu.be/aaaaaaaaaaa"))
	require.NoError(t, err)

	require.NoError(t, st.CreateEpisodeSource(&EpisodeSource{
		ID:              "es_0123456789abcdef",
		TranscriptionID: id,
		EmailSubject:    strPtr("This Week In Bread"),
		EmailFrom:       strPtr("digest@example.com"),
		SourceText:      "Check out this episode: https://youtu.be/aaaaaaaaaaa",
		MatchedURL:      "https://youtu.be/aaaaaaaaaaa",
	}))

	sources, err := st.ListEpisodeSources(id)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, "This Week In Bread", *sources[0].EmailSubject)
	require.Equal(t, "https://youtu.be/aaaaaaaaaaa", sources[0].MatchedURL)
	require.Equal(t, testStart, sources[0].CreatedAt)
}
