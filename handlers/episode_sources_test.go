package handlers

import (
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scribe-audio/scribe/store"
)

func TestCreateEpisodeSource(t *testing.T) {
	d := newTestCollection(t)
	seedCompleted(t, d, "yt_a", "https://example.com/a", "Alpha")

	body := `{
		"transcription_id": "yt_a",
		"source_text": "Check out this episode: https://example.com/a",
		"matched_url": "https://example.com/a",
		"email_subject": "digest weekly links",
		"email_from": "reader@example.com"
	}`
	rr := postJSON(t, d.CreateEpisodeSource(), "/api/episode-sources", body)
	require.Equal(t, http.StatusCreated, rr.Code)

	es := decodeBody[store.EpisodeSource](t, rr)
	require.Regexp(t, regexp.MustCompile(`^es_[0-9a-f-]{36}$`), es.ID)
	require.Equal(t, "yt_a", es.TranscriptionID)
	require.Equal(t, "https://example.com/a", es.MatchedURL)
	require.Equal(t, "digest weekly links", *es.EmailSubject)
	require.Equal(t, "reader@example.com", *es.EmailFrom)
}

func TestCreateEpisodeSourceUnknownTranscription(t *testing.T) {
	d := newTestCollection(t)
	body := `{"transcription_id": "nope", "source_text": "x", "matched_url": "https://x"}`
	rr := postJSON(t, d.CreateEpisodeSource(), "/api/episode-sources", body)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateEpisodeSourceOmitsEmptyEmailFields(t *testing.T) {
	d := newTestCollection(t)
	seedCompleted(t, d, "yt_a", "https://example.com/a", "Alpha")

	body := `{"transcription_id": "yt_a", "source_text": "bare", "matched_url": "https://example.com/a"}`
	rr := postJSON(t, d.CreateEpisodeSource(), "/api/episode-sources", body)
	require.Equal(t, http.StatusCreated, rr.Code)

	es := decodeBody[store.EpisodeSource](t, rr)
	require.Nil(t, es.EmailSubject)
	require.Nil(t, es.EmailFrom)
}

func TestListEpisodeSources(t *testing.T) {
	d := newTestCollection(t)
	seedCompleted(t, d, "yt_a", "https://example.com/a", "Alpha")

	for _, text := range []string{"first mail", "second mail"} {
		body := `{"transcription_id": "yt_a", "source_text": "` + text + `", "matched_url": "https://example.com/a"}`
		rr := postJSON(t, d.CreateEpisodeSource(), "/api/episode-sources", body)
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	list := getReq(t, d.ListEpisodeSources(), "/api/episode-sources?transcription_id=yt_a")
	require.Equal(t, http.StatusOK, list.Code)
	sources := decodeBody[[]store.EpisodeSource](t, list)
	require.Len(t, sources, 2)

	missing := getReq(t, d.ListEpisodeSources(), "/api/episode-sources")
	require.Equal(t, http.StatusBadRequest, missing.Code)
}
