package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/scribe-audio/scribe/store"
)

// seedCompleted inserts a completed record with a real artifact behind it.
func seedCompleted(t *testing.T, d *ScribeAPIHandlersCollection, id, url, title string) *store.Transcription {
	t.Helper()
	_, err := d.Store.CreatePending(&store.Transcription{
		ID: id, SourceType: "youtube", SourceURL: url, Tags: []string{"tech"},
	})
	require.NoError(t, err)

	segments := []store.Segment{
		{ID: 0, Start: 0, End: 2.5, Text: "Hello world."},
		{ID: 1, Start: 3.2, End: 5.0, Text: "Second segment."},
	}
	rel, err := d.Artifacts.Save(&store.Artifact{
		ID:     id,
		Source: store.ArtifactSource{Type: "youtube", URL: url, Title: &title},
		Transcription: store.ArtifactTranscription{
			Language: "en", Model: "whisper-large-v3", Segments: segments,
		},
		FullText:      "Hello world. Second segment.",
		WordCount:     4,
		SegmentsCount: 2,
	})
	require.NoError(t, err)

	require.NoError(t, d.Store.SaveDownloadResult(id, store.MediaMetadata{
		Title: &title, AudioPath: filepath.Join(t.TempDir(), id+".mp3"), AudioFormat: "mp3",
	}))
	require.NoError(t, d.Store.Complete(id, store.CompletionResult{
		Language: "en", ModelUsed: "whisper-large-v3", WordCount: 4, SegmentsCount: 2,
		FullText: "Hello world. Second segment.", TranscriptionPath: rel,
	}))

	rec, err := d.Store.Get(id)
	require.NoError(t, err)
	return rec
}

func deleteReq(t *testing.T, d *ScribeAPIHandlersCollection, id string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest("DELETE", "/api/transcriptions/"+id, nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	d.DeleteTranscription()(rr, req, httprouter.Params{param("id", id)})
	return rr
}

func TestListTranscriptionsPagination(t *testing.T) {
	d := newTestCollection(t)
	seedCompleted(t, d, "yt_a", "https://example.com/a", "Alpha")
	seedCompleted(t, d, "yt_b", "https://example.com/b", "Beta")
	seedCompleted(t, d, "yt_c", "https://example.com/c", "Gamma")

	rr := getReq(t, d.ListTranscriptions(), "/api/transcriptions?skip=1&limit=1")
	require.Equal(t, http.StatusOK, rr.Code)
	page := decodeBody[ListTranscriptionsResponse](t, rr)
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	require.Equal(t, 1, page.Skip)
	require.Equal(t, 1, page.Limit)
}

func TestListTranscriptionsEmpty(t *testing.T) {
	d := newTestCollection(t)
	rr := getReq(t, d.ListTranscriptions(), "/api/transcriptions")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"items":[]`)
}

func TestListTranscriptionsRejectsBadPaging(t *testing.T) {
	d := newTestCollection(t)
	for _, path := range []string{
		"/api/transcriptions?skip=-1",
		"/api/transcriptions?limit=x",
	} {
		rr := getReq(t, d.ListTranscriptions(), path)
		require.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
}

func TestListTranscriptionsFilterByTag(t *testing.T) {
	d := newTestCollection(t)
	seedCompleted(t, d, "yt_a", "https://example.com/a", "Alpha")
	_, err := d.Store.CreatePending(&store.Transcription{
		ID: "yt_other", SourceType: "youtube", SourceURL: "https://example.com/o", Tags: []string{"news"},
	})
	require.NoError(t, err)

	rr := getReq(t, d.ListTranscriptions(), "/api/transcriptions?tag=news")
	page := decodeBody[ListTranscriptionsResponse](t, rr)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "yt_other", page.Items[0].ID)
}

func TestGetTranscription(t *testing.T) {
	d := newTestCollection(t)
	seedCompleted(t, d, "yt_a", "https://example.com/a", "Alpha")

	rr := getReq(t, d.GetTranscription(), "/api/transcriptions/yt_a", param("id", "yt_a"))
	require.Equal(t, http.StatusOK, rr.Code)
	rec := decodeBody[store.Transcription](t, rr)
	require.Equal(t, "Alpha", *rec.Title)

	rr = getReq(t, d.GetTranscription(), "/api/transcriptions/nope", param("id", "nope"))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPatchTranscriptionTags(t *testing.T) {
	d := newTestCollection(t)
	seedCompleted(t, d, "yt_a", "https://example.com/a", "Alpha")

	rr := postJSON(t, d.PatchTranscriptionTags(), "/api/transcriptions/yt_a",
		`{"tags": ["News", "news", "Deep-Dive"]}`, param("id", "yt_a"))
	require.Equal(t, http.StatusOK, rr.Code)
	rec := decodeBody[store.Transcription](t, rr)
	require.Equal(t, []string{"news", "deep-dive"}, rec.Tags)

	rr = postJSON(t, d.PatchTranscriptionTags(), "/api/transcriptions/nope",
		`{"tags": []}`, param("id", "nope"))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = postJSON(t, d.PatchTranscriptionTags(), "/api/transcriptions/yt_a",
		`{"tags": ["white space"]}`, param("id", "yt_a"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeleteTranscriptionRemovesEverything(t *testing.T) {
	d := newTestCollection(t)
	rec := seedCompleted(t, d, "yt_a", "https://example.com/a", "Alpha")
	require.NoError(t, os.WriteFile(*rec.AudioPath, []byte("audio"), 0644))

	require.NoError(t, d.Store.CreateSummary(&store.Summary{
		ID: "sum_x", TranscriptionID: "yt_a", APIEndpoint: "e", Model: "m",
		SystemPrompt: "p", ConfigSource: "system_default", SummaryText: "s",
	}))

	rr := deleteReq(t, d, "yt_a")
	require.Equal(t, http.StatusNoContent, rr.Code)

	got, err := d.Store.Get("yt_a")
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = os.Stat(*rec.AudioPath)
	require.True(t, os.IsNotExist(err), "cached audio should be gone")

	_, err = d.Artifacts.Load("yt_a")
	require.Error(t, err, "artifact should be gone")

	summaries, err := d.Store.ListSummaries("yt_a")
	require.NoError(t, err)
	require.Empty(t, summaries, "summaries cascade with the record")

	rr = deleteReq(t, d, "yt_a")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExportTranscriptionFormats(t *testing.T) {
	d := newTestCollection(t)
	seedCompleted(t, d, "yt_a", "https://example.com/a", "Alpha Episode")

	txt := getReq(t, d.ExportTranscription(), "/api/transcriptions/yt_a/export/txt",
		param("id", "yt_a"), param("format", "txt"))
	require.Equal(t, http.StatusOK, txt.Code)
	require.Contains(t, txt.Body.String(), "Hello world.")
	require.Contains(t, txt.Header().Get("Content-Disposition"), `filename="Alpha_Episode.txt"`)

	srt := getReq(t, d.ExportTranscription(), "/api/transcriptions/yt_a/export/srt",
		param("id", "yt_a"), param("format", "srt"))
	require.Equal(t, http.StatusOK, srt.Code)
	require.Contains(t, srt.Body.String(), "00:00:00,000 --> 00:00:02,500")
	require.Contains(t, srt.Header().Get("Content-Type"), "application/x-subrip")

	js := getReq(t, d.ExportTranscription(), "/api/transcriptions/yt_a/export/json",
		param("id", "yt_a"), param("format", "json"))
	require.Equal(t, http.StatusOK, js.Code)
	var art store.Artifact
	require.NoError(t, json.Unmarshal(js.Body.Bytes(), &art))
	require.Equal(t, "yt_a", art.ID)
	require.Len(t, art.Transcription.Segments, 2)
}

func TestExportTranscriptionErrors(t *testing.T) {
	d := newTestCollection(t)
	_, err := d.Store.CreatePending(&store.Transcription{
		ID: "yt_pending", SourceType: "youtube", SourceURL: "https://example.com/p",
	})
	require.NoError(t, err)

	rr := getReq(t, d.ExportTranscription(), "/api/transcriptions/yt_pending/export/txt",
		param("id", "yt_pending"), param("format", "txt"))
	require.Equal(t, http.StatusBadRequest, rr.Code, "incomplete records cannot be exported")

	rr = getReq(t, d.ExportTranscription(), "/api/transcriptions/nope/export/txt",
		param("id", "nope"), param("format", "txt"))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = getReq(t, d.ExportTranscription(), "/api/transcriptions/yt_pending/export/pdf",
		param("id", "yt_pending"), param("format", "pdf"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
