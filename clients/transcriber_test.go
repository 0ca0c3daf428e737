package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTestAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "episode.m4a")
	require.NoError(t, os.WriteFile(path, []byte("fake-audio-bytes"), 0644))
	return path
}

func TestTranscriberSubmitAndWait(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/transcribe":
			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			require.Equal(t, "episode.m4a", header.Filename)
			data, err := io.ReadAll(file)
			require.NoError(t, err)
			require.Equal(t, "fake-audio-bytes", string(data))
			json.NewEncoder(w).Encode(map[string]string{"job_id": "job-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/job-1":
			if atomic.AddInt32(&polls, 1) < 3 {
				json.NewEncoder(w).Encode(map[string]string{"status": "processing"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status":   "completed",
				"language": "en",
				"model":    "large-v3",
				"duration": 212.5,
				"segments": []map[string]interface{}{
					{"id": 0, "start": 0.0, "end": 1.5, "text": "Hello."},
					{"id": 1, "start": 1.5, "end": 3.0, "text": "World."},
				},
			})
		case r.URL.Path == "/health":
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewTranscriberClient(srv.URL, 10*time.Millisecond, time.Second)
	require.NoError(t, c.Healthcheck(context.Background()))

	jobID, err := c.Submit(context.Background(), "test-req", writeTestAudio(t))
	require.NoError(t, err)
	require.Equal(t, "job-1", jobID)

	res, err := c.WaitForCompletion(context.Background(), "test-req", jobID)
	require.NoError(t, err)
	require.Equal(t, "en", res.Language)
	require.Equal(t, "large-v3", res.Model)
	require.Len(t, res.Segments, 2)
	require.Equal(t, "Hello.", res.Segments[0].Text)
	require.Equal(t, 1.5, res.Segments[0].End)
}

func TestTranscriberWaitSurfacesJobFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "failed", "error": "CUDA out of memory"})
	}))
	defer srv.Close()

	c := NewTranscriberClient(srv.URL, 10*time.Millisecond, time.Second)
	_, err := c.WaitForCompletion(context.Background(), "test-req", "job-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "CUDA out of memory")
}

func TestTranscriberWaitTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "processing"})
	}))
	defer srv.Close()

	c := NewTranscriberClient(srv.URL, 10*time.Millisecond, 50*time.Millisecond)
	_, err := c.WaitForCompletion(context.Background(), "test-req", "job-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
}

func TestTranscriberSubmitRetriesAndGivesUp(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// every attempt must carry a complete multipart body
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, err := io.ReadAll(file)
		file.Close()
		require.NoError(t, err)
		require.Equal(t, "fake-audio-bytes", string(data))

		atomic.AddInt32(&attempts, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewTranscriberClient(srv.URL, 10*time.Millisecond, time.Second)
	_, err := c.Submit(context.Background(), "test-req", writeTestAudio(t))
	require.Error(t, err)
	require.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestTranscriberRejectsEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "completed", "language": "en"})
	}))
	defer srv.Close()

	c := NewTranscriberClient(srv.URL, 10*time.Millisecond, time.Second)
	_, err := c.WaitForCompletion(context.Background(), "test-req", "job-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no segments")
}
