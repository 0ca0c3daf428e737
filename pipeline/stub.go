package pipeline

import (
	"context"
	"time"

	"github.com/scribe-audio/scribe/cache"
	"github.com/scribe-audio/scribe/clients"
	"github.com/scribe-audio/scribe/downloader"
	"github.com/scribe-audio/scribe/sources"
	"github.com/scribe-audio/scribe/store"
)

// StubDownloader returns canned metadata without touching the network. Tests
// that need a failing download set Err.
type StubDownloader struct {
	Err       error
	AudioPath string
}

func (d StubDownloader) Download(_ context.Context, _ string, _ sources.Source) (*downloader.Result, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	path := d.AudioPath
	if path == "" {
		path = "/tmp/stub-audio.mp3"
	}
	title := "Stub Title"
	channel := "Stub Channel"
	duration := 60.0
	return &downloader.Result{
		AudioPath:       path,
		Format:          "mp3",
		Title:           &title,
		Channel:         &channel,
		DurationSeconds: &duration,
	}, nil
}

// StubTranscriber returns a fixed one-segment result, or Result when set.
type StubTranscriber struct {
	Err    error
	Result *clients.TranscriptionResult
}

func (t StubTranscriber) Submit(_ context.Context, _, _ string) (string, error) {
	if t.Err != nil {
		return "", t.Err
	}
	return "job-1", nil
}

func (t StubTranscriber) WaitForCompletion(_ context.Context, _, _ string) (*clients.TranscriptionResult, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	if t.Result != nil {
		return t.Result, nil
	}
	return &clients.TranscriptionResult{
		Language: "en",
		Model:    "whisper-large-v3",
		Duration: 60,
		Segments: []clients.TranscriberSegment{
			{ID: 0, Start: 0, End: 60, Text: "stub transcript text"},
		},
	}, nil
}

// NewStubCoordinator wires a coordinator with stubbed download and ASR
// stages. The worker pool is not started; tests run Start themselves when
// they need jobs to actually execute.
func NewStubCoordinator(db *store.Store, artifacts *store.ArtifactStore) *Coordinator {
	return NewStubCoordinatorOpts(db, artifacts, nil, nil)
}

func NewStubCoordinatorOpts(db *store.Store, artifacts *store.ArtifactStore, dl AudioDownloader, tr Transcriber) *Coordinator {
	if dl == nil {
		dl = StubDownloader{}
	}
	if tr == nil {
		tr = StubTranscriber{}
	}
	return &Coordinator{
		store:         db,
		artifacts:     artifacts,
		downloader:    dl,
		transcriber:   tr,
		broadcaster:   nopBroadcaster{},
		audioCacheTTL: time.Hour,
		workers:       2,
		Jobs:          cache.New[*JobInfo](),
		queue:         make(chan *JobInfo, DefaultQueueDepth),
	}
}
