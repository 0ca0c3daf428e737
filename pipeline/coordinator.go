package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/scribe-audio/scribe/cache"
	"github.com/scribe-audio/scribe/clients"
	"github.com/scribe-audio/scribe/config"
	"github.com/scribe-audio/scribe/downloader"
	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/metrics"
	"github.com/scribe-audio/scribe/sources"
	"github.com/scribe-audio/scribe/store"
)

const (
	DefaultWorkers    = 4
	DefaultQueueDepth = 8
)

// ErrAtCapacity is returned by StartSubmission when the work queue is full.
var ErrAtCapacity = errors.New("transcription queue is full")

// DuplicateSourceError reports that the submitted URL already has a record,
// carrying the surviving record's ID so callers can point at it.
type DuplicateSourceError struct {
	ExistingID string
}

func (e *DuplicateSourceError) Error() string {
	return fmt.Sprintf("source already submitted as %s", e.ExistingID)
}

// AudioDownloader fetches audio for a parsed source and reports its metadata.
type AudioDownloader interface {
	Download(ctx context.Context, requestID string, src sources.Source) (*downloader.Result, error)
}

// Transcriber drives the external ASR service.
type Transcriber interface {
	Submit(ctx context.Context, requestID, audioPath string) (string, error)
	WaitForCompletion(ctx context.Context, requestID, jobID string) (*clients.TranscriptionResult, error)
}

// ShowNotesFetcher resolves creator show notes for an Apple Podcasts episode.
type ShowNotesFetcher interface {
	EpisodeNotes(ctx context.Context, requestID, episodeID string) (string, error)
}

// StatusBroadcaster pushes live job updates out to websocket subscribers.
type StatusBroadcaster interface {
	BroadcastStatus(id string, status store.Status, progress int, errorMessage string)
	BroadcastCompleted(t *store.Transcription)
	BroadcastError(id string, errorMessage string)
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastStatus(string, store.Status, int, string) {}
func (nopBroadcaster) BroadcastCompleted(*store.Transcription)          {}
func (nopBroadcaster) BroadcastError(string, string)                    {}

// JobInfo represents the state of a single transcription job.
type JobInfo struct {
	RequestID string
	ID        string
	Source    sources.Source
}

// CoordinatorOpts collects everything a Coordinator needs. Zero Workers,
// QueueDepth and AudioCacheTTL take the defaults; a nil Broadcaster means
// updates are only persisted, not pushed.
type CoordinatorOpts struct {
	Store         *store.Store
	Artifacts     *store.ArtifactStore
	Downloader    AudioDownloader
	Transcriber   Transcriber
	ShowNotes     ShowNotesFetcher
	Broadcaster   StatusBroadcaster
	Workers       int
	QueueDepth    int
	AudioCacheTTL time.Duration
}

// Coordinator owns the transcription pipeline. It is called directly from the
// API handlers and never blocks on execution: StartSubmission persists the
// pending record and enqueues the job, and a fixed pool of workers started by
// Start drains the queue in background.
type Coordinator struct {
	store       *store.Store
	artifacts   *store.ArtifactStore
	downloader  AudioDownloader
	transcriber Transcriber
	showNotes   ShowNotesFetcher
	broadcaster StatusBroadcaster

	audioCacheTTL time.Duration
	workers       int

	Jobs  *cache.Cache[*JobInfo]
	queue chan *JobInfo

	mu     sync.Mutex
	closed bool
}

func NewCoordinator(opts CoordinatorOpts) (*Coordinator, error) {
	if opts.Store == nil || opts.Artifacts == nil {
		return nil, fmt.Errorf("record and artifact stores are required")
	}
	if opts.Downloader == nil || opts.Transcriber == nil {
		return nil, fmt.Errorf("downloader and transcriber are required")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = nopBroadcaster{}
	}
	if opts.AudioCacheTTL <= 0 {
		opts.AudioCacheTTL = 24 * time.Hour
	}
	return &Coordinator{
		store:         opts.Store,
		artifacts:     opts.Artifacts,
		downloader:    opts.Downloader,
		transcriber:   opts.Transcriber,
		showNotes:     opts.ShowNotes,
		broadcaster:   opts.Broadcaster,
		audioCacheTTL: opts.AudioCacheTTL,
		workers:       opts.Workers,
		Jobs:          cache.New[*JobInfo](),
		queue:         make(chan *JobInfo, opts.QueueDepth),
	}, nil
}

// StartSubmission creates the pending record for src and hands the job to the
// worker pool. It returns the stored record for the immediate API response.
// Apple Podcasts submissions get a best-effort show-notes fetch first; a
// failure there is logged and the submission proceeds without context.
func (c *Coordinator) StartSubmission(ctx context.Context, requestID string, src sources.Source, tags []string) (*store.Transcription, error) {
	t := &store.Transcription{
		ID:         src.ID,
		SourceType: string(src.Type),
		SourceURL:  src.URL,
		Tags:       tags,
	}
	if src.Type == sources.TypeApplePodcasts && c.showNotes != nil {
		notes, err := c.showNotes.EpisodeNotes(ctx, requestID, src.EpisodeID)
		if err != nil {
			log.LogError(requestID, "show notes fetch failed", err, "episode_id", src.EpisodeID)
		} else if notes != "" {
			t.SourceContext = &notes
		}
	}

	existingID, err := c.store.CreatePending(t)
	if errors.Is(err, store.ErrDuplicateSource) {
		return nil, &DuplicateSourceError{ExistingID: existingID}
	}
	if err != nil {
		return nil, err
	}

	job := &JobInfo{
		RequestID: requestID,
		ID:        t.ID,
		Source:    src,
	}

	// The cache entry must exist before a worker can finish the job, so it
	// goes in ahead of the enqueue and comes back out if the queue is full.
	c.Jobs.Store(job.ID, job)
	log.Log(requestID, "wrote to jobs cache", "id", job.ID)

	if err := c.enqueue(job); err != nil {
		c.Jobs.Remove(job.ID)
		if _, delErr := c.store.Delete(t.ID); delErr != nil {
			log.LogError(requestID, "error removing rejected submission", delErr, "id", t.ID)
		}
		return nil, err
	}
	return t, nil
}

func (c *Coordinator) enqueue(job *JobInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("not accepting new jobs, shutting down")
	}
	select {
	case c.queue <- job:
		return nil
	default:
		return ErrAtCapacity
	}
}

// Start runs the worker pool until ctx is canceled. Cancellation stops intake
// and closes the queue; jobs already accepted run to completion because the
// stages use their own background context.
func (c *Coordinator) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range c.queue {
				c.runJob(job)
			}
		}()
	}

	<-ctx.Done()
	c.mu.Lock()
	c.closed = true
	close(c.queue)
	c.mu.Unlock()
	if ids := c.Jobs.GetKeys(); len(ids) > 0 {
		log.LogNoRequestID("waiting for in-flight jobs to finish", "count", len(ids), "ids", strings.Join(ids, ","))
	}
	wg.Wait()
	return nil
}

// InFlightJobs reports how many submissions are queued or running.
func (c *Coordinator) InFlightJobs() int {
	return c.Jobs.Len()
}

func (c *Coordinator) runJob(job *JobInfo) {
	_, err := recovered(func() (bool, error) {
		return true, c.runStages(job)
	})
	c.finishJob(job, err)
}

// runStages drives one job through download, transcribe and save.
func (c *Coordinator) runStages(job *JobInfo) error {
	ctx := context.Background()

	if err := c.store.MarkDownloading(job.ID); err != nil {
		return fmt.Errorf("error marking record downloading: %w", err)
	}
	c.broadcaster.BroadcastStatus(job.ID, store.StatusDownloading, store.ProgressDownloading, "")

	start := time.Now()
	dl, err := c.downloader.Download(ctx, job.RequestID, job.Source)
	c.observeStage("download", start, err == nil)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	err = c.store.SaveDownloadResult(job.ID, store.MediaMetadata{
		Title:            dl.Title,
		Channel:          dl.Channel,
		ThumbnailURL:     dl.ThumbnailURL,
		UploadDate:       dl.UploadDate,
		DurationSeconds:  dl.DurationSeconds,
		AudioPath:        dl.AudioPath,
		AudioFormat:      dl.Format,
		AudioCachedUntil: config.Clock.Now().Add(c.audioCacheTTL),
	})
	if err != nil {
		return fmt.Errorf("error saving download result: %w", err)
	}

	if err := c.store.MarkTranscribing(job.ID); err != nil {
		return fmt.Errorf("error marking record transcribing: %w", err)
	}
	c.broadcaster.BroadcastStatus(job.ID, store.StatusTranscribing, store.ProgressTranscribing, "")

	asrJob, err := c.transcriber.Submit(ctx, job.RequestID, dl.AudioPath)
	if err != nil {
		return fmt.Errorf("transcription submit failed: %w", err)
	}

	start = time.Now()
	res, err := c.transcriber.WaitForCompletion(ctx, job.RequestID, asrJob)
	c.observeStage("transcribe", start, err == nil)
	if err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}

	if err := c.store.SetProgress(job.ID, store.ProgressSaving); err != nil {
		return fmt.Errorf("error setting progress: %w", err)
	}
	c.broadcaster.BroadcastStatus(job.ID, store.StatusTranscribing, store.ProgressSaving, "")

	start = time.Now()
	err = c.saveResult(job, res)
	c.observeStage("save", start, err == nil)
	return err
}

// saveResult assembles the transcript text, writes the JSON artifact and
// marks the record completed.
func (c *Coordinator) saveResult(job *JobInfo, res *clients.TranscriptionResult) error {
	t, err := c.store.Get(job.ID)
	if err != nil {
		return fmt.Errorf("error reloading record: %w", err)
	}
	if t == nil {
		return fmt.Errorf("record %s disappeared mid-run", job.ID)
	}

	segs := make([]store.Segment, len(res.Segments))
	texts := make([]string, 0, len(res.Segments))
	for i, s := range res.Segments {
		segs[i] = store.Segment{ID: s.ID, Start: s.Start, End: s.End, Text: s.Text}
		if txt := strings.TrimSpace(s.Text); txt != "" {
			texts = append(texts, txt)
		}
	}
	fullText := strings.Join(texts, " ")
	wordCount := len(strings.Fields(fullText))

	var asrDuration *float64
	if res.Duration > 0 {
		asrDuration = &res.Duration
	}
	rel, err := c.artifacts.Save(&store.Artifact{
		ID: job.ID,
		Source: store.ArtifactSource{
			Type:            t.SourceType,
			URL:             t.SourceURL,
			Title:           t.Title,
			Channel:         t.Channel,
			ThumbnailURL:    t.ThumbnailURL,
			UploadDate:      t.UploadDate,
			DurationSeconds: t.DurationSeconds,
		},
		Transcription: store.ArtifactTranscription{
			Language:        res.Language,
			Model:           res.Model,
			DurationSeconds: asrDuration,
			Segments:        segs,
		},
		FullText:      fullText,
		WordCount:     wordCount,
		SegmentsCount: len(segs),
	})
	if err != nil {
		return fmt.Errorf("error saving transcription artifact: %w", err)
	}

	return c.store.Complete(job.ID, store.CompletionResult{
		Language:          res.Language,
		ModelUsed:         res.Model,
		WordCount:         wordCount,
		SegmentsCount:     len(segs),
		FullText:          fullText,
		TranscriptionPath: rel,
	})
}

func (c *Coordinator) finishJob(job *JobInfo, err error) {
	success := err == nil
	if err != nil {
		log.LogError(job.RequestID, "job failed", err, "id", job.ID)
		if ferr := c.store.Fail(job.ID, err.Error()); ferr != nil {
			log.LogError(job.RequestID, "error marking record failed", ferr, "id", job.ID)
		}
		progress := store.ProgressPending
		if t, gerr := c.store.Get(job.ID); gerr == nil && t != nil {
			progress = t.Progress
		}
		c.broadcaster.BroadcastStatus(job.ID, store.StatusFailed, progress, err.Error())
		c.broadcaster.BroadcastError(job.ID, err.Error())
	} else if t, gerr := c.store.Get(job.ID); gerr == nil && t != nil {
		c.broadcaster.BroadcastStatus(job.ID, store.StatusCompleted, store.ProgressCompleted, "")
		c.broadcaster.BroadcastCompleted(t)
	}

	// Jobs leave the cache on any terminal outcome, freeing queue capacity.
	c.Jobs.Remove(job.ID)
	log.Log(job.RequestID, "finished job and deleted from job cache", "id", job.ID, "success", success)
	metrics.Metrics.PipelineResults.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (c *Coordinator) observeStage(stage string, start time.Time, success bool) {
	metrics.Metrics.PipelineDurationSec.
		WithLabelValues(stage, strconv.FormatBool(success)).
		Observe(time.Since(start).Seconds())
}

func recovered[T any](f func() (T, error)) (t T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogNoRequestID("panic in pipeline worker, recovering", "err", rec)
			err = fmt.Errorf("panic in pipeline worker: %v", rec)
		}
	}()
	return f()
}
