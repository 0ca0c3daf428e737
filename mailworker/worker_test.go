package mailworker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"
	"golang.org/x/sync/errgroup"

	"github.com/scribe-audio/scribe/clients"
	"github.com/scribe-audio/scribe/config"
	"github.com/scribe-audio/scribe/mail"
	"github.com/scribe-audio/scribe/store"
)

type submitCall struct {
	URL  string
	Tags []string
}

type fakeFrontend struct {
	mu             sync.Mutex
	submits        []submitCall
	summarySuffix  []string
	episodeSources []*store.EpisodeSource
	usedTagsCalls  int

	tags       []string
	tagsErr    error
	tagConfigs map[string]*clients.TagConfigInfo

	record     *store.Transcription
	duplicate  bool
	submitErr  error
	summaryErr error

	// when set, Submit hands out this record and AwaitCompletion upgrades
	// to the terminal one
	pending *store.Transcription
}

func (f *fakeFrontend) Submit(ctx context.Context, requestID, sourceURL string, tags []string) (*store.Transcription, bool, error) {
	f.mu.Lock()
	f.submits = append(f.submits, submitCall{URL: sourceURL, Tags: tags})
	f.mu.Unlock()
	if f.submitErr != nil {
		return nil, false, f.submitErr
	}
	if f.pending != nil {
		return f.pending, f.duplicate, nil
	}
	return f.record, f.duplicate, nil
}

func (f *fakeFrontend) AwaitCompletion(ctx context.Context, requestID, id string) (*store.Transcription, error) {
	if f.record == nil {
		return nil, fmt.Errorf("no record for %s", id)
	}
	return f.record, nil
}

func (f *fakeFrontend) RequestSummary(ctx context.Context, requestID, transcriptionID, suffix string) (*store.Summary, error) {
	f.mu.Lock()
	f.summarySuffix = append(f.summarySuffix, suffix)
	f.mu.Unlock()
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	return &store.Summary{
		ID:              "sum_test",
		TranscriptionID: transcriptionID,
		SummaryText:     "<p>Key points.</p>",
	}, nil
}

func (f *fakeFrontend) CreateEpisodeSource(ctx context.Context, es *store.EpisodeSource) (*store.EpisodeSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := *es
	created.ID = "es_test"
	f.episodeSources = append(f.episodeSources, &created)
	return &created, nil
}

func (f *fakeFrontend) UsedTags(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	f.usedTagsCalls++
	f.mu.Unlock()
	if f.tagsErr != nil {
		return nil, f.tagsErr
	}
	return f.tags, nil
}

func (f *fakeFrontend) TagConfig(ctx context.Context, name string) (*clients.TagConfigInfo, error) {
	if cfg, ok := f.tagConfigs[name]; ok {
		return cfg, nil
	}
	return nil, nil
}

type sentMail struct {
	Kind string
	Msg  *gomail.Msg
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

func (s *fakeSender) Send(ctx context.Context, requestID, kind string, msg *gomail.Msg) error {
	if s.fail {
		return errors.New("smtp unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMail{Kind: kind, Msg: msg})
	return nil
}

func (s *fakeSender) byKind(kind string) []sentMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentMail
	for _, m := range s.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type moveCall struct {
	Folder string
	UID    uint32
	Dest   string
}

type fakeMailbox struct {
	mu          sync.Mutex
	unseen      map[string][]*inboundMessage
	markSeenErr error
	seen        []uint32
	moves       []moveCall
}

func (b *fakeMailbox) UnseenMessages(folder string) ([]*inboundMessage, error) {
	return b.unseen[folder], nil
}

func (b *fakeMailbox) MarkSeen(folder string, uid uint32) error {
	if b.markSeenErr != nil {
		return b.markSeenErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = append(b.seen, uid)
	return nil
}

func (b *fakeMailbox) Move(folder string, uid uint32, dest string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.moves = append(b.moves, moveCall{Folder: folder, UID: uid, Dest: dest})
	return nil
}

func (b *fakeMailbox) EnsureFolders(names ...string) {}
func (b *fakeMailbox) Close()                        {}

func testCli() *config.Cli {
	return &config.Cli{
		SMTPFrom:             "scribe@example.com",
		DefaultTag:           "podcast",
		DefaultResultAddress: "results@example.com",
		EpisodeSourcesReturn: "digest@example.com",

		InboxFolders:             []string{"INBOX"},
		DoneFolder:               "ScribeDone",
		ErrorFolder:              "ScribeError",
		EpisodeSourcesFolder:     "Newsletters",
		EpisodeSourcesDoneFolder: "NewslettersDone",
		EpisodeSourcesErrFolder:  "NewslettersError",

		PollInterval:    time.Minute,
		MailConcurrency: 3,
	}
}

func completedTranscription(id string) *store.Transcription {
	title := "Sample Episode"
	text := "Hello world."
	return &store.Transcription{
		ID:        id,
		SourceURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Title:     &title,
		FullText:  &text,
		Status:    store.StatusCompleted,
	}
}

func inbound(uid uint32, folder, subject, text string) *inboundMessage {
	return &inboundMessage{
		UID:     uid,
		Folder:  folder,
		Subject: subject,
		From:    "listener@example.com",
		Text:    text,
	}
}

func TestProcessGenericDeliversResults(t *testing.T) {
	fe := &fakeFrontend{
		record: completedTranscription("youtube_dQw4w9WgXcQ"),
		tags:   []string{"tech"},
		tagConfigs: map[string]*clients.TagConfigInfo{
			"tech": {Name: "tech", DestinationEmails: []string{"team@example.com"}},
		},
	}
	snd := &fakeSender{}
	box := &fakeMailbox{}
	w := NewWorker(testCli(), fe, snd)

	msg := inbound(7, "INBOX", "tech weekly", "watch https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	w.processGeneric(context.Background(), box, msg)

	require.Equal(t, []submitCall{{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", Tags: []string{"tech"}}}, fe.submits)
	require.Equal(t, []string{mail.HTMLPromptSuffix}, fe.summarySuffix)

	successes := snd.byKind("success")
	require.Len(t, successes, 1)
	recipients, err := successes[0].Msg.GetRecipients()
	require.NoError(t, err)
	require.Equal(t, []string{"team@example.com"}, recipients, "tag destinations win over the default address")

	require.Equal(t, []moveCall{{Folder: "INBOX", UID: 7, Dest: "ScribeDone"}}, box.moves)
}

func TestProcessGenericUsesDefaultTagAndAddress(t *testing.T) {
	fe := &fakeFrontend{
		record: completedTranscription("youtube_dQw4w9WgXcQ"),
		tags:   []string{"tech"},
	}
	snd := &fakeSender{}
	box := &fakeMailbox{}
	w := NewWorker(testCli(), fe, snd)

	msg := inbound(1, "INBOX", "something else entirely", "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	w.processGeneric(context.Background(), box, msg)

	require.Equal(t, []string{"podcast"}, fe.submits[0].Tags)

	successes := snd.byKind("success")
	require.Len(t, successes, 1)
	recipients, err := successes[0].Msg.GetRecipients()
	require.NoError(t, err)
	require.Equal(t, []string{"results@example.com"}, recipients)
}

func TestProcessGenericNoTranscribableURLs(t *testing.T) {
	fe := &fakeFrontend{}
	snd := &fakeSender{}
	box := &fakeMailbox{}
	w := NewWorker(testCli(), fe, snd)

	msg := inbound(3, "INBOX", "read this", "article at https://example.com/post and https://example.com/doc.pdf")
	w.processGeneric(context.Background(), box, msg)

	require.Empty(t, fe.submits, "web pages without audio must not be submitted")

	notices := snd.byKind("no_urls")
	require.Len(t, notices, 1)
	recipients, err := notices[0].Msg.GetRecipients()
	require.NoError(t, err)
	require.Equal(t, []string{"listener@example.com"}, recipients, "the notice goes back to the sender")

	require.Equal(t, []moveCall{{Folder: "INBOX", UID: 3, Dest: "ScribeError"}}, box.moves)
}

func TestProcessGenericFailureNotifiesOriginalSender(t *testing.T) {
	fe := &fakeFrontend{submitErr: errors.New("video unavailable")}
	snd := &fakeSender{}
	box := &fakeMailbox{}
	w := NewWorker(testCli(), fe, snd)

	msg := inbound(5, "INBOX", "please transcribe", "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	w.processGeneric(context.Background(), box, msg)

	failures := snd.byKind("error")
	require.Len(t, failures, 1)
	recipients, err := failures[0].Msg.GetRecipients()
	require.NoError(t, err)
	require.Equal(t, []string{"listener@example.com"}, recipients)

	require.Empty(t, snd.byKind("success"))
	require.Equal(t, []moveCall{{Folder: "INBOX", UID: 5, Dest: "ScribeError"}}, box.moves)
}

func TestProcessGenericPartialSuccessStillFilesDone(t *testing.T) {
	fe := &fakeFrontend{record: completedTranscription("youtube_dQw4w9WgXcQ")}
	snd := &fakeSender{}
	box := &fakeMailbox{}
	w := NewWorker(testCli(), fe, snd)

	// The pdf link is dropped during filtering, the audio link succeeds.
	msg := inbound(9, "INBOX", "mixed bag",
		"https://example.com/notes.pdf plus https://cdn.example.com/ep01.mp3")
	w.processGeneric(context.Background(), box, msg)

	require.Len(t, fe.submits, 1)
	require.Len(t, snd.byKind("success"), 1)
	require.Equal(t, "ScribeDone", box.moves[0].Dest)
}

func TestProcessGenericDuplicateGetsFreshSummary(t *testing.T) {
	fe := &fakeFrontend{
		record:    completedTranscription("youtube_dQw4w9WgXcQ"),
		duplicate: true,
	}
	snd := &fakeSender{}
	box := &fakeMailbox{}
	w := NewWorker(testCli(), fe, snd)

	msg := inbound(2, "INBOX", "again", "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	w.processGeneric(context.Background(), box, msg)

	require.Len(t, fe.summarySuffix, 1, "duplicates still get a fresh summary")
	require.Len(t, snd.byKind("success"), 1)
	require.Equal(t, "ScribeDone", box.moves[0].Dest)
}

func TestProcessEpisodeSources(t *testing.T) {
	fe := &fakeFrontend{record: completedTranscription("youtube_dQw4w9WgXcQ")}
	snd := &fakeSender{}
	box := &fakeMailbox{}
	w := NewWorker(testCli(), fe, snd)

	msg := inbound(11, "Newsletters", "The Daily Digest",
		"New episode: https://www.youtube.com/watch?v=dQw4w9WgXcQ and more at https://www.youtube.com/watch?v=abcdefghijk")
	w.processEpisodeSources(context.Background(), box, msg)

	require.Len(t, fe.submits, 1, "only the first matching url is processed")
	require.Equal(t, []string{"digest"}, fe.submits[0].Tags)

	require.Len(t, fe.episodeSources, 1)
	es := fe.episodeSources[0]
	require.Equal(t, "youtube_dQw4w9WgXcQ", es.TranscriptionID)
	require.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", es.MatchedURL)
	require.Equal(t, msg.Text, es.SourceText)
	require.NotNil(t, es.EmailSubject)
	require.Equal(t, "The Daily Digest", *es.EmailSubject)
	require.NotNil(t, es.EmailFrom)
	require.Equal(t, "listener@example.com", *es.EmailFrom)

	successes := snd.byKind("success")
	require.Len(t, successes, 1)
	recipients, err := successes[0].Msg.GetRecipients()
	require.NoError(t, err)
	require.Equal(t, []string{"digest@example.com"}, recipients)
	require.Equal(t, []string{"Scribe: The Daily Digest"}, successes[0].Msg.GetGenHeader(gomail.HeaderSubject))

	require.Equal(t, []moveCall{{Folder: "Newsletters", UID: 11, Dest: "NewslettersDone"}}, box.moves)
}

func TestProcessEpisodeSourcesSkipsNonEpisodeURLs(t *testing.T) {
	fe := &fakeFrontend{}
	snd := &fakeSender{}
	box := &fakeMailbox{}
	w := NewWorker(testCli(), fe, snd)

	// Direct audio is transcribable but not an episode source.
	msg := inbound(13, "Newsletters", "files", "https://cdn.example.com/ep01.mp3")
	w.processEpisodeSources(context.Background(), box, msg)

	require.Empty(t, fe.submits)
	require.Len(t, snd.byKind("no_urls"), 1)
	require.Equal(t, []moveCall{{Folder: "Newsletters", UID: 13, Dest: "NewslettersError"}}, box.moves)
}

func TestEnsureCompleted(t *testing.T) {
	completed := completedTranscription("youtube_dQw4w9WgXcQ")
	w := NewWorker(testCli(), &fakeFrontend{record: completed}, &fakeSender{})

	t.Run("pending record is awaited", func(t *testing.T) {
		pending := &store.Transcription{ID: "youtube_dQw4w9WgXcQ", Status: store.StatusPending}
		rec, err := w.ensureCompleted(context.Background(), "req1", pending)
		require.NoError(t, err)
		require.Equal(t, store.StatusCompleted, rec.Status)
	})

	t.Run("failed record is an error", func(t *testing.T) {
		detail := "audio too large"
		failed := &store.Transcription{ID: "direct_audio_abc", Status: store.StatusFailed, ErrorMessage: &detail}
		_, err := w.ensureCompleted(context.Background(), "req2", failed)
		require.ErrorContains(t, err, "audio too large")
	})

	t.Run("completed record passes through", func(t *testing.T) {
		rec, err := w.ensureCompleted(context.Background(), "req3", completed)
		require.NoError(t, err)
		require.Same(t, completed, rec)
	})
}

func TestKnownTagsAreCached(t *testing.T) {
	fe := &fakeFrontend{tags: []string{"tech"}}
	w := NewWorker(testCli(), fe, &fakeSender{})

	for i := 0; i < 3; i++ {
		tags, err := w.knownTags(context.Background())
		require.NoError(t, err)
		require.Equal(t, []string{"tech"}, tags)
	}
	require.Equal(t, 1, fe.usedTagsCalls)
}

func TestDeriveTagFallsBackWhenTagsUnavailable(t *testing.T) {
	fe := &fakeFrontend{tagsErr: errors.New("frontend down")}
	w := NewWorker(testCli(), fe, &fakeSender{})

	require.Equal(t, "podcast", w.deriveTag(context.Background(), "req", "tech weekly"))
}

func TestDispatchFolderMarksSeenBeforeHandling(t *testing.T) {
	box := &fakeMailbox{
		unseen: map[string][]*inboundMessage{
			"INBOX": {inbound(1, "INBOX", "a", ""), inbound(2, "INBOX", "b", "")},
		},
	}
	w := NewWorker(testCli(), &fakeFrontend{}, &fakeSender{})

	var mu sync.Mutex
	var handled []uint32
	var group errgroup.Group
	group.SetLimit(2)
	w.dispatchFolder(box, "INBOX", &group, func(msg *inboundMessage) {
		mu.Lock()
		handled = append(handled, msg.UID)
		mu.Unlock()
	})
	require.NoError(t, group.Wait())

	require.ElementsMatch(t, []uint32{1, 2}, box.seen)
	require.ElementsMatch(t, []uint32{1, 2}, handled)
}

func TestDispatchFolderSkipsUnflaggableMessages(t *testing.T) {
	box := &fakeMailbox{
		unseen: map[string][]*inboundMessage{
			"INBOX": {inbound(1, "INBOX", "a", "")},
		},
		markSeenErr: errors.New("connection reset"),
	}
	w := NewWorker(testCli(), &fakeFrontend{}, &fakeSender{})

	var group errgroup.Group
	handled := false
	w.dispatchFolder(box, "INBOX", &group, func(*inboundMessage) { handled = true })
	require.NoError(t, group.Wait())
	require.False(t, handled, "a message that could not be flagged seen must wait for the next cycle")
}
