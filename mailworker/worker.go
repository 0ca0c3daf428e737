package mailworker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jaytaylor/html2text"
	gocache "github.com/patrickmn/go-cache"
	gomail "github.com/wneessen/go-mail"
	"golang.org/x/sync/errgroup"

	"github.com/scribe-audio/scribe/clients"
	"github.com/scribe-audio/scribe/config"
	"github.com/scribe-audio/scribe/errors"
	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/mail"
	"github.com/scribe-audio/scribe/metrics"
	"github.com/scribe-audio/scribe/requests"
	"github.com/scribe-audio/scribe/sources"
	"github.com/scribe-audio/scribe/store"
)

const (
	tagCacheTTL = 5 * time.Minute
	tagCacheKey = "used_tags"

	// Tag put on everything submitted through the newsletter pipeline.
	episodeTag = "digest"

	pipelineGeneric        = "generic"
	pipelineEpisodeSources = "episode_sources"

	outcomeDone   = "done"
	outcomeError  = "error"
	outcomeNoURLs = "no_urls"
)

// Frontend is the slice of the Scribe API the worker drives. Implemented by
// clients.FrontendClient.
type Frontend interface {
	Submit(ctx context.Context, requestID, sourceURL string, tags []string) (*store.Transcription, bool, error)
	AwaitCompletion(ctx context.Context, requestID, id string) (*store.Transcription, error)
	RequestSummary(ctx context.Context, requestID, transcriptionID, systemPromptSuffix string) (*store.Summary, error)
	CreateEpisodeSource(ctx context.Context, es *store.EpisodeSource) (*store.EpisodeSource, error)
	UsedTags(ctx context.Context) ([]string, error)
	TagConfig(ctx context.Context, name string) (*clients.TagConfigInfo, error)
}

// MessageSender delivers one composed message. Implemented by mail.Sender.
type MessageSender interface {
	Send(ctx context.Context, requestID, kind string, msg *gomail.Msg) error
}

// mailbox is the slice of the IMAP session the pipelines touch, split out so
// handler logic is testable without a live server.
type mailbox interface {
	UnseenMessages(folder string) ([]*inboundMessage, error)
	MarkSeen(folder string, uid uint32) error
	Move(folder string, uid uint32, dest string) error
	EnsureFolders(names ...string)
	Close()
}

// Worker turns inbox messages into transcription submissions and mails the
// results back. Each poll cycle dials a fresh IMAP session, lists unseen
// messages in the watched folders and dispatches handlers over a bounded
// group.
type Worker struct {
	cli      *config.Cli
	frontend Frontend
	sender   MessageSender
	tagCache *gocache.Cache
}

func NewWorker(cli *config.Cli, frontend Frontend, sender MessageSender) *Worker {
	return &Worker{
		cli:      cli,
		frontend: frontend,
		sender:   sender,
		tagCache: gocache.New(tagCacheTTL, 2*tagCacheTTL),
	}
}

// Start polls immediately, then on every tick until ctx is cancelled. A cycle
// in progress finishes its in-flight handlers before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	w.pollOnce(ctx)

	ticker := time.NewTicker(w.cli.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	session, err := w.dial(ctx)
	if err != nil {
		if errors.IsUnretriable(err) {
			log.LogNoRequestID("imap credentials rejected, check IMAP settings", "err", err)
		} else {
			log.LogNoRequestID("imap dial failed, skipping poll cycle", "err", err)
		}
		return
	}
	defer session.Close()

	session.EnsureFolders(
		w.cli.DoneFolder,
		w.cli.ErrorFolder,
		w.cli.EpisodeSourcesDoneFolder,
		w.cli.EpisodeSourcesErrFolder,
	)

	// Handlers outlive ctx on purpose: messages already flagged \Seen run to
	// completion while a shutdown signal stops new cycles.
	handlerCtx := context.Background()

	var group errgroup.Group
	group.SetLimit(w.cli.MailConcurrency)

	for _, folder := range w.cli.InboxFolders {
		w.dispatchFolder(session, folder, &group, func(msg *inboundMessage) {
			w.processGeneric(handlerCtx, session, msg)
		})
	}
	if w.cli.EpisodeSourcesFolder != "" {
		w.dispatchFolder(session, w.cli.EpisodeSourcesFolder, &group, func(msg *inboundMessage) {
			w.processEpisodeSources(handlerCtx, session, msg)
		})
	}

	_ = group.Wait()
	metrics.Metrics.MailPollCycles.Inc()
}

// dial retries transient connection failures with the shared mail backoff
// policy before giving up on the cycle.
func (w *Worker) dial(ctx context.Context) (*imapSession, error) {
	var session *imapSession
	op := func() error {
		var err error
		session, err = dialIMAP(w.cli)
		if err != nil {
			log.LogNoRequestID("imap dial attempt failed", "host", w.cli.IMAPHost, "err", err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(mail.RetryPolicy(), ctx)); err != nil {
		return nil, err
	}
	return session, nil
}

func (w *Worker) dispatchFolder(box mailbox, folder string, group *errgroup.Group, handle func(*inboundMessage)) {
	msgs, err := box.UnseenMessages(folder)
	if err != nil {
		log.LogNoRequestID("error listing unseen messages", "folder", folder, "err", err)
		return
	}
	for _, msg := range msgs {
		// Flag before dispatch: a crash mid-handler leaves the message
		// unprocessed rather than processed twice on the next cycle.
		if err := box.MarkSeen(msg.Folder, msg.UID); err != nil {
			log.LogNoRequestID("error flagging message seen, leaving for next cycle", "folder", folder, "uid", msg.UID, "err", err)
			continue
		}
		msg := msg // per-iteration copy: required under pre-1.22 loop semantics
		group.Go(func() error {
			handle(msg)
			return nil
		})
	}
}

// processGeneric handles a message from a watched inbox folder: extract URLs,
// keep the transcribable ones, submit each under the subject-derived tag and
// deliver results. One success is enough to file the message under Done.
func (w *Worker) processGeneric(ctx context.Context, box mailbox, msg *inboundMessage) {
	requestID := requests.NewRequestId()
	log.AddContext(requestID, "pipeline", pipelineGeneric, "folder", msg.Folder, "uid", msg.UID, "from", msg.From)
	log.Log(requestID, "processing message", "subject", msg.Subject)

	var transcribable []string
	for _, u := range ExtractURLs(msg.Text, msg.HTML) {
		if sources.IsTranscribable(u) {
			transcribable = append(transcribable, u)
		}
	}
	if len(transcribable) == 0 {
		w.handleNoURLs(ctx, requestID, box, msg, w.cli.ErrorFolder, pipelineGeneric)
		return
	}

	tag := w.deriveTag(ctx, requestID, msg.Subject)

	succeeded := 0
	for _, sourceURL := range transcribable {
		if err := w.transcribeAndDeliver(ctx, requestID, sourceURL, tag); err != nil {
			log.LogError(requestID, "url processing failed", err, "url", log.RedactURL(sourceURL))
			w.sendErrorNotice(ctx, requestID, msg.From, sourceURL, err)
			continue
		}
		succeeded++
	}

	dest, outcome := w.cli.ErrorFolder, outcomeError
	if succeeded > 0 {
		dest, outcome = w.cli.DoneFolder, outcomeDone
	}
	w.fileAway(requestID, box, msg, dest)
	metrics.Metrics.MailMessagesProcessed.WithLabelValues(pipelineGeneric, outcome).Inc()
}

func (w *Worker) transcribeAndDeliver(ctx context.Context, requestID, sourceURL, tag string) error {
	rec, duplicate, err := w.frontend.Submit(ctx, requestID, sourceURL, []string{tag})
	if err != nil {
		return err
	}
	if duplicate {
		log.Log(requestID, "reusing existing transcription", "id", rec.ID)
	}
	rec, err = w.ensureCompleted(ctx, requestID, rec)
	if err != nil {
		return err
	}

	// A fresh summary on every delivery, duplicates included.
	sum, err := w.frontend.RequestSummary(ctx, requestID, rec.ID, mail.HTMLPromptSuffix)
	if err != nil {
		return err
	}

	recipients := w.recipients(ctx, requestID, tag)
	message, err := mail.SuccessMessage(w.cli.SMTPFrom, recipients, mail.Content{
		Transcription: rec,
		SummaryHTML:   sum.SummaryText,
	})
	if err != nil {
		return err
	}
	if err := w.sender.Send(ctx, requestID, mail.KindSuccess, message); err != nil {
		return err
	}
	log.Log(requestID, "results delivered", "id", rec.ID, "recipients", len(recipients))
	return nil
}

// processEpisodeSources handles a newsletter message: the first Apple
// Podcasts or YouTube URL is transcribed under the digest tag, the email is
// linked as an episode source and the result goes to the configured return
// address with the original subject echoed back.
func (w *Worker) processEpisodeSources(ctx context.Context, box mailbox, msg *inboundMessage) {
	requestID := requests.NewRequestId()
	log.AddContext(requestID, "pipeline", pipelineEpisodeSources, "folder", msg.Folder, "uid", msg.UID, "from", msg.From)
	log.Log(requestID, "processing newsletter", "subject", msg.Subject)

	var matched string
	for _, u := range ExtractURLs(msg.Text, msg.HTML) {
		if sources.IsEpisodeSource(u) {
			matched = u
			break
		}
	}
	if matched == "" {
		w.handleNoURLs(ctx, requestID, box, msg, w.cli.EpisodeSourcesErrFolder, pipelineEpisodeSources)
		return
	}

	if err := w.transcribeEpisode(ctx, requestID, msg, matched); err != nil {
		log.LogError(requestID, "newsletter processing failed", err, "url", log.RedactURL(matched))
		w.sendErrorNotice(ctx, requestID, msg.From, matched, err)
		w.fileAway(requestID, box, msg, w.cli.EpisodeSourcesErrFolder)
		metrics.Metrics.MailMessagesProcessed.WithLabelValues(pipelineEpisodeSources, outcomeError).Inc()
		return
	}
	w.fileAway(requestID, box, msg, w.cli.EpisodeSourcesDoneFolder)
	metrics.Metrics.MailMessagesProcessed.WithLabelValues(pipelineEpisodeSources, outcomeDone).Inc()
}

func (w *Worker) transcribeEpisode(ctx context.Context, requestID string, msg *inboundMessage, matched string) error {
	rec, duplicate, err := w.frontend.Submit(ctx, requestID, matched, []string{episodeTag})
	if err != nil {
		return err
	}
	if duplicate {
		log.Log(requestID, "reusing existing transcription", "id", rec.ID)
	}
	rec, err = w.ensureCompleted(ctx, requestID, rec)
	if err != nil {
		return err
	}

	// The newsletter linkage is recorded even when the episode was
	// transcribed before.
	es := &store.EpisodeSource{
		TranscriptionID: rec.ID,
		SourceText:      newsletterText(msg),
		MatchedURL:      matched,
	}
	if msg.Subject != "" {
		es.EmailSubject = &msg.Subject
	}
	if msg.From != "" {
		es.EmailFrom = &msg.From
	}
	if _, err := w.frontend.CreateEpisodeSource(ctx, es); err != nil {
		return err
	}

	sum, err := w.frontend.RequestSummary(ctx, requestID, rec.ID, mail.HTMLPromptSuffix)
	if err != nil {
		return err
	}

	message, err := mail.SuccessMessage(w.cli.SMTPFrom, []string{w.cli.EpisodeSourcesReturn}, mail.Content{
		Transcription: rec,
		SummaryHTML:   sum.SummaryText,
		Subject:       "Scribe: " + msg.Subject,
		LeadLine:      "Matched URL: " + matched,
	})
	if err != nil {
		return err
	}
	if err := w.sender.Send(ctx, requestID, mail.KindSuccess, message); err != nil {
		return err
	}
	log.Log(requestID, "newsletter results delivered", "id", rec.ID)
	return nil
}

// ensureCompleted waits for a non-terminal record and rejects a failed one.
// Records from duplicate submissions arrive in any state.
func (w *Worker) ensureCompleted(ctx context.Context, requestID string, rec *store.Transcription) (*store.Transcription, error) {
	if !rec.Status.Terminal() {
		return w.frontend.AwaitCompletion(ctx, requestID, rec.ID)
	}
	if rec.Status == store.StatusFailed {
		detail := "transcription failed"
		if rec.ErrorMessage != nil {
			detail = *rec.ErrorMessage
		}
		return nil, fmt.Errorf("transcription %s failed: %s", rec.ID, detail)
	}
	return rec, nil
}

func (w *Worker) handleNoURLs(ctx context.Context, requestID string, box mailbox, msg *inboundMessage, errFolder, pipeline string) {
	log.Log(requestID, "no usable urls in message", "subject", msg.Subject)
	notice, err := mail.NoURLsMessage(w.cli.SMTPFrom, msg.From)
	if err != nil {
		log.LogError(requestID, "error composing no-urls notice", err)
	} else if err := w.sender.Send(ctx, requestID, mail.KindNoURLs, notice); err != nil {
		log.LogError(requestID, "error sending no-urls notice", err)
	}
	w.fileAway(requestID, box, msg, errFolder)
	metrics.Metrics.MailMessagesProcessed.WithLabelValues(pipeline, outcomeNoURLs).Inc()
}

// sendErrorNotice tells the original sender what went wrong. Configured
// result addresses never receive failure notices.
func (w *Worker) sendErrorNotice(ctx context.Context, requestID, to, sourceURL string, cause error) {
	notice, err := mail.ErrorMessage(w.cli.SMTPFrom, to, sourceURL, cause.Error())
	if err != nil {
		log.LogError(requestID, "error composing failure notice", err)
		return
	}
	if err := w.sender.Send(ctx, requestID, mail.KindError, notice); err != nil {
		log.LogError(requestID, "error sending failure notice", err)
	}
}

func (w *Worker) fileAway(requestID string, box mailbox, msg *inboundMessage, dest string) {
	if err := box.Move(msg.Folder, msg.UID, dest); err != nil {
		log.LogError(requestID, "error filing message away", err, "dest", dest)
	}
}

func (w *Worker) deriveTag(ctx context.Context, requestID, subject string) string {
	known, err := w.knownTags(ctx)
	if err != nil {
		log.LogError(requestID, "error fetching tags, using default", err)
		return w.cli.DefaultTag
	}
	tag := DeriveTag(subject, known, w.cli.DefaultTag)
	log.Log(requestID, "derived tag", "tag", tag)
	return tag
}

func (w *Worker) knownTags(ctx context.Context) ([]string, error) {
	if cached, found := w.tagCache.Get(tagCacheKey); found {
		return cached.([]string), nil
	}
	tags, err := w.frontend.UsedTags(ctx)
	if err != nil {
		return nil, err
	}
	w.tagCache.Set(tagCacheKey, tags, gocache.DefaultExpiration)
	return tags, nil
}

// recipients resolves where a tag's results go: the tag config's destination
// addresses when set, otherwise the configured default.
func (w *Worker) recipients(ctx context.Context, requestID, tag string) []string {
	cfg, err := w.frontend.TagConfig(ctx, tag)
	if err != nil {
		log.LogError(requestID, "error fetching tag config, using default address", err, "tag", tag)
	} else if cfg != nil && len(cfg.DestinationEmails) > 0 {
		return cfg.DestinationEmails
	}
	return []string{w.cli.DefaultResultAddress}
}

// newsletterText is the episode-source body kept alongside the match: the
// plain part when present, otherwise the HTML rendered to text.
func newsletterText(msg *inboundMessage) string {
	if strings.TrimSpace(msg.Text) != "" {
		return msg.Text
	}
	if msg.HTML == "" {
		return ""
	}
	rendered, err := html2text.FromString(msg.HTML, html2text.Options{TextOnly: false})
	if err != nil {
		log.LogNoRequestID("error rendering newsletter html", "err", err)
		return msg.HTML
	}
	return rendered
}
