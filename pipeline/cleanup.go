package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/scribe-audio/scribe/config"
	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/metrics"
	"github.com/scribe-audio/scribe/store"
)

// Cleaner sweeps two kinds of garbage on a timer: cached audio files past
// their TTL, and failed records old enough that nobody will retry them.
// Transcripts and completed records are never touched.
type Cleaner struct {
	store     *store.Store
	interval  time.Duration
	failedTTL time.Duration
}

func NewCleaner(db *store.Store, interval, failedTTL time.Duration) *Cleaner {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if failedTTL <= 0 {
		failedTTL = 7 * 24 * time.Hour
	}
	return &Cleaner{store: db, interval: interval, failedTTL: failedTTL}
}

// Start sweeps once immediately, then on every tick until ctx is canceled.
func (c *Cleaner) Start(ctx context.Context) error {
	c.RunOnce()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.RunOnce()
		}
	}
}

// RunOnce performs a single sweep. Errors are logged and skip the affected
// record; the database row keeps its audio path until the file is gone.
func (c *Cleaner) RunOnce() {
	now := config.Clock.Now()

	expired, err := c.store.ExpiredAudio(now)
	if err != nil {
		log.LogNoRequestID("error listing expired audio", "err", err)
	}
	for _, rec := range expired {
		if err := os.Remove(rec.AudioPath); err != nil && !os.IsNotExist(err) {
			log.LogNoRequestID("error removing cached audio", "id", rec.ID, "path", rec.AudioPath, "err", err)
			continue
		}
		if err := c.store.ClearAudio(rec.ID); err != nil {
			log.LogNoRequestID("error clearing audio path", "id", rec.ID, "err", err)
			continue
		}
		metrics.Metrics.CleanupAudioRemoved.Inc()
	}

	stale, err := c.store.StaleFailed(now.Add(-c.failedTTL))
	if err != nil {
		log.LogNoRequestID("error listing stale failed records", "err", err)
	}
	for _, t := range stale {
		if t.AudioPath != nil {
			if err := os.Remove(*t.AudioPath); err != nil && !os.IsNotExist(err) {
				log.LogNoRequestID("error removing cached audio", "id", t.ID, "path", *t.AudioPath, "err", err)
			}
		}
		if _, err := c.store.Delete(t.ID); err != nil {
			log.LogNoRequestID("error deleting stale failed record", "id", t.ID, "err", err)
			continue
		}
		metrics.Metrics.CleanupRecordsRemoved.Inc()
	}
}
