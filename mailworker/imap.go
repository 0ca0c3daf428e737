package mailworker

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"

	"github.com/scribe-audio/scribe/config"
	"github.com/scribe-audio/scribe/errors"
	"github.com/scribe-audio/scribe/log"
)

const imapTimeout = 30 * time.Second

// inboundMessage is one mail pulled from a watched folder, body parts already
// parsed so that handlers never need the IMAP connection except to file the
// message away afterwards.
type inboundMessage struct {
	UID     uint32
	Folder  string
	Subject string
	From    string
	Text    string
	HTML    string
}

// imapSession wraps one logged-in IMAP connection. The client is not safe for
// concurrent commands, so every operation takes the session lock; concurrent
// message handlers only contend on the final folder move.
type imapSession struct {
	mu       sync.Mutex
	client   *client.Client
	selected string
}

// dialIMAP connects and logs in. Port 993 gets implicit TLS, anything else
// dials plain and upgrades with STARTTLS.
func dialIMAP(cli *config.Cli) (*imapSession, error) {
	addr := fmt.Sprintf("%s:%d", cli.IMAPHost, cli.IMAPPort)
	tlsConfig := &tls.Config{ServerName: cli.IMAPHost}

	var c *client.Client
	var err error
	if cli.IMAPPort == 993 {
		c, err = client.DialTLS(addr, tlsConfig)
	} else {
		c, err = client.Dial(addr)
		if err == nil {
			err = c.StartTLS(tlsConfig)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("error connecting to imap server %s: %w", addr, err)
	}
	c.Timeout = imapTimeout
	if cli.MailTimeout > 0 {
		c.Timeout = cli.MailTimeout
	}

	if err := c.Login(cli.IMAPUsername, cli.IMAPPassword); err != nil {
		_ = c.Logout()
		// Bad credentials stay bad; retrying only risks a provider lockout.
		return nil, errors.Unretriable(fmt.Errorf("imap login failed for %s: %w", cli.IMAPUsername, err))
	}
	return &imapSession{client: c}, nil
}

func (s *imapSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.Logout(); err != nil {
		log.LogNoRequestID("error logging out of imap session", "err", err)
	}
}

// EnsureFolders creates the destination folders. Most servers answer
// ALREADYEXISTS on the second run, so failures are only logged.
func (s *imapSession) EnsureFolders(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if name == "" {
			continue
		}
		if err := s.client.Create(name); err != nil {
			log.LogNoRequestID("imap folder create skipped", "folder", name, "reason", err)
		}
	}
}

func (s *imapSession) selectFolder(name string) error {
	if s.selected == name {
		return nil
	}
	if _, err := s.client.Select(name, false); err != nil {
		return fmt.Errorf("error selecting folder %s: %w", name, err)
	}
	s.selected = name
	return nil
}

// UnseenMessages returns the parsed unseen messages of a folder. Bodies are
// fetched with BODY.PEEK so the unseen flag state stays untouched until the
// caller marks each message explicitly.
func (s *imapSession) UnseenMessages(folder string) ([]*inboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectFolder(folder); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("error searching folder %s: %w", folder, err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, ch)
	}()

	var out []*inboundMessage
	for msg := range ch {
		raw := msg.GetBody(section)
		if raw == nil {
			log.LogNoRequestID("fetched message without body section", "folder", folder, "uid", msg.Uid)
			continue
		}
		parsed, err := parseMessage(folder, msg.Uid, raw)
		if err != nil {
			log.LogNoRequestID("error parsing inbound message", "folder", folder, "uid", msg.Uid, "err", err)
			continue
		}
		out = append(out, parsed)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("error fetching messages from %s: %w", folder, err)
	}
	return out, nil
}

// MarkSeen flags one message \Seen. Done before a handler is dispatched so a
// crash mid-processing never replays the message on the next cycle.
func (s *imapSession) MarkSeen(folder string, uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectFolder(folder); err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.client.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("error flagging message %d seen: %w", uid, err)
	}
	return nil
}

// Move files a message into dest via copy, delete-flag and expunge. UIDs are
// stable across the expunge, so concurrent handlers holding other UIDs in the
// same folder are unaffected.
func (s *imapSession) Move(folder string, uid uint32, dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectFolder(folder); err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	if err := s.client.UidCopy(seqset, dest); err != nil {
		return fmt.Errorf("error copying message %d to %s: %w", uid, dest, err)
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.client.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("error flagging message %d deleted: %w", uid, err)
	}
	if err := s.client.Expunge(nil); err != nil {
		return fmt.Errorf("error expunging folder %s: %w", folder, err)
	}
	return nil
}

func parseMessage(folder string, uid uint32, raw io.Reader) (*inboundMessage, error) {
	env, err := enmime.ReadEnvelope(raw)
	if err != nil {
		return nil, fmt.Errorf("error parsing mime envelope: %w", err)
	}

	from := strings.TrimSpace(env.GetHeader("From"))
	if addr, err := mail.ParseAddress(from); err == nil {
		from = addr.Address
	}

	return &inboundMessage{
		UID:     uid,
		Folder:  folder,
		Subject: strings.TrimSpace(env.GetHeader("Subject")),
		From:    from,
		Text:    env.Text,
		HTML:    env.HTML,
	}, nil
}
