package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	gomail "github.com/wneessen/go-mail"

	xerrors "github.com/scribe-audio/scribe/errors"
	"github.com/scribe-audio/scribe/log"
	"github.com/scribe-audio/scribe/metrics"
)

const smtpTimeout = 30 * time.Second

// Outbound mail kinds, used as the mail_sent metric label.
const (
	KindSuccess = "success"
	KindError   = "error"
	KindNoURLs  = "no_urls"
)

type SMTPOpts struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// Timeout bounds one SMTP operation. Zero takes the default.
	Timeout time.Duration
}

// Sender delivers composed messages over SMTP, dialing per send. Transient
// failures retry with the worker-wide backoff policy.
type Sender struct {
	client *gomail.Client
	From   string
}

func NewSender(opts SMTPOpts) (*Sender, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = smtpTimeout
	}
	options := []gomail.Option{
		gomail.WithPort(opts.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(opts.Username),
		gomail.WithPassword(opts.Password),
		gomail.WithTimeout(opts.Timeout),
	}
	if opts.Port == 465 {
		options = append(options, gomail.WithSSL())
	} else {
		options = append(options, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	client, err := gomail.NewClient(opts.Host, options...)
	if err != nil {
		return nil, fmt.Errorf("error building smtp client: %w", err)
	}
	return &Sender{client: client, From: opts.From}, nil
}

// Send delivers one message. kind labels the outbound-mail metric. Permanent
// SMTP rejections are not retried, everything else follows the retry policy.
func (s *Sender) Send(ctx context.Context, requestID, kind string, msg *gomail.Msg) error {
	op := func() error {
		if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
			var sendErr *gomail.SendError
			if errors.As(err, &sendErr) && !sendErr.IsTemp() {
				log.LogError(requestID, "smtp send rejected permanently", err, "kind", kind)
				return xerrors.Unretriable(err)
			}
			log.LogError(requestID, "smtp send failed, may retry", err, "kind", kind)
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(RetryPolicy(), ctx)); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	metrics.Metrics.MailSent.WithLabelValues(kind).Inc()
	return nil
}

// RetryPolicy is the transient-failure policy shared by the mail paths:
// three retries at 5s, 15s and 45s.
func RetryPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Second
	policy.Multiplier = 3
	policy.RandomizationFactor = 0
	return backoff.WithMaxRetries(policy, 3)
}
