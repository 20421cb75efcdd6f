package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/formrelay/formrelay/internal/config"
	"github.com/formrelay/formrelay/internal/intake"
	"github.com/formrelay/formrelay/pkg/logger"
	"github.com/formrelay/formrelay/pkg/metrics"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"
)

// Dialer submits fully built messages. *gomail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Archiver stores accepted attachments. *storage.MinIOStorage satisfies it.
type Archiver interface {
	UploadFile(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
}

// Options configures a Notifier.
type Options struct {
	From          string
	To            []string
	Subject       string
	MaxConcurrent int
	// RatePerSecond throttles SMTP sessions; 0 disables throttling.
	RatePerSecond float64
	Archiver      Archiver
}

// OptionsFromConfig maps the mail section of cfg onto Options.
func OptionsFromConfig(cfg config.MailConfig) Options {
	return Options{
		From:          cfg.From,
		To:            cfg.Recipients,
		Subject:       cfg.Subject,
		MaxConcurrent: cfg.MaxConcurrent,
		RatePerSecond: cfg.RatePerSecond,
	}
}

// NewDialer returns an SMTP dialer for cfg. Port 465 uses TLS from connect.
func NewDialer(cfg config.SMTPConfig) *gomail.Dialer {
	logger.Infof("mail: dialer for host=%s port=%d user=%s", cfg.Host, cfg.Port, cfg.Username)
	return gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
}

// Notifier turns submissions into mails. Dispatch runs each send on its own
// worker goroutine; at most MaxConcurrent sends talk to the server at once.
type Notifier struct {
	dialer  Dialer
	opts    Options
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

// New returns a Notifier sending through d. MaxConcurrent defaults to 4 and
// Subject to "New Customer Submission".
func New(d Dialer, opts Options) *Notifier {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Subject == "" {
		opts.Subject = "New Customer Submission"
	}
	n := &Notifier{
		dialer: d,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
	if opts.RatePerSecond > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return n
}

// Build applies the attachment policy and returns the message to send.
// ok is false when nothing must be sent for sub.
func (n *Notifier) Build(sub intake.Submission) (msg *gomail.Message, ok bool) {
	att := sub.Attachment
	mediaType, verdict := CheckAttachment(att)
	switch verdict {
	case TooLarge:
		logger.Warnf("File %s exceeds the size limit (%d > %d bytes); sending submission %s without attachment",
			att.Name, len(att.Data), MaxAttachmentSize, sub.ID)
		metrics.AttachmentsDropped.WithLabelValues(verdict.String()).Inc()
		att = nil
	case Unsupported:
		logger.Warnf("Unsupported file type %s for %s; email for submission %s not sent", mediaType, att.Name, sub.ID)
		metrics.AttachmentsDropped.WithLabelValues(verdict.String()).Inc()
		return nil, false
	case NoAttachment:
		att = nil
	}
	return newMessage(n.opts.From, n.opts.To, n.opts.Subject, sub.Fields, att, mediaType), true
}

// Notify builds and sends the mail for sub on the calling goroutine.
// A submission skipped by the attachment policy is not an error.
func (n *Notifier) Notify(ctx context.Context, sub intake.Submission) error {
	msg, ok := n.Build(sub)
	if !ok {
		metrics.MailSkipped.Inc()
		return nil
	}
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			logger.Errorf("Error sending email for submission %s: %v", sub.ID, err)
			metrics.MailFailed.Inc()
			return fmt.Errorf("wait for send slot: %w", err)
		}
	}
	if err := n.dialer.DialAndSend(msg); err != nil {
		logger.Errorf("SMTP error occurred for submission %s: %v", sub.ID, err)
		metrics.MailFailed.Inc()
		return fmt.Errorf("send submission %s: %w", sub.ID, err)
	}
	metrics.MailSent.Inc()
	logger.Infof("Email sent to %s for submission %s", strings.Join(n.opts.To, ", "), sub.ID)
	n.archive(ctx, sub)
	return nil
}

func (n *Notifier) archive(ctx context.Context, sub intake.Submission) {
	if n.opts.Archiver == nil {
		return
	}
	mediaType, verdict := CheckAttachment(sub.Attachment)
	if verdict != Attach {
		return
	}
	key := fmt.Sprintf("submissions/%s/%s", sub.ID, attachmentName(sub.Attachment.Name))
	data := sub.Attachment.Data
	if err := n.opts.Archiver.UploadFile(ctx, key, bytes.NewReader(data), int64(len(data)), mediaType); err != nil {
		logger.Warnf("failed to archive attachment %s: %v", key, err)
		return
	}
	logger.Debugf("archived attachment %s", key)
}

// Dispatch sends the mail for sub on a new worker and returns immediately.
// Failures are logged by the worker; the caller is never told about them.
func (n *Notifier) Dispatch(ctx context.Context, sub intake.Submission) {
	n.wg.Add(1)
	metrics.SendsInFlight.Inc()
	go func() {
		defer n.wg.Done()
		defer metrics.SendsInFlight.Dec()
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("Error sending email for submission %s: panic: %v", sub.ID, r)
				metrics.MailFailed.Inc()
			}
		}()

		if err := n.sem.Acquire(ctx, 1); err != nil {
			logger.Errorf("send worker for submission %s abandoned: %v", sub.ID, err)
			metrics.MailFailed.Inc()
			return
		}
		defer n.sem.Release(1)

		// A send that got a slot is finished even if ctx is cancelled meanwhile.
		// Notify logs its own failures; the worker just ends.
		_ = n.Notify(context.WithoutCancel(ctx), sub)
	}()
}

// Wait blocks until every dispatched worker has finished or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
