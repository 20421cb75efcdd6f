package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PollCycles = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "formrelay", Name: "poll_cycles_total", Help: "Number of completed poll cycles."},
	)
	PollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "formrelay", Name: "poll_errors_total", Help: "Number of poll cycles aborted by an error."},
	)
	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "formrelay", Name: "submissions_total", Help: "Submissions pulled from the collection by outcome."},
		[]string{"outcome"},
	)
	MailSent = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "formrelay", Name: "mail_sent_total", Help: "Notifications accepted by the SMTP server."},
	)
	MailFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "formrelay", Name: "mail_failed_total", Help: "Notifications that failed to build or send."},
	)
	MailSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "formrelay", Name: "mail_skipped_total", Help: "Notifications not sent because the attachment type is not allowed."},
	)
	AttachmentsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "formrelay", Name: "attachments_dropped_total", Help: "Attachments rejected by reason."},
		[]string{"reason"},
	)
	SendsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "formrelay", Name: "sends_in_flight", Help: "Send workers dispatched and not yet finished."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(PollCycles)
	reg.MustRegister(PollErrors)
	reg.MustRegister(Submissions)
	reg.MustRegister(MailSent)
	reg.MustRegister(MailFailed)
	reg.MustRegister(MailSkipped)
	reg.MustRegister(AttachmentsDropped)
	reg.MustRegister(SendsInFlight)
}
