package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ClientMetrics struct {
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

type ScribeMetrics struct {
	TranscribeRequestCount   prometheus.Counter
	TranscribeRequestRejects *prometheus.CounterVec
	PipelineDurationSec      *prometheus.SummaryVec
	PipelineResults          *prometheus.CounterVec
	DownloadedAudioBytes     prometheus.Histogram
	HTTPRequestsInFlight     prometheus.Gauge
	PushSubscribers          prometheus.Gauge

	SummariesGenerated    *prometheus.CounterVec
	SummaryDurationSec    prometheus.Histogram
	CleanupAudioRemoved   prometheus.Counter
	CleanupRecordsRemoved prometheus.Counter

	MailPollCycles        prometheus.Counter
	MailMessagesProcessed *prometheus.CounterVec
	MailSent              *prometheus.CounterVec

	TranscriberClient ClientMetrics
}

func NewMetrics() *ScribeMetrics {
	m := &ScribeMetrics{
		// /api/transcribe request metrics
		TranscribeRequestCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcribe_request_count",
			Help: "The total number of requests to /api/transcribe",
		}),
		TranscribeRequestRejects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_request_rejects",
			Help: "Requests to /api/transcribe rejected before a job started, broken up by reason",
		}, []string{"reason"}),
		PipelineDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "transcription_pipeline_duration_seconds",
			Help: "The time that transcription runs take, broken up by stage and success",
		}, []string{"stage", "success"}),
		PipelineResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcription_pipeline_results",
			Help: "The total number of terminal pipeline outcomes, broken up by success",
		}, []string{"success"}),
		DownloadedAudioBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "downloaded_audio_bytes",
			Help:    "Size of committed audio downloads",
			Buckets: prometheus.ExponentialBuckets(1<<20, 4, 8),
		}),
		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "The number of in-flight HTTP requests on the public API",
		}),
		PushSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "push_subscribers",
			Help: "The number of connected status push subscribers",
		}),

		// Summarizer metrics
		SummariesGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "summaries_generated",
			Help: "The total number of summary generations, broken up by config source and success",
		}, []string{"config_source", "success"}),
		SummaryDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "summary_duration_seconds",
			Help:    "Wall-clock time of LLM summary calls",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		// Cleanup loop metrics
		CleanupAudioRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cleanup_audio_removed",
			Help: "The total number of expired cached audio files removed",
		}),
		CleanupRecordsRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cleanup_records_removed",
			Help: "The total number of stale failed records removed",
		}),

		// Mail worker metrics
		MailPollCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mail_poll_cycles",
			Help: "The total number of completed IMAP poll cycles",
		}),
		MailMessagesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_messages_processed",
			Help: "The total number of processed inbox messages, broken up by pipeline and outcome",
		}, []string{"pipeline", "outcome"}),
		MailSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_sent",
			Help: "The total number of outbound emails, broken up by kind",
		}, []string{"kind"}),

		// Clients metrics

		TranscriberClient: ClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "transcriber_client_retry_count",
				Help: "The number of retries of a successful request to the ASR service",
			}, []string{"host"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "transcriber_client_failure_count",
				Help: "The total number of failed requests to the ASR service",
			}, []string{"host", "status_code"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "transcriber_client_request_duration",
				Help:    "Time taken for requests to the ASR service",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"host"}),
		},
	}

	return m
}

var Metrics = NewMetrics()
