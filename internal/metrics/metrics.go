// Package metrics holds the prometheus collectors for the post write path.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	uploads        *prometheus.CounterVec
	uploadDuration prometheus.Histogram
	transactions   *prometheus.CounterVec
	txRetries      prometheus.Counter
	submissions    *prometheus.CounterVec
}

// New registers the collectors on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "travellog_image_uploads_total",
			Help: "Object store uploads by result.",
		}, []string{"result"}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "travellog_image_upload_duration_seconds",
			Help:    "Latency of a single object store upload.",
			Buckets: prometheus.DefBuckets,
		}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "travellog_post_transactions_total",
			Help: "Post/user link transactions by outcome.",
		}, []string{"result"}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "travellog_post_transaction_retries_total",
			Help: "Transactions restarted after a serialization conflict.",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "travellog_post_submissions_total",
			Help: "Post submissions by error code, empty code meaning success.",
		}, []string{"code"}),
	}
	reg.MustRegister(m.uploads, m.uploadDuration, m.transactions, m.txRetries, m.submissions)
	return m
}

func (m *Metrics) ObserveUpload(err error, took time.Duration) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result(err)).Inc()
	m.uploadDuration.Observe(took.Seconds())
}

func (m *Metrics) ObserveTransaction(outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

func (m *Metrics) ObserveSubmission(code string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(code).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
