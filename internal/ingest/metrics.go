package ingest

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "paper_press"

// Metrics はアップロード受付の Prometheus メトリクスです。nil の場合は何も記録しません。
type Metrics struct {
	requests   *prometheus.CounterVec
	rejections *prometheus.CounterVec
	files      prometheus.Counter
	bytes      prometheus.Counter
	duration   prometheus.Histogram
}

// NewMetrics は reg にメトリクスを登録して返します。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "requests_total",
			Help:      "Upload requests by outcome",
		}, []string{"outcome"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "rejections_total",
			Help:      "Rejected upload requests by reason",
		}, []string{"reason"}),
		files: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "files_stored_total",
			Help:      "Files committed to the upload directory",
		}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "bytes_received_total",
			Help:      "Bytes written for accepted file parts",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "parse_duration_seconds",
			Help:      "Time spent reading and validating an upload",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observe(result *Result, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(elapsed.Seconds())

	var validationErr *ValidationError
	switch {
	case err == nil:
		m.requests.WithLabelValues("accepted").Inc()
		if result != nil {
			m.files.Add(float64(len(result.Files)))
		}
	case errors.As(err, &validationErr):
		m.requests.WithLabelValues("rejected").Inc()
		m.rejections.WithLabelValues(string(validationErr.Reason)).Inc()
	case errors.Is(err, ErrNotMultipart), errors.Is(err, ErrMalformedRequest):
		m.requests.WithLabelValues("rejected").Inc()
		m.rejections.WithLabelValues("Malformed").Inc()
	default:
		m.requests.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) addBytes(n int64) {
	if m == nil {
		return
	}
	m.bytes.Add(float64(n))
}
