package instrumentation

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rawdb",
		Name:      "backend_request_duration_seconds",
		Help:      "Time spent doing object store requests.",

		// payload uploads can be large, so use buckets from 5ms to 80s
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"operation", "status_code"})

	hedgedRoundTrips = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rawdb",
		Name:      "backend_hedged_roundtrips_total",
		Help:      "Total number of hedged backend requests. Registered as a gauge for code sanity. This is a counter.",
	})
)

const hedgedMetricsPublishDuration = 10 * time.Second

type instrumentedTransport struct {
	observer prometheus.ObserverVec
	next     http.RoundTripper
}

// NewTransport wraps a RoundTripper with request duration observation.
func NewTransport(next http.RoundTripper) http.RoundTripper {
	return instrumentedTransport{
		observer: requestDuration,
		next:     next,
	}
}

func (i instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := i.next.RoundTrip(req)
	var status string
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	} else {
		status = "500"
	}
	i.observer.WithLabelValues(req.Method, status).Observe(time.Since(start).Seconds())
	return resp, err
}

// PublishHedgedMetrics flushes metrics from hedged requests every 10 seconds
func PublishHedgedMetrics(s *hedgedhttp.Stats) {
	ticker := time.NewTicker(hedgedMetricsPublishDuration)
	go func() {
		for range ticker.C {
			snap := s.Snapshot()
			hedged := int64(snap.ActualRoundTrips) - int64(snap.RequestedRoundTrips)
			if hedged < 0 {
				hedged = 0
			}
			hedgedRoundTrips.Add(float64(hedged))
		}
	}()
}
