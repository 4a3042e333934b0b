package ping

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	descSent = prometheus.NewDesc(
		"gufo_ping_requests_total",
		"Echo requests sent",
		nil, nil,
	)
	descReceived = prometheus.NewDesc(
		"gufo_ping_replies_total",
		"Echo replies matched to a probe",
		nil, nil,
	)
	descTimeouts = prometheus.NewDesc(
		"gufo_ping_timeouts_total",
		"Probes expired without a reply",
		nil, nil,
	)
	descUnreachable = prometheus.NewDesc(
		"gufo_ping_unreachable_total",
		"Probes refused by the kernel for lack of a route",
		nil, nil,
	)
	descErrors = prometheus.NewDesc(
		"gufo_ping_errors_total",
		"Probes failed with an I/O error",
		nil, nil,
	)
	descRTT = prometheus.NewDesc(
		"gufo_ping_rtt_seconds",
		"Last measured round-trip time",
		nil, nil,
	)
)

// Session is a prometheus.Collector over its own probe counters.
func (s *Session) Describe(ch chan<- *prometheus.Desc) {
	ch <- descSent
	ch <- descReceived
	ch <- descTimeouts
	ch <- descUnreachable
	ch <- descErrors
	ch <- descRTT
}

func (s *Session) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(descSent,
		prometheus.CounterValue, float64(atomic.LoadUint64(&s.sent)))
	ch <- prometheus.MustNewConstMetric(descReceived,
		prometheus.CounterValue, float64(atomic.LoadUint64(&s.received)))
	ch <- prometheus.MustNewConstMetric(descTimeouts,
		prometheus.CounterValue, float64(atomic.LoadUint64(&s.timeouts)))
	ch <- prometheus.MustNewConstMetric(descUnreachable,
		prometheus.CounterValue, float64(atomic.LoadUint64(&s.unreachable)))
	ch <- prometheus.MustNewConstMetric(descErrors,
		prometheus.CounterValue, float64(atomic.LoadUint64(&s.ioErrors)))
	ch <- prometheus.MustNewConstMetric(descRTT,
		prometheus.GaugeValue, time.Duration(atomic.LoadInt64(&s.lastRTT)).Seconds())
}
