package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	netconfEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nccomm",
			Subsystem: "netconf",
			Name:      "events_total",
			Help:      "Session events delivered to observers.",
		},
		[]string{"device", "type"},
	)
	netconfBytesRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nccomm",
			Subsystem: "netconf",
			Name:      "read_bytes_total",
			Help:      "Bytes read from device streams.",
		},
		[]string{"device"},
	)
	netconfWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nccomm",
			Subsystem: "netconf",
			Name:      "writes_total",
			Help:      "Outbound message writes by result.",
		},
		[]string{"device", "result"},
	)
	netconfDecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nccomm",
			Subsystem: "netconf",
			Name:      "decode_errors_total",
			Help:      "Framing validation failures.",
		},
		[]string{"device", "framing"},
	)
	netconfCorrelations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nccomm",
			Subsystem: "netconf",
			Name:      "replies_total",
			Help:      "Parsed replies by whether a pending request matched.",
		},
		[]string{"device", "matched"},
	)
	netconfReplyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nccomm",
			Subsystem: "netconf",
			Name:      "reply_duration_seconds",
			Help:      "Time from request write to correlated reply.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"device"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nccomm",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nccomm",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			netconfEvents,
			netconfBytesRead,
			netconfWrites,
			netconfDecodeErrors,
			netconfCorrelations,
			netconfReplyLatency,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordEvent(device, eventType string) {
	RegisterMetrics()
	netconfEvents.WithLabelValues(device, eventType).Inc()
}

func RecordBytesRead(device string, n int) {
	RegisterMetrics()
	netconfBytesRead.WithLabelValues(device).Add(float64(n))
}

func RecordWrite(device string, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	netconfWrites.WithLabelValues(device, result).Inc()
}

func RecordDecodeError(device, framing string) {
	RegisterMetrics()
	netconfDecodeErrors.WithLabelValues(device, framing).Inc()
}

func RecordCorrelation(device string, matched bool, waited time.Duration) {
	RegisterMetrics()
	netconfCorrelations.WithLabelValues(device, strconv.FormatBool(matched)).Inc()
	if matched {
		netconfReplyLatency.WithLabelValues(device).Observe(waited.Seconds())
	}
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
