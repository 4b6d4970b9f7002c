package socket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultMetricsNamespace prefixes every metric name.
const DefaultMetricsNamespace = "typedsocket"

// Metrics records connection activity in Prometheus. One Metrics is shared
// by every connection given the same MetricsOption. A nil *Metrics records
// nothing.
type Metrics struct {
	connections       prometheus.Gauge
	bytesIn           prometheus.Counter
	bytesOut          prometheus.Counter
	framesIn          prometheus.Counter
	messagesOut       prometheus.Counter
	decodeErrors      prometheus.Counter
	truncatedBytes    prometheus.Counter
	backpressureWaits prometheus.Counter
	transportErrors   prometheus.Counter
}

// NewMetrics registers the connection metrics with reg under namespace. A nil
// reg uses prometheus.DefaultRegisterer; an empty namespace uses
// DefaultMetricsNamespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of connections not yet closed",
		}),
		bytesIn:           counter("received_bytes_total", "Bytes received from the underlying streams"),
		bytesOut:          counter("sent_bytes_total", "Bytes handed to the underlying streams, including length prefixes"),
		framesIn:          counter("received_frames_total", "Complete frames reassembled from received bytes"),
		messagesOut:       counter("sent_messages_total", "Values written by Send"),
		decodeErrors:      counter("decode_errors_total", "Received messages that could not be decoded"),
		truncatedBytes:    counter("truncated_bytes_total", "Trailing bytes dropped because they did not fill a numeric element"),
		backpressureWaits: counter("backpressure_waits_total", "Sends that waited for the outbound queue to drain"),
		transportErrors:   counter("transport_errors_total", "I/O errors reported by transports"),
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) received(n int) {
	if m != nil {
		m.bytesIn.Add(float64(n))
	}
}

func (m *Metrics) frameIn() {
	if m != nil {
		m.framesIn.Inc()
	}
}

func (m *Metrics) sent(n int) {
	if m != nil {
		m.messagesOut.Inc()
		m.bytesOut.Add(float64(n))
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) truncated(n int) {
	if m != nil {
		m.truncatedBytes.Add(float64(n))
	}
}

func (m *Metrics) backpressure() {
	if m != nil {
		m.backpressureWaits.Inc()
	}
}

func (m *Metrics) transportError() {
	if m != nil {
		m.transportErrors.Inc()
	}
}
