// Package metrics exposes the transport's traffic counters, both as
// Prometheus collectors for scraping and through a periodic human-readable
// log line.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors. Registered on the default registry at init.
var (
	PacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eggnet_packets_sent_total",
		Help: "Transport packets sent.",
	})
	PacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eggnet_packets_received_total",
		Help: "Transport packets received and decoded.",
	})
	OversizedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eggnet_oversized_dropped_total",
		Help: "Datagrams discarded for exceeding the maximum packet size.",
	})
	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eggnet_decode_failures_total",
		Help: "Datagrams discarded because decoding failed.",
	})
	SequencesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eggnet_sequences_dropped_total",
		Help: "Sent sequence numbers the peer reported as never received.",
	})
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eggnet_active_connections",
		Help: "Currently admitted connections (server role).",
	})
	NtpRounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eggnet_ntp_rounds_total",
		Help: "Completed clock-sync request/response rounds.",
	})
)

// Byte counters for the periodic reporter. Kept as plain atomics so the
// reporter can read rates cheaply; the Prometheus counters below mirror
// them for scraping.
var (
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64

	promBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eggnet_bytes_sent_total",
		Help: "Raw datagram bytes sent.",
	})
	promBytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eggnet_bytes_received_total",
		Help: "Raw datagram bytes received.",
	})
)

// AddSent records n bytes written to the socket.
func AddSent(n int) {
	bytesSent.Add(int64(n))
	promBytesSent.Add(float64(n))
}

// AddReceived records n bytes read from the socket.
func AddReceived(n int) {
	bytesReceived.Add(int64(n))
	promBytesReceived.Add(float64(n))
}

// Serve exposes the default registry on addr under /metrics. Blocks; run it
// on its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
