// Package ntp implements the clock synchronization engine: an NTP-like
// request/response exchange over UDP that measures round-trip delay and
// clock offset between peers, and a bounded shift register that keeps the
// statistically best samples. All timestamps are microseconds since the Unix
// epoch.
package ntp

import "time"

// Times is one completed request/response sample: the four timestamps of the
// exchange plus the server's measured clock-read precision in nanoseconds.
type Times struct {
	// ClientSend is when the client sent its request, stamped immediately
	// before the send call.
	ClientSend int64
	// ClientReceive is when the client saw the server's answer, stamped
	// immediately on datagram arrival.
	ClientReceive int64
	// ServerReceive is when the server saw the request.
	ServerReceive int64
	// ServerSend is when the server sent its answer, stamped immediately
	// before the send call.
	ServerSend int64
	// ServerPrecision is how long the server takes to read its clock, in
	// nanoseconds.
	ServerPrecision uint64
}

// Delay is the round-trip network delay: total round-trip time minus the
// time the server spent processing.
func (t Times) Delay() int64 {
	return (t.ClientReceive - t.ClientSend) - (t.ServerSend - t.ServerReceive)
}

// Offset estimates the difference between the server's clock and ours,
// averaging the apparent offset of both legs.
func (t Times) Offset() float64 {
	return (float64(t.ServerReceive-t.ClientSend) + float64(t.ServerSend-t.ClientReceive)) / 2
}

// ServerProcessing is how long the server held the request before replying.
func (t Times) ServerProcessing() int64 {
	return t.ServerSend - t.ServerReceive
}

// FirstLeg estimates the client-to-server travel time. The estimate includes
// the clock offset, so it is only meaningful relative to SecondLeg.
func (t Times) FirstLeg() int64 {
	return t.ServerReceive - t.ClientSend
}

// SecondLeg estimates the server-to-client travel time.
func (t Times) SecondLeg() int64 {
	return t.ClientReceive - t.ServerSend
}

// Micros returns the current wall-clock time in microseconds since the Unix
// epoch.
func Micros() int64 {
	return time.Now().UnixMicro()
}

// BenchmarkPrecision measures how long one wall-clock read takes by sampling
// the clock repeatedly and averaging the elapsed time per sample, in
// nanoseconds. Run once at startup; the result is advertised to peers in
// every response.
func BenchmarkPrecision() uint64 {
	const samples = 1000

	start := time.Now()
	for i := 0; i < samples; i++ {
		_ = time.Now().UnixMicro()
	}
	elapsed := time.Since(start).Nanoseconds()

	precision := uint64(elapsed / samples)
	if precision == 0 {
		precision = 1
	}
	return precision
}
