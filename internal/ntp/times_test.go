package ntp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDelayAndOffset pins the timing formulas with a worked example: a 30µs
// round trip with 5µs of server processing and a server clock 2.5µs behind.
func TestDelayAndOffset(t *testing.T) {
	sample := Times{
		ClientSend:    0,
		ServerReceive: 10,
		ServerSend:    15,
		ClientReceive: 30,
	}

	require.Equal(t, int64(25), sample.Delay())
	require.Equal(t, -2.5, sample.Offset())
	require.Equal(t, int64(5), sample.ServerProcessing())
	require.Equal(t, int64(10), sample.FirstLeg())
	require.Equal(t, int64(15), sample.SecondLeg())
}

// TestOffsetSymmetricPath verifies that with equal legs the offset is exactly
// the clock difference.
func TestOffsetSymmetricPath(t *testing.T) {
	// Server clock runs 100µs ahead; both legs take 20µs.
	sample := Times{
		ClientSend:    1000,
		ServerReceive: 1120,
		ServerSend:    1130,
		ClientReceive: 1050,
	}

	require.Equal(t, int64(40), sample.Delay())
	require.Equal(t, 100.0, sample.Offset())
}

// TestBenchmarkPrecision verifies the precision measurement is never zero.
func TestBenchmarkPrecision(t *testing.T) {
	require.GreaterOrEqual(t, BenchmarkPrecision(), uint64(1))
}
