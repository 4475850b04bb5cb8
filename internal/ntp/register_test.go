package ntp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// sample builds a Times with the given delay and offset, holding the server
// timestamps fixed so the math stays readable.
func sample(delay int64, offset float64) Times {
	// Symmetric legs: each leg is delay/2 plus the offset applied to the
	// server-side stamps.
	return Times{
		ClientSend:    0,
		ServerReceive: delay/2 + int64(offset),
		ServerSend:    delay/2 + int64(offset),
		ClientReceive: delay,
	}
}

// TestRegisterEviction verifies that the register never holds more than its
// capacity and evicts oldest first.
func TestRegisterEviction(t *testing.T) {
	r := NewShiftRegister(3, 1)

	for i := int64(1); i <= 5; i++ {
		r.Add(sample(100+i, 0))
	}
	require.Equal(t, 3, r.Len())

	// Only the three newest samples (delays 103..105) remain, so the best is
	// the oldest survivor.
	best, ok := r.Best()
	require.True(t, ok)
	require.Equal(t, int64(103), best.Delay())
}

// TestRegisterBest verifies that the lowest-delay sample wins regardless of
// arrival order.
func TestRegisterBest(t *testing.T) {
	r := NewShiftRegister(10, 1)
	r.Add(sample(500, 1))
	r.Add(sample(200, 2))
	r.Add(sample(900, 3))

	best, ok := r.Best()
	require.True(t, ok)
	require.Equal(t, int64(200), best.Delay())
}

// TestRegisterBestIgnoresUnusableDelay verifies that samples with a
// round-trip of 16 seconds or more never become best.
func TestRegisterBestIgnoresUnusableDelay(t *testing.T) {
	r := NewShiftRegister(10, 1)

	_, ok := r.Best()
	require.False(t, ok)

	r.Add(sample(maxUsableDelay, 0))
	_, ok = r.Best()
	require.False(t, ok)

	r.Add(sample(maxUsableDelay-1, 0))
	best, ok := r.Best()
	require.True(t, ok)
	require.Equal(t, int64(maxUsableDelay-1), best.Delay())
}

// TestRegisterLastBest verifies that the previously best sample is retained
// when a better one displaces it.
func TestRegisterLastBest(t *testing.T) {
	r := NewShiftRegister(10, 1)

	_, ok := r.LastBest()
	require.False(t, ok)

	r.Add(sample(300, 0))
	_, ok = r.LastBest()
	require.False(t, ok)

	r.Add(sample(100, 0))
	last, ok := r.LastBest()
	require.True(t, ok)
	require.Equal(t, int64(300), last.Delay())
}

// TestRegisterJitter verifies the RMS deviation from the best sample's
// offset, excluding the best sample itself.
func TestRegisterJitter(t *testing.T) {
	r := NewShiftRegister(10, 1)

	// One sample has no jitter.
	r.Add(sample(100, 0))
	_, ok := r.Jitter()
	require.False(t, ok)

	// Best offset 0; the others deviate by 3 and 4, so the RMS over n-1=2
	// samples is sqrt((9+16)/2) = 3.5355...
	r.Add(sample(200, 3))
	r.Add(sample(300, 4))

	jitter, ok := r.Jitter()
	require.True(t, ok)
	require.InDelta(t, 3.5355, jitter, 0.001)
}

// TestRegisterDelayStd verifies the population standard deviation of delays.
func TestRegisterDelayStd(t *testing.T) {
	r := NewShiftRegister(10, 1)
	r.Add(sample(100, 0))
	r.Add(sample(200, 0))

	std, ok := r.DelayStd()
	require.True(t, ok)
	require.InDelta(t, 50.0, std, 0.0001)
}

// TestSynchronizationDistance verifies the error bound combines precisions,
// staleness drift and half the best delay.
func TestSynchronizationDistance(t *testing.T) {
	r := NewShiftRegister(10, 2000)

	s := sample(100, 0)
	s.ServerPrecision = 3000
	// Anchor the sample at the current clock so staleness is near zero.
	now := Micros()
	s.ClientSend += now
	s.ServerReceive += now
	s.ServerSend += now
	s.ClientReceive += now
	r.Add(s)

	distance, ok := r.SynchronizationDistance()
	require.True(t, ok)
	// Precisions contribute 2 + 3 = 5µs, half the delay 50µs; staleness only
	// grows the bound from there.
	require.GreaterOrEqual(t, distance, 55.0)
	require.Less(t, distance, 100.0)
}
