package ntp

import "math"

// RegisterCapacity is the default number of samples a shift register
// retains.
const RegisterCapacity = 300

// maxUsableDelay rejects samples whose round-trip exceeds 16 seconds; they
// carry no timing information worth correcting by.
const maxUsableDelay = 16_000_000

// ShiftRegister keeps a bounded history of Times samples, newest first, and
// selects the lowest-delay sample as the authoritative offset source.
type ShiftRegister struct {
	capacity int
	// precision is the local clock-read latency in nanoseconds, measured at
	// construction.
	precision uint64

	// ring of samples; head is the newest, count how many are valid.
	ring  []Times
	head  int
	count int

	lastBest    Times
	hasLastBest bool
}

// NewShiftRegister creates a register holding up to capacity samples.
// precision is the local clock-read latency in nanoseconds.
func NewShiftRegister(capacity int, precision uint64) *ShiftRegister {
	return &ShiftRegister{
		capacity:  capacity,
		precision: precision,
		ring:      make([]Times, capacity),
	}
}

// Len reports how many samples are retained.
func (r *ShiftRegister) Len() int {
	return r.count
}

// Precision returns the local clock-read latency in nanoseconds.
func (r *ShiftRegister) Precision() uint64 {
	return r.precision
}

// Add inserts a sample, evicting the oldest when the register is full. When
// the insertion changes which sample is best, the previous best is retained
// for diagnostics (LastBest).
func (r *ShiftRegister) Add(t Times) {
	prevBest, hadBest := r.Best()

	r.head = (r.head + r.capacity - 1) % r.capacity
	r.ring[r.head] = t
	if r.count < r.capacity {
		r.count++
	}

	best, _ := r.Best()
	if hadBest && best != prevBest {
		r.lastBest = prevBest
		r.hasLastBest = true
	}
}

// each calls fn for every retained sample, newest first.
func (r *ShiftRegister) each(fn func(Times)) {
	for i := 0; i < r.count; i++ {
		fn(r.ring[(r.head+i)%r.capacity])
	}
}

// Best returns the retained sample with the smallest round-trip delay, the
// most trustworthy offset measurement in the window.
func (r *ShiftRegister) Best() (Times, bool) {
	var best Times
	minDelay := int64(maxUsableDelay)
	found := false

	r.each(func(t Times) {
		if t.Delay() < minDelay {
			minDelay = t.Delay()
			best = t
			found = true
		}
	})
	return best, found
}

// LastBest returns the sample that was best before the current best took
// over. Diagnostic only: it shows how far the authoritative offset moved.
func (r *ShiftRegister) LastBest() (Times, bool) {
	return r.lastBest, r.hasLastBest
}

// Jitter is the root-mean-square deviation of every sample's offset from the
// best sample's offset, excluding the best sample itself, normalized by
// count-1.
func (r *ShiftRegister) Jitter() (float64, bool) {
	best, ok := r.Best()
	if !ok || r.count < 2 {
		return 0, false
	}

	n := float64(r.count - 1)
	sum := 0.0
	r.each(func(t Times) {
		if t == best {
			return
		}
		d := t.Offset() - best.Offset()
		sum += d * d / n
	})
	return math.Sqrt(sum), true
}

// DelayStd is the population standard deviation of round-trip delay across
// all retained samples.
func (r *ShiftRegister) DelayStd() (float64, bool) {
	if r.count == 0 {
		return 0, false
	}

	mean := 0.0
	r.each(func(t Times) {
		mean += float64(t.Delay())
	})
	mean /= float64(r.count)

	variance := 0.0
	r.each(func(t Times) {
		d := float64(t.Delay()) - mean
		variance += d * d
	})
	variance /= float64(r.count)

	return math.Sqrt(variance), true
}

// SynchronizationDistance is an upper bound on the timing error, in
// microseconds: the combined clock-read precisions, plus 15 microseconds of
// assumed drift per second since the best sample was taken, plus half the
// best sample's round-trip delay.
func (r *ShiftRegister) SynchronizationDistance() (float64, bool) {
	best, ok := r.Best()
	if !ok {
		return 0, false
	}

	staleness := float64(Micros() - best.ClientSend)
	epsilon := float64(r.precision)/1000 + float64(best.ServerPrecision)/1000 + 15*staleness/1_000_000

	return epsilon + float64(best.Delay())/2, true
}
