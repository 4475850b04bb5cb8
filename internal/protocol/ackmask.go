package protocol

import (
	"strings"

	"github.com/eggine/eggnet/internal/stream"
)

// maskWords is the number of u64 words in an acknowledge mask.
const maskWords = 2

// MaskBits is the total bit capacity of an acknowledge mask: how many recent
// sequence numbers it can track relative to its baseline.
const MaskBits = maskWords * 64

// AckMask is a sliding window over the last MaskBits received sequence
// numbers. Bit 0 of the low word is the most recent sequence; shifting ages
// the window forward when the baseline advances. It is a small value type
// and is copied freely.
type AckMask struct {
	words [maskWords]uint64
}

// Shift ages the mask forward by amount bits, carrying low-word bits into
// the vacated low bits of the next word. Amounts of 64 or more are
// decomposed into repeated steps of at most 63 bits, which keeps every
// single-word shift well defined; shifting in two steps of k and amount-k
// equals one shift of amount.
func (m *AckMask) Shift(amount uint32) {
	if amount >= MaskBits {
		m.words = [maskWords]uint64{}
		return
	}

	for amount > 0 {
		step := amount
		if step > 63 {
			step = 63
		}

		var carry uint64
		for i := range m.words {
			next := m.words[i] >> (64 - step)
			m.words[i] = m.words[i]<<step | carry
			carry = next
		}

		amount -= step
	}
}

// SetFirst marks the most recent slot (bit 0) as received. Called once per
// locally received packet after the shift that makes room for it.
func (m *AckMask) SetFirst() {
	m.words[0] |= 1
}

// Test reports whether the sequence at the given offset from the baseline
// was received. The second return is false when bit is outside the mask's
// capacity: out of range is "not tracked", not an error.
func (m *AckMask) Test(bit uint32) (bool, bool) {
	if bit >= MaskBits {
		return false, false
	}
	return m.words[bit/64]&(1<<(bit%64)) != 0, true
}

// Encode writes the mask words, low word first.
func (m *AckMask) Encode(w *stream.WriteStream) {
	for _, word := range m.words {
		w.WriteU64(word)
	}
}

// Decode reads the mask words, low word first.
func (m *AckMask) Decode(r *stream.ReadStream) error {
	for i := range m.words {
		word, err := r.ReadU64()
		if err != nil {
			return err
		}
		m.words[i] = word
	}
	return nil
}

// String renders the mask as a bit string, highest bit first.
func (m AckMask) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i := maskWords - 1; i >= 0; i-- {
		for bit := 63; bit >= 0; bit-- {
			if m.words[i]&(1<<bit) != 0 {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		}
	}
	b.WriteByte(']')
	return b.String()
}
