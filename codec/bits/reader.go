// Package bits provides the bit-granular stream readers the codec parsers
// are built on: a plain BitReader for byte buffers with no escaping (VPx
// configuration records, EC-3 channel maps) and an H26xBitReader for
// Annex-B RBSP data, which additionally strips emulation-prevention bytes
// and knows Exp-Golomb coding.
//
// It generalizes the GolombBitReader media/codec/h264parser pulled in from
// utils/bits: same ReadBit/ReadBits/ReadSE/ReadExponentialGolombCode
// surface, now shared by the H.264 and H.265 parsers and split from the
// plain (non-escaping) reader needed elsewhere.
package bits

import "github.com/bugVanisher/dashpkg/common/errs"

// BitReader is an immutable, sticky-failing view over a byte buffer. Once a
// read fails because there are not enough bits left, every later non-zero
// width read also fails; zero-width reads always succeed with 0.
type BitReader struct {
	data      []byte
	bitPos    int
	totalBits int
	failed    bool
}

// NewReader creates a BitReader over data.
func NewReader(data []byte) *BitReader {
	return &BitReader{data: data, totalBits: len(data) * 8}
}

// ReadBits reads the next n bits (0 <= n <= 64), MSB-first, and returns them
// right-justified in the result.
func (r *BitReader) ReadBits(n int) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	if r.failed || r.bitPos+n > r.totalBits {
		r.failed = true
		return 0, errs.ErrInvalidStream
	}
	var out uint64
	for i := 0; i < n; i++ {
		byteIdx := r.bitPos / 8
		bitIdx := 7 - uint(r.bitPos%8)
		bit := (r.data[byteIdx] >> bitIdx) & 1
		out = out<<1 | uint64(bit)
		r.bitPos++
	}
	return out, nil
}

// ReadFlag reads a single bit and returns it as a bool.
func (r *BitReader) ReadFlag() (bool, error) {
	v, err := r.ReadBits(1)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// SkipBits discards the next n bits. n need not fit in 64 bits' worth of a
// single read.
func (r *BitReader) SkipBits(n int) error {
	if n == 0 {
		return nil
	}
	if r.failed || r.bitPos+n > r.totalBits {
		r.failed = true
		return errs.ErrInvalidStream
	}
	r.bitPos += n
	return nil
}

// SkipBitsConditional reads one bit; if it equals condition, it skips n more
// bits.
func (r *BitReader) SkipBitsConditional(condition bool, n int) error {
	v, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if v == condition {
		return r.SkipBits(n)
	}
	return nil
}

// SkipToNextByte discards zero to seven bits so the cursor is byte aligned.
func (r *BitReader) SkipToNextByte() {
	if rem := r.bitPos % 8; rem != 0 {
		_ = r.SkipBits(8 - rem)
	}
}

// BitsAvailable returns the number of bits left for reading.
func (r *BitReader) BitsAvailable() int {
	if r.bitPos >= r.totalBits {
		return 0
	}
	return r.totalBits - r.bitPos
}

// BitPosition returns the current absolute bit cursor.
func (r *BitReader) BitPosition() int {
	return r.bitPos
}
