package nalu

import "github.com/bugVanisher/dashpkg/common/errs"

// Result reports the outcome of advancing a Framer by one NAL unit.
type Result int

const (
	ResultOk Result = iota
	ResultEOStream
	ResultInvalidStream
)

// SubsampleRun is one (clear_bytes, cipher_bytes) pair of a subsample-aware
// clear/cipher map, the same shape as a CENC subsample entry: walked
// sequentially from the start of the stream, clear_bytes of plain data
// followed by cipher_bytes of ciphertext. If the list runs out before the
// stream ends, the remainder is treated as clear.
type SubsampleRun struct {
	ClearBytes  int
	CipherBytes int
}

// cipherRange is a byte range of the framed stream that holds encrypted
// bytes, as opposed to coded NAL data. Encrypted bytes can accidentally
// contain the 00 00 01 byte pattern, so start-code scanning skips straight
// over these instead of examining them.
type cipherRange struct {
	offset int
	length int
}

func cipherRangesFromSubsamples(subsamples []SubsampleRun) []cipherRange {
	var ranges []cipherRange
	pos := 0
	for _, s := range subsamples {
		pos += s.ClearBytes
		if s.CipherBytes > 0 {
			ranges = append(ranges, cipherRange{offset: pos, length: s.CipherBytes})
		}
		pos += s.CipherBytes
	}
	return ranges
}

// Framer walks an Annex-B byte stream (series of start-code-delimited NAL
// units) and hands back one parsed Nalu per Advance call. It generalizes
// media/codec/h264parser's SplitNALUs, which returned the whole slice of
// NALUs at once and only handled H.264.
//
// Advance locates NAL units the way
// original_source/.../filters/nalu_reader.cc's LocateNaluByStartCode does:
// it scans forward to the next start code rather than requiring one at the
// current position, and a 00 00 01 byte sequence that isn't followed by a
// well-formed NAL header is treated as data inside the current NAL unit
// instead of a genuine delimiter.
type Framer struct {
	codec  CodecType
	data   []byte
	offset int
	cipher []cipherRange
	// positioned is true once offset has already been validated as the
	// start of the next NAL unit's content by a prior Advance call, so
	// that call need not re-run the start-code search over it.
	positioned bool
}

// NewAnnexBFramer creates a Framer over an Annex-B byte stream.
func NewAnnexBFramer(codec CodecType, data []byte) *Framer {
	return &Framer{codec: codec, data: data}
}

// NewAnnexBFramerWithSubsamples creates a Framer over a stream that is
// partially encrypted: subsamples is the sequential clear/cipher map
// covering the start of the stream (see SubsampleRun), and start-code
// scanning steps clean over each cipher run instead of examining its bytes
// for 00 00 01, since ciphertext can coincidentally contain that pattern.
func NewAnnexBFramerWithSubsamples(codec CodecType, data []byte, subsamples []SubsampleRun) *Framer {
	return &Framer{codec: codec, data: data, cipher: cipherRangesFromSubsamples(subsamples)}
}

// StartsWithStartCode reports whether the buffer begins with a 3- or
// 4-byte Annex-B start code.
func StartsWithStartCode(data []byte) bool {
	if len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1 {
		return true
	}
	return len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1
}

// findStartCode returns the offset where a start code begins (including
// any leading zero byte that makes it a 4-byte code) and the offset of the
// byte right after it.
func findStartCode(data []byte) (start, next int, ok bool) {
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			start = i
			if i > 0 && data[i-1] == 0 {
				start = i - 1
			}
			return start, i + 3, true
		}
	}
	return 0, 0, false
}

// cipherRangeAt returns the cipher range covering absolute offset pos, if
// any.
func (f *Framer) cipherRangeAt(pos int) (cipherRange, bool) {
	for _, r := range f.cipher {
		if pos >= r.offset && pos < r.offset+r.length {
			return r, true
		}
	}
	return cipherRange{}, false
}

// findStartCodeFrom scans f.data starting at absolute offset from for the
// next start code, jumping clean over any cipher range it lands inside
// rather than examining its bytes. Returned offsets are absolute.
func (f *Framer) findStartCodeFrom(from int) (start, next int, ok bool) {
	pos := from
	for pos < len(f.data) {
		if r, inCipher := f.cipherRangeAt(pos); inCipher {
			pos = r.offset + r.length
			continue
		}
		searchEnd := len(f.data)
		if r, _, ok := f.nextCipherRangeFrom(pos); ok {
			searchEnd = r.offset
		}
		relStart, relNext, found := findStartCode(f.data[pos:searchEnd])
		if found {
			return pos + relStart, pos + relNext, true
		}
		if searchEnd == len(f.data) {
			return 0, 0, false
		}
		pos = searchEnd
	}
	return 0, 0, false
}

func (f *Framer) nextCipherRangeFrom(pos int) (cipherRange, int, bool) {
	for i, r := range f.cipher {
		if r.offset >= pos {
			return r, i, true
		}
	}
	return cipherRange{}, 0, false
}

// Advance returns the next NAL unit. It returns ResultEOStream once every
// byte has been consumed, and ResultInvalidStream if no start code can be
// found anywhere in what's left — the same distinction
// NaluReader::Advance draws between stream_size_ <= 0 and
// LocateNaluByStartCode failing.
func (f *Framer) Advance() (Nalu, Result) {
	if f.offset >= len(f.data) {
		return Nalu{}, ResultEOStream
	}

	var contentStart int
	if f.positioned {
		contentStart = f.offset
	} else {
		_, cs, ok := f.findStartCodeFrom(f.offset)
		if !ok {
			f.offset = len(f.data)
			return Nalu{}, ResultInvalidStream
		}
		if cs >= len(f.data) {
			f.offset = len(f.data)
			return Nalu{}, ResultInvalidStream
		}
		contentStart = cs
	}

	end := len(f.data)
	search := contentStart
	foundNext := false
	for {
		nextStart, nextContent, ok := f.findStartCodeFrom(search)
		if !ok {
			break
		}
		if _, err := parseNALU(f.codec, f.data[nextContent:]); err == nil {
			end = nextStart
			f.offset = nextContent
			foundNext = true
			break
		}
		// The bytes right after this 00 00 01 don't form a valid NAL
		// header; assume it's an un-escaped sequence inside the current
		// NAL unit's payload and keep scanning for the real boundary.
		search = nextContent
	}
	f.positioned = foundNext
	if !foundNext {
		f.offset = len(f.data)
	}

	content := f.data[contentStart:end]
	for len(content) > 0 && content[len(content)-1] == 0x00 {
		content = content[:len(content)-1]
	}
	if len(content) == 0 {
		return Nalu{}, ResultInvalidStream
	}
	n, err := parseNALU(f.codec, content)
	if err != nil {
		return Nalu{}, ResultInvalidStream
	}
	return n, ResultOk
}

// LengthPrefixedFramer walks a length-prefixed NAL unit stream (as found
// inside an MP4 sample, AVCC/HVCC style) where every NAL unit is preceded
// by a fixed-width big-endian length field.
type LengthPrefixedFramer struct {
	codec      CodecType
	data       []byte
	offset     int
	lengthSize int
}

// NewLengthPrefixedFramer creates a LengthPrefixedFramer. lengthSize must
// be 1, 2, or 4.
func NewLengthPrefixedFramer(codec CodecType, data []byte, lengthSize int) (*LengthPrefixedFramer, error) {
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, errs.ErrInvalidStream
	}
	return &LengthPrefixedFramer{codec: codec, data: data, lengthSize: lengthSize}, nil
}

// Advance returns the next NAL unit.
func (f *LengthPrefixedFramer) Advance() (Nalu, Result) {
	if f.offset >= len(f.data) {
		return Nalu{}, ResultEOStream
	}
	if f.offset+f.lengthSize > len(f.data) {
		return Nalu{}, ResultInvalidStream
	}
	var length int
	for i := 0; i < f.lengthSize; i++ {
		length = length<<8 | int(f.data[f.offset+i])
	}
	f.offset += f.lengthSize
	if length <= 0 || f.offset+length > len(f.data) {
		return Nalu{}, ResultInvalidStream
	}
	content := f.data[f.offset : f.offset+length]
	f.offset += length
	n, err := parseNALU(f.codec, content)
	if err != nil {
		return Nalu{}, ResultInvalidStream
	}
	return n, ResultOk
}
