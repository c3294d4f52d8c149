// Package bytestream converts an Annex-B H.264/H.265 byte stream (start
// codes between NAL units) into the length-prefixed form an MP4 sample
// needs, capturing the parameter sets it sees along the way. Grounded on
// media/codec/h264parser's SplitNALUs plus AddEmulationPrevention /
// DeEmulationPrevention, generalized to also emit the length-prefixed
// form rather than just splitting.
package bytestream

import (
	"github.com/bugVanisher/dashpkg/codec/avcconfig"
	"github.com/bugVanisher/dashpkg/codec/nalu"
	"github.com/bugVanisher/dashpkg/common/errs"
)

const defaultLengthSize = 4

// Converter walks an Annex-B H.264 stream, re-emitting it length-prefixed
// and capturing every SPS/PPS it sees for the sample entry's decoder
// configuration record.
type Converter struct {
	lengthSize int
	sps        [][]byte
	pps        [][]byte
}

// NewConverter creates a Converter that emits 4-byte length prefixes.
func NewConverter() *Converter {
	return &Converter{lengthSize: defaultLengthSize}
}

// Convert rewrites one Annex-B access unit (a sequence of NAL units framed
// by start codes) into length-prefixed form. AUD NAL units are dropped, as
// they carry no information an MP4 sample needs; SPS/PPS are captured but
// also kept in the sample data so a stream that repeats them before every
// IDR round-trips unchanged.
func (c *Converter) Convert(codec nalu.CodecType, annexB []byte) ([]byte, error) {
	framer := nalu.NewAnnexBFramer(codec, annexB)
	var out []byte
	for {
		n, res := framer.Advance()
		switch res {
		case nalu.ResultEOStream:
			return out, nil
		case nalu.ResultInvalidStream:
			return nil, errs.ErrInvalidStream
		}
		if n.IsAUD() {
			continue
		}
		if codec == nalu.CodecH264 {
			if n.Type == nalu.H264SPS {
				c.sps = append(c.sps, cloneBytes(n.Data))
			} else if n.Type == nalu.H264PPS {
				c.pps = append(c.pps, cloneBytes(n.Data))
			}
		}
		out = appendLengthPrefixed(out, n.Data, c.lengthSize)
	}
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func appendLengthPrefixed(dst, nalUnit []byte, lengthSize int) []byte {
	length := len(nalUnit)
	switch lengthSize {
	case 1:
		dst = append(dst, byte(length))
	case 2:
		dst = append(dst, byte(length>>8), byte(length))
	default:
		dst = append(dst, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	}
	return append(dst, nalUnit...)
}

// DecoderConfigurationRecord builds the AVCDecoderConfigurationRecord for
// everything captured so far. It fails if no SPS has been seen yet.
func (c *Converter) DecoderConfigurationRecord() (*avcconfig.Record, error) {
	if len(c.sps) == 0 {
		return nil, errs.ErrMissingParameterSet
	}
	sps0 := c.sps[0]
	rec := &avcconfig.Record{
		ConfigurationVersion:     1,
		AVCProfileIndication:     sps0[1],
		ProfileCompatibility:     sps0[2],
		AVCLevelIndication:       sps0[3],
		LengthSizeMinusOne:       uint8(c.lengthSize - 1),
		SequenceParameterSets:    c.sps,
		PictureParameterSets:     c.pps,
	}
	return rec, nil
}

// AddEmulationPrevention inserts 0x03 emulation-prevention bytes into an
// already-escaped-free RBSP payload wherever a 00 00 0x00-0x03 sequence
// would otherwise appear, including the trailing cabac_zero_word case
// where the RBSP itself ends in 00 00.
func AddEmulationPrevention(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/3+1)
	zeroRun := 0
	for _, b := range rbsp {
		if zeroRun >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeroRun = 0
		}
		out = append(out, b)
		if b == 0x00 {
			zeroRun++
		} else {
			zeroRun = 0
		}
	}
	if zeroRun >= 2 {
		out = append(out, 0x03)
	}
	return out
}

// RemoveEmulationPrevention strips 00 00 03 -> 00 00 from an Annex-B RBSP
// payload.
func RemoveEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeroRun := 0
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b == 0x03 && zeroRun >= 2 {
			zeroRun = 0
			continue
		}
		out = append(out, b)
		if b == 0x00 {
			zeroRun++
		} else {
			zeroRun = 0
		}
	}
	return out
}
