// Package hevcconfig reads and writes the HEVCDecoderConfigurationRecord
// (ISO/IEC 14496-15 §8.3.3.1), grounded on go-webdl-media-codec's hevc
// package: the same 23-byte profile-tier-level prefix followed by
// NAL-unit-type-tagged arrays (VPS/SPS/PPS/SEI), read through the same
// RecordRead/RecordWrite/RecordSize triad as codec/avcconfig.
package hevcconfig

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/bugVanisher/dashpkg/common/errs"
)

// NaluArray is one VPS/SPS/PPS/SEI array entry.
type NaluArray struct {
	ArrayCompleteness bool
	NALUnitType       uint8
	NALUs             [][]byte
}

// Record is an HEVCDecoderConfigurationRecord.
type Record struct {
	ConfigurationVersion            uint8
	GeneralProfileSpace             uint8
	GeneralTierFlag                 bool
	GeneralProfileIndicator         uint8
	GeneralProfileCompatibilityFlags uint32
	GeneralConstraintIndicatorFlags uint64 // low 48 bits significant
	GeneralLevelIndicator           uint8
	MinSpatialSegmentationIndicator uint16
	ParallelismType                 uint8
	ChromaFormatIndicator           uint8
	BitDepthLumaMinus8              uint8
	BitDepthChromaMinus8            uint8
	AvgFrameRate                    uint16
	ConstantFrameRate               uint8
	NumTemporalLayers               uint8
	TemporalIDNested                uint8
	LengthSizeMinusOne              uint8
	NaluArrays                      []NaluArray
}

// RecordSize returns the serialized size in bytes.
func (r *Record) RecordSize() uint32 {
	size := uint32(23) + 3*uint32(len(r.NaluArrays))
	for _, a := range r.NaluArrays {
		for _, n := range a.NALUs {
			size += 2 + uint32(len(n))
		}
	}
	return size
}

// RecordRead parses a Record from r.
func (r *Record) RecordRead(rd io.Reader) error {
	var head [23]byte
	if _, err := io.ReadFull(rd, head[:]); err != nil {
		return errs.Wrapf(err, "hevcconfig: read header")
	}
	r.ConfigurationVersion = head[0]
	if r.ConfigurationVersion != 1 {
		return errs.ErrUnsupportedStream
	}
	r.GeneralProfileSpace = head[1] >> 6
	r.GeneralTierFlag = (head[1]>>5)&0x01 != 0
	r.GeneralProfileIndicator = head[1] & 0x1F
	r.GeneralProfileCompatibilityFlags = binary.BigEndian.Uint32(head[2:6])
	r.GeneralConstraintIndicatorFlags = uint64(head[6])<<40 | uint64(head[7])<<32 |
		uint64(head[8])<<24 | uint64(head[9])<<16 | uint64(head[10])<<8 | uint64(head[11])
	r.GeneralLevelIndicator = head[12]
	r.MinSpatialSegmentationIndicator = uint16(head[13]&0x0F)<<8 | uint16(head[14])
	r.ParallelismType = head[15] & 0x03
	r.ChromaFormatIndicator = head[16] & 0x03
	r.BitDepthLumaMinus8 = head[17] & 0x07
	r.BitDepthChromaMinus8 = head[18] & 0x07
	r.AvgFrameRate = binary.BigEndian.Uint16(head[19:21])
	r.ConstantFrameRate = head[21] >> 6
	r.NumTemporalLayers = (head[21] >> 3) & 0x07
	r.TemporalIDNested = (head[21] >> 2) & 0x01
	r.LengthSizeMinusOne = head[21] & 0x03
	numArrays := head[22]

	r.NaluArrays = make([]NaluArray, numArrays)
	for i := range r.NaluArrays {
		var prefix [3]byte
		if _, err := io.ReadFull(rd, prefix[:]); err != nil {
			return errs.Wrapf(err, "hevcconfig: array header")
		}
		r.NaluArrays[i].ArrayCompleteness = prefix[0]>>7 != 0
		r.NaluArrays[i].NALUnitType = prefix[0] & 0x3F
		count := uint16(prefix[1])<<8 | uint16(prefix[2])
		r.NaluArrays[i].NALUs = make([][]byte, count)
		for j := range r.NaluArrays[i].NALUs {
			var length uint16
			if err := binary.Read(rd, binary.BigEndian, &length); err != nil {
				return errs.Wrapf(err, "hevcconfig: nalu length")
			}
			buf := make([]byte, length)
			if _, err := io.ReadFull(rd, buf); err != nil {
				return errs.Wrapf(err, "hevcconfig: nalu body")
			}
			r.NaluArrays[i].NALUs[j] = buf
		}
	}
	return nil
}

// RecordWrite serializes the record to w.
func (r *Record) RecordWrite(w io.Writer) error {
	var head [23]byte
	head[0] = 1
	head[1] = (r.GeneralProfileSpace << 6) | (r.GeneralProfileIndicator & 0x1F)
	if r.GeneralTierFlag {
		head[1] |= 0x20
	}
	binary.BigEndian.PutUint32(head[2:6], r.GeneralProfileCompatibilityFlags)
	head[6] = byte(r.GeneralConstraintIndicatorFlags >> 40)
	head[7] = byte(r.GeneralConstraintIndicatorFlags >> 32)
	head[8] = byte(r.GeneralConstraintIndicatorFlags >> 24)
	head[9] = byte(r.GeneralConstraintIndicatorFlags >> 16)
	head[10] = byte(r.GeneralConstraintIndicatorFlags >> 8)
	head[11] = byte(r.GeneralConstraintIndicatorFlags)
	head[12] = r.GeneralLevelIndicator
	binary.BigEndian.PutUint16(head[13:15], r.MinSpatialSegmentationIndicator|0xF000)
	head[15] = r.ParallelismType | 0xFC
	head[16] = r.ChromaFormatIndicator | 0xFC
	head[17] = r.BitDepthLumaMinus8 | 0xF8
	head[18] = r.BitDepthChromaMinus8 | 0xF8
	binary.BigEndian.PutUint16(head[19:21], r.AvgFrameRate)
	head[21] = (r.ConstantFrameRate << 6) | ((r.NumTemporalLayers & 0x07) << 3) | ((r.TemporalIDNested & 0x01) << 2) | (r.LengthSizeMinusOne & 0x03)
	head[22] = uint8(len(r.NaluArrays))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	for _, a := range r.NaluArrays {
		prefix := a.NALUnitType & 0x3F
		if a.ArrayCompleteness {
			prefix |= 0x80
		}
		if err := binary.Write(w, binary.BigEndian, prefix); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint16(len(a.NALUs))); err != nil {
			return err
		}
		for _, n := range a.NALUs {
			if err := binary.Write(w, binary.BigEndian, uint16(len(n))); err != nil {
				return err
			}
			if _, err := w.Write(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// Parse reads a Record from its serialized bytes.
func Parse(data []byte) (*Record, error) {
	r := &Record{}
	if err := r.RecordRead(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return r, nil
}

// Marshal serializes the record.
func (r *Record) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.RecordWrite(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func reverseBits32(v uint32) uint32 {
	var out uint32
	for i := 0; i < 32; i++ {
		out = out<<1 | (v & 1)
		v >>= 1
	}
	return out
}

// reverseBitsAndByteSwap32 bit-reverses v and then byteswaps the result,
// matching ReverseBitsAndHexEncode (hevc_decoder_configuration.cc): the
// reversed 32-bit value is hex-encoded as little-endian bytes, which is
// equivalent to byteswapping it before a plain big-endian hex encode.
func reverseBitsAndByteSwap32(v uint32) uint32 {
	r := reverseBits32(v)
	var be [4]byte
	binary.BigEndian.PutUint32(be[:], r)
	return binary.LittleEndian.Uint32(be[:])
}

// CodecString returns the RFC 6381 codec parameter string, e.g.
// "hev1.2.4.L63.90".
func (r *Record) CodecString() string {
	var space string
	switch r.GeneralProfileSpace {
	case 1:
		space = "A"
	case 2:
		space = "B"
	case 3:
		space = "C"
	}
	compat := reverseBitsAndByteSwap32(r.GeneralProfileCompatibilityFlags)
	tier := "L"
	if r.GeneralTierFlag {
		tier = "H"
	}

	constraintBytes := [6]byte{
		byte(r.GeneralConstraintIndicatorFlags >> 40),
		byte(r.GeneralConstraintIndicatorFlags >> 32),
		byte(r.GeneralConstraintIndicatorFlags >> 24),
		byte(r.GeneralConstraintIndicatorFlags >> 16),
		byte(r.GeneralConstraintIndicatorFlags >> 8),
		byte(r.GeneralConstraintIndicatorFlags),
	}
	end := len(constraintBytes)
	for end > 0 && constraintBytes[end-1] == 0 {
		end--
	}
	var parts []string
	for i := 0; i < end; i++ {
		// Each byte trims its own leading zero independently (TrimLeadingZeros
		// applied per HexEncode(&constraint,1)), not zero-padded to 2 digits.
		parts = append(parts, fmt.Sprintf("%x", constraintBytes[i]))
	}

	s := fmt.Sprintf("hev1.%s%d.%x.%s%d", space, r.GeneralProfileIndicator, compat, tier, r.GeneralLevelIndicator)
	if len(parts) > 0 {
		s += "." + strings.Join(parts, ".")
	}
	return s
}

// LengthSize returns the NAL length-prefix size in bytes (1, 2, or 4).
func (r *Record) LengthSize() int {
	return int(r.LengthSizeMinusOne) + 1
}
