// Package vpxconfig reads and writes the VPCodecConfigurationRecord (the
// "vpcC" box, WebM Project / DASH-IF VP8/VP9 codec configuration) and
// splits a VP9 superframe into its constituent coded frames.
//
// Grounded on original_source/packager/media/codecs/vp_codec_configuration.h
// and vp9_parser.h for the superframe index layout, since no Go example in
// the pack carries VPx support.
package vpxconfig

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bugVanisher/dashpkg/common/errs"
)

// ColorSpace values (VP9 bitstream §7.2.2).
const (
	ColorSpaceUnknown = 0
	ColorSpaceBT601   = 1
	ColorSpaceBT709   = 2
	ColorSpaceSMPTE170 = 3
	ColorSpaceSMPTE240 = 4
	ColorSpaceBT2020  = 5
	ColorSpaceReserved = 6
	ColorSpaceRGB     = 7
)

// Record is a VPCodecConfigurationRecord.
type Record struct {
	Profile            uint8
	Level              uint8
	BitDepth           uint8
	ChromaSubsampling  uint8
	VideoFullRangeFlag bool
	ColourPrimaries    uint8
	TransferCharacteristics uint8
	MatrixCoefficients uint8
	CodecInitData      []byte
}

// RecordRead parses a Record from r.
func (r *Record) RecordRead(rd io.Reader) error {
	var head [8]byte
	if _, err := io.ReadFull(rd, head[:]); err != nil {
		return errs.Wrapf(err, "vpxconfig: read header")
	}
	r.Profile = head[0]
	r.Level = head[1]
	r.BitDepth = head[2] >> 4
	r.ChromaSubsampling = (head[2] >> 1) & 0x07
	r.VideoFullRangeFlag = head[2]&0x01 != 0
	r.ColourPrimaries = head[3]
	r.TransferCharacteristics = head[4]
	r.MatrixCoefficients = head[5]
	length := binary.BigEndian.Uint16(head[6:8])
	r.CodecInitData = make([]byte, length)
	if _, err := io.ReadFull(rd, r.CodecInitData); err != nil {
		return errs.Wrapf(err, "vpxconfig: codec init data")
	}
	return nil
}

// RecordWrite serializes the record to w.
func (r *Record) RecordWrite(w io.Writer) error {
	head := make([]byte, 8)
	head[0] = r.Profile
	head[1] = r.Level
	head[2] = (r.BitDepth << 4) | (r.ChromaSubsampling << 1)
	if r.VideoFullRangeFlag {
		head[2] |= 0x01
	}
	head[3] = r.ColourPrimaries
	head[4] = r.TransferCharacteristics
	head[5] = r.MatrixCoefficients
	binary.BigEndian.PutUint16(head[6:8], uint16(len(r.CodecInitData)))
	if _, err := w.Write(head); err != nil {
		return err
	}
	_, err := w.Write(r.CodecInitData)
	return err
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

// CodecString returns the RFC 6381 codec parameter string, e.g.
// "vp09.00.10.08".
func (r *Record) CodecString(fourCC string) string {
	return fmt.Sprintf("%s.%02d.%02d.%02d", fourCC, r.Profile, r.Level, r.BitDepth)
}

// SplitSuperframe splits a VP9 superframe into its constituent coded
// frames using the trailing superframe index, per VP9 bitstream Annex B.
// A frame with no superframe marker is returned as a single frame.
func SplitSuperframe(data []byte) ([][]byte, error) {
	if len(data) < 1 {
		return nil, errs.ErrInvalidStream
	}
	marker := data[len(data)-1]
	if marker&0xE0 != 0xC0 {
		return [][]byte{data}, nil
	}
	bytesPerFramesizeMinus1 := int((marker >> 3) & 0x03)
	framesInSuperframeMinus1 := int(marker & 0x07)
	bytesPerFramesize := bytesPerFramesizeMinus1 + 1
	framesInSuperframe := framesInSuperframeMinus1 + 1

	indexSize := 2 + bytesPerFramesize*framesInSuperframe
	if indexSize > len(data) {
		return [][]byte{data}, nil
	}
	indexStart := len(data) - indexSize
	if data[indexStart] != marker {
		// mirrored marker byte at the start of the index does not match;
		// this is not actually a superframe index.
		return [][]byte{data}, nil
	}

	frames := make([][]byte, 0, framesInSuperframe)
	offset := 0
	idx := indexStart + 1
	for i := 0; i < framesInSuperframe; i++ {
		size := 0
		for b := 0; b < bytesPerFramesize; b++ {
			size |= int(data[idx]) << uint(8*b)
			idx++
		}
		if offset+size > indexStart {
			return nil, errs.ErrInvalidStream
		}
		frames = append(frames, data[offset:offset+size])
		offset += size
	}
	return frames, nil
}
