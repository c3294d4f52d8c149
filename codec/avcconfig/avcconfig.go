// Package avcconfig reads and writes the AVCDecoderConfigurationRecord
// (ISO/IEC 14496-15 §5.3.3.1), the byte layout an AVC sample entry carries
// its SPS/PPS and codec parameters in.
//
// It is grounded on go-webdl-media-codec's avc package: the same
// RecordRead/RecordWrite/RecordSize triad over io.Reader/io.Writer, kept
// because an MP4 box library elsewhere in the pack already expects that
// shape for anything implementing a sample entry's codec-specific box.
package avcconfig

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bugVanisher/dashpkg/common/errs"
)

// Record is an AVCDecoderConfigurationRecord.
type Record struct {
	ConfigurationVersion uint8
	AVCProfileIndication uint8
	ProfileCompatibility uint8
	AVCLevelIndication   uint8
	LengthSizeMinusOne   uint8

	SequenceParameterSets    [][]byte
	PictureParameterSets     [][]byte
	SequenceParameterSetExts [][]byte

	ChromaFormat         uint8
	BitDepthLumaMinus8   uint8
	BitDepthChromaMinus8 uint8
}

func hasChromaExtension(profile uint8) bool {
	return profile == 100 || profile == 110 || profile == 122 || profile == 144
}

// RecordSize returns the serialized size in bytes.
func (r *Record) RecordSize() uint32 {
	size := uint32(6)
	for _, sps := range r.SequenceParameterSets {
		size += 2 + uint32(len(sps))
	}
	size++
	for _, pps := range r.PictureParameterSets {
		size += 2 + uint32(len(pps))
	}
	if hasChromaExtension(r.AVCProfileIndication) {
		size += 4
		for _, ext := range r.SequenceParameterSetExts {
			size += 2 + uint32(len(ext))
		}
	}
	return size
}

// RecordRead parses a Record from r.
func (r *Record) RecordRead(rd io.Reader) error {
	var head [6]byte
	if _, err := io.ReadFull(rd, head[:]); err != nil {
		return errs.Wrapf(err, "avcconfig: read header")
	}
	r.ConfigurationVersion = head[0]
	if r.ConfigurationVersion != 1 {
		return errs.ErrUnsupportedStream
	}
	r.AVCProfileIndication = head[1]
	r.ProfileCompatibility = head[2]
	r.AVCLevelIndication = head[3]
	r.LengthSizeMinusOne = head[4] & 0x03
	numSPS := head[5] & 0x1F

	r.SequenceParameterSets = make([][]byte, numSPS)
	for i := range r.SequenceParameterSets {
		var length uint16
		if err := binary.Read(rd, binary.BigEndian, &length); err != nil {
			return errs.Wrapf(err, "avcconfig: sps length")
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(rd, buf); err != nil {
			return errs.Wrapf(err, "avcconfig: sps body")
		}
		r.SequenceParameterSets[i] = buf
	}
	if len(r.SequenceParameterSets) == 0 {
		return errs.ErrInvalidStream
	}

	var numPPS uint8
	if err := binary.Read(rd, binary.BigEndian, &numPPS); err != nil {
		return errs.Wrapf(err, "avcconfig: num pps")
	}
	r.PictureParameterSets = make([][]byte, numPPS)
	for i := range r.PictureParameterSets {
		var length uint16
		if err := binary.Read(rd, binary.BigEndian, &length); err != nil {
			return errs.Wrapf(err, "avcconfig: pps length")
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(rd, buf); err != nil {
			return errs.Wrapf(err, "avcconfig: pps body")
		}
		r.PictureParameterSets[i] = buf
	}

	if hasChromaExtension(r.AVCProfileIndication) {
		var tail [4]byte
		if _, err := io.ReadFull(rd, tail[:]); err != nil {
			return errs.Wrapf(err, "avcconfig: chroma extension")
		}
		r.ChromaFormat = tail[0] & 0x03
		r.BitDepthLumaMinus8 = tail[1] & 0x07
		r.BitDepthChromaMinus8 = tail[2] & 0x07
		numExt := tail[3]
		r.SequenceParameterSetExts = make([][]byte, numExt)
		for i := range r.SequenceParameterSetExts {
			var length uint16
			if err := binary.Read(rd, binary.BigEndian, &length); err != nil {
				return errs.Wrapf(err, "avcconfig: sps ext length")
			}
			buf := make([]byte, length)
			if _, err := io.ReadFull(rd, buf); err != nil {
				return errs.Wrapf(err, "avcconfig: sps ext body")
			}
			r.SequenceParameterSetExts[i] = buf
		}
	}
	return nil
}

// RecordWrite serializes the record to w.
func (r *Record) RecordWrite(w io.Writer) error {
	head := []byte{
		1,
		r.AVCProfileIndication,
		r.ProfileCompatibility,
		r.AVCLevelIndication,
		r.LengthSizeMinusOne | 0xFC,
		uint8(len(r.SequenceParameterSets)) | 0xE0,
	}
	if _, err := w.Write(head); err != nil {
		return err
	}
	for _, sps := range r.SequenceParameterSets {
		if err := binary.Write(w, binary.BigEndian, uint16(len(sps))); err != nil {
			return err
		}
		if _, err := w.Write(sps); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.BigEndian, uint8(len(r.PictureParameterSets))); err != nil {
		return err
	}
	for _, pps := range r.PictureParameterSets {
		if err := binary.Write(w, binary.BigEndian, uint16(len(pps))); err != nil {
			return err
		}
		if _, err := w.Write(pps); err != nil {
			return err
		}
	}
	if hasChromaExtension(r.AVCProfileIndication) {
		tail := []byte{
			r.ChromaFormat | 0xFC,
			r.BitDepthLumaMinus8 | 0xF8,
			r.BitDepthChromaMinus8 | 0xF8,
			uint8(len(r.SequenceParameterSetExts)),
		}
		if _, err := w.Write(tail); err != nil {
			return err
		}
		for _, ext := range r.SequenceParameterSetExts {
			if err := binary.Write(w, binary.BigEndian, uint16(len(ext))); err != nil {
				return err
			}
			if _, err := w.Write(ext); err != nil {
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

// CodecString returns the RFC 6381 codec parameter string, e.g.
// "avc1.64001e".
func (r *Record) CodecString() string {
	return fmt.Sprintf("avc1.%02x%02x%02x", r.AVCProfileIndication, r.ProfileCompatibility, r.AVCLevelIndication)
}

// LengthSize returns the NAL length-prefix size in bytes (1, 2, or 4).
func (r *Record) LengthSize() int {
	return int(r.LengthSizeMinusOne) + 1
}
