// Package nalu frames and classifies H.264/H.265 NAL units out of an
// Annex-B or length-prefixed bytestream. It generalizes media/codec/
// h264parser's SplitNALUs/IsSpsNALU/IsPpsNALU family (which masked the NAL
// header with the legacy, buggy 0x0F) to the two codecs and the correct
// 0x1F five-bit type mask.
package nalu

import "github.com/bugVanisher/dashpkg/common/errs"

// CodecType selects which NAL header layout to interpret.
type CodecType int

const (
	CodecH264 CodecType = iota
	CodecH265
)

// H.264 nal_unit_type values (ISO/IEC 14496-10 Table 7-1).
const (
	H264Unspecified0       = 0
	H264NonIDRSlice        = 1
	H264SliceDataPartA     = 2
	H264SliceDataPartB     = 3
	H264SliceDataPartC     = 4
	H264IDRSlice           = 5
	H264SEIMessage         = 6
	H264SPS                = 7
	H264PPS                = 8
	H264AUD                = 9
	H264EndOfSequence      = 10
	H264EndOfStream        = 11
	H264FillerData         = 12
	H264SPSExtension       = 13
	H264PrefixNALUnit      = 14
	H264SubsetSPS          = 15
	H264DepthParameterSet  = 16
	H264Reserved17         = 17
	H264Reserved18         = 18
	H264CodedSliceAux      = 19
	H264CodedSliceExtn     = 20
	H264Reserved21         = 21
)

// H.265 nal_unit_type values (ITU-T H.265 Table 7-1).
const (
	H265TrailN     = 0
	H265TrailR     = 1
	H265TsaN       = 2
	H265TsaR       = 3
	H265StsaN      = 4
	H265StsaR      = 5
	H265RadlN      = 6
	H265RadlR      = 7
	H265RaslN      = 8
	H265RaslR      = 9
	H265RsvVclN10  = 10
	H265RsvVclR11  = 11
	H265RsvVclN12  = 12
	H265RsvVclR13  = 13
	H265RsvVclN14  = 14
	H265RsvVclR15  = 15
	H265BlaWLp     = 16
	H265BlaWRadl   = 17
	H265BlaNLp     = 18
	H265IdrWRadl   = 19
	H265IdrNLp     = 20
	H265CraNut     = 21
	H265RsvIrapVcl22 = 22
	H265RsvIrapVcl23 = 23
	H265VPS        = 32
	H265SPS        = 33
	H265PPS        = 34
	H265AUD        = 35
	H265EOS        = 36
	H265EOB        = 37
	H265FD         = 38
	H265PrefixSEI  = 39
	H265SuffixSEI  = 40
)

// Nalu is a view over one NAL unit's header fields and payload, with the
// header byte(s) already separated from the RBSP payload.
type Nalu struct {
	Codec      CodecType
	Data       []byte // the full NAL unit, header included
	HeaderSize int    // 1 for H.264, 2 for H.265
	Type       int
	// RefIDC is the H.264 nal_ref_idc (0-3); zero for H.265.
	RefIDC int
	// LayerID and TemporalID are the H.265 nuh_layer_id / TemporalId
	// (nuh_temporal_id_plus1 - 1); zero for H.264.
	LayerID    int
	TemporalID int
}

// Payload returns the NAL unit's RBSP payload, i.e. Data with the header
// stripped.
func (n Nalu) Payload() []byte {
	return n.Data[n.HeaderSize:]
}

// IsVCL reports whether this NAL unit carries coded slice data.
func (n Nalu) IsVCL() bool {
	switch n.Codec {
	case CodecH264:
		return (n.Type >= H264NonIDRSlice && n.Type <= H264IDRSlice) ||
			n.Type == H264CodedSliceAux || n.Type == H264CodedSliceExtn
	case CodecH265:
		return n.Type <= H265RsvIrapVcl23
	}
	return false
}

// IsVideoSlice reports whether this NAL unit is a primary coded picture
// slice (excludes auxiliary/extension slices).
func (n Nalu) IsVideoSlice() bool {
	switch n.Codec {
	case CodecH264:
		return n.Type == H264NonIDRSlice || n.Type == H264IDRSlice
	case CodecH265:
		return n.Type <= H265RsvIrapVcl23
	}
	return false
}

// IsAUD reports whether this is an access unit delimiter.
func (n Nalu) IsAUD() bool {
	if n.Codec == CodecH264 {
		return n.Type == H264AUD
	}
	return n.Type == H265AUD
}

// IsParameterSet reports whether this is a VPS/SPS/PPS NAL unit.
func (n Nalu) IsParameterSet() bool {
	if n.Codec == CodecH264 {
		return n.Type == H264SPS || n.Type == H264PPS
	}
	return n.Type == H265VPS || n.Type == H265SPS || n.Type == H265PPS
}

// IsSEI reports whether this is a supplemental enhancement information
// message.
func (n Nalu) IsSEI() bool {
	if n.Codec == CodecH264 {
		return n.Type == H264SEIMessage
	}
	return n.Type == H265PrefixSEI || n.Type == H265SuffixSEI
}

// CanStartAccessUnit reports whether this NAL unit type may begin a new
// access unit on its own (an AUD always does; a VCL NAL unit does if it is
// the first slice of its picture, which the framer cannot determine without
// decoding first_mb_in_slice/first_slice_segment_in_pic_flag, so callers
// combine this with their own first-slice test).
func (n Nalu) CanStartAccessUnit() bool {
	return n.IsAUD() || n.IsVideoSlice()
}

// parseNALU builds a Nalu from a complete NAL unit buffer (header+payload,
// no start code, no length prefix).
func parseNALU(codec CodecType, data []byte) (Nalu, error) {
	if len(data) < 1 {
		return Nalu{}, errs.ErrInvalidStream
	}
	switch codec {
	case CodecH264:
		header := data[0]
		if header&0x80 != 0 {
			// forbidden_zero_bit set.
			return Nalu{}, errs.ErrInvalidStream
		}
		return Nalu{
			Codec:      codec,
			Data:       data,
			HeaderSize: 1,
			Type:       int(header & 0x1F),
			RefIDC:     int((header >> 5) & 0x03),
		}, nil
	case CodecH265:
		if len(data) < 2 {
			return Nalu{}, errs.ErrInvalidStream
		}
		if data[0]&0x80 != 0 {
			return Nalu{}, errs.ErrInvalidStream
		}
		nalType := int((data[0] >> 1) & 0x3F)
		layerID := int((uint16(data[0]&0x01)<<5 | uint16(data[1]>>3)))
		temporalID := int(data[1]&0x07) - 1
		if temporalID < 0 {
			return Nalu{}, errs.ErrInvalidStream
		}
		return Nalu{
			Codec:      codec,
			Data:       data,
			HeaderSize: 2,
			Type:       nalType,
			LayerID:    layerID,
			TemporalID: temporalID,
		}, nil
	}
	return Nalu{}, errs.ErrUnsupportedStream
}
