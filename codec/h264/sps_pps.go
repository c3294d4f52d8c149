// Package h264 parses H.264 Annex-B parameter sets, slice headers, and SEI
// messages, generalizing media/codec/h264parser to the per-track parser
// state and MissingParameterSet error handling a packager needs (that
// package kept package-level regexes and a single CodecData; a packager
// has to track many tracks at once, so state lives in a Parser value the
// caller owns one of per track).
package h264

import (
	"github.com/bugVanisher/dashpkg/codec/bits"
	"github.com/bugVanisher/dashpkg/codec/nalu"
	"github.com/bugVanisher/dashpkg/common/errs"
)

const (
	ScalingList4x4Length = 16
	ScalingList8x8Length = 64
)

// SPS is the subset of seq_parameter_set_rbsp fields the packager needs:
// cropped coded size, sample aspect ratio, and timing hints used when
// deriving a Representation's frame rate.
type SPS struct {
	ProfileIDC        int
	ConstraintSet0    bool
	ConstraintSet1    bool
	ConstraintSet2    bool
	ConstraintSet3    bool
	ConstraintSet4    bool
	ConstraintSet5    bool
	LevelIDC          int
	SeqParameterSetID int

	ChromaFormatIDC            int
	SeparateColourPlaneFlag    bool
	BitDepthLumaMinus8         int
	BitDepthChromaMinus8       int
	QpprimeYZeroTransformBypass bool

	SeqScalingMatrixPresent bool

	Log2MaxFrameNumMinus4            int
	PicOrderCntType                  int
	Log2MaxPicOrderCntLsbMinus4      int
	DeltaPicOrderAlwaysZero          bool
	OffsetForNonRefPic               int
	OffsetForTopToBottomField        int
	NumRefFramesInPicOrderCntCycle   int
	OffsetForRefFrame                []int
	MaxNumRefFrames                  int
	GapsInFrameNumValueAllowed       bool
	PicWidthInMbsMinus1              int
	PicHeightInMapUnitsMinus1        int
	FrameMbsOnlyFlag                 bool
	MbAdaptiveFrameFieldFlag         bool
	Direct8x8InferenceFlag           bool
	FrameCroppingFlag                bool
	FrameCropLeftOffset              int
	FrameCropRightOffset             int
	FrameCropTopOffset               int
	FrameCropBottomOffset            int

	VUIParametersPresent bool
	SARWidth             int
	SARHeight            int

	TimingInfoPresent bool
	NumUnitsInTick    uint32
	TimeScale         uint32
	FixedFrameRate    bool

	ChromaArrayType int
}

// PPS is the subset of pic_parameter_set_rbsp fields the slice header
// parser needs to interpret a slice.
type PPS struct {
	PicParameterSetID                          int
	SeqParameterSetID                          int
	EntropyCodingMode                          bool
	BottomFieldPicOrderInFramePresent          bool
	NumSliceGroupsMinus1                       int
	NumRefIdxL0DefaultActiveMinus1             int
	NumRefIdxL1DefaultActiveMinus1             int
	WeightedPredFlag                           bool
	WeightedBipredIDC                          int
	PicInitQpMinus26                           int
	PicInitQsMinus26                           int
	ChromaQpIndexOffset                        int
	DeblockingFilterControlPresent             bool
	ConstrainedIntraPredFlag                   bool
	RedundantPicCntPresent                     bool
	Transform8x8ModeFlag                       bool
	PicScalingMatrixPresent                    bool
	SecondChromaQpIndexOffset                  int
}

// Parser holds the SPS/PPS state for one H.264 track: parameter sets
// persist across NAL units and are referenced by id from later slices.
type Parser struct {
	spsByID map[int]*SPS
	ppsByID map[int]*PPS
}

// NewParser creates a Parser with no active parameter sets.
func NewParser() *Parser {
	return &Parser{spsByID: map[int]*SPS{}, ppsByID: map[int]*PPS{}}
}

// SPS returns the active SPS with the given id, or nil if none was parsed.
func (p *Parser) SPS(id int) *SPS { return p.spsByID[id] }

// PPS returns the active PPS with the given id, or nil if none was parsed.
func (p *Parser) PPS(id int) *PPS { return p.ppsByID[id] }

// ParseSPS parses a SPS NAL unit and stores it under its seq_parameter_set_id.
func (p *Parser) ParseSPS(n nalu.Nalu) (*SPS, error) {
	if n.Type != nalu.H264SPS {
		return nil, errs.ErrUnsupportedStream
	}
	r := bits.NewH26xReader(n.Payload())
	s := &SPS{}

	profile, err := r.ReadBits(8)
	if err != nil {
		return nil, errs.Wrapf(err, "sps: profile_idc")
	}
	s.ProfileIDC = int(profile)

	flags, err := r.ReadBits(8)
	if err != nil {
		return nil, errs.Wrapf(err, "sps: constraint flags")
	}
	s.ConstraintSet0 = flags&0x80 != 0
	s.ConstraintSet1 = flags&0x40 != 0
	s.ConstraintSet2 = flags&0x20 != 0
	s.ConstraintSet3 = flags&0x10 != 0
	s.ConstraintSet4 = flags&0x08 != 0
	s.ConstraintSet5 = flags&0x04 != 0

	level, err := r.ReadBits(8)
	if err != nil {
		return nil, errs.Wrapf(err, "sps: level_idc")
	}
	s.LevelIDC = int(level)

	id, err := r.ReadUE()
	if err != nil {
		return nil, errs.Wrapf(err, "sps: seq_parameter_set_id")
	}
	s.SeqParameterSetID = int(id)

	s.ChromaFormatIDC = 1
	switch s.ProfileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		cf, err := r.ReadUE()
		if err != nil {
			return nil, errs.Wrapf(err, "sps: chroma_format_idc")
		}
		s.ChromaFormatIDC = int(cf)
		if s.ChromaFormatIDC == 3 {
			if s.SeparateColourPlaneFlag, err = r.ReadFlag(); err != nil {
				return nil, errs.Wrapf(err, "sps: separate_colour_plane_flag")
			}
		}
		if bd, err := r.ReadUE(); err != nil {
			return nil, errs.Wrapf(err, "sps: bit_depth_luma_minus8")
		} else {
			s.BitDepthLumaMinus8 = int(bd)
		}
		if bd, err := r.ReadUE(); err != nil {
			return nil, errs.Wrapf(err, "sps: bit_depth_chroma_minus8")
		} else {
			s.BitDepthChromaMinus8 = int(bd)
		}
		if s.QpprimeYZeroTransformBypass, err = r.ReadFlag(); err != nil {
			return nil, errs.Wrapf(err, "sps: qpprime_y_zero_transform_bypass_flag")
		}
		if s.SeqScalingMatrixPresent, err = r.ReadFlag(); err != nil {
			return nil, errs.Wrapf(err, "sps: seq_scaling_matrix_present_flag")
		}
		if s.SeqScalingMatrixPresent {
			count := 8
			if s.ChromaFormatIDC == 3 {
				count = 12
			}
			for i := 0; i < count; i++ {
				present, err := r.ReadFlag()
				if err != nil {
					return nil, errs.Wrapf(err, "sps: scaling_list_present_flag")
				}
				if present {
					size := ScalingList4x4Length
					if i >= 6 {
						size = ScalingList8x8Length
					}
					if err := skipScalingList(r, size); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	if s.ChromaArrayType = s.ChromaFormatIDC; s.SeparateColourPlaneFlag {
		s.ChromaArrayType = 0
	}

	if v, err := r.ReadUE(); err != nil {
		return nil, errs.Wrapf(err, "sps: log2_max_frame_num_minus4")
	} else {
		s.Log2MaxFrameNumMinus4 = int(v)
	}
	if v, err := r.ReadUE(); err != nil {
		return nil, errs.Wrapf(err, "sps: pic_order_cnt_type")
	} else {
		s.PicOrderCntType = int(v)
	}
	switch s.PicOrderCntType {
	case 0:
		if v, err := r.ReadUE(); err != nil {
			return nil, errs.Wrapf(err, "sps: log2_max_pic_order_cnt_lsb_minus4")
		} else {
			s.Log2MaxPicOrderCntLsbMinus4 = int(v)
		}
	case 1:
		if s.DeltaPicOrderAlwaysZero, err = r.ReadFlag(); err != nil {
			return nil, errs.Wrapf(err, "sps: delta_pic_order_always_zero_flag")
		}
		if v, err := r.ReadSE(); err != nil {
			return nil, errs.Wrapf(err, "sps: offset_for_non_ref_pic")
		} else {
			s.OffsetForNonRefPic = int(v)
		}
		if v, err := r.ReadSE(); err != nil {
			return nil, errs.Wrapf(err, "sps: offset_for_top_to_bottom_field")
		} else {
			s.OffsetForTopToBottomField = int(v)
		}
		n, err := r.ReadUE()
		if err != nil {
			return nil, errs.Wrapf(err, "sps: num_ref_frames_in_pic_order_cnt_cycle")
		}
		s.NumRefFramesInPicOrderCntCycle = int(n)
		s.OffsetForRefFrame = make([]int, s.NumRefFramesInPicOrderCntCycle)
		for i := range s.OffsetForRefFrame {
			v, err := r.ReadSE()
			if err != nil {
				return nil, errs.Wrapf(err, "sps: offset_for_ref_frame")
			}
			s.OffsetForRefFrame[i] = int(v)
		}
	}

	if v, err := r.ReadUE(); err != nil {
		return nil, errs.Wrapf(err, "sps: max_num_ref_frames")
	} else {
		s.MaxNumRefFrames = int(v)
	}
	if s.GapsInFrameNumValueAllowed, err = r.ReadFlag(); err != nil {
		return nil, errs.Wrapf(err, "sps: gaps_in_frame_num_value_allowed_flag")
	}
	if v, err := r.ReadUE(); err != nil {
		return nil, errs.Wrapf(err, "sps: pic_width_in_mbs_minus1")
	} else {
		s.PicWidthInMbsMinus1 = int(v)
	}
	if v, err := r.ReadUE(); err != nil {
		return nil, errs.Wrapf(err, "sps: pic_height_in_map_units_minus1")
	} else {
		s.PicHeightInMapUnitsMinus1 = int(v)
	}
	if s.FrameMbsOnlyFlag, err = r.ReadFlag(); err != nil {
		return nil, errs.Wrapf(err, "sps: frame_mbs_only_flag")
	}
	if !s.FrameMbsOnlyFlag {
		if s.MbAdaptiveFrameFieldFlag, err = r.ReadFlag(); err != nil {
			return nil, errs.Wrapf(err, "sps: mb_adaptive_frame_field_flag")
		}
	}
	if s.Direct8x8InferenceFlag, err = r.ReadFlag(); err != nil {
		return nil, errs.Wrapf(err, "sps: direct_8x8_inference_flag")
	}
	if s.FrameCroppingFlag, err = r.ReadFlag(); err != nil {
		return nil, errs.Wrapf(err, "sps: frame_cropping_flag")
	}
	if s.FrameCroppingFlag {
		if v, err := r.ReadUE(); err != nil {
			return nil, errs.Wrapf(err, "sps: frame_crop_left_offset")
		} else {
			s.FrameCropLeftOffset = int(v)
		}
		if v, err := r.ReadUE(); err != nil {
			return nil, errs.Wrapf(err, "sps: frame_crop_right_offset")
		} else {
			s.FrameCropRightOffset = int(v)
		}
		if v, err := r.ReadUE(); err != nil {
			return nil, errs.Wrapf(err, "sps: frame_crop_top_offset")
		} else {
			s.FrameCropTopOffset = int(v)
		}
		if v, err := r.ReadUE(); err != nil {
			return nil, errs.Wrapf(err, "sps: frame_crop_bottom_offset")
		} else {
			s.FrameCropBottomOffset = int(v)
		}
	}

	if s.VUIParametersPresent, err = r.ReadFlag(); err != nil {
		return nil, errs.Wrapf(err, "sps: vui_parameters_present_flag")
	}
	if s.VUIParametersPresent {
		if err := parseVUI(r, s); err != nil {
			return nil, err
		}
	}

	p.spsByID[s.SeqParameterSetID] = s
	return s, nil
}

// parseVUI parses just enough of vui_parameters() to recover sample aspect
// ratio and frame timing; overscan, video signal type and chroma sample
// location are consumed to keep the bit position correct but not
// retained, and everything after timing_info is left unparsed.
func parseVUI(r *bits.H26xBitReader, s *SPS) error {
	aspectRatioInfoPresent, err := r.ReadFlag()
	if err != nil {
		return errs.Wrapf(err, "vui: aspect_ratio_info_present_flag")
	}
	if aspectRatioInfoPresent {
		idc, err := r.ReadBits(8)
		if err != nil {
			return errs.Wrapf(err, "vui: aspect_ratio_idc")
		}
		const extendedSAR = 255
		if idc == extendedSAR {
			w, err := r.ReadBits(16)
			if err != nil {
				return errs.Wrapf(err, "vui: sar_width")
			}
			h, err := r.ReadBits(16)
			if err != nil {
				return errs.Wrapf(err, "vui: sar_height")
			}
			s.SARWidth, s.SARHeight = int(w), int(h)
		} else if int(idc) < len(aspectRatioTable) {
			s.SARWidth, s.SARHeight = aspectRatioTable[idc][0], aspectRatioTable[idc][1]
		}
	}

	overscanInfoPresent, err := r.ReadFlag()
	if err != nil {
		return errs.Wrapf(err, "vui: overscan_info_present_flag")
	}
	if overscanInfoPresent {
		if err := r.SkipBits(1); err != nil {
			return err
		}
	}

	videoSignalPresent, err := r.ReadFlag()
	if err != nil {
		return errs.Wrapf(err, "vui: video_signal_type_present_flag")
	}
	if videoSignalPresent {
		if err := r.SkipBits(4); err != nil { // video_format(3) + video_full_range_flag(1)
			return err
		}
		colourDescPresent, err := r.ReadFlag()
		if err != nil {
			return err
		}
		if colourDescPresent {
			if err := r.SkipBits(24); err != nil {
				return err
			}
		}
	}

	chromaLocPresent, err := r.ReadFlag()
	if err != nil {
		return errs.Wrapf(err, "vui: chroma_loc_info_present_flag")
	}
	if chromaLocPresent {
		if _, err := r.ReadUE(); err != nil {
			return err
		}
		if _, err := r.ReadUE(); err != nil {
			return err
		}
	}

	if s.TimingInfoPresent, err = r.ReadFlag(); err != nil {
		return errs.Wrapf(err, "vui: timing_info_present_flag")
	}
	if s.TimingInfoPresent {
		if v, err := r.ReadBits(32); err != nil {
			return errs.Wrapf(err, "vui: num_units_in_tick")
		} else {
			s.NumUnitsInTick = v
		}
		if v, err := r.ReadBits(32); err != nil {
			return errs.Wrapf(err, "vui: time_scale")
		} else {
			s.TimeScale = v
		}
		if s.FixedFrameRate, err = r.ReadFlag(); err != nil {
			return errs.Wrapf(err, "vui: fixed_frame_rate_flag")
		}
	}
	// nal_hrd_parameters, vcl_hrd_parameters, pic_struct, bitstream
	// restrictions are not needed downstream and are deliberately left
	// unparsed: the remainder of vui_parameters() only matters to an
	// actual decoder's timing model, which is explicitly out of scope.
	return nil
}

// aspectRatioTable maps aspect_ratio_idc (1-16) to {sar_width, sar_height},
// per Table E-1. Index 0 is unused (Unspecified).
var aspectRatioTable = [][2]int{
	{0, 0}, {1, 1}, {12, 11}, {10, 11}, {16, 11}, {40, 33}, {24, 11}, {20, 11},
	{32, 11}, {80, 33}, {18, 11}, {15, 11}, {64, 33}, {160, 99}, {4, 3}, {3, 2}, {2, 1},
}

func skipScalingList(r *bits.H26xBitReader, size int) error {
	lastScale, nextScale := 8, 8
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := r.ReadSE()
			if err != nil {
				return errs.Wrapf(err, "scaling_list: delta_scale")
			}
			nextScale = (lastScale + int(delta) + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// ExtractResolution returns the coded resolution after cropping and the
// sample aspect ratio (1:1 if the SPS did not specify one).
func (s *SPS) ExtractResolution() (codedWidth, codedHeight, pixelWidth, pixelHeight int) {
	codedWidth = (s.PicWidthInMbsMinus1 + 1) * 16
	mbHeight := s.PicHeightInMapUnitsMinus1 + 1
	if !s.FrameMbsOnlyFlag {
		mbHeight *= 2
	}
	codedHeight = mbHeight * 16

	if s.FrameCroppingFlag {
		cropUnitX, cropUnitY := 1, 1
		if s.ChromaArrayType == 0 {
			cropUnitY = 2
			if s.FrameMbsOnlyFlag {
				cropUnitY = 1
			}
		} else {
			subWidthC, subHeightC := 2, 2
			if s.ChromaFormatIDC == 3 {
				subWidthC = 1
			}
			if s.ChromaFormatIDC == 1 {
				subHeightC = 2
			} else if s.ChromaFormatIDC == 2 {
				subHeightC = 1
			}
			cropUnitX = subWidthC
			cropUnitY = subHeightC
			if s.FrameMbsOnlyFlag {
				// cropUnitY stays as computed
			} else {
				cropUnitY *= 2
			}
		}
		codedWidth -= cropUnitX * (s.FrameCropLeftOffset + s.FrameCropRightOffset)
		codedHeight -= cropUnitY * (s.FrameCropTopOffset + s.FrameCropBottomOffset)
	}

	pixelWidth, pixelHeight = 1, 1
	if s.SARWidth > 0 && s.SARHeight > 0 {
		pixelWidth, pixelHeight = s.SARWidth, s.SARHeight
	}
	return
}

// ParsePPS parses a PPS NAL unit. The referenced SPS must already be
// active; a forward reference is MissingParameterSet.
func (p *Parser) ParsePPS(n nalu.Nalu) (*PPS, error) {
	if n.Type != nalu.H264PPS {
		return nil, errs.ErrUnsupportedStream
	}
	r := bits.NewH26xReader(n.Payload())
	pps := &PPS{}

	if v, err := r.ReadUE(); err != nil {
		return nil, errs.Wrapf(err, "pps: pic_parameter_set_id")
	} else {
		pps.PicParameterSetID = int(v)
	}
	if v, err := r.ReadUE(); err != nil {
		return nil, errs.Wrapf(err, "pps: seq_parameter_set_id")
	} else {
		pps.SeqParameterSetID = int(v)
	}
	sps := p.spsByID[pps.SeqParameterSetID]
	if sps == nil {
		return nil, errs.ErrMissingParameterSet
	}

	var err error
	if pps.EntropyCodingMode, err = r.ReadFlag(); err != nil {
		return nil, errs.Wrapf(err, "pps: entropy_coding_mode_flag")
	}
	if pps.BottomFieldPicOrderInFramePresent, err = r.ReadFlag(); err != nil {
		return nil, errs.Wrapf(err, "pps: bottom_field_pic_order_in_frame_present_flag")
	}
	if v, err := r.ReadUE(); err != nil {
		return nil, errs.Wrapf(err, "pps: num_slice_groups_minus1")
	} else {
		pps.NumSliceGroupsMinus1 = int(v)
	}
	if pps.NumSliceGroupsMinus1 > 0 {
		// slice_group_map_type and its per-type parameters do not affect
		// any field the packager needs; skipping them unparsed would
		// misalign the bitstream for later fields, and FMO is effectively extinct
		// in content this packager handles, so it is reported as
		// unsupported rather than guessed at.
		return nil, errs.ErrUnsupportedStream
	}
	if v, err := r.ReadUE(); err != nil {
		return nil, errs.Wrapf(err, "pps: num_ref_idx_l0_default_active_minus1")
	} else {
		pps.NumRefIdxL0DefaultActiveMinus1 = int(v)
	}
	if v, err := r.ReadUE(); err != nil {
		return nil, errs.Wrapf(err, "pps: num_ref_idx_l1_default_active_minus1")
	} else {
		pps.NumRefIdxL1DefaultActiveMinus1 = int(v)
	}
	if pps.WeightedPredFlag, err = r.ReadFlag(); err != nil {
		return nil, errs.Wrapf(err, "pps: weighted_pred_flag")
	}
	if v, err := r.ReadBits(2); err != nil {
		return nil, errs.Wrapf(err, "pps: weighted_bipred_idc")
	} else {
		pps.WeightedBipredIDC = int(v)
	}
	if v, err := r.ReadSE(); err != nil {
		return nil, errs.Wrapf(err, "pps: pic_init_qp_minus26")
	} else {
		pps.PicInitQpMinus26 = int(v)
	}
	if v, err := r.ReadSE(); err != nil {
		return nil, errs.Wrapf(err, "pps: pic_init_qs_minus26")
	} else {
		pps.PicInitQsMinus26 = int(v)
	}
	if v, err := r.ReadSE(); err != nil {
		return nil, errs.Wrapf(err, "pps: chroma_qp_index_offset")
	} else {
		pps.ChromaQpIndexOffset = int(v)
	}
	if pps.DeblockingFilterControlPresent, err = r.ReadFlag(); err != nil {
		return nil, errs.Wrapf(err, "pps: deblocking_filter_control_present_flag")
	}
	if pps.ConstrainedIntraPredFlag, err = r.ReadFlag(); err != nil {
		return nil, errs.Wrapf(err, "pps: constrained_intra_pred_flag")
	}
	if pps.RedundantPicCntPresent, err = r.ReadFlag(); err != nil {
		return nil, errs.Wrapf(err, "pps: redundant_pic_cnt_present_flag")
	}

	if r.HasMoreRBSPData() {
		if pps.Transform8x8ModeFlag, err = r.ReadFlag(); err != nil {
			return nil, errs.Wrapf(err, "pps: transform_8x8_mode_flag")
		}
		if pps.PicScalingMatrixPresent, err = r.ReadFlag(); err != nil {
			return nil, errs.Wrapf(err, "pps: pic_scaling_matrix_present_flag")
		}
		if pps.PicScalingMatrixPresent {
			count := 6 + 2*boolToInt(pps.Transform8x8ModeFlag)
			if sps.ChromaFormatIDC == 3 {
				count = 6 + 6*boolToInt(pps.Transform8x8ModeFlag)
			}
			for i := 0; i < count; i++ {
				present, err := r.ReadFlag()
				if err != nil {
					return nil, errs.Wrapf(err, "pps: pic_scaling_list_present_flag")
				}
				if present {
					size := ScalingList4x4Length
					if i >= 6 {
						size = ScalingList8x8Length
					}
					if err := skipScalingList(r, size); err != nil {
						return nil, err
					}
				}
			}
		}
		if v, err := r.ReadSE(); err != nil {
			return nil, errs.Wrapf(err, "pps: second_chroma_qp_index_offset")
		} else {
			pps.SecondChromaQpIndexOffset = int(v)
		}
	}

	p.ppsByID[pps.PicParameterSetID] = pps
	return pps, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
