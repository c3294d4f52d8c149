package h264

import (
	"github.com/bugVanisher/dashpkg/codec/bits"
	"github.com/bugVanisher/dashpkg/codec/nalu"
	"github.com/bugVanisher/dashpkg/common/errs"
)

// SliceType mirrors slice_header()'s slice_type values, collapsed to the
// five base values (the +5 "all slices in this picture share this type"
// variants map to the same constant).
type SliceType int

const (
	SliceP SliceType = iota
	SliceB
	SliceI
	SliceSP
	SliceSI
)

const kRefListSize = 32

// ModificationOfPicNum is one ref_pic_list_modification() entry.
type ModificationOfPicNum struct {
	ModificationOfPicNumsIDC int
	Value                    int // abs_diff_pic_num_minus1 or long_term_pic_num
}

// WeightingFactors is one pred_weight_table() list (L0 or L1).
type WeightingFactors struct {
	LumaWeightFlag   [kRefListSize]bool
	ChromaWeightFlag [kRefListSize]bool
	LumaWeight       [kRefListSize]int
	LumaOffset       [kRefListSize]int
	ChromaWeight     [kRefListSize][2]int
	ChromaOffset     [kRefListSize][2]int
}

// DecRefPicMarking is one memory_management_control_operation entry.
type DecRefPicMarking struct {
	Op                       int
	DifferenceOfPicNumsMinus1 int
	LongTermPicNum           int
	LongTermFrameIdx         int
	MaxLongTermFrameIdxPlus1 int
}

// SliceHeader is slice_header(), enough of it for the packager to know
// where each access unit begins and what kind of picture it encodes.
type SliceHeader struct {
	IDRPicFlag bool // from the NAL header, not slice_header() itself
	NalRefIDC  int  // from the NAL header

	// HeaderBitSize is the size in bits of the slice header, i.e. the bit
	// offset at which slice_data() begins, not counting the NAL header
	// byte(s). Not an H.264 spec field; computed for the encrypting
	// fragmenter's subsample planning (encrypt.Fragmenter).
	HeaderBitSize int

	FirstMbInSlice      int
	SliceType           SliceType
	PicParameterSetID   int
	ColourPlaneID       int
	FrameNum            int
	FieldPicFlag        bool
	BottomFieldFlag     bool
	IdrPicID            int
	PicOrderCntLsb      int
	DeltaPicOrderCntBottom int
	DeltaPicOrderCnt    [2]int
	RedundantPicCnt     int
	DirectSpatialMvPredFlag bool

	NumRefIdxActiveOverrideFlag bool
	NumRefIdxL0ActiveMinus1     int
	NumRefIdxL1ActiveMinus1     int
	RefPicListModL0             []ModificationOfPicNum
	RefPicListModL1             []ModificationOfPicNum

	LumaLog2WeightDenom   int
	ChromaLog2WeightDenom int
	PredWeightTableL0     WeightingFactors
	PredWeightTableL1     WeightingFactors

	NoOutputOfPriorPicsFlag bool
	LongTermReferenceFlag   bool
	AdaptiveRefPicMarkingModeFlag bool
	RefPicMarking                 []DecRefPicMarking

	CabacInitIDC                int
	SliceQpDelta                int
	SpForSwitchFlag              bool
	SliceQsDelta                 int
	DisableDeblockingFilterIDC   int
	SliceAlphaC0OffsetDiv2       int
	SliceBetaOffsetDiv2          int
}

func sliceTypeFromCode(v uint32) SliceType {
	return SliceType(v % 5)
}

// ParseSliceHeader parses slice_header() for a coded slice NAL unit. The
// referenced PPS (and its SPS) must already be active.
func (p *Parser) ParseSliceHeader(n nalu.Nalu) (*SliceHeader, error) {
	if !n.IsVideoSlice() {
		return nil, errs.ErrUnsupportedStream
	}
	r := bits.NewH26xReader(n.Payload())
	sh := &SliceHeader{
		IDRPicFlag: n.Type == nalu.H264IDRSlice,
		NalRefIDC:  n.RefIDC,
	}

	if v, err := r.ReadUE(); err != nil {
		return nil, errs.Wrapf(err, "slice_header: first_mb_in_slice")
	} else {
		sh.FirstMbInSlice = int(v)
	}
	st, err := r.ReadUE()
	if err != nil {
		return nil, errs.Wrapf(err, "slice_header: slice_type")
	}
	sh.SliceType = sliceTypeFromCode(st)

	if v, err := r.ReadUE(); err != nil {
		return nil, errs.Wrapf(err, "slice_header: pic_parameter_set_id")
	} else {
		sh.PicParameterSetID = int(v)
	}
	pps := p.ppsByID[sh.PicParameterSetID]
	if pps == nil {
		return nil, errs.ErrMissingParameterSet
	}
	sps := p.spsByID[pps.SeqParameterSetID]
	if sps == nil {
		return nil, errs.ErrMissingParameterSet
	}

	if sps.SeparateColourPlaneFlag {
		if v, err := r.ReadBits(2); err != nil {
			return nil, errs.Wrapf(err, "slice_header: colour_plane_id")
		} else {
			sh.ColourPlaneID = int(v)
		}
	}

	frameNumBits := sps.Log2MaxFrameNumMinus4 + 4
	if v, err := r.ReadBits(frameNumBits); err != nil {
		return nil, errs.Wrapf(err, "slice_header: frame_num")
	} else {
		sh.FrameNum = int(v)
	}

	if !sps.FrameMbsOnlyFlag {
		if sh.FieldPicFlag, err = r.ReadFlag(); err != nil {
			return nil, errs.Wrapf(err, "slice_header: field_pic_flag")
		}
		if sh.FieldPicFlag {
			if sh.BottomFieldFlag, err = r.ReadFlag(); err != nil {
				return nil, errs.Wrapf(err, "slice_header: bottom_field_flag")
			}
		}
	}
	if sh.IDRPicFlag {
		if v, err := r.ReadUE(); err != nil {
			return nil, errs.Wrapf(err, "slice_header: idr_pic_id")
		} else {
			sh.IdrPicID = int(v)
		}
	}
	if sps.PicOrderCntType == 0 {
		lsbBits := sps.Log2MaxPicOrderCntLsbMinus4 + 4
		if v, err := r.ReadBits(lsbBits); err != nil {
			return nil, errs.Wrapf(err, "slice_header: pic_order_cnt_lsb")
		} else {
			sh.PicOrderCntLsb = int(v)
		}
		if pps.BottomFieldPicOrderInFramePresent && !sh.FieldPicFlag {
			if v, err := r.ReadSE(); err != nil {
				return nil, errs.Wrapf(err, "slice_header: delta_pic_order_cnt_bottom")
			} else {
				sh.DeltaPicOrderCntBottom = int(v)
			}
		}
	} else if sps.PicOrderCntType == 1 && !sps.DeltaPicOrderAlwaysZero {
		if v, err := r.ReadSE(); err != nil {
			return nil, errs.Wrapf(err, "slice_header: delta_pic_order_cnt[0]")
		} else {
			sh.DeltaPicOrderCnt[0] = int(v)
		}
		if pps.BottomFieldPicOrderInFramePresent && !sh.FieldPicFlag {
			if v, err := r.ReadSE(); err != nil {
				return nil, errs.Wrapf(err, "slice_header: delta_pic_order_cnt[1]")
			} else {
				sh.DeltaPicOrderCnt[1] = int(v)
			}
		}
	}
	if pps.RedundantPicCntPresent {
		if v, err := r.ReadUE(); err != nil {
			return nil, errs.Wrapf(err, "slice_header: redundant_pic_cnt")
		} else {
			sh.RedundantPicCnt = int(v)
		}
	}
	if sh.SliceType == SliceB {
		if sh.DirectSpatialMvPredFlag, err = r.ReadFlag(); err != nil {
			return nil, errs.Wrapf(err, "slice_header: direct_spatial_mv_pred_flag")
		}
	}

	sh.NumRefIdxL0ActiveMinus1 = pps.NumRefIdxL0DefaultActiveMinus1
	sh.NumRefIdxL1ActiveMinus1 = pps.NumRefIdxL1DefaultActiveMinus1
	if sh.SliceType == SliceP || sh.SliceType == SliceSP || sh.SliceType == SliceB {
		if sh.NumRefIdxActiveOverrideFlag, err = r.ReadFlag(); err != nil {
			return nil, errs.Wrapf(err, "slice_header: num_ref_idx_active_override_flag")
		}
		if sh.NumRefIdxActiveOverrideFlag {
			if v, err := r.ReadUE(); err != nil {
				return nil, errs.Wrapf(err, "slice_header: num_ref_idx_l0_active_minus1")
			} else {
				sh.NumRefIdxL0ActiveMinus1 = int(v)
			}
			if sh.SliceType == SliceB {
				if v, err := r.ReadUE(); err != nil {
					return nil, errs.Wrapf(err, "slice_header: num_ref_idx_l1_active_minus1")
				} else {
					sh.NumRefIdxL1ActiveMinus1 = int(v)
				}
			}
		}
	}

	if sh.SliceType != SliceI && sh.SliceType != SliceSI {
		mods, err := parseRefPicListModification(r)
		if err != nil {
			return nil, errs.Wrapf(err, "slice_header: ref_pic_list_modification_l0")
		}
		sh.RefPicListModL0 = mods
	}
	if sh.SliceType == SliceB {
		mods, err := parseRefPicListModification(r)
		if err != nil {
			return nil, errs.Wrapf(err, "slice_header: ref_pic_list_modification_l1")
		}
		sh.RefPicListModL1 = mods
	}

	if (pps.WeightedPredFlag && (sh.SliceType == SliceP || sh.SliceType == SliceSP)) ||
		(pps.WeightedBipredIDC == 1 && sh.SliceType == SliceB) {
		if err := parsePredWeightTable(r, sps, sh); err != nil {
			return nil, errs.Wrapf(err, "slice_header: pred_weight_table")
		}
	}

	if sh.NalRefIDC != 0 {
		if err := parseDecRefPicMarking(r, sh); err != nil {
			return nil, errs.Wrapf(err, "slice_header: dec_ref_pic_marking")
		}
	}

	if pps.EntropyCodingMode && sh.SliceType != SliceI && sh.SliceType != SliceSI {
		if v, err := r.ReadUE(); err != nil {
			return nil, errs.Wrapf(err, "slice_header: cabac_init_idc")
		} else {
			sh.CabacInitIDC = int(v)
		}
	}
	if v, err := r.ReadSE(); err != nil {
		return nil, errs.Wrapf(err, "slice_header: slice_qp_delta")
	} else {
		sh.SliceQpDelta = int(v)
	}
	if sh.SliceType == SliceSP || sh.SliceType == SliceSI {
		if sh.SliceType == SliceSP {
			if sh.SpForSwitchFlag, err = r.ReadFlag(); err != nil {
				return nil, errs.Wrapf(err, "slice_header: sp_for_switch_flag")
			}
		}
		if v, err := r.ReadSE(); err != nil {
			return nil, errs.Wrapf(err, "slice_header: slice_qs_delta")
		} else {
			sh.SliceQsDelta = int(v)
		}
	}
	if pps.DeblockingFilterControlPresent {
		if v, err := r.ReadUE(); err != nil {
			return nil, errs.Wrapf(err, "slice_header: disable_deblocking_filter_idc")
		} else {
			sh.DisableDeblockingFilterIDC = int(v)
		}
		if sh.DisableDeblockingFilterIDC != 1 {
			if v, err := r.ReadSE(); err != nil {
				return nil, errs.Wrapf(err, "slice_header: slice_alpha_c0_offset_div2")
			} else {
				sh.SliceAlphaC0OffsetDiv2 = int(v)
			}
			if v, err := r.ReadSE(); err != nil {
				return nil, errs.Wrapf(err, "slice_header: slice_beta_offset_div2")
			} else {
				sh.SliceBetaOffsetDiv2 = int(v)
			}
		}
	}
	if pps.NumSliceGroupsMinus1 > 0 {
		return nil, errs.ErrUnsupportedStream
	}

	sh.HeaderBitSize = r.BitPosition()
	return sh, nil
}

func parseRefPicListModification(r *bits.H26xBitReader) ([]ModificationOfPicNum, error) {
	present, err := r.ReadFlag()
	if err != nil || !present {
		return nil, err
	}
	var mods []ModificationOfPicNum
	for {
		idc, err := r.ReadUE()
		if err != nil {
			return nil, err
		}
		if idc == 3 {
			break
		}
		value, err := r.ReadUE()
		if err != nil {
			return nil, err
		}
		mods = append(mods, ModificationOfPicNum{ModificationOfPicNumsIDC: int(idc), Value: int(value)})
		if len(mods) > kRefListSize {
			return nil, errs.ErrInvalidStream
		}
	}
	return mods, nil
}

func parseWeightingFactors(r *bits.H26xBitReader, numRefIdxActiveMinus1, chromaArrayType int, w *WeightingFactors) error {
	for i := 0; i <= numRefIdxActiveMinus1 && i < kRefListSize; i++ {
		flag, err := r.ReadFlag()
		if err != nil {
			return err
		}
		w.LumaWeightFlag[i] = flag
		if flag {
			v, err := r.ReadSE()
			if err != nil {
				return err
			}
			w.LumaWeight[i] = int(v)
			v, err = r.ReadSE()
			if err != nil {
				return err
			}
			w.LumaOffset[i] = int(v)
		}
		if chromaArrayType != 0 {
			cFlag, err := r.ReadFlag()
			if err != nil {
				return err
			}
			w.ChromaWeightFlag[i] = cFlag
			if cFlag {
				for j := 0; j < 2; j++ {
					v, err := r.ReadSE()
					if err != nil {
						return err
					}
					w.ChromaWeight[i][j] = int(v)
					v, err = r.ReadSE()
					if err != nil {
						return err
					}
					w.ChromaOffset[i][j] = int(v)
				}
			}
		}
	}
	return nil
}

func parsePredWeightTable(r *bits.H26xBitReader, sps *SPS, sh *SliceHeader) error {
	v, err := r.ReadUE()
	if err != nil {
		return err
	}
	sh.LumaLog2WeightDenom = int(v)
	if sps.ChromaArrayType != 0 {
		v, err := r.ReadUE()
		if err != nil {
			return err
		}
		sh.ChromaLog2WeightDenom = int(v)
	}
	if err := parseWeightingFactors(r, sh.NumRefIdxL0ActiveMinus1, sps.ChromaArrayType, &sh.PredWeightTableL0); err != nil {
		return err
	}
	if sh.SliceType == SliceB {
		if err := parseWeightingFactors(r, sh.NumRefIdxL1ActiveMinus1, sps.ChromaArrayType, &sh.PredWeightTableL1); err != nil {
			return err
		}
	}
	return nil
}

func parseDecRefPicMarking(r *bits.H26xBitReader, sh *SliceHeader) error {
	if sh.IDRPicFlag {
		var err error
		if sh.NoOutputOfPriorPicsFlag, err = r.ReadFlag(); err != nil {
			return err
		}
		if sh.LongTermReferenceFlag, err = r.ReadFlag(); err != nil {
			return err
		}
		return nil
	}
	adaptive, err := r.ReadFlag()
	if err != nil {
		return err
	}
	sh.AdaptiveRefPicMarkingModeFlag = adaptive
	if !adaptive {
		return nil
	}
	for {
		op, err := r.ReadUE()
		if err != nil {
			return err
		}
		if op == 0 {
			break
		}
		m := DecRefPicMarking{Op: int(op)}
		switch op {
		case 1, 3:
			v, err := r.ReadUE()
			if err != nil {
				return err
			}
			m.DifferenceOfPicNumsMinus1 = int(v)
		case 2:
			v, err := r.ReadUE()
			if err != nil {
				return err
			}
			m.LongTermPicNum = int(v)
		case 4:
			v, err := r.ReadUE()
			if err != nil {
				return err
			}
			m.MaxLongTermFrameIdxPlus1 = int(v)
		case 6:
			v, err := r.ReadUE()
			if err != nil {
				return err
			}
			m.LongTermFrameIdx = int(v)
		}
		if op == 3 {
			v, err := r.ReadUE()
			if err != nil {
				return err
			}
			m.LongTermFrameIdx = int(v)
		}
		sh.RefPicMarking = append(sh.RefPicMarking, m)
		if len(sh.RefPicMarking) > kRefListSize {
			return errs.ErrInvalidStream
		}
	}
	return nil
}
