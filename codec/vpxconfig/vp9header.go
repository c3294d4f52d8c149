package vpxconfig

import (
	"github.com/bugVanisher/dashpkg/codec/bits"
	"github.com/bugVanisher/dashpkg/common/errs"
)

// VP9 uncompressed_header() constants, ITU VP9 bitstream spec / vp9_parser.cc.
const (
	vp9FrameMarker     = 2
	vp9SyncCode        = 0x498342
	refsPerFrame       = 3
	refFramesLog2      = 3
	refFrames          = 1 << refFramesLog2
	frameContextsLog2  = 2
	maxRefLFDeltas     = 4
	maxModeLFDeltas    = 2
	qindexBits         = 8
	maxSegments        = 8
	segTreeProbs       = maxSegments - 1
	predictionProbs    = 3
	segLvlMax          = 4
	miSizeLog2         = 3
	miBlockSizeLog2    = 6 - miSizeLog2
	minTileWidthB64    = 4
	maxTileWidthB64    = 64
)

var segFeatureDataMaxBits = [segLvlMax]int{8, 6, 2, 0}

// VP9HeaderParser computes each coded frame's uncompressed_header_size,
// the byte offset where the compressed header (followed by the tile data)
// begins. It keeps the most recently decoded width/height across frames,
// since later frames can omit their own frame_size and inherit it from a
// previous one; one size is kept, not one per reference frame slot.
//
// Grounded on original_source/packager/media/filters/vp9_parser.cc's
// VP9Parser::Parse.
type VP9HeaderParser struct {
	width, height uint32
}

// FrameInfo is one coded frame's parsed header boundary.
type FrameInfo struct {
	IsKeyframe          bool
	UncompressedHeaderSize int
	Width, Height       uint32
}

// ParseFrame parses one coded frame's uncompressed_header() and returns
// where its compressed payload begins.
func (p *VP9HeaderParser) ParseFrame(data []byte) (FrameInfo, error) {
	r := bits.NewReader(data)
	var info FrameInfo

	marker, err := r.ReadBits(2)
	if err != nil || marker != vp9FrameMarker {
		return info, errs.ErrInvalidStream
	}
	profile, err := readProfile(r)
	if err != nil {
		return info, err
	}

	showExisting, err := r.ReadFlag()
	if err != nil {
		return info, err
	}
	if showExisting {
		if err := r.SkipBits(3); err != nil { // frame_to_show_map_idx
			return info, err
		}
		info.IsKeyframe = false
		info.UncompressedHeaderSize = len(data)
		info.Width, info.Height = p.width, p.height
		return info, nil
	}

	isInter, err := r.ReadFlag()
	if err != nil {
		return info, err
	}
	info.IsKeyframe = !isInter
	showFrame, err := r.ReadFlag()
	if err != nil {
		return info, err
	}
	errorResilient, err := r.ReadFlag()
	if err != nil {
		return info, err
	}

	if info.IsKeyframe {
		if err := readSyncCode(r); err != nil {
			return info, err
		}
		if err := readBitDepthAndColorSpace(r, profile); err != nil {
			return info, err
		}
		if err := readFrameSizes(r, &p.width, &p.height); err != nil {
			return info, err
		}
	} else {
		intraOnly := false
		if !showFrame {
			if intraOnly, err = r.ReadFlag(); err != nil {
				return info, err
			}
		}
		if !errorResilient {
			if err := r.SkipBits(2); err != nil { // reset_frame_context
				return info, err
			}
		}
		if intraOnly {
			if err := readSyncCode(r); err != nil {
				return info, err
			}
			if profile > 0 {
				if err := readBitDepthAndColorSpace(r, profile); err != nil {
					return info, err
				}
			}
			if err := r.SkipBits(refFrames); err != nil { // refresh_frame_flags
				return info, err
			}
			if err := readFrameSizes(r, &p.width, &p.height); err != nil {
				return info, err
			}
		} else {
			if err := r.SkipBits(refFrames); err != nil { // refresh_frame_flags
				return info, err
			}
			if err := r.SkipBits(refsPerFrame * (refFramesLog2 + 1)); err != nil {
				return info, err
			}
			if err := readFrameSizesWithRefs(r, &p.width, &p.height); err != nil {
				return info, err
			}
			if err := r.SkipBits(1); err != nil { // allow_high_precision_mv
				return info, err
			}
			interpFilter, err := r.ReadFlag()
			if err != nil {
				return info, err
			}
			if !interpFilter {
				if err := r.SkipBits(2); err != nil { // raw_interpolation_filter
					return info, err
				}
			}
		}
	}

	if !errorResilient {
		if err := r.SkipBits(1); err != nil { // refresh_frame_context
			return info, err
		}
		if err := r.SkipBits(1); err != nil { // frame_parallel_decoding_mode
			return info, err
		}
	}
	if err := r.SkipBits(frameContextsLog2); err != nil { // frame_context_idx
		return info, err
	}

	if err := readLoopFilter(r); err != nil {
		return info, err
	}
	if err := readQuantization(r); err != nil {
		return info, err
	}
	if err := readSegmentation(r); err != nil {
		return info, err
	}
	if err := readTileInfo(r, p.width); err != nil {
		return info, err
	}

	if _, err := r.ReadBits(16); err != nil { // header_size_in_bytes (first partition)
		return info, err
	}
	info.UncompressedHeaderSize = len(data) - r.BitsAvailable()/8
	info.Width, info.Height = p.width, p.height
	return info, nil
}

func readProfile(r *bits.BitReader) (int, error) {
	low, err := r.ReadBits(1)
	if err != nil {
		return 0, err
	}
	high, err := r.ReadBits(1)
	if err != nil {
		return 0, err
	}
	profile := int(low) | int(high)<<1
	if profile == 3 {
		if err := r.SkipBits(1); err != nil { // reserved_zero
			return 0, err
		}
	}
	return profile, nil
}

func readSyncCode(r *bits.BitReader) error {
	v, err := r.ReadBits(24)
	if err != nil {
		return err
	}
	if v != vp9SyncCode {
		return errs.ErrInvalidStream
	}
	return nil
}

func readBitDepthAndColorSpace(r *bits.BitReader, profile int) error {
	if profile >= 2 {
		if err := r.SkipBits(1); err != nil { // ten_or_twelve_bit
			return err
		}
	}
	colorSpace, err := r.ReadBits(3)
	if err != nil {
		return err
	}
	if colorSpace != 7 { // not SRGB
		if err := r.SkipBits(1); err != nil { // color_range
			return err
		}
		if profile&1 != 0 {
			if err := r.SkipBits(2); err != nil { // subsampling_x/y
				return err
			}
			if err := r.SkipBits(1); err != nil { // reserved_zero
				return err
			}
		}
	} else {
		if profile&1 != 0 {
			if err := r.SkipBits(1); err != nil { // reserved_zero
				return err
			}
		}
	}
	return nil
}

func readFrameSize(r *bits.BitReader) (uint32, uint32, error) {
	w, err := r.ReadBits(16)
	if err != nil {
		return 0, 0, err
	}
	h, err := r.ReadBits(16)
	if err != nil {
		return 0, 0, err
	}
	return uint32(w) + 1, uint32(h) + 1, nil
}

func readDisplayFrameSize(r *bits.BitReader) error {
	has, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if has {
		if _, _, err := readFrameSize(r); err != nil {
			return err
		}
	}
	return nil
}

func readFrameSizes(r *bits.BitReader, width, height *uint32) error {
	w, h, err := readFrameSize(r)
	if err != nil {
		return err
	}
	*width, *height = w, h
	return readDisplayFrameSize(r)
}

func readFrameSizesWithRefs(r *bits.BitReader, width, height *uint32) error {
	found := false
	for i := 0; i < refsPerFrame; i++ {
		f, err := r.ReadFlag()
		if err != nil {
			return err
		}
		if f {
			found = true
			break
		}
	}
	if !found {
		return readFrameSizes(r, width, height)
	}
	return readDisplayFrameSize(r)
}

func readLoopFilter(r *bits.BitReader) error {
	if err := r.SkipBits(9); err != nil { // filter_level, sharpness_level
		return err
	}
	enabled, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	update, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if !update {
		return nil
	}
	for i := 0; i < maxRefLFDeltas+maxModeLFDeltas; i++ {
		if err := r.SkipBitsConditional(true, 7); err != nil {
			return err
		}
	}
	return nil
}

func readQuantization(r *bits.BitReader) error {
	if err := r.SkipBits(qindexBits); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if err := r.SkipBitsConditional(true, 5); err != nil {
			return err
		}
	}
	return nil
}

func readSegmentation(r *bits.BitReader) error {
	enabled, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	updateMap, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if updateMap {
		for i := 0; i < segTreeProbs; i++ {
			if err := r.SkipBitsConditional(true, 8); err != nil {
				return err
			}
		}
		temporalUpdate, err := r.ReadFlag()
		if err != nil {
			return err
		}
		if temporalUpdate {
			for i := 0; i < predictionProbs; i++ {
				if err := r.SkipBitsConditional(true, 8); err != nil {
					return err
				}
			}
		}
	}
	updateData, err := r.ReadFlag()
	if err != nil {
		return err
	}
	if updateData {
		if err := r.SkipBits(1); err != nil { // abs_or_delta_update
			return err
		}
		for i := 0; i < maxSegments; i++ {
			for j := 0; j < segLvlMax; j++ {
				featureEnabled, err := r.ReadFlag()
				if err != nil {
					return err
				}
				if featureEnabled {
					if err := r.SkipBits(segFeatureDataMaxBits[j]); err != nil {
						return err
					}
					if j == 0 || j == 1 { // signed features
						if err := r.SkipBits(1); err != nil {
							return err
						}
					}
				}
			}
		}
	}
	return nil
}

func roundupShift(value, n uint32) uint32 {
	return (value + (1 << n) - 1) >> n
}

func getNumMiUnits(pixels uint32) uint32 {
	return roundupShift(pixels, miSizeLog2)
}

func getNumBlocks(miUnits uint32) uint32 {
	return roundupShift(miUnits, miBlockSizeLog2)
}

func getMinLog2TileCols(sb64Cols uint32) uint32 {
	var minLog2 uint32
	for (maxTileWidthB64 << minLog2) < sb64Cols {
		minLog2++
	}
	return minLog2
}

func getMaxLog2TileCols(sb64Cols uint32) uint32 {
	var maxLog2 uint32 = 1
	for (sb64Cols >> maxLog2) >= minTileWidthB64 {
		maxLog2++
	}
	return maxLog2 - 1
}

func readTileInfo(r *bits.BitReader, width uint32) error {
	miCols := getNumMiUnits(width)
	sb64Cols := getNumBlocks(miCols)
	minLog2 := getMinLog2TileCols(sb64Cols)
	maxLog2 := getMaxLog2TileCols(sb64Cols)

	log2TileCols := minLog2
	for maxOnes := maxLog2 - minLog2; maxOnes > 0; maxOnes-- {
		hasMore, err := r.ReadFlag()
		if err != nil {
			return err
		}
		if !hasMore {
			break
		}
		log2TileCols++
	}
	if log2TileCols > 6 {
		return errs.ErrInvalidStream
	}
	return r.SkipBitsConditional(true, 1) // log2_tile_rows
}
