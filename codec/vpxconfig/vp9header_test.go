package vpxconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// bitWriter is a minimal MSB-first bit packer used only to build synthetic
// VP9 uncompressed_header() bitstreams for these tests.
type bitWriter struct {
	bytes []byte
	cur   byte
	nbits int
}

func (w *bitWriter) writeBits(value uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		bit := byte((value >> uint(i)) & 1)
		w.cur = w.cur<<1 | bit
		w.nbits++
		if w.nbits == 8 {
			w.bytes = append(w.bytes, w.cur)
			w.cur, w.nbits = 0, 0
		}
	}
}

func (w *bitWriter) writeFlag(v bool) {
	if v {
		w.writeBits(1, 1)
	} else {
		w.writeBits(0, 1)
	}
}

func (w *bitWriter) bytesWithPadding() []byte {
	out := append([]byte{}, w.bytes...)
	if w.nbits > 0 {
		out = append(out, w.cur<<uint(8-w.nbits))
	}
	return out
}

// buildKeyframeHeader writes a minimal VP9 keyframe uncompressed_header(),
// profile 0, no loop-filter deltas, no segmentation, one tile column, and
// returns it followed by trailing garbage standing in for the compressed
// frame payload.
func buildKeyframeHeader(t *testing.T, width, height uint32, partitionSize uint16, trailer []byte) []byte {
	t.Helper()
	var w bitWriter
	w.writeBits(vp9FrameMarker, 2)
	w.writeBits(0, 1) // profile low
	w.writeBits(0, 1) // profile high -> profile 0
	w.writeFlag(false) // show_existing_frame
	w.writeFlag(false) // frame_type: 0 = key frame (isInter=false)
	w.writeFlag(true)  // show_frame
	w.writeFlag(false) // error_resilient_mode

	w.writeBits(vp9SyncCode, 24)
	w.writeBits(1, 3) // color_space, != 7 (SRGB)
	w.writeFlag(false) // color_range

	w.writeBits(uint64(width-1), 16)
	w.writeBits(uint64(height-1), 16)
	w.writeFlag(false) // render_and_frame_size_different

	w.writeFlag(false) // refresh_frame_context
	w.writeFlag(false) // frame_parallel_decoding_mode
	w.writeBits(0, frameContextsLog2) // frame_context_idx

	w.writeBits(0, 9)   // filter_level, sharpness_level
	w.writeFlag(false) // loop_filter_delta_enabled

	w.writeBits(0, qindexBits) // base_q_idx
	w.writeFlag(false)         // delta_coded (y_dc)
	w.writeFlag(false)         // delta_coded (uv_dc)
	w.writeFlag(false)         // delta_coded (uv_ac)

	w.writeFlag(false) // segmentation_enabled

	// tile_info: for a narrow frame minLog2TileCols == maxLog2TileCols == 0,
	// so the increment_tile_cols_log2 loop contributes no bits.
	w.writeFlag(false) // tile_rows_log2 first bit

	w.writeBits(uint64(partitionSize), 16) // header_size_in_bytes

	out := w.bytesWithPadding()
	return append(out, trailer...)
}

func TestVP9HeaderParser_Keyframe(t *testing.T) {
	trailer := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	data := buildKeyframeHeader(t, 64, 48, 5, trailer)

	var p VP9HeaderParser
	info, err := p.ParseFrame(data)
	require.NoError(t, err)
	require.True(t, info.IsKeyframe)
	require.Equal(t, uint32(64), info.Width)
	require.Equal(t, uint32(48), info.Height)
	require.Equal(t, len(data)-len(trailer), info.UncompressedHeaderSize)
}

func TestVP9HeaderParser_RejectsBadFrameMarker(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x00}
	var p VP9HeaderParser
	_, err := p.ParseFrame(data)
	require.Error(t, err)
}

func TestVP9HeaderParser_ShowExistingFrame(t *testing.T) {
	var w bitWriter
	w.writeBits(vp9FrameMarker, 2)
	w.writeBits(0, 1)
	w.writeBits(0, 1)
	w.writeFlag(true) // show_existing_frame
	w.writeBits(5, 3) // frame_to_show_map_idx
	data := w.bytesWithPadding()

	p := VP9HeaderParser{width: 64, height: 48}
	info, err := p.ParseFrame(data)
	require.NoError(t, err)
	require.False(t, info.IsKeyframe)
	require.Equal(t, len(data), info.UncompressedHeaderSize)
	require.Equal(t, uint32(64), info.Width)
	require.Equal(t, uint32(48), info.Height)
}

func TestVP9HeaderParser_InheritsSizeAcrossFrames(t *testing.T) {
	keyframe := buildKeyframeHeader(t, 64, 48, 3, []byte{0x11, 0x22})

	var p VP9HeaderParser
	info, err := p.ParseFrame(keyframe)
	require.NoError(t, err)
	require.Equal(t, uint32(64), info.Width)

	// The parser keeps the last decoded size for later frames.
	require.Equal(t, uint32(64), p.width)
	require.Equal(t, uint32(48), p.height)

	// A later frame with no frame_size of its own (a show_existing_frame)
	// reports the size decoded from the keyframe.
	var w bitWriter
	w.writeBits(vp9FrameMarker, 2)
	w.writeBits(0, 1)
	w.writeBits(0, 1)
	w.writeFlag(true) // show_existing_frame
	w.writeBits(0, 3) // frame_to_show_map_idx
	info2, err := p.ParseFrame(w.bytesWithPadding())
	require.NoError(t, err)
	require.Equal(t, uint32(64), info2.Width)
	require.Equal(t, uint32(48), info2.Height)
}
