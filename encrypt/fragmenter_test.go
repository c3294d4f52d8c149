package encrypt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fragmenterBitWriter is a minimal MSB-first bit packer used only to build
// a synthetic VP9 keyframe uncompressed_header() for this test; mirrors
// codec/vpxconfig's own test helper since these constants aren't exported.
type fragmenterBitWriter struct {
	bytes []byte
	cur   byte
	nbits int
}

func (w *fragmenterBitWriter) writeBits(value uint64, n int) {
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

func (w *fragmenterBitWriter) writeFlag(v bool) {
	if v {
		w.writeBits(1, 1)
	} else {
		w.writeBits(0, 1)
	}
}

// buildKeyframeHeaderForFragmenterTest writes a minimal VP9 keyframe
// uncompressed_header(), profile 0, no loop-filter deltas, no
// segmentation, one tile column, followed by trailer standing in for the
// frame's compressed payload.
func buildKeyframeHeaderForFragmenterTest(t *testing.T, width, height uint32, partitionSize uint16, trailer []byte) []byte {
	t.Helper()
	var w fragmenterBitWriter
	w.writeBits(2, 2)          // frame_marker
	w.writeBits(0, 1)          // profile low
	w.writeBits(0, 1)          // profile high -> profile 0
	w.writeFlag(false)         // show_existing_frame
	w.writeFlag(false)         // frame_type: key frame
	w.writeFlag(true)          // show_frame
	w.writeFlag(false)         // error_resilient_mode
	w.writeBits(0x498342, 24)  // frame_sync_code
	w.writeBits(1, 3)          // color_space, != 7 (SRGB)
	w.writeFlag(false)         // color_range
	w.writeBits(uint64(width-1), 16)
	w.writeBits(uint64(height-1), 16)
	w.writeFlag(false) // render_and_frame_size_different
	w.writeFlag(false) // refresh_frame_context
	w.writeFlag(false) // frame_parallel_decoding_mode
	w.writeBits(0, 2)   // frame_context_idx
	w.writeBits(0, 9)   // filter_level, sharpness_level
	w.writeFlag(false)  // loop_filter_delta_enabled
	w.writeBits(0, 8)   // base_q_idx
	w.writeFlag(false)  // delta_coded (y_dc)
	w.writeFlag(false)  // delta_coded (uv_dc)
	w.writeFlag(false)  // delta_coded (uv_ac)
	w.writeFlag(false)  // segmentation_enabled
	w.writeFlag(false)  // tile_rows_log2 first bit
	w.writeBits(uint64(partitionSize), 16) // header_size_in_bytes

	out := append([]byte{}, w.bytes...)
	if w.nbits > 0 {
		out = append(out, w.cur<<uint(8-w.nbits))
	}
	return append(out, trailer...)
}

func testKey() *EncryptionKey {
	return &EncryptionKey{
		KeyID: make([]byte, 16),
		Key:   []byte("0123456789abcdef"),
		IV:    []byte("abcdefgh"),
	}
}

func TestFragmenter_ClearLeadHoldsSampleUnencrypted(t *testing.T) {
	f := NewFragmenter(CodecUnknown, 0, testKey(), 30)

	sample := []byte{1, 2, 3, 4, 5}
	out, err := f.EncryptSample(sample, 10)
	require.NoError(t, err)
	require.True(t, out.ClearLead)
	require.Equal(t, sample, out.Data)
	require.Nil(t, out.Aux)
}

func TestFragmenter_UnknownCodecEncryptsWholeSample(t *testing.T) {
	f := NewFragmenter(CodecVP8, 0, testKey(), 0)

	sample := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17}
	out, err := f.EncryptSample(sample, 10)
	require.NoError(t, err)
	require.False(t, out.ClearLead)
	require.NotEqual(t, sample, out.Data)
	require.Len(t, out.Data, len(sample))
	// VP8 has no subsample plan of its own: the whole sample is the
	// single cipher range, signaled by an empty subsample map.
	require.Empty(t, out.Aux.Subsamples)
}

func TestFragmenter_VP9SplitsHeaderFromPayload(t *testing.T) {
	trailer := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x01, 0x02, 0x03, 0x04,
		0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}
	frame := buildKeyframeHeaderForFragmenterTest(t, 64, 48, 3, trailer)

	f := NewFragmenter(CodecVP9, 0, testKey(), 0)
	out, err := f.EncryptSample(frame, 10)
	require.NoError(t, err)
	require.False(t, out.ClearLead)
	require.Len(t, out.Data, len(frame))
	require.Len(t, out.Aux.Subsamples, 1)
	// The clear run covers exactly the 14-byte uncompressed header; the
	// 16-byte trailer is already 16-byte aligned so none of it spills
	// into the clear run.
	require.Equal(t, uint16(14), out.Aux.Subsamples[0].ClearBytes)
	require.Equal(t, uint32(16), out.Aux.Subsamples[0].CipherBytes)
}
