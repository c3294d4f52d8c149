package nalu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnnexBFramer_SplitsOnStartCodes(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0xAA, 0xBB, // SPS-shaped NAL (type 7)
		0x00, 0x00, 0x01, 0x68, 0xCC, // PPS-shaped NAL (type 8), 3-byte start code
		0x00, 0x00, 0x01, 0x65, 0xDD, 0xEE, // IDR slice (type 5)
	}
	f := NewAnnexBFramer(CodecH264, data)

	n1, res := f.Advance()
	require.Equal(t, ResultOk, res)
	require.Equal(t, H264SPS, n1.Type)
	require.True(t, n1.IsParameterSet())

	n2, res := f.Advance()
	require.Equal(t, ResultOk, res)
	require.Equal(t, H264PPS, n2.Type)

	n3, res := f.Advance()
	require.Equal(t, ResultOk, res)
	require.Equal(t, H264IDRSlice, n3.Type)
	require.True(t, n3.IsVideoSlice())

	_, res = f.Advance()
	require.Equal(t, ResultEOStream, res)
}

func TestAnnexBFramer_SkipsLeadingGarbage(t *testing.T) {
	data := []byte{
		0x01, 0x00, 0x00, 0x04, 0x23, 0x56, // 6 bytes of garbage, no start code
		0x00, 0x00, 0x01, // 3-byte start code, content at offset 9
		0x67, 0xAA, 0xBB, 0xCC, // SPS-shaped NAL (type 7)
		0x00, 0x00, 0x00, 0x01, // 4-byte start code, content at offset 17
		0x65, 0xDD, 0xEE, // IDR slice (type 5)
	}
	f := NewAnnexBFramer(CodecH264, data)

	n1, res := f.Advance()
	require.Equal(t, ResultOk, res)
	require.Equal(t, H264SPS, n1.Type)
	require.Equal(t, data[9:13], n1.Data)

	n2, res := f.Advance()
	require.Equal(t, ResultOk, res)
	require.Equal(t, H264IDRSlice, n2.Type)
	require.Equal(t, data[17:20], n2.Data)

	_, res = f.Advance()
	require.Equal(t, ResultEOStream, res)
}

func TestAnnexBFramer_RejectsStreamWithNoStartCodeAtAll(t *testing.T) {
	f := NewAnnexBFramer(CodecH264, []byte{0x67, 0xAA, 0xBB})
	_, res := f.Advance()
	require.Equal(t, ResultInvalidStream, res)
}

func TestAnnexBFramer_TreatsUnescapedStartCodeInPayloadAsData(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x01, 0x65, 0xAA, // IDR slice header byte
		0x00, 0x00, 0x01, 0xFF, // un-escaped 00 00 01 inside the slice payload,
		// followed by 0xFF: forbidden_zero_bit set, not a valid NAL header
		0xBB, 0xCC,
		0x00, 0x00, 0x01, 0x68, 0xDD, // the real next NAL, a PPS
	}
	f := NewAnnexBFramer(CodecH264, data)

	n1, res := f.Advance()
	require.Equal(t, ResultOk, res)
	require.Equal(t, H264IDRSlice, n1.Type)
	require.Equal(t, data[3:11], n1.Data)

	n2, res := f.Advance()
	require.Equal(t, ResultOk, res)
	require.Equal(t, H264PPS, n2.Type)

	_, res = f.Advance()
	require.Equal(t, ResultEOStream, res)
}

func TestAnnexBFramer_WithSubsamplesSkipsCipherBytes(t *testing.T) {
	// 6 clear bytes (start code + IDR header + 2 clear payload bytes)
	// followed by 6 ciphertext bytes that happen to contain an un-escaped
	// 00 00 01 immediately followed by a byte that parses as a valid NAL
	// header (0x62, forbidden_zero_bit clear) — exactly the kind of
	// accidental pattern a subsample-aware scan must not mistake for a
	// real start code.
	data := []byte{
		0x00, 0x00, 0x01, 0x65, 0xAA, 0xBB, // 6 clear bytes, start code at 0
		0x00, 0x00, 0x01, 0x62, 0xCC, 0xDD, // 6 cipher bytes
		0x00, 0x00, 0x01, 0x68, 0xEE, // the real next NAL, a PPS
	}

	plain := NewAnnexBFramer(CodecH264, data)
	n1, res := plain.Advance()
	require.Equal(t, ResultOk, res)
	require.Equal(t, H264IDRSlice, n1.Type)
	require.Equal(t, data[3:6], n1.Data)
	// Without subsample awareness the embedded 00 00 01 looks like a
	// genuine start code and its 0x62 like a genuine NAL header.
	n1b, res := plain.Advance()
	require.Equal(t, ResultOk, res)
	require.Equal(t, H264SliceDataPartA, n1b.Type)

	aware := NewAnnexBFramerWithSubsamples(CodecH264, data, []SubsampleRun{
		{ClearBytes: 6, CipherBytes: 6},
	})
	n2, res := aware.Advance()
	require.Equal(t, ResultOk, res)
	require.Equal(t, H264IDRSlice, n2.Type)
	require.Equal(t, data[3:12], n2.Data)

	n3, res := aware.Advance()
	require.Equal(t, ResultOk, res)
	require.Equal(t, H264PPS, n3.Type)
	require.Equal(t, data[15:17], n3.Data)

	_, res = aware.Advance()
	require.Equal(t, ResultEOStream, res)
}

func TestLengthPrefixedFramer_WalksAVCCStyleSample(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x00, 0x02, 0x67, 0xAA, // 4-byte length, SPS
		0x00, 0x00, 0x00, 0x03, 0x65, 0xBB, 0xCC, // 4-byte length, IDR slice
	}
	f, err := NewLengthPrefixedFramer(CodecH264, data, 4)
	require.NoError(t, err)

	n1, res := f.Advance()
	require.Equal(t, ResultOk, res)
	require.Equal(t, H264SPS, n1.Type)
	require.Equal(t, 2, len(n1.Data))

	n2, res := f.Advance()
	require.Equal(t, ResultOk, res)
	require.Equal(t, H264IDRSlice, n2.Type)
	require.Equal(t, 3, len(n2.Data))

	_, res = f.Advance()
	require.Equal(t, ResultEOStream, res)
}

func TestLengthPrefixedFramer_RejectsBadLengthSize(t *testing.T) {
	_, err := NewLengthPrefixedFramer(CodecH264, []byte{0x00}, 3)
	require.Error(t, err)
}

func TestLengthPrefixedFramer_RejectsTruncatedNAL(t *testing.T) {
	f, err := NewLengthPrefixedFramer(CodecH264, []byte{0x00, 0x00, 0x00, 0x10, 0x67}, 4)
	require.NoError(t, err)
	_, res := f.Advance()
	require.Equal(t, ResultInvalidStream, res)
}
