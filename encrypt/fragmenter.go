package encrypt

import (
	"github.com/bugVanisher/dashpkg/codec/h264"
	"github.com/bugVanisher/dashpkg/codec/h265"
	"github.com/bugVanisher/dashpkg/codec/nalu"
	"github.com/bugVanisher/dashpkg/codec/vpxconfig"
	"github.com/bugVanisher/dashpkg/common/errs"
)

// SampleCodec selects how a Fragmenter finds the clear/cipher byte ranges
// inside one sample.
type SampleCodec int

const (
	CodecUnknown SampleCodec = iota
	CodecH264
	CodecH265
	CodecVP8
	CodecVP9
)

// Fragmenter turns one track's plain samples into CENC-encrypted samples
// plus the per-sample auxiliary data (IV, subsample map) a fragment writer
// attaches alongside them, choosing a subsample plan by codec and holding
// clear lead until enough stream time has elapsed.
//
// Grounded on
// original_source/packager/media/formats/mp4/encrypting_fragmenter.cc's
// EncryptingFragmenter::EncryptSample, generalized from its single H.264
// SliceHeaderParser special case to H.264, H.265, VP8, and VP9 alike using
// codec/h264, codec/h265, and codec/vpxconfig.
type Fragmenter struct {
	codec         SampleCodec
	nalLengthSize int

	key   *EncryptionKey
	ivGen *IVGenerator

	h264Parser *h264.Parser
	h265Parser *h265.Parser
	vp9Headers *vpxconfig.VP9HeaderParser

	// clearLeadRemaining counts down in the sample's own duration units;
	// once it reaches zero or below, every subsequent sample is encrypted.
	clearLeadRemaining int64
}

// NewFragmenter constructs a Fragmenter for one track. nalLengthSize is the
// AVCC/HVCC length-prefix width and is ignored for VP8/VP9. clearLeadTime
// is the stream-time duration (in the sample duration's own units) left
// unencrypted at the start of the track, the CENC "clear lead" period.
func NewFragmenter(codec SampleCodec, nalLengthSize int, key *EncryptionKey, clearLeadTime int64) *Fragmenter {
	f := &Fragmenter{
		codec:              codec,
		nalLengthSize:      nalLengthSize,
		key:                key,
		ivGen:              NewIVGenerator(key.IV),
		clearLeadRemaining: clearLeadTime,
	}
	switch codec {
	case CodecH264:
		f.h264Parser = h264.NewParser()
	case CodecH265:
		f.h265Parser = h265.NewParser()
	case CodecVP9:
		f.vp9Headers = &vpxconfig.VP9HeaderParser{}
	}
	return f
}

// EncryptedSample is one sample's encryption outcome.
type EncryptedSample struct {
	Data  []byte
	Aux   *SampleEncryptionInfo // nil if ClearLead is true
	ClearLead bool
	// No stsd sample description index is carried here: the caller tags a
	// ClearLead sample with ClearLeadSampleDescriptionIndex() and any other
	// sample with the encrypted track's own index.
}

// EncryptSample encrypts one sample. While clear lead remains, the sample
// is returned unencrypted and the clear-lead countdown is reduced by
// sampleDuration.
func (f *Fragmenter) EncryptSample(sample []byte, sampleDuration int64) (*EncryptedSample, error) {
	if f.clearLeadRemaining > 0 {
		f.clearLeadRemaining -= sampleDuration
		return &EncryptedSample{Data: sample, ClearLead: true}, nil
	}

	subsamples, err := f.planSubsamples(sample)
	if err != nil {
		return nil, err
	}
	iv := f.ivGen.Next()
	out, err := EncryptSample(f.key.Key, iv, sample, subsamples)
	if err != nil {
		return nil, err
	}
	return &EncryptedSample{
		Data: out,
		Aux:  &SampleEncryptionInfo{IV: iv, Subsamples: subsamples},
	}, nil
}

// planSubsamples builds the CENC subsample map for one sample, or returns
// nil to signal whole-sample encryption (VP8 and any codec this Fragmenter
// was not built to parse).
func (f *Fragmenter) planSubsamples(sample []byte) ([]SubsampleEntry, error) {
	switch f.codec {
	case CodecH264:
		return f.planNalSubsamples(sample, nalu.CodecH264)
	case CodecH265:
		return f.planNalSubsamples(sample, nalu.CodecH265)
	case CodecVP9:
		return f.planVP9Subsamples(sample)
	default:
		return nil, nil
	}
}

func (f *Fragmenter) planNalSubsamples(sample []byte, codec nalu.CodecType) ([]SubsampleEntry, error) {
	framer, err := nalu.NewLengthPrefixedFramer(codec, sample, f.nalLengthSize)
	if err != nil {
		return nil, err
	}
	var ranges []NalClearRange
	for {
		n, res := framer.Advance()
		if res == nalu.ResultEOStream {
			break
		}
		if res != nalu.ResultOk {
			return nil, errs.ErrInvalidStream
		}
		if n.IsParameterSet() {
			f.feedParameterSet(n)
		}
		if !n.IsVideoSlice() {
			ranges = append(ranges, NalClearRange{NALUnit: n.Data, AllClear: true})
			continue
		}
		headerBits, err := f.sliceHeaderBits(n)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, NalClearRange{
			NALUnit:         n.Data,
			HeaderSizeBytes: n.HeaderSize,
			HeaderBits:      headerBits,
		})
	}
	return PlanNalSubsamples(f.nalLengthSize, ranges)
}

func (f *Fragmenter) feedParameterSet(n nalu.Nalu) {
	switch f.codec {
	case CodecH264:
		switch n.Type {
		case nalu.H264SPS:
			_, _ = f.h264Parser.ParseSPS(n)
		case nalu.H264PPS:
			_, _ = f.h264Parser.ParsePPS(n)
		}
	case CodecH265:
		switch n.Type {
		case nalu.H265SPS:
			_, _ = f.h265Parser.ParseSPS(n)
		case nalu.H265PPS:
			_, _ = f.h265Parser.ParsePPS(n)
		}
	}
}

// sliceHeaderBits returns the slice header's bit size for a video-slice NAL
// unit, 0 if this Fragmenter's codec has no slice header parser (H.265 has
// none here — the whole slice payload past the NAL header is encrypted in
// that case).
func (f *Fragmenter) sliceHeaderBits(n nalu.Nalu) (int, error) {
	if f.codec != CodecH264 {
		return 0, nil
	}
	sh, err := f.h264Parser.ParseSliceHeader(n)
	if err != nil {
		// A slice referencing a PPS/SPS this Fragmenter has not seen yet
		// (e.g. out-of-band parameter sets) falls back to encrypting the
		// whole NAL unit past its header rather than failing the sample
		// outright.
		return 0, nil
	}
	return sh.HeaderBitSize, nil
}

func (f *Fragmenter) planVP9Subsamples(sample []byte) ([]SubsampleEntry, error) {
	frames, err := vpxconfig.SplitSuperframe(sample)
	if err != nil {
		return nil, err
	}
	headerSizes := make([]int, len(frames))
	for i, frame := range frames {
		info, err := f.vp9Headers.ParseFrame(frame)
		if err != nil {
			return nil, err
		}
		headerSizes[i] = info.UncompressedHeaderSize
	}
	return VP9SubsampleEntries(frames, headerSizes)
}
