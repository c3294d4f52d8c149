// Package encrypt plans and applies Common Encryption (CENC) subsample
// maps and performs the AES-CTR transform, grounded on
// original_source/packager/media/base/encrypting_fragmenter.cc for the
// subsample-planning rules and on crypto/aes + crypto/cipher for the
// cipher itself (no encryption primitive library appears anywhere in the
// retrieval pack, so the standard library is used directly here, per
// DESIGN.md).
package encrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"github.com/bugVanisher/dashpkg/common/errs"
)

// EncryptionKey is the per-track key material a KeySource hands back.
type EncryptionKey struct {
	KeyID []byte // 16 bytes
	Key   []byte // 16 bytes, AES-128
	IV    []byte // 8 or 16 bytes, the per-sample IV seed
}

// KeySource is the decryption/encryption key collaborator the packager
// treats as external: where keys come from (a key server, a static config
// file) is out of this core's scope, per its interface contract.
type KeySource interface {
	GetKey(trackType string) (*EncryptionKey, error)
}

// SubsampleEntry is one (clear_bytes, cipher_bytes) pair of a CENC
// subsample map.
type SubsampleEntry struct {
	ClearBytes  uint16
	CipherBytes uint32
}

// SampleEncryptionInfo is the per-sample auxiliary data a fragmenter
// attaches alongside the encrypted sample: the IV used and the subsample
// map describing which byte ranges were left in the clear.
type SampleEncryptionInfo struct {
	IV         []byte
	Subsamples []SubsampleEntry
}

// IVGenerator hands out monotonically incrementing 8-byte IVs seeded from
// a random starting value, the way a fragmenter rotates IVs per sample
// without ever repeating one for a given key.
type IVGenerator struct {
	next uint64
}

// NewIVGenerator seeds a generator from an 8-byte starting IV.
func NewIVGenerator(seed []byte) *IVGenerator {
	g := &IVGenerator{}
	if len(seed) >= 8 {
		g.next = binary.BigEndian.Uint64(seed[:8])
	}
	return g
}

// Next returns the next 8-byte IV and advances the counter.
func (g *IVGenerator) Next() []byte {
	iv := make([]byte, 8)
	binary.BigEndian.PutUint64(iv, g.next)
	g.next++
	return iv
}

// clearLeadSampleDescriptionIndex is the sample description index CENC
// assigns to unencrypted lead samples ahead of the first key rotation.
const clearLeadSampleDescriptionIndex = 2

const maxClearBytes = 0xFFFF

// NalClearRange describes how much of one length-prefixed NAL unit stays
// clear: its header is always clear, and for a VCL NAL unit HeaderBits is
// the bit size of its slice header (codec/h264.SliceHeader.HeaderBitSize;
// H.265 slice headers are not parsed, so for H.265 it is 0); a non-VCL NAL
// unit (SPS/PPS/SEI/AUD) stays entirely clear, signaled by AllClear.
type NalClearRange struct {
	NALUnit        []byte
	HeaderSizeBytes int
	HeaderBits      int
	AllClear        bool
}

// PlanNalSubsamples builds the CENC subsample map for one AVC/HEVC sample
// made of length-prefixed NAL units: each NAL unit's length prefix,
// header, and (for VCL NAL units) slice header bytes stay clear, and the
// rest of its slice data is encrypted. A whole-clear non-VCL NAL unit (SPS,
// PPS, SEI, AUD) has no cipher range of its own, so it doesn't get its own
// subsample entry; its bytes fold into the clear prefix of the next VCL
// NAL unit's entry instead. Unlike VP9 superframes, AVC/HEVC cipher
// ranges are not block-aligned: CENC 'cenc' scheme subsample boundaries
// may fall mid-block.
func PlanNalSubsamples(lengthSize int, nalUnits []NalClearRange) ([]SubsampleEntry, error) {
	var subsamples []SubsampleEntry
	pendingClear := 0
	for _, n := range nalUnits {
		if n.AllClear {
			pendingClear += lengthSize + len(n.NALUnit)
			continue
		}
		clearPayloadBytes := (n.HeaderBits + 7) / 8
		cipherStart := n.HeaderSizeBytes + clearPayloadBytes
		if cipherStart > len(n.NALUnit) {
			return nil, errs.ErrInvalidStream
		}
		clearTotal := pendingClear + lengthSize + cipherStart
		cipherTotal := len(n.NALUnit) - cipherStart
		pendingClear = 0

		for clearTotal > maxClearBytes {
			subsamples = append(subsamples, SubsampleEntry{ClearBytes: maxClearBytes, CipherBytes: 0})
			clearTotal -= maxClearBytes
		}
		subsamples = append(subsamples, SubsampleEntry{ClearBytes: uint16(clearTotal), CipherBytes: uint32(cipherTotal)})
	}
	if pendingClear > 0 {
		for pendingClear > maxClearBytes {
			subsamples = append(subsamples, SubsampleEntry{ClearBytes: maxClearBytes, CipherBytes: 0})
			pendingClear -= maxClearBytes
		}
		subsamples = append(subsamples, SubsampleEntry{ClearBytes: uint16(pendingClear), CipherBytes: 0})
	}
	return subsamples, nil
}

// EncryptSample runs AES-CTR over sample using the given key/IV and
// subsample map, leaving clear_bytes of each subsample untouched. A
// nil/empty subsample list means the whole sample is encrypted (the
// unknown-codec fallback).
func EncryptSample(key, iv []byte, sample []byte, subsamples []SubsampleEntry) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrapf(err, "encrypt: new cipher")
	}
	fullIV := make([]byte, aes.BlockSize)
	copy(fullIV, iv)
	stream := cipher.NewCTR(block, fullIV)

	out := make([]byte, len(sample))
	if len(subsamples) == 0 {
		stream.XORKeyStream(out, sample)
		return out, nil
	}
	offset := 0
	for _, ss := range subsamples {
		clearEnd := offset + int(ss.ClearBytes)
		if clearEnd > len(sample) {
			return nil, errs.ErrInvalidStream
		}
		copy(out[offset:clearEnd], sample[offset:clearEnd])
		cipherEnd := clearEnd + int(ss.CipherBytes)
		if cipherEnd > len(sample) {
			return nil, errs.ErrInvalidStream
		}
		stream.XORKeyStream(out[clearEnd:cipherEnd], sample[clearEnd:cipherEnd])
		offset = cipherEnd
	}
	if offset < len(sample) {
		copy(out[offset:], sample[offset:])
	}
	return out, nil
}

// VP9SubsampleEntries builds the subsample map for a VP9 sample: each
// constituent frame's uncompressed header stays clear and its compressed
// payload is encrypted. When frames holds more than one frame (a
// superframe), each frame's cipher range is trimmed down to a multiple of
// 16 bytes so no AES-CTR block spans two of the superframe's constituent
// frames; a single-frame sample is left unaligned.
func VP9SubsampleEntries(frames [][]byte, uncompressedHeaderSizes []int) ([]SubsampleEntry, error) {
	if len(frames) != len(uncompressedHeaderSizes) {
		return nil, errs.ErrInvalidStream
	}
	superframe := len(frames) > 1
	var subsamples []SubsampleEntry
	for i, f := range frames {
		clear := uncompressedHeaderSizes[i]
		cipherLen := len(f) - clear
		aligned := cipherLen
		if superframe {
			aligned = cipherLen - (cipherLen % 16)
		}
		clearTotal := clear + (cipherLen - aligned)
		subsamples = append(subsamples, SubsampleEntry{ClearBytes: uint16(clearTotal), CipherBytes: uint32(aligned)})
	}
	return subsamples, nil
}

// ClearLeadSampleDescriptionIndex returns the sample description index an
// unencrypted lead sample (before the first key becomes available) should
// be tagged with.
func ClearLeadSampleDescriptionIndex() int {
	return clearLeadSampleDescriptionIndex
}
