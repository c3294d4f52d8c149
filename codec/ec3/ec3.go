// Package ec3 parses the Enhanced AC-3 (E-AC-3 / Dolby Digital Plus)
// "dec3" box payload to recover its per-substream channel map, per ETSI TS
// 102 366 Annex E. No example in the retrieval pack carries EC-3 support;
// this is grounded on original_source/packager/media/codecs/ec3_audio_util.h
// and .cc for the bit layout.
package ec3

import (
	"github.com/bugVanisher/dashpkg/codec/bits"
	"github.com/bugVanisher/dashpkg/common/errs"
)

// acmod channel counts, Annex E.1.3.1.8's Table - acmod to channel count
// (excluding LFE), used to derive the total channel count for a substream.
var acmodChannels = [8]int{2, 1, 2, 3, 3, 4, 4, 5}

// Substream is one independent or dependent substream's channel
// configuration.
type Substream struct {
	FSCOD     uint8
	BSID      uint8
	BSMOD     uint8
	ACMOD     uint8
	LFEON     bool
	NumDepSub uint8
	ChanLoc   uint16 // only present when NumDepSub > 0
}

// Dec3 is the parsed dec3 box payload.
type Dec3 struct {
	DataRate      uint16
	NumIndSub     uint8
	Substreams    []Substream
}

// Parse decodes a dec3 box payload.
func Parse(data []byte) (*Dec3, error) {
	r := bits.NewReader(data)
	dataRate, err := r.ReadBits(13)
	if err != nil {
		return nil, errs.Wrapf(err, "dec3: data_rate")
	}
	numIndSub, err := r.ReadBits(3)
	if err != nil {
		return nil, errs.Wrapf(err, "dec3: num_ind_sub")
	}
	d := &Dec3{DataRate: uint16(dataRate), NumIndSub: uint8(numIndSub) + 1}
	for i := uint64(0); i < d.NumIndSub; i++ {
		var s Substream
		fscod, err := r.ReadBits(2)
		if err != nil {
			return nil, errs.Wrapf(err, "dec3: fscod")
		}
		s.FSCOD = uint8(fscod)
		bsid, err := r.ReadBits(5)
		if err != nil {
			return nil, errs.Wrapf(err, "dec3: bsid")
		}
		s.BSID = uint8(bsid)
		if err := r.SkipBits(1); err != nil { // reserved
			return nil, err
		}
		asvc, err := r.ReadBits(1)
		if err != nil {
			return nil, err
		}
		bsmod, err := r.ReadBits(3)
		if err != nil {
			return nil, errs.Wrapf(err, "dec3: bsmod")
		}
		s.BSMOD = uint8(bsmod)
		acmod, err := r.ReadBits(3)
		if err != nil {
			return nil, errs.Wrapf(err, "dec3: acmod")
		}
		s.ACMOD = uint8(acmod)
		lfeon, err := r.ReadBits(1)
		if err != nil {
			return nil, errs.Wrapf(err, "dec3: lfeon")
		}
		s.LFEON = lfeon != 0
		if err := r.SkipBits(3); err != nil { // reserved
			return nil, err
		}
		numDepSub, err := r.ReadBits(4)
		if err != nil {
			return nil, errs.Wrapf(err, "dec3: num_dep_sub")
		}
		s.NumDepSub = uint8(numDepSub)
		if s.NumDepSub > 0 {
			chanLoc, err := r.ReadBits(9)
			if err != nil {
				return nil, errs.Wrapf(err, "dec3: chan_loc")
			}
			s.ChanLoc = uint16(chanLoc)
		} else {
			if err := r.SkipBits(1); err != nil { // reserved
				return nil, err
			}
		}
		_ = asvc
		d.Substreams = append(d.Substreams, s)
	}
	return d, nil
}

// ChannelCount returns the total channel count (including LFE and any
// dependent-substream channels) across all substreams.
func (d *Dec3) ChannelCount() int {
	total := 0
	for _, s := range d.Substreams {
		total += acmodChannels[s.ACMOD]
		if s.LFEON {
			total++
		}
		for loc := s.ChanLoc; loc != 0; loc &= loc - 1 {
			total++
		}
	}
	return total
}
