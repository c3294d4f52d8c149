package mpd

import (
	"math"

	"github.com/rs/zerolog/log"
)

// Segment is one media segment descriptor. All times are in the owning
// Representation's timescale.
type Segment struct {
	StartTime      int64
	Duration       int64
	SizeBytes      uint64
	SegmentNumber  uint64
}

// SegmentRun groups consecutive equal-duration segments with a repeat
// count, mirroring original_source/packager/mpd/base/segment_info.h's
// SegmentInfo (start_time, duration, repeat — not inclusive of the first
// occurrence, matching DASH's S@r semantics).
type SegmentRun struct {
	StartTime int64
	Duration  int64
	Repeat    uint64 // number of additional segments beyond the first
}

// EndTime is the time one past the run's last segment.
func (r SegmentRun) EndTime() int64 {
	return r.StartTime + r.Duration*int64(r.Repeat+1)
}

// startTimes returns every segment start time the run covers, in order.
func (r SegmentRun) startTimes() []int64 {
	out := make([]int64, r.Repeat+1)
	for i := range out {
		out[i] = r.StartTime + r.Duration*int64(i)
	}
	return out
}

// segmentApproximationTolerance is the fraction of a frame duration within
// which two segment durations are treated as identical when approximate
// SegmentTimeline is enabled.
const segmentApproximationTolerance = 1.0

// BandwidthEstimator computes average and max per-representation bitrate
// from a sliding window of segment blocks, grounded on
// original_source/packager/mpd/base/bandwidth_estimator.h.
type BandwidthEstimator struct {
	windowSize int

	blocks []bwBlock

	targetBlockDuration float64
	totalSizeInBits     uint64
	totalDuration       float64
	maxBitrate          uint64
}

type bwBlock struct {
	sizeInBits uint64
	duration   float64
}

// NewBandwidthEstimator creates an estimator whose average is taken over
// the most recent windowSize blocks (or all blocks if windowSize <= 0).
func NewBandwidthEstimator(windowSize int) *BandwidthEstimator {
	return &BandwidthEstimator{windowSize: windowSize}
}

// AddBlock records one segment's (size, duration) sample.
func (b *BandwidthEstimator) AddBlock(sizeInBytes uint64, duration float64) {
	if duration <= 0 {
		log.Warn().Float64("duration", duration).Msg("mpd: ignoring non-positive block duration in bandwidth estimator")
		return
	}
	sizeInBits := sizeInBytes * 8
	b.totalSizeInBits += sizeInBits
	b.totalDuration += duration

	b.blocks = append(b.blocks, bwBlock{sizeInBits: sizeInBits, duration: duration})
	if b.windowSize > 0 && len(b.blocks) > b.windowSize {
		b.blocks = b.blocks[len(b.blocks)-b.windowSize:]
	}

	// The target block duration is fixed from the first windowSize blocks'
	// average, so later short/long segments don't keep perturbing which
	// blocks count as "too short" for Max().
	if b.targetBlockDuration == 0 {
		n := len(b.blocks)
		if b.windowSize <= 0 || n >= b.windowSize {
			var sum float64
			for _, blk := range b.blocks {
				sum += blk.duration
			}
			b.targetBlockDuration = sum / float64(n)
		}
	}

	bitrate := b.blockBitrate(bwBlock{sizeInBits: sizeInBits, duration: duration})
	if bitrate > b.maxBitrate {
		b.maxBitrate = bitrate
	}
}

// blockBitrate returns 0 for blocks whose duration is below 50% of the
// target block duration, per bandwidth_estimator.h's GetBitrate.
func (b *BandwidthEstimator) blockBitrate(blk bwBlock) uint64 {
	if b.targetBlockDuration > 0 && blk.duration < 0.5*b.targetBlockDuration {
		return 0
	}
	return uint64(math.Ceil(float64(blk.sizeInBits) / blk.duration))
}

// Estimate returns the harmonic-mean average bitrate, in bits per second,
// over the current window.
func (b *BandwidthEstimator) Estimate() uint64 {
	if b.totalDuration == 0 {
		return 0
	}
	if b.windowSize <= 0 || len(b.blocks) == 0 {
		return uint64(math.Ceil(float64(b.totalSizeInBits) / b.totalDuration))
	}
	var sizeInBits uint64
	var duration float64
	for _, blk := range b.blocks {
		sizeInBits += blk.sizeInBits
		duration += blk.duration
	}
	if duration == 0 {
		return 0
	}
	return uint64(math.Ceil(float64(sizeInBits) / duration))
}

// Max returns the maximum observed bitrate, excluding blocks shorter than
// 50% of the target block duration.
func (b *BandwidthEstimator) Max() uint64 {
	return b.maxBitrate
}
