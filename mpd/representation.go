package mpd

import (
	"math"
	"sync"

	"github.com/rs/zerolog/log"
)

// SuppressFlag marks an attribute to omit on the next XML emission, per
// original_source/packager/mpd/base/representation.h's SuppressFlag enum.
type SuppressFlag int

const (
	SuppressWidth SuppressFlag = 1 << iota
	SuppressHeight
	SuppressFrameRate
)

// stateChangeListener is the AdaptationSet-side hook a Representation
// notifies of new segments / frame-rate changes, so the owning
// AdaptationSet can promote frameRate and recompute alignment
// without the Representation knowing about its parent.
type stateChangeListener interface {
	onNewSegment(repID uint32, startTime, duration int64)
	onSetFrameRate(repID uint32, frameDuration, timescale uint32)
}

// Representation is one encoding of a stream within an AdaptationSet,
// grounded on original_source/packager/mpd/base/representation.h.
type Representation struct {
	mu sync.Mutex

	id       uint32
	mediaInfo MediaInfo
	options  *Options
	listener stateChangeListener

	contentProtection []ContentProtectionElement

	segmentRuns  []SegmentRun
	startNumber  uint64
	bandwidth    *BandwidthEstimator

	suppressFlags SuppressFlag

	frameDuration uint32
	timescale     uint32

	presentationTimeOffset float64
}

// NewRepresentation constructs a Representation for mediaInfo, owned by
// the given options and identified by id within its document.
func NewRepresentation(id uint32, mediaInfo MediaInfo, options *Options, listener stateChangeListener) *Representation {
	return &Representation{
		id:          id,
		mediaInfo:   mediaInfo,
		options:     options,
		listener:    listener,
		startNumber: 1,
		bandwidth:   NewBandwidthEstimator(options.bandwidthBlocks()),
	}
}

// ID returns the Representation's document-unique numeric id.
func (r *Representation) ID() uint32 { return r.id }

// MediaInfo returns the Representation's media descriptor.
func (r *Representation) MediaInfo() MediaInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mediaInfo
}

// AddContentProtectionElement attaches a ContentProtection element to this
// Representation (as opposed to its AdaptationSet).
func (r *Representation) AddContentProtectionElement(elem ContentProtectionElement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contentProtection = append(r.contentProtection, elem)
}

// UpdateContentProtectionPssh removes the pssh child of the
// ContentProtection element for drmUUID, supporting key rotation; matching
// representation.h's documented shaka-player-compatibility quirk, it
// deletes rather than updates, so the pssh argument is not written.
func (r *Representation) UpdateContentProtectionPssh(drmUUID string, pssh []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.contentProtection {
		cp := &r.contentProtection[i]
		if cp.SchemeIDURI != "urn:uuid:"+drmUUID {
			continue
		}
		filtered := cp.Subelements[:0]
		for _, sub := range cp.Subelements {
			if sub.Name != "cenc:pssh" {
				filtered = append(filtered, sub)
			}
		}
		cp.Subelements = filtered
		return
	}
}

// SuppressOnce marks flag to be omitted on the Representation's next XML
// emission only.
func (r *Representation) SuppressOnce(flag SuppressFlag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppressFlags |= flag
}

func (r *Representation) takeSuppressFlags() SuppressFlag {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.suppressFlags
	r.suppressFlags = 0
	return f
}

// SetPresentationTimeOffset sets @presentationTimeOffset for SegmentBase /
// SegmentTemplate.
func (r *Representation) SetPresentationTimeOffset(pto float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presentationTimeOffset = pto
}

// SetSampleDuration records the sample duration once it becomes known
// (live streams may not know it at Representation construction time) and
// notifies the owning AdaptationSet so @frameRate can be promoted.
func (r *Representation) SetSampleDuration(frameDuration, timescale uint32) {
	r.mu.Lock()
	r.frameDuration = frameDuration
	r.timescale = timescale
	listener := r.listener
	r.mu.Unlock()
	if listener != nil {
		listener.onSetFrameRate(r.id, frameDuration, timescale)
	}
}

// approximatelyEqual reports whether two durations should be treated as
// the same run, applying the one-frame-duration tolerance when
// UseApproximateSegmentTimeline is enabled.
func (r *Representation) approximatelyEqual(a, b int64) bool {
	if a == b {
		return true
	}
	if !r.options.UseApproximateSegmentTimeline || r.frameDuration == 0 {
		return false
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < int64(r.frameDuration)
}

// AddNewSegment appends or extends the trailing SegmentRun: extension is
// only permitted when duration matches the run's duration and start_time
// continues the run exactly (within the approximation tolerance). An
// out-of-order or overlapping addition is ignored and logged rather than
// applied, preserving segment ordering.
func (r *Representation) AddNewSegment(startTime, duration int64, sizeBytes uint64, segmentNumber int64) {
	r.mu.Lock()

	if n := len(r.segmentRuns); n > 0 {
		last := &r.segmentRuns[n-1]
		expected := last.StartTime + last.Duration*int64(last.Repeat+1)
		if startTime < expected && !r.approximatelyEqual(startTime, expected) {
			r.mu.Unlock()
			log.Warn().
				Int64("start_time", startTime).
				Int64("expected", expected).
				Msg("mpd: ignoring out-of-order or overlapping segment")
			return
		}
		if r.approximatelyEqual(duration, last.Duration) && r.approximatelyEqual(startTime, expected) {
			last.Repeat++
			r.mu.Unlock()
			if r.listener != nil {
				r.listener.onNewSegment(r.id, startTime, duration)
			}
			r.addBandwidthBlock(sizeBytes, duration)
			return
		}
	}
	r.segmentRuns = append(r.segmentRuns, SegmentRun{StartTime: startTime, Duration: duration})
	listener := r.listener
	r.mu.Unlock()

	if listener != nil {
		listener.onNewSegment(r.id, startTime, duration)
	}
	r.addBandwidthBlock(sizeBytes, duration)
}

func (r *Representation) addBandwidthBlock(sizeBytes uint64, duration int64) {
	ts := r.mediaInfo.ReferenceTimeScale
	if ts == 0 {
		ts = 1
	}
	r.mu.Lock()
	r.bandwidth.AddBlock(sizeBytes, float64(duration)/float64(ts))
	r.mu.Unlock()
}

// Bandwidth returns the estimated bandwidth in bits per second: the
// explicit MediaInfo.Bandwidth if set, otherwise the estimator's average.
func (r *Representation) Bandwidth() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mediaInfo.Bandwidth > 0 {
		return r.mediaInfo.Bandwidth
	}
	return r.bandwidth.Estimate()
}

// segmentStartTimes returns the ordered list of every segment start time
// added so far, for alignment detection.
func (r *Representation) segmentStartTimes() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, run := range r.segmentRuns {
		out = append(out, run.startTimes()...)
	}
	return out
}

// SlideWindow discards runs whose entire span falls outside
// TimeShiftBufferDepth (measured back from the most recent segment, which
// is never counted against the window) and advances startNumber by the
// count of segments removed.
func (r *Representation) SlideWindow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.options.Type != TypeDynamic || r.options.TimeShiftBufferDepth <= 0 || len(r.segmentRuns) == 0 {
		return
	}
	ts := r.mediaInfo.ReferenceTimeScale
	if ts == 0 {
		ts = 1
	}
	windowTicks := int64(math.Ceil(r.options.TimeShiftBufferDepth * float64(ts)))

	last := r.segmentRuns[len(r.segmentRuns)-1]
	newestStart := last.StartTime + last.Duration*int64(last.Repeat)
	cutoff := newestStart - windowTicks

	removed := uint64(0)
	for len(r.segmentRuns) > 0 {
		run := &r.segmentRuns[0]
		if run.EndTime() > cutoff {
			break
		}
		removed += run.Repeat + 1
		r.segmentRuns = r.segmentRuns[1:]
	}
	// Split the oldest retained run so nothing before cutoff is left in it.
	if len(r.segmentRuns) > 0 {
		run := &r.segmentRuns[0]
		for run.Repeat > 0 && run.StartTime+run.Duration <= cutoff {
			run.StartTime += run.Duration
			run.Repeat--
			removed++
		}
	}
	r.startNumber += removed
}
