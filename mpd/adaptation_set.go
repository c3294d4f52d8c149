package mpd

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Role corresponds to the DASH Role element's value attribute
// (schemeIdUri="urn:mpeg:dash:role:2011"), per ISO/IEC 23009-1:2012 §5.8.5.5.
type Role int

const (
	RoleUnknown Role = iota
	RoleCaption
	RoleSubtitle
	RoleMain
	RoleAlternate
	RoleSupplementary
	RoleCommentary
	RoleDub
	RoleDescription
)

func (r Role) String() string {
	switch r {
	case RoleCaption:
		return "caption"
	case RoleSubtitle:
		return "subtitle"
	case RoleMain:
		return "main"
	case RoleAlternate:
		return "alternate"
	case RoleSupplementary:
		return "supplementary"
	case RoleCommentary:
		return "commentary"
	case RoleDub:
		return "dub"
	case RoleDescription:
		return "description"
	default:
		return ""
	}
}

type accessibility struct {
	scheme string
	value  string
}

// segmentAlignmentStatus mirrors adaptation_set.h's SegmentAligmentStatus:
// alignment starts Unknown, and once any divergence is observed it is
// permanently False (never reconsidered).
type segmentAlignmentStatus int

const (
	alignmentUnknown segmentAlignmentStatus = iota
	alignmentTrue
	alignmentFalse
)

// AdaptationSet groups Representations sharing content type, codec family,
// language, container and protection fingerprint, grounded on
// original_source/packager/mpd/base/adaptation_set.h.
type AdaptationSet struct {
	mu sync.Mutex

	id       uint32
	language string
	options  *Options

	representations []*Representation
	nextRepID       *uint32

	contentProtection []ContentProtectionElement

	videoWidths  map[uint32]struct{}
	videoHeights map[uint32]struct{}
	frameRates   map[float64]string

	contentType string
	codec       string

	pictureAspectRatios map[string]struct{}

	accessibilities []accessibility
	roles           map[Role]struct{}

	segmentsAligned       segmentAlignmentStatus
	forceSegmentAlignment bool
	forcedAlignmentValue  bool

	repTimeline map[uint32][]int64 // only retained for static MPDs; cleared incrementally for dynamic

	switchableSets []uint32 // ids of AdaptationSets this one can switch to
	trickPlayRefs  []uint32 // ids of AdaptationSets this trick-play set belongs to

	label string
}

// NewAdaptationSet constructs an empty AdaptationSet. nextRepID is a
// shared counter (owned by the Period) used to assign unique Representation
// ids across the whole document.
func NewAdaptationSet(id uint32, language string, options *Options, nextRepID *uint32) *AdaptationSet {
	return &AdaptationSet{
		id:                  id,
		language:            language,
		options:             options,
		nextRepID:           nextRepID,
		videoWidths:         make(map[uint32]struct{}),
		videoHeights:        make(map[uint32]struct{}),
		frameRates:          make(map[float64]string),
		pictureAspectRatios: make(map[string]struct{}),
		roles:               make(map[Role]struct{}),
		repTimeline:         make(map[uint32][]int64),
	}
}

// ID returns the AdaptationSet's document-unique numeric id.
func (a *AdaptationSet) ID() uint32 { return a.id }

// IsVideo reports whether this AdaptationSet groups video Representations.
func (a *AdaptationSet) IsVideo() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.contentType == "video"
}

// AddRepresentation creates and attaches a new Representation for
// mediaInfo, assigning it the next id from the shared counter.
func (a *AdaptationSet) AddRepresentation(mediaInfo MediaInfo) *Representation {
	a.mu.Lock()
	id := *a.nextRepID
	*a.nextRepID++
	a.updateFromMediaInfoLocked(mediaInfo)
	a.mu.Unlock()

	rep := NewRepresentation(id, mediaInfo, a.options, a)
	a.mu.Lock()
	a.representations = append(a.representations, rep)
	a.mu.Unlock()
	return rep
}

func (a *AdaptationSet) updateFromMediaInfoLocked(mediaInfo MediaInfo) {
	a.contentType = mediaInfo.contentType()
	a.codec = mediaInfo.codecBase()
	if mediaInfo.DashLabel != "" {
		a.label = mediaInfo.DashLabel
	}
	if v := mediaInfo.VideoInfo; v != nil {
		a.videoWidths[v.Width] = struct{}{}
		a.videoHeights[v.Height] = struct{}{}
		if par, ok := pictureAspectRatio(v.Width, v.Height, v.PixelWidth, v.PixelHeight); ok {
			a.pictureAspectRatios[par] = struct{}{}
		}
		if v.FrameDuration > 0 && v.TimeScale > 0 {
			a.recordFrameRateLocked(v.FrameDuration, uint64(v.TimeScale))
		}
	}
}

func (a *AdaptationSet) recordFrameRateLocked(frameDuration uint64, timescale uint64) {
	rate := float64(timescale) / float64(frameDuration)
	a.frameRates[rate] = frameRateString(frameDuration, timescale)
}

// frameRateString reduces frame_duration/timescale to lowest terms and
// renders it as the DASH frame rate notation "N" or "N/D".
func frameRateString(frameDuration, timescale uint64) string {
	g := gcd(frameDuration, timescale)
	num := timescale / g
	den := frameDuration / g
	if den == 1 {
		return fmt.Sprintf("%d", num)
	}
	return fmt.Sprintf("%d/%d", num, den)
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

// AddContentProtectionElement attaches a ContentProtection element to this
// AdaptationSet (as opposed to every child Representation).
func (a *AdaptationSet) AddContentProtectionElement(elem ContentProtectionElement) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.contentProtection = append(a.contentProtection, elem)
}

// UpdateContentProtectionPssh mirrors Representation.UpdateContentProtectionPssh
// at the AdaptationSet level, for streams whose protection metadata is
// placed on the AdaptationSet rather than duplicated per Representation.
func (a *AdaptationSet) UpdateContentProtectionPssh(drmUUID string, pssh []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.contentProtection {
		cp := &a.contentProtection[i]
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

// AddAccessibility adds an Accessibility element (ISO/IEC 23009-1:2012
// §5.8.4.3).
func (a *AdaptationSet) AddAccessibility(scheme, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accessibilities = append(a.accessibilities, accessibility{scheme: scheme, value: value})
}

// AddRole adds a Role element.
func (a *AdaptationSet) AddRole(role Role) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roles[role] = struct{}{}
}

// ForceSetSegmentAlignment overrides the computed (sub)segmentAlignment
// value, for callers that already know the answer out of band.
func (a *AdaptationSet) ForceSetSegmentAlignment(aligned bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forceSegmentAlignment = true
	a.forcedAlignmentValue = aligned
}

// AddAdaptationSetSwitching records that this AdaptationSet can switch to
// other.
func (a *AdaptationSet) AddAdaptationSetSwitching(other *AdaptationSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.switchableSets = append(a.switchableSets, other.ID())
}

// AddTrickPlayReference records the base AdaptationSet this trick-play
// AdaptationSet belongs to.
func (a *AdaptationSet) AddTrickPlayReference(base *AdaptationSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trickPlayRefs = append(a.trickPlayRefs, base.ID())
}

// onNewSegment implements stateChangeListener, updating alignment
// bookkeeping every time one of this AdaptationSet's Representations adds
// a segment.
func (a *AdaptationSet) onNewSegment(repID uint32, startTime, duration int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.options.Type == TypeDynamic {
		a.checkDynamicAlignmentLocked(repID, startTime)
	} else {
		a.repTimeline[repID] = append(a.repTimeline[repID], startTime)
	}
}

// onSetFrameRate implements stateChangeListener.
func (a *AdaptationSet) onSetFrameRate(repID uint32, frameDuration, timescale uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if frameDuration > 0 && timescale > 0 {
		a.recordFrameRateLocked(uint64(frameDuration), uint64(timescale))
	}
}

// checkDynamicAlignmentLocked implements the incremental dynamic-MPD
// alignment check: when the front of every Representation's list holds
// the same value, pop it from all; any divergence permanently flips
// alignment to false.
func (a *AdaptationSet) checkDynamicAlignmentLocked(repID uint32, startTime int64) {
	if a.segmentsAligned == alignmentFalse {
		return
	}
	a.repTimeline[repID] = append(a.repTimeline[repID], startTime)

	if len(a.representations) < 2 {
		return
	}
	for {
		var front int64
		ready := true
		for _, rep := range a.representations {
			times := a.repTimeline[rep.ID()]
			if len(times) == 0 {
				ready = false
				break
			}
		}
		if !ready {
			return
		}
		first := true
		aligned := true
		for _, rep := range a.representations {
			t := a.repTimeline[rep.ID()][0]
			if first {
				front = t
				first = false
				continue
			}
			if t != front {
				aligned = false
			}
		}
		if !aligned {
			a.segmentsAligned = alignmentFalse
			return
		}
		a.segmentsAligned = alignmentTrue
		for _, rep := range a.representations {
			a.repTimeline[rep.ID()] = a.repTimeline[rep.ID()][1:]
		}
	}
}

// checkStaticAlignment implements the static-MPD alignment check:
// segments are aligned iff every Representation's segment start-time
// list is a prefix of, or equal to, a common sequence.
func (a *AdaptationSet) checkStaticAlignment() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.forceSegmentAlignment {
		return a.forcedAlignmentValue
	}
	if len(a.representations) < 2 {
		return false
	}
	var longest []int64
	for _, rep := range a.representations {
		times := a.repTimeline[rep.ID()]
		if len(times) > len(longest) {
			longest = times
		}
	}
	for _, rep := range a.representations {
		times := a.repTimeline[rep.ID()]
		for i, t := range times {
			if i >= len(longest) || longest[i] != t {
				return false
			}
		}
	}
	return true
}

// pictureAspectRatio computes width*pixel_width / (height*pixel_height)
// and reduces it to "W:H" form by searching integer denominators d in
// [1, 19] for the one minimizing |par - round(par*d)/d|, terminating
// early on an exact match.
func pictureAspectRatio(width, height, pixelWidth, pixelHeight uint32) (string, bool) {
	if width == 0 || height == 0 {
		return "", false
	}
	pw, ph := pixelWidth, pixelHeight
	if pw == 0 || ph == 0 {
		pw, ph = 1, 1
	}
	par := float64(width) * float64(pw) / (float64(height) * float64(ph))

	bestD := 1
	bestErr := math.MaxFloat64
	for d := 1; d <= 19; d++ {
		n := math.Round(par * float64(d))
		err := math.Abs(par - n/float64(d))
		if err < bestErr {
			bestErr = err
			bestD = d
		}
		if err == 0 {
			break
		}
	}
	n := int(math.Round(par * float64(bestD)))
	g := gcdInt(n, bestD)
	if g > 1 {
		n /= g
		bestD /= g
	}
	return fmt.Sprintf("%d:%d", n, bestD), true
}

func gcdInt(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

// resolutionAttrs returns the width/height/frameRate (or
// maxWidth/maxHeight/maxFrameRate) attribute set to emit: promoted to the
// plain attribute only when every Representation agrees.
type resolutionAttrs struct {
	width, maxWidth   uint32
	height, maxHeight uint32
	frameRate, maxFrameRate string
	par               string
}

func (a *AdaptationSet) resolveResolutionAttrs() resolutionAttrs {
	a.mu.Lock()
	defer a.mu.Unlock()
	var attrs resolutionAttrs
	if len(a.videoWidths) == 1 {
		for w := range a.videoWidths {
			attrs.width = w
		}
	} else {
		for w := range a.videoWidths {
			if w > attrs.maxWidth {
				attrs.maxWidth = w
			}
		}
	}
	if len(a.videoHeights) == 1 {
		for h := range a.videoHeights {
			attrs.height = h
		}
	} else {
		for h := range a.videoHeights {
			if h > attrs.maxHeight {
				attrs.maxHeight = h
			}
		}
	}
	if len(a.frameRates) == 1 {
		for _, s := range a.frameRates {
			attrs.frameRate = s
		}
	} else if len(a.frameRates) > 1 {
		var maxRate float64
		for rate, s := range a.frameRates {
			if rate > maxRate {
				maxRate = rate
				attrs.maxFrameRate = s
			}
		}
	}
	if len(a.pictureAspectRatios) == 1 {
		for p := range a.pictureAspectRatios {
			attrs.par = p
		}
	}
	return attrs
}

// sortedRoles returns the AdaptationSet's roles in a stable order for
// deterministic XML emission.
func (a *AdaptationSet) sortedRoles() []Role {
	a.mu.Lock()
	defer a.mu.Unlock()
	roles := make([]Role, 0, len(a.roles))
	for r := range a.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
