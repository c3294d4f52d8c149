package mpd

import (
	"sync"
)

// Period routes MediaInfo to an AdaptationSet grouped by
// (content_type, codec_base, language, container, protection_fingerprint),
// grounded on original_source/packager/mpd/base/period.h.
type Period struct {
	mu sync.Mutex

	id                uint32
	startTimeSeconds  float64
	durationSeconds   float64
	options           *Options
	repCounter        *uint32

	adaptationSets []*AdaptationSet
	nextASID       uint32

	byKey         map[groupKey][]*AdaptationSet
	trickPlayCache map[groupKey][]*AdaptationSet
}

// NewPeriod constructs a Period starting at startTimeSeconds.
func NewPeriod(id uint32, startTimeSeconds float64, options *Options, repCounter *uint32) *Period {
	return &Period{
		id:               id,
		startTimeSeconds: startTimeSeconds,
		options:          options,
		repCounter:       repCounter,
		byKey:            make(map[groupKey][]*AdaptationSet),
		trickPlayCache:   make(map[groupKey][]*AdaptationSet),
	}
}

// ID returns the Period's document-unique numeric id.
func (p *Period) ID() uint32 { return p.id }

// SetDurationSeconds sets the Period's known duration.
func (p *Period) SetDurationSeconds(d float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.durationSeconds = d
}

// DurationSeconds returns the Period's duration, 0 if not yet known.
func (p *Period) DurationSeconds() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.durationSeconds
}

// GetOrCreateAdaptationSet returns an existing AdaptationSet matching
// mediaInfo's grouping key, or creates one. contentProtectionInAdaptationSet
// controls whether streams with differing protection fingerprints can
// still share an AdaptationSet (placed at Representation level instead).
func (p *Period) GetOrCreateAdaptationSet(mediaInfo *MediaInfo, contentProtectionInAdaptationSet bool) *AdaptationSet {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := mediaInfo.groupKey()
	if !contentProtectionInAdaptationSet {
		key.protectionFP = ""
	}

	isTrickPlay := mediaInfo.playbackRate() != 0
	if isTrickPlay {
		as := p.newAdaptationSetLocked(mediaInfo.language())
		if existing, ok := p.byKey[key]; ok && len(existing) > 0 {
			as.AddTrickPlayReference(existing[0])
		} else {
			p.trickPlayCache[key] = append(p.trickPlayCache[key], as)
		}
		return as
	}

	if existing, ok := p.byKey[key]; ok && len(existing) > 0 {
		return existing[0]
	}

	as := p.newAdaptationSetLocked(mediaInfo.language())
	p.byKey[key] = append(p.byKey[key], as)

	// Any previously cached trick-play AdaptationSet waiting for this base
	// now resolves; unmatched variants stay cached for a later match.
	if cached, ok := p.trickPlayCache[key]; ok {
		for _, tp := range cached {
			tp.AddTrickPlayReference(as)
		}
		delete(p.trickPlayCache, key)
	}
	return as
}

func (p *Period) newAdaptationSetLocked(language string) *AdaptationSet {
	id := p.nextASID
	p.nextASID++
	as := NewAdaptationSet(id, language, p.options, p.repCounter)
	p.adaptationSets = append(p.adaptationSets, as)
	return as
}

// AdaptationSets returns the Period's AdaptationSets in creation order.
func (p *Period) AdaptationSets() []*AdaptationSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*AdaptationSet, len(p.adaptationSets))
	copy(out, p.adaptationSets)
	return out
}
