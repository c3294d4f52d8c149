package mpd

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/dashpkg/common/errs"
)

// Builder assembles the Period tree into a serialized MPD document,
// grounded on original_source/packager/mpd/base/mpd_builder.h. XML
// emission uses the standard library's encoding/xml builder style
// (attr/children structs) since no XML library appears anywhere in the
// retrieval pack, per DESIGN.md.
type Builder struct {
	mu sync.Mutex

	options *Options

	baseURLs  []string
	utcTiming *utcTimingEntry

	periods    []*Period
	nextPeriodID uint32
	repCounter uint32
}

type utcTimingEntry struct {
	schemeIDURI string
	value       string
}

// NewBuilder constructs a Builder for the given options. Validate() is
// called eagerly, surfacing a ConfigurationError before any Period is
// created.
func NewBuilder(options *Options) (*Builder, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	return &Builder{options: options}, nil
}

// AddBaseURL appends a <BaseURL> entry.
func (b *Builder) AddBaseURL(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.baseURLs = append(b.baseURLs, url)
}

// SetUTCTiming sets the single <UTCTiming> element DASH clients use to
// synchronize their clock against for live (dynamic) presentations.
func (b *Builder) SetUTCTiming(schemeIDURI, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.utcTiming = &utcTimingEntry{schemeIDURI: schemeIDURI, value: value}
}

// GetOrCreatePeriod returns the Period starting at startTimeSeconds,
// creating one if none exists yet.
func (b *Builder) GetOrCreatePeriod(startTimeSeconds float64) *Period {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.periods {
		if p.startTimeSeconds == startTimeSeconds {
			return p
		}
	}
	id := b.nextPeriodID
	b.nextPeriodID++
	p := NewPeriod(id, startTimeSeconds, b.options, &b.repCounter)
	b.periods = append(b.periods, p)
	return p
}

// isoDuration renders seconds as an ISO-8601 duration, e.g. "PT1H2M3.5S".
func isoDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := int64(seconds) / 3600
	rem := seconds - float64(hours)*3600
	minutes := int64(rem) / 60
	secs := rem - float64(minutes)*60
	out := "PT"
	if hours > 0 {
		out += fmt.Sprintf("%dH", hours)
	}
	if minutes > 0 {
		out += fmt.Sprintf("%dM", minutes)
	}
	out += fmt.Sprintf("%sS", strconv.FormatFloat(secs, 'f', -1, 64))
	return out
}

// xmlAttr and xmlElem build a generic XML tree so attribute presence can be
// conditional without fighting encoding/xml's struct-tag model; it is
// marshaled through xml.Encoder's low-level StartElement/EndElement calls.
type xmlAttr struct {
	Name  string
	Value string
}

type xmlElem struct {
	Name     string
	Attrs    []xmlAttr
	Text     string
	Children []*xmlElem
}

func newElem(name string) *xmlElem { return &xmlElem{Name: name} }

func (e *xmlElem) attr(name, value string) *xmlElem {
	if value == "" {
		return e
	}
	e.Attrs = append(e.Attrs, xmlAttr{Name: name, Value: value})
	return e
}

func (e *xmlElem) attrAlways(name, value string) *xmlElem {
	e.Attrs = append(e.Attrs, xmlAttr{Name: name, Value: value})
	return e
}

func (e *xmlElem) child(c *xmlElem) *xmlElem {
	e.Children = append(e.Children, c)
	return e
}

func (e *xmlElem) encode(enc *xml.Encoder) error {
	start := xml.StartElement{Name: xml.Name{Local: e.Name}}
	for _, a := range e.Attrs {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: a.Name}, Value: a.Value})
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if e.Text != "" {
		if err := enc.EncodeToken(xml.CharData(e.Text)); err != nil {
			return err
		}
	}
	for _, c := range e.Children {
		if err := c.encode(enc); err != nil {
			return err
		}
	}
	return enc.EncodeToken(xml.EndElement{Name: start.Name})
}

// usesCenc reports whether any ContentProtection element anywhere in the
// tree carries a cenc: prefixed attribute or child, requiring the
// xmlns:cenc declaration.
func usesCenc(cp []ContentProtectionElement) bool {
	for _, c := range cp {
		for k := range c.AdditionalAttributes {
			if hasPrefix(k, "cenc:") {
				return true
			}
		}
		for _, sub := range c.Subelements {
			if hasPrefix(sub.Name, "cenc:") {
				return true
			}
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func contentProtectionXML(cp ContentProtectionElement) *xmlElem {
	e := newElem("ContentProtection")
	e.attr("schemeIdUri", cp.SchemeIDURI)
	e.attr("value", cp.Value)
	keys := make([]string, 0, len(cp.AdditionalAttributes))
	for k := range cp.AdditionalAttributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.attr(k, cp.AdditionalAttributes[k])
	}
	for _, sub := range cp.Subelements {
		child := newElem(sub.Name)
		child.Text = sub.Content
		for k, v := range sub.Attributes {
			child.attr(k, v)
		}
		e.child(child)
	}
	return e
}

// segmentRunsXML emits a <SegmentTemplate> element wrapping a
// <SegmentTimeline> built from a Representation's SegmentRun list, the
// DASH S@t/S@d/S@r encoding.
func segmentRunsXML(runs []SegmentRun, startNumber uint64, timescale uint32) *xmlElem {
	tmpl := newElem("SegmentTemplate")
	tmpl.attrAlways("startNumber", strconv.FormatUint(startNumber, 10))
	if timescale > 0 {
		tmpl.attrAlways("timescale", strconv.FormatUint(uint64(timescale), 10))
	}
	timeline := newElem("SegmentTimeline")
	for i, run := range runs {
		s := newElem("S")
		if i == 0 {
			s.attrAlways("t", strconv.FormatInt(run.StartTime, 10))
		}
		s.attrAlways("d", strconv.FormatInt(run.Duration, 10))
		if run.Repeat > 0 {
			s.attrAlways("r", strconv.FormatUint(run.Repeat, 10))
		}
		timeline.child(s)
	}
	tmpl.child(timeline)
	return tmpl
}

func mimeType(mi *MediaInfo) string {
	switch mi.ContainerType {
	case ContainerWebM:
		if mi.VideoInfo != nil {
			return "video/webm"
		}
		return "audio/webm"
	case ContainerText:
		return "text/vtt"
	default:
		switch {
		case mi.VideoInfo != nil:
			return "video/mp4"
		case mi.AudioInfo != nil:
			return "audio/mp4"
		default:
			return "application/mp4"
		}
	}
}

func codecString(mi *MediaInfo) string {
	switch {
	case mi.VideoInfo != nil:
		return mi.VideoInfo.Codec
	case mi.AudioInfo != nil:
		return mi.AudioInfo.Codec
	case mi.TextInfo != nil:
		return mi.TextInfo.Codec
	default:
		return ""
	}
}

func representationXML(r *Representation) *xmlElem {
	mi := r.MediaInfo()
	e := newElem("Representation")
	e.attrAlways("id", strconv.FormatUint(uint64(r.ID()), 10))
	e.attr("codecs", codecString(&mi))
	e.attr("mimeType", mimeType(&mi))
	e.attrAlways("bandwidth", strconv.FormatUint(r.Bandwidth(), 10))

	suppress := r.takeSuppressFlags()
	if v := mi.VideoInfo; v != nil {
		if suppress&SuppressWidth == 0 {
			e.attr("width", strconv.FormatUint(uint64(v.Width), 10))
		}
		if suppress&SuppressHeight == 0 {
			e.attr("height", strconv.FormatUint(uint64(v.Height), 10))
		}
		if suppress&SuppressFrameRate == 0 && v.FrameDuration > 0 && v.TimeScale > 0 {
			e.attr("frameRate", frameRateString(v.FrameDuration, uint64(v.TimeScale)))
		}
	}
	if a := mi.AudioInfo; a != nil {
		e.attr("audioSamplingRate", strconv.FormatUint(uint64(a.SamplingFrequency), 10))
	}

	r.mu.Lock()
	cps := append([]ContentProtectionElement(nil), r.contentProtection...)
	runs := append([]SegmentRun(nil), r.segmentRuns...)
	startNumber := r.startNumber
	r.mu.Unlock()

	for _, cp := range cps {
		e.child(contentProtectionXML(cp))
	}
	if mi.InitSegmentName != "" || mi.SegmentTemplate != "" {
		tmpl := segmentRunsXML(runs, startNumber, mi.ReferenceTimeScale)
		if mi.InitSegmentName != "" {
			tmpl.attrAlways("initialization", mi.InitSegmentName)
		}
		if mi.SegmentTemplate != "" {
			tmpl.attrAlways("media", mi.SegmentTemplate)
		}
		e.child(tmpl)
	}
	return e
}

func adaptationSetXML(a *AdaptationSet, static bool) *xmlElem {
	e := newElem("AdaptationSet")
	e.attrAlways("id", strconv.FormatUint(uint64(a.ID()), 10))
	a.mu.Lock()
	lang := a.language
	contentType := a.contentType
	codec := a.codec
	cps := append([]ContentProtectionElement(nil), a.contentProtection...)
	accessibilities := append([]accessibility(nil), a.accessibilities...)
	switchable := append([]uint32(nil), a.switchableSets...)
	trickRefs := append([]uint32(nil), a.trickPlayRefs...)
	reps := append([]*Representation(nil), a.representations...)
	a.mu.Unlock()

	e.attr("lang", lang)
	e.attr("contentType", contentType)
	e.attr("codecs", codec)

	attrs := a.resolveResolutionAttrs()
	if attrs.width > 0 {
		e.attrAlways("width", strconv.FormatUint(uint64(attrs.width), 10))
	} else if attrs.maxWidth > 0 {
		e.attrAlways("maxWidth", strconv.FormatUint(uint64(attrs.maxWidth), 10))
	}
	if attrs.height > 0 {
		e.attrAlways("height", strconv.FormatUint(uint64(attrs.height), 10))
	} else if attrs.maxHeight > 0 {
		e.attrAlways("maxHeight", strconv.FormatUint(uint64(attrs.maxHeight), 10))
	}
	if attrs.frameRate != "" {
		e.attrAlways("frameRate", attrs.frameRate)
	} else if attrs.maxFrameRate != "" {
		e.attrAlways("maxFrameRate", attrs.maxFrameRate)
	}
	if attrs.par != "" {
		e.attrAlways("par", attrs.par)
	}

	var aligned bool
	if static {
		aligned = a.checkStaticAlignment()
	} else {
		a.mu.Lock()
		aligned = a.segmentsAligned == alignmentTrue
		a.mu.Unlock()
	}
	if aligned {
		e.attrAlways("subsegmentAlignment", "true")
	}

	for _, role := range a.sortedRoles() {
		roleElem := newElem("Role")
		roleElem.attrAlways("schemeIdUri", "urn:mpeg:dash:role:2011")
		roleElem.attrAlways("value", role.String())
		e.child(roleElem)
	}
	for _, acc := range accessibilities {
		accElem := newElem("Accessibility")
		accElem.attrAlways("schemeIdUri", acc.scheme)
		accElem.attrAlways("value", acc.value)
		e.child(accElem)
	}
	for _, cp := range cps {
		e.child(contentProtectionXML(cp))
	}
	for _, refID := range trickRefs {
		essential := newElem("EssentialProperty")
		essential.attrAlways("schemeIdUri", "http://dashif.org/guidelines/trickmode")
		essential.attrAlways("value", strconv.FormatUint(uint64(refID), 10))
		e.child(essential)
	}
	if len(switchable) > 0 {
		ids := make([]string, len(switchable))
		for i, id := range switchable {
			ids[i] = strconv.FormatUint(uint64(id), 10)
		}
		supplemental := newElem("SupplementalProperty")
		supplemental.attrAlways("schemeIdUri", "urn:mpeg:dash:adaptation-set-switching:2016")
		supplemental.attrAlways("value", joinComma(ids))
		e.child(supplemental)
	}

	for _, rep := range reps {
		e.child(representationXML(rep))
	}
	return e
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func periodXML(p *Period, dynamic, outputDuration bool) *xmlElem {
	e := newElem("Period")
	e.attrAlways("id", strconv.FormatUint(uint64(p.ID()), 10))
	if dynamic {
		e.attrAlways("start", isoDuration(p.startTimeSeconds))
	}
	if outputDuration && p.DurationSeconds() > 0 {
		e.attrAlways("duration", isoDuration(p.DurationSeconds()))
	}
	for _, as := range p.AdaptationSets() {
		e.child(adaptationSetXML(as, !dynamic))
	}
	return e
}

// staticMpdDuration computes mediaPresentationDuration as the maximum
// end-time across every contained Representation.
func (b *Builder) staticMpdDuration() float64 {
	var maxEnd float64
	for _, p := range b.periods {
		for _, as := range p.AdaptationSets() {
			as.mu.Lock()
			reps := append([]*Representation(nil), as.representations...)
			as.mu.Unlock()
			for _, rep := range reps {
				rep.mu.Lock()
				ts := rep.mediaInfo.ReferenceTimeScale
				if ts == 0 {
					ts = 1
				}
				for _, run := range rep.segmentRuns {
					end := float64(run.EndTime()) / float64(ts)
					if end > maxEnd {
						maxEnd = end
					}
				}
				rep.mu.Unlock()
			}
		}
	}
	return maxEnd
}

// generateMpd builds the in-memory XML tree for the current state of the
// Period tree.
func (b *Builder) generateMpd() *xmlElem {
	b.mu.Lock()
	defer b.mu.Unlock()

	dynamic := b.options.Type == TypeDynamic
	mpd := newElem("MPD")
	mpd.attrAlways("xmlns", "urn:mpeg:dash:schema:mpd:2011")
	if b.options.Profile == ProfileLive {
		mpd.attrAlways("profiles", "urn:mpeg:dash:profile:isoff-live:2011")
	} else {
		mpd.attrAlways("profiles", "urn:mpeg:dash:profile:isoff-on-demand:2011")
	}
	if dynamic {
		mpd.attrAlways("type", "dynamic")
		mpd.attr("availabilityStartTime", b.options.AvailabilityStartTime)
		if b.options.MinimumUpdatePeriod > 0 {
			mpd.attrAlways("minimumUpdatePeriod", isoDuration(b.options.MinimumUpdatePeriod))
		}
		if b.options.TimeShiftBufferDepth > 0 {
			mpd.attrAlways("timeShiftBufferDepth", isoDuration(b.options.TimeShiftBufferDepth))
		}
		if b.options.SuggestedPresentationDelay > 0 {
			mpd.attrAlways("suggestedPresentationDelay", isoDuration(b.options.SuggestedPresentationDelay))
		}
	} else {
		mpd.attrAlways("type", "static")
		mpd.attrAlways("mediaPresentationDuration", isoDuration(b.staticMpdDuration()))
	}
	if b.options.MinBufferTime > 0 {
		mpd.attrAlways("minBufferTime", isoDuration(b.options.MinBufferTime))
	}

	var allCP []ContentProtectionElement
	for _, p := range b.periods {
		for _, as := range p.AdaptationSets() {
			as.mu.Lock()
			allCP = append(allCP, as.contentProtection...)
			reps := append([]*Representation(nil), as.representations...)
			as.mu.Unlock()
			for _, rep := range reps {
				rep.mu.Lock()
				allCP = append(allCP, rep.contentProtection...)
				rep.mu.Unlock()
			}
		}
	}
	if usesCenc(allCP) {
		mpd.attrAlways("xmlns:cenc", "urn:mpeg:cenc:2013")
	}

	for _, url := range b.baseURLs {
		base := newElem("BaseURL")
		base.Text = url
		mpd.child(base)
	}
	if b.utcTiming != nil {
		utc := newElem("UTCTiming")
		utc.attrAlways("schemeIdUri", b.utcTiming.schemeIDURI)
		utc.attrAlways("value", b.utcTiming.value)
		mpd.child(utc)
	}
	outputDuration := !dynamic
	for _, p := range b.periods {
		mpd.child(periodXML(p, dynamic, outputDuration))
	}
	return mpd
}

// ToString serializes the current MPD tree to XML.
func (b *Builder) ToString() (string, error) {
	mpd := b.generateMpd()
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := mpd.encode(enc); err != nil {
		return "", errs.Wrapf(err, "mpd: encode")
	}
	if err := enc.Flush(); err != nil {
		return "", errs.Wrapf(err, "mpd: flush encoder")
	}
	return buf.String(), nil
}

// WriteFile writes the current MPD to path atomically: it writes to a
// temp file in the same directory and renames it into place, so readers
// never observe a partially written manifest.
func (b *Builder) WriteFile(path string) error {
	content, err := b.ToString()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".mpd-*.tmp")
	if err != nil {
		return errs.Wrapf(err, "mpd: create temp file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrapf(err, "mpd: write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrapf(err, "mpd: close temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errs.Wrapf(err, "mpd: rename into place")
	}
	log.Debug().Str("path", path).Msg("mpd: wrote manifest")
	return nil
}
