// Package mpd builds the three-level Period/AdaptationSet/Representation
// tree a DASH packager accumulates segments into, and serializes it to a
// Media Presentation Description. Grounded on
// original_source/packager/mpd/base/*.h for the tree shape and
// original_source/packager/mpd/base/mpd_options.h for the options struct,
// generalized from shaka-packager's protobuf-backed MediaInfo to a plain
// jsoniter-decoded Go struct.
package mpd

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/bugVanisher/dashpkg/common/errs"
)

// ContainerType identifies the container format a Representation's media
// segments are packaged in.
type ContainerType string

const (
	ContainerMP4  ContainerType = "MP4"
	ContainerWebM ContainerType = "WEBM"
	ContainerText ContainerType = "TEXT"
)

// Range is a byte range [Begin, End], both inclusive, as used for
// InitRange/IndexRange.
type Range struct {
	Begin uint64 `json:"begin"`
	End   uint64 `json:"end"`
}

// VideoInfo carries the video-specific fields of a MediaInfo record.
type VideoInfo struct {
	Codec        string `json:"codec"`
	Width        uint32 `json:"width"`
	Height       uint32 `json:"height"`
	PixelWidth   uint32 `json:"pixel_width"`
	PixelHeight  uint32 `json:"pixel_height"`
	TimeScale    uint32 `json:"time_scale"`
	FrameDuration uint64 `json:"frame_duration"`
	PlaybackRate int     `json:"playback_rate,omitempty"`
}

// AudioInfo carries the audio-specific fields of a MediaInfo record.
type AudioInfo struct {
	Codec          string `json:"codec"`
	SamplingFrequency uint32 `json:"sampling_frequency"`
	NumChannels    uint32 `json:"num_channels"`
	Language       string `json:"language"`
	ChannelLayout  string `json:"channel_layout,omitempty"`
}

// TextInfo carries the text/subtitle-specific fields of a MediaInfo record.
type TextInfo struct {
	Codec    string `json:"codec"`
	Language string `json:"language"`
	Type     string `json:"type,omitempty"` // e.g. "caption", "subtitle"
}

// ContentProtectionEntry is one DRM system's protection metadata.
type ContentProtectionEntry struct {
	UUID        string `json:"uuid"`
	NameVersion string `json:"name_version"`
	Pssh        []byte `json:"pssh"`
}

// ProtectedContent carries CENC metadata for an encrypted stream.
type ProtectedContent struct {
	DefaultKeyID          []byte                   `json:"default_key_id"`
	ContentProtectionEntry []ContentProtectionEntry `json:"content_protection_entry"`
}

// MediaInfo is the per-stream descriptor the composition engine receives.
// Unknown JSON fields are ignored by jsoniter's struct decoding.
type MediaInfo struct {
	ContainerType        ContainerType     `json:"container_type"`
	ReferenceTimeScale   uint32            `json:"reference_time_scale"`
	MediaDurationSeconds float64           `json:"media_duration_seconds"`
	InitSegmentName      string            `json:"init_segment_name"`
	SegmentTemplate      string            `json:"segment_template"`
	InitRange            *Range            `json:"init_range,omitempty"`
	IndexRange           *Range            `json:"index_range,omitempty"`
	MediaFileURL         string            `json:"media_file_url"`
	Bandwidth            uint64            `json:"bandwidth"`
	VideoInfo            *VideoInfo        `json:"video_info,omitempty"`
	AudioInfo            *AudioInfo        `json:"audio_info,omitempty"`
	TextInfo             *TextInfo         `json:"text_info,omitempty"`
	ProtectedContent     *ProtectedContent `json:"protected_content,omitempty"`
	DashLabel            string            `json:"dash_label,omitempty"`
}

// ParseMediaInfo decodes a MediaInfo record from its JSON payload.
func ParseMediaInfo(data []byte) (*MediaInfo, error) {
	var mi MediaInfo
	if err := jsoniter.Unmarshal(data, &mi); err != nil {
		return nil, errs.Wrapf(err, "mpd: parse media info")
	}
	if mi.VideoInfo == nil && mi.AudioInfo == nil && mi.TextInfo == nil {
		return nil, errs.Wrapf(errs.ErrConfigurationError, "mpd: media info names none of video_info/audio_info/text_info")
	}
	return &mi, nil
}

// contentType classifies a MediaInfo record for AdaptationSet grouping.
func (m *MediaInfo) contentType() string {
	switch {
	case m.VideoInfo != nil:
		return "video"
	case m.AudioInfo != nil:
		return "audio"
	default:
		return "text"
	}
}

// codecBase returns the codec family (not variant) used for AdaptationSet
// grouping, e.g. "avc1" for "avc1.64001e".
func (m *MediaInfo) codecBase() string {
	codec := ""
	switch {
	case m.VideoInfo != nil:
		codec = m.VideoInfo.Codec
	case m.AudioInfo != nil:
		codec = m.AudioInfo.Codec
	case m.TextInfo != nil:
		codec = m.TextInfo.Codec
	}
	for i, c := range codec {
		if c == '.' {
			return codec[:i]
		}
	}
	return codec
}

// language returns the BCP-47 language tag for grouping and Role
// assignment, empty for video.
func (m *MediaInfo) language() string {
	switch {
	case m.AudioInfo != nil:
		return m.AudioInfo.Language
	case m.TextInfo != nil:
		return m.TextInfo.Language
	default:
		return ""
	}
}

// protectionFingerprint returns a stable string identifying the
// content-protection configuration, empty when the stream is unencrypted.
// Streams sharing a fingerprint can share one AdaptationSet-level
// ContentProtection element; streams with differing fingerprints cannot be
// grouped together.
func (m *MediaInfo) protectionFingerprint() string {
	if m.ProtectedContent == nil {
		return ""
	}
	fp := string(m.ProtectedContent.DefaultKeyID)
	for _, e := range m.ProtectedContent.ContentProtectionEntry {
		fp += "|" + e.UUID
	}
	return fp
}

// playbackRate returns the trick-play playback rate for a video stream, 0
// for normal-rate (non-trick-play) video.
func (m *MediaInfo) playbackRate() int {
	if m.VideoInfo == nil {
		return 0
	}
	return m.VideoInfo.PlaybackRate
}

// groupKey is the (content_type, codec_base, language, container,
// protection_fingerprint) tuple Representations are grouped into an
// AdaptationSet by. Trick-play variants use the same key as their base
// AdaptationSet (playback_rate is not part of the key) so Period can find
// the match.
type groupKey struct {
	contentType  string
	codecBase    string
	language     string
	container    ContainerType
	protectionFP string
}

func (m *MediaInfo) groupKey() groupKey {
	return groupKey{
		contentType:  m.contentType(),
		codecBase:    m.codecBase(),
		language:     m.language(),
		container:    m.ContainerType,
		protectionFP: m.protectionFingerprint(),
	}
}

// DashProfile selects the DASH conformance profile of the generated MPD.
type DashProfile int

const (
	ProfileOnDemand DashProfile = iota
	ProfileLive
)

// MpdType is "static" (on-demand, all segments known up front) or
// "dynamic" (live, growing manifest).
type MpdType int

const (
	TypeStatic MpdType = iota
	TypeDynamic
)

// Options is the MpdOptions collaborator of
// original_source/packager/mpd/base/mpd_options.h, extended with the
// presentation-timing fields original_source's mpd_params.h splits out
// into a separate MpdParams type.
type Options struct {
	Profile             DashProfile
	Type                MpdType
	MinBufferTime       float64 // seconds
	MinimumUpdatePeriod float64 // seconds, dynamic only
	// AvailabilityStartTime is an ISO-8601 timestamp string; required for
	// dynamic MPDs.
	AvailabilityStartTime      string
	TimeShiftBufferDepth       float64 // seconds, dynamic only
	SuggestedPresentationDelay float64 // seconds, dynamic only
	DefaultLanguage            string
	DefaultTextLanguage        string
	UseApproximateSegmentTimeline bool
	// BandwidthEstimatorBlocks is the sliding-window size used by the
	// bandwidth estimator's average computation, defaulting to 5.
	BandwidthEstimatorBlocks int
}

// Validate eagerly reports a ConfigurationError when options contradict
// each other, such as a dynamic profile with no AvailabilityStartTime.
func (o *Options) Validate() error {
	if o.Type == TypeDynamic && o.AvailabilityStartTime == "" {
		return errs.Wrapf(errs.ErrConfigurationError, "mpd: dynamic profile requires AvailabilityStartTime")
	}
	return nil
}

func (o *Options) bandwidthBlocks() int {
	if o.BandwidthEstimatorBlocks > 0 {
		return o.BandwidthEstimatorBlocks
	}
	return 5
}
