package mpd

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/dashpkg/common/errs"
)

// Notifier translates "new container / new segment / encryption update"
// events into Period/AdaptationSet/Representation tree mutations behind
// one mutex, grounded on
// original_source/packager/mpd/base/mpd_notifier_util.h and
// simple_mpd_notifier.h's single-notifier shape (the
// dash_iop_mpd_notifier.h decorator is not reproduced; its IOP-specific
// segment-alignment forcing is covered by
// AdaptationSet.ForceSetSegmentAlignment instead).
type Notifier struct {
	mu sync.Mutex

	builder *Builder
	period  *Period

	contentProtectionInAdaptationSet bool

	nextContainerID uint32
	containers      map[uint32]*containerState
}

type containerState struct {
	rep *AdaptationSet
	r   *Representation
}

// NewNotifier constructs a Notifier writing into a single Period starting
// at time 0, the common case for one-Period VOD/live presentations.
func NewNotifier(options *Options, contentProtectionInAdaptationSet bool) (*Notifier, error) {
	b, err := NewBuilder(options)
	if err != nil {
		return nil, err
	}
	return &Notifier{
		builder:                          b,
		period:                           b.GetOrCreatePeriod(0),
		contentProtectionInAdaptationSet: contentProtectionInAdaptationSet,
		containers:                       make(map[uint32]*containerState),
	}, nil
}

// Builder returns the underlying Builder, for callers that need
// AddBaseURL/SetUTCTiming access.
func (n *Notifier) Builder() *Builder { return n.builder }

// NotifyNewContainer registers a new media container (one output track)
// described by mediaInfo and returns a stable container id for subsequent
// NotifyNewSegment/NotifyEncryptionUpdate calls.
func (n *Notifier) NotifyNewContainer(mediaInfo *MediaInfo) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	as := n.period.GetOrCreateAdaptationSet(mediaInfo, n.contentProtectionInAdaptationSet)
	rep := as.AddRepresentation(*mediaInfo)

	if mediaInfo.ProtectedContent != nil {
		if n.contentProtectionInAdaptationSet {
			cp, err := cencContentProtection(mediaInfo.ProtectedContent.DefaultKeyID)
			if err != nil {
				return 0, err
			}
			as.AddContentProtectionElement(cp)
			for _, entry := range mediaInfo.ProtectedContent.ContentProtectionEntry {
				drmCP, err := drmContentProtection(entry)
				if err != nil {
					return 0, err
				}
				as.AddContentProtectionElement(drmCP)
			}
		} else {
			cp, err := cencContentProtection(mediaInfo.ProtectedContent.DefaultKeyID)
			if err != nil {
				return 0, err
			}
			rep.AddContentProtectionElement(cp)
			for _, entry := range mediaInfo.ProtectedContent.ContentProtectionEntry {
				drmCP, err := drmContentProtection(entry)
				if err != nil {
					return 0, err
				}
				rep.AddContentProtectionElement(drmCP)
			}
		}
	}

	id := n.nextContainerID
	n.nextContainerID++
	n.containers[id] = &containerState{rep: as, r: rep}
	return id, nil
}

// NotifyNewSegment records a new (sub)segment for containerID's
// Representation.
func (n *Notifier) NotifyNewSegment(containerID uint32, startTime, duration int64, sizeBytes uint64, segmentNumber int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	state, ok := n.containers[containerID]
	if !ok {
		return errs.Wrapf(errs.ErrConfigurationError, "mpd: unknown container id %d", containerID)
	}
	state.r.AddNewSegment(startTime, duration, sizeBytes, segmentNumber)
	state.r.SlideWindow()
	return nil
}

// NotifyEncryptionUpdate pushes a key-rotation PSSH update to
// containerID's Representation or AdaptationSet, whichever level
// protection is placed at.
func (n *Notifier) NotifyEncryptionUpdate(containerID uint32, drmUUID string, pssh []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	state, ok := n.containers[containerID]
	if !ok {
		return errs.Wrapf(errs.ErrConfigurationError, "mpd: unknown container id %d", containerID)
	}
	if n.contentProtectionInAdaptationSet {
		state.rep.UpdateContentProtectionPssh(drmUUID, pssh)
	} else {
		state.r.UpdateContentProtectionPssh(drmUUID, pssh)
	}
	return nil
}

// Flush serializes the current tree and atomically writes it to path. It
// is a happens-after barrier for every preceding NotifyNewSegment /
// NotifyEncryptionUpdate call.
func (n *Notifier) Flush(path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.builder.WriteFile(path); err != nil {
		log.Error().Err(err).Str("path", path).Msg("mpd: flush failed, previous manifest left intact")
		return err
	}
	return nil
}
