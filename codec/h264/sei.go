package h264

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/bugVanisher/dashpkg/codec/bits"
	"github.com/bugVanisher/dashpkg/codec/nalu"
	"github.com/bugVanisher/dashpkg/common/errs"
)

// SEI payload types this parser interprets. Unrecognized payload types are
// still returned with their raw bytes so a caller can skip or log them.
const (
	SEITypeRecoveryPoint  = 6
	SEITypeUnregisteredTS = 242
)

// RecoveryPoint is sei_recovery_point(), used to find safe random access
// points in streams without closed GOPs.
type RecoveryPoint struct {
	RecoveryFrameCnt     int
	ExactMatchFlag       bool
	BrokenLinkFlag       bool
	ChangingSliceGroupIDC int
}

// Timestamp is the unregistered-user-data timestamp payload some encoders
// emit as JSON, decoded the way media/codec/h264parser's ParseSEI did.
type Timestamp struct {
	PTS int64 `json:"pts"`
	NTP int64 `json:"ntp"`
}

// SEIMessage is one sei_message(): a type, its raw payload, and the
// decoded form when this package knows the type.
type SEIMessage struct {
	Type          int
	PayloadSize   int
	Payload       []byte
	RecoveryPoint *RecoveryPoint
	Timestamp     *Timestamp
}

// ParseSEI parses every sei_message() in a SEI NAL unit.
func ParseSEI(n nalu.Nalu) ([]SEIMessage, error) {
	if n.Type != nalu.H264SEIMessage {
		return nil, errs.ErrUnsupportedStream
	}
	data := n.Payload()
	var messages []SEIMessage
	for len(data) > 0 && data[0] != 0x80 {
		payloadType := 0
		for len(data) > 0 && data[0] == 0xFF {
			payloadType += 255
			data = data[1:]
		}
		if len(data) == 0 {
			return nil, errs.ErrInvalidStream
		}
		payloadType += int(data[0])
		data = data[1:]

		payloadSize := 0
		for len(data) > 0 && data[0] == 0xFF {
			payloadSize += 255
			data = data[1:]
		}
		if len(data) == 0 {
			return nil, errs.ErrInvalidStream
		}
		payloadSize += int(data[0])
		data = data[1:]

		if payloadSize > len(data) {
			return nil, errs.ErrInvalidStream
		}
		payload := data[:payloadSize]
		data = data[payloadSize:]

		msg := SEIMessage{Type: payloadType, PayloadSize: payloadSize, Payload: payload}
		switch payloadType {
		case SEITypeRecoveryPoint:
			rp, err := parseRecoveryPoint(payload)
			if err == nil {
				msg.RecoveryPoint = rp
			}
		case SEITypeUnregisteredTS:
			var ts Timestamp
			if jsoniter.Unmarshal(payload, &ts) == nil {
				msg.Timestamp = &ts
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func parseRecoveryPoint(payload []byte) (*RecoveryPoint, error) {
	r := bits.NewH26xReader(payload)
	rp := &RecoveryPoint{}
	v, err := r.ReadUE()
	if err != nil {
		return nil, err
	}
	rp.RecoveryFrameCnt = int(v)
	if rp.ExactMatchFlag, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if rp.BrokenLinkFlag, err = r.ReadFlag(); err != nil {
		return nil, err
	}
	if cv, err := r.ReadBits(2); err != nil {
		return nil, err
	} else {
		rp.ChangingSliceGroupIDC = int(cv)
	}
	return rp, nil
}
