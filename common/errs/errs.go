package errs

import (
	"github.com/pkg/errors"
)

const (
	CodeDuplicateStream = 1001
	CodeStreamNotExist  = 1002
	CodeUnknown         = 9999
	CodeConnectURL      = 2001
)

// Error taxonomy for the packaging core: bitstream/container parsing,
// encryption, and MPD composition all report failures through one of these
// codes so callers can distinguish a malformed input from a configuration
// mistake from a downstream muxer failure.
const (
	CodeInvalidStream      = 3001
	CodeUnsupportedStream  = 3002
	CodeEndOfStream        = 3003
	CodeMissingParameterSet = 3004
	CodeMuxerFailure       = 3005
	CodeConfigurationError = 3006
)

var (
	ErrDuplicateStream = New(CodeDuplicateStream, "duplicate stream")
	ErrStreamNotExist  = New(CodeStreamNotExist, "stream not exist")
	ErrConnectURL      = New(CodeConnectURL, "connect url error")

	// ErrInvalidStream indicates the bitstream violates its own syntax
	// (ran out of bits mid-field, a start code never found, a malformed
	// length prefix).
	ErrInvalidStream = New(CodeInvalidStream, "invalid stream")
	// ErrUnsupportedStream indicates well-formed but unhandled syntax
	// (an unrecognized NAL type, a profile the parser does not decode).
	ErrUnsupportedStream = New(CodeUnsupportedStream, "unsupported stream")
	// ErrEndOfStream indicates the input was exhausted cleanly, with no
	// data left to frame.
	ErrEndOfStream = New(CodeEndOfStream, "end of stream")
	// ErrMissingParameterSet indicates a slice or other NALU referenced
	// a SPS/PPS/VPS id the parser never saw.
	ErrMissingParameterSet = New(CodeMissingParameterSet, "missing parameter set")
	// ErrMuxerFailure indicates a downstream write (segment, MPD file)
	// could not complete.
	ErrMuxerFailure = New(CodeMuxerFailure, "muxer failure")
	// ErrConfigurationError indicates the caller-supplied options are
	// contradictory or incomplete (e.g. a dynamic MPD profile requested
	// without an availability start time).
	ErrConfigurationError = New(CodeConfigurationError, "configuration error")
)

const (
	Success = "success"
)

type Error struct {
	Code int32
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func New(code int32, msg string) error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

func Code(e error) int32 {
	if e == nil {
		return 0
	}
	err, ok := e.(*Error)
	if !ok {
		return CodeUnknown
	}

	if err == (*Error)(nil) {
		return 0
	}
	return err.Code
}

func Msg(e error) string {
	if e == nil {
		return Success
	}
	err, ok := e.(*Error)
	if !ok {
		return "unknown error: " + e.Error()
	}

	if err == (*Error)(nil) {
		return Success
	}

	return err.Msg
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
