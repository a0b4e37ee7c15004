package h3wire

import "fmt"

// ErrorCode is an HTTP/3 connection or stream error code (RFC 9114 §8.1),
// carried through resets and stop-sendings by numerical identity.
type ErrorCode uint64

// Error codes defined by RFC 9114.
const (
	ErrCodeNoError                 ErrorCode = 0x0100
	ErrCodeGeneralProtocolError    ErrorCode = 0x0101
	ErrCodeInternalError           ErrorCode = 0x0102
	ErrCodeStreamCreationError     ErrorCode = 0x0103
	ErrCodeClosedCriticalStream    ErrorCode = 0x0104
	ErrCodeFrameUnexpected         ErrorCode = 0x0105
	ErrCodeFrameError              ErrorCode = 0x0106
	ErrCodeExcessiveLoad           ErrorCode = 0x0107
	ErrCodeIDError                 ErrorCode = 0x0108
	ErrCodeSettingsError           ErrorCode = 0x0109
	ErrCodeMissingSettings         ErrorCode = 0x010A
	ErrCodeRequestRejected         ErrorCode = 0x010B
	ErrCodeRequestCancelled        ErrorCode = 0x010C
	ErrCodeRequestIncomplete       ErrorCode = 0x010D
	ErrCodeMessageError            ErrorCode = 0x010E
	ErrCodeConnectError            ErrorCode = 0x010F
	ErrCodeVersionFallback         ErrorCode = 0x0110
	ErrCodeQPACKDecompressionFailed ErrorCode = 0x0200
	ErrCodeQPACKEncoderStreamError ErrorCode = 0x0201
	ErrCodeQPACKDecoderStreamError ErrorCode = 0x0202
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeNoError:
		return "H3_NO_ERROR"
	case ErrCodeGeneralProtocolError:
		return "H3_GENERAL_PROTOCOL_ERROR"
	case ErrCodeInternalError:
		return "H3_INTERNAL_ERROR"
	case ErrCodeStreamCreationError:
		return "H3_STREAM_CREATION_ERROR"
	case ErrCodeClosedCriticalStream:
		return "H3_CLOSED_CRITICAL_STREAM"
	case ErrCodeFrameUnexpected:
		return "H3_FRAME_UNEXPECTED"
	case ErrCodeFrameError:
		return "H3_FRAME_ERROR"
	case ErrCodeExcessiveLoad:
		return "H3_EXCESSIVE_LOAD"
	case ErrCodeIDError:
		return "H3_ID_ERROR"
	case ErrCodeSettingsError:
		return "H3_SETTINGS_ERROR"
	case ErrCodeMissingSettings:
		return "H3_MISSING_SETTINGS"
	case ErrCodeRequestRejected:
		return "H3_REQUEST_REJECTED"
	case ErrCodeRequestCancelled:
		return "H3_REQUEST_CANCELLED"
	case ErrCodeRequestIncomplete:
		return "H3_REQUEST_INCOMPLETE"
	case ErrCodeMessageError:
		return "H3_MESSAGE_ERROR"
	case ErrCodeConnectError:
		return "H3_CONNECT_ERROR"
	case ErrCodeVersionFallback:
		return "H3_VERSION_FALLBACK"
	case ErrCodeQPACKDecompressionFailed:
		return "QPACK_DECOMPRESSION_FAILED"
	case ErrCodeQPACKEncoderStreamError:
		return "QPACK_ENCODER_STREAM_ERROR"
	case ErrCodeQPACKDecoderStreamError:
		return "QPACK_DECODER_STREAM_ERROR"
	default:
		return fmt.Sprintf("H3_UNKNOWN(0x%x)", uint64(c))
	}
}

// ProtoErrorKind distinguishes the family of a protocol decode failure, used
// to choose the error code per spec §4.1.
type ProtoErrorKind int

const (
	// ProtoErrorGeneric is any decode failure that isn't one of the more
	// specific kinds below.
	ProtoErrorGeneric ProtoErrorKind = iota
	// ProtoErrorSettings is a malformed SETTINGS frame.
	ProtoErrorSettings
	// ProtoErrorUnsupportedFrame is a frame kind not legal at this position
	// (e.g. a PUSH_PROMISE-shaped frame read by a decoder that must reject it).
	ProtoErrorUnsupportedFrame
)

// Error is a frame decode/encode failure. It carries enough information to
// pick the HTTP/3 error code to apply when resetting the offending stream.
type Error struct {
	// Kind distinguishes I/O failure from protocol decode failure.
	IO bool
	// ProtoKind is meaningful only when IO is false.
	ProtoKind ProtoErrorKind
	Err       error
}

func (e *Error) Error() string {
	if e.IO {
		return fmt.Sprintf("h3wire: i/o error: %v", e.Err)
	}
	return fmt.Sprintf("h3wire: protocol error: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code maps the error to the HTTP/3 error code it must be reset/reported
// with, per spec §4.1's failure-mode table.
func (e *Error) Code() ErrorCode {
	if e.IO {
		return ErrCodeGeneralProtocolError
	}
	switch e.ProtoKind {
	case ProtoErrorSettings:
		return ErrCodeSettingsError
	case ProtoErrorUnsupportedFrame:
		return ErrCodeFrameUnexpected
	default:
		return ErrCodeFrameError
	}
}

// IOError wraps an I/O failure reported while decoding or writing frames.
func IOError(err error) *Error {
	return &Error{IO: true, Err: err}
}

// ProtocolError wraps a generic frame decode failure (FRAME_ERROR).
func ProtocolError(err error) *Error {
	return &Error{ProtoKind: ProtoErrorGeneric, Err: err}
}

// SettingsError wraps a malformed-SETTINGS decode failure (SETTINGS_ERROR).
func SettingsError(err error) *Error {
	return &Error{ProtoKind: ProtoErrorSettings, Err: err}
}

// UnsupportedFrameError wraps a frame kind illegal at the decoder's current
// position (FRAME_UNEXPECTED).
func UnsupportedFrameError(err error) *Error {
	return &Error{ProtoKind: ProtoErrorUnsupportedFrame, Err: err}
}
