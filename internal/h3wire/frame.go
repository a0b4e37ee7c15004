package h3wire

import "fmt"

// FrameType is the varint-encoded type discriminant of an HTTP/3 frame
// (RFC 9114 §7.2).
type FrameType uint64

// Known frame types. Any other value is accepted as Reserved (§3, grease).
const (
	FrameTypeData        FrameType = 0x00
	FrameTypeHeaders     FrameType = 0x01
	FrameTypeCancelPush  FrameType = 0x03
	FrameTypeSettings    FrameType = 0x04
	FrameTypePushPromise FrameType = 0x05
	FrameTypeGoAway      FrameType = 0x07
	FrameTypeMaxPushID   FrameType = 0x0D
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeData:
		return "DATA"
	case FrameTypeHeaders:
		return "HEADERS"
	case FrameTypeCancelPush:
		return "CANCEL_PUSH"
	case FrameTypeSettings:
		return "SETTINGS"
	case FrameTypePushPromise:
		return "PUSH_PROMISE"
	case FrameTypeGoAway:
		return "GOAWAY"
	case FrameTypeMaxPushID:
		return "MAX_PUSH_ID"
	default:
		return fmt.Sprintf("RESERVED(0x%x)", uint64(t))
	}
}

// Frame is the tagged variant described in spec §3. Exactly one of the
// typed fields is meaningful, selected by Kind.
type Frame struct {
	Kind FrameType

	// Data holds the payload for a Kind == FrameTypeData chunk. It may be a
	// prefix of the full frame's payload when delivered via PartialData
	// (spec §3's incremental-DATA invariant).
	Data []byte

	// Headers holds the opaque QPACK-encoded block for Kind == FrameTypeHeaders.
	Headers []byte

	Settings     []Setting // Kind == FrameTypeSettings
	GoAwayID     uint64    // Kind == FrameTypeGoAway
	MaxPushID    uint64    // Kind == FrameTypeMaxPushID
	CancelPushID uint64    // Kind == FrameTypeCancelPush

	PushID          uint64 // Kind == FrameTypePushPromise
	PushHeaderBlock []byte // Kind == FrameTypePushPromise
}

// IsReserved reports whether f is a frame kind the receiver must accept and
// silently discard (spec §3/§4.4).
func (f Frame) IsReserved() bool {
	switch f.Kind {
	case FrameTypeData, FrameTypeHeaders, FrameTypeCancelPush, FrameTypeSettings,
		FrameTypePushPromise, FrameTypeGoAway, FrameTypeMaxPushID:
		return false
	default:
		return true
	}
}

// Setting is a single SETTINGS identifier/value pair (RFC 9114 §7.2.4.1).
type Setting struct {
	ID    uint64
	Value uint64
}

// Well-known SETTINGS identifiers relevant to QPACK negotiation.
const (
	SettingQPACKMaxTableCapacity uint64 = 0x01
	SettingMaxFieldSectionSize   uint64 = 0x06
	SettingQPACKBlockedStreams   uint64 = 0x07
)

// DefaultSettings returns the SETTINGS this core advertises by default,
// grounded on the QPACK parameters spec §4.5/§11 names.
func DefaultSettings(maxTableCapacity, blockedStreams, maxFieldSectionSize uint64) Frame {
	return Frame{
		Kind: FrameTypeSettings,
		Settings: []Setting{
			{ID: SettingQPACKMaxTableCapacity, Value: maxTableCapacity},
			{ID: SettingQPACKBlockedStreams, Value: blockedStreams},
			{ID: SettingMaxFieldSectionSize, Value: maxFieldSectionSize},
		},
	}
}

// GetSetting returns the value of a setting by ID, if present.
func (f Frame) GetSetting(id uint64) (uint64, bool) {
	for _, s := range f.Settings {
		if s.ID == id {
			return s.Value, true
		}
	}
	return 0, false
}

// HeaderLen returns the number of bytes EncodeHeader will write for this
// frame's type+length prefix.
func (f Frame) HeaderLen() int {
	t, l := f.wireTypeAndLen()
	return varIntLen(uint64(t)) + varIntLen(l)
}

// EncodeHeader writes varint(type)·varint(length) into scratch and returns
// the number of bytes written. scratch must have capacity for at least
// 2*MaxVarIntLen bytes, per spec §4.1's "Encoding" note.
func (f Frame) EncodeHeader(scratch []byte) int {
	t, l := f.wireTypeAndLen()
	buf := scratch[:0]
	buf = appendVarInt(buf, uint64(t))
	buf = appendVarInt(buf, l)
	return len(buf)
}

// Payload returns the byte view to write after the header, for frame kinds
// whose payload isn't pre-serialized into a single field at construction
// time (SETTINGS, GOAWAY, MAX_PUSH_ID, CANCEL_PUSH, PUSH_PROMISE). DATA and
// HEADERS frames carry their payload directly in Data/Headers.
func (f Frame) Payload() []byte {
	switch f.Kind {
	case FrameTypeData:
		return f.Data
	case FrameTypeHeaders:
		return f.Headers
	case FrameTypeCancelPush:
		return appendVarInt(nil, f.CancelPushID)
	case FrameTypeSettings:
		var buf []byte
		for _, s := range f.Settings {
			buf = appendVarInt(buf, s.ID)
			buf = appendVarInt(buf, s.Value)
		}
		return buf
	case FrameTypePushPromise:
		buf := appendVarInt(nil, f.PushID)
		return append(buf, f.PushHeaderBlock...)
	case FrameTypeGoAway:
		return appendVarInt(nil, f.GoAwayID)
	case FrameTypeMaxPushID:
		return appendVarInt(nil, f.MaxPushID)
	default:
		return nil
	}
}

func (f Frame) wireTypeAndLen() (FrameType, uint64) {
	return f.Kind, uint64(len(f.Payload()))
}

// AppendTo appends the full wire encoding (header + payload) of f to buf and
// returns the extended slice. Callers that need to avoid copying a large
// DATA/HEADERS payload should instead use EncodeHeader followed by writing
// Payload() separately (this is what FrameWriter does).
func (f Frame) AppendTo(buf []byte) []byte {
	t, l := f.wireTypeAndLen()
	buf = appendVarInt(buf, uint64(t))
	buf = appendVarInt(buf, l)
	return append(buf, f.Payload()...)
}

// DataFrame constructs a Kind == FrameTypeData frame.
func DataFrame(payload []byte) Frame { return Frame{Kind: FrameTypeData, Data: payload} }

// HeadersFrame constructs a Kind == FrameTypeHeaders frame.
func HeadersFrame(encoded []byte) Frame { return Frame{Kind: FrameTypeHeaders, Headers: encoded} }

// ReservedFrame constructs a frame of an unrecognized/grease type, as
// produced by the decoder for frame kinds outside the known set.
func ReservedFrame(t FrameType) Frame { return Frame{Kind: t} }
