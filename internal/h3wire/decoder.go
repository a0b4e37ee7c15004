package h3wire

import "errors"

// ErrNeedMore is returned by Decoder.Decode when buf does not yet hold
// enough bytes to produce a frame. The buffer is left untouched (spec §3's
// "prefix completeness" property): a later call with more bytes appended
// must succeed as if decoding had started on the full sequence.
var ErrNeedMore = errors.New("h3wire: need more bytes")

// Decoder incrementally decodes a byte stream into HTTP/3 frames, per spec
// §4.1. It is not safe for concurrent use; each receive stream owns one.
type Decoder struct {
	partial  *PartialData
	expected int // minimum total bytes required before the next frame can be parsed
}

// NewDecoder returns a fresh decoder with no partial-frame state.
func NewDecoder() *Decoder { return &Decoder{} }

// Partial reports the in-progress DATA frame, if any, for observability.
func (d *Decoder) Partial() *PartialData { return d.partial }

// Decode attempts to produce the next frame from the front of buf.
//
//   - On success, returns the frame and the number of bytes consumed from
//     the front of buf; the caller advances its buffer by that amount.
//   - If buf doesn't yet hold enough bytes, returns (Frame{}, 0, ErrNeedMore)
//     without having interpreted any of buf as consumed.
//   - On a malformed frame, returns (Frame{}, 0, err) where err is an
//     *Error carrying the HTTP/3 code to reset the stream with.
func (d *Decoder) Decode(buf []byte) (Frame, int, error) {
	if d.partial != nil {
		chunk, n := d.partial.take(buf)
		if n == 0 {
			return Frame{}, 0, ErrNeedMore
		}
		out := append([]byte(nil), chunk...)
		if d.partial.done() {
			d.partial = nil
		}
		return DataFrame(out), n, nil
	}

	if d.expected > 0 && len(buf) < d.expected {
		return Frame{}, 0, ErrNeedMore
	}

	typ, length, headerLen, ok := peekFrameHeader(buf)
	if !ok {
		// Not even the type+length varints are fully present yet. We don't
		// know the eventual frame size, so we can't set `expected`; just
		// ask for more without consuming.
		d.expected = 0
		return Frame{}, 0, ErrNeedMore
	}

	frameType := FrameType(typ)
	haveFullPayload := uint64(len(buf)-headerLen) >= length

	if frameType == FrameTypeData && !haveFullPayload {
		avail := buf[headerLen:]
		d.partial = &PartialData{total: length, remaining: length}
		chunk, n := d.partial.take(avail)
		if n == 0 {
			// Nothing but the header is available yet; per spec §4.1 step 3
			// this still yields "need more" without consuming anything,
			// including the header, so a truncated-right-after-the-header
			// buffer round-trips identically whether or not we'd already
			// peeked it.
			d.partial = nil
			return Frame{}, 0, ErrNeedMore
		}
		out := append([]byte(nil), chunk...)
		if d.partial.done() {
			d.partial = nil
		}
		d.expected = 0
		return DataFrame(out), headerLen + n, nil
	}

	if !haveFullPayload {
		d.expected = headerLen + int(length)
		return Frame{}, 0, ErrNeedMore
	}

	payload := buf[headerLen : headerLen+int(length)]
	frame, err := decodeFramePayload(frameType, payload)
	if err != nil {
		return Frame{}, 0, err
	}
	d.expected = 0
	return frame, headerLen + int(length), nil
}

// peekFrameHeader reads the type and length varints from the front of buf
// without consuming. ok is false if either varint is not fully present.
func peekFrameHeader(buf []byte) (typ uint64, length uint64, headerLen int, ok bool) {
	t, n1, ok1 := decodeVarInt(buf)
	if !ok1 {
		return 0, 0, 0, false
	}
	l, n2, ok2 := decodeVarInt(buf[n1:])
	if !ok2 {
		return 0, 0, 0, false
	}
	return t, l, n1 + n2, true
}

func decodeFramePayload(typ FrameType, payload []byte) (Frame, error) {
	switch typ {
	case FrameTypeData:
		return DataFrame(append([]byte(nil), payload...)), nil
	case FrameTypeHeaders:
		return HeadersFrame(append([]byte(nil), payload...)), nil
	case FrameTypeCancelPush:
		id, n, ok := decodeVarInt(payload)
		if !ok || n != len(payload) {
			return Frame{}, ProtocolError(errors.New("malformed CANCEL_PUSH frame"))
		}
		return Frame{Kind: FrameTypeCancelPush, CancelPushID: id}, nil
	case FrameTypeSettings:
		settings, err := decodeSettings(payload)
		if err != nil {
			return Frame{}, SettingsError(err)
		}
		return Frame{Kind: FrameTypeSettings, Settings: settings}, nil
	case FrameTypePushPromise:
		id, n, ok := decodeVarInt(payload)
		if !ok {
			return Frame{}, ProtocolError(errors.New("malformed PUSH_PROMISE frame"))
		}
		return Frame{
			Kind:            FrameTypePushPromise,
			PushID:          id,
			PushHeaderBlock: append([]byte(nil), payload[n:]...),
		}, nil
	case FrameTypeGoAway:
		id, n, ok := decodeVarInt(payload)
		if !ok || n != len(payload) {
			return Frame{}, ProtocolError(errors.New("malformed GOAWAY frame"))
		}
		return Frame{Kind: FrameTypeGoAway, GoAwayID: id}, nil
	case FrameTypeMaxPushID:
		id, n, ok := decodeVarInt(payload)
		if !ok || n != len(payload) {
			return Frame{}, ProtocolError(errors.New("malformed MAX_PUSH_ID frame"))
		}
		return Frame{Kind: FrameTypeMaxPushID, MaxPushID: id}, nil
	default:
		// Grease / not-yet-defined frame kind: accept and let the caller
		// discard it (spec §3, §4.4).
		return ReservedFrame(typ), nil
	}
}

func decodeSettings(payload []byte) ([]Setting, error) {
	var settings []Setting
	for len(payload) > 0 {
		id, n1, ok := decodeVarInt(payload)
		if !ok {
			return nil, errors.New("truncated SETTINGS identifier")
		}
		payload = payload[n1:]
		value, n2, ok := decodeVarInt(payload)
		if !ok {
			return nil, errors.New("truncated SETTINGS value")
		}
		payload = payload[n2:]
		settings = append(settings, Setting{ID: id, Value: value})
	}
	return settings, nil
}
