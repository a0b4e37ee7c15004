// Package h3diag implements frame-level tracing for offline debugging,
// the spiritual descendant of the teacher's internal/protocol wire-frame
// tracing, repointed at HTTP/3 frames instead of PHP-worker frames.
package h3diag

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sadewadee/h3core/internal/h3wire"
)

// Magic bytes identify an h3diag trace record, mirroring the teacher's
// internal/protocol.Magic convention for its own wire frames.
var Magic = [2]byte{0x48, 0x33} // "H3"

// Version is the current trace record format version.
const Version uint8 = 0x01

// recordHeaderSize is magic(2) + version(1) + length(4).
const recordHeaderSize = 7

// Direction distinguishes a traced frame's travel direction on the wire.
type Direction uint8

const (
	DirectionSend Direction = iota
	DirectionRecv
)

func (d Direction) String() string {
	if d == DirectionRecv {
		return "recv"
	}
	return "send"
}

// TraceEvent is a single traced frame, msgpack-encoded for the sink.
type TraceEvent struct {
	StreamID     int64     `msgpack:"stream_id"`
	Kind         uint64    `msgpack:"kind"`
	Direction    Direction `msgpack:"direction"`
	OffsetMillis int64     `msgpack:"offset_ms"`
	ByteLen      int       `msgpack:"byte_len"`
}

// Tracer writes TraceEvent records to a sink, serialized via
// vmihailenco/msgpack/v5 exactly as the teacher's
// internal/protocol.MarshalMsgpack/UnmarshalMsgpack do for its own
// frames, framed with a small magic+version+length header so a reader
// can resynchronize on a truncated file.
type Tracer struct {
	w     io.Writer
	start time.Time
}

// NewTracer returns a Tracer writing to w. Every OffsetMillis recorded is
// relative to the moment NewTracer was called.
func NewTracer(w io.Writer) *Tracer {
	return &Tracer{w: w, start: time.Now()}
}

// Trace records one frame's metadata: which stream it belongs to, its
// kind, direction, and payload length.
func (t *Tracer) Trace(streamID int64, kind h3wire.FrameType, dir Direction, byteLen int) error {
	ev := TraceEvent{
		StreamID:     streamID,
		Kind:         uint64(kind),
		Direction:    dir,
		OffsetMillis: time.Since(t.start).Milliseconds(),
		ByteLen:      byteLen,
	}
	return WriteEvent(t.w, ev)
}

// WriteEvent msgpack-encodes ev and writes it to w as a single
// magic-prefixed, length-prefixed record.
func WriteEvent(w io.Writer, ev TraceEvent) error {
	payload, err := msgpack.Marshal(ev)
	if err != nil {
		return fmt.Errorf("h3diag: marshal trace event: %w", err)
	}

	header := make([]byte, recordHeaderSize)
	header[0], header[1] = Magic[0], Magic[1]
	header[2] = Version
	binary.BigEndian.PutUint32(header[3:7], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("h3diag: write record header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("h3diag: write record payload: %w", err)
	}
	return nil
}

// ReadEvent reads and decodes the next trace record from r.
func ReadEvent(r io.Reader) (TraceEvent, error) {
	header := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return TraceEvent{}, fmt.Errorf("h3diag: read record header: %w", err)
	}
	if header[0] != Magic[0] || header[1] != Magic[1] {
		return TraceEvent{}, fmt.Errorf("h3diag: invalid magic bytes: 0x%02x%02x", header[0], header[1])
	}
	if header[2] != Version {
		return TraceEvent{}, fmt.Errorf("h3diag: unsupported trace record version: %d", header[2])
	}
	length := binary.BigEndian.Uint32(header[3:7])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return TraceEvent{}, fmt.Errorf("h3diag: read record payload: %w", err)
	}

	var ev TraceEvent
	if err := msgpack.Unmarshal(payload, &ev); err != nil {
		return TraceEvent{}, fmt.Errorf("h3diag: unmarshal trace event: %w", err)
	}
	return ev, nil
}
