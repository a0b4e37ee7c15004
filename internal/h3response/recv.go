// Package h3response implements RecvDriver (spec §4.4): the state machine
// that reads the head of one request or response off a receive stream and
// hands the remainder to a BodyReader, grounded on quinn-h3's RecvData
// future.
package h3response

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sadewadee/h3core/internal/h3conn"
	"github.com/sadewadee/h3core/internal/h3stream"
	"github.com/sadewadee/h3core/internal/h3wire"
)

// State is a RecvDriver's current position in the state machine of
// spec §4.4.
type State int

const (
	StateReceiving State = iota
	StateDecoding
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateReceiving:
		return "Receiving"
	case StateDecoding:
		return "Decoding"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// ErrPeerMisbehaved reports that the peer violated the protocol on this
// stream: an unexpected first frame, or the stream ending before any
// headers arrived.
var ErrPeerMisbehaved = errors.New("h3response: peer misbehaved")

// frameSource decodes a stream of HTTP/3 frames off a RecvHalf, feeding
// h3wire.Decoder as bytes arrive. It is shared between RecvDriver (which
// consumes the first Headers frame) and the BodyReader RecvDriver hands
// off on success (which consumes everything after).
type frameSource struct {
	recv h3stream.RecvHalf
	conn *h3conn.ConnectionRef
	dec  *h3wire.Decoder
	buf  []byte
	eof  bool
}

func newFrameSource(recv h3stream.RecvHalf, conn *h3conn.ConnectionRef) *frameSource {
	return &frameSource{recv: recv, conn: conn, dec: h3wire.NewDecoder()}
}

// next decodes and returns the next frame, reading more bytes from the
// stream as needed. It returns io.EOF once the stream has ended cleanly
// with no further frame outstanding.
func (s *frameSource) next() (h3wire.Frame, error) {
	readBuf := make([]byte, 4096)
	for {
		f, n, err := s.dec.Decode(s.buf)
		if err == nil {
			s.buf = s.buf[n:]
			return f, nil
		}
		if err != h3wire.ErrNeedMore {
			return h3wire.Frame{}, err
		}
		if s.eof {
			return h3wire.Frame{}, io.EOF
		}
		nr, rerr := s.recv.Read(readBuf)
		if nr > 0 {
			s.buf = append(s.buf, readBuf[:nr]...)
		}
		if rerr != nil {
			if rerr == io.EOF {
				s.eof = true
				continue
			}
			return h3wire.Frame{}, h3wire.IOError(rerr)
		}
	}
}

// RecvDriver drives a single request or response's receive side up to and
// including the first Headers frame, per spec §4.4. Not safe for
// concurrent Run calls; Cancel may be called concurrently with Run.
type RecvDriver struct {
	conn     *h3conn.ConnectionRef
	streamID int64

	mu       sync.Mutex
	state    State
	src      *frameSource // nil once handed off to a BodyReader
	recv     h3stream.RecvHalf
	started  bool
	returned bool
}

// NewRecvDriver constructs a RecvDriver in state Receiving, reading
// frames from recv.
func NewRecvDriver(recv h3stream.RecvHalf, streamID int64, conn *h3conn.ConnectionRef) *RecvDriver {
	return &RecvDriver{
		conn:     conn,
		streamID: streamID,
		state:    StateReceiving,
		src:      newFrameSource(recv, conn),
		recv:     recv,
	}
}

// State reports the driver's current state.
func (d *RecvDriver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run drives the state machine until the first Headers frame is decoded
// (or the attempt fails), blocking on reads and the QPACK decode as they
// occur. On success it returns the decoded header block and a BodyReader
// for everything after. Calling Run more than once, concurrently or
// after a prior call returned, panics.
func (d *RecvDriver) Run(ctx context.Context) (h3conn.Header, *BodyReader, error) {
	d.mu.Lock()
	if d.returned {
		d.mu.Unlock()
		panic("h3response: RecvDriver.Run called after driver finished")
	}
	if d.started {
		d.mu.Unlock()
		panic("h3response: RecvDriver.Run called concurrently")
	}
	d.started = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.returned = true
		d.mu.Unlock()
	}()

	for {
		d.mu.Lock()
		state := d.state
		src := d.src
		d.mu.Unlock()
		if state == StateFinished {
			return h3conn.Header{}, nil, fmt.Errorf("h3response: driver reset before completion")
		}

		switch state {
		case StateReceiving:
			frame, err := src.next()
			if err == io.EOF {
				d.finishWith(StateFinished)
				return h3conn.Header{}, nil, fmt.Errorf("%w: stream ended before headers", ErrPeerMisbehaved)
			}
			if err != nil {
				code := h3wire.ErrCodeGeneralProtocolError
				var werr *h3wire.Error
				if errors.As(err, &werr) {
					code = werr.Code()
				}
				src.recv.CancelRead(uint64(code))
				d.finishWith(StateFinished)
				return h3conn.Header{}, nil, fmt.Errorf("h3response: decode frame: %w", err)
			}
			if frame.IsReserved() {
				continue
			}
			if frame.Kind != h3wire.FrameTypeHeaders {
				src.recv.CancelRead(uint64(h3wire.ErrCodeFrameUnexpected))
				d.finishWith(StateFinished)
				return h3conn.Header{}, nil, fmt.Errorf("%w: first frame is %v, not HEADERS", ErrPeerMisbehaved, frame.Kind)
			}
			d.mu.Lock()
			d.state = StateDecoding
			pending := frame
			d.mu.Unlock()

			header, err := d.conn.DecodeHeader(ctx, pending, false)
			if err != nil {
				src.recv.CancelRead(uint64(h3wire.ErrCodeQPACKDecompressionFailed))
				d.finishWith(StateFinished)
				return h3conn.Header{}, nil, fmt.Errorf("h3response: decode headers: %w", err)
			}
			d.finishWith(StateFinished)
			return header, newBodyReader(src), nil

		default:
			panic("h3response: RecvDriver in unknown state")
		}
	}
}

// Cancel aborts the receive, sending STOP_SENDING to the stream if it is
// still owned by this driver (i.e. Run hasn't yet handed it off to a
// BodyReader). Idempotent; safe to call concurrently with Run.
func (d *RecvDriver) Cancel(code h3wire.ErrorCode) {
	d.mu.Lock()
	if d.state == StateFinished {
		d.mu.Unlock()
		return
	}
	recv := d.recv
	d.state = StateFinished
	d.mu.Unlock()
	if recv != nil {
		recv.CancelRead(uint64(code))
	}
}

func (d *RecvDriver) finishWith(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}
