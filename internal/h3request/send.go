// Package h3request implements SendDriver (spec §4.3): the state machine
// that writes a request or response's headers, body, and optional
// trailers onto a send stream, grounded on quinn-h3's SendData future.
package h3request

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sadewadee/h3core/internal/h3conn"
	"github.com/sadewadee/h3core/internal/h3stream"
	"github.com/sadewadee/h3core/internal/h3wire"
)

// State is a SendDriver's current position in the state machine of
// spec §4.3.
type State int

const (
	StateInitial State = iota
	StateWritingHeaders
	StatePollingBody
	StateWritingDataFrame
	StatePollingTrailers
	StateWritingTrailers
	StateClosing
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateWritingHeaders:
		return "WritingHeaders"
	case StatePollingBody:
		return "PollingBody"
	case StateWritingDataFrame:
		return "WritingDataFrame"
	case StatePollingTrailers:
		return "PollingTrailers"
	case StateWritingTrailers:
		return "WritingTrailers"
	case StateClosing:
		return "Closing"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// ErrBodyFailed wraps an error returned by a BodyProducer, surfaced to the
// upper layer as a body error per spec §7 ("Body producer errors").
var ErrBodyFailed = errors.New("h3request: body producer failed")

// BodyProducer is the lazy, finite source SendDriver pulls chunks and an
// optional trailer block from (spec §6, "Body producer").
type BodyProducer interface {
	// NextChunk returns the next body chunk. ok is false once the body is
	// exhausted (no more chunks, proceed to trailers); err is non-nil only
	// on producer failure.
	NextChunk(ctx context.Context) (chunk []byte, ok bool, err error)
	// Trailers returns an optional trailer header block, fetched once
	// after the body is exhausted. ok is false if there are no trailers.
	Trailers(ctx context.Context) (trailer h3conn.Header, ok bool, err error)
}

// NoTrailers is a BodyProducer.Trailers implementation for producers that
// never send trailers.
func NoTrailers(context.Context) (h3conn.Header, bool, error) { return h3conn.Header{}, false, nil }

// SendDriver drives a single request or response's send side to
// completion, per spec §4.3. Not safe for concurrent Run calls; Cancel
// may be called concurrently with Run from another goroutine.
type SendDriver struct {
	conn     *h3conn.ConnectionRef
	streamID int64
	header   h3conn.Header
	body     BodyProducer
	finish   bool

	mu       sync.Mutex
	state    State
	send     h3stream.SendHalf // nil once consumed by the active FrameWriter
	fw       *h3stream.FrameWriter
	cancelFn context.CancelFunc
	canceled bool
	started  bool
	returned bool
}

// NewSendDriver constructs a SendDriver in state Initial. finish mirrors
// spec §4.3's constructor flag: whether completing this send must notify
// conn.RequestFinished(streamID).
func NewSendDriver(send h3stream.SendHalf, streamID int64, conn *h3conn.ConnectionRef, header h3conn.Header, body BodyProducer, finish bool) *SendDriver {
	return &SendDriver{
		conn:     conn,
		streamID: streamID,
		header:   header,
		body:     body,
		finish:   finish,
		state:    StateInitial,
		send:     send,
	}
}

// State reports the driver's current state.
func (d *SendDriver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run drives the state machine to completion, blocking on writes and body
// polls as they occur (the goroutine-per-driver translation of spec §9's
// coroutine model). It returns nil on success, or the error that failed
// the driver. Calling Run more than once, or after Cancel, panics.
func (d *SendDriver) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.returned {
		d.mu.Unlock()
		panic("h3request: SendDriver.Run called after driver finished")
	}
	if d.state == StateFinished {
		d.mu.Unlock()
		panic("h3request: SendDriver.Run called after Cancel")
	}
	if d.started {
		d.mu.Unlock()
		panic("h3request: SendDriver.Run called concurrently")
	}
	d.started = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.returned = true
		d.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.cancelFn = cancel
	d.mu.Unlock()

	for {
		d.mu.Lock()
		state := d.state
		d.mu.Unlock()

		switch state {
		case StateInitial:
			frame, err := d.conn.EncodeHeader(d.streamID, d.header)
			if err != nil {
				return d.fail(fmt.Errorf("h3request: encode headers: %w", err))
			}
			d.mu.Lock()
			d.fw = h3stream.NewFrameWriter(d.send)
			d.send = nil
			d.mu.Unlock()
			d.setState(StateWritingHeaders)
			if err := d.fw.WriteFrame(frame); err != nil {
				return d.fail(fmt.Errorf("h3request: write headers frame: %w", err))
			}
			d.setState(StatePollingBody)

		case StatePollingBody:
			chunk, ok, err := d.body.NextChunk(ctx)
			if err != nil {
				d.resetStream(h3wire.ErrCodeRequestCancelled)
				return d.fail(fmt.Errorf("%w: %v", ErrBodyFailed, err))
			}
			if !ok {
				d.setState(StatePollingTrailers)
				continue
			}
			d.setState(StateWritingDataFrame)
			if err := d.fw.WriteFrame(h3wire.DataFrame(chunk)); err != nil {
				return d.fail(fmt.Errorf("h3request: write data frame: %w", err))
			}
			d.setState(StatePollingBody)

		case StatePollingTrailers:
			trailer, ok, err := d.body.Trailers(ctx)
			if err != nil {
				d.resetStream(h3wire.ErrCodeRequestCancelled)
				return d.fail(fmt.Errorf("%w: %v", ErrBodyFailed, err))
			}
			if !ok {
				d.setState(StateClosing)
				continue
			}
			trailer.Trailer = true
			frame, err := d.conn.EncodeHeader(d.streamID, trailer)
			if err != nil {
				return d.fail(fmt.Errorf("h3request: encode trailers: %w", err))
			}
			d.setState(StateWritingTrailers)
			if err := d.fw.WriteFrame(frame); err != nil {
				return d.fail(fmt.Errorf("h3request: write trailers frame: %w", err))
			}
			d.setState(StateClosing)

		case StateClosing:
			d.mu.Lock()
			send := d.fw.Target()
			d.mu.Unlock()
			if err := send.Close(); err != nil {
				return d.fail(fmt.Errorf("h3request: finish stream: %w", err))
			}
			if d.finish {
				d.conn.RequestFinished(d.streamID)
			}
			d.finishWith(StateFinished)
			return nil

		case StateFinished:
			return nil

		default:
			panic("h3request: SendDriver in unknown state")
		}
	}
}

// fail finalizes the driver after err, except in two cases spec §7 says
// are not errors at all: our own Cancel-induced reset ("Local cancellation
// — not an error; driver transitions to Finished, returns success"), and a
// write unblocked by the peer's own STOP_SENDING ("Peer stop — not an
// error; reported via poll_stopped's Some(code) result instead"). In the
// latter case the code itself isn't lost: PollStopped recovers it directly
// from the stream, independently of how the write failed.
func (d *SendDriver) fail(err error) error {
	d.mu.Lock()
	wasCancelled := d.canceled
	d.state = StateFinished
	d.mu.Unlock()
	if wasCancelled {
		return nil
	}
	if _, ok := h3stream.IsRemoteStop(err); ok {
		return nil
	}
	return err
}

// PollStopped blocks until ctx is done or the peer has sent STOP_SENDING
// on this request's stream, mirroring quinn-h3's SendData::poll_stopped.
// It delegates to the FrameWriter once Run has created one (from the
// headers write onward, including after Run has returned), else to the
// raw send stream, else reports no signal.
func (d *SendDriver) PollStopped(ctx context.Context) (h3wire.ErrorCode, bool, error) {
	d.mu.Lock()
	fw := d.fw
	send := d.send
	finished := d.state == StateFinished
	d.mu.Unlock()

	switch {
	case fw != nil:
		return fw.PollStopped(ctx)
	case send != nil:
		code, ok, err := send.PollStopped(ctx)
		return h3wire.ErrorCode(code), ok, err
	case finished:
		return 0, false, nil
	default:
		return 0, false, nil
	}
}

// Cancel aborts the send, forwarding REQUEST_CANCELLED to whichever
// stream handle is currently live, per spec §4.3. Idempotent; safe to
// call concurrently with Run. Unlike a body-producer failure, this path
// is not an error: Run returns nil once the cancellation takes effect.
func (d *SendDriver) Cancel() {
	d.mu.Lock()
	if d.state == StateFinished {
		d.mu.Unlock()
		return
	}
	d.canceled = true
	cancelFn := d.cancelFn
	d.mu.Unlock()

	d.resetStream(h3wire.ErrCodeRequestCancelled)
	if cancelFn != nil {
		cancelFn()
	}
}

// resetStream forwards code to whichever stream handle is currently
// live: the FrameWriter once Run has created one, else the raw send
// stream, per spec §4.3's cancellation rule. It does not by
// itself mark the driver as owner-cancelled — callers handling a body
// producer failure use this to reset the stream while still reporting
// the failure to Run's caller.
func (d *SendDriver) resetStream(code h3wire.ErrorCode) {
	d.mu.Lock()
	if d.state == StateFinished {
		d.mu.Unlock()
		return
	}
	fw := d.fw
	send := d.send
	d.state = StateFinished
	d.mu.Unlock()

	switch {
	case fw != nil:
		fw.Reset(code)
	case send != nil:
		send.CancelWrite(uint64(code))
	}
}

func (d *SendDriver) setState(s State) {
	d.mu.Lock()
	if d.state != StateFinished {
		d.state = s
	}
	d.mu.Unlock()
}

func (d *SendDriver) finishWith(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}
