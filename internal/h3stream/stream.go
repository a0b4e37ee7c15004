// Package h3stream adapts QUIC stream halves to the shape the request and
// response drivers need, and implements FrameWriter: the buffered,
// cancellable write side of a single HTTP/3 frame (spec §4.2).
package h3stream

import (
	"context"
	"io"

	"github.com/sadewadee/h3core/internal/h3wire"
)

// SendHalf is the write side of a QUIC stream, as used by a SendDriver. It
// mirrors quic-go's send-stream API; QUICStream (quicadapter.go) adapts a
// real stream to it.
type SendHalf interface {
	io.Writer
	// CancelWrite resets the stream with the given application error code,
	// unblocking any in-flight Write from another goroutine.
	CancelWrite(code uint64)
	// Close sends a FIN, signalling a clean end of the stream's data.
	Close() error
	// Context is done once the stream is closed, reset, or its peer has
	// sent STOP_SENDING.
	Context() context.Context
	// PollStopped blocks until ctx is done or the peer has sent
	// STOP_SENDING on this stream (spec §4.2's poll_stopped), returning the
	// peer's reported error code in the latter case. ok is false if the
	// stream ended for any other reason (local close, local reset, or ctx
	// itself ending first); err is non-nil only when ctx ended first.
	PollStopped(ctx context.Context) (code uint64, ok bool, err error)
}

// RecvHalf is the read side of a QUIC stream, as used by a RecvDriver.
type RecvHalf interface {
	io.Reader
	// CancelRead sends STOP_SENDING with the given application error code,
	// unblocking any in-flight Read from another goroutine.
	CancelRead(code uint64)
	Context() context.Context
}

// Stream bundles both halves of a bidirectional QUIC stream, the shape a
// request/response pair shares (spec §3's "shared connection object").
type Stream interface {
	SendHalf
	RecvHalf
	StreamID() int64
}

// FrameWriter writes a frame's header and then its payload to a SendHalf,
// honoring cancellation mid-write (spec §4.2). It keeps no per-frame
// state, so one FrameWriter can write a sequence of frames to the same
// stream.
type FrameWriter struct {
	dst SendHalf
}

// NewFrameWriter returns a FrameWriter targeting dst.
func NewFrameWriter(dst SendHalf) *FrameWriter { return &FrameWriter{dst: dst} }

// Target returns the SendHalf this writer writes to, for a caller that
// needs to perform a final operation (e.g. Close) on the same stream
// once framing is done. FrameWriter never takes ownership away from the
// caller in this implementation, unlike quinn-h3's SendStream-by-value
// future; the caller is expected to serialize its own use of dst with
// WriteFrame calls.
func (w *FrameWriter) Target() SendHalf { return w.dst }

// WriteFrame writes f's header followed by its payload. It blocks until
// both are flushed to dst or the write is interrupted by a concurrent
// Reset/stream error. DATA and HEADERS frames write their payload directly
// from f.Data/f.Headers without going through Frame.Payload()'s allocation,
// so large bodies don't get copied an extra time.
func (w *FrameWriter) WriteFrame(f h3wire.Frame) error {
	var scratch [2 * h3wire.MaxVarIntLen]byte
	n := f.EncodeHeader(scratch[:])
	if _, err := w.dst.Write(scratch[:n]); err != nil {
		return h3wire.IOError(err)
	}

	payload := f.Data
	if f.Kind != h3wire.FrameTypeData {
		payload = f.Payload()
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.dst.Write(payload); err != nil {
		return h3wire.IOError(err)
	}
	return nil
}

// Reset forwards a stream reset with the given HTTP/3 error code, per
// spec §4.2's "cancellation interrupts an in-flight write" requirement.
// Safe to call concurrently with WriteFrame: quic-go's CancelWrite
// unblocks a goroutine blocked in Write on the same stream.
func (w *FrameWriter) Reset(code h3wire.ErrorCode) {
	w.dst.CancelWrite(uint64(code))
}

// PollStopped delegates to the underlying SendHalf, mirroring quinn-h3's
// WriteFrame::poll_stopped. Safe to call concurrently with WriteFrame.
func (w *FrameWriter) PollStopped(ctx context.Context) (h3wire.ErrorCode, bool, error) {
	code, ok, err := w.dst.PollStopped(ctx)
	return h3wire.ErrorCode(code), ok, err
}
