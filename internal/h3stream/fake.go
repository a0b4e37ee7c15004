package h3stream

import (
	"context"
	"io"
	"sync"
)

// ResetError is returned by a FakeStream's Write/Read once the stream has
// been reset/stopped with CancelWrite/CancelRead, carrying the code the
// peer (or the local cancellation) used. Tests assert on errors.As(err,
// &resetErr) to recover the code a driver forwarded. Remote is set only by
// PeerStopSending, modeling a STOP_SENDING that arrived from the other
// side of the stream rather than a reset this side initiated.
type ResetError struct {
	Code   uint64
	Remote bool
}

func (e *ResetError) Error() string { return "h3stream: stream reset" }

// FakeStream is an in-memory Stream double for exercising SendDriver and
// RecvDriver without a real QUIC transport, grounded on the blocking
// reader/writer pattern quic-go itself uses (io.Reader/io.Writer backed by
// a pipe) rather than a channel-of-frames mock.
type FakeStream struct {
	id int64

	mu         sync.Mutex
	writeReset *ResetError
	readReset  *ResetError
	closed     bool

	pr *io.PipeReader
	pw *io.PipeWriter

	ctx    context.Context
	cancel context.CancelFunc
}

// NewFakeStreamPair returns two FakeStreams wired so that writes to the
// first are read by the second (modeling the client writing a request
// that the server reads), and vice versa for trailers/response.
func NewFakeStreamPair(id int64) (local, remote *FakeStream) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	local = newFakeStream(id, r1, w2)
	remote = newFakeStream(id, r2, w1)
	return local, remote
}

func newFakeStream(id int64, r *io.PipeReader, w *io.PipeWriter) *FakeStream {
	ctx, cancel := context.WithCancel(context.Background())
	return &FakeStream{id: id, pr: r, pw: w, ctx: ctx, cancel: cancel}
}

func (f *FakeStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.writeReset != nil {
		reset := f.writeReset
		f.mu.Unlock()
		return 0, reset
	}
	f.mu.Unlock()
	return f.pw.Write(p)
}

func (f *FakeStream) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.readReset != nil {
		reset := f.readReset
		f.mu.Unlock()
		return 0, reset
	}
	f.mu.Unlock()
	return f.pr.Read(p)
}

func (f *FakeStream) CancelWrite(code uint64) {
	f.mu.Lock()
	if f.writeReset == nil {
		f.writeReset = &ResetError{Code: code}
	}
	f.mu.Unlock()
	f.pw.CloseWithError(f.writeReset)
	f.cancel()
}

// PeerStopSending simulates a STOP_SENDING frame arriving from the other
// side of the stream, as opposed to CancelWrite, which this side calls on
// itself. Any Write blocked or yet to start unblocks with a Remote-flagged
// ResetError, and a subsequent PollStopped observes it.
func (f *FakeStream) PeerStopSending(code uint64) {
	f.mu.Lock()
	if f.writeReset == nil {
		f.writeReset = &ResetError{Code: code, Remote: true}
	}
	f.mu.Unlock()
	f.pw.CloseWithError(f.writeReset)
	f.cancel()
}

// PollStopped blocks until ctx is done or the send side's context ends,
// reporting the peer's code only if the end was a PeerStopSending rather
// than a local Close/CancelWrite.
func (f *FakeStream) PollStopped(ctx context.Context) (code uint64, ok bool, err error) {
	select {
	case <-f.ctx.Done():
		f.mu.Lock()
		reset := f.writeReset
		f.mu.Unlock()
		if reset != nil && reset.Remote {
			return reset.Code, true, nil
		}
		return 0, false, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

func (f *FakeStream) CancelRead(code uint64) {
	f.mu.Lock()
	if f.readReset == nil {
		f.readReset = &ResetError{Code: code}
	}
	f.mu.Unlock()
	f.pr.CloseWithError(f.readReset)
	f.cancel()
}

func (f *FakeStream) Close() error {
	f.mu.Lock()
	closed := f.closed
	f.closed = true
	f.mu.Unlock()
	if closed {
		return nil
	}
	err := f.pw.Close()
	f.cancel()
	return err
}

func (f *FakeStream) Context() context.Context { return f.ctx }

func (f *FakeStream) StreamID() int64 { return f.id }

// WriteResetCode reports the code a prior CancelWrite used, or ok=false.
func (f *FakeStream) WriteResetCode() (code uint64, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeReset == nil {
		return 0, false
	}
	return f.writeReset.Code, true
}

// ReadResetCode reports the code a prior CancelRead used, or ok=false.
func (f *FakeStream) ReadResetCode() (code uint64, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readReset == nil {
		return 0, false
	}
	return f.readReset.Code, true
}
