package h3stream

import (
	"context"
	"errors"

	"github.com/quic-go/quic-go"
)

// QUICStream adapts a real *quic.Stream to the Stream interface, letting
// the drivers talk to quic-go without depending on its package directly
// outside this package.
type QUICStream struct {
	s *quic.Stream
}

// NewQUICStream wraps s.
func NewQUICStream(s *quic.Stream) *QUICStream { return &QUICStream{s: s} }

func (q *QUICStream) Write(p []byte) (int, error) { return q.s.Write(p) }
func (q *QUICStream) Read(p []byte) (int, error)  { return q.s.Read(p) }

func (q *QUICStream) CancelWrite(code uint64) {
	q.s.CancelWrite(quic.StreamErrorCode(code))
}

func (q *QUICStream) CancelRead(code uint64) {
	q.s.CancelRead(quic.StreamErrorCode(code))
}

func (q *QUICStream) Close() error { return q.s.Close() }

func (q *QUICStream) Context() context.Context { return q.s.Context() }

func (q *QUICStream) StreamID() int64 { return int64(q.s.StreamID()) }

// PollStopped waits for the send side's context to end, then inspects its
// cancellation cause: quic-go resolves that context with a *quic.StreamError
// whose Remote field is set when the peer, not us, ended the stream (a
// STOP_SENDING), distinguishing it from a local Close/CancelWrite.
func (q *QUICStream) PollStopped(ctx context.Context) (code uint64, ok bool, err error) {
	select {
	case <-q.s.Context().Done():
		var streamErr *quic.StreamError
		if errors.As(context.Cause(q.s.Context()), &streamErr) && streamErr.Remote {
			return uint64(streamErr.ErrorCode), true, nil
		}
		return 0, false, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}
