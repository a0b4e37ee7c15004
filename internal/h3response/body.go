package h3response

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sadewadee/h3core/internal/h3conn"
	"github.com/sadewadee/h3core/internal/h3wire"
)

// BodyReader wraps the receive stream RecvDriver detaches once it has
// decoded the first Headers frame, per spec §4.4/§6 ("Body reader"). It
// yields DATA payload chunks incrementally, honoring PartialData
// semantics, then an optional trailing header block, then end-of-stream.
// A BodyReader satisfies h3request.BodyProducer's read-side mirror: it is
// itself driven from the caller's goroutine, with no internal one.
type BodyReader struct {
	src *frameSource

	mu           sync.Mutex
	done         bool
	trailerFrame *h3wire.Frame
}

func newBodyReader(src *frameSource) *BodyReader {
	return &BodyReader{src: src}
}

// NextChunk returns the next DATA payload chunk, one PartialData delivery
// at a time (so a large DATA frame surfaces incrementally rather than
// waiting for the whole frame to arrive). ok is false once the body is
// exhausted: either a Headers frame (trailers) or end-of-stream was
// reached, and the caller should call Trailers next.
func (b *BodyReader) NextChunk(ctx context.Context) (chunk []byte, ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil, false, nil
	}

	for {
		frame, err := b.src.next()
		if err == io.EOF {
			b.done = true
			return nil, false, nil
		}
		if err != nil {
			code := h3wire.ErrCodeGeneralProtocolError
			var werr *h3wire.Error
			if errors.As(err, &werr) {
				code = werr.Code()
			}
			b.src.recv.CancelRead(uint64(code))
			b.done = true
			return nil, false, fmt.Errorf("h3response: decode frame: %w", err)
		}
		if frame.IsReserved() {
			continue
		}
		if frame.Kind == h3wire.FrameTypeData {
			if len(frame.Data) == 0 {
				continue
			}
			return frame.Data, true, nil
		}
		if frame.Kind == h3wire.FrameTypeHeaders {
			// A Headers frame on the body stream is the trailer block;
			// stash it for Trailers and signal body exhaustion.
			b.trailerFrame = &frame
			return nil, false, nil
		}
		b.src.recv.CancelRead(uint64(h3wire.ErrCodeFrameUnexpected))
		b.done = true
		return nil, false, fmt.Errorf("%w: unexpected frame %v in body", ErrPeerMisbehaved, frame.Kind)
	}
}

// Trailers returns the trailer header block, if the stream carried one.
// Must be called only after NextChunk has returned ok=false with a nil
// error; calling it earlier, or more than once, is a programmer error.
func (b *BodyReader) Trailers(ctx context.Context) (h3conn.Header, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trailerFrame == nil {
		return h3conn.Header{}, false, nil
	}
	frame := *b.trailerFrame
	b.trailerFrame = nil
	header, err := b.src.conn.DecodeHeader(ctx, frame, true)
	if err != nil {
		b.src.recv.CancelRead(uint64(h3wire.ErrCodeQPACKDecompressionFailed))
		return h3conn.Header{}, false, fmt.Errorf("h3response: decode trailers: %w", err)
	}
	return header, true, nil
}
