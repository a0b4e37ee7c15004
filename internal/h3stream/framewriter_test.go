package h3stream

import (
	"context"
	"testing"
	"time"

	"github.com/sadewadee/h3core/internal/h3wire"
)

func TestFrameWriterWritesHeaderAndPayload(t *testing.T) {
	local, remote := NewFakeStreamPair(1)
	defer local.Close()
	defer remote.Close()

	w := NewFrameWriter(local)
	done := make(chan error, 1)
	go func() {
		done <- w.WriteFrame(h3wire.HeadersFrame([]byte("salut")))
	}()

	d := h3wire.NewDecoder()
	var buf []byte
	chunk := make([]byte, 64)
	for {
		n, err := remote.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if frame, consumed, derr := d.Decode(buf); derr == nil {
			if frame.Kind != h3wire.FrameTypeHeaders || string(frame.Headers) != "salut" {
				t.Fatalf("got %+v", frame)
			}
			buf = buf[consumed:]
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
}

func TestFrameWriterResetUnblocksWrite(t *testing.T) {
	local, remote := NewFakeStreamPair(2)
	defer remote.Close()

	w := NewFrameWriter(local)
	// A big DATA frame that won't fit in the pipe's implicit buffering, so
	// the payload Write blocks until either a reader drains it or the
	// stream is reset.
	big := make([]byte, 1<<20)
	done := make(chan error, 1)
	go func() {
		done <- w.WriteFrame(h3wire.DataFrame(big))
	}()

	w.Reset(h3wire.ErrCodeRequestCancelled)

	select {
	case <-done:
	case <-local.Context().Done():
	}

	code, ok := local.WriteResetCode()
	if !ok || h3wire.ErrorCode(code) != h3wire.ErrCodeRequestCancelled {
		t.Fatalf("WriteResetCode = %v, %v; want REQUEST_CANCELLED", code, ok)
	}
}

func TestFrameWriterPollStoppedPendingUntilPeerStops(t *testing.T) {
	local, remote := NewFakeStreamPair(3)
	defer remote.Close()

	w := NewFrameWriter(local)

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok, err := w.PollStopped(shortCtx); ok || err == nil {
		t.Fatalf("PollStopped before any stop = ok=%v err=%v, want pending (ctx deadline error)", ok, err)
	}

	local.PeerStopSending(uint64(h3wire.ErrCodeRequestCancelled))

	code, ok, err := w.PollStopped(context.Background())
	if err != nil || !ok || code != h3wire.ErrCodeRequestCancelled {
		t.Fatalf("PollStopped after peer stop = code=%v ok=%v err=%v, want REQUEST_CANCELLED,true,nil", code, ok, err)
	}
}

func TestFrameWriterPollStoppedIgnoresLocalReset(t *testing.T) {
	local, remote := NewFakeStreamPair(4)
	defer remote.Close()

	w := NewFrameWriter(local)
	w.Reset(h3wire.ErrCodeRequestCancelled)

	if _, ok, err := w.PollStopped(context.Background()); ok || err != nil {
		t.Fatalf("PollStopped after a local reset = ok=%v err=%v, want ok=false, err=nil (not a peer stop)", ok, err)
	}
}
