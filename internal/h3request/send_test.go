package h3request

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sadewadee/h3core/internal/h3conn"
	"github.com/sadewadee/h3core/internal/h3stream"
	"github.com/sadewadee/h3core/internal/h3wire"
)

// chunkProducer is a fixed-size BodyProducer used by these tests: it
// yields each of chunks in order, then the given trailer (if any).
type chunkProducer struct {
	chunks  [][]byte
	trailer h3conn.Header
	hasTr   bool

	idx int

	blockOn   int  // index into chunks to block on until release is closed
	release   chan struct{}
	failAfter int // if >= 0, NextChunk fails once idx reaches this value
}

func (p *chunkProducer) NextChunk(ctx context.Context) ([]byte, bool, error) {
	if p.failAfter >= 0 && p.idx == p.failAfter {
		return nil, false, errors.New("producer exploded")
	}
	if p.idx == p.blockOn && p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	if p.idx >= len(p.chunks) {
		return nil, false, nil
	}
	c := p.chunks[p.idx]
	p.idx++
	return c, true, nil
}

func (p *chunkProducer) Trailers(ctx context.Context) (h3conn.Header, bool, error) {
	return p.trailer, p.hasTr, nil
}

func decodeAllFrames(t *testing.T, raw []byte) []h3wire.Frame {
	t.Helper()
	dec := h3wire.NewDecoder()
	var frames []h3wire.Frame
	buf := raw
	for len(buf) > 0 {
		f, n, err := dec.Decode(buf)
		if err == h3wire.ErrNeedMore {
			break
		}
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		buf = buf[n:]
		frames = append(frames, f)
	}
	return frames
}

// drainRemote reads everything written to remote until it's closed or
// reset, for later decoding.
func drainRemote(remote *h3stream.FakeStream) []byte {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := remote.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return out
		}
	}
}

func TestSendDriverOrdering(t *testing.T) {
	local, remote := h3stream.NewFakeStreamPair(1)
	conn := h3conn.NewConnectionRef(nil)

	body := &chunkProducer{
		chunks:    [][]byte{[]byte("chunk-1"), []byte("chunk-2")},
		trailer:   h3conn.Header{},
		hasTr:     true,
		failAfter: -1,
	}
	body.trailer.Add("x-trailer", "yes")

	req := h3conn.Header{Pseudo: h3conn.PseudoHeaders{Method: "GET", Scheme: "https", Authority: "example.com", Path: "/"}}
	drv := NewSendDriver(local, 1, conn, req, body, true)
	conn.RegisterInFlight(1)

	raw := make(chan []byte, 1)
	go func() { raw <- drainRemote(remote) }()

	if err := drv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data := <-raw
	frames := decodeAllFrames(t, data)
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames (headers, data, data, trailers), got %d: %+v", len(frames), frames)
	}
	if frames[0].Kind != h3wire.FrameTypeHeaders {
		t.Fatalf("frame 0 = %v, want HEADERS", frames[0].Kind)
	}
	if frames[1].Kind != h3wire.FrameTypeData || string(frames[1].Data) != "chunk-1" {
		t.Fatalf("frame 1 = %+v, want DATA chunk-1", frames[1])
	}
	if frames[2].Kind != h3wire.FrameTypeData || string(frames[2].Data) != "chunk-2" {
		t.Fatalf("frame 2 = %+v, want DATA chunk-2", frames[2])
	}
	if frames[3].Kind != h3wire.FrameTypeHeaders {
		t.Fatalf("frame 3 = %v, want HEADERS (trailers)", frames[3].Kind)
	}
	if conn.InFlightCount() != 0 {
		t.Fatalf("expected RequestFinished to have been called, InFlightCount = %d", conn.InFlightCount())
	}
}

func TestSendDriverCancelDuringBody(t *testing.T) {
	local, remote := h3stream.NewFakeStreamPair(1)
	conn := h3conn.NewConnectionRef(nil)

	body := &chunkProducer{
		chunks:    [][]byte{[]byte("a"), []byte("b"), []byte("c")},
		blockOn:   1,
		release:   make(chan struct{}),
		failAfter: -1,
	}

	req := h3conn.Header{Pseudo: h3conn.PseudoHeaders{Method: "GET"}}
	drv := NewSendDriver(local, 1, conn, req, body, true)

	go drainRemote(remote)

	done := make(chan error, 1)
	go func() { done <- drv.Run(context.Background()) }()

	// Wait until the driver is polling the body; it stays there once it
	// reaches chunk index 1, whose release is never closed.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if drv.State() == StatePollingBody {
			break
		}
		time.Sleep(time.Millisecond)
	}

	drv.Cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after Cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}

	if code, ok := local.WriteResetCode(); !ok || code != uint64(h3wire.ErrCodeRequestCancelled) {
		t.Fatalf("WriteResetCode = %d,%v, want %d,true", code, ok, h3wire.ErrCodeRequestCancelled)
	}

	// Second cancel is a no-op.
	drv.Cancel()
	if drv.State() != StateFinished {
		t.Fatalf("state after second Cancel = %v, want Finished", drv.State())
	}
}

func TestSendDriverBodyFailureReportsError(t *testing.T) {
	local, remote := h3stream.NewFakeStreamPair(1)
	conn := h3conn.NewConnectionRef(nil)

	body := &chunkProducer{
		chunks:    [][]byte{[]byte("a")},
		failAfter: 1, // fails on the second NextChunk call (idx==1, after yielding "a")
	}

	req := h3conn.Header{Pseudo: h3conn.PseudoHeaders{Method: "GET"}}
	drv := NewSendDriver(local, 1, conn, req, body, true)

	go drainRemote(remote)

	err := drv.Run(context.Background())
	if err == nil {
		t.Fatal("expected body failure error, got nil")
	}
	if !errors.Is(err, ErrBodyFailed) {
		t.Fatalf("error = %v, want wrapping ErrBodyFailed", err)
	}
	if code, ok := local.WriteResetCode(); !ok || code != uint64(h3wire.ErrCodeRequestCancelled) {
		t.Fatalf("WriteResetCode = %d,%v, want %d,true", code, ok, h3wire.ErrCodeRequestCancelled)
	}
}

// TestSendDriverPeerStopIsNotAnError exercises spec §7's "peer stop is not
// an error" rule: a STOP_SENDING arriving mid-write must not surface as a
// generic failure from Run, unlike a real body-producer error, and the
// peer's code must still be recoverable via PollStopped.
func TestSendDriverPeerStopIsNotAnError(t *testing.T) {
	local, remote := h3stream.NewFakeStreamPair(1)
	defer remote.Close()
	conn := h3conn.NewConnectionRef(nil)

	// A DATA chunk large enough that the pipe-backed Write blocks with
	// nobody draining remote, so the peer stop interrupts an in-flight
	// WriteFrame rather than racing it.
	big := make([]byte, 1<<20)
	body := &chunkProducer{chunks: [][]byte{big}, failAfter: -1}

	req := h3conn.Header{Pseudo: h3conn.PseudoHeaders{Method: "GET"}}
	drv := NewSendDriver(local, 1, conn, req, body, true)

	done := make(chan error, 1)
	go func() { done <- drv.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && drv.State() != StateWritingDataFrame {
		time.Sleep(time.Millisecond)
	}

	local.PeerStopSending(uint64(h3wire.ErrCodeRequestCancelled))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after peer stop = %v, want nil (not an error)", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after peer stop")
	}

	code, ok, err := drv.PollStopped(context.Background())
	if err != nil || !ok || code != h3wire.ErrCodeRequestCancelled {
		t.Fatalf("PollStopped = code=%v ok=%v err=%v, want REQUEST_CANCELLED,true,nil", code, ok, err)
	}
}

func TestSendDriverRunTwicePanics(t *testing.T) {
	local, remote := h3stream.NewFakeStreamPair(1)
	conn := h3conn.NewConnectionRef(nil)
	body := &chunkProducer{failAfter: -1}
	req := h3conn.Header{Pseudo: h3conn.PseudoHeaders{Method: "GET"}}
	drv := NewSendDriver(local, 1, conn, req, body, true)

	go drainRemote(remote)

	if err := drv.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected second Run call to panic")
		}
	}()
	_ = drv.Run(context.Background())
}
