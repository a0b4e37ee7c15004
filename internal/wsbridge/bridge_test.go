package wsbridge

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sadewadee/h3core/internal/h3conn"
	"github.com/sadewadee/h3core/internal/h3request"
	"github.com/sadewadee/h3core/internal/h3response"
	"github.com/sadewadee/h3core/internal/h3stream"
)

func TestIsWebSocketUpgrade(t *testing.T) {
	ok := h3conn.Header{Pseudo: h3conn.PseudoHeaders{Method: "CONNECT", Protocol: "websocket"}}
	if !IsWebSocketUpgrade(ok) {
		t.Fatal("expected CONNECT+websocket to be recognized as an upgrade")
	}
	notConnect := h3conn.Header{Pseudo: h3conn.PseudoHeaders{Method: "GET", Protocol: "websocket"}}
	if IsWebSocketUpgrade(notConnect) {
		t.Fatal("GET must not be recognized as an upgrade")
	}
	notWS := h3conn.Header{Pseudo: h3conn.PseudoHeaders{Method: "CONNECT", Protocol: "h2"}}
	if IsWebSocketUpgrade(notWS) {
		t.Fatal("non-websocket protocol must not be recognized as an upgrade")
	}
}

func TestUpgradeResponseStatus(t *testing.T) {
	resp := UpgradeResponse()
	if resp.Pseudo.Status != "200" {
		t.Fatalf("status = %q, want 200", resp.Pseudo.Status)
	}
}

// TestDuplexStreamReadsBodyFromRecvDriver drives a real HEADERS+DATA
// sequence through a SendDriver/RecvDriver pair over a FakeStream pair,
// then checks DuplexStream.Read surfaces the body bytes the RecvDriver's
// BodyReader decoded — the duplex bridge's read half is exactly a
// RecvDriver's ordinary body path.
func TestDuplexStreamReadsBodyFromRecvDriver(t *testing.T) {
	client, server := h3stream.NewFakeStreamPair(1)
	conn := h3conn.NewConnectionRef(nil)

	producer := &staticProducer{chunks: [][]byte{[]byte("hello "), []byte("world")}}
	sd := h3request.NewSendDriver(client, 1, conn, h3conn.Header{Pseudo: h3conn.PseudoHeaders{Method: "CONNECT", Protocol: "websocket"}}, producer, false)

	sendErrCh := make(chan error, 1)
	go func() { sendErrCh <- sd.Run(context.Background()) }()

	rd := h3response.NewRecvDriver(server, 1, conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, bodyReader, err := rd.Run(ctx)
	if err != nil {
		t.Fatalf("RecvDriver.Run: %v", err)
	}

	ds, _ := NewDuplexStream(context.Background(), bodyReader)

	buf := make([]byte, 64)
	got := ""
	for len(got) < len("hello world") {
		n, err := ds.Read(buf)
		got += string(buf[:n])
		if err != nil && err != io.EOF {
			t.Fatalf("DuplexStream.Read: %v", err)
		}
		if err == io.EOF {
			break
		}
	}
	if got != "hello world" {
		t.Fatalf("body = %q, want %q", got, "hello world")
	}

	if err := <-sendErrCh; err != nil {
		t.Fatalf("SendDriver.Run: %v", err)
	}
	ds.Close()
}

// TestDuplexStreamWritePlumbsToSendDriver exercises the write half: bytes
// given to DuplexStream.Write arrive at a SendDriver as body chunks, which
// it frames and writes onto the stream for the peer's RecvDriver to read.
func TestDuplexStreamWritePlumbsToSendDriver(t *testing.T) {
	client, server := h3stream.NewFakeStreamPair(1)
	conn := h3conn.NewConnectionRef(nil)

	ds, producer := NewDuplexStream(context.Background(), nil)
	sd := h3request.NewSendDriver(client, 1, conn, h3conn.Header{Pseudo: h3conn.PseudoHeaders{Status: "200"}}, producer, false)

	sendErrCh := make(chan error, 1)
	go func() { sendErrCh <- sd.Run(context.Background()) }()

	if _, err := ds.Write([]byte("ping")); err != nil {
		t.Fatalf("DuplexStream.Write: %v", err)
	}
	if err := ds.Close(); err != nil {
		t.Fatalf("DuplexStream.Close: %v", err)
	}

	rd := h3response.NewRecvDriver(server, 1, conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, bodyReader, err := rd.Run(ctx)
	if err != nil {
		t.Fatalf("RecvDriver.Run: %v", err)
	}
	chunk, ok, err := bodyReader.NextChunk(ctx)
	if err != nil || !ok {
		t.Fatalf("NextChunk: chunk=%q ok=%v err=%v", chunk, ok, err)
	}
	if string(chunk) != "ping" {
		t.Fatalf("chunk = %q, want %q", chunk, "ping")
	}

	if err := <-sendErrCh; err != nil {
		t.Fatalf("SendDriver.Run: %v", err)
	}
}

type staticProducer struct {
	chunks [][]byte
	i      int
}

func (p *staticProducer) NextChunk(ctx context.Context) ([]byte, bool, error) {
	if p.i >= len(p.chunks) {
		return nil, false, nil
	}
	c := p.chunks[p.i]
	p.i++
	return c, true, nil
}

func (p *staticProducer) Trailers(ctx context.Context) (h3conn.Header, bool, error) {
	return h3request.NoTrailers(ctx)
}
